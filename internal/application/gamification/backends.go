// Package gamification is the per-user gamification engine: XP awards, the
// coin wallet, daily streaks, the cosmetic inventory and the reconciler that
// merges authoritative pushes into the local profile. The UI layer talks to a
// Session; everything below it is wired from Backends.
package gamification

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
	"github.com/alem-hub/school-gamification/pkg/logger"
	"github.com/alem-hub/school-gamification/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKENDS
// ══════════════════════════════════════════════════════════════════════════════

// Backends are the remote collaborators of a session.
//
// Optional capabilities are discovered by type assertion: if Profiles also
// implements progress.BalanceIncrementer the wallet uses atomic increments,
// and if Inventory implements shop.ExclusiveEquipper equips are transactional.
type Backends struct {
	Profiles  progress.Repository
	Streaks   streak.Repository
	Catalog   shop.Catalog
	Inventory shop.InventoryRepository

	// Feed is optional. Without it the cache only converges on Refresh.
	Feed progress.ChangeFeed
}

// Validate checks that the mandatory backends are present.
func (b Backends) Validate() error {
	switch {
	case b.Profiles == nil:
		return errors.New("gamification: profiles backend is required")
	case b.Streaks == nil:
		return errors.New("gamification: streaks backend is required")
	case b.Catalog == nil:
		return errors.New("gamification: catalog backend is required")
	case b.Inventory == nil:
		return errors.New("gamification: inventory backend is required")
	}
	return nil
}

func (b Backends) incrementer() progress.BalanceIncrementer {
	if inc, ok := b.Profiles.(progress.BalanceIncrementer); ok {
		return inc
	}
	return nil
}

func (b Backends) equipper() shop.ExclusiveEquipper {
	if eq, ok := b.Inventory.(shop.ExclusiveEquipper); ok {
		return eq
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Options tune a session. Zero values fall back to DefaultOptions.
type Options struct {
	// CoinDivisor converts XP to coins: coins = xp / CoinDivisor.
	CoinDivisor int

	// LevelRule derives a level when a push carries XP but no level.
	LevelRule progress.LevelRule

	// Location decides the calendar day used for streaks.
	Location *time.Location

	// Clock returns the current time.
	Clock func() time.Time

	// Events receives domain signals (level up, streak increased, ...).
	Events shared.EventPublisher

	Logger *logger.Logger

	// ReadRetry retries idempotent reads. Writes are never retried.
	ReadRetry *retry.Retrier

	// OperationTimeout bounds each session call. Zero disables it.
	OperationTimeout time.Duration
}

// DefaultOptions returns the defaults used for unset fields.
func DefaultOptions() Options {
	return Options{
		CoinDivisor: 10,
		LevelRule:   progress.DefaultLevelRule(),
		Location:    time.UTC,
		Clock:       time.Now,
		Events:      shared.NopPublisher{},
		Logger:      logger.Nop(),
		ReadRetry:   retry.New(retry.WithRetryIf(shared.IsRetryable)),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.CoinDivisor <= 0 {
		o.CoinDivisor = def.CoinDivisor
	}
	if o.LevelRule == nil {
		o.LevelRule = def.LevelRule
	}
	if o.Location == nil {
		o.Location = def.Location
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.Events == nil {
		o.Events = def.Events
	}
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	if o.ReadRetry == nil {
		o.ReadRetry = def.ReadRetry
	}
	return o
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// read runs an idempotent store read with retries. Failures come back wrapped
// as ErrStoreUnavailable unless the store already returned a domain error.
func read[T any](ctx context.Context, r *retry.Retrier, domain, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithData(ctx, r, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		return v, shared.StoreError(domain, op, err)
	})
}

func publish(events shared.EventPublisher, log *logger.Logger, ev shared.Event) {
	if err := events.Publish(ev); err != nil {
		log.Warn("failed to publish event",
			logger.String("event_type", string(ev.EventType())),
			logger.Err(err),
		)
	}
}
