package gamification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
	"github.com/alem-hub/school-gamification/pkg/logger"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// The single entry point of the UI layer. One Session per signed-in user,
// created at login and closed at logout; there is no package-level state.
// ══════════════════════════════════════════════════════════════════════════════

// Session composes the engine for one user.
type Session struct {
	userID string
	opts   Options
	log    *logger.Logger

	profiles  progress.Repository
	catalog   shop.Catalog
	rec       *Reconciler
	wallet    *Wallet
	xp        *XPAwardEngine
	streaks   *StreakTracker
	inventory *InventoryManager

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewSession wires a session for userID.
func NewSession(userID string, b Backends, opts Options) (*Session, error) {
	if userID == "" {
		return nil, shared.NewDomainError("session", "New", shared.ErrInvalidInput, "user id is required")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	log := opts.Logger.With(logger.UserID(userID))

	rec := NewReconciler(userID, b.Feed, opts.LevelRule, opts.Events, log)
	wallet := NewWallet(userID, b.Profiles, b.incrementer(), rec, opts.Events, log)

	return &Session{
		userID:    userID,
		opts:      opts,
		log:       log.With(logger.Component("session")),
		profiles:  b.Profiles,
		catalog:   b.Catalog,
		rec:       rec,
		wallet:    wallet,
		xp:        NewXPAwardEngine(userID, b.Profiles, wallet, rec, opts.CoinDivisor, opts.Clock, opts.Events, log),
		streaks:   NewStreakTracker(userID, b.Streaks, opts.ReadRetry, opts.Events, log),
		inventory: NewInventoryManager(userID, b.Inventory, b.equipper(), wallet, opts.ReadRetry, opts.Clock, opts.Events, log),
	}, nil
}

// UserID returns the owner of the session.
func (s *Session) UserID() string {
	return s.userID
}

// Start loads the profile, streak and inventory and subscribes to pushes.
// A failed subscription is reported but leaves the loaded state usable.
func (s *Session) Start(ctx context.Context) (out Outcome) {
	defer s.recoverInto("Start", &out)

	if out = s.Refresh(ctx); !out.OK() {
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.rec.Start(ctx); err != nil {
		s.log.Warn("change feed subscription failed, cache may go stale", logger.Err(err))
		return outcomeFor(err, "")
	}

	s.log.Info("session started")
	return okOutcome("")
}

// Close unsubscribes from the change feed. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rec.Stop()
		s.log.Info("session closed")
	})
	return s.closeErr
}

// Refresh reloads profile, streak and inventory in parallel.
func (s *Session) Refresh(ctx context.Context) (out Outcome) {
	defer s.recoverInto("Refresh", &out)
	if err := s.ensureOpen(); err != nil {
		return outcomeFor(err, "")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := read(gctx, s.opts.ReadRetry, "session", "Refresh", func(ctx context.Context) (*progress.Profile, error) {
			return s.profiles.GetProfile(ctx, s.userID)
		})
		if err != nil {
			return err
		}
		s.rec.ApplyProfile(p)
		return nil
	})
	g.Go(func() error {
		_, err := s.streaks.Load(gctx)
		return err
	})
	g.Go(func() error {
		_, err := s.inventory.Load(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		s.log.Warn("refresh failed", logger.Err(err))
		return outcomeFor(err, "")
	}
	return okOutcome("")
}

// AwardXP records an XP-earning action and counts today's activity for the streak.
func (s *Session) AwardXP(ctx context.Context, action progress.ActionType, xp int, metadata map[string]any) (out AwardOutcome) {
	defer s.recoverInto("AwardXP", &out.Outcome)
	if err := s.ensureOpen(); err != nil {
		out.Outcome = outcomeFor(err, "")
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	receipt, err := s.xp.Award(ctx, action, xp, metadata)
	out.Receipt = receipt
	out.Outcome = outcomeFor(err, receipt.Message())
	if out.Status == StatusPartial {
		out.Notice = fmt.Sprintf("%s earned. Coins could not be added yet and will sync shortly.", receipt.Message())
	}
	if err != nil && out.Status != StatusPartial {
		return out
	}

	// The award is real from here on; a streak failure does not change its outcome.
	if res, serr := s.streaks.Evaluate(ctx, s.today()); serr != nil {
		s.log.Warn("streak update after award failed", logger.Err(serr))
	} else if res.Transition.Mutated() {
		out.Streak = &res
	}
	return out
}

// RecordActivity counts today's activity for the streak without awarding XP.
func (s *Session) RecordActivity(ctx context.Context) (out StreakOutcome) {
	defer s.recoverInto("RecordActivity", &out.Outcome)
	if err := s.ensureOpen(); err != nil {
		out.Outcome = outcomeFor(err, "")
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.streaks.Evaluate(ctx, s.today())
	out.Result = res
	out.Outcome = outcomeFor(err, streakNotice(res))
	return out
}

// PurchaseItem buys a catalog item. Locked and inactive items are rejected
// before any mutation.
func (s *Session) PurchaseItem(ctx context.Context, itemID string) (out PurchaseOutcome) {
	defer s.recoverInto("PurchaseItem", &out.Outcome)
	if err := s.ensureOpen(); err != nil {
		out.Outcome = outcomeFor(err, "")
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	item, err := s.findItem(ctx, itemID)
	if err != nil {
		out.Outcome = outcomeFor(err, "")
		out.Balance = s.wallet.Balance()
		return out
	}
	out.Item = item

	if level := s.rec.Profile().CurrentLevel; item.IsLockedFor(level) {
		err := shared.NewDomainError("inventory", "Purchase", shared.ErrItemLocked,
			fmt.Sprintf("requires level %d, current level %d", item.MinLevel, level))
		out.Outcome = outcomeFor(err, "")
		out.Balance = s.wallet.Balance()
		return out
	}

	entry, err := s.inventory.Purchase(ctx, item)
	out.Entry = entry
	out.Balance = s.wallet.Balance()
	out.Outcome = outcomeFor(err, fmt.Sprintf("Purchased %s!", item.Name))
	return out
}

// EquipItem makes an owned item the only equipped one.
func (s *Session) EquipItem(ctx context.Context, itemID string) (out EquipOutcome) {
	defer s.recoverInto("EquipItem", &out.Outcome)
	if err := s.ensureOpen(); err != nil {
		out.Outcome = outcomeFor(err, "")
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.inventory.Equip(ctx, itemID)
	out.EquippedItemID = s.inventory.Snapshot().EquippedItemID()
	out.Outcome = outcomeFor(err, "Item equipped.")
	return out
}

// UnequipItem takes an owned item off.
func (s *Session) UnequipItem(ctx context.Context, itemID string) (out EquipOutcome) {
	defer s.recoverInto("UnequipItem", &out.Outcome)
	if err := s.ensureOpen(); err != nil {
		out.Outcome = outcomeFor(err, "")
		return out
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.inventory.Unequip(ctx, itemID)
	out.EquippedItemID = s.inventory.Snapshot().EquippedItemID()
	out.Outcome = outcomeFor(err, "Item unequipped.")
	return out
}

// Catalog lists active items annotated with ownership and lock state.
func (s *Session) Catalog(ctx context.Context) (items []CatalogItem, out Outcome) {
	defer s.recoverInto("Catalog", &out)
	if err := s.ensureOpen(); err != nil {
		return nil, outcomeFor(err, "")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	list, err := s.listItems(ctx)
	if err != nil {
		return nil, outcomeFor(err, "")
	}

	inv := s.inventory.Snapshot()
	level := s.rec.Profile().CurrentLevel
	items = make([]CatalogItem, 0, len(list))
	for _, it := range list {
		owned := inv.Find(it.ID)
		items = append(items, CatalogItem{
			Item:     it,
			Owned:    owned != nil,
			Equipped: owned != nil && owned.IsEquipped,
			Locked:   it.IsLockedFor(level),
		})
	}
	return items, okOutcome("")
}

// LedgerHistory returns the most recent XP awards, newest first.
func (s *Session) LedgerHistory(ctx context.Context, limit int) (entries []*progress.LedgerEntry, out Outcome) {
	defer s.recoverInto("LedgerHistory", &out)
	if err := s.ensureOpen(); err != nil {
		return nil, outcomeFor(err, "")
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	entries, err := read(ctx, s.opts.ReadRetry, "session", "LedgerHistory", func(ctx context.Context) ([]*progress.LedgerEntry, error) {
		return s.profiles.ListLedgerEntries(ctx, s.userID, limit)
	})
	return entries, outcomeFor(err, "")
}

// Profile returns the cached profile.
func (s *Session) Profile() progress.Profile {
	return s.rec.Profile()
}

// Streak returns the cached streak.
func (s *Session) Streak() streak.Streak {
	return s.streaks.Current()
}

// Inventory returns the cached inventory.
func (s *Session) Inventory() shop.Inventory {
	return s.inventory.Snapshot()
}

// Balance returns the cached coin balance.
func (s *Session) Balance() int {
	return s.wallet.Balance()
}

// AtomicBalance reports whether coin updates are atomic in the store.
func (s *Session) AtomicBalance() bool {
	return s.wallet.Atomic()
}

// ──────────────────────────────────────────────────────────────────────────────
// internals
// ──────────────────────────────────────────────────────────────────────────────

func (s *Session) today() timeutil.Date {
	return timeutil.Today(s.opts.Location, s.opts.Clock())
}

func (s *Session) ensureOpen() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Session) listItems(ctx context.Context) ([]*shop.Item, error) {
	return read(ctx, s.opts.ReadRetry, "catalog", "List", func(ctx context.Context) ([]*shop.Item, error) {
		return s.catalog.ListShopItems(ctx, true)
	})
}

func (s *Session) findItem(ctx context.Context, itemID string) (*shop.Item, error) {
	items, err := s.listItems(ctx)
	if err != nil {
		return nil, err
	}
	item := shop.FindItem(items, itemID)
	if item == nil {
		return nil, shared.NewDomainError("catalog", "Find", shared.ErrNotFound, "item "+itemID+" not in catalog")
	}
	return item, nil
}

// recoverInto turns a panic inside op into a failed outcome.
func (s *Session) recoverInto(op string, out *Outcome) {
	if r := recover(); r != nil {
		s.log.Error("recovered panic", logger.Operation(op), logger.Any("panic", r))
		*out = Outcome{
			Status: StatusFailed,
			Notice: "Something went wrong.",
			Err:    fmt.Errorf("gamification: panic in %s: %v", op, r),
		}
	}
}
