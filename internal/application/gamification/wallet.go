package gamification

import (
	"context"
	"sync"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COIN WALLET
// The balance never goes negative. Every change is an optimistic intent on the
// cached profile followed by the authoritative write; a failed write reverts
// the intent and the returned profile is applied as truth.
// ══════════════════════════════════════════════════════════════════════════════

// Wallet maintains the spendable coin balance of one user.
type Wallet struct {
	userID   string
	profiles progress.Repository
	inc      progress.BalanceIncrementer
	rec      *Reconciler
	events   shared.EventPublisher
	log      *logger.Logger

	// rmwMu serializes the read-modify-write fallback within this session.
	// Writers outside the session can still race with it.
	rmwMu sync.Mutex
}

// NewWallet creates a wallet. inc may be nil, in which case the wallet falls
// back to read-modify-write.
func NewWallet(userID string, profiles progress.Repository, inc progress.BalanceIncrementer, rec *Reconciler, events shared.EventPublisher, log *logger.Logger) *Wallet {
	w := &Wallet{
		userID:   userID,
		profiles: profiles,
		inc:      inc,
		rec:      rec,
		events:   events,
		log:      log.With(logger.Component("wallet"), logger.UserID(userID)),
	}
	if inc == nil {
		w.log.Warn("store has no atomic increment, using read-modify-write for coin updates; concurrent writers outside this session may lose updates")
	}
	return w
}

// Atomic reports whether balance updates use the store's atomic increment.
func (w *Wallet) Atomic() bool {
	return w.inc != nil
}

// Balance returns the cached balance, including pending intents.
func (w *Wallet) Balance() int {
	return w.rec.Profile().Coins
}

// Credit adds amount coins. Zero is a no-op.
func (w *Wallet) Credit(ctx context.Context, amount int) (*progress.Profile, error) {
	if amount < 0 {
		return nil, shared.NewDomainError("wallet", "Credit", shared.ErrInvalidInput, "amount must not be negative")
	}
	if amount == 0 {
		return nil, nil
	}

	p, err := w.adjust(ctx, "Credit", amount)
	if err != nil {
		return nil, err
	}

	w.log.Debug("coins credited", logger.Coins(amount), logger.Int("balance", p.Coins))
	publish(w.events, w.log, shared.NewCoinsCreditedEvent(w.userID, amount, p.Coins))
	return p, nil
}

// Debit removes amount coins, failing with ErrInsufficientFunds without any
// mutation when the cached balance is too low. Zero is a no-op.
func (w *Wallet) Debit(ctx context.Context, amount int) (*progress.Profile, error) {
	if amount < 0 {
		return nil, shared.NewDomainError("wallet", "Debit", shared.ErrInvalidInput, "amount must not be negative")
	}
	if amount == 0 {
		return nil, nil
	}
	if amount > w.Balance() {
		return nil, shared.NewDomainError("wallet", "Debit", shared.ErrInsufficientFunds, "not enough coins")
	}

	p, err := w.adjust(ctx, "Debit", -amount)
	if err != nil {
		return nil, err
	}

	w.log.Debug("coins debited", logger.Coins(amount), logger.Int("balance", p.Coins))
	return p, nil
}

func (w *Wallet) adjust(ctx context.Context, op string, delta int) (*progress.Profile, error) {
	intent := w.rec.ApplyIntent(0, delta)

	var (
		p   *progress.Profile
		err error
	)
	if w.inc != nil {
		p, err = w.inc.IncrementBalance(ctx, w.userID, 0, delta)
	} else {
		p, err = w.readModifyWrite(ctx, op, delta)
	}

	if err != nil {
		w.rec.Revert(intent)
		w.log.Warn("balance update failed, intent reverted",
			logger.Operation(op),
			logger.Coins(delta),
			logger.Err(err),
		)
		return nil, shared.StoreError("wallet", op, err)
	}

	w.rec.ApplyProfile(p)
	return p, nil
}

// readModifyWrite is the weaker path for stores without atomic increments.
func (w *Wallet) readModifyWrite(ctx context.Context, op string, delta int) (*progress.Profile, error) {
	w.rmwMu.Lock()
	defer w.rmwMu.Unlock()

	current, err := w.profiles.GetProfile(ctx, w.userID)
	if err != nil {
		return nil, err
	}

	next := current.Coins + delta
	if next < 0 {
		return nil, shared.NewDomainError("wallet", op, shared.ErrInsufficientFunds, "not enough coins")
	}

	return w.profiles.UpdateProfile(ctx, progress.ProfileUpdate{
		UserID: w.userID,
		Coins:  progress.IntPtr(next),
	})
}
