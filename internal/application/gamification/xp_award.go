package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP AWARD ENGINE
// Records an XP-earning action in the ledger and credits the derived coins.
// The engine never computes the level itself: XP and level totals are folded
// in by the store and come back through the reconciler.
// ══════════════════════════════════════════════════════════════════════════════

// Receipt describes what an award actually did.
type Receipt struct {
	EntryID     string
	ActionType  progress.ActionType
	XPAmount    int
	CoinsEarned int

	// CoinsCredited is false when coins were earned but the credit failed.
	CoinsCredited bool
}

// Message renders feedback such as "+20 XP & +2 Coins". Coins are only
// mentioned when they were actually credited.
func (r Receipt) Message() string {
	if r.CoinsCredited && r.CoinsEarned > 0 {
		return fmt.Sprintf("+%d XP & +%d Coins", r.XPAmount, r.CoinsEarned)
	}
	return fmt.Sprintf("+%d XP", r.XPAmount)
}

// XPAwardEngine awards XP for one user.
type XPAwardEngine struct {
	userID   string
	profiles progress.Repository
	wallet   *Wallet
	rec      *Reconciler
	divisor  int
	clock    func() time.Time
	events   shared.EventPublisher
	log      *logger.Logger
}

// NewXPAwardEngine creates an award engine.
func NewXPAwardEngine(userID string, profiles progress.Repository, wallet *Wallet, rec *Reconciler, divisor int, clock func() time.Time, events shared.EventPublisher, log *logger.Logger) *XPAwardEngine {
	return &XPAwardEngine{
		userID:   userID,
		profiles: profiles,
		wallet:   wallet,
		rec:      rec,
		divisor:  divisor,
		clock:    clock,
		events:   events,
		log:      log.With(logger.Component("xp_award"), logger.UserID(userID)),
	}
}

// Award appends one ledger entry and credits xp/divisor coins.
//
// A failed append aborts everything. A failed credit after a successful
// append returns ErrPartialFailure together with a receipt whose
// CoinsCredited is false.
func (e *XPAwardEngine) Award(ctx context.Context, action progress.ActionType, xp int, metadata map[string]any) (Receipt, error) {
	entry, err := progress.NewLedgerEntry(uuid.NewString(), e.userID, action, xp, metadata, e.clock().UTC())
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		ActionType:  action,
		XPAmount:    xp,
		CoinsEarned: progress.CoinsFor(xp, e.divisor),
	}

	intent := e.rec.ApplyIntent(xp, 0)

	id, err := e.profiles.AppendLedgerEntry(ctx, entry)
	if err != nil {
		e.rec.Revert(intent)
		e.log.Warn("ledger append failed, award aborted",
			logger.ActionType(string(action)),
			logger.XPAmount(xp),
			logger.Err(err),
		)
		return Receipt{}, shared.StoreError("xp", "Award", err)
	}
	receipt.EntryID = id

	publish(e.events, e.log, shared.NewXPAwardedEvent(e.userID, id, string(action), xp))

	if receipt.CoinsEarned > 0 {
		if _, err := e.wallet.Credit(ctx, receipt.CoinsEarned); err != nil {
			e.log.Error("xp recorded but coin credit failed",
				logger.String("entry_id", id),
				logger.XPAmount(xp),
				logger.Coins(receipt.CoinsEarned),
				logger.Err(err),
			)
			return receipt, shared.WrapError("xp", "Award", shared.ErrPartialFailure, "xp recorded but coin credit failed", err)
		}
		receipt.CoinsCredited = true
	}

	e.log.Info("xp awarded",
		logger.ActionType(string(action)),
		logger.XPAmount(xp),
		logger.Coins(receipt.CoinsEarned),
	)
	return receipt, nil
}
