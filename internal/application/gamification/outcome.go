package gamification

import (
	"errors"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOMES
// Every session call returns an outcome instead of an error so that nothing
// reaching the UI can crash it. Err keeps the cause for logging and tests.
// ══════════════════════════════════════════════════════════════════════════════

// Status classifies an outcome.
type Status string

const (
	// StatusOK - the operation completed.
	StatusOK Status = "ok"
	// StatusRejected - an expected, user-facing "no" (insufficient funds, not owned, locked).
	StatusRejected Status = "rejected"
	// StatusPartial - part of the operation is real, part is not (XP recorded, coins missing).
	StatusPartial Status = "partial"
	// StatusUnavailable - the store could not be reached; local state is unchanged.
	StatusUnavailable Status = "unavailable"
	// StatusFailed - anything else, including recovered panics.
	StatusFailed Status = "failed"
)

// ErrSessionClosed is returned by calls made after Close.
var ErrSessionClosed = errors.New("gamification: session closed")

// Outcome is the caller-visible result of a session call.
type Outcome struct {
	Status Status
	Notice string
	Err    error
}

// OK reports whether the operation completed.
func (o Outcome) OK() bool {
	return o.Status == StatusOK
}

// AwardOutcome is returned by AwardXP.
type AwardOutcome struct {
	Outcome
	Receipt Receipt

	// Streak is set when the award also advanced the daily streak.
	Streak *StreakResult
}

// PurchaseOutcome is returned by PurchaseItem.
type PurchaseOutcome struct {
	Outcome
	Item    *shop.Item
	Entry   *shop.InventoryEntry
	Balance int
}

// EquipOutcome is returned by EquipItem and UnequipItem.
type EquipOutcome struct {
	Outcome
	EquippedItemID string
}

// StreakOutcome is returned by RecordActivity.
type StreakOutcome struct {
	Outcome
	Result StreakResult
}

// CatalogItem is a catalog entry annotated for the current user.
type CatalogItem struct {
	Item     *shop.Item
	Owned    bool
	Equipped bool
	Locked   bool
}

func okOutcome(notice string) Outcome {
	return Outcome{Status: StatusOK, Notice: notice}
}

// outcomeFor maps an error onto a status and a user-facing notice.
func outcomeFor(err error, okNotice string) Outcome {
	if err == nil {
		return okOutcome(okNotice)
	}

	o := Outcome{Err: err}
	switch {
	case errors.Is(err, ErrSessionClosed):
		o.Status, o.Notice = StatusFailed, "Your session has ended. Please sign in again."
	case errors.Is(err, shared.ErrPartialFailure):
		o.Status, o.Notice = StatusPartial, "Only part of this went through. It will sync shortly."
	case errors.Is(err, shared.ErrInsufficientFunds):
		o.Status, o.Notice = StatusRejected, "Not enough coins."
	case errors.Is(err, shared.ErrNotOwned):
		o.Status, o.Notice = StatusRejected, "You don't own this item yet."
	case errors.Is(err, shared.ErrAlreadyOwned):
		o.Status, o.Notice = StatusRejected, "You already own this item."
	case errors.Is(err, shared.ErrItemLocked):
		o.Status, o.Notice = StatusRejected, "This item unlocks at a higher level."
	case errors.Is(err, shared.ErrNotFound):
		o.Status, o.Notice = StatusRejected, "Item not found."
	case errors.Is(err, shared.ErrInvalidInput):
		o.Status, o.Notice = StatusRejected, "That request is not valid."
	case errors.Is(err, shared.ErrStoreUnavailable):
		o.Status, o.Notice = StatusUnavailable, "Can't reach the server right now. Please try again."
	default:
		o.Status, o.Notice = StatusFailed, "Something went wrong."
	}
	return o
}

func streakNotice(r StreakResult) string {
	switch r.Transition {
	case streak.TransitionContinued:
		return "Streak extended!"
	case streak.TransitionStarted:
		return "Streak started!"
	case streak.TransitionReset:
		return "New streak started."
	default:
		return "Activity already counted today."
	}
}
