package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

func TestCoinsFor(t *testing.T) {
	assert.Equal(t, 2, CoinsFor(20, 10))
	assert.Equal(t, 0, CoinsFor(5, 10))
	assert.Equal(t, 1, CoinsFor(19, 10))
	assert.Equal(t, 0, CoinsFor(50, 0))
}

func TestNewLedgerEntryValidates(t *testing.T) {
	at := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	_, err := NewLedgerEntry("e1", "u1", ActionType("dancing"), 10, nil, at)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = NewLedgerEntry("e1", "u1", ActionMarksEntry, 0, nil, at)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	meta := map[string]any{"class": "7B"}
	entry, err := NewLedgerEntry("e1", "u1", ActionMarksEntry, 15, meta, at)
	require.NoError(t, err)
	meta["class"] = "changed"
	assert.Equal(t, "7B", entry.Metadata["class"])
}

func TestProfileUpdateApplyTo(t *testing.T) {
	p := &Profile{UserID: "u1", CurrentXP: 100, CurrentLevel: 2, Coins: 10, Version: 3}

	ProfileUpdate{Coins: IntPtr(25), Version: 4}.ApplyTo(p)
	assert.Equal(t, 25, p.Coins)
	assert.Equal(t, 100, p.CurrentXP)
	assert.Equal(t, int64(4), p.Version)

	assert.True(t, ProfileUpdate{UserID: "u1"}.IsEmpty())
	assert.False(t, FullUpdate(p).IsEmpty())
}

func TestProfileValidate(t *testing.T) {
	assert.NoError(t, NewProfile("u1").Validate())
	assert.ErrorIs(t, (&Profile{UserID: "u1", CurrentLevel: 1, Coins: -1}).Validate(), shared.ErrInvariantViolation)
	assert.ErrorIs(t, (&Profile{CurrentLevel: 1}).Validate(), shared.ErrInvalidInput)
}

func TestStepCurve(t *testing.T) {
	rule := DefaultLevelRule()
	assert.Equal(t, 1, rule.LevelFor(0))
	assert.Equal(t, 1, rule.LevelFor(99))
	assert.Equal(t, 2, rule.LevelFor(100))
	assert.Equal(t, 4, rule.LevelFor(350))

	assert.Equal(t, 300, StepCurve{Base: 100}.XPForLevel(4))

	custom := LevelFunc(func(xp int) int { return 7 })
	assert.Equal(t, 7, custom.LevelFor(1))
}
