package root

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CONFIG_FILE", "")

	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestAwardPrintsReceiptAndStreak(t *testing.T) {
	out, err := run(t, "--store", "memory", "-u", "teacher-42", "award", "homework_post", "20", "--meta", "class=7B")

	require.NoError(t, err)
	assert.Contains(t, out, "+20 XP & +2 Coins")
	assert.Contains(t, out, "streak: started, 1 day(s), longest 1")
	assert.Contains(t, out, "level 1, 20 XP, 2 coins")
}

func TestAwardRejectsBadInput(t *testing.T) {
	_, err := run(t, "--store", "memory", "-u", "teacher-42", "award", "homework_post", "lots")
	assert.ErrorContains(t, err, "xp must be a number")

	_, err = run(t, "--store", "memory", "-u", "teacher-42", "award", "homework_post", "20", "--meta", "novalue")
	assert.ErrorContains(t, err, "not key=value")

	_, err = run(t, "--store", "memory", "-u", "teacher-42", "award", "gossip", "20")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestUserIsRequired(t *testing.T) {
	_, err := run(t, "--store", "memory", "profile")
	assert.ErrorContains(t, err, "--user is required")
}

func TestUnknownStore(t *testing.T) {
	_, err := run(t, "--store", "sqlite", "-u", "teacher-42", "profile")
	assert.ErrorContains(t, err, "unknown store")
}

func TestCatalogFromSeed(t *testing.T) {
	out, err := run(t, "--store", "memory", "--seed", "testdata/catalog.yaml", "-u", "teacher-42", "catalog")

	require.NoError(t, err)
	assert.Contains(t, out, "welcome-badge")
	assert.Contains(t, out, "gold-frame")
	assert.Contains(t, out, "locked")
	assert.NotContains(t, out, "night-theme")
}

func TestPurchase(t *testing.T) {
	out, err := run(t, "--store", "memory", "--seed", "testdata/catalog.yaml", "-u", "teacher-42", "purchase", "welcome-badge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purchased Welcome badge!")
	assert.Contains(t, out, "balance: 0 coins")

	_, err = run(t, "--store", "memory", "--seed", "testdata/catalog.yaml", "-u", "teacher-42", "purchase", "gold-frame")
	assert.ErrorIs(t, err, shared.ErrItemLocked)

	_, err = run(t, "--store", "memory", "--seed", "testdata/catalog.yaml", "-u", "teacher-42", "purchase", "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestEquipNotOwned(t *testing.T) {
	_, err := run(t, "--store", "memory", "--seed", "testdata/catalog.yaml", "-u", "teacher-42", "equip", "welcome-badge")

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotOwned)
	assert.Contains(t, err.Error(), "You don't own this item yet.")
}

func TestProfileAndHistoryOnEmptyUser(t *testing.T) {
	out, err := run(t, "--store", "memory", "-u", "teacher-42", "profile")
	require.NoError(t, err)
	assert.Contains(t, out, "level:    1 (0 XP)")
	assert.Contains(t, out, "equipped -")

	out, err = run(t, "--store", "memory", "-u", "teacher-42", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "no XP awarded yet")
}

func TestActivityStartsStreak(t *testing.T) {
	out, err := run(t, "--store", "memory", "-u", "teacher-42", "activity")

	require.NoError(t, err)
	assert.Contains(t, out, "Streak started!")
}

func TestPostgresOnlyCommands(t *testing.T) {
	_, err := run(t, "--store", "memory", "migrate")
	assert.ErrorIs(t, err, errNeedsPostgres)

	_, err = run(t, "--store", "memory", "catalog", "import", "testdata/catalog.yaml")
	assert.ErrorIs(t, err, errNeedsPostgres)
}

func TestLoadCatalogFile(t *testing.T) {
	items, err := loadCatalogFile("testdata/catalog.yaml")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.True(t, items[0].Active)
	assert.Equal(t, 150, items[1].Cost)
	assert.Equal(t, "frame/gold", items[1].CosmeticStyle)
	assert.False(t, items[2].Active)

	_, err = loadCatalogFile("testdata/missing.yaml")
	assert.Error(t, err)
}
