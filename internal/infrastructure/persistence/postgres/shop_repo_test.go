package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

type execCall struct {
	sql  string
	args []any
}

// scriptedTx answers Exec calls with tags in order and records them.
type scriptedTx struct {
	tags  []string
	err   error
	calls []execCall
}

func (s *scriptedTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, execCall{sql: sql, args: args})
	if s.err != nil {
		return pgconn.CommandTag{}, s.err
	}
	tag := s.tags[0]
	s.tags = s.tags[1:]
	return pgconn.NewCommandTag(tag), nil
}

func TestEquipExclusiveLocksInventoryBeforeWriting(t *testing.T) {
	tx := &scriptedTx{tags: []string{"SELECT 3", "UPDATE 1", "UPDATE 1"}}
	at := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

	require.NoError(t, equipExclusive(context.Background(), tx, "u1", "gold-frame", at))

	require.Len(t, tx.calls, 3)
	assert.Equal(t, lockInventorySQL, tx.calls[0].sql)
	assert.Contains(t, tx.calls[0].sql, "FOR UPDATE")
	assert.Equal(t, []any{"u1"}, tx.calls[0].args)
	assert.Equal(t, equipItemSQL, tx.calls[1].sql)
	assert.Equal(t, []any{"u1", "gold-frame", at}, tx.calls[1].args)
	assert.Equal(t, unequipOthersSQL, tx.calls[2].sql)
}

func TestEquipExclusiveNotOwned(t *testing.T) {
	tx := &scriptedTx{tags: []string{"SELECT 1", "UPDATE 0"}}

	err := equipExclusive(context.Background(), tx, "u1", "crown", time.Now())

	assert.ErrorIs(t, err, shared.ErrNotOwned)
	assert.Len(t, tx.calls, 2)
}

func TestEquipExclusiveStopsOnLockFailure(t *testing.T) {
	boom := errors.New("deadlock detected")
	tx := &scriptedTx{err: boom}

	err := equipExclusive(context.Background(), tx, "u1", "crown", time.Now())

	assert.ErrorIs(t, err, boom)
	assert.Len(t, tx.calls, 1)
}
