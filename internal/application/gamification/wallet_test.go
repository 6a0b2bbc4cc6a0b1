package gamification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

func newPlainWallet(store *memory.Store) (*Wallet, *Reconciler) {
	rec := newTestReconciler(shared.NopPublisher{})
	return NewWallet(user, plainProfiles{store}, nil, rec, shared.NopPublisher{}, logger.Nop()), rec
}

func TestReadModifyWriteErrorNamesOperation(t *testing.T) {
	tests := []struct {
		name   string
		stored int
		cached int
		op     string
		call   func(*Wallet) error
	}{
		{
			name: "debit against stale cache", stored: 0, cached: 50, op: "Debit",
			call: func(w *Wallet) error { _, err := w.Debit(context.Background(), 30); return err },
		},
		{
			name: "credit onto overdrawn store", stored: -10, cached: 0, op: "Credit",
			call: func(w *Wallet) error { _, err := w.Credit(context.Background(), 3); return err },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: tt.stored, Version: 1})
			w, rec := newPlainWallet(store)
			rec.ApplyProfile(&progress.Profile{UserID: user, CurrentLevel: 1, Coins: tt.cached, Version: 1})

			err := tt.call(w)

			require.ErrorIs(t, err, shared.ErrInsufficientFunds)
			var de *shared.DomainError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.op, de.Op)
			assert.Equal(t, tt.cached, w.Balance())
		})
	}
}
