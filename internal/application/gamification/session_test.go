package gamification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/school-gamification/pkg/retry"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

const user = "teacher-42"

var (
	errConnRefused = errors.New("dial tcp: connection refused")
	fixedNow       = time.Date(2025, time.January, 11, 10, 0, 0, 0, time.UTC)
)

// ═══════════════════════════════════════════════════════════════════════════
// helpers
// ═══════════════════════════════════════════════════════════════════════════

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// plainProfiles hides the store's atomic increment.
type plainProfiles struct{ progress.Repository }

// plainInventory hides the store's transactional equip.
type plainInventory struct{ shop.InventoryRepository }

type panickyCatalog struct{}

func (panickyCatalog) ListShopItems(context.Context, bool) ([]*shop.Item, error) {
	panic("catalog exploded")
}

func backendsFor(s *memory.Store) Backends {
	return Backends{Profiles: s, Streaks: s, Catalog: s, Inventory: s, Feed: s}
}

func newSession(t *testing.T, b Backends) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	sess, err := NewSession(user, b, Options{
		Clock:  func() time.Time { return fixedNow },
		Events: rec,
		ReadRetry: retry.New(
			retry.WithMaxAttempts(2),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithRetryIf(shared.IsRetryable),
		),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess, rec
}

func started(t *testing.T, b Backends) (*Session, *recorder) {
	t.Helper()
	sess, rec := newSession(t, b)
	out := sess.Start(context.Background())
	require.True(t, out.OK(), "start: %v", out.Err)
	return sess, rec
}

func item(id string, cost, minLevel int) *shop.Item {
	return &shop.Item{ID: id, Name: id, Cost: cost, MinLevel: minLevel, CosmeticStyle: "style-" + id, Active: true}
}

// ═══════════════════════════════════════════════════════════════════════════
// XP awards
// ═══════════════════════════════════════════════════════════════════════════

func TestAwardXPDerivesCoins(t *testing.T) {
	store := memory.New()
	sess, rec := started(t, backendsFor(store))
	ctx := context.Background()

	out := sess.AwardXP(ctx, progress.ActionMarksEntry, 20, map[string]any{"class": "7B"})
	require.True(t, out.OK(), "award: %v", out.Err)
	assert.Equal(t, 2, out.Receipt.CoinsEarned)
	assert.True(t, out.Receipt.CoinsCredited)
	assert.Equal(t, "+20 XP & +2 Coins", out.Notice)

	out = sess.AwardXP(ctx, progress.ActionAttendanceSubmission, 5, nil)
	require.True(t, out.OK())
	assert.Equal(t, 0, out.Receipt.CoinsEarned)
	assert.Equal(t, "+5 XP", out.Notice)

	p := store.ProfileSnapshot(user)
	assert.Equal(t, 25, p.CurrentXP)
	assert.Equal(t, 2, p.Coins)
	assert.Len(t, store.LedgerSnapshot(user), 2)

	assert.Equal(t, 25, sess.Profile().CurrentXP)
	assert.Equal(t, 2, sess.Balance())
	assert.Equal(t, 2, rec.count(shared.EventXPAwarded))
	assert.Equal(t, 1, rec.count(shared.EventCoinsCredited))
}

func TestAwardXPLedgerFailureAbortsAward(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	store.FailOn(memory.OpAppendLedger, errConnRefused)

	out := sess.AwardXP(context.Background(), progress.ActionHomeworkPost, 20, nil)

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrStoreUnavailable)
	assert.Equal(t, 0, store.ProfileSnapshot(user).Coins)
	assert.Equal(t, 0, sess.Profile().CurrentXP)
	assert.Equal(t, 0, sess.Balance())
	assert.Empty(t, store.LedgerSnapshot(user))
}

func TestAwardXPCreditFailureIsPartial(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	store.FailOn(memory.OpIncrementBalance, errConnRefused)

	out := sess.AwardXP(context.Background(), progress.ActionContentCreation, 20, nil)

	assert.Equal(t, StatusPartial, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrPartialFailure)
	assert.False(t, out.Receipt.CoinsCredited)
	assert.NotEmpty(t, out.Receipt.EntryID)
	assert.NotContains(t, out.Notice, "+2 Coins")
	assert.Equal(t, "+20 XP", out.Receipt.Message())

	assert.Len(t, store.LedgerSnapshot(user), 1)
	assert.Equal(t, 20, store.ProfileSnapshot(user).CurrentXP)
	assert.Equal(t, 0, store.ProfileSnapshot(user).Coins)
	assert.Equal(t, 0, sess.Balance())
}

func TestAwardXPRejectsInvalidInput(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	out := sess.AwardXP(ctx, progress.ActionMarksEntry, 0, nil)
	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrInvalidInput)

	out = sess.AwardXP(ctx, progress.ActionType("gossip"), 10, nil)
	assert.Equal(t, StatusRejected, out.Status)

	assert.Empty(t, store.LedgerSnapshot(user))
}

func TestConcurrentAwardsDoNotLoseCoins(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	require.True(t, sess.AtomicBalance())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := sess.AwardXP(context.Background(), progress.ActionAnnouncementPost, 20, nil)
			assert.True(t, out.OK())
		}()
	}
	wg.Wait()

	p := store.ProfileSnapshot(user)
	assert.Equal(t, 50, p.Coins)
	assert.Equal(t, 500, p.CurrentXP)
	assert.Equal(t, 50, sess.Balance())
	assert.Equal(t, 500, sess.Profile().CurrentXP)
}

func TestReadModifyWriteFallback(t *testing.T) {
	store := memory.New()
	b := backendsFor(store)
	b.Profiles = plainProfiles{store}
	sess, _ := started(t, b)
	require.False(t, sess.AtomicBalance())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.AwardXP(context.Background(), progress.ActionHomeworkPost, 20, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, store.ProfileSnapshot(user).Coins)
}

// ═══════════════════════════════════════════════════════════════════════════
// Wallet and purchases
// ═══════════════════════════════════════════════════════════════════════════

func TestPurchaseInsufficientFunds(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 100, Version: 1})
	store.SeedItems(item("frame-gold", 150, 1))
	sess, _ := started(t, backendsFor(store))

	out := sess.PurchaseItem(context.Background(), "frame-gold")

	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrInsufficientFunds)
	assert.Equal(t, 100, out.Balance)
	assert.Equal(t, 100, store.ProfileSnapshot(user).Coins)
	assert.Empty(t, store.InventorySnapshot(user))
}

func TestPurchaseDebitsAndRecords(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 200, Version: 1})
	store.SeedItems(item("frame-gold", 150, 1))
	sess, rec := started(t, backendsFor(store))
	ctx := context.Background()

	out := sess.PurchaseItem(ctx, "frame-gold")
	require.True(t, out.OK(), "purchase: %v", out.Err)
	assert.Equal(t, 50, out.Balance)
	assert.Equal(t, 50, store.ProfileSnapshot(user).Coins)

	inv := store.InventorySnapshot(user)
	require.Len(t, inv, 1)
	assert.False(t, inv[0].IsEquipped)
	assert.Equal(t, 1, rec.count(shared.EventItemPurchased))

	again := sess.PurchaseItem(ctx, "frame-gold")
	assert.ErrorIs(t, again.Err, shared.ErrAlreadyOwned)
	assert.Equal(t, 50, store.ProfileSnapshot(user).Coins)
}

func TestPurchaseLockedItem(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 2, Coins: 500, Version: 1})
	store.SeedItems(item("crown", 100, 5))
	sess, _ := started(t, backendsFor(store))

	out := sess.PurchaseItem(context.Background(), "crown")

	assert.ErrorIs(t, out.Err, shared.ErrItemLocked)
	assert.Equal(t, 500, store.ProfileSnapshot(user).Coins)
}

func TestPurchaseUnknownItem(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))

	out := sess.PurchaseItem(context.Background(), "ghost")
	assert.ErrorIs(t, out.Err, shared.ErrNotFound)
	assert.Equal(t, StatusRejected, out.Status)
}

func TestPurchaseRefundsWhenInsertFails(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 200, Version: 1})
	store.SeedItems(item("badge", 150, 1))
	sess, _ := started(t, backendsFor(store))
	store.FailOn(memory.OpInsertInventory, errConnRefused)

	out := sess.PurchaseItem(context.Background(), "badge")

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, 200, store.ProfileSnapshot(user).Coins)
	assert.Equal(t, 200, sess.Balance())
	assert.Empty(t, store.InventorySnapshot(user))
}

func TestPurchaseFailedRefundIsPartial(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 200, Version: 1})
	store.SeedItems(item("badge", 150, 1))
	sess, _ := started(t, backendsFor(store))
	store.SetFault(func(op memory.Op, arg any) error {
		switch op {
		case memory.OpInsertInventory:
			return errConnRefused
		case memory.OpIncrementBalance:
			if d := arg.(memory.BalanceDelta); d.DeltaCoins > 0 {
				return errConnRefused
			}
		}
		return nil
	})

	out := sess.PurchaseItem(context.Background(), "badge")

	assert.Equal(t, StatusPartial, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrPartialFailure)
	assert.Equal(t, 50, store.ProfileSnapshot(user).Coins)
}

func TestCoinBalanceNeverNegative(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	steps := []struct {
		credit bool
		amount int
	}{
		{true, 30}, {false, 10}, {false, 25}, {true, 5}, {false, 25}, {false, 1}, {true, 0}, {false, 0},
	}
	for _, st := range steps {
		before := sess.Balance()
		var err error
		if st.credit {
			_, err = sess.wallet.Credit(ctx, st.amount)
		} else {
			_, err = sess.wallet.Debit(ctx, st.amount)
		}
		if errors.Is(err, shared.ErrInsufficientFunds) {
			assert.Equal(t, before, sess.Balance())
		} else {
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, sess.Balance(), 0)
		require.GreaterOrEqual(t, store.ProfileSnapshot(user).Coins, 0)
	}
	assert.Equal(t, 0, sess.Balance())

	_, err := sess.wallet.Credit(ctx, -1)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

// ═══════════════════════════════════════════════════════════════════════════
// Equip
// ═══════════════════════════════════════════════════════════════════════════

func seedOwned(store *memory.Store, ids ...string) {
	for i, id := range ids {
		store.SeedItems(item(id, 10, 1))
		store.SeedInventory(shop.NewInventoryEntry("", user, id, fixedNow.Add(-time.Duration(len(ids)-i)*time.Hour)))
	}
}

func TestEquipKeepsSingleItem(t *testing.T) {
	tests := []struct {
		name        string
		transaction bool
	}{
		{"transactional", true},
		{"two-step", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedOwned(store, "frame", "badge", "theme")
			b := backendsFor(store)
			if !tt.transaction {
				b.Inventory = plainInventory{store}
			}
			sess, _ := started(t, b)

			for _, id := range []string{"frame", "badge", "theme", "badge", "badge"} {
				out := sess.EquipItem(context.Background(), id)
				require.True(t, out.OK(), "equip %s: %v", id, out.Err)
				assert.Equal(t, id, out.EquippedItemID)

				inv := store.InventorySnapshot(user)
				require.Len(t, inv.Equipped(), 1)
				assert.Equal(t, id, inv.EquippedItemID())
			}
		})
	}
}

func TestConcurrentEquipAcrossSessionsKeepsSingleItem(t *testing.T) {
	store := memory.New()
	ids := []string{"frame", "badge", "theme"}
	seedOwned(store, ids...)
	phone, _ := started(t, backendsFor(store))
	laptop, _ := started(t, backendsFor(store))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w, sess := range []*Session{phone, laptop} {
		wg.Add(1)
		go func(w int, sess *Session) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				out := sess.EquipItem(ctx, ids[(i+w)%len(ids)])
				assert.True(t, out.OK(), "equip: %v", out.Err)
			}
		}(w, sess)
	}
	wg.Wait()

	inv := store.InventorySnapshot(user)
	require.Len(t, inv.Equipped(), 1)

	for _, sess := range []*Session{phone, laptop} {
		require.True(t, sess.Refresh(ctx).OK())
		assert.Equal(t, inv.EquippedItemID(), sess.Inventory().EquippedItemID())
		assert.Len(t, sess.Inventory().Equipped(), 1)
	}
}

func TestEquipNotOwned(t *testing.T) {
	store := memory.New()
	seedOwned(store, "frame")
	sess, _ := started(t, backendsFor(store))

	out := sess.EquipItem(context.Background(), "crown")
	assert.Equal(t, StatusRejected, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrNotOwned)
}

func TestTwoStepEquipFailureLeavesZeroEquipped(t *testing.T) {
	store := memory.New()
	seedOwned(store, "frame", "badge")
	b := backendsFor(store)
	b.Inventory = plainInventory{store}
	sess, _ := started(t, b)
	require.True(t, sess.EquipItem(context.Background(), "frame").OK())

	store.SetFault(func(op memory.Op, arg any) error {
		if op == memory.OpUpdateInventory && arg.(*shop.InventoryEntry).IsEquipped {
			return errConnRefused
		}
		return nil
	})

	out := sess.EquipItem(context.Background(), "badge")

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Empty(t, store.InventorySnapshot(user).Equipped())
	assert.Empty(t, sess.Inventory().Equipped())
	assert.Equal(t, "", out.EquippedItemID)
}

func TestUnequip(t *testing.T) {
	store := memory.New()
	seedOwned(store, "frame")
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	require.True(t, sess.EquipItem(ctx, "frame").OK())
	out := sess.UnequipItem(ctx, "frame")
	require.True(t, out.OK())
	assert.Empty(t, store.InventorySnapshot(user).Equipped())

	assert.True(t, sess.UnequipItem(ctx, "frame").OK())
	assert.ErrorIs(t, sess.UnequipItem(ctx, "crown").Err, shared.ErrNotOwned)
}

func TestRefreshHealsDoubleEquipped(t *testing.T) {
	store := memory.New()
	older := shop.NewInventoryEntry("", user, "frame", fixedNow.Add(-48*time.Hour))
	older.Equip(fixedNow.Add(-2 * time.Hour))
	newer := shop.NewInventoryEntry("", user, "badge", fixedNow.Add(-72*time.Hour))
	newer.Equip(fixedNow.Add(-1 * time.Hour))
	store.SeedInventory(older, newer)

	sess, rec := started(t, backendsFor(store))

	inv := store.InventorySnapshot(user)
	require.Len(t, inv.Equipped(), 1)
	assert.Equal(t, "badge", inv.EquippedItemID())
	assert.Equal(t, "badge", sess.Inventory().EquippedItemID())
	assert.Equal(t, 1, rec.count(shared.EventInventoryHealed))
}

// ═══════════════════════════════════════════════════════════════════════════
// Reconciliation
// ═══════════════════════════════════════════════════════════════════════════

func TestLevelUpFiresOncePerTransition(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentXP: 250, CurrentLevel: 3, Version: 1})
	sess, rec := started(t, backendsFor(store))
	ctx := context.Background()

	push := progress.ProfileUpdate{UserID: user, CurrentXP: progress.IntPtr(320), CurrentLevel: progress.IntPtr(4), Version: 2}
	require.NoError(t, store.PublishProfileChange(ctx, push))
	require.NoError(t, store.PublishProfileChange(ctx, push))

	assert.Equal(t, 1, rec.count(shared.EventLevelUp))
	assert.Equal(t, 4, sess.Profile().CurrentLevel)

	stale := progress.ProfileUpdate{UserID: user, CurrentLevel: progress.IntPtr(3), Version: 1}
	require.NoError(t, store.PublishProfileChange(ctx, stale))
	assert.Equal(t, 4, sess.Profile().CurrentLevel)

	require.NoError(t, store.PublishProfileChange(ctx, push))
	assert.Equal(t, 1, rec.count(shared.EventLevelUp))
}

func TestPushWithoutLevelUsesLevelRule(t *testing.T) {
	store := memory.New()
	sess, rec := started(t, backendsFor(store))

	require.NoError(t, store.PublishProfileChange(context.Background(), progress.ProfileUpdate{
		UserID: user, CurrentXP: progress.IntPtr(450), Version: 10,
	}))

	assert.Equal(t, 5, sess.Profile().CurrentLevel)
	assert.Equal(t, 1, rec.count(shared.EventLevelUp))
}

func TestPushTruthOverridesIntent(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	require.NoError(t, store.PublishProfileChange(ctx, progress.ProfileUpdate{
		UserID: user, Coins: progress.IntPtr(77), Version: 50,
	}))
	assert.Equal(t, 77, sess.Balance())

	// Pushes for other users are ignored.
	sess.rec.Apply(progress.ProfileUpdate{UserID: "someone-else", Coins: progress.IntPtr(1), Version: 99})
	assert.Equal(t, 77, sess.Balance())
}

func TestFailedCreditRevertsDespiteLevelOnlyPush(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 100, Version: 1})
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	store.SetFault(func(op memory.Op, _ any) error {
		if op != memory.OpIncrementBalance {
			return nil
		}
		_ = store.PublishProfileChange(ctx, progress.ProfileUpdate{
			UserID: user, CurrentLevel: progress.IntPtr(1), Version: 2,
		})
		return errConnRefused
	})

	out := sess.AwardXP(ctx, progress.ActionHomeworkPost, 70, nil)

	assert.Equal(t, StatusPartial, out.Status)
	assert.Equal(t, 100, store.ProfileSnapshot(user).Coins)
	assert.Equal(t, 100, sess.Balance())
	assert.Equal(t, 70, sess.Profile().CurrentXP)
}

func TestFailedAppendRevertsXPDespiteCoinsOnlyPush(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentLevel: 1, Coins: 100, Version: 1})
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	store.SetFault(func(op memory.Op, _ any) error {
		if op != memory.OpAppendLedger {
			return nil
		}
		_ = store.PublishProfileChange(ctx, progress.ProfileUpdate{
			UserID: user, Coins: progress.IntPtr(100), Version: 1,
		})
		return errConnRefused
	})

	out := sess.AwardXP(ctx, progress.ActionHomeworkPost, 70, nil)

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, 0, store.ProfileSnapshot(user).CurrentXP)
	assert.Equal(t, 0, sess.Profile().CurrentXP)
	assert.Equal(t, 100, sess.Balance())
}

func TestCloseIsIdempotent(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	require.Equal(t, 1, store.Subscribers(user))

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.Equal(t, 0, store.Subscribers(user))

	out := sess.AwardXP(context.Background(), progress.ActionDailyLogin, 10, nil)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrSessionClosed)
}

func TestStartWithoutFeed(t *testing.T) {
	store := memory.New()
	b := backendsFor(store)
	b.Feed = nil
	sess, _ := started(t, b)

	out := sess.AwardXP(context.Background(), progress.ActionMarksEntry, 30, nil)
	require.True(t, out.OK())
	assert.Equal(t, 3, sess.Balance())
	assert.Equal(t, 30, sess.Profile().CurrentXP)
}

func TestStartReportsUnavailableStore(t *testing.T) {
	store := memory.New()
	store.FailOn(memory.OpGetProfile, errConnRefused)
	sess, _ := newSession(t, backendsFor(store))

	out := sess.Start(context.Background())

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, shared.ErrStoreUnavailable)
}

// ═══════════════════════════════════════════════════════════════════════════
// Streaks
// ═══════════════════════════════════════════════════════════════════════════

func seedStreak(store *memory.Store, current, longest int, last string) {
	store.SeedStreak(streak.Streak{
		UserID:           user,
		CurrentStreak:    current,
		LongestStreak:    longest,
		LastActivityDate: timeutil.MustParseDate(last),
	})
}

func TestRecordActivityContinuesStreak(t *testing.T) {
	store := memory.New()
	seedStreak(store, 3, 5, "2025-01-10")
	sess, rec := started(t, backendsFor(store))
	ctx := context.Background()

	out := sess.RecordActivity(ctx)
	require.True(t, out.OK())
	assert.Equal(t, streak.TransitionContinued, out.Result.Transition)
	assert.Equal(t, 4, sess.Streak().CurrentStreak)
	assert.Equal(t, 5, sess.Streak().LongestStreak)
	assert.Equal(t, "2025-01-11", sess.Streak().LastActivityDate.String())
	assert.Equal(t, 1, rec.count(shared.EventStreakIncreased))

	again := sess.RecordActivity(ctx)
	assert.Equal(t, streak.TransitionUnchanged, again.Result.Transition)
	assert.Equal(t, 4, sess.Streak().CurrentStreak)
	assert.Equal(t, 1, rec.count(shared.EventStreakIncreased))
}

func TestRecordActivityAfterGapEmitsReset(t *testing.T) {
	store := memory.New()
	seedStreak(store, 3, 5, "2025-01-06")
	sess, rec := started(t, backendsFor(store))

	out := sess.RecordActivity(context.Background())

	require.True(t, out.OK())
	assert.Equal(t, streak.TransitionReset, out.Result.Transition)
	assert.Equal(t, 1, sess.Streak().CurrentStreak)
	assert.Equal(t, 5, sess.Streak().LongestStreak)
	assert.Equal(t, 0, rec.count(shared.EventStreakIncreased))
	assert.Equal(t, 1, rec.count(shared.EventStreakReset))
}

func TestStreakSaveFailureKeepsPreviousValue(t *testing.T) {
	store := memory.New()
	seedStreak(store, 3, 5, "2025-01-10")
	sess, _ := started(t, backendsFor(store))
	store.FailOn(memory.OpSaveStreak, errConnRefused)

	out := sess.RecordActivity(context.Background())

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, 3, sess.Streak().CurrentStreak)
	assert.Equal(t, "2025-01-10", sess.Streak().LastActivityDate.String())
}

func TestAwardXPAlsoCountsActivity(t *testing.T) {
	store := memory.New()
	seedStreak(store, 1, 1, "2025-01-10")
	sess, _ := started(t, backendsFor(store))

	out := sess.AwardXP(context.Background(), progress.ActionDailyLogin, 10, nil)

	require.True(t, out.OK())
	require.NotNil(t, out.Streak)
	assert.Equal(t, 2, out.Streak.Streak.CurrentStreak)
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog and boundary
// ═══════════════════════════════════════════════════════════════════════════

func TestCatalogFlags(t *testing.T) {
	store := memory.New()
	store.SeedProfile(progress.Profile{UserID: user, CurrentXP: 120, CurrentLevel: 2, Coins: 0, Version: 1})
	store.SeedItems(item("frame", 10, 1), item("crown", 500, 9))
	store.SeedInventory(shop.NewInventoryEntry("", user, "frame", fixedNow))
	sess, _ := started(t, backendsFor(store))
	require.True(t, sess.EquipItem(context.Background(), "frame").OK())

	items, out := sess.Catalog(context.Background())
	require.True(t, out.OK())
	require.Len(t, items, 2)

	assert.Equal(t, "frame", items[0].Item.ID)
	assert.True(t, items[0].Owned)
	assert.True(t, items[0].Equipped)
	assert.False(t, items[0].Locked)

	assert.Equal(t, "crown", items[1].Item.ID)
	assert.False(t, items[1].Owned)
	assert.True(t, items[1].Locked)
}

func TestPanicIsRecoveredAtBoundary(t *testing.T) {
	store := memory.New()
	b := backendsFor(store)
	b.Catalog = panickyCatalog{}
	sess, _ := started(t, b)

	out := sess.PurchaseItem(context.Background(), "frame")

	assert.Equal(t, StatusFailed, out.Status)
	assert.Error(t, out.Err)
}

func TestLedgerHistory(t *testing.T) {
	store := memory.New()
	sess, _ := started(t, backendsFor(store))
	ctx := context.Background()

	sess.AwardXP(ctx, progress.ActionMarksEntry, 10, nil)
	sess.AwardXP(ctx, progress.ActionHomeworkPost, 30, nil)

	entries, out := sess.LedgerHistory(ctx, 1)
	require.True(t, out.OK())
	require.Len(t, entries, 1)
	assert.Equal(t, progress.ActionHomeworkPost, entries[0].ActionType)
}

func TestNewSessionValidatesBackends(t *testing.T) {
	_, err := NewSession(user, Backends{}, Options{})
	assert.Error(t, err)

	_, err = NewSession("", backendsFor(memory.New()), Options{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
