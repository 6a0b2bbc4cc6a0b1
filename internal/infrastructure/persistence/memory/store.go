// Package memory implements every gamification store interface in process.
// It backs the CLI's --store=memory mode and the application tests, and it can
// inject failures per operation to exercise partial-failure paths.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGetProfile       Op = "GetProfile"
	OpUpdateProfile    Op = "UpdateProfile"
	OpAppendLedger     Op = "AppendLedgerEntry"
	OpListLedger       Op = "ListLedgerEntries"
	OpIncrementBalance Op = "IncrementBalance"
	OpSubscribe        Op = "SubscribeProfileChanges"
	OpGetStreak        Op = "GetStreak"
	OpSaveStreak       Op = "SaveStreak"
	OpListShopItems    Op = "ListShopItems"
	OpListInventory    Op = "ListInventory"
	OpInsertInventory  Op = "InsertInventoryEntry"
	OpUpdateInventory  Op = "UpdateInventoryEntry"
	OpEquipExclusive   Op = "EquipExclusive"
)

// Fault decides whether an operation fails. arg is the operation's main input:
// *progress.LedgerEntry, progress.ProfileUpdate, BalanceDelta, streak.Streak,
// *shop.InventoryEntry or the user ID.
type Fault func(op Op, arg any) error

// BalanceDelta is the fault argument of IncrementBalance.
type BalanceDelta struct {
	UserID     string
	DeltaXP    int
	DeltaCoins int
}

// Store is a thread-safe in-memory store.
type Store struct {
	mu        sync.Mutex
	profiles  map[string]*progress.Profile
	ledger    map[string][]*progress.LedgerEntry
	streaks   map[string]streak.Streak
	items     []*shop.Item
	inventory map[string][]*shop.InventoryEntry

	subsMu  sync.RWMutex
	subs    map[string]map[uint64]func(progress.ProfileUpdate)
	nextSub uint64

	rule  progress.LevelRule
	clock func() time.Time
	fault Fault
}

// Option configures a Store.
type Option func(*Store)

// WithLevelRule sets the rule the store uses to keep levels in step with XP.
func WithLevelRule(rule progress.LevelRule) Option {
	return func(s *Store) {
		if rule != nil {
			s.rule = rule
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		profiles:  make(map[string]*progress.Profile),
		ledger:    make(map[string][]*progress.LedgerEntry),
		streaks:   make(map[string]streak.Streak),
		inventory: make(map[string][]*shop.InventoryEntry),
		subs:      make(map[string]map[uint64]func(progress.ProfileUpdate)),
		rule:      progress.DefaultLevelRule(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault installs a fault hook. Nil removes it.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// FailOn makes every call of op fail with err.
func (s *Store) FailOn(op Op, err error) {
	s.SetFault(func(got Op, _ any) error {
		if got == op {
			return err
		}
		return nil
	})
}

func (s *Store) check(op Op, arg any) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, arg)
}

// ═══════════════════════════════════════════════════════════════════════════
// Seeding and inspection
// ═══════════════════════════════════════════════════════════════════════════

// SeedProfile stores p as is.
func (s *Store) SeedProfile(p progress.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p.Clone()
}

// SeedStreak stores st as is.
func (s *Store) SeedStreak(st streak.Streak) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks[st.UserID] = st
}

// SeedItems adds catalog items.
func (s *Store) SeedItems(items ...*shop.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		cp := *it
		s.items = append(s.items, &cp)
	}
}

// SeedInventory adds inventory entries without any invariant checks.
func (s *Store) SeedInventory(entries ...*shop.InventoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := e.Clone()
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		s.inventory[cp.UserID] = append(s.inventory[cp.UserID], cp)
	}
}

// ProfileSnapshot returns the stored profile, or nil.
func (s *Store) ProfileSnapshot(userID string) *progress.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID].Clone()
}

// InventorySnapshot returns a copy of the stored inventory.
func (s *Store) InventorySnapshot(userID string) shop.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return shop.Inventory(s.inventory[userID]).Clone()
}

// LedgerSnapshot returns the stored ledger in insertion order.
func (s *Store) LedgerSnapshot(userID string) []*progress.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*progress.LedgerEntry, len(s.ledger[userID]))
	copy(out, s.ledger[userID])
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// progress.Repository
// ═══════════════════════════════════════════════════════════════════════════

func (s *Store) profileLocked(userID string) *progress.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = progress.NewProfile(userID)
		p.UpdatedAt = s.clock()
		s.profiles[userID] = p
	}
	return p
}

func (s *Store) touchLocked(p *progress.Profile) {
	p.Version++
	p.UpdatedAt = s.clock()
}

// GetProfile implements progress.Repository.
func (s *Store) GetProfile(ctx context.Context, userID string) (*progress.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpGetProfile, userID); err != nil {
		return nil, err
	}
	return s.profileLocked(userID).Clone(), nil
}

// UpdateProfile implements progress.Repository.
func (s *Store) UpdateProfile(ctx context.Context, update progress.ProfileUpdate) (*progress.Profile, error) {
	s.mu.Lock()

	if err := s.check(OpUpdateProfile, update); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	p := s.profileLocked(update.UserID)
	next := p.Clone()
	if update.CurrentXP != nil {
		next.CurrentXP = *update.CurrentXP
		if update.CurrentLevel == nil {
			next.CurrentLevel = s.rule.LevelFor(next.CurrentXP)
		}
	}
	if update.CurrentLevel != nil {
		next.CurrentLevel = *update.CurrentLevel
	}
	if update.Coins != nil {
		next.Coins = *update.Coins
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	*p = *next
	s.touchLocked(p)
	out := p.Clone()
	s.mu.Unlock()

	s.notify(progress.FullUpdate(out))
	return out, nil
}

// AppendLedgerEntry implements progress.Repository. Like the database trigger,
// it folds the entry's XP into the profile and recomputes the level.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *progress.LedgerEntry) (string, error) {
	s.mu.Lock()

	if err := s.check(OpAppendLedger, entry); err != nil {
		s.mu.Unlock()
		return "", err
	}

	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}
	s.ledger[cp.UserID] = append(s.ledger[cp.UserID], &cp)

	p := s.profileLocked(cp.UserID)
	p.CurrentXP += cp.XPAmount
	p.CurrentLevel = s.rule.LevelFor(p.CurrentXP)
	s.touchLocked(p)
	out := p.Clone()
	s.mu.Unlock()

	s.notify(progress.FullUpdate(out))
	return cp.ID, nil
}

// ListLedgerEntries implements progress.Repository.
func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*progress.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpListLedger, userID); err != nil {
		return nil, err
	}

	src := s.ledger[userID]
	out := make([]*progress.LedgerEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *src[i]
		out = append(out, &cp)
	}
	return out, nil
}

// IncrementBalance implements progress.BalanceIncrementer.
func (s *Store) IncrementBalance(ctx context.Context, userID string, deltaXP, deltaCoins int) (*progress.Profile, error) {
	s.mu.Lock()

	if err := s.check(OpIncrementBalance, BalanceDelta{UserID: userID, DeltaXP: deltaXP, DeltaCoins: deltaCoins}); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	p := s.profileLocked(userID)
	if p.Coins+deltaCoins < 0 {
		s.mu.Unlock()
		return nil, shared.NewDomainError("store", "IncrementBalance", shared.ErrInsufficientFunds, "balance would go negative")
	}
	if p.CurrentXP+deltaXP < 0 {
		s.mu.Unlock()
		return nil, shared.NewDomainError("store", "IncrementBalance", shared.ErrInvalidInput, "xp would go negative")
	}

	p.Coins += deltaCoins
	if deltaXP != 0 {
		p.CurrentXP += deltaXP
		p.CurrentLevel = s.rule.LevelFor(p.CurrentXP)
	}
	s.touchLocked(p)
	out := p.Clone()
	s.mu.Unlock()

	s.notify(progress.FullUpdate(out))
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// progress.ChangeFeed / progress.ChangePublisher
// ═══════════════════════════════════════════════════════════════════════════

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeProfileChanges implements progress.ChangeFeed. Handlers run on the
// writer's goroutine after the store lock is released.
func (s *Store) SubscribeProfileChanges(ctx context.Context, userID string, onUpdate func(progress.ProfileUpdate)) (progress.Subscription, error) {
	s.mu.Lock()
	err := s.check(OpSubscribe, userID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[uint64]func(progress.ProfileUpdate))
	}
	s.subs[userID][id] = onUpdate
	s.subsMu.Unlock()

	return &subscription{cancel: func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs[userID], id)
		if len(s.subs[userID]) == 0 {
			delete(s.subs, userID)
		}
	}}, nil
}

// PublishProfileChange implements progress.ChangePublisher. Tests use it to
// simulate pushes, including duplicates and stale ones.
func (s *Store) PublishProfileChange(ctx context.Context, update progress.ProfileUpdate) error {
	s.notify(update)
	return nil
}

// Subscribers returns the number of live subscriptions for userID.
func (s *Store) Subscribers(userID string) int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs[userID])
}

func (s *Store) notify(update progress.ProfileUpdate) {
	s.subsMu.RLock()
	handlers := make([]func(progress.ProfileUpdate), 0, len(s.subs[update.UserID]))
	for _, h := range s.subs[update.UserID] {
		handlers = append(handlers, h)
	}
	s.subsMu.RUnlock()

	for _, h := range handlers {
		h(update)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// streak.Repository
// ═══════════════════════════════════════════════════════════════════════════

// GetStreak implements streak.Repository.
func (s *Store) GetStreak(ctx context.Context, userID string) (streak.Streak, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpGetStreak, userID); err != nil {
		return streak.Streak{}, err
	}
	st, ok := s.streaks[userID]
	if !ok {
		st = streak.New(userID)
		s.streaks[userID] = st
	}
	return st, nil
}

// SaveStreak implements streak.Repository.
func (s *Store) SaveStreak(ctx context.Context, st streak.Streak) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpSaveStreak, st); err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}
	s.streaks[st.UserID] = st
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// shop.Catalog / shop.InventoryRepository / shop.ExclusiveEquipper
// ═══════════════════════════════════════════════════════════════════════════

// ListShopItems implements shop.Catalog, ordered by cost then name.
func (s *Store) ListShopItems(ctx context.Context, activeOnly bool) ([]*shop.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpListShopItems, activeOnly); err != nil {
		return nil, err
	}

	out := make([]*shop.Item, 0, len(s.items))
	for _, it := range s.items {
		if activeOnly && !it.Active {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ListInventory implements shop.InventoryRepository.
func (s *Store) ListInventory(ctx context.Context, userID string) ([]*shop.InventoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpListInventory, userID); err != nil {
		return nil, err
	}
	return shop.Inventory(s.inventory[userID]).Clone(), nil
}

// InsertInventoryEntry implements shop.InventoryRepository.
func (s *Store) InsertInventoryEntry(ctx context.Context, entry *shop.InventoryEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpInsertInventory, entry); err != nil {
		return "", err
	}
	if shop.Inventory(s.inventory[entry.UserID]).Owns(entry.ItemID) {
		return "", shared.NewDomainError("store", "InsertInventoryEntry", shared.ErrAlreadyOwned, "item already in inventory")
	}

	cp := entry.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.PurchasedAt.IsZero() {
		cp.PurchasedAt = s.clock()
	}
	s.inventory[cp.UserID] = append(s.inventory[cp.UserID], cp)
	return cp.ID, nil
}

// UpdateInventoryEntry implements shop.InventoryRepository.
func (s *Store) UpdateInventoryEntry(ctx context.Context, entry *shop.InventoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpUpdateInventory, entry); err != nil {
		return err
	}

	for _, e := range s.inventory[entry.UserID] {
		if e.ID == entry.ID || (entry.ID == "" && e.ItemID == entry.ItemID) {
			e.IsEquipped = entry.IsEquipped
			if entry.EquippedAt != nil {
				at := *entry.EquippedAt
				e.EquippedAt = &at
			}
			return nil
		}
	}
	return shared.NewDomainError("store", "UpdateInventoryEntry", shared.ErrNotFound, "inventory entry not found")
}

// EquipExclusive implements shop.ExclusiveEquipper atomically under the store lock.
func (s *Store) EquipExclusive(ctx context.Context, userID, itemID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(OpEquipExclusive, itemID); err != nil {
		return err
	}

	inv := shop.Inventory(s.inventory[userID])
	target := inv.Find(itemID)
	if target == nil {
		return shared.NewDomainError("store", "EquipExclusive", shared.ErrNotOwned, "item not in inventory")
	}
	for _, e := range inv {
		if e != target {
			e.Unequip()
		}
	}
	target.Equip(at)
	return nil
}
