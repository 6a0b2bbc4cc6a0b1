package gamification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/pkg/logger"
	"github.com/alem-hub/school-gamification/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// INVENTORY MANAGER
// Owns the single-equipped invariant. The store does not enforce it, so every
// equip reads the authoritative inventory first.
//
// Without a transactional store the equip is two steps: unequip the others,
// then equip the target. A failure in between leaves zero items equipped,
// never two.
// ══════════════════════════════════════════════════════════════════════════════

// InventoryManager manages owned cosmetics of one user.
type InventoryManager struct {
	userID   string
	repo     shop.InventoryRepository
	equipper shop.ExclusiveEquipper
	wallet   *Wallet
	reads    *retry.Retrier
	clock    func() time.Time
	events   shared.EventPublisher
	log      *logger.Logger

	mu      sync.Mutex
	entries shop.Inventory
	loaded  bool
}

// NewInventoryManager creates a manager. equipper may be nil.
func NewInventoryManager(userID string, repo shop.InventoryRepository, equipper shop.ExclusiveEquipper, wallet *Wallet, reads *retry.Retrier, clock func() time.Time, events shared.EventPublisher, log *logger.Logger) *InventoryManager {
	return &InventoryManager{
		userID:   userID,
		repo:     repo,
		equipper: equipper,
		wallet:   wallet,
		reads:    reads,
		clock:    clock,
		events:   events,
		log:      log.With(logger.Component("inventory"), logger.UserID(userID)),
	}
}

// Snapshot returns a copy of the cached inventory.
func (m *InventoryManager) Snapshot() shop.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Clone()
}

// Load reads the authoritative inventory, healing it if more than one item
// is equipped.
func (m *InventoryManager) Load(ctx context.Context) (shop.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	return m.entries.Clone(), nil
}

func (m *InventoryManager) loadLocked(ctx context.Context) error {
	entries, err := read(ctx, m.reads, "inventory", "Load", func(ctx context.Context) ([]*shop.InventoryEntry, error) {
		return m.repo.ListInventory(ctx, m.userID)
	})
	if err != nil {
		return err
	}

	m.entries = shop.Inventory(entries)
	m.loaded = true

	if err := m.healLocked(ctx); err != nil {
		// The next equip unequips the extras anyway.
		m.log.Warn("inventory heal failed", logger.Err(err))
	}
	return nil
}

// Heal repairs a double-equipped inventory by unequipping all but the most
// recently equipped entry.
func (m *InventoryManager) Heal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return m.loadLocked(ctx)
	}
	return m.healLocked(ctx)
}

func (m *InventoryManager) healLocked(ctx context.Context) error {
	keep, extras := m.entries.HealPlan()
	if keep == nil {
		return nil
	}

	m.log.Warn("multiple equipped items observed, healing",
		logger.ItemID(keep.ItemID),
		logger.Int("extra_equipped", len(extras)),
	)

	unequipped := make([]string, 0, len(extras))
	for _, e := range extras {
		cp := e.Clone()
		cp.Unequip()
		if err := m.repo.UpdateInventoryEntry(ctx, cp); err != nil {
			return shared.WrapError("inventory", "Heal", shared.ErrInvariantViolation, "could not unequip extra item", err)
		}
		e.Unequip()
		unequipped = append(unequipped, e.ItemID)
	}

	publish(m.events, m.log, shared.NewInventoryHealedEvent(m.userID, keep.ItemID, unequipped))
	return nil
}

// Purchase debits the item's cost and records an unequipped entry.
// Owned items are rejected before any debit. If recording fails after the
// debit, the cost is refunded; a failed refund is a partial failure.
func (m *InventoryManager) Purchase(ctx context.Context, item *shop.Item) (*shop.InventoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		if err := m.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	if m.entries.Owns(item.ID) {
		return nil, shared.NewDomainError("inventory", "Purchase", shared.ErrAlreadyOwned, "item already owned")
	}

	if _, err := m.wallet.Debit(ctx, item.Cost); err != nil {
		return nil, err
	}

	entry := shop.NewInventoryEntry(uuid.NewString(), m.userID, item.ID, m.clock().UTC())
	id, err := m.repo.InsertInventoryEntry(ctx, entry)
	if err != nil {
		m.log.Warn("inventory insert failed after debit, refunding",
			logger.ItemID(item.ID),
			logger.Coins(item.Cost),
			logger.Err(err),
		)
		if _, rerr := m.wallet.Credit(ctx, item.Cost); rerr != nil {
			m.log.Error("refund failed", logger.ItemID(item.ID), logger.Coins(item.Cost), logger.Err(rerr))
			return nil, shared.WrapError("inventory", "Purchase", shared.ErrPartialFailure, "coins debited but item not delivered", err)
		}
		return nil, shared.StoreError("inventory", "Purchase", err)
	}
	entry.ID = id
	m.entries = append(m.entries, entry)

	m.log.Info("item purchased", logger.ItemID(item.ID), logger.Coins(item.Cost))
	publish(m.events, m.log, shared.NewItemPurchasedEvent(m.userID, item.ID, item.Cost))
	return entry.Clone(), nil
}

// Equip makes itemID the only equipped item.
func (m *InventoryManager) Equip(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}

	target := m.entries.Find(itemID)
	if target == nil {
		return shared.NewDomainError("inventory", "Equip", shared.ErrNotOwned, "item not owned")
	}
	if target.IsEquipped && len(m.entries.Equipped()) == 1 {
		return nil
	}

	now := m.clock().UTC()

	if m.equipper != nil {
		if err := m.equipper.EquipExclusive(ctx, m.userID, itemID, now); err != nil {
			return shared.StoreError("inventory", "Equip", err)
		}
		for _, e := range m.entries {
			if e != target {
				e.Unequip()
			}
		}
		target.Equip(now)
	} else if err := m.equipTwoStep(ctx, target, now); err != nil {
		return err
	}

	m.log.Info("item equipped", logger.ItemID(itemID))
	publish(m.events, m.log, shared.NewItemEquippedEvent(m.userID, itemID))
	return nil
}

func (m *InventoryManager) equipTwoStep(ctx context.Context, target *shop.InventoryEntry, now time.Time) error {
	for _, e := range m.entries.Equipped() {
		if e == target {
			continue
		}
		cp := e.Clone()
		cp.Unequip()
		if err := m.repo.UpdateInventoryEntry(ctx, cp); err != nil {
			return shared.StoreError("inventory", "Equip", err)
		}
		e.Unequip()
	}

	cp := target.Clone()
	cp.Equip(now)
	if err := m.repo.UpdateInventoryEntry(ctx, cp); err != nil {
		m.log.Warn("equip failed after unequipping others, nothing is equipped",
			logger.ItemID(target.ItemID),
			logger.Err(err),
		)
		return shared.StoreError("inventory", "Equip", err)
	}
	target.Equip(now)
	return nil
}

// Unequip takes itemID off. Unequipping an item that is not equipped is a no-op.
func (m *InventoryManager) Unequip(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}

	target := m.entries.Find(itemID)
	if target == nil {
		return shared.NewDomainError("inventory", "Unequip", shared.ErrNotOwned, "item not owned")
	}
	if !target.IsEquipped {
		return nil
	}

	cp := target.Clone()
	cp.Unequip()
	if err := m.repo.UpdateInventoryEntry(ctx, cp); err != nil {
		return shared.StoreError("inventory", "Unequip", err)
	}
	target.Unequip()

	publish(m.events, m.log, shared.NewItemUnequippedEvent(m.userID, itemID))
	return nil
}
