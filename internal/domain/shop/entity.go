// Package shop содержит каталог косметических предметов и инвентарь пользователя.
// Главный инвариант инвентаря: не более одного надетого предмета на пользователя.
package shop

import (
	"sort"
	"time"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Item - предмет каталога. Каталог только для чтения и управляется извне.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Cost - цена в монетах, не меньше нуля.
	Cost int `json:"cost"`

	// MinLevel - минимальный уровень для разблокировки.
	MinLevel int `json:"min_level"`

	// CosmeticStyle - ссылка на визуальное оформление (рамка, тема, бейдж).
	CosmeticStyle string `json:"cosmetic_style"`

	Active bool `json:"active"`
}

// IsLockedFor возвращает true, если уровень пользователя ниже требуемого.
func (i *Item) IsLockedFor(level int) bool {
	return i.MinLevel > level
}

// Validate проверяет предмет каталога.
func (i *Item) Validate() error {
	if i.ID == "" {
		return shared.NewDomainError("shop", "Validate", shared.ErrInvalidInput, "item id is required")
	}
	if i.Cost < 0 {
		return shared.NewDomainError("shop", "Validate", shared.ErrInvalidInput, "item cost is negative")
	}
	return nil
}

// FindItem ищет предмет по ID.
func FindItem(items []*Item, itemID string) *Item {
	for _, it := range items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INVENTORY
// ══════════════════════════════════════════════════════════════════════════════

// InventoryEntry - купленный пользователем предмет.
type InventoryEntry struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	ItemID     string `json:"item_id"`
	IsEquipped bool   `json:"is_equipped"`

	// EquippedAt - когда предмет был надет последний раз.
	// Нужен самовосстановлению: побеждает последний надетый.
	EquippedAt *time.Time `json:"equipped_at,omitempty"`

	PurchasedAt time.Time `json:"purchased_at"`
}

// NewInventoryEntry создаёт ненадетую запись о покупке.
func NewInventoryEntry(id, userID, itemID string, at time.Time) *InventoryEntry {
	return &InventoryEntry{
		ID:          id,
		UserID:      userID,
		ItemID:      itemID,
		PurchasedAt: at,
	}
}

// Equip помечает запись надетой.
func (e *InventoryEntry) Equip(at time.Time) {
	e.IsEquipped = true
	e.EquippedAt = &at
}

// Unequip снимает предмет. EquippedAt сохраняется как история.
func (e *InventoryEntry) Unequip() {
	e.IsEquipped = false
}

// Clone возвращает копию записи.
func (e *InventoryEntry) Clone() *InventoryEntry {
	c := *e
	if e.EquippedAt != nil {
		at := *e.EquippedAt
		c.EquippedAt = &at
	}
	return &c
}

// Inventory - снимок инвентаря пользователя.
type Inventory []*InventoryEntry

// Find возвращает запись по ID предмета.
func (inv Inventory) Find(itemID string) *InventoryEntry {
	for _, e := range inv {
		if e.ItemID == itemID {
			return e
		}
	}
	return nil
}

// Owns возвращает true, если предмет куплен.
func (inv Inventory) Owns(itemID string) bool {
	return inv.Find(itemID) != nil
}

// Equipped возвращает все надетые записи. В норме их не больше одной.
func (inv Inventory) Equipped() []*InventoryEntry {
	var out []*InventoryEntry
	for _, e := range inv {
		if e.IsEquipped {
			out = append(out, e)
		}
	}
	return out
}

// EquippedItemID возвращает ID надетого предмета или пустую строку.
func (inv Inventory) EquippedItemID() string {
	if eq := inv.Equipped(); len(eq) == 1 {
		return eq[0].ItemID
	}
	return ""
}

// CheckSingleEquipped возвращает ErrInvariantViolation при нескольких надетых.
func (inv Inventory) CheckSingleEquipped() error {
	if n := len(inv.Equipped()); n > 1 {
		return shared.NewDomainError("inventory", "Check", shared.ErrInvariantViolation, "more than one item equipped")
	}
	return nil
}

// Clone возвращает глубокую копию снимка.
func (inv Inventory) Clone() Inventory {
	out := make(Inventory, 0, len(inv))
	for _, e := range inv {
		out = append(out, e.Clone())
	}
	return out
}

// HealPlan выбирает, какую надетую запись оставить при нарушении инварианта:
// последнюю по EquippedAt (без даты считается самой старой), при равенстве -
// позже купленную. Остальные надетые нужно снять.
// Если нарушения нет, keep == nil и список пуст.
func (inv Inventory) HealPlan() (keep *InventoryEntry, unequip []*InventoryEntry) {
	equipped := inv.Equipped()
	if len(equipped) <= 1 {
		return nil, nil
	}

	sorted := make([]*InventoryEntry, len(equipped))
	copy(sorted, equipped)
	sort.SliceStable(sorted, func(i, j int) bool {
		return equippedAfter(sorted[i], sorted[j])
	})

	return sorted[0], sorted[1:]
}

func equippedAfter(a, b *InventoryEntry) bool {
	switch {
	case a.EquippedAt != nil && b.EquippedAt == nil:
		return true
	case a.EquippedAt == nil && b.EquippedAt != nil:
		return false
	case a.EquippedAt != nil && b.EquippedAt != nil && !a.EquippedAt.Equal(*b.EquippedAt):
		return a.EquippedAt.After(*b.EquippedAt)
	}
	return a.PurchasedAt.After(b.PurchasedAt)
}
