package shop

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - каталог магазина, только чтение.
type Catalog interface {
	// ListShopItems возвращает предметы каталога; activeOnly скрывает снятые с продажи.
	ListShopItems(ctx context.Context, activeOnly bool) ([]*Item, error)
}

// InventoryRepository - хранение инвентаря.
// Хранилище не обязано следить за единственностью надетого предмета.
type InventoryRepository interface {
	// ListInventory возвращает все записи пользователя.
	ListInventory(ctx context.Context, userID string) ([]*InventoryEntry, error)

	// InsertInventoryEntry создаёт запись и возвращает её ID.
	// Возвращает ErrAlreadyOwned, если предмет уже куплен.
	InsertInventoryEntry(ctx context.Context, entry *InventoryEntry) (string, error)

	// UpdateInventoryEntry записывает IsEquipped и EquippedAt записи.
	// Возвращает ErrNotFound, если записи нет.
	UpdateInventoryEntry(ctx context.Context, entry *InventoryEntry) error
}

// ExclusiveEquipper - транзакционная смена надетого предмета: снять все
// остальные и надеть itemID одной транзакцией. Реализуют хранилища с
// многострочными транзакциями; при наличии этот путь предпочтительнее
// двухшагового протокола.
type ExclusiveEquipper interface {
	EquipExclusive(ctx context.Context, userID, itemID string, at time.Time) error
}
