package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHOP REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ShopRepository implements shop.Catalog, shop.InventoryRepository and
// shop.ExclusiveEquipper for PostgreSQL.
type ShopRepository struct {
	conn *Connection
}

// NewShopRepository creates a new ShopRepository.
func NewShopRepository(conn *Connection) *ShopRepository {
	return &ShopRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// ListShopItems returns catalog items ordered by cost, then name.
func (r *ShopRepository) ListShopItems(ctx context.Context, activeOnly bool) ([]*shop.Item, error) {
	items, err := Query(ctx, r.conn, func(row pgx.CollectableRow) (*shop.Item, error) {
		var it shop.Item
		err := row.Scan(&it.ID, &it.Name, &it.Description, &it.Cost, &it.MinLevel, &it.CosmeticStyle, &it.Active)
		return &it, err
	}, `
		SELECT id, name, description, cost, min_level, cosmetic_style, is_active
		FROM shop_items
		WHERE is_active OR NOT $1
		ORDER BY cost, name`,
		activeOnly,
	)
	if err != nil {
		return nil, storeError("ListShopItems", err)
	}
	return items, nil
}

// UpsertShopItem creates or replaces a catalog item. Used by operators;
// sessions never write the catalog.
func (r *ShopRepository) UpsertShopItem(ctx context.Context, it *shop.Item) error {
	if err := it.Validate(); err != nil {
		return err
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO shop_items (id, name, description, cost, min_level, cosmetic_style, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			cost = EXCLUDED.cost,
			min_level = EXCLUDED.min_level,
			cosmetic_style = EXCLUDED.cosmetic_style,
			is_active = EXCLUDED.is_active`,
		it.ID, it.Name, it.Description, it.Cost, it.MinLevel, it.CosmeticStyle, it.Active,
	)
	if err != nil {
		return storeError("UpsertShopItem", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Inventory
// ─────────────────────────────────────────────────────────────────────────────

func scanInventoryEntry(row pgx.CollectableRow) (*shop.InventoryEntry, error) {
	var e shop.InventoryEntry
	err := row.Scan(&e.ID, &e.UserID, &e.ItemID, &e.IsEquipped, &e.EquippedAt, &e.PurchasedAt)
	return &e, err
}

// ListInventory returns the user's owned items, oldest purchase first.
func (r *ShopRepository) ListInventory(ctx context.Context, userID string) ([]*shop.InventoryEntry, error) {
	entries, err := Query(ctx, r.conn, scanInventoryEntry, `
		SELECT id::text, user_id, item_id, is_equipped, equipped_at, purchased_at
		FROM user_inventory
		WHERE user_id = $1
		ORDER BY purchased_at, id`,
		userID,
	)
	if err != nil {
		return nil, storeError("ListInventory", err)
	}
	return entries, nil
}

// InsertInventoryEntry records a purchase. Owning the item already fails
// with ErrAlreadyOwned.
func (r *ShopRepository) InsertInventoryEntry(ctx context.Context, e *shop.InventoryEntry) (string, error) {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO user_inventory (id, user_id, item_id, is_equipped, equipped_at, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.ItemID, e.IsEquipped, e.EquippedAt, e.PurchasedAt,
	)
	switch {
	case err == nil:
		return e.ID, nil
	case IsUniqueViolation(err):
		return "", shared.WrapError("postgres", "InsertInventoryEntry", shared.ErrAlreadyOwned, "item already in inventory", err)
	case IsForeignKeyViolation(err):
		return "", shared.WrapError("postgres", "InsertInventoryEntry", shared.ErrNotFound, "item not in catalog", err)
	default:
		return "", storeError("InsertInventoryEntry", err)
	}
}

// UpdateInventoryEntry writes the equip state of one entry. EquippedAt is
// kept when the update does not carry one.
func (r *ShopRepository) UpdateInventoryEntry(ctx context.Context, e *shop.InventoryEntry) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE user_inventory
		SET is_equipped = $3, equipped_at = COALESCE($4, equipped_at)
		WHERE user_id = $1 AND item_id = $2`,
		e.UserID, e.ItemID, e.IsEquipped, e.EquippedAt,
	)
	if err != nil {
		return storeError("UpdateInventoryEntry", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "UpdateInventoryEntry", shared.ErrNotFound, "inventory entry not found")
	}
	return nil
}

// EquipExclusive equips itemID and unequips everything else in one transaction.
func (r *ShopRepository) EquipExclusive(ctx context.Context, userID, itemID string, at time.Time) error {
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return equipExclusive(ctx, tx, userID, itemID, at)
	})
	return storeError("EquipExclusive", err)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	// Concurrent equips for one user must serialize on the user's rows,
	// otherwise each unequip misses the row the other just equipped.
	lockInventorySQL = `SELECT id FROM user_inventory WHERE user_id = $1 ORDER BY id FOR UPDATE`

	equipItemSQL = `
		UPDATE user_inventory
		SET is_equipped = TRUE, equipped_at = $3
		WHERE user_id = $1 AND item_id = $2`

	unequipOthersSQL = `
		UPDATE user_inventory
		SET is_equipped = FALSE
		WHERE user_id = $1 AND item_id <> $2 AND is_equipped`
)

func equipExclusive(ctx context.Context, tx execer, userID, itemID string, at time.Time) error {
	if _, err := tx.Exec(ctx, lockInventorySQL, userID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, equipItemSQL, userID, itemID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "EquipExclusive", shared.ErrNotOwned, "item not in inventory")
	}

	_, err = tx.Exec(ctx, unequipOthersSQL, userID, itemID)
	return err
}

var (
	_ shop.Catalog             = (*ShopRepository)(nil)
	_ shop.InventoryRepository = (*ShopRepository)(nil)
	_ shop.ExclusiveEquipper   = (*ShopRepository)(nil)
)
