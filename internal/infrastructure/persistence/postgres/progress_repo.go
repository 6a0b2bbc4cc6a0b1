package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// Every write locks the profile row, bumps its version and, after commit,
// publishes the new profile to the change feed.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository and
// progress.BalanceIncrementer for PostgreSQL.
type ProgressRepository struct {
	conn      *Connection
	rule      progress.LevelRule
	publisher progress.ChangePublisher
}

// NewProgressRepository creates a repository. publisher may be nil, in which
// case sessions only see writes on refresh.
func NewProgressRepository(conn *Connection, rule progress.LevelRule, publisher progress.ChangePublisher) *ProgressRepository {
	if rule == nil {
		rule = progress.DefaultLevelRule()
	}
	return &ProgressRepository{conn: conn, rule: rule, publisher: publisher}
}

const profileColumns = `user_id, current_xp, current_level, coins, version, updated_at`

func scanProfile(row pgx.Row) (*progress.Profile, error) {
	var p progress.Profile
	if err := row.Scan(&p.UserID, &p.CurrentXP, &p.CurrentLevel, &p.Coins, &p.Version, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProfile returns the profile, or a fresh level-1 profile if the user has
// none yet.
func (r *ProgressRepository) GetProfile(ctx context.Context, userID string) (*progress.Profile, error) {
	var p progress.Profile
	err := r.conn.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM gamification_profiles WHERE user_id = $1`,
		[]interface{}{userID},
		&p.UserID, &p.CurrentXP, &p.CurrentLevel, &p.Coins, &p.Version, &p.UpdatedAt,
	)
	if IsNoRows(err) {
		return progress.NewProfile(userID), nil
	}
	if err != nil {
		return nil, storeError("GetProfile", err)
	}
	return &p, nil
}

// lockProfile creates the row if needed and locks it for the transaction.
func lockProfile(ctx context.Context, tx pgx.Tx, userID string) (*progress.Profile, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO gamification_profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	); err != nil {
		return nil, err
	}
	return scanProfile(tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM gamification_profiles WHERE user_id = $1 FOR UPDATE`,
		userID,
	))
}

func saveProfile(ctx context.Context, tx pgx.Tx, p *progress.Profile) (*progress.Profile, error) {
	return scanProfile(tx.QueryRow(ctx, `
		UPDATE gamification_profiles
		SET current_xp = $2, current_level = $3, coins = $4, version = version + 1, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+profileColumns,
		p.UserID, p.CurrentXP, p.CurrentLevel, p.Coins,
	))
}

// UpdateProfile merges the present fields into the stored profile. When XP
// changes without an explicit level, the level is recomputed.
func (r *ProgressRepository) UpdateProfile(ctx context.Context, update progress.ProfileUpdate) (*progress.Profile, error) {
	var out *progress.Profile
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := lockProfile(ctx, tx, update.UserID)
		if err != nil {
			return err
		}

		if update.CurrentXP != nil && update.CurrentLevel == nil {
			update.CurrentLevel = progress.IntPtr(r.rule.LevelFor(*update.CurrentXP))
		}
		update.Version = 0
		update.ApplyTo(p)
		if err := p.Validate(); err != nil {
			return err
		}

		out, err = saveProfile(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, storeError("UpdateProfile", err)
	}

	r.publish(ctx, out)
	return out, nil
}

// AppendLedgerEntry inserts the entry and folds its XP into the profile in
// the same transaction.
func (r *ProgressRepository) AppendLedgerEntry(ctx context.Context, entry *progress.LedgerEntry) (string, error) {
	var out *progress.Profile
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO xp_ledger (id, user_id, action_type, xp_amount, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.ID, entry.UserID, string(entry.ActionType), entry.XPAmount, metadataOrEmpty(entry.Metadata), entry.CreatedAt,
		); err != nil {
			return err
		}

		p, err := lockProfile(ctx, tx, entry.UserID)
		if err != nil {
			return err
		}
		p.CurrentXP += entry.XPAmount
		p.CurrentLevel = r.rule.LevelFor(p.CurrentXP)

		out, err = saveProfile(ctx, tx, p)
		return err
	})
	if err != nil {
		return "", storeError("AppendLedgerEntry", err)
	}

	r.publish(ctx, out)
	return entry.ID, nil
}

// ListLedgerEntries returns the newest entries first. A limit of zero or
// less returns all entries.
func (r *ProgressRepository) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*progress.LedgerEntry, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	entries, err := Query(ctx, r.conn, func(row pgx.CollectableRow) (*progress.LedgerEntry, error) {
		var (
			e      progress.LedgerEntry
			action string
		)
		if err := row.Scan(&e.ID, &e.UserID, &action, &e.XPAmount, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActionType = progress.ActionType(action)
		return &e, nil
	}, `
		SELECT id::text, user_id, action_type, xp_amount, metadata, created_at
		FROM xp_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`,
		userID, lim,
	)
	if err != nil {
		return nil, storeError("ListLedgerEntries", err)
	}
	return entries, nil
}

// IncrementBalance atomically adds the deltas. A result below zero fails
// with ErrInsufficientFunds and changes nothing.
func (r *ProgressRepository) IncrementBalance(ctx context.Context, userID string, deltaXP, deltaCoins int) (*progress.Profile, error) {
	var out *progress.Profile
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := lockProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		if p.Coins+deltaCoins < 0 {
			return shared.NewDomainError("postgres", "IncrementBalance", shared.ErrInsufficientFunds, "balance would go negative")
		}
		if p.CurrentXP+deltaXP < 0 {
			return shared.NewDomainError("postgres", "IncrementBalance", shared.ErrInvalidInput, "xp would go negative")
		}

		p.Coins += deltaCoins
		if deltaXP != 0 {
			p.CurrentXP += deltaXP
			p.CurrentLevel = r.rule.LevelFor(p.CurrentXP)
		}

		out, err = saveProfile(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, storeError("IncrementBalance", err)
	}

	r.publish(ctx, out)
	return out, nil
}

// publish pushes the committed profile. The write already happened, so a
// failed publish is only logged.
func (r *ProgressRepository) publish(ctx context.Context, p *progress.Profile) {
	if r.publisher == nil || p == nil {
		return
	}
	if err := r.publisher.PublishProfileChange(ctx, progress.FullUpdate(p)); err != nil {
		r.conn.log.Warn("profile change publish failed",
			logger.UserID(p.UserID),
			logger.Int64("version", p.Version),
			logger.Err(err),
		)
	}
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var (
	_ progress.Repository         = (*ProgressRepository)(nil)
	_ progress.BalanceIncrementer = (*ProgressRepository)(nil)
)
