package postgres

import (
	"context"
	"time"

	"github.com/alem-hub/school-gamification/internal/domain/streak"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	conn *Connection
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(conn *Connection) *StreakRepository {
	return &StreakRepository{conn: conn}
}

// GetStreak returns the stored streak, or an empty one for a new user.
func (r *StreakRepository) GetStreak(ctx context.Context, userID string) (streak.Streak, error) {
	var (
		s    = streak.New(userID)
		last *time.Time
	)
	err := r.conn.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_date
		FROM user_streaks
		WHERE user_id = $1`,
		[]interface{}{userID},
		&s.CurrentStreak, &s.LongestStreak, &last,
	)
	if IsNoRows(err) {
		return streak.New(userID), nil
	}
	if err != nil {
		return streak.Streak{}, storeError("GetStreak", err)
	}

	if last != nil {
		s.LastActivityDate = timeutil.DateOf(*last)
	}
	return s, nil
}

// SaveStreak upserts the streak.
func (r *StreakRepository) SaveStreak(ctx context.Context, s streak.Streak) error {
	if err := s.Validate(); err != nil {
		return err
	}

	var last interface{}
	if !s.LastActivityDate.IsZero() {
		last = s.LastActivityDate.Time(time.UTC)
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO user_streaks (user_id, current_streak, longest_streak, last_activity_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			last_activity_date = EXCLUDED.last_activity_date`,
		s.UserID, s.CurrentStreak, s.LongestStreak, last,
	)
	if err != nil {
		return storeError("SaveStreak", err)
	}
	return nil
}

var _ streak.Repository = (*StreakRepository)(nil)
