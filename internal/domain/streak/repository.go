package streak

import (
	"context"
)

// Repository - хранение серий активности.
type Repository interface {
	// GetStreak возвращает серию пользователя, создавая пустую при отсутствии.
	GetStreak(ctx context.Context, userID string) (Streak, error)

	// SaveStreak записывает серию целиком.
	SaveStreak(ctx context.Context, s Streak) error
}
