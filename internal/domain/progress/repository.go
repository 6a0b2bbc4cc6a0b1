package progress

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт с авторитетным хранилищем. Реализации находятся в
// infrastructure/persistence. Ошибки связи возвращаются как ErrStoreUnavailable.
// ══════════════════════════════════════════════════════════════════════════════

// Repository - чтение и запись профилей и журнала XP.
type Repository interface {
	// GetProfile возвращает профиль, создавая его при отсутствии.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// UpdateProfile записывает присутствующие поля и возвращает итоговый профиль.
	UpdateProfile(ctx context.Context, update ProfileUpdate) (*Profile, error)

	// AppendLedgerEntry добавляет запись в журнал и возвращает её ID.
	// Операция не идемпотентна, повторять её автоматически нельзя.
	AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) (string, error)

	// ListLedgerEntries возвращает последние записи пользователя, новые первыми.
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]*LedgerEntry, error)
}

// BalanceIncrementer - атомарное изменение XP и монет одной операцией.
// Хранилище отклоняет результат ниже нуля ошибкой ErrInsufficientFunds,
// ничего не изменяя. Предпочтительный путь для конкурентных обновлений.
type BalanceIncrementer interface {
	IncrementBalance(ctx context.Context, userID string, deltaXP, deltaCoins int) (*Profile, error)
}

// Subscription - активная подписка на ленту изменений.
type Subscription interface {
	// Unsubscribe идемпотентна: повторные вызовы безопасны.
	Unsubscribe() error
}

// ChangeFeed - push-уведомления об авторитетных изменениях профиля.
type ChangeFeed interface {
	SubscribeProfileChanges(ctx context.Context, userID string, onUpdate func(ProfileUpdate)) (Subscription, error)
}

// ChangePublisher публикует изменения профиля в ленту после записи.
type ChangePublisher interface {
	PublishProfileChange(ctx context.Context, update ProfileUpdate) error
}
