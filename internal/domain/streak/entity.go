// Package streak содержит правило ежедневной серии активности.
// Правило чистое: оно не знает о хранилище и о текущем времени.
package streak

import (
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

// Transition описывает, что произошло с серией при оценке.
type Transition int

const (
	// TransitionUnchanged - активность уже учтена сегодня (или дата в прошлом).
	TransitionUnchanged Transition = iota
	// TransitionStarted - первая активность в истории пользователя.
	TransitionStarted
	// TransitionContinued - активность на следующий день, серия растёт.
	TransitionContinued
	// TransitionReset - пропущен хотя бы один день, серия начинается заново.
	TransitionReset
)

// String возвращает строковое представление перехода.
func (t Transition) String() string {
	switch t {
	case TransitionUnchanged:
		return "unchanged"
	case TransitionStarted:
		return "started"
	case TransitionContinued:
		return "continued"
	case TransitionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Mutated возвращает true для переходов, меняющих состояние.
func (t Transition) Mutated() bool {
	return t != TransitionUnchanged
}

// Streak - серия дней активности пользователя.
// Инвариант: LongestStreak >= CurrentStreak >= 0.
type Streak struct {
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`

	// LastActivityDate - нулевая дата означает "активности не было".
	LastActivityDate timeutil.Date `json:"last_activity_date"`
}

// New создаёт пустую серию.
func New(userID string) Streak {
	return Streak{UserID: userID}
}

// HasActivity возвращает true, если активность уже была.
func (s Streak) HasActivity() bool {
	return !s.LastActivityDate.IsZero()
}

// Evaluate применяет активность за день today и возвращает новое состояние.
//
//   - последняя дата == today: без изменений (идемпотентно в пределах дня);
//   - последняя дата == today-1: серия +1;
//   - иначе (разрыв или первая активность): серия = 1;
//   - today раньше последней даты (сдвиг часов): без изменений.
//
// При изменении LongestStreak = max(LongestStreak, CurrentStreak), последняя дата = today.
func (s Streak) Evaluate(today timeutil.Date) (Streak, Transition) {
	next := s
	var tr Transition

	switch {
	case !s.HasActivity():
		next.CurrentStreak = 1
		tr = TransitionStarted
	default:
		gap := today.DaysSince(s.LastActivityDate)
		switch {
		case gap <= 0:
			return s, TransitionUnchanged
		case gap == 1:
			next.CurrentStreak = s.CurrentStreak + 1
			tr = TransitionContinued
		default:
			next.CurrentStreak = 1
			tr = TransitionReset
		}
	}

	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastActivityDate = today

	return next, tr
}

// DaysMissed возвращает число пропущенных дней между последней активностью и today.
func (s Streak) DaysMissed(today timeutil.Date) int {
	if !s.HasActivity() {
		return 0
	}
	gap := today.DaysSince(s.LastActivityDate) - 1
	if gap < 0 {
		return 0
	}
	return gap
}

// Validate проверяет инварианты серии.
func (s Streak) Validate() error {
	if s.CurrentStreak < 0 {
		return shared.NewDomainError("streak", "Validate", shared.ErrInvariantViolation, "current streak is negative")
	}
	if s.LongestStreak < s.CurrentStreak {
		return shared.NewDomainError("streak", "Validate", shared.ErrInvariantViolation, "longest streak is below current streak")
	}
	return nil
}
