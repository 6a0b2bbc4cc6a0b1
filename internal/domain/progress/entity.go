// Package progress содержит игровой профиль пользователя (XP, уровень, монеты)
// и неизменяемый журнал начислений XP.
package progress

import (
	"time"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTION TYPES
// ══════════════════════════════════════════════════════════════════════════════

// ActionType - тег действия, за которое начисляется XP.
type ActionType string

const (
	ActionContentCreation      ActionType = "content_creation"
	ActionMarksEntry           ActionType = "marks_entry"
	ActionAttendanceSubmission ActionType = "attendance_submission"
	ActionAnnouncementPost     ActionType = "announcement_post"
	ActionHomeworkPost         ActionType = "homework_post"
	ActionMarketplaceListing   ActionType = "marketplace_listing"
	ActionDailyLogin           ActionType = "daily_login"
)

var knownActions = map[ActionType]struct{}{
	ActionContentCreation:      {},
	ActionMarksEntry:           {},
	ActionAttendanceSubmission: {},
	ActionAnnouncementPost:     {},
	ActionHomeworkPost:         {},
	ActionMarketplaceListing:   {},
	ActionDailyLogin:           {},
}

// IsValid проверяет, что тег входит в известный набор.
func (a ActionType) IsValid() bool {
	_, ok := knownActions[a]
	return ok
}

// String возвращает строковое представление.
func (a ActionType) String() string {
	return string(a)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile - игровой профиль пользователя.
// Один профиль на пользователя, создаётся лениво при первом чтении.
type Profile struct {
	UserID string `json:"user_id"`

	// CurrentXP - накопленный XP, не меньше нуля.
	CurrentXP int `json:"current_xp"`

	// CurrentLevel - уровень, не меньше 1. Авторитетное значение приходит из хранилища.
	CurrentLevel int `json:"current_level"`

	// Coins - баланс монет, не меньше нуля.
	Coins int `json:"coins"`

	// Version растёт при каждой записи в хранилище.
	Version int64 `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewProfile создаёт пустой профиль первого уровня.
func NewProfile(userID string) *Profile {
	return &Profile{
		UserID:       userID,
		CurrentLevel: 1,
	}
}

// Clone возвращает копию профиля.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Validate проверяет инварианты профиля.
func (p *Profile) Validate() error {
	if p.UserID == "" {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvalidInput, "user id is required")
	}
	if p.CurrentXP < 0 {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvariantViolation, "xp is negative")
	}
	if p.CurrentLevel < 1 {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvariantViolation, "level is below 1")
	}
	if p.Coins < 0 {
		return shared.NewDomainError("progress", "Validate", shared.ErrInvariantViolation, "coin balance is negative")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE UPDATE
// ══════════════════════════════════════════════════════════════════════════════

// ProfileUpdate - частичное обновление профиля.
// Nil-поле означает "не изменилось". Используется и лентой изменений,
// и прямой записью UpdateProfile.
type ProfileUpdate struct {
	UserID       string    `json:"user_id"`
	CurrentXP    *int      `json:"current_xp,omitempty"`
	CurrentLevel *int      `json:"current_level,omitempty"`
	Coins        *int      `json:"coins,omitempty"`
	Version      int64     `json:"version,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// IntPtr - helper для заполнения ProfileUpdate.
func IntPtr(v int) *int {
	return &v
}

// FullUpdate строит обновление со всеми полями профиля.
func FullUpdate(p *Profile) ProfileUpdate {
	return ProfileUpdate{
		UserID:       p.UserID,
		CurrentXP:    IntPtr(p.CurrentXP),
		CurrentLevel: IntPtr(p.CurrentLevel),
		Coins:        IntPtr(p.Coins),
		Version:      p.Version,
		UpdatedAt:    p.UpdatedAt,
	}
}

// IsEmpty возвращает true, если обновление не несёт полей.
func (u ProfileUpdate) IsEmpty() bool {
	return u.CurrentXP == nil && u.CurrentLevel == nil && u.Coins == nil
}

// ApplyTo выполняет поверхностное слияние (last-write-wins) присутствующих полей.
func (u ProfileUpdate) ApplyTo(p *Profile) {
	if u.CurrentXP != nil {
		p.CurrentXP = *u.CurrentXP
	}
	if u.CurrentLevel != nil {
		p.CurrentLevel = *u.CurrentLevel
	}
	if u.Coins != nil {
		p.Coins = *u.Coins
	}
	if u.Version > p.Version {
		p.Version = u.Version
	}
	if !u.UpdatedAt.IsZero() {
		p.UpdatedAt = u.UpdatedAt
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// LedgerEntry - неизменяемая запись о начислении XP.
// Записи только добавляются, никогда не изменяются и не удаляются.
type LedgerEntry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ActionType ActionType     `json:"action_type"`
	XPAmount   int            `json:"xp_amount"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewLedgerEntry создаёт запись журнала с проверкой входных данных.
func NewLedgerEntry(id, userID string, action ActionType, xp int, metadata map[string]any, at time.Time) (*LedgerEntry, error) {
	if userID == "" {
		return nil, shared.NewDomainError("progress", "NewLedgerEntry", shared.ErrInvalidInput, "user id is required")
	}
	if !action.IsValid() {
		return nil, shared.NewDomainError("progress", "NewLedgerEntry", shared.ErrInvalidInput, "unknown action type "+string(action))
	}
	if xp <= 0 {
		return nil, shared.NewDomainError("progress", "NewLedgerEntry", shared.ErrInvalidInput, "xp amount must be positive")
	}

	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	return &LedgerEntry{
		ID:         id,
		UserID:     userID,
		ActionType: action,
		XPAmount:   xp,
		Metadata:   meta,
		CreatedAt:  at,
	}, nil
}

// CoinsFor переводит XP в монеты с округлением вниз.
func CoinsFor(xp, divisor int) int {
	if xp <= 0 || divisor <= 0 {
		return 0
	}
	return xp / divisor
}
