package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Signals emitted by the engine for the UI layer.
const (
	// Progress events
	EventXPAwarded     EventType = "progress.xp_awarded"
	EventCoinsCredited EventType = "progress.coins_credited"
	EventLevelUp       EventType = "progress.level_up"

	// Streak events
	EventStreakIncreased EventType = "streak.increased"
	EventStreakReset     EventType = "streak.reset"

	// Shop events
	EventItemPurchased   EventType = "shop.item_purchased"
	EventItemEquipped    EventType = "shop.item_equipped"
	EventItemUnequipped  EventType = "shop.item_unequipped"
	EventInventoryHealed EventType = "shop.inventory_healed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the user the event belongs to.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, userID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPAwardedEvent is emitted after a ledger entry was appended.
type XPAwardedEvent struct {
	BaseEvent
	EntryID    string `json:"entry_id"`
	ActionType string `json:"action_type"`
	XPAmount   int    `json:"xp_amount"`
}

// Payload implements Event interface.
func (e XPAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"entry_id":    e.EntryID,
		"action_type": e.ActionType,
		"xp_amount":   e.XPAmount,
	}
}

// NewXPAwardedEvent creates a new XPAwardedEvent.
func NewXPAwardedEvent(userID, entryID, actionType string, xp int) XPAwardedEvent {
	return XPAwardedEvent{
		BaseEvent:  NewBaseEvent(EventXPAwarded, userID),
		EntryID:    entryID,
		ActionType: actionType,
		XPAmount:   xp,
	}
}

// CoinsCreditedEvent is emitted when coins reached the authoritative balance.
type CoinsCreditedEvent struct {
	BaseEvent
	Amount  int `json:"amount"`
	Balance int `json:"balance"`
}

// Payload implements Event interface.
func (e CoinsCreditedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":  e.Amount,
		"balance": e.Balance,
	}
}

// NewCoinsCreditedEvent creates a new CoinsCreditedEvent.
func NewCoinsCreditedEvent(userID string, amount, balance int) CoinsCreditedEvent {
	return CoinsCreditedEvent{
		BaseEvent: NewBaseEvent(EventCoinsCredited, userID),
		Amount:    amount,
		Balance:   balance,
	}
}

// LevelUpEvent is emitted once per observed level transition.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
	TotalXP  int `json:"total_xp"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
		"total_xp":  e.TotalXP,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, oldLevel, newLevel, totalXP int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		TotalXP:   totalXP,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Streak Events
// ═══════════════════════════════════════════════════════════════════════════

// StreakIncreasedEvent is emitted when the current streak grew.
type StreakIncreasedEvent struct {
	BaseEvent
	OldStreak     int `json:"old_streak"`
	NewStreak     int `json:"new_streak"`
	LongestStreak int `json:"longest_streak"`
}

// Payload implements Event interface.
func (e StreakIncreasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_streak":     e.OldStreak,
		"new_streak":     e.NewStreak,
		"longest_streak": e.LongestStreak,
	}
}

// NewStreakIncreasedEvent creates a new StreakIncreasedEvent.
func NewStreakIncreasedEvent(userID string, oldStreak, newStreak, longest int) StreakIncreasedEvent {
	return StreakIncreasedEvent{
		BaseEvent:     NewBaseEvent(EventStreakIncreased, userID),
		OldStreak:     oldStreak,
		NewStreak:     newStreak,
		LongestStreak: longest,
	}
}

// StreakResetEvent is emitted when a streak longer than one day was broken.
type StreakResetEvent struct {
	BaseEvent
	LostStreak int `json:"lost_streak"`
	DaysMissed int `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"lost_streak": e.LostStreak,
		"days_missed": e.DaysMissed,
	}
}

// NewStreakResetEvent creates a new StreakResetEvent.
func NewStreakResetEvent(userID string, lost, daysMissed int) StreakResetEvent {
	return StreakResetEvent{
		BaseEvent:  NewBaseEvent(EventStreakReset, userID),
		LostStreak: lost,
		DaysMissed: daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Shop Events
// ═══════════════════════════════════════════════════════════════════════════

// ItemPurchasedEvent is emitted after a purchase was recorded.
type ItemPurchasedEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
	Cost   int    `json:"cost"`
}

// Payload implements Event interface.
func (e ItemPurchasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"item_id": e.ItemID,
		"cost":    e.Cost,
	}
}

// NewItemPurchasedEvent creates a new ItemPurchasedEvent.
func NewItemPurchasedEvent(userID, itemID string, cost int) ItemPurchasedEvent {
	return ItemPurchasedEvent{
		BaseEvent: NewBaseEvent(EventItemPurchased, userID),
		ItemID:    itemID,
		Cost:      cost,
	}
}

// ItemEquippedEvent is emitted when the equipped item changed.
// It doubles as the unequip signal through its event type.
type ItemEquippedEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

// Payload implements Event interface.
func (e ItemEquippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"item_id": e.ItemID,
	}
}

// NewItemEquippedEvent creates a new ItemEquippedEvent.
func NewItemEquippedEvent(userID, itemID string) ItemEquippedEvent {
	return ItemEquippedEvent{
		BaseEvent: NewBaseEvent(EventItemEquipped, userID),
		ItemID:    itemID,
	}
}

// NewItemUnequippedEvent creates an ItemEquippedEvent of type EventItemUnequipped.
func NewItemUnequippedEvent(userID, itemID string) ItemEquippedEvent {
	return ItemEquippedEvent{
		BaseEvent: NewBaseEvent(EventItemUnequipped, userID),
		ItemID:    itemID,
	}
}

// InventoryHealedEvent is emitted after a double-equipped inventory was repaired.
type InventoryHealedEvent struct {
	BaseEvent
	KeptItemID      string   `json:"kept_item_id"`
	UnequippedItems []string `json:"unequipped_items"`
}

// Payload implements Event interface.
func (e InventoryHealedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kept_item_id":     e.KeptItemID,
		"unequipped_items": e.UnequippedItems,
	}
}

// NewInventoryHealedEvent creates a new InventoryHealedEvent.
func NewInventoryHealedEvent(userID, kept string, unequipped []string) InventoryHealedEvent {
	return InventoryHealedEvent{
		BaseEvent:       NewBaseEvent(EventInventoryHealed, userID),
		KeptItemID:      kept,
		UnequippedItems: unequipped,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Publishing
// ═══════════════════════════════════════════════════════════════════════════

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event Event) error
}

// EventHandler handles a single domain event.
type EventHandler func(event Event) error

// EventSubscriber registers handlers for event types.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for every event.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(Event) error { return nil }
