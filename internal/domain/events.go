package domain

import "time"

// EventType определяет тип доменного события магазина.
type EventType string

const (
	EventOrderCreated     EventType = "order.created"
	EventDiscountIssued   EventType = "discount.issued"
	EventDiscountRedeemed EventType = "discount.redeemed"
	EventDiscountRejected EventType = "discount.rejected"
	EventCartItemAdded    EventType = "cart.item_added"
	EventCartItemRemoved  EventType = "cart.item_removed"
)

// Типы агрегатов, к которым относятся события.
const (
	AggregateOrder    = "order"
	AggregateDiscount = "discount"
	AggregateCart     = "cart"
)

// Event: доменное событие, которое Store фиксирует после изменения состояния.
type Event struct {
	Type          EventType
	AggregateType string
	AggregateID   string
	Data          map[string]any
	OccurredAt    time.Time
}

// EventSink принимает события после того, как Store отпустил блокировку.
type EventSink interface {
	Record(events []Event) error
}
