package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateReservation OutboxAggregateType = "reservation"
	AggregateInventory   OutboxAggregateType = "inventory"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateReservation,
	AggregateInventory,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventStockReserved      OutboxEventType = "stock_reserved"
	EventStockCommitted     OutboxEventType = "stock_committed"
	EventStockReleased      OutboxEventType = "stock_released"
	EventStockAdjusted      OutboxEventType = "stock_adjusted"
	EventReservationExpired OutboxEventType = "reservation_expired"
	EventOrderPlaced        OutboxEventType = "order_placed"
	EventOrderStateChanged  OutboxEventType = "order_state_changed"
	EventOrderReassigned    OutboxEventType = "order_reassigned"
	EventOrderStranded      OutboxEventType = "order_stranded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventStockReserved,
	EventStockCommitted,
	EventStockReleased,
	EventStockAdjusted,
	EventReservationExpired,
	EventOrderPlaced,
	EventOrderStateChanged,
	EventOrderReassigned,
	EventOrderStranded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
