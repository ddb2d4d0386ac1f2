package event

import (
	"time"
)

// EventType discriminator for event payloads.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeAssetListed
	EventTypeDeposited
	EventTypeWithdrawn
	EventTypeBorrowed
	EventTypeRepaid
	EventTypeLiquidated
	EventTypePauseChanged
)

// Envelope wraps every committed operation in the log.
type Envelope struct {
	// Global monotonic sequence assigned by the engine.
	Sequence int64

	// Stable idempotency key, the operation ID.
	IdempotencyKey string

	// Event type discriminator.
	EventType EventType

	// Asset context (nil for global events such as pause changes).
	Asset *string

	// Engine clock at commit time.
	Timestamp time.Time

	// JSON-encoded event-specific data.
	Payload []byte

	// SHA-256 of ledger state AFTER applying this event.
	StateHash [32]byte

	// Previous event's state hash (chain integrity).
	PrevHash [32]byte
}

// Event is the interface all operation payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key.
	IdempotencyKey() string

	// EventType returns the discriminator.
	EventType() EventType

	// AssetSymbol returns the asset context (nil for global events).
	AssetSymbol() *string
}

// ParseEventType maps the persisted name back to the discriminator.
func ParseEventType(name string) EventType {
	switch name {
	case "AssetListed":
		return EventTypeAssetListed
	case "Deposited":
		return EventTypeDeposited
	case "Withdrawn":
		return EventTypeWithdrawn
	case "Borrowed":
		return EventTypeBorrowed
	case "Repaid":
		return EventTypeRepaid
	case "Liquidated":
		return EventTypeLiquidated
	case "PauseChanged":
		return EventTypePauseChanged
	default:
		return EventTypeUnknown
	}
}

func (et EventType) String() string {
	switch et {
	case EventTypeAssetListed:
		return "AssetListed"
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeWithdrawn:
		return "Withdrawn"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeLiquidated:
		return "Liquidated"
	case EventTypePauseChanged:
		return "PauseChanged"
	default:
		return "Unknown"
	}
}
