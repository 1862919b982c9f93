package model

import "time"

// EventType identifies a domain event delivered over the stream.
type EventType string

const (
	EventSaleWindowChanged EventType = "sale_window_changed"
	EventBalanceChanged    EventType = "balance_changed"
	EventPurchase          EventType = "purchase"
)

// Field names a piece of synchronized state tracked by the orchestrator.
type Field string

const (
	FieldSaleWindow Field = "sale_window"
	FieldBalance    Field = "balance"
)

// SaleWindow is the public sale start/end (seconds since epoch).
type SaleWindow struct {
	StartsAt int64
	EndsAt   int64
}

// Purchase is a one-shot buy event. Value is the amount paid in base
// units, kept as a decimal string to avoid precision loss.
type Purchase struct {
	Buyer   string
	Amount  int64
	Value   string
	ChainID int64
}

// SaleState is the authoritative snapshot served by the source REST API.
type SaleState struct {
	Window  SaleWindow
	Balance string
}

// Event is a decoded domain event. Exactly one payload field is set,
// according to Type.
type Event struct {
	Type     EventType
	Window   *SaleWindow // EventSaleWindowChanged
	Balance  string      // EventBalanceChanged
	Purchase *Purchase   // EventPurchase

	// Forced bypasses the change-detection guard. Used for the initial
	// startup sync, which must reach every target even when nothing
	// changed.
	Forced bool

	ReceivedAt time.Time
}
