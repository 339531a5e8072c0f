package domain

import (
	"time"

	"github.com/google/uuid"
)

// Execution represents one order's lifecycle record: what was requested,
// what the broker actually did, and how the order relates to a position.
type Execution struct {
	ID                uuid.UUID  `json:"id"`
	PositionID        *uuid.UUID `json:"position_id,omitempty"` // nil until linked to a position
	SignalID          *uuid.UUID `json:"signal_id,omitempty"`
	UserID            uuid.UUID  `json:"user_id"`
	BotID             string     `json:"bot_id"`
	Symbol            string     `json:"symbol"`
	Exchange          string     `json:"exchange"`
	InstrumentType    string     `json:"instrument_type"`
	Side              string     `json:"side"` // BUY or SELL
	Kind              string     `json:"kind"`
	RequestedQuantity int        `json:"requested_quantity"`
	RequestedPrice    float64    `json:"requested_price"`
	ExecutedQuantity  int        `json:"executed_quantity"`
	ExecutedPrice     float64    `json:"executed_price"`
	BrokerOrderID     string     `json:"broker_order_id"`
	Status            string     `json:"status"`
	ExitReason        *string    `json:"exit_reason,omitempty"`
	BrokerResponse    *string    `json:"broker_response,omitempty"` // raw broker payload for audit
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ExecutionStatus constants
const (
	ExecutionPending   = "PENDING"
	ExecutionExecuted  = "EXECUTED"
	ExecutionFailed    = "FAILED"
	ExecutionCancelled = "CANCELLED"
)

// ExecutionKind constants
const (
	KindEntry       = "ENTRY"
	KindExit        = "EXIT"
	KindPartialExit = "PARTIAL_EXIT"
)

// ExitReason constants (why an exit execution happened)
const (
	ExitReasonSignal        = "SIGNAL"
	ExitReasonAutoSquareOff = "AUTO_SQUARE_OFF"
	ExitReasonExternal      = "EXTERNAL_MANUAL_EXIT"
	ExitReasonManual        = "MANUAL"
)

// Order side constants
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order type constants
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// IsTerminal reports whether the execution status can no longer change.
// Terminal states are sticky: neither the confirmation protocol nor the
// background monitor may regress them.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionExecuted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// IsEntry reports whether this execution opens a position.
func (e *Execution) IsEntry() bool {
	return e.Kind == KindEntry
}
