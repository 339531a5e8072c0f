package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal is a normalized trading signal delivered by an external signal
// source. The engine trusts it as pre-validated input.
type Signal struct {
	ID             uuid.UUID  `json:"id"`
	BotID          string     `json:"bot_id"`
	Symbol         string     `json:"symbol"`
	Action         string     `json:"action"`
	Exchange       string     `json:"exchange"`
	InstrumentType string     `json:"instrument_type"`
	Quantity       int        `json:"quantity"`
	Price          *float64   `json:"price,omitempty"`
	StopLoss       *float64   `json:"stop_loss,omitempty"`
	Target         *float64   `json:"target,omitempty"`
	Status         string     `json:"status"`
	Error          *string    `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// Signal action constants
const (
	ActionEntry = "ENTRY"
	ActionExit  = "EXIT"
	ActionBuy   = "BUY"
	ActionSell  = "SELL"
)

// Signal status constants
const (
	SignalPending   = "PENDING"
	SignalProcessed = "PROCESSED"
	SignalFailed    = "FAILED"
	SignalSkipped   = "SKIPPED"
)

// IsEntry reports whether the signal opens exposure. BUY doubles as an
// entry action for long-only bots.
func (s *Signal) IsEntry() bool {
	return s.Action == ActionEntry || s.Action == ActionBuy
}

// PositionSide returns the position side an entry signal opens.
func (s *Signal) PositionSide() string {
	if s.Action == ActionSell {
		return SideShort
	}
	return SideLong
}
