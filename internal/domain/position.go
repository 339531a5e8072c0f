package domain

import (
	"time"

	"github.com/google/uuid"
)

// Position represents a user's tracked market exposure, built from one
// confirmed entry execution and reduced by zero or more exit executions.
type Position struct {
	ID               uuid.UUID   `json:"id"`
	UserID           uuid.UUID   `json:"user_id"`
	BotID            string      `json:"bot_id"`
	Symbol           string      `json:"symbol"`
	Exchange         string      `json:"exchange"`
	InstrumentType   string      `json:"instrument_type"`
	Side             string      `json:"side"`
	Status           string      `json:"status"`
	EntryPrice       float64     `json:"entry_price"`
	EntryQuantity    int         `json:"entry_quantity"`
	CurrentQuantity  int         `json:"current_quantity"`
	AveragePrice     float64     `json:"average_price"`
	RealizedPnL      float64     `json:"realized_pnl"`
	UnrealizedPnL    float64     `json:"unrealized_pnl"`
	ScheduledExitAt  *string     `json:"scheduled_exit_at,omitempty"` // "HH:MM" time of day
	AutoExitOwned    bool        `json:"auto_exit_owned"`
	EntryExecutionID uuid.UUID   `json:"entry_execution_id"`
	ExitExecutionIDs []uuid.UUID `json:"exit_execution_ids"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ClosedAt         *time.Time  `json:"closed_at,omitempty"`
}

// PositionSide constants
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// PositionStatus constants
const (
	StatusOpen    = "OPEN"
	StatusPartial = "PARTIAL"
	StatusClosed  = "CLOSED"
)

// InstrumentType constants
const (
	InstrumentEquity = "EQ"
	InstrumentOption = "OPT"
	InstrumentFuture = "FUT"
)

// IsLong checks if the position is a LONG position
func (p *Position) IsLong() bool {
	return p.Side == SideLong || p.Side == "BUY"
}

// SideSign returns +1 for LONG positions and -1 for SHORT positions,
// the multiplier used in P&L calculations.
func (p *Position) SideSign() float64 {
	if p.IsLong() {
		return 1
	}
	return -1
}

// IsOpen reports whether the position still has quantity outstanding.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen || p.Status == StatusPartial
}

// RealizedPnLFor calculates the incremental realized P&L of exiting the
// given quantity at the given price against the average entry price.
func (p *Position) RealizedPnLFor(price float64, quantity int) float64 {
	return (price - p.AveragePrice) * float64(quantity) * p.SideSign()
}

// UnrealizedPnLAt calculates the unrealized P&L of the remaining
// quantity marked at the given price.
func (p *Position) UnrealizedPnLAt(price float64) float64 {
	return (price - p.AveragePrice) * float64(p.CurrentQuantity) * p.SideSign()
}

// DeriveStatus returns the status implied by the quantity invariants:
// CLOSED when nothing remains, OPEN when nothing has been exited,
// PARTIAL otherwise.
func (p *Position) DeriveStatus() string {
	switch {
	case p.CurrentQuantity == 0:
		return StatusClosed
	case p.CurrentQuantity == p.EntryQuantity:
		return StatusOpen
	default:
		return StatusPartial
	}
}

// ExitSide returns the order side that reduces this position.
func (p *Position) ExitSide() string {
	if p.IsLong() {
		return OrderSideSell
	}
	return OrderSideBuy
}
