package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmationState tracks how an order's broker-side outcome is being
// observed, separate from the Execution's business result. It is the
// record the background monitor sweeps when the synchronous confirmation
// path did not run to completion.
type ConfirmationState struct {
	ID                  uuid.UUID           `json:"id"`
	ExecutionID         uuid.UUID           `json:"execution_id"`
	BrokerOrderID       string              `json:"broker_order_id"`
	Status              string              `json:"status"`
	Attempts            int                 `json:"attempts"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastCheckedAt       *time.Time          `json:"last_checked_at,omitempty"`
	History             []ConfirmationEvent `json:"history"`
	LastError           *string             `json:"last_error,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// ConfirmationEvent is one append-only entry in a confirmation's history.
type ConfirmationEvent struct {
	At     time.Time `json:"at"`
	Status string    `json:"status"`
	Note   string    `json:"note,omitempty"`
}

// Confirmation status constants. MANUAL_REVIEW is reachable from any
// non-terminal state and is terminal for automation: only a human
// action clears it.
const (
	ConfirmationPending      = "PENDING"
	ConfirmationConfirming   = "CONFIRMING"
	ConfirmationConfirmed    = "CONFIRMED"
	ConfirmationFailed       = "FAILED"
	ConfirmationManualReview = "MANUAL_REVIEW"
)

// IsTerminal reports whether automation is done with this record.
func (c *ConfirmationState) IsTerminal() bool {
	switch c.Status {
	case ConfirmationConfirmed, ConfirmationFailed, ConfirmationManualReview:
		return true
	}
	return false
}

// AppendEvent records a status observation in the append-only history.
func (c *ConfirmationState) AppendEvent(status, note string) {
	c.History = append(c.History, ConfirmationEvent{
		At:     time.Now(),
		Status: status,
		Note:   note,
	})
}

// Age returns how long the confirmation has existed. The monitor flags
// records older than the configured maximum for manual review.
func (c *ConfirmationState) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
