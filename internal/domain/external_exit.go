package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExternalExitRecord is the audit entity written when the reconciler
// determines a position was closed outside the engine's control. It
// carries the evidence an operator needs to see why no exit order was
// submitted.
type ExternalExitRecord struct {
	ID           uuid.UUID `json:"id"`
	PositionID   uuid.UUID `json:"position_id"`
	ExecutionID  uuid.UUID `json:"execution_id"` // the synthesized closing execution
	DetectedAt   time.Time `json:"detected_at"`
	ExitQuantity int       `json:"exit_quantity"`
	ExitPrice    float64   `json:"exit_price"`
	Evidence     string    `json:"evidence"` // validation snapshot, JSON
	CreatedAt    time.Time `json:"created_at"`
}

// ValidationRecord is the audit entry persisted on every validator
// invocation, tagged with which action was taken. This trail is what
// lets an operator distinguish "the engine closed this" from "a human
// closed this and the engine noticed".
type ValidationRecord struct {
	ID             uuid.UUID `json:"id"`
	PositionID     uuid.UUID `json:"position_id"`
	ExistsAtBroker bool      `json:"exists_at_broker"`
	BrokerQuantity int       `json:"broker_quantity"`
	BrokerPrice    float64   `json:"broker_price"`
	BrokerPnL      float64   `json:"broker_pnl"`
	Action         string    `json:"action"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Validation action constants
const (
	ValidationActionExit       = "EXIT_SUBMITTED"
	ValidationActionReconciled = "RECONCILED_EXTERNAL"
	ValidationActionSkipped    = "SKIPPED"
)
