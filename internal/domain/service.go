package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExitLease provides mutual exclusion around the validate → submit →
// apply-exit sequence for a single position, so a firing timer and a
// concurrently arriving exit signal cannot both submit a closing order.
type ExitLease interface {
	// Acquire obtains the lease for a position. On success it returns a
	// release function that is safe to call more than once. It returns
	// ErrLeaseHeld when another flow holds the lease.
	Acquire(ctx context.Context, positionID uuid.UUID, ttl time.Duration) (func(), error)
}

// Notifier delivers operator-facing notifications. Implementations must
// degrade to no-ops when unconfigured; notification failures are logged,
// never propagated.
type Notifier interface {
	// NotifyManualReview reports a confirmation escalated to MANUAL_REVIEW
	NotifyManualReview(confirmation *ConfirmationState, execution *Execution, reason string) error

	// NotifyExternalExit reports a position reconciled as closed outside
	// the engine
	NotifyExternalExit(position *Position, record *ExternalExitRecord) error

	// NotifyPositionClosed reports a position the engine closed itself
	NotifyPositionClosed(position *Position, execution *Execution) error
}
