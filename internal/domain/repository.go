package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PositionRepository defines the interface for position persistence.
// The store is the single source of truth for position state; in-memory
// scheduler state is always re-derivable from it.
type PositionRepository interface {
	// Save creates a new position
	Save(ctx context.Context, position *Position) error

	// Update persists quantity, status, P&L and flag changes
	Update(ctx context.Context, position *Position) error

	// GetByID retrieves a position by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Position, error)

	// GetByEntryExecutionID retrieves the position created from a given
	// entry execution, or ErrNotFound. Used as the idempotent existence
	// check before the monitor creates a position for a late-confirmed
	// entry.
	GetByEntryExecutionID(ctx context.Context, executionID uuid.UUID) (*Position, error)

	// GetOpenPositions retrieves all OPEN/PARTIAL positions across users
	GetOpenPositions(ctx context.Context) ([]*Position, error)

	// GetOpenByUser retrieves OPEN/PARTIAL positions for a user,
	// optionally filtered by bot
	GetOpenByUser(ctx context.Context, userID uuid.UUID, botID string) ([]*Position, error)

	// GetOpenBySymbol retrieves the user's OPEN/PARTIAL positions for a
	// symbol on an exchange
	GetOpenBySymbol(ctx context.Context, userID uuid.UUID, symbol, exchange string) ([]*Position, error)

	// GetSchedulable retrieves OPEN/PARTIAL positions that have a
	// configured exit time but no owned auto-exit timer. This is the
	// recovery query run at startup.
	GetSchedulable(ctx context.Context) ([]*Position, error)

	// SetAutoExitOwned toggles the persisted auto-exit timer flag
	SetAutoExitOwned(ctx context.Context, id uuid.UUID, owned bool) error

	// ResetAutoExitOwnership clears the timer flag on every open
	// position. Timers do not survive a restart, so the flags are stale
	// by definition when the process comes back up; the scheduler resets
	// them before running the recovery query.
	ResetAutoExitOwnership(ctx context.Context) error

	// PurgeClosedBefore deletes CLOSED positions closed before the
	// cutoff, returning the number removed
	PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetTodayRealizedPnL sums realized PnL of positions closed since
	// the start of the trading day
	GetTodayRealizedPnL(ctx context.Context, userID uuid.UUID, startOfDay time.Time) (float64, error)
}

// ExecutionRepository defines the interface for execution persistence
type ExecutionRepository interface {
	// Save creates a new execution
	Save(ctx context.Context, execution *Execution) error

	// Update persists status, fill and linkage changes
	Update(ctx context.Context, execution *Execution) error

	// GetByID retrieves an execution by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)

	// GetByBrokerOrderID retrieves an execution by its broker order id
	GetByBrokerOrderID(ctx context.Context, brokerOrderID string) (*Execution, error)
}

// ConfirmationRepository defines the interface for confirmation-state
// persistence
type ConfirmationRepository interface {
	// Save creates a new confirmation record
	Save(ctx context.Context, confirmation *ConfirmationState) error

	// Update persists status, attempt and history changes
	Update(ctx context.Context, confirmation *ConfirmationState) error

	// GetByID retrieves a confirmation record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*ConfirmationState, error)

	// GetByExecutionID retrieves the confirmation record for an execution
	GetByExecutionID(ctx context.Context, executionID uuid.UUID) (*ConfirmationState, error)

	// GetUnresolved retrieves up to limit records still in
	// PENDING/CONFIRMING, oldest check first. This is the monitor's
	// sweep query.
	GetUnresolved(ctx context.Context, limit int) ([]*ConfirmationState, error)

	// GetManualReview retrieves records awaiting human action, newest
	// first
	GetManualReview(ctx context.Context, limit int) ([]*ConfirmationState, error)

	// ResolveManualReview moves a MANUAL_REVIEW record to the given
	// terminal status. This is the only write allowed to leave
	// MANUAL_REVIEW; it is invoked on explicit operator action.
	ResolveManualReview(ctx context.Context, id uuid.UUID, status, note string) error
}

// SignalRepository defines the interface for signal persistence
type SignalRepository interface {
	// Save saves a new signal
	Save(ctx context.Context, signal *Signal) error

	// UpdateStatus updates the processing status of a signal
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error

	// GetByID retrieves a signal by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Signal, error)

	// GetRecent retrieves the most recent signals
	GetRecent(ctx context.Context, limit int) ([]*Signal, error)
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetByUsername retrieves a user by username
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetAutoTradeUsers retrieves users with auto-trade enabled
	GetAutoTradeUsers(ctx context.Context) ([]*User, error)

	// UpdateBrokerCredentials replaces a user's sealed broker credentials
	UpdateBrokerCredentials(ctx context.Context, id uuid.UUID, sealed []byte) error

	// UpdateAutoTradeStatus updates the auto-trade flag for a user
	UpdateAutoTradeStatus(ctx context.Context, id uuid.UUID, enabled bool) error
}

// ExternalExitRepository defines the interface for external-exit audit
// records
type ExternalExitRepository interface {
	// Save creates a new external-exit record
	Save(ctx context.Context, record *ExternalExitRecord) error

	// GetByPositionID retrieves the external-exit records for a position
	GetByPositionID(ctx context.Context, positionID uuid.UUID) ([]*ExternalExitRecord, error)
}

// ValidationRepository defines the interface for validation audit entries
type ValidationRepository interface {
	// Save creates a new validation record
	Save(ctx context.Context, record *ValidationRecord) error

	// GetByPositionID retrieves the validation trail for a position
	GetByPositionID(ctx context.Context, positionID uuid.UUID) ([]*ValidationRecord, error)
}
