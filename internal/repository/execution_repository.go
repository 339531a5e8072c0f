package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/internal/domain"
)

const executionColumns = `
	id, position_id, signal_id, user_id, bot_id, symbol, exchange, instrument_type,
	side, kind, requested_quantity, requested_price, executed_quantity, executed_price,
	broker_order_id, status, exit_reason, broker_response, created_at, updated_at
`

// ExecutionRepositoryImpl implements the ExecutionRepository interface
type ExecutionRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewExecutionRepository creates a new ExecutionRepository
func NewExecutionRepository(db *pgxpool.Pool) domain.ExecutionRepository {
	return &ExecutionRepositoryImpl{db: db}
}

// Save creates a new execution
func (r *ExecutionRepositoryImpl) Save(ctx context.Context, execution *domain.Execution) error {
	query := `
		INSERT INTO executions (
			id, position_id, signal_id, user_id, bot_id, symbol, exchange, instrument_type,
			side, kind, requested_quantity, requested_price, executed_quantity, executed_price,
			broker_order_id, status, exit_reason, broker_response, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := r.db.Exec(ctx, query,
		execution.ID,
		execution.PositionID,
		execution.SignalID,
		execution.UserID,
		execution.BotID,
		execution.Symbol,
		execution.Exchange,
		execution.InstrumentType,
		execution.Side,
		execution.Kind,
		execution.RequestedQuantity,
		execution.RequestedPrice,
		execution.ExecutedQuantity,
		execution.ExecutedPrice,
		execution.BrokerOrderID,
		execution.Status,
		execution.ExitReason,
		execution.BrokerResponse,
		execution.CreatedAt,
		execution.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// Update persists status, fill and linkage changes. Terminal statuses
// are sticky: the WHERE clause refuses to regress an execution that has
// already reached EXECUTED, FAILED or CANCELLED.
func (r *ExecutionRepositoryImpl) Update(ctx context.Context, execution *domain.Execution) error {
	query := `
		UPDATE executions
		SET position_id = $1,
		    executed_quantity = $2,
		    executed_price = $3,
		    broker_order_id = $4,
		    status = $5,
		    exit_reason = $6,
		    broker_response = $7,
		    updated_at = $8
		WHERE id = $9
		  AND (status NOT IN ('EXECUTED', 'FAILED', 'CANCELLED') OR status = $5)
	`

	_, err := r.db.Exec(ctx, query,
		execution.PositionID,
		execution.ExecutedQuantity,
		execution.ExecutedPrice,
		execution.BrokerOrderID,
		execution.Status,
		execution.ExitReason,
		execution.BrokerResponse,
		execution.UpdatedAt,
		execution.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution by ID
func (r *ExecutionRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByBrokerOrderID retrieves an execution by its broker order id
func (r *ExecutionRepositoryImpl) GetByBrokerOrderID(ctx context.Context, brokerOrderID string) (*domain.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE broker_order_id = $1`
	return r.scanOne(ctx, query, brokerOrderID)
}

func (r *ExecutionRepositoryImpl) scanOne(ctx context.Context, query string, args ...any) (*domain.Execution, error) {
	execution := &domain.Execution{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&execution.ID,
		&execution.PositionID,
		&execution.SignalID,
		&execution.UserID,
		&execution.BotID,
		&execution.Symbol,
		&execution.Exchange,
		&execution.InstrumentType,
		&execution.Side,
		&execution.Kind,
		&execution.RequestedQuantity,
		&execution.RequestedPrice,
		&execution.ExecutedQuantity,
		&execution.ExecutedPrice,
		&execution.BrokerOrderID,
		&execution.Status,
		&execution.ExitReason,
		&execution.BrokerResponse,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}
