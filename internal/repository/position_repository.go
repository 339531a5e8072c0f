package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/internal/domain"
)

const positionColumns = `
	id, user_id, bot_id, symbol, exchange, instrument_type, side, status,
	entry_price, entry_quantity, current_quantity, average_price,
	realized_pnl, unrealized_pnl, scheduled_exit_at, auto_exit_owned,
	entry_execution_id, exit_execution_ids, created_at, updated_at, closed_at
`

// PositionRepositoryImpl implements the PositionRepository interface
type PositionRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewPositionRepository creates a new PositionRepository
func NewPositionRepository(db *pgxpool.Pool) domain.PositionRepository {
	return &PositionRepositoryImpl{db: db}
}

// Save creates a new position
func (r *PositionRepositoryImpl) Save(ctx context.Context, position *domain.Position) error {
	query := `
		INSERT INTO positions (
			id, user_id, bot_id, symbol, exchange, instrument_type, side, status,
			entry_price, entry_quantity, current_quantity, average_price,
			realized_pnl, unrealized_pnl, scheduled_exit_at, auto_exit_owned,
			entry_execution_id, exit_execution_ids, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
	`

	_, err := r.db.Exec(ctx, query,
		position.ID,
		position.UserID,
		position.BotID,
		position.Symbol,
		position.Exchange,
		position.InstrumentType,
		position.Side,
		position.Status,
		position.EntryPrice,
		position.EntryQuantity,
		position.CurrentQuantity,
		position.AveragePrice,
		position.RealizedPnL,
		position.UnrealizedPnL,
		position.ScheduledExitAt,
		position.AutoExitOwned,
		position.EntryExecutionID,
		position.ExitExecutionIDs,
		position.CreatedAt,
		position.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}

	return nil
}

// Update persists quantity, status, P&L and flag changes
func (r *PositionRepositoryImpl) Update(ctx context.Context, position *domain.Position) error {
	query := `
		UPDATE positions
		SET status = $1,
		    current_quantity = $2,
		    average_price = $3,
		    realized_pnl = $4,
		    unrealized_pnl = $5,
		    scheduled_exit_at = $6,
		    auto_exit_owned = $7,
		    exit_execution_ids = $8,
		    updated_at = $9,
		    closed_at = $10
		WHERE id = $11
	`

	_, err := r.db.Exec(ctx, query,
		position.Status,
		position.CurrentQuantity,
		position.AveragePrice,
		position.RealizedPnL,
		position.UnrealizedPnL,
		position.ScheduledExitAt,
		position.AutoExitOwned,
		position.ExitExecutionIDs,
		position.UpdatedAt,
		position.ClosedAt,
		position.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}

	return nil
}

// GetByID retrieves a position by ID
func (r *PositionRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByEntryExecutionID retrieves the position created from an entry execution
func (r *PositionRepositoryImpl) GetByEntryExecutionID(ctx context.Context, executionID uuid.UUID) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE entry_execution_id = $1`
	return r.scanOne(ctx, query, executionID)
}

// GetOpenPositions retrieves all OPEN/PARTIAL positions across users
func (r *PositionRepositoryImpl) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status IN ('OPEN', 'PARTIAL')
		ORDER BY created_at ASC
	`
	return r.scanMany(ctx, query)
}

// GetOpenByUser retrieves OPEN/PARTIAL positions for a user, optionally
// filtered by bot
func (r *PositionRepositoryImpl) GetOpenByUser(ctx context.Context, userID uuid.UUID, botID string) ([]*domain.Position, error) {
	if botID != "" {
		query := `
			SELECT ` + positionColumns + `
			FROM positions
			WHERE user_id = $1 AND bot_id = $2 AND status IN ('OPEN', 'PARTIAL')
			ORDER BY created_at ASC
		`
		return r.scanMany(ctx, query, userID, botID)
	}

	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE user_id = $1 AND status IN ('OPEN', 'PARTIAL')
		ORDER BY created_at ASC
	`
	return r.scanMany(ctx, query, userID)
}

// GetOpenBySymbol retrieves the user's OPEN/PARTIAL positions for a
// symbol on an exchange
func (r *PositionRepositoryImpl) GetOpenBySymbol(ctx context.Context, userID uuid.UUID, symbol, exchange string) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE user_id = $1 AND symbol = $2 AND exchange = $3
		  AND status IN ('OPEN', 'PARTIAL')
		ORDER BY created_at ASC
	`
	return r.scanMany(ctx, query, userID, symbol, exchange)
}

// GetSchedulable retrieves OPEN/PARTIAL positions with a configured
// exit time and no owned auto-exit timer
func (r *PositionRepositoryImpl) GetSchedulable(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE status IN ('OPEN', 'PARTIAL')
		  AND scheduled_exit_at IS NOT NULL
		  AND auto_exit_owned = FALSE
		ORDER BY created_at ASC
	`
	return r.scanMany(ctx, query)
}

// SetAutoExitOwned toggles the persisted auto-exit timer flag
func (r *PositionRepositoryImpl) SetAutoExitOwned(ctx context.Context, id uuid.UUID, owned bool) error {
	query := `UPDATE positions SET auto_exit_owned = $1, updated_at = NOW() WHERE id = $2`

	if _, err := r.db.Exec(ctx, query, owned, id); err != nil {
		return fmt.Errorf("failed to set auto_exit_owned: %w", err)
	}

	return nil
}

// ResetAutoExitOwnership clears stale timer flags on all open positions
func (r *PositionRepositoryImpl) ResetAutoExitOwnership(ctx context.Context) error {
	query := `
		UPDATE positions SET auto_exit_owned = FALSE, updated_at = NOW()
		WHERE status IN ('OPEN', 'PARTIAL') AND auto_exit_owned = TRUE
	`

	if _, err := r.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to reset auto_exit_owned flags: %w", err)
	}

	return nil
}

// PurgeClosedBefore deletes CLOSED positions closed before the cutoff
func (r *PositionRepositoryImpl) PurgeClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// Audit rows reference positions, so clear them first.
	if _, err := r.db.Exec(ctx,
		`DELETE FROM validations WHERE position_id IN
			(SELECT id FROM positions WHERE status = 'CLOSED' AND closed_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge validations: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`DELETE FROM external_exits WHERE position_id IN
			(SELECT id FROM positions WHERE status = 'CLOSED' AND closed_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge external exits: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE executions SET position_id = NULL WHERE position_id IN
			(SELECT id FROM positions WHERE status = 'CLOSED' AND closed_at < $1)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to unlink executions: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM positions WHERE status = 'CLOSED' AND closed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge closed positions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// GetTodayRealizedPnL sums realized PnL of positions closed since the
// start of the trading day
func (r *PositionRepositoryImpl) GetTodayRealizedPnL(ctx context.Context, userID uuid.UUID, startOfDay time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(realized_pnl), 0)
		FROM positions
		WHERE user_id = $1 AND closed_at >= $2 AND status = 'CLOSED'
	`

	var pnl float64
	if err := r.db.QueryRow(ctx, query, userID, startOfDay).Scan(&pnl); err != nil {
		return 0, fmt.Errorf("failed to calculate today's PnL: %w", err)
	}

	return pnl, nil
}

func (r *PositionRepositoryImpl) scanOne(ctx context.Context, query string, args ...any) (*domain.Position, error) {
	position := &domain.Position{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&position.ID,
		&position.UserID,
		&position.BotID,
		&position.Symbol,
		&position.Exchange,
		&position.InstrumentType,
		&position.Side,
		&position.Status,
		&position.EntryPrice,
		&position.EntryQuantity,
		&position.CurrentQuantity,
		&position.AveragePrice,
		&position.RealizedPnL,
		&position.UnrealizedPnL,
		&position.ScheduledExitAt,
		&position.AutoExitOwned,
		&position.EntryExecutionID,
		&position.ExitExecutionIDs,
		&position.CreatedAt,
		&position.UpdatedAt,
		&position.ClosedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return position, nil
}

func (r *PositionRepositoryImpl) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Position, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		position := &domain.Position{}
		err := rows.Scan(
			&position.ID,
			&position.UserID,
			&position.BotID,
			&position.Symbol,
			&position.Exchange,
			&position.InstrumentType,
			&position.Side,
			&position.Status,
			&position.EntryPrice,
			&position.EntryQuantity,
			&position.CurrentQuantity,
			&position.AveragePrice,
			&position.RealizedPnL,
			&position.UnrealizedPnL,
			&position.ScheduledExitAt,
			&position.AutoExitOwned,
			&position.EntryExecutionID,
			&position.ExitExecutionIDs,
			&position.CreatedAt,
			&position.UpdatedAt,
			&position.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, position)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}
