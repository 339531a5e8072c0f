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

const signalColumns = `
	id, bot_id, symbol, action, exchange, instrument_type, quantity, price,
	stop_loss, target, status, error, created_at, processed_at
`

// SignalRepositoryImpl implements the SignalRepository interface
type SignalRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewSignalRepository creates a new SignalRepository
func NewSignalRepository(db *pgxpool.Pool) domain.SignalRepository {
	return &SignalRepositoryImpl{db: db}
}

// Save saves a new signal
func (r *SignalRepositoryImpl) Save(ctx context.Context, signal *domain.Signal) error {
	query := `
		INSERT INTO signals (
			id, bot_id, symbol, action, exchange, instrument_type,
			quantity, price, stop_loss, target, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.Exec(ctx, query,
		signal.ID,
		signal.BotID,
		signal.Symbol,
		signal.Action,
		signal.Exchange,
		signal.InstrumentType,
		signal.Quantity,
		signal.Price,
		signal.StopLoss,
		signal.Target,
		signal.Status,
		signal.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}

	return nil
}

// UpdateStatus updates the processing status of a signal
func (r *SignalRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	query := `
		UPDATE signals
		SET status = $1, error = $2, processed_at = $3
		WHERE id = $4
	`

	now := time.Now()
	if _, err := r.db.Exec(ctx, query, status, errMsg, &now, id); err != nil {
		return fmt.Errorf("failed to update signal status: %w", err)
	}

	return nil
}

// GetByID retrieves a signal by ID
func (r *SignalRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals WHERE id = $1`

	signal := &domain.Signal{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&signal.ID,
		&signal.BotID,
		&signal.Symbol,
		&signal.Action,
		&signal.Exchange,
		&signal.InstrumentType,
		&signal.Quantity,
		&signal.Price,
		&signal.StopLoss,
		&signal.Target,
		&signal.Status,
		&signal.Error,
		&signal.CreatedAt,
		&signal.ProcessedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}

	return signal, nil
}

// GetRecent retrieves the most recent signals
func (r *SignalRepositoryImpl) GetRecent(ctx context.Context, limit int) ([]*domain.Signal, error) {
	query := `
		SELECT ` + signalColumns + `
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w", err)
	}
	defer rows.Close()

	var signals []*domain.Signal
	for rows.Next() {
		signal := &domain.Signal{}
		err := rows.Scan(
			&signal.ID,
			&signal.BotID,
			&signal.Symbol,
			&signal.Action,
			&signal.Exchange,
			&signal.InstrumentType,
			&signal.Quantity,
			&signal.Price,
			&signal.StopLoss,
			&signal.Target,
			&signal.Status,
			&signal.Error,
			&signal.CreatedAt,
			&signal.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, signal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, nil
}
