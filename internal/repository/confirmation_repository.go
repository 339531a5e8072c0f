package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/internal/domain"
)

const confirmationColumns = `
	id, execution_id, broker_order_id, status, attempts, consecutive_failures,
	last_checked_at, history, last_error, created_at, updated_at
`

// ConfirmationRepositoryImpl implements the ConfirmationRepository interface
type ConfirmationRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewConfirmationRepository creates a new ConfirmationRepository
func NewConfirmationRepository(db *pgxpool.Pool) domain.ConfirmationRepository {
	return &ConfirmationRepositoryImpl{db: db}
}

// Save creates a new confirmation record
func (r *ConfirmationRepositoryImpl) Save(ctx context.Context, confirmation *domain.ConfirmationState) error {
	history, err := json.Marshal(confirmation.History)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation history: %w", err)
	}

	query := `
		INSERT INTO confirmations (
			id, execution_id, broker_order_id, status, attempts,
			consecutive_failures, last_checked_at, history, last_error,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err = r.db.Exec(ctx, query,
		confirmation.ID,
		confirmation.ExecutionID,
		confirmation.BrokerOrderID,
		confirmation.Status,
		confirmation.Attempts,
		confirmation.ConsecutiveFailures,
		confirmation.LastCheckedAt,
		history,
		confirmation.LastError,
		confirmation.CreatedAt,
		confirmation.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save confirmation: %w", err)
	}

	return nil
}

// Update persists status, attempt and history changes. Records that
// have reached a terminal status stay there unless the update carries
// the same status; MANUAL_REVIEW in particular is cleared only by a
// human through a direct status write.
func (r *ConfirmationRepositoryImpl) Update(ctx context.Context, confirmation *domain.ConfirmationState) error {
	history, err := json.Marshal(confirmation.History)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation history: %w", err)
	}

	query := `
		UPDATE confirmations
		SET status = $1,
		    attempts = $2,
		    consecutive_failures = $3,
		    last_checked_at = $4,
		    history = $5,
		    last_error = $6,
		    updated_at = $7
		WHERE id = $8
		  AND (status NOT IN ('CONFIRMED', 'FAILED', 'MANUAL_REVIEW') OR status = $1)
	`

	_, err = r.db.Exec(ctx, query,
		confirmation.Status,
		confirmation.Attempts,
		confirmation.ConsecutiveFailures,
		confirmation.LastCheckedAt,
		history,
		confirmation.LastError,
		confirmation.UpdatedAt,
		confirmation.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update confirmation: %w", err)
	}

	return nil
}

// GetByID retrieves a confirmation record by ID
func (r *ConfirmationRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.ConfirmationState, error) {
	query := `SELECT ` + confirmationColumns + ` FROM confirmations WHERE id = $1`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, id))
}

// GetByExecutionID retrieves the confirmation record for an execution
func (r *ConfirmationRepositoryImpl) GetByExecutionID(ctx context.Context, executionID uuid.UUID) (*domain.ConfirmationState, error) {
	query := `SELECT ` + confirmationColumns + ` FROM confirmations WHERE execution_id = $1`
	return r.scanOne(ctx, r.db.QueryRow(ctx, query, executionID))
}

// GetUnresolved retrieves up to limit records still in PENDING/CONFIRMING,
// oldest check first so starved records are swept before busy ones
func (r *ConfirmationRepositoryImpl) GetUnresolved(ctx context.Context, limit int) ([]*domain.ConfirmationState, error) {
	query := `
		SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE status IN ('PENDING', 'CONFIRMING')
		ORDER BY last_checked_at ASC NULLS FIRST
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []*domain.ConfirmationState
	for rows.Next() {
		confirmation, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, confirmation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating confirmations: %w", err)
	}

	return confirmations, nil
}

// GetManualReview retrieves records awaiting human action, newest first
func (r *ConfirmationRepositoryImpl) GetManualReview(ctx context.Context, limit int) ([]*domain.ConfirmationState, error) {
	query := `
		SELECT ` + confirmationColumns + `
		FROM confirmations
		WHERE status = 'MANUAL_REVIEW'
		ORDER BY updated_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query manual review confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []*domain.ConfirmationState
	for rows.Next() {
		confirmation, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, confirmation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating confirmations: %w", err)
	}

	return confirmations, nil
}

// ResolveManualReview moves a MANUAL_REVIEW record to a terminal status
// on explicit operator action. The WHERE clause guarantees nothing else
// can be resolved through this path.
func (r *ConfirmationRepositoryImpl) ResolveManualReview(ctx context.Context, id uuid.UUID, status, note string) error {
	event, err := json.Marshal([]domain.ConfirmationEvent{{
		At:     time.Now(),
		Status: status,
		Note:   note,
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal resolution event: %w", err)
	}

	query := `
		UPDATE confirmations
		SET status = $1,
		    history = history || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $3 AND status = 'MANUAL_REVIEW'
	`

	tag, err := r.db.Exec(ctx, query, status, event, id)
	if err != nil {
		return fmt.Errorf("failed to resolve manual review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ConfirmationRepositoryImpl) scanOne(_ context.Context, row pgx.Row) (*domain.ConfirmationState, error) {
	confirmation, err := r.scanRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return confirmation, err
}

func (r *ConfirmationRepositoryImpl) scanRow(row rowScanner) (*domain.ConfirmationState, error) {
	confirmation := &domain.ConfirmationState{}
	var history []byte

	err := row.Scan(
		&confirmation.ID,
		&confirmation.ExecutionID,
		&confirmation.BrokerOrderID,
		&confirmation.Status,
		&confirmation.Attempts,
		&confirmation.ConsecutiveFailures,
		&confirmation.LastCheckedAt,
		&history,
		&confirmation.LastError,
		&confirmation.CreatedAt,
		&confirmation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan confirmation: %w", err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &confirmation.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal confirmation history: %w", err)
		}
	}

	return confirmation, nil
}
