package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeflow/internal/domain"
)

// ExternalExitRepositoryImpl implements the ExternalExitRepository interface
type ExternalExitRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewExternalExitRepository creates a new ExternalExitRepository
func NewExternalExitRepository(db *pgxpool.Pool) domain.ExternalExitRepository {
	return &ExternalExitRepositoryImpl{db: db}
}

// Save creates a new external-exit record
func (r *ExternalExitRepositoryImpl) Save(ctx context.Context, record *domain.ExternalExitRecord) error {
	query := `
		INSERT INTO external_exits (
			id, position_id, execution_id, detected_at, exit_quantity,
			exit_price, evidence, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.PositionID,
		record.ExecutionID,
		record.DetectedAt,
		record.ExitQuantity,
		record.ExitPrice,
		record.Evidence,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save external exit record: %w", err)
	}

	return nil
}

// GetByPositionID retrieves the external-exit records for a position
func (r *ExternalExitRepositoryImpl) GetByPositionID(ctx context.Context, positionID uuid.UUID) ([]*domain.ExternalExitRecord, error) {
	query := `
		SELECT id, position_id, execution_id, detected_at, exit_quantity,
		       exit_price, evidence, created_at
		FROM external_exits
		WHERE position_id = $1
		ORDER BY detected_at ASC
	`

	rows, err := r.db.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query external exit records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ExternalExitRecord
	for rows.Next() {
		record := &domain.ExternalExitRecord{}
		err := rows.Scan(
			&record.ID,
			&record.PositionID,
			&record.ExecutionID,
			&record.DetectedAt,
			&record.ExitQuantity,
			&record.ExitPrice,
			&record.Evidence,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external exit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external exit records: %w", err)
	}

	return records, nil
}

// ValidationRepositoryImpl implements the ValidationRepository interface
type ValidationRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewValidationRepository creates a new ValidationRepository
func NewValidationRepository(db *pgxpool.Pool) domain.ValidationRepository {
	return &ValidationRepositoryImpl{db: db}
}

// Save creates a new validation record
func (r *ValidationRepositoryImpl) Save(ctx context.Context, record *domain.ValidationRecord) error {
	query := `
		INSERT INTO validations (
			id, position_id, exists_at_broker, broker_quantity,
			broker_price, broker_pnl, action, checked_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.PositionID,
		record.ExistsAtBroker,
		record.BrokerQuantity,
		record.BrokerPrice,
		record.BrokerPnL,
		record.Action,
		record.CheckedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save validation record: %w", err)
	}

	return nil
}

// GetByPositionID retrieves the validation trail for a position
func (r *ValidationRepositoryImpl) GetByPositionID(ctx context.Context, positionID uuid.UUID) ([]*domain.ValidationRecord, error) {
	query := `
		SELECT id, position_id, exists_at_broker, broker_quantity,
		       broker_price, broker_pnl, action, checked_at
		FROM validations
		WHERE position_id = $1
		ORDER BY checked_at ASC
	`

	rows, err := r.db.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation records: %w", err)
	}
	defer rows.Close()

	var records []*domain.ValidationRecord
	for rows.Next() {
		record := &domain.ValidationRecord{}
		err := rows.Scan(
			&record.ID,
			&record.PositionID,
			&record.ExistsAtBroker,
			&record.BrokerQuantity,
			&record.BrokerPrice,
			&record.BrokerPnL,
			&record.Action,
			&record.CheckedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating validation records: %w", err)
	}

	return records, nil
}
