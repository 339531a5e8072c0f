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

const userColumns = `
	id, username, password_hash, role, broker_credentials,
	is_auto_trade_enabled, max_daily_orders, created_at, updated_at
`

// UserRepositoryImpl implements the UserRepository interface
type UserRepositoryImpl struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *pgxpool.Pool) domain.UserRepository {
	return &UserRepositoryImpl{db: db}
}

// Create creates a new user
func (r *UserRepositoryImpl) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, username, password_hash, role, broker_credentials,
			is_auto_trade_enabled, max_daily_orders, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.BrokerCredentials,
		user.IsAutoTradeEnabled,
		user.MaxDailyOrders,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByUsername retrieves a user by username
func (r *UserRepositoryImpl) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanOne(ctx, query, username)
}

// GetAutoTradeUsers retrieves users with auto-trade enabled
func (r *UserRepositoryImpl) GetAutoTradeUsers(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE is_auto_trade_enabled = TRUE`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-trade users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user := &domain.User{}
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.PasswordHash,
			&user.Role,
			&user.BrokerCredentials,
			&user.IsAutoTradeEnabled,
			&user.MaxDailyOrders,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// UpdateBrokerCredentials replaces a user's sealed broker credentials
func (r *UserRepositoryImpl) UpdateBrokerCredentials(ctx context.Context, id uuid.UUID, sealed []byte) error {
	query := `UPDATE users SET broker_credentials = $1, updated_at = $2 WHERE id = $3`

	if _, err := r.db.Exec(ctx, query, sealed, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update broker credentials: %w", err)
	}

	return nil
}

// UpdateAutoTradeStatus updates the auto-trade flag for a user
func (r *UserRepositoryImpl) UpdateAutoTradeStatus(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `UPDATE users SET is_auto_trade_enabled = $1, updated_at = $2 WHERE id = $3`

	if _, err := r.db.Exec(ctx, query, enabled, time.Now(), id); err != nil {
		return fmt.Errorf("failed to update auto-trade status: %w", err)
	}

	return nil
}

func (r *UserRepositoryImpl) scanOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.BrokerCredentials,
		&user.IsAutoTradeEnabled,
		&user.MaxDailyOrders,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
