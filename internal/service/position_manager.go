package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
)

// PositionManager owns position state transitions. Positions are
// created here when an entry execution is confirmed, and mutated only
// here (exit application) or via the reconciler calling ApplyExit with
// a synthesized execution. A CLOSED position is immutable.
type PositionManager struct {
	positionRepo  domain.PositionRepository
	executionRepo domain.ExecutionRepository
	metrics       *observability.Metrics
}

// EntryParams carries the side and scheduling parameters of a new
// position that are not derivable from the entry execution itself.
type EntryParams struct {
	Side            string
	ScheduledExitAt *string // "HH:MM", nil when the position has no timed exit
}

// NewPositionManager creates a new PositionManager
func NewPositionManager(
	positionRepo domain.PositionRepository,
	executionRepo domain.ExecutionRepository,
	metrics *observability.Metrics,
) *PositionManager {
	return &PositionManager{
		positionRepo:  positionRepo,
		executionRepo: executionRepo,
		metrics:       metrics,
	}
}

// CreatePosition creates an OPEN position from a confirmed entry
// execution and links the execution to it.
func (pm *PositionManager) CreatePosition(ctx context.Context, entry *domain.Execution, params EntryParams) (*domain.Position, error) {
	if entry.Status != domain.ExecutionExecuted {
		return nil, fmt.Errorf("entry execution %s is not confirmed (status=%s)", entry.ID, entry.Status)
	}
	if !entry.IsEntry() {
		return nil, fmt.Errorf("execution %s is not an entry (kind=%s)", entry.ID, entry.Kind)
	}

	instrumentType := entry.InstrumentType
	if instrumentType == "" {
		instrumentType = domain.InstrumentEquity
	}

	now := time.Now()
	position := &domain.Position{
		ID:               uuid.New(),
		UserID:           entry.UserID,
		BotID:            entry.BotID,
		Symbol:           entry.Symbol,
		Exchange:         entry.Exchange,
		InstrumentType:   instrumentType,
		Side:             params.Side,
		Status:           domain.StatusOpen,
		EntryPrice:       entry.ExecutedPrice,
		EntryQuantity:    entry.ExecutedQuantity,
		CurrentQuantity:  entry.ExecutedQuantity,
		AveragePrice:     entry.ExecutedPrice,
		ScheduledExitAt:  params.ScheduledExitAt,
		EntryExecutionID: entry.ID,
		ExitExecutionIDs: []uuid.UUID{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := pm.positionRepo.Save(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to save position: %w", err)
	}

	entry.PositionID = &position.ID
	entry.UpdatedAt = now
	if err := pm.executionRepo.Update(ctx, entry); err != nil {
		// The position exists; the link can be repaired by the monitor's
		// idempotent existence check, so log rather than unwind.
		log.Printf("WARNING: Failed to link entry execution %s to position %s: %v", entry.ID, position.ID, err)
	}

	if pm.metrics != nil {
		pm.metrics.PositionsOpened.Inc()
	}

	log.Printf("[OK] Position OPENED: %s %s | qty=%d @ %.2f | user=%s",
		position.Side, position.Symbol, position.EntryQuantity, position.EntryPrice, position.UserID)

	return position, nil
}

// ApplyExit applies an exit execution of the given quantity and price
// to a position. It decrements the remaining quantity, books the
// incremental realized P&L, derives the new status, and links the exit
// execution.
//
// Returns domain.ErrAlreadyClosed when the position is CLOSED (the
// backstop against duplicate exit application from racing paths) and
// domain.ErrInvalidQuantity when quantity exceeds what remains.
func (pm *PositionManager) ApplyExit(ctx context.Context, position *domain.Position, exit *domain.Execution, quantity int, price float64, reason string) (*domain.Position, error) {
	if position.Status == domain.StatusClosed {
		return nil, domain.ErrAlreadyClosed
	}
	if quantity <= 0 || quantity > position.CurrentQuantity {
		return nil, fmt.Errorf("%w: requested %d, remaining %d", domain.ErrInvalidQuantity, quantity, position.CurrentQuantity)
	}

	now := time.Now()

	position.CurrentQuantity -= quantity
	position.RealizedPnL += position.RealizedPnLFor(price, quantity)
	position.Status = position.DeriveStatus()
	position.ExitExecutionIDs = append(position.ExitExecutionIDs, exit.ID)
	position.UpdatedAt = now
	if position.Status == domain.StatusClosed {
		position.ClosedAt = &now
		position.UnrealizedPnL = 0
		position.AutoExitOwned = false
	}

	if err := pm.positionRepo.Update(ctx, position); err != nil {
		return nil, fmt.Errorf("failed to update position: %w", err)
	}

	// Link and finalize the exit execution's bookkeeping.
	exit.PositionID = &position.ID
	exit.ExitReason = &reason
	if position.Status == domain.StatusClosed {
		exit.Kind = domain.KindExit
	} else {
		exit.Kind = domain.KindPartialExit
	}
	exit.UpdatedAt = now
	if err := pm.executionRepo.Update(ctx, exit); err != nil {
		log.Printf("WARNING: Failed to update exit execution %s: %v", exit.ID, err)
	}

	if pm.metrics != nil {
		pm.metrics.RealizedPnL.Set(position.RealizedPnL)
		if position.Status == domain.StatusClosed {
			pm.metrics.PositionsClosed.WithLabelValues(reason).Inc()
		}
	}

	log.Printf("[OK] Exit applied: %s %s | qty=%d @ %.2f | remaining=%d | status=%s | pnl=%.2f",
		position.Side, position.Symbol, quantity, price, position.CurrentQuantity, position.Status, position.RealizedPnL)

	return position, nil
}

// ListOpenPositions retrieves a user's OPEN/PARTIAL positions,
// optionally filtered by bot.
func (pm *PositionManager) ListOpenPositions(ctx context.Context, userID uuid.UUID, botID string) ([]*domain.Position, error) {
	return pm.positionRepo.GetOpenByUser(ctx, userID, botID)
}

// MarkAutoExitOwned records that an auto-exit timer currently exists
// for this position, so startup recovery can tell which positions still
// need one.
func (pm *PositionManager) MarkAutoExitOwned(ctx context.Context, positionID uuid.UUID) error {
	return pm.positionRepo.SetAutoExitOwned(ctx, positionID, true)
}

// ClearAutoExitOwned clears the persisted timer flag.
func (pm *PositionManager) ClearAutoExitOwned(ctx context.Context, positionID uuid.UUID) error {
	return pm.positionRepo.SetAutoExitOwned(ctx, positionID, false)
}
