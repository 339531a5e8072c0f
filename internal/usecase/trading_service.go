package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
	"tradeflow/internal/service"
	"tradeflow/internal/utils"
)

// AutoExitScheduler is the slice of the exit scheduler the trading flow
// needs: arm a timer on entry, disarm it when a signal closes the
// position first.
type AutoExitScheduler interface {
	Schedule(ctx context.Context, position *domain.Position, exitAt string) error
	Cancel(positionID uuid.UUID)
}

// TradingService orchestrates the signal-to-position flow: persist the
// signal, fan it out to auto-trade users, place and confirm orders, and
// hand the resulting positions to the lifecycle services.
type TradingService struct {
	signalRepo      domain.SignalRepository
	positionRepo    domain.PositionRepository
	executionRepo   domain.ExecutionRepository
	userRepo        domain.UserRepository
	gateway         domain.BrokerGateway
	positionManager *service.PositionManager
	confirmations   *service.ConfirmationService
	validator       *service.ValidatorService
	scheduler       AutoExitScheduler
	defaultExitTime string
	metrics         *observability.Metrics

	counters *DailyOrderCounter
}

// NewTradingService creates a new TradingService
func NewTradingService(
	signalRepo domain.SignalRepository,
	positionRepo domain.PositionRepository,
	executionRepo domain.ExecutionRepository,
	userRepo domain.UserRepository,
	gateway domain.BrokerGateway,
	positionManager *service.PositionManager,
	confirmations *service.ConfirmationService,
	validator *service.ValidatorService,
	scheduler AutoExitScheduler,
	defaultExitTime string,
	metrics *observability.Metrics,
) *TradingService {
	return &TradingService{
		signalRepo:      signalRepo,
		positionRepo:    positionRepo,
		executionRepo:   executionRepo,
		userRepo:        userRepo,
		gateway:         gateway,
		positionManager: positionManager,
		confirmations:   confirmations,
		validator:       validator,
		scheduler:       scheduler,
		defaultExitTime: defaultExitTime,
		metrics:         metrics,
		counters:        NewDailyOrderCounter(),
	}
}

// ProcessSignal persists an incoming signal and applies it to every
// auto-trade user. The signal itself is trusted as pre-validated input;
// per-user failures mark the signal FAILED but never abort the fan-out.
func (ts *TradingService) ProcessSignal(ctx context.Context, signal *domain.Signal) error {
	signal.ID = uuid.New()
	signal.Status = domain.SignalPending
	signal.CreatedAt = time.Now()

	if err := ts.signalRepo.Save(ctx, signal); err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}

	log.Printf("[Signal] %s %s %s qty=%d (bot %s)",
		signal.Action, signal.Symbol, signal.Exchange, signal.Quantity, signal.BotID)

	users, err := ts.userRepo.GetAutoTradeUsers(ctx)
	if err != nil {
		ts.markSignal(ctx, signal.ID, domain.SignalFailed, err)
		return fmt.Errorf("failed to load auto-trade users: %w", err)
	}
	if len(users) == 0 {
		ts.markSignal(ctx, signal.ID, domain.SignalSkipped, errors.New("no auto-trade users"))
		return nil
	}

	var firstErr error
	applied := 0
	for _, user := range users {
		var err error
		if signal.IsEntry() {
			err = ts.handleEntry(ctx, user, signal)
		} else {
			err = ts.handleExit(ctx, user, signal)
		}
		if err != nil {
			log.Printf("WARNING: Signal %s failed for user %s: %v", signal.ID, user.Username, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}

	switch {
	case applied > 0:
		ts.markSignal(ctx, signal.ID, domain.SignalProcessed, nil)
	case firstErr != nil:
		ts.markSignal(ctx, signal.ID, domain.SignalFailed, firstErr)
	default:
		ts.markSignal(ctx, signal.ID, domain.SignalSkipped, nil)
	}

	return firstErr
}

// handleEntry opens a position for one user: place the order, confirm
// it synchronously, create the position from the confirmed fill and arm
// its auto-exit timer.
func (ts *TradingService) handleEntry(ctx context.Context, user *domain.User, signal *domain.Signal) error {
	if signal.Quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	if user.MaxDailyOrders > 0 && ts.counters.CountFor(user.ID) >= user.MaxDailyOrders {
		log.Printf("[Signal] Daily order cap reached for user %s, skipping entry", user.Username)
		return nil
	}

	// One open position per symbol per user; a duplicate entry signal is
	// skipped, not stacked.
	existing, err := ts.positionRepo.GetOpenBySymbol(ctx, user.ID, signal.Symbol, signal.Exchange)
	if err != nil {
		return fmt.Errorf("failed to check open positions: %w", err)
	}
	if len(existing) > 0 {
		log.Printf("[Signal] User %s already holds %s, skipping entry", user.Username, signal.Symbol)
		return nil
	}

	side := domain.OrderSideBuy
	if signal.PositionSide() == domain.SideShort {
		side = domain.OrderSideSell
	}

	orderType := domain.OrderTypeMarket
	price := 0.0
	if signal.Price != nil {
		orderType = domain.OrderTypeLimit
		price = *signal.Price
	}

	now := time.Now()
	execution := &domain.Execution{
		ID:                uuid.New(),
		SignalID:          &signal.ID,
		UserID:            user.ID,
		BotID:             signal.BotID,
		Symbol:            signal.Symbol,
		Exchange:          signal.Exchange,
		InstrumentType:    signal.InstrumentType,
		Side:              side,
		Kind:              domain.KindEntry,
		RequestedQuantity: signal.Quantity,
		RequestedPrice:    price,
		Status:            domain.ExecutionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := ts.executionRepo.Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save entry execution: %w", err)
	}

	placed, err := ts.gateway.PlaceOrder(ctx, user.ID, domain.OrderRequest{
		Exchange:  signal.Exchange,
		Symbol:    signal.Symbol,
		Side:      side,
		Quantity:  signal.Quantity,
		OrderType: orderType,
		Price:     price,
	})
	if err != nil {
		execution.Status = domain.ExecutionFailed
		execution.UpdatedAt = time.Now()
		if uerr := ts.executionRepo.Update(ctx, execution); uerr != nil {
			log.Printf("ERROR: Failed to mark execution %s failed: %v", execution.ID, uerr)
		}
		if ts.metrics != nil {
			ts.metrics.OrdersRejected.Inc()
		}
		return fmt.Errorf("failed to place entry order: %w", err)
	}

	execution.BrokerOrderID = placed.OrderID
	execution.BrokerResponse = &placed.RawResponse
	execution.UpdatedAt = time.Now()
	if err := ts.executionRepo.Update(ctx, execution); err != nil {
		return fmt.Errorf("failed to record broker order id: %w", err)
	}

	// The PENDING record must exist before confirmation starts: if this
	// process dies between here and Confirm, the monitor still finds the
	// order in its unresolved sweep.
	if err := ts.confirmations.Track(ctx, execution); err != nil {
		log.Printf("ERROR: Failed to track confirmation for order %s: %v", placed.OrderID, err)
	}

	ts.counters.Increment(user.ID)
	if ts.metrics != nil {
		ts.metrics.OrdersPlaced.WithLabelValues(side, domain.KindEntry).Inc()
	}

	result, err := ts.confirmations.Confirm(ctx, execution, ts.confirmations.BudgetFor(orderType))
	if err != nil {
		return fmt.Errorf("failed to confirm entry order %s: %w", placed.OrderID, err)
	}
	if !result.Success {
		// A timed-out confirmation is the monitor's to resolve; a
		// rejected or cancelled order ends here.
		return fmt.Errorf("entry order %s not confirmed: %s", placed.OrderID, result.FinalStatus)
	}

	exitAt := ts.defaultExitTime
	position, err := ts.positionManager.CreatePosition(ctx, execution, service.EntryParams{
		Side:            signal.PositionSide(),
		ScheduledExitAt: &exitAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	if err := ts.scheduler.Schedule(ctx, position, exitAt); err != nil {
		log.Printf("WARNING: Failed to schedule auto-exit for position %s: %v", position.ID, err)
	}

	return nil
}

// handleExit closes the user's open positions for the signal's symbol
// through the validated exit path. A position the auto-exit timer or an
// external action already closed is not an error.
func (ts *TradingService) handleExit(ctx context.Context, user *domain.User, signal *domain.Signal) error {
	positions, err := ts.positionRepo.GetOpenBySymbol(ctx, user.ID, signal.Symbol, signal.Exchange)
	if err != nil {
		return fmt.Errorf("failed to find open positions: %w", err)
	}
	if len(positions) == 0 {
		log.Printf("[Signal] No open %s position for user %s, nothing to exit", signal.Symbol, user.Username)
		return nil
	}

	var firstErr error
	for _, position := range positions {
		err := ts.validator.ValidatedExit(ctx, position.ID, domain.ExitReasonSignal)
		switch {
		case err == nil, errors.Is(err, domain.ErrAlreadyClosed):
			ts.scheduler.Cancel(position.ID)
		case errors.Is(err, domain.ErrLeaseHeld):
			// Another exit flow owns this position right now; let it finish.
			log.Printf("[Signal] Position %s exit already in progress", position.ID)
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// GetRecentSignals returns the most recent signals for the API surface.
func (ts *TradingService) GetRecentSignals(ctx context.Context, limit int) ([]*domain.Signal, error) {
	return ts.signalRepo.GetRecent(ctx, limit)
}

// GetOpenPositions returns a user's open positions, optionally filtered
// by bot.
func (ts *TradingService) GetOpenPositions(ctx context.Context, userID uuid.UUID, botID string) ([]*domain.Position, error) {
	return ts.positionManager.ListOpenPositions(ctx, userID, botID)
}

// GetTodayPnL sums the realized PnL of positions the user closed today.
func (ts *TradingService) GetTodayPnL(ctx context.Context, userID uuid.UUID) (float64, error) {
	return ts.positionRepo.GetTodayRealizedPnL(ctx, userID, utils.GetStartOfDay())
}

// ResetDailyCounters clears the per-user order counters. The daily
// cleanup job runs this after market close.
func (ts *TradingService) ResetDailyCounters() {
	ts.counters.Reset()
}

func (ts *TradingService) markSignal(ctx context.Context, id uuid.UUID, status string, cause error) {
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}
	if err := ts.signalRepo.UpdateStatus(ctx, id, status, errMsg); err != nil {
		log.Printf("ERROR: Failed to update signal %s status: %v", id, err)
	}
}

// DailyOrderCounter tracks how many orders each user placed today, for
// the per-user daily order cap.
type DailyOrderCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

// NewDailyOrderCounter creates an empty counter set.
func NewDailyOrderCounter() *DailyOrderCounter {
	return &DailyOrderCounter{counts: make(map[uuid.UUID]int)}
}

// Increment adds one placed order for a user.
func (c *DailyOrderCounter) Increment(userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
}

// CountFor returns the user's placed-order count for the day.
func (c *DailyOrderCounter) CountFor(userID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID]
}

// Reset clears all counters.
func (c *DailyOrderCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[uuid.UUID]int)
}
