package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tradeflow/configs"
	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
)

// MonitorService is the background sweep that closes the gap left by
// the synchronous confirmation protocol. A process crash, caller
// timeout or network failure can leave an execution stuck in
// PENDING/CONFIRMING indefinitely; each cycle re-checks a bounded batch
// of such records with a single status check apiece.
type MonitorService struct {
	gateway          domain.BrokerGateway
	confirmationRepo domain.ConfirmationRepository
	executionRepo    domain.ExecutionRepository
	positionRepo     domain.PositionRepository
	positionManager  *PositionManager
	notifier         domain.Notifier
	cfg              configs.MonitorConfig
	defaultExitTime  string
	metrics          *observability.Metrics
}

// NewMonitorService creates a new MonitorService
func NewMonitorService(
	gateway domain.BrokerGateway,
	confirmationRepo domain.ConfirmationRepository,
	executionRepo domain.ExecutionRepository,
	positionRepo domain.PositionRepository,
	positionManager *PositionManager,
	notifier domain.Notifier,
	cfg configs.MonitorConfig,
	defaultExitTime string,
	metrics *observability.Metrics,
) *MonitorService {
	return &MonitorService{
		gateway:          gateway,
		confirmationRepo: confirmationRepo,
		executionRepo:    executionRepo,
		positionRepo:     positionRepo,
		positionManager:  positionManager,
		notifier:         notifier,
		cfg:              cfg,
		defaultExitTime:  defaultExitTime,
		metrics:          metrics,
	}
}

// Sweep runs one monitoring cycle. Errors on individual records are
// recorded on the record itself and never abort the cycle.
func (ms *MonitorService) Sweep(ctx context.Context) error {
	start := time.Now()

	batch, err := ms.confirmationRepo.GetUnresolved(ctx, ms.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unresolved confirmations: %w", err)
	}

	if ms.metrics != nil {
		ms.metrics.SweepBatch.Set(float64(len(batch)))
		defer func() {
			ms.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if len(batch) == 0 {
		return nil
	}

	log.Printf("[Monitor] Sweeping %d unresolved confirmation(s)", len(batch))

	resolved := 0
	for _, confirmation := range batch {
		if err := ms.checkOne(ctx, confirmation); err != nil {
			log.Printf("WARNING: Monitor check failed for confirmation %s: %v", confirmation.ID, err)
			continue
		}
		if confirmation.IsTerminal() {
			resolved++
		}
	}

	if resolved > 0 {
		log.Printf("[Monitor] Resolved %d confirmation(s)", resolved)
	}

	return nil
}

// checkOne performs the single status check for one confirmation
// record, branching the same way the synchronous protocol does on
// terminal statuses.
func (ms *MonitorService) checkOne(ctx context.Context, confirmation *domain.ConfirmationState) error {
	execution, err := ms.executionRepo.GetByID(ctx, confirmation.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", confirmation.ExecutionID, err)
	}

	orders, err := ms.gateway.ListOrders(ctx, execution.UserID)
	if err != nil {
		ms.recordFailure(ctx, confirmation, execution, err)
		return nil
	}

	var order *domain.BrokerOrder
	for i := range orders {
		if orders[i].OrderID == confirmation.BrokerOrderID {
			order = &orders[i]
			break
		}
	}

	now := time.Now()
	confirmation.Attempts++
	confirmation.ConsecutiveFailures = 0
	confirmation.LastCheckedAt = &now
	confirmation.UpdatedAt = now

	if order == nil {
		// An order the broker no longer lists cannot be resolved by
		// automation.
		ms.escalate(ctx, confirmation, execution, "not_found", "order not found at broker")
		return nil
	}

	switch order.Status {
	case domain.BrokerOrderComplete:
		return ms.resolveComplete(ctx, confirmation, execution, order)

	case domain.BrokerOrderCancelled, domain.BrokerOrderRejected:
		status := domain.ExecutionFailed
		if order.Status == domain.BrokerOrderCancelled {
			status = domain.ExecutionCancelled
		}
		execution.Status = status
		execution.UpdatedAt = now
		if err := ms.executionRepo.Update(ctx, execution); err != nil {
			return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
		}

		confirmation.Status = domain.ConfirmationFailed
		confirmation.AppendEvent(domain.ConfirmationFailed, "broker status: "+order.Status)
		return ms.persist(ctx, confirmation)

	default:
		// Still open (or unrecognized vocabulary). An order open past the
		// staleness ceiling is a business anomaly, not a transient
		// condition to keep silently polling.
		if confirmation.Age(now) > ms.cfg.MaxOrderAge {
			ms.escalate(ctx, confirmation, execution, "stale",
				fmt.Sprintf("order open for %s, exceeds maximum age %s", confirmation.Age(now).Round(time.Second), ms.cfg.MaxOrderAge))
			return nil
		}

		confirmation.Status = domain.ConfirmationConfirming
		confirmation.AppendEvent(domain.ConfirmationConfirming,
			fmt.Sprintf("monitor check: status=%s filled=%d", order.Status, order.FilledQuantity))
		return ms.persist(ctx, confirmation)
	}
}

// resolveComplete finalizes a late-confirmed order: the execution is
// marked EXECUTED and, for entries, a position is created if one does
// not already exist (idempotent existence check — the synchronous path
// may have created it before crashing).
func (ms *MonitorService) resolveComplete(ctx context.Context, confirmation *domain.ConfirmationState, execution *domain.Execution, order *domain.BrokerOrder) error {
	execution.Status = domain.ExecutionExecuted
	execution.ExecutedQuantity = order.FilledQuantity
	execution.ExecutedPrice = order.AveragePrice
	execution.UpdatedAt = time.Now()
	if err := ms.executionRepo.Update(ctx, execution); err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	confirmation.Status = domain.ConfirmationConfirmed
	confirmation.AppendEvent(domain.ConfirmationConfirmed, "resolved by order monitor")
	if err := ms.persist(ctx, confirmation); err != nil {
		return err
	}

	if execution.IsEntry() {
		return ms.ensurePosition(ctx, execution)
	}
	return ms.applyLateExit(ctx, execution)
}

// ensurePosition creates the position for a late-confirmed entry unless
// it already exists.
func (ms *MonitorService) ensurePosition(ctx context.Context, execution *domain.Execution) error {
	_, err := ms.positionRepo.GetByEntryExecutionID(ctx, execution.ID)
	if err == nil {
		return nil // already created by the synchronous path
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to check for existing position: %w", err)
	}

	side := domain.SideLong
	if execution.Side == domain.OrderSideSell {
		side = domain.SideShort
	}

	exitAt := ms.defaultExitTime
	params := EntryParams{Side: side}
	if exitAt != "" {
		params.ScheduledExitAt = &exitAt
	}

	if _, err := ms.positionManager.CreatePosition(ctx, execution, params); err != nil {
		return fmt.Errorf("failed to create position for late-confirmed entry %s: %w", execution.ID, err)
	}

	log.Printf("[Monitor] Created position for late-confirmed entry %s (%s %s)",
		execution.ID, side, execution.Symbol)
	return nil
}

// applyLateExit applies a late-confirmed exit to its position. A
// position already closed by a racing path is left alone.
func (ms *MonitorService) applyLateExit(ctx context.Context, execution *domain.Execution) error {
	if execution.PositionID == nil {
		return nil
	}

	position, err := ms.positionRepo.GetByID(ctx, *execution.PositionID)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", *execution.PositionID, err)
	}

	reason := domain.ExitReasonSignal
	if execution.ExitReason != nil {
		reason = *execution.ExitReason
	}

	if _, err := ms.positionManager.ApplyExit(ctx, position, execution, execution.ExecutedQuantity, execution.ExecutedPrice, reason); err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			return nil
		}
		return fmt.Errorf("failed to apply late-confirmed exit %s: %w", execution.ID, err)
	}
	return nil
}

// recordFailure appends a check failure to the record's history and
// escalates after the configured number of consecutive failures, to
// stop indefinite automated retrying.
func (ms *MonitorService) recordFailure(ctx context.Context, confirmation *domain.ConfirmationState, execution *domain.Execution, checkErr error) {
	now := time.Now()
	confirmation.ConsecutiveFailures++
	msg := checkErr.Error()
	confirmation.LastError = &msg
	confirmation.LastCheckedAt = &now
	confirmation.UpdatedAt = now
	confirmation.AppendEvent(confirmation.Status, "check failed: "+msg)

	if confirmation.ConsecutiveFailures >= ms.cfg.MaxConsecutiveFailures {
		ms.escalate(ctx, confirmation, execution, "repeated_failure",
			fmt.Sprintf("%d consecutive check failures, last: %s", confirmation.ConsecutiveFailures, msg))
		return
	}

	if err := ms.persist(ctx, confirmation); err != nil {
		log.Printf("ERROR: Failed to persist confirmation %s: %v", confirmation.ID, err)
	}
}

// escalate moves a record to MANUAL_REVIEW. Only a human action clears
// it from there.
func (ms *MonitorService) escalate(ctx context.Context, confirmation *domain.ConfirmationState, execution *domain.Execution, cause, reason string) {
	confirmation.Status = domain.ConfirmationManualReview
	msg := reason
	confirmation.LastError = &msg
	confirmation.AppendEvent(domain.ConfirmationManualReview, reason)

	if err := ms.persist(ctx, confirmation); err != nil {
		log.Printf("ERROR: Failed to persist manual review for confirmation %s: %v", confirmation.ID, err)
		return
	}

	if ms.metrics != nil {
		ms.metrics.ManualReviews.WithLabelValues(cause).Inc()
	}
	if ms.notifier != nil {
		if err := ms.notifier.NotifyManualReview(confirmation, execution, reason); err != nil {
			log.Printf("WARNING: Failed to send manual review notification: %v", err)
		}
	}

	log.Printf("[Monitor] Confirmation %s escalated to MANUAL_REVIEW: %s", confirmation.ID, reason)
}

func (ms *MonitorService) persist(ctx context.Context, confirmation *domain.ConfirmationState) error {
	if err := ms.confirmationRepo.Update(ctx, confirmation); err != nil {
		return fmt.Errorf("failed to update confirmation %s: %w", confirmation.ID, err)
	}
	return nil
}
