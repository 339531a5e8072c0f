package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/configs"
	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
)

// ConfirmationBudget bounds one run of the confirmation protocol.
// Market orders fill in seconds and get a tight budget; limit orders
// may rest for minutes and get a loose one.
type ConfirmationBudget struct {
	MaxWait               time.Duration
	PollInterval          time.Duration
	MaxAttempts           int
	PartialFillAcceptable bool
	PartialFillThreshold  float64
}

// ConfirmationResult is the observed terminal outcome of an order.
type ConfirmationResult struct {
	Success          bool
	Executed         bool
	FinalStatus      string
	FilledQuantity   int
	AveragePrice     float64
	QuantityMismatch bool
	Message          string
}

// Final status values beyond the broker's own vocabulary.
const (
	FinalPartialFillAccepted = "PARTIAL_FILL_ACCEPTED"
	finalTimeoutPrefix       = "TIMEOUT_"
)

// transport errors double the poll delay up to this multiple of the
// configured interval
const maxBackoffMultiple = 8

// ConfirmationService runs the synchronous order confirmation protocol:
// immediately after an order is submitted, poll the broker's order list
// within a bounded budget and observe a terminal outcome, rather than
// returning "submitted" and hoping.
type ConfirmationService struct {
	gateway          domain.BrokerGateway
	confirmationRepo domain.ConfirmationRepository
	executionRepo    domain.ExecutionRepository
	cfg              configs.ConfirmationConfig
	metrics          *observability.Metrics
}

// NewConfirmationService creates a new ConfirmationService
func NewConfirmationService(
	gateway domain.BrokerGateway,
	confirmationRepo domain.ConfirmationRepository,
	executionRepo domain.ExecutionRepository,
	cfg configs.ConfirmationConfig,
	metrics *observability.Metrics,
) *ConfirmationService {
	return &ConfirmationService{
		gateway:          gateway,
		confirmationRepo: confirmationRepo,
		executionRepo:    executionRepo,
		cfg:              cfg,
		metrics:          metrics,
	}
}

// BudgetFor returns the polling preset for an order type.
func (cs *ConfirmationService) BudgetFor(orderType string) ConfirmationBudget {
	if orderType == domain.OrderTypeLimit {
		return ConfirmationBudget{
			MaxWait:               cs.cfg.LimitMaxWait,
			PollInterval:          cs.cfg.LimitPollInterval,
			MaxAttempts:           cs.cfg.LimitMaxAttempts,
			PartialFillAcceptable: true,
			PartialFillThreshold:  cs.cfg.PartialFillThreshold,
		}
	}
	return ConfirmationBudget{
		MaxWait:               cs.cfg.MarketMaxWait,
		PollInterval:          cs.cfg.MarketPollInterval,
		MaxAttempts:           cs.cfg.MarketMaxAttempts,
		PartialFillAcceptable: true,
		PartialFillThreshold:  cs.cfg.PartialFillThreshold,
	}
}

// Track persists a PENDING confirmation record for a just-submitted
// order, in the same step that records the broker order id on the
// execution. If the process dies before Confirm runs, the record is
// already in the unresolved set and the background monitor resolves the
// order from there.
func (cs *ConfirmationService) Track(ctx context.Context, execution *domain.Execution) error {
	now := time.Now()
	confirmation := &domain.ConfirmationState{
		ID:            uuid.New(),
		ExecutionID:   execution.ID,
		BrokerOrderID: execution.BrokerOrderID,
		Status:        domain.ConfirmationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	confirmation.AppendEvent(domain.ConfirmationPending, "order submitted to broker")

	if err := cs.confirmationRepo.Save(ctx, confirmation); err != nil {
		return fmt.Errorf("failed to create confirmation record for execution %s: %w", execution.ID, err)
	}
	return nil
}

// Confirm polls the broker until the order reaches a terminal status or
// the budget is exhausted. The ConfirmationState's status field acts as
// the lease: moving PENDING → CONFIRMING claims the record, so the
// background monitor and a second caller never poll the same order
// concurrently.
func (cs *ConfirmationService) Confirm(ctx context.Context, execution *domain.Execution, budget ConfirmationBudget) (*ConfirmationResult, error) {
	confirmation, err := cs.claim(ctx, execution)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(budget.MaxWait)
	delay := budget.PollInterval
	lastStatus := ""

	for attempt := 1; attempt <= budget.MaxAttempts; attempt++ {
		order, pollErr := cs.findOrder(ctx, execution)
		if pollErr != nil {
			// Transient transport error: back off rather than aborting,
			// and do not treat it like a terminal broker status.
			confirmation.ConsecutiveFailures++
			msg := pollErr.Error()
			confirmation.LastError = &msg
			confirmation.AppendEvent(domain.ConfirmationConfirming, "transport error: "+msg)
			cs.touch(ctx, confirmation)

			log.Printf("WARNING: Confirmation poll failed for order %s (attempt %d): %v",
				execution.BrokerOrderID, attempt, pollErr)

			delay = min(delay*2, budget.PollInterval*maxBackoffMultiple)
			if !cs.sleep(ctx, delay, deadline) {
				break
			}
			continue
		}

		confirmation.Attempts++
		confirmation.ConsecutiveFailures = 0
		delay = budget.PollInterval
		if cs.metrics != nil {
			cs.metrics.ConfirmationPolls.Inc()
		}

		if order == nil {
			// The broker's listing is eventually consistent; a just-placed
			// order can be briefly absent. Keep polling.
			confirmation.AppendEvent(domain.ConfirmationConfirming, "order not yet in broker listing")
			cs.touch(ctx, confirmation)
			if !cs.sleep(ctx, delay, deadline) {
				break
			}
			continue
		}

		lastStatus = order.Status

		switch order.Status {
		case domain.BrokerOrderComplete:
			return cs.complete(ctx, execution, confirmation, order), nil

		case domain.BrokerOrderCancelled, domain.BrokerOrderRejected:
			return cs.fail(ctx, execution, confirmation, order), nil

		case domain.BrokerOrderOpen, domain.BrokerOrderTriggerPending:
			if budget.PartialFillAcceptable && execution.RequestedQuantity > 0 {
				fraction := float64(order.FilledQuantity) / float64(execution.RequestedQuantity)
				if fraction >= budget.PartialFillThreshold {
					return cs.acceptPartial(ctx, execution, confirmation, order), nil
				}
			}
			confirmation.AppendEvent(domain.ConfirmationConfirming,
				fmt.Sprintf("status=%s filled=%d/%d", order.Status, order.FilledQuantity, execution.RequestedQuantity))
			cs.touch(ctx, confirmation)

		default:
			// Unknown broker vocabulary is not a failure.
			log.Printf("WARNING: Unrecognized broker status %q for order %s, continuing to poll",
				order.Status, execution.BrokerOrderID)
			confirmation.AppendEvent(domain.ConfirmationConfirming, "unrecognized status: "+order.Status)
			cs.touch(ctx, confirmation)
		}

		if !cs.sleep(ctx, delay, deadline) {
			break
		}
	}

	return cs.timeout(ctx, confirmation, lastStatus), nil
}

// claim moves the execution's confirmation record, normally written by
// Track at submission time, from PENDING to CONFIRMING.
func (cs *ConfirmationService) claim(ctx context.Context, execution *domain.Execution) (*domain.ConfirmationState, error) {
	confirmation, err := cs.confirmationRepo.GetByExecutionID(ctx, execution.ID)
	if err == nil {
		if confirmation.IsTerminal() {
			return nil, fmt.Errorf("confirmation for execution %s is already terminal (%s)", execution.ID, confirmation.Status)
		}
		confirmation.Status = domain.ConfirmationConfirming
		confirmation.AppendEvent(domain.ConfirmationConfirming, "synchronous confirmation started")
		cs.touch(ctx, confirmation)
		return confirmation, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		// A transient lookup failure must not spawn a second record for
		// the same execution.
		return nil, fmt.Errorf("failed to load confirmation for execution %s: %w", execution.ID, err)
	}

	// No record means Track itself failed; recover by creating one now.
	now := time.Now()
	confirmation = &domain.ConfirmationState{
		ID:            uuid.New(),
		ExecutionID:   execution.ID,
		BrokerOrderID: execution.BrokerOrderID,
		Status:        domain.ConfirmationConfirming,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	confirmation.AppendEvent(domain.ConfirmationConfirming, "synchronous confirmation started")

	if err := cs.confirmationRepo.Save(ctx, confirmation); err != nil {
		return nil, fmt.Errorf("failed to create confirmation record: %w", err)
	}

	return confirmation, nil
}

// findOrder fetches the broker's order list and locates this execution's
// order. A nil order with nil error means the order is not listed yet.
func (cs *ConfirmationService) findOrder(ctx context.Context, execution *domain.Execution) (*domain.BrokerOrder, error) {
	orders, err := cs.gateway.ListOrders(ctx, execution.UserID)
	if err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].OrderID == execution.BrokerOrderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

func (cs *ConfirmationService) complete(ctx context.Context, execution *domain.Execution, confirmation *domain.ConfirmationState, order *domain.BrokerOrder) *ConfirmationResult {
	result := &ConfirmationResult{
		Success:        true,
		Executed:       true,
		FinalStatus:    domain.BrokerOrderComplete,
		FilledQuantity: order.FilledQuantity,
		AveragePrice:   order.AveragePrice,
	}

	// Funds moved either way, but a fill that differs from what was
	// requested must never be silently dropped.
	if order.FilledQuantity != execution.RequestedQuantity {
		result.QuantityMismatch = true
		result.Message = fmt.Sprintf("quantity mismatch: requested %d, filled %d",
			execution.RequestedQuantity, order.FilledQuantity)
		log.Printf("WARNING: %s for order %s", result.Message, execution.BrokerOrderID)
	}

	cs.finishExecution(ctx, execution, domain.ExecutionExecuted, order)
	cs.finishConfirmation(ctx, confirmation, domain.ConfirmationConfirmed, result.Message)

	if cs.metrics != nil {
		cs.metrics.Confirmations.WithLabelValues("complete").Inc()
	}
	return result
}

func (cs *ConfirmationService) acceptPartial(ctx context.Context, execution *domain.Execution, confirmation *domain.ConfirmationState, order *domain.BrokerOrder) *ConfirmationResult {
	result := &ConfirmationResult{
		Success:          true,
		Executed:         true,
		FinalStatus:      FinalPartialFillAccepted,
		FilledQuantity:   order.FilledQuantity,
		AveragePrice:     order.AveragePrice,
		QuantityMismatch: true,
		Message: fmt.Sprintf("partial fill accepted: %d of %d",
			order.FilledQuantity, execution.RequestedQuantity),
	}

	cs.finishExecution(ctx, execution, domain.ExecutionExecuted, order)
	cs.finishConfirmation(ctx, confirmation, domain.ConfirmationConfirmed, result.Message)

	if cs.metrics != nil {
		cs.metrics.Confirmations.WithLabelValues("partial_fill_accepted").Inc()
	}
	return result
}

func (cs *ConfirmationService) fail(ctx context.Context, execution *domain.Execution, confirmation *domain.ConfirmationState, order *domain.BrokerOrder) *ConfirmationResult {
	status := domain.ExecutionFailed
	if order.Status == domain.BrokerOrderCancelled {
		status = domain.ExecutionCancelled
	}

	cs.finishExecution(ctx, execution, status, order)
	cs.finishConfirmation(ctx, confirmation, domain.ConfirmationFailed, order.StatusMessage)

	if cs.metrics != nil {
		cs.metrics.Confirmations.WithLabelValues("failed").Inc()
	}
	return &ConfirmationResult{
		Success:     false,
		Executed:    false,
		FinalStatus: order.Status,
		Message:     order.StatusMessage,
	}
}

// timeout is returned when the budget is exhausted without observing a
// terminal broker status. The confirmation record deliberately stays in
// CONFIRMING: the background monitor picks it up from there and either
// resolves it or escalates it to MANUAL_REVIEW.
func (cs *ConfirmationService) timeout(ctx context.Context, confirmation *domain.ConfirmationState, lastStatus string) *ConfirmationResult {
	suffix := lastStatus
	if suffix == "" {
		suffix = "UNKNOWN"
	}
	finalStatus := finalTimeoutPrefix + suffix

	confirmation.AppendEvent(domain.ConfirmationConfirming, "confirmation budget exhausted: "+finalStatus)
	cs.touch(ctx, confirmation)

	if cs.metrics != nil {
		cs.metrics.Confirmations.WithLabelValues("timeout").Inc()
	}
	return &ConfirmationResult{
		Success:     false,
		Executed:    false,
		FinalStatus: finalStatus,
		Message:     "confirmation budget exhausted, deferred to order monitor",
	}
}

func (cs *ConfirmationService) finishExecution(ctx context.Context, execution *domain.Execution, status string, order *domain.BrokerOrder) {
	execution.Status = status
	execution.ExecutedQuantity = order.FilledQuantity
	execution.ExecutedPrice = order.AveragePrice
	execution.UpdatedAt = time.Now()
	if err := cs.executionRepo.Update(ctx, execution); err != nil {
		log.Printf("ERROR: Failed to update execution %s: %v", execution.ID, err)
	}
}

func (cs *ConfirmationService) finishConfirmation(ctx context.Context, confirmation *domain.ConfirmationState, status, note string) {
	confirmation.Status = status
	confirmation.AppendEvent(status, note)
	cs.touch(ctx, confirmation)
}

// touch persists the confirmation record with a fresh check timestamp.
func (cs *ConfirmationService) touch(ctx context.Context, confirmation *domain.ConfirmationState) {
	now := time.Now()
	confirmation.LastCheckedAt = &now
	confirmation.UpdatedAt = now
	if err := cs.confirmationRepo.Update(ctx, confirmation); err != nil {
		log.Printf("ERROR: Failed to update confirmation %s: %v", confirmation.ID, err)
	}
}

// sleep waits for the next poll, respecting the budget deadline and
// context cancellation. It returns false when polling should stop.
func (cs *ConfirmationService) sleep(ctx context.Context, delay time.Duration, deadline time.Time) bool {
	if time.Now().Add(delay).After(deadline) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// IsTimeoutStatus reports whether a final status came from budget
// exhaustion.
func IsTimeoutStatus(finalStatus string) bool {
	return strings.HasPrefix(finalStatus, finalTimeoutPrefix)
}
