package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/domain"
	"tradeflow/internal/observability"
)

// ValidationResult is the broker's ground truth for one position.
type ValidationResult struct {
	ExistsAtBroker bool
	BrokerQuantity int
	BrokerPrice    float64
	BrokerPnL      float64
}

// ValidatorService runs immediately before any exit action, scheduled
// or signal-driven. It asks the broker for ground truth and branches
// into a normal exit or reconciliation-as-already-closed. The broker is
// authoritative: a prior partial manual close means the local quantity
// may overstate what is actually open.
type ValidatorService struct {
	gateway         domain.BrokerGateway
	positionRepo    domain.PositionRepository
	executionRepo   domain.ExecutionRepository
	externalExits   domain.ExternalExitRepository
	validations     domain.ValidationRepository
	positionManager *PositionManager
	confirmations   *ConfirmationService
	lease           domain.ExitLease
	leaseTTL        time.Duration
	notifier        domain.Notifier
	metrics         *observability.Metrics
}

// NewValidatorService creates a new ValidatorService
func NewValidatorService(
	gateway domain.BrokerGateway,
	positionRepo domain.PositionRepository,
	executionRepo domain.ExecutionRepository,
	externalExits domain.ExternalExitRepository,
	validations domain.ValidationRepository,
	positionManager *PositionManager,
	confirmations *ConfirmationService,
	lease domain.ExitLease,
	leaseTTL time.Duration,
	notifier domain.Notifier,
	metrics *observability.Metrics,
) *ValidatorService {
	return &ValidatorService{
		gateway:         gateway,
		positionRepo:    positionRepo,
		executionRepo:   executionRepo,
		externalExits:   externalExits,
		validations:     validations,
		positionManager: positionManager,
		confirmations:   confirmations,
		lease:           lease,
		leaseTTL:        leaseTTL,
		notifier:        notifier,
		metrics:         metrics,
	}
}

// Validate queries the broker's current position listing and matches by
// symbol and exchange. A match with zero quantity means the position no
// longer exists at the broker.
func (vs *ValidatorService) Validate(ctx context.Context, position *domain.Position) (*ValidationResult, error) {
	brokerPositions, err := vs.gateway.ListPositions(ctx, position.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list broker positions: %w", err)
	}

	for _, bp := range brokerPositions {
		if bp.Symbol != position.Symbol || bp.Exchange != position.Exchange {
			continue
		}

		quantity := bp.Quantity
		if quantity < 0 {
			quantity = -quantity
		}

		return &ValidationResult{
			ExistsAtBroker: quantity > 0,
			BrokerQuantity: quantity,
			BrokerPrice:    bp.LastPrice,
			BrokerPnL:      bp.PnL,
		}, nil
	}

	return &ValidationResult{ExistsAtBroker: false}, nil
}

// ValidatedExit runs the full exit flow for a position under the
// per-position lease: re-verify local state, validate against the
// broker, then either submit a closing order sized to the broker's
// quantity or reconcile the position as externally closed.
func (vs *ValidatorService) ValidatedExit(ctx context.Context, positionID uuid.UUID, reason string) error {
	release, err := vs.lease.Acquire(ctx, positionID, vs.leaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseHeld) {
			log.Printf("WARNING: Exit for position %s skipped, another exit flow holds the lease", positionID)
		}
		return err
	}
	defer release()

	// Re-verify under the lease: a racing flow may have closed the
	// position between the caller's read and our acquisition.
	position, err := vs.positionRepo.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("failed to load position %s: %w", positionID, err)
	}
	if !position.IsOpen() {
		vs.audit(ctx, position, &ValidationResult{}, domain.ValidationActionSkipped)
		return domain.ErrAlreadyClosed
	}

	result, err := vs.Validate(ctx, position)
	if err != nil {
		return err
	}

	if result.ExistsAtBroker {
		return vs.normalExit(ctx, position, result, reason)
	}
	return vs.reconcileExternal(ctx, position, result)
}

// normalExit submits a closing order for the broker-reported quantity,
// runs it through the confirmation protocol, and applies the confirmed
// fill.
func (vs *ValidatorService) normalExit(ctx context.Context, position *domain.Position, result *ValidationResult, reason string) error {
	if result.BrokerQuantity != position.CurrentQuantity {
		log.Printf("WARNING: Broker quantity %d differs from local %d for position %s, exiting broker quantity",
			result.BrokerQuantity, position.CurrentQuantity, position.ID)
	}

	now := time.Now()
	exit := &domain.Execution{
		ID:                uuid.New(),
		PositionID:        &position.ID,
		UserID:            position.UserID,
		BotID:             position.BotID,
		Symbol:            position.Symbol,
		Exchange:          position.Exchange,
		InstrumentType:    position.InstrumentType,
		Side:              position.ExitSide(),
		Kind:              domain.KindExit,
		RequestedQuantity: result.BrokerQuantity,
		Status:            domain.ExecutionPending,
		ExitReason:        &reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := vs.executionRepo.Save(ctx, exit); err != nil {
		return fmt.Errorf("failed to save exit execution: %w", err)
	}

	vs.audit(ctx, position, result, domain.ValidationActionExit)

	placed, err := vs.gateway.PlaceOrder(ctx, position.UserID, domain.OrderRequest{
		Exchange:  position.Exchange,
		Symbol:    position.Symbol,
		Side:      exit.Side,
		Quantity:  exit.RequestedQuantity,
		OrderType: domain.OrderTypeMarket,
	})
	if err != nil {
		exit.Status = domain.ExecutionFailed
		exit.UpdatedAt = time.Now()
		if updateErr := vs.executionRepo.Update(ctx, exit); updateErr != nil {
			log.Printf("ERROR: Failed to mark exit execution %s failed: %v", exit.ID, updateErr)
		}
		if vs.metrics != nil {
			vs.metrics.OrdersRejected.Inc()
		}
		return fmt.Errorf("failed to place exit order: %w", err)
	}

	exit.BrokerOrderID = placed.OrderID
	exit.BrokerResponse = &placed.RawResponse
	exit.UpdatedAt = time.Now()
	if err := vs.executionRepo.Update(ctx, exit); err != nil {
		log.Printf("ERROR: Failed to record broker order id on execution %s: %v", exit.ID, err)
	}
	if err := vs.confirmations.Track(ctx, exit); err != nil {
		log.Printf("ERROR: Failed to track confirmation for exit order %s: %v", placed.OrderID, err)
	}
	if vs.metrics != nil {
		vs.metrics.OrdersPlaced.WithLabelValues(exit.Side, exit.Kind).Inc()
	}

	confirmed, err := vs.confirmations.Confirm(ctx, exit, vs.confirmations.BudgetFor(domain.OrderTypeMarket))
	if err != nil {
		return fmt.Errorf("failed to confirm exit order %s: %w", placed.OrderID, err)
	}
	if !confirmed.Success {
		// The order monitor owns unresolved confirmations from here; the
		// position stays OPEN/PARTIAL rather than being closed on
		// unconfirmed evidence.
		return fmt.Errorf("exit order %s not confirmed: %s", placed.OrderID, confirmed.FinalStatus)
	}

	applied := confirmed.FilledQuantity
	if applied > position.CurrentQuantity {
		// The broker held more than the local book; the fill already
		// moved funds, so close the full local quantity rather than
		// rejecting it.
		log.Printf("WARNING: Exit fill %d exceeds local quantity %d for position %s, closing local quantity",
			applied, position.CurrentQuantity, position.ID)
		applied = position.CurrentQuantity
	}

	updated, err := vs.positionManager.ApplyExit(ctx, position, exit, applied, confirmed.AveragePrice, reason)
	if err != nil {
		return fmt.Errorf("failed to apply exit to position %s: %w", position.ID, err)
	}

	if updated.Status == domain.StatusClosed && vs.notifier != nil {
		if err := vs.notifier.NotifyPositionClosed(updated, exit); err != nil {
			log.Printf("WARNING: Failed to send close notification: %v", err)
		}
	}

	return nil
}

// reconcileExternal handles a position the broker no longer reports: no
// order is submitted. A closing execution is synthesized with reason
// EXTERNAL_MANUAL_EXIT and an External Exit Record captures the
// evidence.
func (vs *ValidatorService) reconcileExternal(ctx context.Context, position *domain.Position, result *ValidationResult) error {
	now := time.Now()

	exitPrice := result.BrokerPrice
	if exitPrice == 0 {
		// No broker snapshot carried a price; fall back to the last
		// known mark.
		exitPrice = position.AveragePrice
	}
	exitQuantity := position.CurrentQuantity
	reason := domain.ExitReasonExternal

	exit := &domain.Execution{
		ID:                uuid.New(),
		PositionID:        &position.ID,
		UserID:            position.UserID,
		BotID:             position.BotID,
		Symbol:            position.Symbol,
		Exchange:          position.Exchange,
		InstrumentType:    position.InstrumentType,
		Side:              position.ExitSide(),
		Kind:              domain.KindExit,
		RequestedQuantity: exitQuantity,
		ExecutedQuantity:  exitQuantity,
		ExecutedPrice:     exitPrice,
		Status:            domain.ExecutionExecuted,
		ExitReason:        &reason,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := vs.executionRepo.Save(ctx, exit); err != nil {
		return fmt.Errorf("failed to save synthesized exit execution: %w", err)
	}

	updated, err := vs.positionManager.ApplyExit(ctx, position, exit, exitQuantity, exitPrice, reason)
	if err != nil {
		return fmt.Errorf("failed to reconcile position %s: %w", position.ID, err)
	}

	evidence, _ := json.Marshal(result)
	record := &domain.ExternalExitRecord{
		ID:           uuid.New(),
		PositionID:   position.ID,
		ExecutionID:  exit.ID,
		DetectedAt:   now,
		ExitQuantity: exitQuantity,
		ExitPrice:    exitPrice,
		Evidence:     string(evidence),
		CreatedAt:    now,
	}
	if err := vs.externalExits.Save(ctx, record); err != nil {
		log.Printf("ERROR: Failed to save external exit record for position %s: %v", position.ID, err)
	}

	vs.audit(ctx, position, result, domain.ValidationActionReconciled)

	if vs.metrics != nil {
		vs.metrics.ExternalExits.Inc()
	}
	if vs.notifier != nil {
		if err := vs.notifier.NotifyExternalExit(updated, record); err != nil {
			log.Printf("WARNING: Failed to send external exit notification: %v", err)
		}
	}

	log.Printf("[OK] Position %s reconciled as externally closed: qty=%d @ %.2f",
		position.ID, exitQuantity, exitPrice)

	return nil
}

// audit persists the validation trail entry for this invocation.
func (vs *ValidatorService) audit(ctx context.Context, position *domain.Position, result *ValidationResult, action string) {
	record := &domain.ValidationRecord{
		ID:             uuid.New(),
		PositionID:     position.ID,
		ExistsAtBroker: result.ExistsAtBroker,
		BrokerQuantity: result.BrokerQuantity,
		BrokerPrice:    result.BrokerPrice,
		BrokerPnL:      result.BrokerPnL,
		Action:         action,
		CheckedAt:      time.Now(),
	}
	if err := vs.validations.Save(ctx, record); err != nil {
		log.Printf("ERROR: Failed to save validation record for position %s: %v", position.ID, err)
	}
	if vs.metrics != nil {
		vs.metrics.ValidationsRun.WithLabelValues(action).Inc()
	}
}
