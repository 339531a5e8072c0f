package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/configs"
	"tradeflow/internal/domain"
)

type monitorHarness struct {
	monitor          *MonitorService
	gateway          *fakeGateway
	positionRepo     *fakePositionRepo
	executionRepo    *fakeExecutionRepo
	confirmationRepo *fakeConfirmationRepo
	notifier         *fakeNotifier
}

func newMonitorHarness(gateway *fakeGateway) *monitorHarness {
	positionRepo := newFakePositionRepo()
	executionRepo := newFakeExecutionRepo()
	confirmationRepo := newFakeConfirmationRepo()
	notifier := &fakeNotifier{}

	pm := NewPositionManager(positionRepo, executionRepo, nil)

	return &monitorHarness{
		monitor: NewMonitorService(
			gateway, confirmationRepo, executionRepo, positionRepo, pm,
			notifier, configs.MonitorConfig{
				BatchSize:              10,
				MaxOrderAge:            time.Hour,
				MaxConsecutiveFailures: 2,
			}, "15:12", nil,
		),
		gateway:          gateway,
		positionRepo:     positionRepo,
		executionRepo:    executionRepo,
		confirmationRepo: confirmationRepo,
		notifier:         notifier,
	}
}

// seedStuck plants an execution plus its CONFIRMING confirmation record,
// the state a crashed synchronous confirmation leaves behind.
func (h *monitorHarness) seedStuck(kind string) (*domain.Execution, *domain.ConfirmationState) {
	execution := &domain.Execution{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		BotID:             "bot-1",
		Symbol:            "NIFTY24SEP24000CE",
		Exchange:          "NFO",
		Side:              domain.OrderSideBuy,
		Kind:              kind,
		RequestedQuantity: 100,
		BrokerOrderID:     "ORD-1",
		Status:            domain.ExecutionPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	h.executionRepo.executions[execution.ID] = execution

	confirmation := &domain.ConfirmationState{
		ID:            uuid.New(),
		ExecutionID:   execution.ID,
		BrokerOrderID: "ORD-1",
		Status:        domain.ConfirmationConfirming,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	h.confirmationRepo.confirmations[confirmation.ID] = confirmation
	return execution, confirmation
}

func TestSweepResolvesLateCompletedEntry(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 100,
			AveragePrice:   51.5,
		}),
	}
	h := newMonitorHarness(gateway)
	execution, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ExecutionExecuted, execution.Status)
	assert.Equal(t, 100, execution.ExecutedQuantity)
	assert.Equal(t, 51.5, execution.ExecutedPrice)
	assert.Equal(t, domain.ConfirmationConfirmed, confirmation.Status)

	position, err := h.positionRepo.GetByEntryExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, position.Status)
	assert.Equal(t, 100, position.CurrentQuantity)
	require.NotNil(t, position.ScheduledExitAt)
	assert.Equal(t, "15:12", *position.ScheduledExitAt)
}

func TestSweepDoesNotDuplicateExistingPosition(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 100,
			AveragePrice:   51.5,
		}),
	}
	h := newMonitorHarness(gateway)
	execution, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))
	require.Len(t, h.positionRepo.positions, 1)

	// A racing synchronous path may have confirmed the order and crashed
	// before persisting the confirmation record. Re-running the check
	// must not mint a second position.
	confirmation.Status = domain.ConfirmationConfirming
	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Len(t, h.positionRepo.positions, 1)
	assert.Equal(t, domain.ConfirmationConfirmed, confirmation.Status)
	assert.Equal(t, domain.ExecutionExecuted, execution.Status)
}

func TestSweepAppliesLateExit(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 50,
			AveragePrice:   60.0,
		}),
	}
	h := newMonitorHarness(gateway)
	execution, _ := h.seedStuck(domain.KindExit)
	execution.Side = domain.OrderSideSell

	position := openPosition(50, 40.0)
	h.positionRepo.positions[position.ID] = position
	execution.PositionID = &position.ID

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.StatusClosed, position.Status)
	assert.Equal(t, 0, position.CurrentQuantity)
	assert.Equal(t, (60.0-40.0)*50, position.RealizedPnL)
}

func TestSweepMarksCancelledOrder(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID: "ORD-1",
			Status:  domain.BrokerOrderCancelled,
		}),
	}
	h := newMonitorHarness(gateway)
	execution, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ExecutionCancelled, execution.Status)
	assert.Equal(t, domain.ConfirmationFailed, confirmation.Status)
	assert.Len(t, h.positionRepo.positions, 0)
}

func TestSweepEscalatesMissingOrder(t *testing.T) {
	gateway := &fakeGateway{listOrdersFn: alwaysOrders()}
	h := newMonitorHarness(gateway)
	_, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ConfirmationManualReview, confirmation.Status)
	assert.Equal(t, 1, h.notifier.manualReviews)
}

func TestSweepEscalatesStaleOpenOrder(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID: "ORD-1",
			Status:  domain.BrokerOrderOpen,
		}),
	}
	h := newMonitorHarness(gateway)
	_, confirmation := h.seedStuck(domain.KindEntry)
	confirmation.CreatedAt = time.Now().Add(-2 * time.Hour)

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ConfirmationManualReview, confirmation.Status)
	require.NotNil(t, confirmation.LastError)
	assert.Contains(t, *confirmation.LastError, "exceeds maximum age")
}

func TestSweepKeepsFreshOpenOrderConfirming(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID: "ORD-1",
			Status:  domain.BrokerOrderOpen,
		}),
	}
	h := newMonitorHarness(gateway)
	execution, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ConfirmationConfirming, confirmation.Status)
	assert.Equal(t, 1, confirmation.Attempts)
	assert.Equal(t, domain.ExecutionPending, execution.Status)
	assert.Equal(t, 0, h.notifier.manualReviews)
}

func TestSweepEscalatesAfterRepeatedFailures(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: func(int) ([]domain.BrokerOrder, error) {
			return nil, errors.New("broker API unreachable")
		},
	}
	h := newMonitorHarness(gateway)
	_, confirmation := h.seedStuck(domain.KindEntry)

	require.NoError(t, h.monitor.Sweep(context.Background()))
	assert.Equal(t, 1, confirmation.ConsecutiveFailures)
	assert.Equal(t, domain.ConfirmationConfirming, confirmation.Status)

	require.NoError(t, h.monitor.Sweep(context.Background()))
	assert.Equal(t, domain.ConfirmationManualReview, confirmation.Status)
	assert.Equal(t, 1, h.notifier.manualReviews)
	require.NotNil(t, confirmation.LastError)
	assert.Contains(t, *confirmation.LastError, "consecutive check failures")
}

func TestSweepResolvesTrackedButNeverPolledEntry(t *testing.T) {
	// A crash between order submission and the first confirmation poll
	// leaves only the PENDING record Track wrote; the sweep must still
	// find and resolve it.
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 100,
			AveragePrice:   51.5,
		}),
	}
	h := newMonitorHarness(gateway)

	execution := &domain.Execution{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		BotID:             "bot-1",
		Symbol:            "NIFTY24SEP24000CE",
		Exchange:          "NFO",
		Side:              domain.OrderSideBuy,
		Kind:              domain.KindEntry,
		RequestedQuantity: 100,
		BrokerOrderID:     "ORD-1",
		Status:            domain.ExecutionPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	h.executionRepo.executions[execution.ID] = execution

	cs := NewConfirmationService(gateway, h.confirmationRepo, h.executionRepo, configs.ConfirmationConfig{}, nil)
	require.NoError(t, cs.Track(context.Background(), execution))

	require.NoError(t, h.monitor.Sweep(context.Background()))

	assert.Equal(t, domain.ExecutionExecuted, execution.Status)
	assert.Equal(t, 100, execution.ExecutedQuantity)

	confirmation, err := h.confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, confirmation.Status)

	position, err := h.positionRepo.GetByEntryExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, position.Status)
}
