package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/configs"
	"tradeflow/internal/domain"
)

type validatorHarness struct {
	validator        *ValidatorService
	gateway          *fakeGateway
	positionRepo     *fakePositionRepo
	executionRepo    *fakeExecutionRepo
	confirmationRepo *fakeConfirmationRepo
	externalExits    *fakeExternalExitRepo
	validations      *fakeValidationRepo
	lease            *fakeLease
	notifier         *fakeNotifier
}

func newValidatorHarness(gateway *fakeGateway) *validatorHarness {
	positionRepo := newFakePositionRepo()
	executionRepo := newFakeExecutionRepo()
	confirmationRepo := newFakeConfirmationRepo()
	externalExits := &fakeExternalExitRepo{}
	validations := &fakeValidationRepo{}
	lease := &fakeLease{}
	notifier := &fakeNotifier{}

	pm := NewPositionManager(positionRepo, executionRepo, nil)
	cs := NewConfirmationService(gateway, confirmationRepo, executionRepo, configs.ConfirmationConfig{
		MarketMaxWait:        time.Second,
		MarketPollInterval:   time.Millisecond,
		MarketMaxAttempts:    5,
		PartialFillThreshold: 0.8,
	}, nil)

	return &validatorHarness{
		validator: NewValidatorService(
			gateway, positionRepo, executionRepo, externalExits, validations,
			pm, cs, lease, 30*time.Second, notifier, nil,
		),
		gateway:          gateway,
		positionRepo:     positionRepo,
		executionRepo:    executionRepo,
		confirmationRepo: confirmationRepo,
		externalExits:    externalExits,
		validations:      validations,
		lease:            lease,
		notifier:         notifier,
	}
}

func openPosition(quantity int, price float64) *domain.Position {
	return &domain.Position{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		BotID:            "bot-1",
		Symbol:           "NIFTY24SEP24000CE",
		Exchange:         "NFO",
		InstrumentType:   domain.InstrumentOption,
		Side:             domain.SideLong,
		Status:           domain.StatusOpen,
		EntryPrice:       price,
		EntryQuantity:    quantity,
		CurrentQuantity:  quantity,
		AveragePrice:     price,
		EntryExecutionID: uuid.New(),
		ExitExecutionIDs: []uuid.UUID{},
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
}

func TestValidatedExitNormalFlow(t *testing.T) {
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 75, LastPrice: 60.0},
		},
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 75,
			AveragePrice:   60.0,
		}),
	}
	h := newValidatorHarness(gateway)

	position := openPosition(75, 50.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonAutoSquareOff)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, position.Status)
	assert.Equal(t, 0, position.CurrentQuantity)
	assert.Equal(t, (60.0-50.0)*75, position.RealizedPnL)

	assert.Equal(t, 1, h.gateway.placeCalls)
	assert.Equal(t, domain.OrderSideSell, h.gateway.lastOrderReq.Side, "long exits with a SELL")
	assert.Equal(t, 75, h.gateway.lastOrderReq.Quantity)

	assert.Equal(t, 1, h.lease.acquired)
	assert.Equal(t, 1, h.lease.released)
	assert.Equal(t, 1, h.notifier.positionsClosed)

	require.Len(t, h.validations.records, 1)
	assert.Equal(t, domain.ValidationActionExit, h.validations.records[0].Action)
}

func TestValidatedExitUsesBrokerQuantity(t *testing.T) {
	// A prior partial manual close at the broker: local says 100, broker
	// says 75. The exit order must be sized to broker truth to avoid an
	// accidental short.
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 75, LastPrice: 60.0},
		},
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 75,
			AveragePrice:   60.0,
		}),
	}
	h := newValidatorHarness(gateway)

	position := openPosition(100, 50.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal)
	require.NoError(t, err)

	assert.Equal(t, 75, h.gateway.lastOrderReq.Quantity)
	assert.Equal(t, domain.StatusPartial, position.Status, "25 unaccounted units remain local")
	assert.Equal(t, 25, position.CurrentQuantity)
}

func TestValidatedExitReconcilesExternalClose(t *testing.T) {
	// The broker no longer reports the position: someone closed it in
	// the broker's own app. No order may be submitted.
	gateway := &fakeGateway{positions: []domain.BrokerPosition{}}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 40.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonAutoSquareOff)
	require.NoError(t, err)

	assert.Equal(t, 0, h.gateway.placeCalls, "reconciliation must not place orders")
	assert.Equal(t, domain.StatusClosed, position.Status)

	require.Len(t, h.externalExits.records, 1)
	record := h.externalExits.records[0]
	assert.Equal(t, position.ID, record.PositionID)
	assert.Equal(t, 50, record.ExitQuantity)

	exit, err := h.executionRepo.GetByID(context.Background(), record.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, exit.ExitReason)
	assert.Equal(t, domain.ExitReasonExternal, *exit.ExitReason)
	assert.Equal(t, domain.ExecutionExecuted, exit.Status)

	require.Len(t, h.validations.records, 1)
	assert.Equal(t, domain.ValidationActionReconciled, h.validations.records[0].Action)
	assert.Equal(t, 1, h.notifier.externalExits)
}

func TestValidatedExitZeroBrokerQuantityReconciles(t *testing.T) {
	// Listed but flat counts as gone.
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 0, LastPrice: 55.0},
		},
	}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 40.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal)
	require.NoError(t, err)

	assert.Equal(t, 0, h.gateway.placeCalls)
	assert.Equal(t, domain.StatusClosed, position.Status)
	require.Len(t, h.externalExits.records, 1)
	assert.Equal(t, 55.0, h.externalExits.records[0].ExitPrice, "broker last price wins when present")
}

func TestValidatedExitLeaseHeld(t *testing.T) {
	gateway := &fakeGateway{}
	h := newValidatorHarness(gateway)
	h.lease.held = true

	position := openPosition(50, 40.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal)
	assert.ErrorIs(t, err, domain.ErrLeaseHeld)
	assert.Equal(t, 0, h.gateway.placeCalls)
	assert.Equal(t, domain.StatusOpen, position.Status)
}

func TestValidatedExitAlreadyClosedUnderLease(t *testing.T) {
	gateway := &fakeGateway{}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 40.0)
	position.Status = domain.StatusClosed
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	require.Len(t, h.validations.records, 1)
	assert.Equal(t, domain.ValidationActionSkipped, h.validations.records[0].Action)
	assert.Equal(t, 1, h.lease.released, "lease released even on the skip path")
}

func TestValidatedExitUnconfirmedOrderLeavesPositionOpen(t *testing.T) {
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 50, LastPrice: 45.0},
		},
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:       "ORD-1",
			Status:        domain.BrokerOrderRejected,
			StatusMessage: "market closed",
		}),
	}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 40.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonAutoSquareOff)
	require.Error(t, err)

	assert.Equal(t, domain.StatusOpen, position.Status, "no confirmed fill, no state change")
	assert.Equal(t, 50, position.CurrentQuantity)
}

func TestValidateMatchesBySymbolAndExchange(t *testing.T) {
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "BSE", Quantity: 10},
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: -75, LastPrice: 12.5, PnL: -100},
		},
	}
	h := newValidatorHarness(gateway)

	position := openPosition(75, 14.0)
	result, err := h.validator.Validate(context.Background(), position)
	require.NoError(t, err)

	assert.True(t, result.ExistsAtBroker)
	assert.Equal(t, 75, result.BrokerQuantity, "quantity is reported as magnitude")
	assert.Equal(t, 12.5, result.BrokerPrice)
}

func TestValidatedExitCapsFillAtLocalQuantity(t *testing.T) {
	// The broker reports more than the local book holds. The exit order
	// is sized to broker truth and the larger fill comes back; the
	// position must still close cleanly on its local quantity.
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 75, LastPrice: 60.0},
		},
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 75,
			AveragePrice:   60.0,
		}),
	}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 50.0)
	h.positionRepo.positions[position.ID] = position

	err := h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal)
	require.NoError(t, err, "a fill larger than the local book must not reject after funds moved")

	assert.Equal(t, 75, h.gateway.lastOrderReq.Quantity, "the order itself is sized to broker truth")
	assert.Equal(t, domain.StatusClosed, position.Status)
	assert.Equal(t, 0, position.CurrentQuantity)
	assert.Equal(t, (60.0-50.0)*50, position.RealizedPnL)
}

func TestValidatedExitTracksConfirmationAtSubmission(t *testing.T) {
	gateway := &fakeGateway{
		positions: []domain.BrokerPosition{
			{Symbol: "NIFTY24SEP24000CE", Exchange: "NFO", Quantity: 50, LastPrice: 55.0},
		},
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 50,
			AveragePrice:   55.0,
		}),
	}
	h := newValidatorHarness(gateway)

	position := openPosition(50, 50.0)
	h.positionRepo.positions[position.ID] = position

	require.NoError(t, h.validator.ValidatedExit(context.Background(), position.ID, domain.ExitReasonSignal))

	require.Len(t, h.confirmationRepo.confirmations, 1)
	for _, confirmation := range h.confirmationRepo.confirmations {
		assert.Equal(t, "ORD-1", confirmation.BrokerOrderID)
		assert.Equal(t, domain.ConfirmationConfirmed, confirmation.Status)
		// The record starts PENDING when the order is submitted, so a
		// crash before the first poll still leaves it sweepable.
		require.NotEmpty(t, confirmation.History)
		assert.Equal(t, domain.ConfirmationPending, confirmation.History[0].Status)
	}
}
