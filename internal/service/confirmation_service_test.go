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

func testBudget() ConfirmationBudget {
	return ConfirmationBudget{
		MaxWait:               time.Second,
		PollInterval:          time.Millisecond,
		MaxAttempts:           5,
		PartialFillAcceptable: true,
		PartialFillThreshold:  0.8,
	}
}

func pendingExecution() *domain.Execution {
	return &domain.Execution{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		BotID:             "bot-1",
		Symbol:            "BANKNIFTY24SEP51000CE",
		Exchange:          "NFO",
		Side:              domain.OrderSideBuy,
		Kind:              domain.KindEntry,
		RequestedQuantity: 100,
		BrokerOrderID:     "ORD-1",
		Status:            domain.ExecutionPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
}

func newConfirmationHarness(gateway *fakeGateway) (*ConfirmationService, *fakeConfirmationRepo, *fakeExecutionRepo) {
	confirmationRepo := newFakeConfirmationRepo()
	executionRepo := newFakeExecutionRepo()
	cs := NewConfirmationService(gateway, confirmationRepo, executionRepo, configs.ConfirmationConfig{}, nil)
	return cs, confirmationRepo, executionRepo
}

func TestConfirmCompleteOnFirstPoll(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 100,
			AveragePrice:   51.5,
		}),
	}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Executed)
	assert.Equal(t, domain.BrokerOrderComplete, result.FinalStatus)
	assert.Equal(t, 100, result.FilledQuantity)
	assert.Equal(t, 51.5, result.AveragePrice)
	assert.False(t, result.QuantityMismatch)
	assert.Equal(t, 1, gateway.listCalls, "a terminal status on the first poll must not poll again")

	assert.Equal(t, domain.ExecutionExecuted, execution.Status)
	assert.Equal(t, 100, execution.ExecutedQuantity)

	confirmation, err := confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirmed, confirmation.Status)
}

func TestConfirmQuantityMismatchNeverDropped(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 90,
			AveragePrice:   51.5,
		}),
	}
	cs, _, _ := newConfirmationHarness(gateway)

	result, err := cs.Confirm(context.Background(), pendingExecution(), testBudget())
	require.NoError(t, err)

	assert.True(t, result.Success, "funds moved; a mismatch is still a success")
	assert.True(t, result.QuantityMismatch)
	assert.Contains(t, result.Message, "requested 100, filled 90")
}

func TestConfirmPartialFillAccepted(t *testing.T) {
	// 85 of 100 filled and still OPEN: at threshold 0.8 the fill is
	// accepted rather than waiting for a timeout.
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderOpen,
			FilledQuantity: 85,
			AveragePrice:   50.25,
		}),
	}
	cs, _, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, FinalPartialFillAccepted, result.FinalStatus)
	assert.Equal(t, 85, result.FilledQuantity)
	assert.True(t, result.QuantityMismatch)
	assert.Equal(t, domain.ExecutionExecuted, execution.Status)
	assert.Equal(t, 85, execution.ExecutedQuantity)
}

func TestConfirmPartialBelowThresholdTimesOut(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderOpen,
			FilledQuantity: 50,
		}),
	}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	budget := testBudget()
	result, err := cs.Confirm(context.Background(), execution, budget)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "TIMEOUT_OPEN", result.FinalStatus)
	assert.True(t, IsTimeoutStatus(result.FinalStatus))
	assert.Equal(t, budget.MaxAttempts, gateway.listCalls)

	// The record stays CONFIRMING so the background monitor takes over.
	confirmation, err := confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationConfirming, confirmation.Status)
	assert.Equal(t, domain.ExecutionPending, execution.Status)
}

func TestConfirmRejectedFailsWithoutRetry(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:       "ORD-1",
			Status:        domain.BrokerOrderRejected,
			StatusMessage: "insufficient margin",
		}),
	}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.BrokerOrderRejected, result.FinalStatus)
	assert.Equal(t, "insufficient margin", result.Message)
	assert.Equal(t, 1, gateway.listCalls, "a rejection is terminal, no retries")
	assert.Equal(t, domain.ExecutionFailed, execution.Status)

	confirmation, err := confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationFailed, confirmation.Status)
}

func TestConfirmCancelledMarksExecutionCancelled(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID: "ORD-1",
			Status:  domain.BrokerOrderCancelled,
		}),
	}
	cs, _, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, domain.ExecutionCancelled, execution.Status)
}

func TestConfirmUnknownStatusKeepsPolling(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: func(call int) ([]domain.BrokerOrder, error) {
			if call < 3 {
				return []domain.BrokerOrder{{OrderID: "ORD-1", Status: "AMO_REQ_RECEIVED"}}, nil
			}
			return []domain.BrokerOrder{{OrderID: "ORD-1", Status: domain.BrokerOrderComplete, FilledQuantity: 100, AveragePrice: 50}}, nil
		},
	}
	cs, _, _ := newConfirmationHarness(gateway)

	result, err := cs.Confirm(context.Background(), pendingExecution(), testBudget())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, gateway.listCalls)
}

func TestConfirmOrderNotListedYetKeepsPolling(t *testing.T) {
	// The broker's order listing is eventually consistent: an absent
	// order is not a failure.
	gateway := &fakeGateway{
		listOrdersFn: func(call int) ([]domain.BrokerOrder, error) {
			if call == 1 {
				return []domain.BrokerOrder{}, nil
			}
			return []domain.BrokerOrder{{OrderID: "ORD-1", Status: domain.BrokerOrderComplete, FilledQuantity: 100, AveragePrice: 50}}, nil
		},
	}
	cs, _, _ := newConfirmationHarness(gateway)

	result, err := cs.Confirm(context.Background(), pendingExecution(), testBudget())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, gateway.listCalls)
}

func TestConfirmTransportErrorBacksOffThenRecovers(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: func(call int) ([]domain.BrokerOrder, error) {
			if call == 1 {
				return nil, context.DeadlineExceeded
			}
			return []domain.BrokerOrder{{OrderID: "ORD-1", Status: domain.BrokerOrderComplete, FilledQuantity: 100, AveragePrice: 50}}, nil
		},
	}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)
	assert.True(t, result.Success)

	confirmation, err := confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, confirmation.ConsecutiveFailures, "a successful poll resets the failure streak")
}

func TestConfirmRefusesTerminalRecord(t *testing.T) {
	gateway := &fakeGateway{listOrdersFn: alwaysOrders()}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	confirmationRepo.confirmations[uuid.New()] = &domain.ConfirmationState{
		ID:          uuid.New(),
		ExecutionID: execution.ID,
		Status:      domain.ConfirmationConfirmed,
	}

	_, err := cs.Confirm(context.Background(), execution, testBudget())
	assert.Error(t, err, "a terminal confirmation must not be re-polled")
}

func TestConfirmClaimsTrackedRecord(t *testing.T) {
	gateway := &fakeGateway{
		listOrdersFn: alwaysOrders(domain.BrokerOrder{
			OrderID:        "ORD-1",
			Status:         domain.BrokerOrderComplete,
			FilledQuantity: 100,
			AveragePrice:   51.5,
		}),
	}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)

	execution := pendingExecution()
	require.NoError(t, cs.Track(context.Background(), execution))

	tracked, err := confirmationRepo.GetByExecutionID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConfirmationPending, tracked.Status)
	assert.Equal(t, "ORD-1", tracked.BrokerOrderID)

	result, err := cs.Confirm(context.Background(), execution, testBudget())
	require.NoError(t, err)
	assert.True(t, result.Success)

	// Confirm must claim the tracked record, not create a second one.
	assert.Len(t, confirmationRepo.confirmations, 1)
	assert.Equal(t, domain.ConfirmationConfirmed, tracked.Status)
	require.NotEmpty(t, tracked.History)
	assert.Equal(t, domain.ConfirmationPending, tracked.History[0].Status)
}

func TestConfirmLookupErrorDoesNotCreateDuplicate(t *testing.T) {
	gateway := &fakeGateway{listOrdersFn: alwaysOrders()}
	cs, confirmationRepo, _ := newConfirmationHarness(gateway)
	confirmationRepo.lookupErr = context.DeadlineExceeded

	_, err := cs.Confirm(context.Background(), pendingExecution(), testBudget())
	require.Error(t, err, "a transient lookup failure must abort, not spawn a fresh record")
	assert.Empty(t, confirmationRepo.confirmations)
	assert.Equal(t, 0, gateway.listCalls)
}
