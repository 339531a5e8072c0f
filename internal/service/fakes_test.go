package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/domain"
)

// In-memory fakes for the repository and gateway interfaces. They keep
// just enough behavior for the services under test: lookups, list
// filters, and call counting.

type fakePositionRepo struct {
	positions map[uuid.UUID]*domain.Position
	saveErr   error
	updates   int
}

func newFakePositionRepo() *fakePositionRepo {
	return &fakePositionRepo{positions: make(map[uuid.UUID]*domain.Position)}
}

func (r *fakePositionRepo) Save(_ context.Context, position *domain.Position) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.positions[position.ID] = position
	return nil
}

func (r *fakePositionRepo) Update(_ context.Context, position *domain.Position) error {
	r.updates++
	r.positions[position.ID] = position
	return nil
}

func (r *fakePositionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Position, error) {
	position, ok := r.positions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return position, nil
}

func (r *fakePositionRepo) GetByEntryExecutionID(_ context.Context, executionID uuid.UUID) (*domain.Position, error) {
	for _, position := range r.positions {
		if position.EntryExecutionID == executionID {
			return position, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakePositionRepo) GetOpenPositions(_ context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, position := range r.positions {
		if position.IsOpen() {
			out = append(out, position)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) GetOpenByUser(_ context.Context, userID uuid.UUID, botID string) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, position := range r.positions {
		if position.IsOpen() && position.UserID == userID && (botID == "" || position.BotID == botID) {
			out = append(out, position)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) GetOpenBySymbol(_ context.Context, userID uuid.UUID, symbol, exchange string) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, position := range r.positions {
		if position.IsOpen() && position.UserID == userID && position.Symbol == symbol && position.Exchange == exchange {
			out = append(out, position)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) GetSchedulable(_ context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, position := range r.positions {
		if position.IsOpen() && position.ScheduledExitAt != nil && !position.AutoExitOwned {
			out = append(out, position)
		}
	}
	return out, nil
}

func (r *fakePositionRepo) SetAutoExitOwned(_ context.Context, id uuid.UUID, owned bool) error {
	if position, ok := r.positions[id]; ok {
		position.AutoExitOwned = owned
	}
	return nil
}

func (r *fakePositionRepo) ResetAutoExitOwnership(_ context.Context) error {
	for _, position := range r.positions {
		if position.IsOpen() {
			position.AutoExitOwned = false
		}
	}
	return nil
}

func (r *fakePositionRepo) PurgeClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	for id, position := range r.positions {
		if position.Status == domain.StatusClosed && position.ClosedAt != nil && position.ClosedAt.Before(cutoff) {
			delete(r.positions, id)
			purged++
		}
	}
	return purged, nil
}

func (r *fakePositionRepo) GetTodayRealizedPnL(_ context.Context, userID uuid.UUID, startOfDay time.Time) (float64, error) {
	var total float64
	for _, position := range r.positions {
		if position.UserID == userID && position.ClosedAt != nil && !position.ClosedAt.Before(startOfDay) {
			total += position.RealizedPnL
		}
	}
	return total, nil
}

type fakeExecutionRepo struct {
	executions map[uuid.UUID]*domain.Execution
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{executions: make(map[uuid.UUID]*domain.Execution)}
}

func (r *fakeExecutionRepo) Save(_ context.Context, execution *domain.Execution) error {
	r.executions[execution.ID] = execution
	return nil
}

func (r *fakeExecutionRepo) Update(_ context.Context, execution *domain.Execution) error {
	r.executions[execution.ID] = execution
	return nil
}

func (r *fakeExecutionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Execution, error) {
	execution, ok := r.executions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return execution, nil
}

func (r *fakeExecutionRepo) GetByBrokerOrderID(_ context.Context, brokerOrderID string) (*domain.Execution, error) {
	for _, execution := range r.executions {
		if execution.BrokerOrderID == brokerOrderID {
			return execution, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeConfirmationRepo struct {
	confirmations map[uuid.UUID]*domain.ConfirmationState
	lookupErr     error
}

func newFakeConfirmationRepo() *fakeConfirmationRepo {
	return &fakeConfirmationRepo{confirmations: make(map[uuid.UUID]*domain.ConfirmationState)}
}

func (r *fakeConfirmationRepo) Save(_ context.Context, confirmation *domain.ConfirmationState) error {
	r.confirmations[confirmation.ID] = confirmation
	return nil
}

func (r *fakeConfirmationRepo) Update(_ context.Context, confirmation *domain.ConfirmationState) error {
	r.confirmations[confirmation.ID] = confirmation
	return nil
}

func (r *fakeConfirmationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.ConfirmationState, error) {
	confirmation, ok := r.confirmations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return confirmation, nil
}

func (r *fakeConfirmationRepo) GetByExecutionID(_ context.Context, executionID uuid.UUID) (*domain.ConfirmationState, error) {
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, confirmation := range r.confirmations {
		if confirmation.ExecutionID == executionID {
			return confirmation, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeConfirmationRepo) GetUnresolved(_ context.Context, limit int) ([]*domain.ConfirmationState, error) {
	var out []*domain.ConfirmationState
	for _, confirmation := range r.confirmations {
		if !confirmation.IsTerminal() && len(out) < limit {
			out = append(out, confirmation)
		}
	}
	return out, nil
}

func (r *fakeConfirmationRepo) GetManualReview(_ context.Context, limit int) ([]*domain.ConfirmationState, error) {
	var out []*domain.ConfirmationState
	for _, confirmation := range r.confirmations {
		if confirmation.Status == domain.ConfirmationManualReview && len(out) < limit {
			out = append(out, confirmation)
		}
	}
	return out, nil
}

func (r *fakeConfirmationRepo) ResolveManualReview(_ context.Context, id uuid.UUID, status, note string) error {
	confirmation, ok := r.confirmations[id]
	if !ok || confirmation.Status != domain.ConfirmationManualReview {
		return domain.ErrNotFound
	}
	confirmation.Status = status
	confirmation.AppendEvent(status, note)
	return nil
}

type fakeExternalExitRepo struct {
	records []*domain.ExternalExitRecord
}

func (r *fakeExternalExitRepo) Save(_ context.Context, record *domain.ExternalExitRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeExternalExitRepo) GetByPositionID(_ context.Context, positionID uuid.UUID) ([]*domain.ExternalExitRecord, error) {
	var out []*domain.ExternalExitRecord
	for _, record := range r.records {
		if record.PositionID == positionID {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakeValidationRepo struct {
	records []*domain.ValidationRecord
}

func (r *fakeValidationRepo) Save(_ context.Context, record *domain.ValidationRecord) error {
	r.records = append(r.records, record)
	return nil
}

func (r *fakeValidationRepo) GetByPositionID(_ context.Context, positionID uuid.UUID) ([]*domain.ValidationRecord, error) {
	var out []*domain.ValidationRecord
	for _, record := range r.records {
		if record.PositionID == positionID {
			out = append(out, record)
		}
	}
	return out, nil
}

// fakeGateway scripts the broker: a fixed placement response, an order
// listing function (so tests can vary answers per call), and a fixed
// position listing.
type fakeGateway struct {
	placeResp    *domain.PlacedOrder
	placeErr     error
	placeCalls   int
	lastOrderReq domain.OrderRequest

	listOrdersFn func(call int) ([]domain.BrokerOrder, error)
	listCalls    int

	positions    []domain.BrokerPosition
	positionsErr error
}

func (g *fakeGateway) PlaceOrder(_ context.Context, _ uuid.UUID, req domain.OrderRequest) (*domain.PlacedOrder, error) {
	g.placeCalls++
	g.lastOrderReq = req
	if g.placeErr != nil {
		return nil, g.placeErr
	}
	if g.placeResp != nil {
		return g.placeResp, nil
	}
	return &domain.PlacedOrder{OrderID: "ORD-1", RawResponse: `{"status":"success"}`}, nil
}

func (g *fakeGateway) ListOrders(_ context.Context, _ uuid.UUID) ([]domain.BrokerOrder, error) {
	g.listCalls++
	if g.listOrdersFn == nil {
		return nil, errors.New("no order listing scripted")
	}
	return g.listOrdersFn(g.listCalls)
}

func (g *fakeGateway) ListPositions(_ context.Context, _ uuid.UUID) ([]domain.BrokerPosition, error) {
	if g.positionsErr != nil {
		return nil, g.positionsErr
	}
	return g.positions, nil
}

// alwaysOrders scripts a listing that answers the same on every call.
func alwaysOrders(orders ...domain.BrokerOrder) func(int) ([]domain.BrokerOrder, error) {
	return func(int) ([]domain.BrokerOrder, error) {
		return orders, nil
	}
}

type fakeLease struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLease) Acquire(_ context.Context, _ uuid.UUID, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLeaseHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

type fakeNotifier struct {
	manualReviews   int
	externalExits   int
	positionsClosed int
}

func (n *fakeNotifier) NotifyManualReview(*domain.ConfirmationState, *domain.Execution, string) error {
	n.manualReviews++
	return nil
}

func (n *fakeNotifier) NotifyExternalExit(*domain.Position, *domain.ExternalExitRecord) error {
	n.externalExits++
	return nil
}

func (n *fakeNotifier) NotifyPositionClosed(*domain.Position, *domain.Execution) error {
	n.positionsClosed++
	return nil
}
