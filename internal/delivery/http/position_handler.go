package http

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"tradeflow/internal/delivery/http/dto"
	"tradeflow/internal/domain"
	"tradeflow/internal/middleware"
	"tradeflow/internal/service"
	"tradeflow/internal/usecase"
)

// PositionHandler handles position-related requests
type PositionHandler struct {
	trading      *usecase.TradingService
	validator    *service.ValidatorService
	positionRepo domain.PositionRepository
	scheduler    usecase.AutoExitScheduler
}

// NewPositionHandler creates a new PositionHandler
func NewPositionHandler(
	trading *usecase.TradingService,
	validator *service.ValidatorService,
	positionRepo domain.PositionRepository,
	scheduler usecase.AutoExitScheduler,
) *PositionHandler {
	return &PositionHandler{
		trading:      trading,
		validator:    validator,
		positionRepo: positionRepo,
		scheduler:    scheduler,
	}
}

// GetPositions lists the user's open positions
// GET /api/user/positions
func (h *PositionHandler) GetPositions(c echo.Context) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return UnauthorizedResponse(c, "Not authenticated")
	}

	positions, err := h.trading.GetOpenPositions(c.Request().Context(), userID, c.QueryParam("bot_id"))
	if err != nil {
		return InternalServerErrorResponse(c, "Failed to load positions", err)
	}

	out := make([]*dto.PositionOutput, 0, len(positions))
	for _, position := range positions {
		out = append(out, positionOutput(position))
	}
	return SuccessResponse(c, out)
}

// ClosePosition closes a position through the validated exit path
// POST /api/user/positions/:id/close
func (h *PositionHandler) ClosePosition(c echo.Context) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return UnauthorizedResponse(c, "Not authenticated")
	}

	position, err := h.loadOwned(c, userID)
	if err != nil {
		return err
	}

	err = h.validator.ValidatedExit(c.Request().Context(), position.ID, domain.ExitReasonManual)
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadyClosed):
		h.scheduler.Cancel(position.ID)
	case errors.Is(err, domain.ErrLeaseHeld):
		return ConflictResponse(c, "An exit for this position is already in progress")
	default:
		return InternalServerErrorResponse(c, "Failed to close position", err)
	}

	return SuccessMessageResponse(c, "Position closed", nil)
}

// ValidatePosition checks a position against the broker without acting
// GET /api/user/positions/:id/validate
func (h *PositionHandler) ValidatePosition(c echo.Context) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return UnauthorizedResponse(c, "Not authenticated")
	}

	position, err := h.loadOwned(c, userID)
	if err != nil {
		return err
	}

	result, err := h.validator.Validate(c.Request().Context(), position)
	if err != nil {
		return InternalServerErrorResponse(c, "Broker validation failed", err)
	}

	return SuccessResponse(c, &dto.ValidationOutput{
		ExistsAtBroker: result.ExistsAtBroker,
		BrokerQuantity: result.BrokerQuantity,
		BrokerPrice:    result.BrokerPrice,
		BrokerPnL:      result.BrokerPnL,
	})
}

// GetTodayPnL returns the user's realized PnL for the trading day
// GET /api/user/pnl/today
func (h *PositionHandler) GetTodayPnL(c echo.Context) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return UnauthorizedResponse(c, "Not authenticated")
	}

	pnl, err := h.trading.GetTodayPnL(c.Request().Context(), userID)
	if err != nil {
		return InternalServerErrorResponse(c, "Failed to compute PnL", err)
	}

	return SuccessResponse(c, map[string]float64{"realized_pnl": pnl})
}

// loadOwned loads the :id position and verifies the caller owns it.
func (h *PositionHandler) loadOwned(c echo.Context, userID uuid.UUID) (*domain.Position, error) {
	positionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, BadRequestResponse(c, "Invalid position id")
	}

	position, err := h.positionRepo.GetByID(c.Request().Context(), positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, NotFoundResponse(c, "Position not found")
		}
		return nil, InternalServerErrorResponse(c, "Failed to load position", err)
	}
	if position.UserID != userID {
		return nil, NotFoundResponse(c, "Position not found")
	}

	return position, nil
}

func positionOutput(position *domain.Position) *dto.PositionOutput {
	out := &dto.PositionOutput{
		ID:              position.ID.String(),
		BotID:           position.BotID,
		Symbol:          position.Symbol,
		Exchange:        position.Exchange,
		Side:            position.Side,
		Status:          position.Status,
		EntryPrice:      position.EntryPrice,
		EntryQuantity:   position.EntryQuantity,
		CurrentQuantity: position.CurrentQuantity,
		AveragePrice:    position.AveragePrice,
		RealizedPnL:     position.RealizedPnL,
		UnrealizedPnL:   position.UnrealizedPnL,
		ScheduledExitAt: position.ScheduledExitAt,
		CreatedAt:       position.CreatedAt.Format(time.RFC3339),
	}
	if position.ClosedAt != nil {
		closed := position.ClosedAt.Format(time.RFC3339)
		out.ClosedAt = &closed
	}
	return out
}
