package http

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"tradeflow/internal/delivery/http/dto"
	"tradeflow/internal/domain"
)

// AdminHandler handles operator-facing requests, chiefly the manual
// review queue.
type AdminHandler struct {
	confirmationRepo domain.ConfirmationRepository
	positionRepo     domain.PositionRepository
	executionRepo    domain.ExecutionRepository
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(confirmationRepo domain.ConfirmationRepository, positionRepo domain.PositionRepository, executionRepo domain.ExecutionRepository) *AdminHandler {
	return &AdminHandler{
		confirmationRepo: confirmationRepo,
		positionRepo:     positionRepo,
		executionRepo:    executionRepo,
	}
}

// GetManualReviewQueue lists confirmations awaiting human action
// GET /api/admin/manual-review
func (h *AdminHandler) GetManualReviewQueue(c echo.Context) error {
	records, err := h.confirmationRepo.GetManualReview(c.Request().Context(), 100)
	if err != nil {
		return InternalServerErrorResponse(c, "Failed to load manual review queue", err)
	}

	out := make([]*dto.ManualReviewOutput, 0, len(records))
	for _, record := range records {
		out = append(out, &dto.ManualReviewOutput{
			ID:            record.ID.String(),
			ExecutionID:   record.ExecutionID.String(),
			BrokerOrderID: record.BrokerOrderID,
			Attempts:      record.Attempts,
			LastError:     record.LastError,
			UpdatedAt:     record.UpdatedAt.Format(time.RFC3339),
		})
	}
	return SuccessResponse(c, out)
}

// ResolveManualReview records the operator's resolution of a stuck
// confirmation
// POST /api/admin/manual-review/:id/resolve
func (h *AdminHandler) ResolveManualReview(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return BadRequestResponse(c, "Invalid confirmation id")
	}

	var req dto.ResolveReviewRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "Invalid request payload")
	}
	if req.Outcome != domain.ConfirmationConfirmed && req.Outcome != domain.ConfirmationFailed {
		return BadRequestResponse(c, "Outcome must be CONFIRMED or FAILED")
	}

	note := req.Note
	if note == "" {
		note = "resolved by operator"
	}

	if err := h.confirmationRepo.ResolveManualReview(c.Request().Context(), id, req.Outcome, note); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NotFoundResponse(c, "No manual review record with that id")
		}
		return InternalServerErrorResponse(c, "Failed to resolve manual review", err)
	}

	return SuccessMessageResponse(c, "Manual review resolved", nil)
}

// GetOrderByBrokerID looks up the execution behind a broker order id,
// for operators investigating manual review entries
// GET /api/admin/orders/:broker_order_id
func (h *AdminHandler) GetOrderByBrokerID(c echo.Context) error {
	brokerOrderID := c.Param("broker_order_id")
	if brokerOrderID == "" {
		return BadRequestResponse(c, "Broker order id is required")
	}

	execution, err := h.executionRepo.GetByBrokerOrderID(c.Request().Context(), brokerOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NotFoundResponse(c, "No execution with that broker order id")
		}
		return InternalServerErrorResponse(c, "Failed to load execution", err)
	}

	out := &dto.ExecutionOutput{
		ID:                execution.ID.String(),
		Symbol:            execution.Symbol,
		Exchange:          execution.Exchange,
		Side:              execution.Side,
		Kind:              execution.Kind,
		RequestedQuantity: execution.RequestedQuantity,
		ExecutedQuantity:  execution.ExecutedQuantity,
		ExecutedPrice:     execution.ExecutedPrice,
		BrokerOrderID:     execution.BrokerOrderID,
		Status:            execution.Status,
		ExitReason:        execution.ExitReason,
		CreatedAt:         execution.CreatedAt.Format(time.RFC3339),
	}
	if execution.PositionID != nil {
		positionID := execution.PositionID.String()
		out.PositionID = &positionID
	}
	return SuccessResponse(c, out)
}

// GetOpenPositionsOverview lists open positions across all users
// GET /api/admin/positions
func (h *AdminHandler) GetOpenPositionsOverview(c echo.Context) error {
	positions, err := h.positionRepo.GetOpenPositions(c.Request().Context())
	if err != nil {
		return InternalServerErrorResponse(c, "Failed to load positions", err)
	}

	out := make([]*dto.PositionOutput, 0, len(positions))
	for _, position := range positions {
		out = append(out, positionOutput(position))
	}
	return SuccessResponse(c, out)
}
