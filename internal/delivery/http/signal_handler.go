package http

import (
	"time"

	"github.com/labstack/echo/v4"

	"tradeflow/internal/delivery/http/dto"
	"tradeflow/internal/domain"
	"tradeflow/internal/usecase"
)

// SignalHandler receives trading signals from the external signal
// source webhook.
type SignalHandler struct {
	trading *usecase.TradingService
}

// NewSignalHandler creates a new SignalHandler
func NewSignalHandler(trading *usecase.TradingService) *SignalHandler {
	return &SignalHandler{trading: trading}
}

// Receive accepts a signal and processes it synchronously so the
// webhook response reflects the outcome.
// POST /api/signals
func (h *SignalHandler) Receive(c echo.Context) error {
	var req dto.SignalRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "Invalid request payload")
	}
	if req.BotID == "" || req.Symbol == "" || req.Action == "" || req.Exchange == "" {
		return BadRequestResponse(c, "bot_id, symbol, action and exchange are required")
	}

	switch req.Action {
	case domain.ActionEntry, domain.ActionExit, domain.ActionBuy, domain.ActionSell:
	default:
		return BadRequestResponse(c, "Unknown action: "+req.Action)
	}

	instrumentType := req.InstrumentType
	if instrumentType == "" {
		instrumentType = domain.InstrumentEquity
	}

	signal := &domain.Signal{
		BotID:          req.BotID,
		Symbol:         req.Symbol,
		Action:         req.Action,
		Exchange:       req.Exchange,
		InstrumentType: instrumentType,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopLoss:       req.StopLoss,
		Target:         req.Target,
	}

	if err := h.trading.ProcessSignal(c.Request().Context(), signal); err != nil {
		return InternalServerErrorResponse(c, "Signal processing failed", err)
	}

	return SuccessMessageResponse(c, "Signal processed", map[string]string{"signal_id": signal.ID.String()})
}

// Recent lists the most recent signals
// GET /api/signals/recent
func (h *SignalHandler) Recent(c echo.Context) error {
	signals, err := h.trading.GetRecentSignals(c.Request().Context(), 50)
	if err != nil {
		return InternalServerErrorResponse(c, "Failed to load signals", err)
	}

	out := make([]*dto.SignalOutput, 0, len(signals))
	for _, signal := range signals {
		out = append(out, signalOutput(signal))
	}
	return SuccessResponse(c, out)
}

func signalOutput(signal *domain.Signal) *dto.SignalOutput {
	out := &dto.SignalOutput{
		ID:        signal.ID.String(),
		BotID:     signal.BotID,
		Symbol:    signal.Symbol,
		Action:    signal.Action,
		Exchange:  signal.Exchange,
		Quantity:  signal.Quantity,
		Price:     signal.Price,
		Status:    signal.Status,
		Error:     signal.Error,
		CreatedAt: signal.CreatedAt.Format(time.RFC3339),
	}
	if signal.ProcessedAt != nil {
		processed := signal.ProcessedAt.Format(time.RFC3339)
		out.ProcessedAt = &processed
	}
	return out
}
