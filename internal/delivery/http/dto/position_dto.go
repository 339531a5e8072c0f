package dto

// PositionOutput represents a position in API responses
type PositionOutput struct {
	ID              string   `json:"id"`
	BotID           string   `json:"bot_id"`
	Symbol          string   `json:"symbol"`
	Exchange        string   `json:"exchange"`
	Side            string   `json:"side"`
	Status          string   `json:"status"`
	EntryPrice      float64  `json:"entry_price"`
	EntryQuantity   int      `json:"entry_quantity"`
	CurrentQuantity int      `json:"current_quantity"`
	AveragePrice    float64  `json:"average_price"`
	RealizedPnL     float64  `json:"realized_pnl"`
	UnrealizedPnL   float64  `json:"unrealized_pnl"`
	ScheduledExitAt *string  `json:"scheduled_exit_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
	ClosedAt        *string  `json:"closed_at,omitempty"`
}

// ValidationOutput represents a broker-side validation result in API
// responses
type ValidationOutput struct {
	ExistsAtBroker bool    `json:"exists_at_broker"`
	BrokerQuantity int     `json:"broker_quantity"`
	BrokerPrice    float64 `json:"broker_price"`
	BrokerPnL      float64 `json:"broker_pnl"`
}

// ManualReviewOutput represents a confirmation stuck in manual review
type ManualReviewOutput struct {
	ID            string  `json:"id"`
	ExecutionID   string  `json:"execution_id"`
	BrokerOrderID string  `json:"broker_order_id"`
	Attempts      int     `json:"attempts"`
	LastError     *string `json:"last_error,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

// ResolveReviewRequest is the operator's resolution of a manual-review
// record
type ResolveReviewRequest struct {
	Outcome string `json:"outcome" validate:"required"` // CONFIRMED or FAILED
	Note    string `json:"note"`
}

// ExecutionOutput represents an order execution in API responses, used
// by the operator's broker-order lookup
type ExecutionOutput struct {
	ID                string  `json:"id"`
	PositionID        *string `json:"position_id,omitempty"`
	Symbol            string  `json:"symbol"`
	Exchange          string  `json:"exchange"`
	Side              string  `json:"side"`
	Kind              string  `json:"kind"`
	RequestedQuantity int     `json:"requested_quantity"`
	ExecutedQuantity  int     `json:"executed_quantity"`
	ExecutedPrice     float64 `json:"executed_price"`
	BrokerOrderID     string  `json:"broker_order_id"`
	Status            string  `json:"status"`
	ExitReason        *string `json:"exit_reason,omitempty"`
	CreatedAt         string  `json:"created_at"`
}
