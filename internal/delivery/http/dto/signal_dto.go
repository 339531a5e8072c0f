package dto

// SignalRequest is the webhook payload delivered by an external signal
// source. The engine trusts it as pre-validated: no price sanity or
// risk checks happen here.
type SignalRequest struct {
	BotID          string   `json:"bot_id" validate:"required"`
	Symbol         string   `json:"symbol" validate:"required"`
	Action         string   `json:"action" validate:"required"` // ENTRY, EXIT, BUY or SELL
	Exchange       string   `json:"exchange" validate:"required"`
	InstrumentType string   `json:"instrument_type"`
	Quantity       int      `json:"quantity"`
	Price          *float64 `json:"price,omitempty"` // limit price; absent means MARKET
	StopLoss       *float64 `json:"stop_loss,omitempty"`
	Target         *float64 `json:"target,omitempty"`
}

// SignalOutput represents a signal in API responses
type SignalOutput struct {
	ID          string   `json:"id"`
	BotID       string   `json:"bot_id"`
	Symbol      string   `json:"symbol"`
	Action      string   `json:"action"`
	Exchange    string   `json:"exchange"`
	Quantity    int      `json:"quantity"`
	Price       *float64 `json:"price,omitempty"`
	Status      string   `json:"status"`
	Error       *string  `json:"error,omitempty"`
	CreatedAt   string   `json:"created_at"`
	ProcessedAt *string  `json:"processed_at,omitempty"`
}
