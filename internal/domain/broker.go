package domain

import (
	"context"

	"github.com/google/uuid"
)

// Broker-reported order status vocabulary. Unrecognized statuses are
// logged and treated as still pending, never as terminal.
const (
	BrokerOrderOpen           = "OPEN"
	BrokerOrderTriggerPending = "TRIGGER_PENDING"
	BrokerOrderComplete       = "COMPLETE"
	BrokerOrderCancelled      = "CANCELLED"
	BrokerOrderRejected       = "REJECTED"
)

// OrderRequest describes an order to be placed at the broker.
type OrderRequest struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  int     `json:"quantity"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price,omitempty"` // limit price, ignored for MARKET
}

// BrokerOrder is one entry from the broker's order listing.
type BrokerOrder struct {
	OrderID         string  `json:"order_id"`
	Status          string  `json:"status"`
	FilledQuantity  int     `json:"filled_quantity"`
	PendingQuantity int     `json:"pending_quantity"`
	AveragePrice    float64 `json:"average_price"`
	Price           float64 `json:"price"`
	StatusMessage   string  `json:"status_message"`
}

// BrokerPosition is one entry from the broker's position listing,
// covering both the carried-forward and same-day books.
type BrokerPosition struct {
	Symbol     string  `json:"symbol"`
	Exchange   string  `json:"exchange"`
	Quantity   int     `json:"quantity"`
	LastPrice  float64 `json:"last_price"`
	ClosePrice float64 `json:"close_price"`
	PnL        float64 `json:"pnl"`
}

// PlacedOrder is the broker's acknowledgement of an order submission.
type PlacedOrder struct {
	OrderID     string // broker order identifier
	RawResponse string // raw broker payload kept for audit
}

// BrokerGateway abstracts the third-party broker's order API. All calls
// are made with the credentials of the given user, decrypted per use.
type BrokerGateway interface {
	// PlaceOrder submits an order and returns the broker order id, or
	// ErrRejectedByBroker on an immediate rejection.
	PlaceOrder(ctx context.Context, userID uuid.UUID, req OrderRequest) (*PlacedOrder, error)

	// ListOrders returns the broker's current order book for the user.
	ListOrders(ctx context.Context, userID uuid.UUID) ([]BrokerOrder, error)

	// ListPositions returns the broker's open positions for the user,
	// merged across the carried-forward and same-day sets.
	ListPositions(ctx context.Context, userID uuid.UUID) ([]BrokerPosition, error)
}
