package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tradeflow/internal/domain"
)

// Client implements domain.BrokerGateway against the broker's HTTP
// order API. Every call loads the user's sealed credentials from the
// user store and decrypts them for that one request.
type Client struct {
	baseURL    string
	userRepo   domain.UserRepository
	vault      *CredentialVault
	httpClient *http.Client
}

// NewClient creates a new broker gateway client
func NewClient(baseURL string, userRepo domain.UserRepository, vault *CredentialVault) domain.BrokerGateway {
	return &Client{
		baseURL:  baseURL,
		userRepo: userRepo,
		vault:    vault,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// placeOrderResponse is the broker's order-placement acknowledgement.
type placeOrderResponse struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
}

// positionBook is the broker's position listing: the carried-forward
// (net) and same-day sets.
type positionBook struct {
	Net []domain.BrokerPosition `json:"net"`
	Day []domain.BrokerPosition `json:"day"`
}

// PlaceOrder submits an order and returns the broker order id, or
// domain.ErrRejectedByBroker on an immediate rejection.
func (c *Client) PlaceOrder(ctx context.Context, userID uuid.UUID, req domain.OrderRequest) (*domain.PlacedOrder, error) {
	creds, err := c.credentialsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	raw, err := c.do(ctx, creds, "POST", "/orders", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	var placed placeOrderResponse
	if err := json.Unmarshal(raw, &placed); err != nil {
		return nil, fmt.Errorf("failed to decode place order response: %w", err)
	}

	if placed.Status == domain.BrokerOrderRejected {
		return nil, fmt.Errorf("%w: %s", domain.ErrRejectedByBroker, placed.StatusMessage)
	}

	return &domain.PlacedOrder{
		OrderID:     placed.OrderID,
		RawResponse: string(raw),
	}, nil
}

// ListOrders returns the broker's current order book for the user.
func (c *Client) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.BrokerOrder, error) {
	creds, err := c.credentialsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := c.do(ctx, creds, "GET", "/orders", nil)
	if err != nil {
		return nil, err
	}

	var orders []domain.BrokerOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode order list: %w", err)
	}

	return orders, nil
}

// ListPositions returns the broker's open positions for the user,
// merged across the carried-forward and same-day sets. When a symbol
// appears in both books the same-day entry wins: it reflects today's
// activity, including manual closes.
func (c *Client) ListPositions(ctx context.Context, userID uuid.UUID) ([]domain.BrokerPosition, error) {
	creds, err := c.credentialsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := c.do(ctx, creds, "GET", "/positions", nil)
	if err != nil {
		return nil, err
	}

	var book positionBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return nil, fmt.Errorf("failed to decode position book: %w", err)
	}

	merged := make(map[string]domain.BrokerPosition, len(book.Net)+len(book.Day))
	for _, pos := range book.Net {
		merged[pos.Exchange+":"+pos.Symbol] = pos
	}
	for _, pos := range book.Day {
		merged[pos.Exchange+":"+pos.Symbol] = pos
	}

	positions := make([]domain.BrokerPosition, 0, len(merged))
	for _, pos := range merged {
		positions = append(positions, pos)
	}

	return positions, nil
}

func (c *Client) credentialsFor(ctx context.Context, userID uuid.UUID) (domain.BrokerCredentialPair, error) {
	var creds domain.BrokerCredentialPair

	user, err := c.userRepo.GetByID(ctx, userID)
	if err != nil {
		return creds, fmt.Errorf("failed to load user for broker call: %w", err)
	}
	if len(user.BrokerCredentials) == 0 {
		return creds, fmt.Errorf("user %s has no broker credentials", userID)
	}

	return c.vault.Open(user.BrokerCredentials)
}

func (c *Client) do(ctx context.Context, creds domain.BrokerCredentialPair, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", creds.APIKey, creds.AccessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call broker: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker returned error: status=%d, body=%s", resp.StatusCode, string(raw))
	}

	return raw, nil
}
