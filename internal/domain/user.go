package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents an end user whose positions the engine manages.
// Broker credentials are stored sealed and decrypted per use; they are
// never cached as a shared client across users.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"-"` // never expose password hash in JSON
	Role               string    `json:"role"`
	BrokerCredentials  []byte    `json:"-"` // AES-GCM sealed API key/secret pair
	IsAutoTradeEnabled bool      `json:"is_auto_trade_enabled"`
	MaxDailyOrders     int       `json:"max_daily_orders"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// UserRole constants
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// BrokerCredentialPair is the plaintext form of a user's broker API
// credentials, held only for the duration of a single broker call.
type BrokerCredentialPair struct {
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	AccessToken string `json:"access_token,omitempty"`
}
