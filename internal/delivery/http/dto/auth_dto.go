package dto

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string      `json:"token"`
	User  *UserOutput `json:"user"`
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

// BrokerCredentialsRequest carries a user's broker API credentials.
// They are sealed before storage and never echoed back.
type BrokerCredentialsRequest struct {
	APIKey      string `json:"api_key" validate:"required"`
	APISecret   string `json:"api_secret" validate:"required"`
	AccessToken string `json:"access_token"`
}

// UserOutput represents user data in API responses
type UserOutput struct {
	ID                 string `json:"id"`
	Username           string `json:"username"`
	Role               string `json:"role"`
	IsAutoTradeEnabled bool   `json:"is_auto_trade_enabled"`
	MaxDailyOrders     int    `json:"max_daily_orders"`
}
