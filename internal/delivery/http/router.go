package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	custommiddleware "tradeflow/internal/middleware"
)

// RouterConfig holds all dependencies for routing
type RouterConfig struct {
	AuthHandler     *AuthHandler
	SignalHandler   *SignalHandler
	PositionHandler *PositionHandler
	AdminHandler    *AdminHandler
	WebhookSecret   string
}

// SetupRoutes configures all HTTP routes
func SetupRoutes(e *echo.Echo, config *RouterConfig) {
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging for the health probe to reduce noise
			return c.Request().URL.Path == "/health"
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return SuccessResponse(c, map[string]interface{}{
			"status":  "healthy",
			"service": "tradeflow-api",
		})
	})

	// API group
	api := e.Group("/api")

	// Signal webhook (shared-secret auth, not JWT: the signal source is
	// a machine, not a logged-in user)
	signals := api.Group("/signals", custommiddleware.WebhookMiddleware(config.WebhookSecret))
	{
		signals.POST("", config.SignalHandler.Receive)
	}

	// Auth routes (public)
	auth := api.Group("/auth")
	{
		auth.POST("/login", config.AuthHandler.Login)
		auth.POST("/logout", config.AuthHandler.Logout)
		auth.POST("/register", config.AuthHandler.Register)
	}

	// User routes (protected with AuthMiddleware)
	user := api.Group("/user", custommiddleware.AuthMiddleware)
	{
		user.GET("/me", config.AuthHandler.GetMe)
		user.POST("/broker-credentials", config.AuthHandler.SetBrokerCredentials)
		user.POST("/autotrade", config.AuthHandler.ToggleAutoTrade)
		user.GET("/positions", config.PositionHandler.GetPositions)
		user.POST("/positions/:id/close", config.PositionHandler.ClosePosition)
		user.GET("/positions/:id/validate", config.PositionHandler.ValidatePosition)
		user.GET("/pnl/today", config.PositionHandler.GetTodayPnL)
	}

	// Admin routes (protected with Auth + Admin middleware)
	admin := api.Group("/admin", custommiddleware.AuthMiddleware, custommiddleware.AdminMiddleware)
	{
		admin.GET("/signals", config.SignalHandler.Recent)
		admin.GET("/positions", config.AdminHandler.GetOpenPositionsOverview)
		admin.GET("/manual-review", config.AdminHandler.GetManualReviewQueue)
		admin.POST("/manual-review/:id/resolve", config.AdminHandler.ResolveManualReview)
		admin.GET("/orders/:broker_order_id", config.AdminHandler.GetOrderByBrokerID)
	}
}
