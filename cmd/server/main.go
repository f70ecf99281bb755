package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/aurify/goldtrade/internal/accounts"
	"github.com/aurify/goldtrade/internal/auth"
	"github.com/aurify/goldtrade/internal/database"
	"github.com/aurify/goldtrade/internal/mt5"
	"github.com/aurify/goldtrade/internal/trading"
	"github.com/aurify/goldtrade/pkg/middleware"
	"github.com/aurify/goldtrade/pkg/response"

	"github.com/gin-gonic/gin"
)

// init configures application logging based on environment settings.
// Development mode gets pretty printing with timestamps; debug logging is
// enabled via the DEBUG environment variable.
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main initializes and runs the trading API server with graceful shutdown
// support. The bridge connection is established in the background so a slow
// or offline bridge never blocks startup; trades fail cleanly until it is up.
func main() {
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := env("JWT_SECRET", "goldtrade-dev-secret")
	bridgeSymbol := env("MT5_SYMBOL", "XAUUSD.r")

	// Bridge client and background connection loop
	client := mt5.NewClient(mt5.Config{
		BaseURL:  env("MT5_BASE_URL", "http://localhost:5001"),
		Server:   os.Getenv("MT5_SERVER"),
		Login:    os.Getenv("MT5_LOGIN"),
		Password: os.Getenv("MT5_PASSWORD"),
	})
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	go func() {
		if err := client.ConnectWithRetry(bridgeCtx); err != nil {
			zlog.Warn().Err(err).Msg("bridge connection loop stopped")
			return
		}
		client.StartRefresher(bridgeCtx, []string{bridgeSymbol}, 5*time.Second)
	}()

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(db, jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)

	accountService := accounts.NewService(db)
	accountHandlers := accounts.NewGinHandlers(accountService)

	tradingService := trading.NewService(db, client, bridgeSymbol)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	setupRoutes(router, jwtSecret, client, authHandlers, accountHandlers, tradingHandlers)

	port := env("PORT", "8080")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	client.Shutdown(shutdownCtx)

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints. Auth routes are public; every
// admin route requires a JWT whose admin_id matches the path parameter.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	client *mt5.Client,
	authHandlers *auth.GinHandlers,
	accountHandlers *accounts.GinHandlers,
	tradingHandlers *trading.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// Market data routes
		market := v1.Group("/market")
		{
			market.GET("/status", func(c *gin.Context) {
				healthy, _ := client.Health(c.Request.Context())
				response.Success(c, gin.H{
					"bridge":           client.State(),
					"bridge_connected": healthy,
				})
			})
			market.GET("/price/:symbol", func(c *gin.Context) {
				quote, err := client.Quote(c.Request.Context(), c.Param("symbol"), false)
				response.Handle(c, quote, err)
			})
			market.GET("/positions", func(c *gin.Context) {
				positions, err := client.Positions(c.Request.Context())
				response.Handle(c, positions, err)
			})
		}

		// Admin routes, scoped to the authenticated admin
		admin := v1.Group("")
		admin.Use(middleware.JWTAuth(jwtSecret))
		{
			admin.POST("/accounts/:admin_id", accountHandlers.CreateAccountHandler())
			admin.GET("/accounts/:admin_id", accountHandlers.ListAccountsHandler())
			admin.GET("/accounts/:admin_id/:account_id", accountHandlers.GetAccountHandler())
			admin.PATCH("/accounts/:admin_id/:account_id/freeze", accountHandlers.FreezeHandler())

			admin.POST("/create-order/:admin_id", tradingHandlers.CreateOrderHandler())
			admin.GET("/orders/:admin_id", tradingHandlers.ListOrdersHandler())
			admin.GET("/order/:admin_id/:order_id", tradingHandlers.GetOrderHandler())
			admin.PATCH("/order/:admin_id/:order_id", tradingHandlers.CloseOrderHandler())
		}
	}
}
