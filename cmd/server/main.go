package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/quantex/algo-engine/internal/auth"
	"github.com/quantex/algo-engine/internal/capital"
	"github.com/quantex/algo-engine/internal/engine"
	"github.com/quantex/algo-engine/internal/execution"
	"github.com/quantex/algo-engine/internal/journal"
	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/risk"
	"github.com/quantex/algo-engine/internal/strategy"
	"github.com/quantex/algo-engine/pkg/middleware"
)

// init configures logging based on environment settings. Development gets
// pretty console output; DEBUG=true raises the level.
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// main wires the full pipeline: market data, strategies, risk gate, capital
// manager, execution gateway and the engine, then serves the control API
// with graceful shutdown.
func main() {
	db, err := journal.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize journal")
	}

	symbols := []string{"EURUSD", "GBPUSD", "USDJPY"}
	source := marketdata.NewMockSource(symbols, marketdata.DefaultMockConfig(), 200)

	gatewayCfg := execution.DefaultSimGatewayConfig()
	gatewayCfg.Balance = envFloat("ACCOUNT_BALANCE", 100000)
	gateway := execution.NewSimGateway(gatewayCfg, source, nil)

	manager := capital.NewManager()
	settings := capital.Settings{
		RiskTolerance: envFloat("RISK_TOLERANCE", 0.5),
		MaxDrawdown:   envFloat("MAX_DRAWDOWN", 0.15),
		Strategies: []capital.StrategySettings{
			{ID: "momentum-eurusd", Name: "Momentum EURUSD", RiskPercentage: 30},
			{ID: "meanrev-gbpusd", Name: "Mean Reversion GBPUSD", RiskPercentage: 30},
			{ID: "statarb-eurgbp", Name: "StatArb EURUSD/GBPUSD", RiskPercentage: 20},
		},
	}
	accountFunc := func() (float64, error) {
		account, err := gateway.AccountInfo(context.Background())
		if err != nil {
			return 0, err
		}
		return account.Balance, nil
	}
	if err := manager.Initialize(settings, accountFunc); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize capital manager")
	}

	momentumCfg := strategy.DefaultMomentumConfig("EURUSD")
	momentumCfg.Name = "momentum-eurusd"
	meanRevCfg := strategy.DefaultMeanReversionConfig("GBPUSD")
	meanRevCfg.Name = "meanrev-gbpusd"
	statArbCfg := strategy.DefaultStatArbConfig("EURUSD", "GBPUSD")
	statArbCfg.Name = "statarb-eurgbp"

	strategies := []strategy.Strategy{
		strategy.NewMomentum(momentumCfg),
		strategy.NewMeanReversion(meanRevCfg),
		strategy.NewStatArb(statArbCfg),
	}

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Source:  source,
		Gateway: gateway,
		Capital: manager,
		Gate:    risk.NewGate(risk.DefaultConfig()),
		Journal: db,
	}, strategies)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to construct engine")
	}

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	go source.Run(engineCtx, time.Second)
	if err := eng.Start(engineCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to start engine")
	}

	jwtSecret := envString("JWT_SECRET", "algo-engine-dev-secret")
	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(
		envString("API_KEY", "test-api-key"),
		envString("API_SECRET", "test-api-secret"),
	)
	authHandlers := auth.NewGinHandlers(authService)
	engineHandlers := engine.NewGinHandlers(eng, db)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, jwtSecret, authHandlers, engineHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down...")

	eng.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes groups the API by concern:
// - Auth routes: public token endpoint
// - Status routes: read access, JWT protected
// - Control routes: pause/resume/executions/emergency stop, control permission
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		status := v1.Group("/status")
		status.Use(middleware.JWTAuth(jwtSecret))
		{
			status.GET("", engineHandlers.StatusHandler())
			status.GET("/algos", engineHandlers.AlgoStatusesHandler())
			status.GET("/sessions", engineHandlers.SessionsHandler())
			status.GET("/signals", engineHandlers.SignalsHandler())
		}

		executions := v1.Group("/executions")
		executions.Use(middleware.JWTAuth(jwtSecret))
		{
			executions.GET("", engineHandlers.ExecutionsHandler())
			executions.GET("/:session_id", engineHandlers.ExecutionHandler())
			executions.POST("", middleware.RequirePermission(auth.PermControl), engineHandlers.ExecuteHandler())
			executions.DELETE("/:session_id", middleware.RequirePermission(auth.PermControl), engineHandlers.StopSessionHandler())
		}

		algos := v1.Group("/algos")
		algos.Use(middleware.JWTAuth(jwtSecret), middleware.RequirePermission(auth.PermControl))
		{
			algos.POST("/:id/pause", engineHandlers.PauseHandler())
			algos.POST("/:id/resume", engineHandlers.ResumeHandler())
			algos.POST("/emergency-stop", engineHandlers.EmergencyStopHandler())
		}
	}
}
