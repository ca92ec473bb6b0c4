package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantex/algo-engine/internal/capital"
	"github.com/quantex/algo-engine/internal/engine"
	"github.com/quantex/algo-engine/internal/execution"
	"github.com/quantex/algo-engine/internal/journal"
	"github.com/quantex/algo-engine/internal/marketdata"
	"github.com/quantex/algo-engine/internal/risk"
	"github.com/quantex/algo-engine/internal/strategy"
)

const (
	pollInterval = 50 * time.Millisecond
	barInterval  = 25 * time.Millisecond
)

var symbols = []string{"EURUSD", "GBPUSD", "USDJPY"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// main runs the full pipeline in-process against synthetic market data for a
// fixed wall-clock duration and prints a summary of what the engine did.
func main() {
	duration := 30 * time.Second
	if v := os.Getenv("SIM_DURATION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			duration = time.Duration(n) * time.Second
		}
	}
	seed := int64(42)
	if v := os.Getenv("SIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			seed = n
		}
	}

	db, err := journal.NewDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize journal")
	}

	// A volatile walk so the strategies actually fire within a short run.
	mockCfg := marketdata.DefaultMockConfig()
	mockCfg.Volatility = 0.02
	mockCfg.Seed = seed
	mockCfg.Interval = barInterval
	source := marketdata.NewMockSource(symbols, mockCfg, 200)

	rng := rand.New(rand.NewSource(seed))
	gatewayCfg := execution.DefaultSimGatewayConfig()
	gatewayCfg.MinLatency = time.Millisecond
	gatewayCfg.MaxLatency = 5 * time.Millisecond
	gateway := execution.NewSimGateway(gatewayCfg, source, rng)

	manager := capital.NewManager()
	settings := capital.Settings{
		RiskTolerance: 0.5,
		MaxDrawdown:   0.25,
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
		log.Fatal().Err(err).Msg("Failed to initialize capital manager")
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

	engineCfg := engine.DefaultConfig()
	engineCfg.PollInterval = pollInterval
	eng, err := engine.New(engineCfg, engine.Deps{
		Source:  source,
		Gateway: gateway,
		Capital: manager,
		Gate:    risk.NewGate(risk.DefaultConfig()),
		Journal: db,
		RNG:     rng,
	}, strategies)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx, barInterval)

	start := time.Now()
	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	log.Info().
		Dur("duration", duration).
		Int64("seed", seed).
		Msg("Simulation running")

	time.Sleep(duration)
	eng.Shutdown()
	printSummary(eng, manager, db, time.Since(start))
}

// printSummary reports what the engine did over the run.
func printSummary(eng *engine.Engine, manager *capital.Manager, db *journal.Database, elapsed time.Duration) {
	signals, err := db.ListSignals(10000)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read signals")
	}
	executions, err := db.ListExecutions(10000)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read executions")
	}

	approved := 0
	rejectionReasons := make(map[string]int)
	signalsByStrategy := make(map[string]int)
	for _, s := range signals {
		signalsByStrategy[s.Strategy]++
		if s.Approved {
			approved++
		} else {
			rejectionReasons[s.Reason]++
		}
	}

	totalExecuted := 0.0
	totalCommission := 0.0
	volumeBySymbol := make(map[string]float64)
	for _, e := range executions {
		totalExecuted += e.ExecutedVolume * e.AvgFillPrice
		totalCommission += e.Commission
		volumeBySymbol[e.Symbol] += e.ExecutedVolume
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 ALGO ENGINE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Signal Statistics
-------------------
Signals Emitted:  %d
Admitted:         %d
Rejected:         %d
Sessions Run:     %d
Executed Value:   $%.2f
Commission Paid:  $%.2f
Duration:         %v

📈 Signals per Strategy
----------------------
`, len(signals), approved, len(signals)-approved, len(executions),
		totalExecuted, totalCommission, elapsed.Round(time.Millisecond))

	maxCount := 0
	for _, count := range signalsByStrategy {
		if count > maxCount {
			maxCount = count
		}
	}
	for name, count := range signalsByStrategy {
		barLength := 0
		if maxCount > 0 {
			barLength = int(float64(count) / float64(maxCount) * 20)
		}
		fmt.Printf("%-18s: %s (%d)\n", name, strings.Repeat("█", barLength), count)
	}

	if len(rejectionReasons) > 0 {
		fmt.Println("\n🚦 Rejection Reasons")
		fmt.Println("-------------------")
		for reason, count := range rejectionReasons {
			fmt.Printf("%-40s: %d\n", reason, count)
		}
	}

	if len(volumeBySymbol) > 0 {
		fmt.Println("\n📉 Executed Volume per Symbol")
		fmt.Println("----------------------------")
		for symbol, volume := range volumeBySymbol {
			fmt.Printf("%-8s: %.2f\n", symbol, volume)
		}
	}

	fmt.Println("\n💰 Capital Allocations")
	fmt.Println("---------------------")
	for _, alloc := range manager.Allocations() {
		state := "ACTIVE"
		if !alloc.Active {
			state = "PAUSED"
		}
		fmt.Printf("%-24s: allocated $%.2f, used $%.2f, available $%.2f [%s]\n",
			alloc.Name, alloc.Allocated, alloc.Used, alloc.Available, state)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	statuses := eng.AlgoStatuses()
	totalPnL := 0.0
	totalTrades := 0
	for _, st := range statuses {
		totalPnL += st.PnL
		totalTrades += st.TradeCount
	}
	log.Info().
		Int("signals", len(signals)).
		Int("admitted", approved).
		Int("trades", totalTrades).
		Float64("pnl", totalPnL).
		Float64("drawdown", manager.CurrentDrawdown()).
		Dur("duration", elapsed).
		Msg("Simulation completed")
}
