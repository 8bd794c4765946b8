package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/aetherbot/gotrader/internal/domain"
	"github.com/aetherbot/gotrader/internal/exchange"
	"github.com/aetherbot/gotrader/internal/trader"
	"github.com/aetherbot/gotrader/internal/wallet"
	"github.com/aetherbot/gotrader/pkg/config"
	"github.com/aetherbot/gotrader/pkg/logger"
	"github.com/aetherbot/gotrader/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when omitted)")
	dryRun := flag.Bool("dry-run", true, "trade against the simulated wallet")
	flag.Parse()

	// .env is optional; it only feeds credential variables.
	_ = godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.Trading.DryRun = cfg.Trading.DryRun || *dryRun

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	key, secret := cfg.LoadCredentials()
	client := exchange.NewClient(cfg.Exchange.Host, key, secret)
	if !client.HasCredentials() {
		logger.Warnf("no API credentials loaded; account endpoints unavailable")
	}

	pair := domain.Pair{Base: cfg.Trading.Base, Quote: cfg.Trading.Quote}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := shutdown.NewManager()

	var backend trader.OrderBackend
	var sim *wallet.Simulated
	if cfg.Trading.DryRun {
		seedBase, err := decimal.NewFromString(cfg.Trading.SeedBase)
		if err != nil {
			logger.Errorf("bad seedBase: %v", err)
			os.Exit(1)
		}
		seedQuote, err := decimal.NewFromString(cfg.Trading.SeedQuote)
		if err != nil {
			logger.Errorf("bad seedQuote: %v", err)
			os.Exit(1)
		}
		sim = wallet.NewSimulated(seedBase, seedQuote, func(c context.Context) (decimal.Decimal, error) {
			return client.LastPrice(c, pair)
		})
		sim.StartMatching(ctx, cfg.TickInterval())
		mgr.Register("wallet matcher", func(context.Context) { sim.Stop() })
		backend = sim
		logger.Infof("dry run: trading %s against the simulated wallet", pair)
	} else {
		if !client.HasCredentials() {
			logger.Errorf("live trading requires API credentials")
			os.Exit(1)
		}
		backend = trader.NewLiveBackend(client, pair)
		logger.Infof("live: trading %s on %s", pair, cfg.Exchange.Host)
	}

	engine := trader.NewEngine(trader.Config{
		Pair:                 pair,
		TickInterval:         cfg.TickInterval(),
		TimeStep:             cfg.Trading.TimeStep,
		Steps:                cfg.Trading.Steps,
		HistoryLength:        cfg.Trading.HistoryLength,
		Margin:               decimal.NewFromFloat(cfg.Trading.ProfitMargin),
		MaxConsecutiveErrors: cfg.Trading.MaxConsecutiveErrors,
	}, client, backend)

	if err := engine.Start(ctx); err != nil {
		logger.Errorf("engine start: %v", err)
		os.Exit(1)
	}
	mgr.Register("trading engine", func(context.Context) { engine.Stop() })

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutdownCtx, timeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer timeout()
	mgr.Shutdown(shutdownCtx)

	if sim != nil {
		logger.Infof("session summary %s", sim)
	}
}
