package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/web3devz/polytrader/config"
	"github.com/web3devz/polytrader/internal/adapters/notify"
	"github.com/web3devz/polytrader/internal/adapters/openai"
	"github.com/web3devz/polytrader/internal/adapters/polymarket"
	"github.com/web3devz/polytrader/internal/adapters/search"
	"github.com/web3devz/polytrader/internal/adapters/storage"
	"github.com/web3devz/polytrader/internal/agent"
	"github.com/web3devz/polytrader/internal/api"
	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/research"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	marketID := flag.String("market", "", "market ID to analyze")
	instructions := flag.String("instructions", "", "extra instructions for the agent")
	funds := flag.Float64("funds", 0, "USDC budget for this run (overrides config)")
	dryRun := flag.Bool("dry-run", false, "never submit orders, log the decision instead")
	resumeID := flag.String("resume", "", "resume a suspended run by ID")
	serve := flag.Bool("serve", false, "start the run-control HTTP API")
	list := flag.Bool("list", false, "list suspended runs and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *dryRun {
		cfg.Agent.DryRun = true
	}
	if *funds > 0 {
		cfg.Agent.AvailableFunds = *funds
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner, store, err := buildRunner(cfg)
	if err != nil {
		slog.Error("failed to wire agent", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	defer runner.Close()

	notifier := notify.NewConsole(*verbose)

	switch {
	case *serve:
		server := api.NewServer(cfg.Server.Addr, runner, slog.Default())
		if err := server.Start(ctx); err != nil {
			slog.Error("failed to start api server", "err", err)
			os.Exit(1)
		}
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api server shutdown", "err", err)
		}
		slog.Info("polytrader stopped cleanly")

	case *list:
		listSuspended(ctx, runner)

	case *resumeID != "":
		if err := resumeInteractive(ctx, runner, notifier, *resumeID); err != nil {
			slog.Error("resume failed", "err", err)
			os.Exit(1)
		}

	case *marketID != "":
		if err := runInteractive(ctx, runner, notifier, agent.StartParams{
			MarketID:           *marketID,
			CustomInstructions: *instructions,
			AvailableFunds:     cfg.Agent.AvailableFunds,
			DryRun:             cfg.Agent.DryRun,
		}); err != nil {
			slog.Error("run failed", "err", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "usage: polytrader -market <id> | -resume <run_id> | -serve | -list")
		flag.PrintDefaults()
		os.Exit(2)
	}
}

// buildRunner wires the collaborators into an engine and runner.
func buildRunner(cfg *config.Config) (*agent.Runner, *storage.SQLiteStore, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	pm := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase)
	reasoner := openai.New(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name, cfg.ModelTimeout())
	searcher := search.New(cfg.Search.BaseURL, cfg.Search.APIKey)

	researcher := research.New(reasoner, searcher, research.Config{
		Depth:      cfg.Agent.ResearchDepth,
		Breadth:    cfg.Agent.ResearchBreadth,
		MaxResults: cfg.Search.MaxResults,
	})

	deps := agent.Deps{
		Markets:    pm,
		Books:      pm,
		Trades:     pm,
		Researcher: researcher,
		Reasoner:   reasoner,
		Store:      store,
	}

	// Order signing needs a wallet; without one only dry runs can execute.
	if cfg.Wallet.PrivateKey != "" {
		auth, err := polymarket.NewAuthClient(pm, cfg.Wallet.PrivateKey)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("wallet auth: %w", err)
		}
		trading, err := polymarket.NewTradingClient(auth, cfg.Wallet.RPCURL)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("trading client: %w", err)
		}
		deps.Executor = trading
	} else if !cfg.Agent.DryRun {
		store.Close()
		return nil, nil, fmt.Errorf("POLYGON_WALLET_PRIVATE_KEY is required unless dry_run is set")
	}

	engine := agent.New(deps, agent.Config{
		Budgets: agent.Budgets{
			Research: cfg.Agent.MaxResearchAttempts,
			Analysis: cfg.Agent.MaxAnalysisAttempts,
			Trade:    cfg.Agent.MaxTradeAttempts,
		},
		StageRetries: cfg.Agent.StageRetries,
		Logger:       slog.Default(),
	})

	return agent.NewRunner(engine, store, slog.Default()), store, nil
}

// runInteractive starts a run and drives it through the confirmation
// prompt to a terminal status.
func runInteractive(ctx context.Context, runner *agent.Runner, notifier *notify.Console, params agent.StartParams) error {
	runID, events, err := runner.Start(ctx, params)
	if err != nil {
		return err
	}
	slog.Info("run created", "run_id", runID)
	return driveRun(ctx, runner, notifier, runID, events)
}

// resumeInteractive shows the pending decision of a suspended run, asks for
// confirmation, and continues it.
func resumeInteractive(ctx context.Context, runner *agent.Runner, notifier *notify.Console, runID string) error {
	cp, err := runner.Get(ctx, runID)
	if err != nil {
		return err
	}
	if cp.Status != domain.StatusSuspended {
		return fmt.Errorf("run %s is %s: %w", runID, cp.Status, domain.ErrRunNotSuspended)
	}

	conf, err := notifier.ConfirmTrade(ctx, cp.State)
	if err != nil {
		return err
	}

	events, err := runner.Resume(ctx, runID, conf)
	if err != nil {
		return err
	}
	return driveRun(ctx, runner, notifier, runID, events)
}

// driveRun consumes events until the run ends, handling the interrupt by
// prompting on the console and resuming in place.
func driveRun(ctx context.Context, runner *agent.Runner, notifier *notify.Console, runID string, events <-chan domain.Event) error {
	for events != nil {
		interrupted := false
		for ev := range events {
			if err := notifier.Notify(ctx, ev); err != nil {
				slog.Warn("notifier error", "err", err)
			}
			if ev.Interrupt() {
				interrupted = true
			}
		}
		events = nil

		if !interrupted {
			break
		}

		cp, err := runner.Get(ctx, runID)
		if err != nil {
			return err
		}
		conf, err := notifier.ConfirmTrade(ctx, cp.State)
		if err != nil {
			return err
		}
		events, err = runner.Resume(ctx, runID, conf)
		if err != nil {
			return err
		}
	}
	return nil
}

// listSuspended prints the runs waiting for confirmation.
func listSuspended(ctx context.Context, runner *agent.Runner) {
	cps, err := runner.ListSuspended(ctx)
	if err != nil {
		slog.Error("failed to list suspended runs", "err", err)
		os.Exit(1)
	}
	if len(cps) == 0 {
		fmt.Println("no suspended runs")
		return
	}
	for _, cp := range cps {
		decision := "?"
		if cp.State.TradeDecision != nil {
			decision = cp.State.TradeDecision.String()
		}
		question := ""
		if cp.State.Market != nil {
			question = cp.State.Market.Question
		}
		fmt.Printf("%s  %-10s  %-40s  %s\n", cp.RunID, decision, question, cp.UpdatedAt.Format(time.RFC3339))
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
