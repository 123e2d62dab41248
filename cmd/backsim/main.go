// Command backsim replays a recorded trade/book-ticker tape through a
// deterministic matching engine and a sample market-making strategy,
// printing a profit-and-loss summary once the tape is exhausted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alejandrodnm/backsim/config"
	"github.com/alejandrodnm/backsim/internal/adapters/market"
	"github.com/alejandrodnm/backsim/internal/adapters/replay"
	"github.com/alejandrodnm/backsim/internal/adapters/report"
	"github.com/alejandrodnm/backsim/internal/adapters/store"
	"github.com/alejandrodnm/backsim/internal/domain"
	"github.com/alejandrodnm/backsim/internal/simulation"
	"github.com/alejandrodnm/backsim/internal/strategy"
)

// repeatedFlag collects every occurrence of a repeatable --path flag.
type repeatedFlag []string

func (r *repeatedFlag) String() string { return "" }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func main() {
	var paths repeatedFlag
	flag.Var(&paths, "path", "input trade/book-ticker file (repeatable)")
	symbol := flag.String("symbol", "", "traded symbol, e.g. BTCUSDT (required)")
	date := flag.String("date", "", "date label for the run, used only for reporting")
	rootPath := flag.String("root-path", "", "directory prefix prepended to relative --path values")
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	summaryIntervalFlag := flag.Duration("summary-interval", 0, "overrides config summary interval")
	quiet := flag.Bool("quiet", false, "suppress the full console report, print one profit line")
	storeDSN := flag.String("store", "", "optional SQLite DSN to persist the run summary")
	flag.Parse()

	if *symbol == "" {
		slog.Error("backsim: --symbol is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("backsim: failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	summaryInterval := cfg.SummaryInterval()
	if *summaryIntervalFlag > 0 {
		summaryInterval = *summaryIntervalFlag
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	symbolInfoManager := domain.NewSymbolInfoManager()
	for _, s := range cfg.Symbols {
		symbolInfoManager.WithSymbol(s.Symbol, s.BaseAsset, s.QuoteAsset, s.FeeRate)
	}
	info, ok := symbolInfoManager.Get(*symbol)
	if !ok {
		slog.Error("backsim: symbol not configured", "symbol", *symbol)
		os.Exit(1)
	}

	var reporter market.Reporter = report.NewConsole(*quiet)
	if *storeDSN != "" {
		runID := *symbol + "-" + *date
		st, err := store.Open(*storeDSN, runID, time.Now().UTC(), slog.Default())
		if err != nil {
			slog.Error("backsim: failed to open run store", "err", err, "dsn", *storeDSN)
			os.Exit(1)
		}
		defer st.Close()
		reporter = multiReporter{reporter, st}
	}

	epoch := time.Unix(0, 0).UTC()
	replayBuilder := replay.NewBuilder(*symbol, epoch, slog.Default())
	for _, p := range paths {
		full := p
		if *rootPath != "" && !filepath.IsAbs(p) {
			full = filepath.Join(*rootPath, p)
		}
		if err := replayBuilder.WithPath(full); err != nil {
			slog.Error("backsim: failed to register input path", "path", full, "err", err)
			os.Exit(1)
		}
	}

	marketBuilder := market.NewBuilder(symbolInfoManager, summaryInterval, reporter, slog.Default())
	for asset, balance := range cfg.Balances {
		marketBuilder.WithInitialBalance(asset, balance)
	}

	strategyBuilder := strategy.NewBuilder(*symbol, info.BaseAsset, cfg.Strategy.Gamma, cfg.Strategy.Quantity, slog.Default()).
		WithOrderTTL(time.Duration(cfg.Strategy.OrderTTLMillis) * time.Millisecond).
		WithVolatilityWindow(cfg.Strategy.VolSamples, cfg.Strategy.VolIntervalMs).
		WithRequoteRateHz(cfg.Strategy.RequoteRateHz)

	engine := simulation.NewEngineBuilder().
		AddModule(replayBuilder).
		AddModule(marketBuilder).
		AddModule(strategyBuilder).
		Build()

	slog.Info("backsim starting", "symbol", *symbol, "date", *date, "inputs", len(paths))

	engine.RunContext(ctx)

	if ctx.Err() != nil {
		slog.Info("backsim stopped by signal")
	} else {
		slog.Info("backsim finished: tape exhausted")
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
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// multiReporter fans a run summary out to multiple reporters.
type multiReporter []market.Reporter

func (m multiReporter) Report(summary market.RunSummary) {
	for _, r := range m {
		r.Report(summary)
	}
}
