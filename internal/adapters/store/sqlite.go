// Package store persists a run summary to a local SQLite database so past
// backtests can be compared without re-running them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/backsim/internal/adapters/market"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id                 TEXT PRIMARY KEY,
    started_at             DATETIME NOT NULL,
    finished_at            DATETIME NOT NULL,
    initial_equity_quote   REAL NOT NULL DEFAULT 0,
    final_equity_quote     REAL NOT NULL DEFAULT 0,
    fee_equity_quote       REAL NOT NULL DEFAULT 0,
    profit_equity_quote    REAL NOT NULL DEFAULT 0,
    profit_rate_pct        REAL NOT NULL DEFAULT 0,
    profit_per_volume_bps  REAL NOT NULL DEFAULT 0,
    stats_text             TEXT
);

CREATE TABLE IF NOT EXISTS run_balances (
    run_id          TEXT NOT NULL REFERENCES runs(run_id),
    asset           TEXT NOT NULL,
    initial_balance REAL NOT NULL DEFAULT 0,
    final_balance   REAL NOT NULL DEFAULT 0,
    final_locked    REAL NOT NULL DEFAULT 0,
    profit          REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, asset)
);

CREATE TABLE IF NOT EXISTS run_market_prices (
    run_id      TEXT NOT NULL REFERENCES runs(run_id),
    symbol      TEXT NOT NULL,
    last_price  REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, symbol)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

// Store implements market.Reporter by writing the run summary and its
// per-asset breakdown to a SQLite database opened with a single connection,
// since SQLite is single-writer.
type Store struct {
	db        *sql.DB
	runID     string
	startedAt time.Time
	logger    *slog.Logger
}

var _ market.Reporter = (*Store)(nil)

// Open opens (or creates) the database at path, applies the schema, and
// returns a Store that will record one run under runID, which began at
// startedAt.
func Open(path, runID string, startedAt time.Time, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: apply schema: %w", err)
	}
	return &Store{db: db, runID: runID, startedAt: startedAt, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Report persists summary under this Store's run ID. Reporter does not
// return an error, so a write failure is logged rather than propagated.
func (s *Store) Report(summary market.RunSummary) {
	if err := s.save(context.Background(), summary); err != nil {
		s.logger.Error("store: failed to persist run summary", "run_id", s.runID, "err", err)
	}
}

func (s *Store) save(ctx context.Context, summary market.RunSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store.save: begin tx: %w", err)
	}
	defer tx.Rollback()

	finishedAt := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, started_at, finished_at, initial_equity_quote, final_equity_quote,
			 fee_equity_quote, profit_equity_quote, profit_rate_pct, profit_per_volume_bps, stats_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at           = excluded.finished_at,
			initial_equity_quote  = excluded.initial_equity_quote,
			final_equity_quote    = excluded.final_equity_quote,
			fee_equity_quote      = excluded.fee_equity_quote,
			profit_equity_quote   = excluded.profit_equity_quote,
			profit_rate_pct       = excluded.profit_rate_pct,
			profit_per_volume_bps = excluded.profit_per_volume_bps,
			stats_text            = excluded.stats_text`,
		s.runID, s.startedAt, finishedAt, summary.InitialEquityQuote, summary.FinalEquityQuote,
		summary.FeeEquityQuote, summary.ProfitEquityQuote, summary.ProfitRatePct, summary.ProfitPerVolumeBps,
		summary.StatsText,
	); err != nil {
		return fmt.Errorf("store.save: upsert run: %w", err)
	}

	balStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_balances (run_id, asset, initial_balance, final_balance, final_locked, profit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, asset) DO UPDATE SET
			initial_balance = excluded.initial_balance,
			final_balance   = excluded.final_balance,
			final_locked    = excluded.final_locked,
			profit          = excluded.profit`)
	if err != nil {
		return fmt.Errorf("store.save: prepare balances: %w", err)
	}
	defer balStmt.Close()

	for asset, bal := range summary.FinalBalances {
		if _, err := balStmt.ExecContext(ctx, s.runID, asset,
			summary.InitialBalances[asset], bal.Balance, bal.Locked, summary.ProfitByAsset[asset],
		); err != nil {
			return fmt.Errorf("store.save: upsert balance %s: %w", asset, err)
		}
	}

	priceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_market_prices (run_id, symbol, last_price)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, symbol) DO UPDATE SET last_price = excluded.last_price`)
	if err != nil {
		return fmt.Errorf("store.save: prepare prices: %w", err)
	}
	defer priceStmt.Close()

	for symbol, price := range summary.MarketLastPrice {
		if _, err := priceStmt.ExecContext(ctx, s.runID, symbol, price); err != nil {
			return fmt.Errorf("store.save: upsert price %s: %w", symbol, err)
		}
	}

	return tx.Commit()
}
