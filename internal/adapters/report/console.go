// Package report renders a run summary to the console at the end of a
// backtest.
package report

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/alejandrodnm/backsim/internal/adapters/market"
	"github.com/olekukonko/tablewriter"
)

// Console implements market.Reporter by printing a balances table and a
// profit/loss summary to an io.Writer.
type Console struct {
	out   io.Writer
	quiet bool
}

var _ market.Reporter = (*Console)(nil)

// NewConsole returns a reporter writing to stdout. When quiet is true, only
// the one-line profit summary is printed.
func NewConsole(quiet bool) *Console {
	return &Console{out: os.Stdout, quiet: quiet}
}

// NewConsoleWriter returns a reporter writing to w, for tests.
func NewConsoleWriter(w io.Writer, quiet bool) *Console {
	return &Console{out: w, quiet: quiet}
}

// Report prints summary. It never returns an error: a console write failure
// has nowhere useful to propagate to at the end of a run.
func (c *Console) Report(summary market.RunSummary) {
	if c.quiet {
		fmt.Fprintf(c.out, "profit: %.4f quote (%.2f%%)\n", summary.ProfitEquityQuote, summary.ProfitRatePct)
		return
	}

	fmt.Fprintln(c.out, "\n=== RUN SUMMARY ===")
	c.printBalances(summary)
	c.printPrices(summary)
	if summary.StatsText != "" {
		fmt.Fprintln(c.out, "\n--- matching engine stats ---")
		fmt.Fprint(c.out, summary.StatsText)
	}
	c.printPnL(summary)
}

func (c *Console) printBalances(summary market.RunSummary) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Asset", "Initial", "Final", "Locked", "Profit")

	assets := make([]string, 0, len(summary.FinalBalances))
	for asset := range summary.FinalBalances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	for _, asset := range assets {
		bal := summary.FinalBalances[asset]
		table.Append(
			asset,
			fmt.Sprintf("%.8f", summary.InitialBalances[asset]),
			fmt.Sprintf("%.8f", bal.Balance),
			fmt.Sprintf("%.8f", bal.Locked),
			fmt.Sprintf("%.8f", summary.ProfitByAsset[asset]),
		)
	}
	table.Render()
}

func (c *Console) printPrices(summary market.RunSummary) {
	if len(summary.MarketLastPrice) == 0 {
		return
	}
	symbols := make([]string, 0, len(summary.MarketLastPrice))
	for s := range summary.MarketLastPrice {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	fmt.Fprintln(c.out, "\n--- last traded price ---")
	for _, s := range symbols {
		fmt.Fprintf(c.out, "  %-12s %.8f\n", s, summary.MarketLastPrice[s])
	}
}

func (c *Console) printPnL(summary market.RunSummary) {
	fmt.Fprintf(c.out, "\nInitial equity: %.4f quote\n", summary.InitialEquityQuote)
	fmt.Fprintf(c.out, "Final equity:   %.4f quote\n", summary.FinalEquityQuote)
	fmt.Fprintf(c.out, "Fees paid:      %.4f quote\n", summary.FeeEquityQuote)
	fmt.Fprintf(c.out, "Profit:         %.4f quote (%.2f%%, %.2f bps/volume)\n",
		summary.ProfitEquityQuote, summary.ProfitRatePct, summary.ProfitPerVolumeBps)

	switch {
	case summary.ProfitEquityQuote > 0:
		fmt.Fprintln(c.out, "VERDICT: profitable")
	case summary.ProfitEquityQuote < 0:
		fmt.Fprintln(c.out, "VERDICT: unprofitable")
	default:
		fmt.Fprintln(c.out, "VERDICT: breakeven")
	}
}
