// Package notify renders run progress to the terminal and collects the
// human trade confirmation.
package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/web3devz/polytrader/internal/domain"
)

// Console implements ports.Notifier against stdout/stdin.
type Console struct {
	out     io.Writer
	in      *bufio.Reader
	verbose bool
}

// NewConsole creates a notifier bound to the terminal.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, in: bufio.NewReader(os.Stdin), verbose: verbose}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, in io.Reader, verbose bool) *Console {
	return &Console{out: w, in: bufio.NewReader(in), verbose: verbose}
}

// Notify prints one run event.
func (c *Console) Notify(_ context.Context, ev domain.Event) error {
	now := ev.Timestamp.Format("15:04:05")

	switch {
	case ev.Err != "" && !ev.Terminal():
		fmt.Fprintf(c.out, "[%s] %-22s error: %s\n", now, ev.Node, ev.Err)
	case ev.Interrupt():
		fmt.Fprintf(c.out, "\n[%s] run suspended: %s\n", now, ev.Summary)
	case ev.Terminal():
		fmt.Fprintf(c.out, "[%s] run %s: %s\n", now, ev.Status, ev.Summary)
	default:
		fmt.Fprintf(c.out, "[%s] %-22s %s\n", now, ev.Node, ev.Summary)
	}

	if c.verbose && len(ev.Delta) > 0 {
		for k := range ev.Delta {
			fmt.Fprintf(c.out, "    updated: %s\n", k)
		}
	}
	return nil
}

// ConfirmTrade renders the pending decision as a table and reads the
// verdict from stdin. Anything other than y/yes rejects.
func (c *Console) ConfirmTrade(ctx context.Context, state domain.RunState) (domain.Confirmation, error) {
	d := state.TradeDecision
	if d == nil {
		return domain.ConfirmationRejected, fmt.Errorf("notify.ConfirmTrade: no trade decision in state")
	}

	fmt.Fprintf(c.out, "\nProposed trade for run %s:\n", state.RunID)

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Decision", "Size", "Confidence", "Token")
	table.Append(
		clip(state.Market.Question, 48),
		d.String(),
		fmt.Sprintf("%.2f", d.Size),
		fmt.Sprintf("%.0f%%", d.Confidence*100),
		clip(d.TokenID, 12),
	)
	table.Render()

	fmt.Fprintf(c.out, "\nReasoning: %s\n", d.Reason)
	if state.DryRun {
		fmt.Fprintln(c.out, "(dry run: the order will not be submitted)")
	}
	fmt.Fprint(c.out, "\nExecute this trade? [y/N]: ")

	type answer struct {
		text string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- answer{text: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.ConfirmationRejected, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.text == "" {
			return domain.ConfirmationRejected, fmt.Errorf("notify.ConfirmTrade: read input: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.text)) {
		case "y", "yes":
			fmt.Fprintln(c.out, "approved at", time.Now().Format("15:04:05"))
			return domain.ConfirmationApproved, nil
		}
		return domain.ConfirmationRejected, nil
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
