// Package reporting renders engine status to the console and exports order
// history to spreadsheets.
package reporting

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
)

// ConsoleReporter prints engine and bot status tables.
type ConsoleReporter struct {
	store bot.Store
	out   io.Writer
}

func NewConsoleReporter(store bot.Store) *ConsoleReporter {
	return &ConsoleReporter{store: store, out: os.Stdout}
}

// PrintStartup renders the engine banner at boot.
func (r *ConsoleReporter) PrintStartup(testnet bool, cyclePeriod string, metricsAddr string) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("ENGINE INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	env := "🚨 MAINNET"
	if testnet {
		env = "🧪 Testnet"
	}
	t.AppendRows([]table.Row{
		{"🏪 Exchange", "Binance Spot"},
		{"🔧 Environment", env},
		{"⏰ Cycle Period", cyclePeriod},
		{"📊 Metrics", metricsAddr},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(r.out)
}

// PrintBots renders one row per bot with its live position, if any.
func (r *ConsoleReporter) PrintBots(ctx context.Context) error {
	bots, err := r.store.ListBots(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle("BOTS")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Bot", "Type", "Symbol", "Interval", "Status", "Qty", "Avg Entry", "Realized PnL"})

	for i := range bots {
		b := bots[i]
		qty, avg, pnl := "-", "-", "-"
		if pos, err := r.store.GetPosition(ctx, b.ID, b.Symbol); err == nil {
			qty = pos.Qty.String()
			avg = pos.AvgEntryPrice.StringFixed(2)
			pnl = pos.RealizedPnL.StringFixed(2)
		}
		t.AppendRow(table.Row{short(b.ID), b.Type, b.Symbol, b.Interval, statusBadge(b.Status), qty, avg, pnl})
	}
	t.Render()
	fmt.Fprintln(r.out)
	return nil
}

// PrintOrders renders a bot's order history.
func (r *ConsoleReporter) PrintOrders(ctx context.Context, botID string) error {
	orders, err := r.store.OrdersByBot(ctx, botID)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(fmt.Sprintf("ORDERS %s", short(botID)))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Symbol", "Side", "Type", "Qty", "Fill Price", "Fees", "Status"})

	for i := range orders {
		o := orders[i]
		t.AppendRow(table.Row{
			o.CreatedAt.Format("2006-01-02 15:04:05"),
			o.Symbol, o.Side, o.Type,
			o.Qty.String(), o.FillPrice.StringFixed(2), o.Fees.StringFixed(4), o.Status,
		})
	}
	t.Render()
	fmt.Fprintln(r.out)
	return nil
}

func statusBadge(status string) string {
	switch status {
	case bot.StatusRunning:
		return "🟢 running"
	case bot.StatusPaused:
		return "⏸️ paused"
	case bot.StatusStopped:
		return "🔴 stopped"
	default:
		return "⚪ " + status
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
