package main

import (
	"fmt"
	"io"

	"depthsync/internal/exchange"
	"depthsync/internal/symbolinfo"
	"depthsync/internal/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	boldStyle    = lipgloss.NewStyle().Bold(true)
	yellowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	redStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	magentaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

// printSummary writes a short console report of the current view
func printSummary(w io.Writer, view types.BookView, info types.SymbolInfo, health exchange.HealthStatus) {
	fmt.Fprintln(w)

	pricePrecision := symbolinfo.DefaultPrecision
	if info.Symbol != "" {
		pricePrecision = info.PricePrecision
	}

	status := string(view.Status)
	if view.Paused {
		status += " (paused)"
	}
	fmt.Fprintf(w, "%s  %s  update %d  session %s\n",
		boldStyle.Render(view.Symbol), statusStyle(view.Status).Render(status), view.LastUpdateID, view.SessionID)

	if view.Err != nil {
		fmt.Fprintf(w, "  Error: %s\n", redStyle.Render(view.Err.Error()))
	}

	if len(view.Bids) == 0 && len(view.Asks) == 0 {
		fmt.Fprintln(w, "  No book yet")
		return
	}

	stats := view.Stats
	fmt.Fprintf(w, "  Mid: %s │ Spread: %s (%s%%) │ BB: %s │ BA: %s\n",
		yellowStyle.Render(fmt.Sprintf("%10s", symbolinfo.FormatPrice(stats.MidPrice, pricePrecision+1))),
		magentaStyle.Render(fmt.Sprintf("%8s", symbolinfo.FormatPrice(stats.Spread, pricePrecision))),
		stats.SpreadPercent.StringFixed(2),
		greenStyle.Render(fmt.Sprintf("%10s", symbolinfo.FormatPrice(stats.BestBid, pricePrecision))),
		redStyle.Render(fmt.Sprintf("%10s", symbolinfo.FormatPrice(stats.BestAsk, pricePrecision))))

	fmt.Fprintf(w, "  TOTAL QTY: Bids: %s │ Asks: %s │ Δ: %s\n",
		greenStyle.Render(fmt.Sprintf("%9s", stats.TotalBidsQty.StringFixed(2))),
		redStyle.Render(fmt.Sprintf("%9s", stats.TotalAsksQty.StringFixed(2))),
		deltaStyle(stats.TotalDelta).Render(fmt.Sprintf("%10s", stats.TotalDelta.StringFixed(2))))

	fmt.Fprintf(w, "  EVENTS: applied %d │ stale %d │ dropped %d │ foreign %d │ messages %d │ errors %d\n",
		stats.EventsProcessed, stats.StaleEvents, stats.DroppedEvents, stats.ForeignEvents,
		health.MessageCount, health.ErrorCount)
}

func statusStyle(status types.ConnectionState) lipgloss.Style {
	switch status {
	case types.StateConnected:
		return greenStyle
	case types.StateError:
		return redStyle
	default:
		return yellowStyle
	}
}

func deltaStyle(delta decimal.Decimal) lipgloss.Style {
	if delta.GreaterThan(decimal.Zero) {
		return greenStyle
	} else if delta.LessThan(decimal.Zero) {
		return redStyle
	}
	return yellowStyle
}
