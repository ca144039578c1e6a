package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole returns a notifier that writes to stdout. With table set every
// cycle prints the fillable orders as a table; otherwise a single line.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter is NewConsole on an arbitrary writer.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify prints a cycle report.
func (c *Console) Notify(_ context.Context, r domain.CycleReport) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	stamp := at.Local().Format("15:04:05")

	if len(r.Fillable) == 0 && len(r.Fills) == 0 {
		fmt.Fprintf(c.out, "[%s] %d orders, none fillable (pruned %d, skipped %d)\n",
			stamp, r.Total, r.Pruned, r.Skipped)
		return nil
	}

	if !c.table {
		c.printCompact(stamp, r)
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] %d orders, %d fillable (pruned %d, skipped %d)\n",
		stamp, r.Total, len(r.Fillable), r.Pruned, r.Skipped)
	c.printFillable(r.Fillable)
	if len(r.Fills) > 0 {
		c.printFills(r.Fills)
	}
	return nil
}

func (c *Console) printCompact(stamp string, r domain.CycleReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d orders → fillable:%d pruned:%d skipped:%d",
		stamp, r.Total, len(r.Fillable), r.Pruned, r.Skipped)

	for i, f := range r.Fillable {
		if i >= 4 {
			fmt.Fprintf(&sb, " | +%d more", len(r.Fillable)-i)
			break
		}
		fmt.Fprintf(&sb, " | %s %s@%s", shortID(f.Order.ID), f.Order.TriggerDirection, f.Order.TriggerPrice)
	}

	filled := 0
	for _, f := range r.Fills {
		if f.Err == nil {
			filled++
		}
	}
	if len(r.Fills) > 0 {
		fmt.Fprintf(&sb, " | fills %d/%d", filled, len(r.Fills))
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printFillable(orders []domain.FillableOrder) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Order", "Maker asset", "Taker asset", "Dir", "Trigger", "Ratio", "Expires")

	for i, f := range orders {
		ratio := "-"
		if r, err := f.Prices.Ratio(); err == nil {
			ratio = r.StringFixed(8)
		}
		maker, taker := f.Order.Pair()
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortID(f.Order.ID),
			shortAddr(maker.Hex()),
			shortAddr(taker.Hex()),
			string(f.Order.TriggerDirection),
			f.Order.TriggerPrice.String(),
			ratio,
			expiry(f.Order),
		)
	}
	table.Render()
}

func (c *Console) printFills(fills []domain.FillOutcome) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Order", "Tx", "Block", "Gas", "Result")

	for _, f := range fills {
		result := "filled"
		tx, block, gas := "-", "-", "-"
		if f.Err != nil {
			result = truncate(f.Err.Error(), 48)
		} else {
			tx = shortAddr(f.Result.TxHash.Hex())
			block = fmt.Sprintf("%d", f.Result.BlockNumber)
			gas = fmt.Sprintf("%d", f.Result.GasUsed)
		}
		table.Append(shortID(f.OrderID), tx, block, gas, result)
	}
	table.Render()
}

// PrintOrders prints stored orders as a table.
func (c *Console) PrintOrders(orders []domain.StoredOrder) {
	if len(orders) == 0 {
		fmt.Fprintln(c.out, "no orders")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Order", "Maker", "Making", "Taking", "Dir", "Trigger", "Expires", "Submitted")

	for _, o := range orders {
		table.Append(
			shortID(o.ID),
			shortAddr(o.Order.Maker),
			o.Order.MakingAmount,
			o.Order.TakingAmount,
			string(o.TriggerDirection),
			o.TriggerPrice.String(),
			expiry(o),
			o.Timestamp.Local().Format("2006-01-02 15:04:05"),
		)
	}
	table.Render()
}

// --- helpers ---

func expiry(o domain.StoredOrder) string {
	exp := o.ExpiresAt()
	if exp.IsZero() {
		return "never"
	}
	return exp.Local().Format("01-02 15:04")
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

func shortAddr(a string) string {
	if len(a) <= 14 {
		return a
	}
	return a[:8] + ".." + a[len(a)-4:]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
