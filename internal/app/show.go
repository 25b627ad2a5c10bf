package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"dealsignal/internal/deals"
	"dealsignal/internal/pricing"
)

// Show prints the active deals with their signal labels.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	q := deals.Query{Limit: opts.Limit, Category: opts.Category, Platform: opts.Platform}
	if opts.Signal != "" {
		signal, err := pricing.ParseSignal(opts.Signal)
		if err != nil {
			return err
		}
		q.Signal = signal
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := deals.NewReader(store, a.Clock).List(ctx, q)
	if err != nil {
		return err
	}
	return renderDeals(os.Stdout, list)
}

func renderDeals(out io.Writer, list []deals.Deal) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(out, "no active deals")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Checked (UTC)\tProduct\tCategory\tPrice\tWas\tOff%\tATL\tSignal")
	for _, d := range list {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.CheckedAt.UTC().Format(time.RFC3339),
			truncate(sanitizeInline(d.Name), 48),
			d.Category,
			d.CurrentPrice.StringFixed(2),
			d.OriginalPrice.StringFixed(2),
			d.DiscountPercent.String(),
			formatNullDecimal(d.AllTimeLow),
			signalCell(d.SignalLabel),
		)
	}
	return writer.Flush()
}

func signalCell(s pricing.Signal) string {
	if s.IsNone() {
		return "-"
	}
	return s.String()
}

func truncate(v string, n int) string {
	r := []rune(v)
	if len(r) <= n {
		return v
	}
	return string(r[:n-3]) + "..."
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
