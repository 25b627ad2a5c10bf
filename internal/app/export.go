package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"dealsignal/internal/pricing"
)

// Export renders a product's price ledger as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Product == "" {
		return errors.New("--product is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	product, err := store.FindProduct(ctx, opts.Product)
	if err != nil {
		return err
	}

	records, err := store.ListPriceHistory(ctx, product.ID, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("product_id", product.ID).Msg("no price records found")
		return nil
	}
	a.Logger.Info().Str("product_id", product.ID).Int("records", len(records)).Msg("exporting price ledger")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeLedgerCSV(w, records) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeLedgerPNG(w, product.Name, records) }); err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func writeLedgerCSV(out io.Writer, records []pricing.PriceRecord) error {
	writer := csv.NewWriter(out)

	header := []string{"checked_at", "original_price", "current_price", "discount_percent", "all_time_low", "low_90d", "low_30d", "previous_price", "signal"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.CheckedAt.UTC().Format(time.RFC3339),
			rec.OriginalPrice.StringFixed(2),
			rec.CurrentPrice.StringFixed(2),
			rec.DiscountPercent.String(),
			formatNullDecimal(rec.AllTimeLow),
			formatNullDecimal(rec.Low90d),
			formatNullDecimal(rec.Low30d),
			formatNullDecimal(rec.PreviousPrice),
			signalCell(rec.Signal(rec.CheckedAt)),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeLedgerPNG(out io.Writer, title string, records []pricing.PriceRecord) error {
	if len(records) < 2 {
		return fmt.Errorf("chart needs at least 2 price records, have %d", len(records))
	}

	x := make([]time.Time, len(records))
	current := make([]float64, len(records))
	original := make([]float64, len(records))
	lowX := make([]time.Time, 0, len(records))
	low := make([]float64, 0, len(records))

	for i, rec := range records {
		x[i] = rec.CheckedAt
		current[i] = rec.CurrentPrice.InexactFloat64()
		original[i] = rec.OriginalPrice.InexactFloat64()
		if rec.AllTimeLow.Valid {
			lowX = append(lowX, rec.CheckedAt)
			low = append(low, rec.AllTimeLow.Decimal.InexactFloat64())
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "$%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{Name: "Current", XValues: x, YValues: current},
		chart.TimeSeries{Name: "Original", XValues: x, YValues: original},
	}
	if len(low) >= 2 {
		series = append(series, chart.TimeSeries{Name: "All-time low", XValues: lowX, YValues: low})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, out)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
