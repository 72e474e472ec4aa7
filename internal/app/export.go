package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/mrsadri/xRate/internal/storage"
)

// Export renders historical snapshot samples as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.ResolveDecisionInterval())
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.SnapshotSample, max int) []storage.SnapshotSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.SnapshotSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.SnapshotSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "usd_toman", "eur_toman", "gold_18k_toman", "eurusd", "tether_toman", "providers", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.Bucket.Format(time.RFC3339),
			optionalDecimal(sample.USDToman),
			optionalDecimal(sample.EURToman),
			optionalDecimal(sample.GoldToman),
			optionalDecimal(sample.EURUSD),
			optionalDecimal(sample.TetherToman),
			strings.Join(sample.Providers, " "),
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeSamplesPNG charts the Toman-denominated series on the primary
// axis and 18k gold on the secondary axis (its magnitude dwarfs the
// currency series). EUR/USD stays CSV-only.
func writeSamplesPNG(path string, samples []storage.SnapshotSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	usd := timeSeries("USD/Toman", samples, func(s storage.SnapshotSample) *decimal.Decimal { return s.USDToman })
	eur := timeSeries("EUR/Toman", samples, func(s storage.SnapshotSample) *decimal.Decimal { return s.EURToman })
	tether := timeSeries("USDT/Toman", samples, func(s storage.SnapshotSample) *decimal.Decimal { return s.TetherToman })
	gold := timeSeries("Gold 18k/Toman", samples, func(s storage.SnapshotSample) *decimal.Decimal { return s.GoldToman })
	gold.YAxis = chart.YAxisSecondary

	series := make([]chart.Series, 0, 4)
	for _, ts := range []chart.TimeSeries{usd, eur, tether, gold} {
		if len(ts.XValues) > 0 {
			series = append(series, ts)
		}
	}
	if len(series) == 0 {
		return errors.New("no chartable values in export window")
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Toman",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Gold (Toman)",
			ValueFormatter: valueFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func timeSeries(name string, samples []storage.SnapshotSample, pick func(storage.SnapshotSample) *decimal.Decimal) chart.TimeSeries {
	ts := chart.TimeSeries{Name: name}
	for _, sample := range samples {
		v := pick(sample)
		if v == nil {
			continue
		}
		ts.XValues = append(ts.XValues, sample.Bucket)
		ts.YValues = append(ts.YValues, v.InexactFloat64())
	}
	return ts
}

func optionalDecimal(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
