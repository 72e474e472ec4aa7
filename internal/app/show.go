package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/storage"
)

// Show prints recent snapshot samples, or recent breach events with
// the Events option.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Events {
		return showEvents(ctx, store, opts.Limit)
	}
	return showSamples(ctx, store, opts.Limit)
}

func showSamples(ctx context.Context, store *storage.Store, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUSD\tEUR\tGold 18k\tEUR/USD\tUSDT\tProviders\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			formatOptional(sample.USDToman, 0),
			formatOptional(sample.EURToman, 0),
			formatOptional(sample.GoldToman, 0),
			formatOptional(sample.EURUSD, 4),
			formatOptional(sample.TetherToman, 0),
			strings.Join(sample.Providers, ","),
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func showEvents(ctx context.Context, store *storage.Store, limit int) error {
	events, err := store.ListRecentBreachEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no breach events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tInstrument\tDirection\tOld\tNew\tProviders")

	for _, event := range events {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			event.Bucket.UTC().Format(time.RFC3339),
			event.Instrument,
			event.Direction,
			event.OldValue.String(),
			event.NewValue.String(),
			strings.Join(event.Providers, ","),
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(v *decimal.Decimal, places int32) string {
	if v == nil {
		return "-"
	}
	return v.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
