package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

// SimulateBreach runs a synthetic price move through the threshold
// engine and, when it fires, through the configured alert channel.
// Useful for verifying thresholds and Telegram wiring without touching
// any upstream source.
func (a *App) SimulateBreach(ctx context.Context, instrument string, oldValue, newValue decimal.Decimal) error {
	inst := market.Instrument(instrument)
	if _, ok := a.Config.Thresholds[instrument]; !ok {
		return fmt.Errorf("instrument %q has no thresholds configured", instrument)
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	eng := a.newEngine()

	prev := market.NewBreachState()
	prev.Instruments[inst] = market.InstrumentState{
		LastAnnounced: oldValue,
		Armed:         market.DirectionNone,
	}

	snap := market.NewSnapshot(time.Now().UTC())
	snap.Values[inst] = newValue
	snap.Origins[inst] = "simulated"
	snap.Providers["simulated"] = struct{}{}

	_, events := eng.Evaluate(prev, snap)
	if len(events) == 0 {
		a.Logger.Info().Str("instrument", instrument).
			Str("old", oldValue.String()).Str("new", newValue.String()).
			Msg("move does not cross any threshold, nothing to announce")
		return nil
	}

	for _, event := range events {
		if err := notifier.Notify(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
