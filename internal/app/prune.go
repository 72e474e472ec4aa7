package app

import (
	"context"
	"errors"
	"time"
)

// Prune deletes audit rows older than the retention window.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be greater than zero")
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		a.Logger.Info().Time("cutoff", cutoff).Msg("prune dry-run: no rows will be deleted")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.DeleteSamplesBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	events, err := store.DeleteBreachEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	remaining, err := store.CountSamples(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).
		Int64("samples_deleted", samples).
		Int64("events_deleted", events).
		Int64("samples_remaining", remaining).
		Msg("prune complete")
	return nil
}
