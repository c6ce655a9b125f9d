package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Sweep purges daily records older than the configured retention.
func (a *App) Sweep(ctx context.Context) error {
	if a.Config.History.Retention <= 0 {
		return errors.New("history.retention not configured; refusing to sweep")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot sweep")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().In(a.Config.Location()).Add(-a.Config.History.Retention)
	purged, err := store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Time("cutoff", cutoff).
		Int64("purged", purged).
		Msg("retention sweep complete")
	fmt.Fprintf(os.Stdout, "purged %d records older than %s\n", purged, cutoff.Format("2006-01-02"))
	return nil
}
