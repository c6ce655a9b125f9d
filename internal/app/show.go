package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
)

// Show prints the recent daily records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Days <= 0 {
		opts.Days = 30
	}

	records, err := store.ListLastDays(ctx, opts.Days)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tOficial\tParalelo\tEuro\tΔOficial\tΔParalelo\tSpread%\tSource")

	for _, rec := range records {
		euro := "-"
		if rec.Euro != nil {
			euro = rec.Euro.StringFixed(2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Day.Format("2006-01-02"),
			rec.Oficial.StringFixed(2),
			rec.Paralelo.StringFixed(2),
			euro,
			rec.OficialChange.StringFixed(2),
			rec.ParaleloChange.StringFixed(2),
			rec.SpreadPct.StringFixed(2),
			rec.Source,
		)
	}

	writer.Flush()
	return nil
}
