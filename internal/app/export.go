package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bolivarwatch/internal/history"
)

// Export renders the daily history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Days <= 0 {
		opts.Days = 90
	}

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

	records, err := store.ListLastDays(ctx, opts.Days)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no records found for export window")
		return nil
	}

	a.Logger.Info().Int("records", len(records)).Msg("exporting daily history")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, records); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, records); err != nil {
			return err
		}
	}

	return nil
}

func writeRecordsCSV(path string, records []history.Record) error {
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

	header := []string{"date", "oficial", "paralelo", "euro", "oficial_change", "paralelo_change", "euro_change", "spread_pct", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		euro := ""
		if rec.Euro != nil {
			euro = rec.Euro.String()
		}
		row := []string{
			rec.Day.Format("2006-01-02"),
			rec.Oficial.String(),
			rec.Paralelo.String(),
			euro,
			rec.OficialChange.String(),
			rec.ParaleloChange.String(),
			rec.EuroChange.String(),
			rec.SpreadPct.String(),
			rec.Source,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []history.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	oficial := make([]float64, len(records))
	paralelo := make([]float64, len(records))
	spread := make([]float64, len(records))
	var euroX []time.Time
	var euro []float64

	for i, rec := range records {
		x[i] = rec.Day
		oficial[i] = rec.Oficial.InexactFloat64()
		paralelo[i] = rec.Paralelo.InexactFloat64()
		spread[i] = rec.SpreadPct.InexactFloat64()
		if rec.Euro != nil {
			euroX = append(euroX, rec.Day)
			euro = append(euro, rec.Euro.InexactFloat64())
		}
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Oficial",
			XValues: x,
			YValues: oficial,
		},
		chart.TimeSeries{
			Name:    "Paralelo",
			XValues: x,
			YValues: paralelo,
		},
		chart.TimeSeries{
			Name:    "Spread %",
			XValues: x,
			YValues: spread,
			YAxis:   chart.YAxisSecondary,
		},
	}
	if len(euro) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Euro",
			XValues: euroX,
			YValues: euro,
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (Bs)",
			ValueFormatter: rateFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Spread (%)",
			ValueFormatter: rateFormatter,
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
