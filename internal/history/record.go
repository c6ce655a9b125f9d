package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceAutomatic tags rows committed by the pipeline itself, as opposed to
// rows pushed through the internal historical-commit endpoint.
const SourceAutomatic = "automatic"

var hundred = decimal.NewFromInt(100)

// Record is one committed row per calendar day.
type Record struct {
	Day            time.Time
	Oficial        decimal.Decimal
	Paralelo       decimal.Decimal
	Euro           *decimal.Decimal
	OficialChange  decimal.Decimal
	ParaleloChange decimal.Decimal
	EuroChange     decimal.Decimal
	SpreadPct      decimal.Decimal
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BuildRecord computes the deltas and spread for a commit of the given day.
//
// When existing is non-nil (a re-commit of the same day) the deltas rebase
// against that row's stored values, so repeated intraday commits always
// reflect the movement since the last poll. Otherwise deltas come from the
// baseline, the most recent row strictly before day; with no baseline at all
// (first record ever) they are zero.
func BuildRecord(existing, baseline *Record, oficial, paralelo decimal.Decimal, euro *decimal.Decimal, day time.Time) Record {
	prev := existing
	if prev == nil {
		prev = baseline
	}

	rec := Record{
		Day:      day,
		Oficial:  oficial,
		Paralelo: paralelo,
		Euro:     euro,
		Source:   SourceAutomatic,
	}

	if prev != nil {
		rec.OficialChange = oficial.Sub(prev.Oficial)
		rec.ParaleloChange = paralelo.Sub(prev.Paralelo)
		if euro != nil && prev.Euro != nil {
			rec.EuroChange = euro.Sub(*prev.Euro)
		}
	}

	rec.SpreadPct = Spread(oficial, paralelo)
	return rec
}

// Spread is the percentage gap of the parallel rate over the official one.
func Spread(oficial, paralelo decimal.Decimal) decimal.Decimal {
	if oficial.IsZero() {
		return decimal.Zero
	}
	return paralelo.Sub(oficial).Div(oficial).Mul(hundred)
}
