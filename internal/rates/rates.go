package rates

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies one tracked exchange rate provider.
type Source string

const (
	SourceOficial  Source = "oficial"
	SourceParalelo Source = "paralelo"
	SourceEuro     Source = "euro"
)

// Required lists the sources the notification engine cannot run without,
// in the order they are presented to consumers.
func Required() []Source {
	return []Source{SourceOficial, SourceParalelo, SourceEuro}
}

var (
	// MinRate/MaxRate bound plausible Bs quotes. Values outside this band
	// are parsing artefacts, not market moves.
	MinRate = decimal.NewFromInt(1)
	MaxRate = decimal.NewFromInt(10000)
)

// Quote is a single source's observation at a point in time.
type Quote struct {
	Source     Source
	Label      string
	Buy        *decimal.Decimal
	Sell       *decimal.Decimal
	Mid        decimal.Decimal
	ObservedAt time.Time
}

// Validate rejects quotes whose mid is missing or outside the sane band.
func (q Quote) Validate() error {
	if q.Source == "" {
		return fmt.Errorf("quote missing source")
	}
	if q.Mid.LessThan(MinRate) || q.Mid.GreaterThan(MaxRate) {
		return fmt.Errorf("quote %s mid %s outside range [%s, %s]", q.Source, q.Mid, MinRate, MaxRate)
	}
	return nil
}

// Snapshot is the merged aggregation result at one instant. It holds at most
// one quote per source and is never empty once published.
type Snapshot struct {
	Quotes    []Quote
	FetchedAt time.Time
}

// Quote returns the quote for a source, if present.
func (s Snapshot) Quote(source Source) (Quote, bool) {
	for _, q := range s.Quotes {
		if q.Source == source {
			return q, true
		}
	}
	return Quote{}, false
}

// Mids extracts the mid rate per source present in the snapshot.
func (s Snapshot) Mids() map[Source]decimal.Decimal {
	mids := make(map[Source]decimal.Decimal, len(s.Quotes))
	for _, q := range s.Quotes {
		mids[q.Source] = q.Mid
	}
	return mids
}

// DayStart truncates t to midnight in loc. Both the historical recorder and
// the notification engine derive their day keys through this single function
// so "today" can never diverge between them.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
