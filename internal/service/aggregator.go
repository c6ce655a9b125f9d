package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/cache"
	"bolivarwatch/internal/fetcher"
	"bolivarwatch/internal/history"
	"bolivarwatch/internal/rates"
)

// ErrNoSourcesAvailable is returned when every fetcher failed and no usable
// cache entry exists to fall back on.
var ErrNoSourcesAvailable = errors.New("no rate sources available")

// CacheStatus describes where an aggregation answer came from.
type CacheStatus string

const (
	CacheHit   CacheStatus = "hit"
	CacheMiss  CacheStatus = "miss"
	CacheStale CacheStatus = "stale"
)

// Recorder persists the committed daily snapshot.
type Recorder interface {
	Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (history.Record, error)
}

// Aggregator merges fetcher outputs into one snapshot, coordinating with
// the process-wide snapshot cache.
type Aggregator struct {
	fetchers []fetcher.QuoteFetcher
	fallback fetcher.QuoteFetcher
	cache    *cache.SnapshotCache
	recorder Recorder
	logger   zerolog.Logger

	recordWG sync.WaitGroup
}

// NewAggregator constructs the aggregation service. fallback may be nil;
// when present it is tried for the official source after the primary
// official fetcher fails. recorder may be nil (persistence disabled).
func NewAggregator(fetchers []fetcher.QuoteFetcher, fallback fetcher.QuoteFetcher, snapCache *cache.SnapshotCache, recorder Recorder, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		fetchers: fetchers,
		fallback: fallback,
		cache:    snapCache,
		recorder: recorder,
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
}

// Aggregate returns the current snapshot, cache-first: a fresh cache entry
// is served without touching the network. On a miss every fetcher runs
// concurrently and failures contribute nothing; if all of them fail a stale
// cache entry is served as a degraded answer before giving up entirely.
func (a *Aggregator) Aggregate(ctx context.Context) (rates.Snapshot, CacheStatus, error) {
	if snap, ok := a.cache.Get(); ok {
		return snap, CacheHit, nil
	}
	return a.refresh(ctx)
}

// ForceRefresh drops the cache entry before re-aggregating, so no reader
// can observe the pre-refresh snapshot as fresh once the call starts.
func (a *Aggregator) ForceRefresh(ctx context.Context) (rates.Snapshot, CacheStatus, error) {
	a.cache.Invalidate()
	return a.refresh(ctx)
}

func (a *Aggregator) refresh(ctx context.Context) (rates.Snapshot, CacheStatus, error) {
	quotes := a.fanOut(ctx)

	snap := mergeQuotes(quotes)
	if len(snap.Quotes) == 0 {
		if stale, ok := a.cache.GetStale(); ok {
			a.logger.Warn().Msg("all fetchers failed, serving stale snapshot")
			return stale, CacheStale, nil
		}
		return rates.Snapshot{}, "", ErrNoSourcesAvailable
	}

	snap.FetchedAt = time.Now().UTC()
	a.cache.Put(snap)
	a.recordHistory(snap)

	return snap, CacheMiss, nil
}

// fanOut invokes all fetchers concurrently. Order of the result slice
// matches the fetcher slice so merging stays deterministic.
func (a *Aggregator) fanOut(ctx context.Context) []rates.Quote {
	results := make([]*rates.Quote, len(a.fetchers))
	failed := make([]bool, len(a.fetchers))

	var wg sync.WaitGroup
	for i, f := range a.fetchers {
		wg.Add(1)
		go func(i int, f fetcher.QuoteFetcher) {
			defer wg.Done()
			quote, err := f.Fetch(ctx)
			if err != nil {
				failed[i] = true
				a.logger.Warn().Err(err).Str("source", string(f.Source())).Msg("fetcher contributed nothing")
				return
			}
			results[i] = &quote
		}(i, f)
	}
	wg.Wait()

	quotes := make([]rates.Quote, 0, len(results))
	officialOK := false
	for i, q := range results {
		if q == nil {
			continue
		}
		quotes = append(quotes, *q)
		if a.fetchers[i].Source() == rates.SourceOficial && !failed[i] {
			officialOK = true
		}
	}

	if !officialOK && a.fallback != nil {
		if quote, err := a.fallback.Fetch(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("scraping fallback failed")
		} else {
			quotes = append(quotes, quote)
		}
	}

	return quotes
}

// mergeQuotes keeps one quote per source, last-wins, ordered by the
// canonical source order with unknown sources appended afterwards.
func mergeQuotes(quotes []rates.Quote) rates.Snapshot {
	bySource := make(map[rates.Source]rates.Quote, len(quotes))
	var extraOrder []rates.Source
	for _, q := range quotes {
		if _, seen := bySource[q.Source]; !seen && !isRequired(q.Source) {
			extraOrder = append(extraOrder, q.Source)
		}
		bySource[q.Source] = q
	}

	var merged []rates.Quote
	for _, source := range rates.Required() {
		if q, ok := bySource[source]; ok {
			merged = append(merged, q)
		}
	}
	for _, source := range extraOrder {
		merged = append(merged, bySource[source])
	}

	return rates.Snapshot{Quotes: merged}
}

func isRequired(source rates.Source) bool {
	for _, s := range rates.Required() {
		if s == source {
			return true
		}
	}
	return false
}

// recordHistory commits the snapshot to the daily time series without
// blocking the aggregation response. A failed commit is logged and
// swallowed; the caller still gets its snapshot.
func (a *Aggregator) recordHistory(snap rates.Snapshot) {
	if a.recorder == nil {
		return
	}

	oficial, okO := snap.Quote(rates.SourceOficial)
	paralelo, okP := snap.Quote(rates.SourceParalelo)
	if !okO || !okP {
		a.logger.Debug().Msg("snapshot incomplete, skipping history commit")
		return
	}

	var euro *decimal.Decimal
	if q, ok := snap.Quote(rates.SourceEuro); ok {
		mid := q.Mid
		euro = &mid
	}

	a.recordWG.Add(1)
	go func() {
		defer a.recordWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := a.recorder.Commit(ctx, oficial.Mid, paralelo.Mid, euro); err != nil {
			a.logger.Error().Err(err).Msg("failed to record daily history")
		}
	}()
}

// WaitForRecords blocks until in-flight history commits settle. Tests use
// it; the HTTP path never does.
func (a *Aggregator) WaitForRecords() {
	a.recordWG.Wait()
}
