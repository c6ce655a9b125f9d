package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/cache"
	"bolivarwatch/internal/fetcher"
	"bolivarwatch/internal/history"
	"bolivarwatch/internal/rates"
)

type stubFetcher struct {
	source rates.Source
	mid    decimal.Decimal
	err    error
	calls  atomic.Int64
}

func (s *stubFetcher) Source() rates.Source { return s.source }

func (s *stubFetcher) Fetch(ctx context.Context) (rates.Quote, error) {
	s.calls.Add(1)
	if s.err != nil {
		return rates.Quote{}, s.err
	}
	return rates.Quote{Source: s.source, Mid: s.mid, ObservedAt: time.Now().UTC()}, nil
}

type stubRecorder struct {
	commits atomic.Int64
	err     error
}

func (r *stubRecorder) Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (history.Record, error) {
	r.commits.Add(1)
	if r.err != nil {
		return history.Record{}, r.err
	}
	return history.Record{Oficial: oficial, Paralelo: paralelo, Euro: euro}, nil
}

func unavailable(source rates.Source) error {
	return &fetcher.FetchError{Source: source, Kind: fetcher.KindUnavailable, Err: errors.New("down")}
}

func newTestAggregator(fetchers []fetcher.QuoteFetcher, fallback fetcher.QuoteFetcher, rec Recorder) (*Aggregator, *cache.SnapshotCache) {
	c := cache.New(5 * time.Minute)
	return NewAggregator(fetchers, fallback, c, rec, zerolog.Nop()), c
}

func TestAggregateAllSourcesSucceed(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(300)}
	paralelo := &stubFetcher{source: rates.SourceParalelo, mid: decimal.NewFromInt(600)}
	euro := &stubFetcher{source: rates.SourceEuro, mid: decimal.NewFromInt(320)}
	rec := &stubRecorder{}

	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{paralelo, euro, oficial}, nil, rec)

	snap, status, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("aggregate should succeed: %v", err)
	}
	if status != CacheMiss {
		t.Fatalf("cold cache must report a miss, got %s", status)
	}
	if len(snap.Quotes) != 3 {
		t.Fatalf("expected 3 quotes, got %d", len(snap.Quotes))
	}
	// Canonical presentation order regardless of fetcher order.
	if snap.Quotes[0].Source != rates.SourceOficial || snap.Quotes[1].Source != rates.SourceParalelo || snap.Quotes[2].Source != rates.SourceEuro {
		t.Fatalf("unexpected quote order: %+v", snap.Quotes)
	}

	agg.WaitForRecords()
	if rec.commits.Load() != 1 {
		t.Fatalf("successful aggregate must trigger one history commit, got %d", rec.commits.Load())
	}
}

func TestAggregatePartialFailure(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, err: unavailable(rates.SourceOficial)}
	paralelo := &stubFetcher{source: rates.SourceParalelo, mid: decimal.NewFromInt(600)}

	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial, paralelo}, nil, nil)

	snap, _, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("one live source is enough: %v", err)
	}
	if len(snap.Quotes) != 1 || snap.Quotes[0].Source != rates.SourceParalelo {
		t.Fatalf("expected only the parallel quote, got %+v", snap.Quotes)
	}
}

func TestAggregateAllFailNoCache(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, err: unavailable(rates.SourceOficial)}
	paralelo := &stubFetcher{source: rates.SourceParalelo, err: unavailable(rates.SourceParalelo)}

	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial, paralelo}, nil, nil)

	_, _, err := agg.Aggregate(context.Background())
	if !errors.Is(err, ErrNoSourcesAvailable) {
		t.Fatalf("expected ErrNoSourcesAvailable, got %v", err)
	}
}

func TestAggregateCacheHitSkipsFetchers(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(300)}
	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial}, nil, nil)

	first, status, err := agg.Aggregate(context.Background())
	if err != nil || status != CacheMiss {
		t.Fatalf("first aggregate: status=%s err=%v", status, err)
	}

	second, status, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("second aggregate: %v", err)
	}
	if status != CacheHit {
		t.Fatalf("second aggregate within TTL must hit, got %s", status)
	}
	if oficial.calls.Load() != 1 {
		t.Fatalf("fetcher must not run on a cache hit, ran %d times", oficial.calls.Load())
	}
	if !second.FetchedAt.Equal(first.FetchedAt) || !second.Quotes[0].Mid.Equal(first.Quotes[0].Mid) {
		t.Fatal("cached snapshot must be identical to the first answer")
	}
}

func TestAggregateServesStaleWhenAllFail(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c := cache.NewWithClock(5*time.Minute, func() time.Time { return now })

	oficial := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(300)}
	agg := NewAggregator([]fetcher.QuoteFetcher{oficial}, nil, c, nil, zerolog.Nop())

	if _, _, err := agg.Aggregate(context.Background()); err != nil {
		t.Fatalf("seed aggregate: %v", err)
	}

	// Entry ages past the TTL, then the only source dies.
	now = now.Add(10 * time.Minute)
	oficial.err = unavailable(rates.SourceOficial)

	snap, status, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("stale fallback should succeed: %v", err)
	}
	if status != CacheStale {
		t.Fatalf("expected stale answer, got %s", status)
	}
	if !snap.Quotes[0].Mid.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("stale snapshot should carry the previous data: %+v", snap)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(300)}
	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial}, nil, nil)

	if _, _, err := agg.Aggregate(context.Background()); err != nil {
		t.Fatalf("seed aggregate: %v", err)
	}

	oficial.mid = decimal.NewFromInt(306)
	snap, status, err := agg.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("force refresh: %v", err)
	}
	if status != CacheMiss {
		t.Fatalf("forced refresh must refetch, got %s", status)
	}
	if !snap.Quotes[0].Mid.Equal(decimal.NewFromInt(306)) {
		t.Fatalf("forced refresh must carry new data, got %s", snap.Quotes[0].Mid)
	}
	if oficial.calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", oficial.calls.Load())
	}
}

func TestFallbackCoversOfficialFailure(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, err: unavailable(rates.SourceOficial)}
	paralelo := &stubFetcher{source: rates.SourceParalelo, mid: decimal.NewFromInt(600)}
	scraper := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(299)}

	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial, paralelo}, scraper, nil)

	snap, _, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("aggregate with fallback: %v", err)
	}

	q, ok := snap.Quote(rates.SourceOficial)
	if !ok {
		t.Fatal("fallback should have supplied the official quote")
	}
	if !q.Mid.Equal(decimal.NewFromInt(299)) {
		t.Fatalf("unexpected fallback mid %s", q.Mid)
	}
	if scraper.calls.Load() != 1 {
		t.Fatalf("fallback should run exactly once, ran %d", scraper.calls.Load())
	}
}

func TestRecorderFailureDoesNotFailAggregate(t *testing.T) {
	oficial := &stubFetcher{source: rates.SourceOficial, mid: decimal.NewFromInt(300)}
	paralelo := &stubFetcher{source: rates.SourceParalelo, mid: decimal.NewFromInt(600)}
	rec := &stubRecorder{err: errors.New("db down")}

	agg, _ := newTestAggregator([]fetcher.QuoteFetcher{oficial, paralelo}, nil, rec)

	if _, _, err := agg.Aggregate(context.Background()); err != nil {
		t.Fatalf("history failure must not surface: %v", err)
	}
	agg.WaitForRecords()
	if rec.commits.Load() != 1 {
		t.Fatalf("commit should have been attempted once, got %d", rec.commits.Load())
	}
}
