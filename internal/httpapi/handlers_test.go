package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolivarwatch/internal/fetcher"
	"bolivarwatch/internal/history"
	"bolivarwatch/internal/notify"
	"bolivarwatch/internal/rates"
	"bolivarwatch/internal/service"
	"bolivarwatch/internal/subscribers"
)

type fakeRateService struct {
	snap      rates.Snapshot
	status    service.CacheStatus
	err       error
	refreshed int
}

func (f *fakeRateService) Aggregate(ctx context.Context) (rates.Snapshot, service.CacheStatus, error) {
	return f.snap, f.status, f.err
}

func (f *fakeRateService) ForceRefresh(ctx context.Context) (rates.Snapshot, service.CacheStatus, error) {
	f.refreshed++
	return f.snap, service.CacheMiss, f.err
}

type fakeStore struct {
	records   []history.Record
	committed *history.Record
	listDays  int
	err       error
}

func (f *fakeStore) Commit(ctx context.Context, oficial, paralelo decimal.Decimal, euro *decimal.Decimal) (history.Record, error) {
	if f.err != nil {
		return history.Record{}, f.err
	}
	rec := history.BuildRecord(nil, nil, oficial, paralelo, euro, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	f.committed = &rec
	return rec, nil
}

func (f *fakeStore) ListLastDays(ctx context.Context, days int) ([]history.Record, error) {
	f.listDays = days
	return f.records, f.err
}

type fakeEvaluator struct {
	result notify.Result
	err    error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context) (notify.Result, error) {
	return f.result, f.err
}

type fakeDirectory struct {
	active map[string]bool
	err    error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{active: make(map[string]bool)}
}

func (f *fakeDirectory) Add(ctx context.Context, chatID, username string) error {
	if f.err != nil {
		return f.err
	}
	f.active[chatID] = true
	return nil
}

func (f *fakeDirectory) Deactivate(ctx context.Context, chatID string) error {
	if f.err != nil {
		return f.err
	}
	f.active[chatID] = false
	return nil
}

func (f *fakeDirectory) IsSubscribed(ctx context.Context, chatID string) (bool, error) {
	return f.active[chatID], f.err
}

func (f *fakeDirectory) ActiveChatIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id, active := range f.active {
		if active {
			ids = append(ids, id)
		}
	}
	return ids, f.err
}

type fakeSender struct {
	sent map[string]string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[chatID] = text
	return nil
}

type fakeCache struct{ invalidated int }

func (f *fakeCache) Invalidate() { f.invalidated++ }

type fakeProbe struct {
	source rates.Source
	quote  rates.Quote
	err    error
}

func (f *fakeProbe) Source() rates.Source { return f.source }
func (f *fakeProbe) Fetch(ctx context.Context) (rates.Quote, error) {
	return f.quote, f.err
}

func testSnapshot() rates.Snapshot {
	mid := func(v string) decimal.Decimal {
		d, _ := decimal.NewFromString(v)
		return d
	}
	return rates.Snapshot{
		Quotes: []rates.Quote{
			{Source: rates.SourceOficial, Label: "Dólar BCV", Mid: mid("300.5"), ObservedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
			{Source: rates.SourceParalelo, Label: "Dólar Paralelo", Mid: mid("600"), ObservedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
			{Source: rates.SourceEuro, Label: "Euro BCV", Mid: mid("320"), ObservedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)},
		},
		FetchedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

type serverDeps struct {
	rateService *fakeRateService
	store       *fakeStore
	evaluator   *fakeEvaluator
	directory   *fakeDirectory
	sender      *fakeSender
	cache       *fakeCache
	probes      []fetcher.QuoteFetcher
}

func newTestServer(deps serverDeps) *Server {
	// Wrap only the fakes that are present so the handlers' nil checks on the
	// interface fields still hold.
	var evaluator Evaluator
	if deps.evaluator != nil {
		evaluator = deps.evaluator
	}
	var directory subscribers.Directory
	if deps.directory != nil {
		directory = deps.directory
	}
	var sender notify.Sender
	if deps.sender != nil {
		sender = deps.sender
	}
	var cache CacheInvalidator
	if deps.cache != nil {
		cache = deps.cache
	}

	return NewServer(
		ServerConfig{Host: "127.0.0.1", Port: 8080, SiteURL: "https://example.test"},
		deps.rateService,
		deps.store,
		evaluator,
		directory,
		sender,
		cache,
		deps.probes,
		zerolog.Nop(),
	)
}

func TestGetRates(t *testing.T) {
	svc := &fakeRateService{snap: testSnapshot(), status: service.CacheHit}
	srv := newTestServer(serverDeps{rateService: svc, store: &fakeStore{}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 3)
	assert.Equal(t, "oficial", body[0]["fuente"])
	assert.Equal(t, "Dólar BCV", body[0]["nombre"])
	assert.Equal(t, "paralelo", body[1]["fuente"])
}

func TestGetRatesUpstreamFailure(t *testing.T) {
	svc := &fakeRateService{err: service.ErrNoSourcesAvailable}
	srv := newTestServer(serverDeps{rateService: svc, store: &fakeStore{}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ErrCodeUpstreamFailure, body.Error.Code)
}

func TestRefreshRates(t *testing.T) {
	svc := &fakeRateService{snap: testSnapshot(), status: service.CacheHit}
	srv := newTestServer(serverDeps{rateService: svc, store: &fakeStore{}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rates/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.refreshed)
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
}

func TestGetHistoricalDefaultsAndCap(t *testing.T) {
	store := &fakeStore{}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: store})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/historical", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, store.listDays)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/historical?days=1000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 365, store.listDays)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/historical?days=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitHistoricalInvalidatesCache(t *testing.T) {
	store := &fakeStore{}
	cache := &fakeCache{}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: store, cache: cache})

	body := strings.NewReader(`{"oficial":"300.5","paralelo":"600","euro":"320"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/historical", body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, store.committed)
	assert.Equal(t, 1, cache.invalidated)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-10", resp["date"])
}

func TestCommitHistoricalConflict(t *testing.T) {
	store := &fakeStore{err: history.ErrConflict}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: store, cache: &fakeCache{}})

	body := strings.NewReader(`{"oficial":"300.5","paralelo":"600"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/historical", body))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommitHistoricalRejectsNonPositive(t *testing.T) {
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}})

	body := strings.NewReader(`{"oficial":"0","paralelo":"600"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/historical", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribeSendsWelcome(t *testing.T) {
	dir := newFakeDirectory()
	sender := &fakeSender{}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, directory: dir, sender: sender})

	body := strings.NewReader(`{"chat_id":"123","username":"maria"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dir.active["123"])
	assert.Contains(t, sender.sent["123"], "Bienvenido")
	assert.Contains(t, sender.sent["123"], "https://example.test")
}

func TestSubscribeSurvivesWelcomeFailure(t *testing.T) {
	dir := newFakeDirectory()
	sender := &fakeSender{err: errors.New("telegram down")}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, directory: dir, sender: sender})

	body := strings.NewReader(`{"chat_id":"123"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, dir.active["123"])
}

func TestSubscribeRequiresChatID(t *testing.T) {
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, directory: newFakeDirectory()})

	body := strings.NewReader(`{"chat_id":"  "}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscribe", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribeCheckAndUnsubscribe(t *testing.T) {
	dir := newFakeDirectory()
	dir.active["123"] = true
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, directory: dir})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subscribe/check?chat_id=123", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subscribed":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/unsubscribe", strings.NewReader(`{"chat_id":"123"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, dir.active["123"])
}

func TestEvaluateEndpoint(t *testing.T) {
	eval := &fakeEvaluator{result: notify.Result{Notified: true, Type: notify.TypeChangeAlert, Recipients: 3}}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, evaluator: eval})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/evaluate", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var result notify.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Notified)
	assert.Equal(t, notify.TypeChangeAlert, result.Type)
	assert.Equal(t, 3, result.Recipients)
}

func TestEvaluateDisabled(t *testing.T) {
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications/evaluate", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugSources(t *testing.T) {
	mid, _ := decimal.NewFromString("300.5")
	probes := []fetcher.QuoteFetcher{
		&fakeProbe{source: rates.SourceOficial, quote: rates.Quote{Source: rates.SourceOficial, Mid: mid}},
		&fakeProbe{source: rates.SourceParalelo, err: errors.New("connection refused")},
	}
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}, probes: probes})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/debug/sources", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var report []sourceProbe
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report, 2)
	assert.True(t, report[0].OK)
	assert.Equal(t, "300.5000", report[0].Rate)
	assert.False(t, report[1].OK)
	assert.Contains(t, report[1].Error, "connection refused")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(serverDeps{rateService: &fakeRateService{}, store: &fakeStore{}})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
