package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/rates"
)

const defaultDolarAPIBase = "https://ve.dolarapi.com/v1"

// dolarAPIPaths maps each tracked source to its DolarApi endpoint.
var dolarAPIPaths = map[rates.Source]string{
	rates.SourceOficial:  "/dolares/oficial",
	rates.SourceParalelo: "/dolares/paralelo",
	rates.SourceEuro:     "/euros/oficial",
}

// DolarAPIOptions parameterise a single-source DolarApi fetcher.
type DolarAPIOptions struct {
	BaseURL   string
	Source    rates.Source
	Timeout   time.Duration
	UserAgent string
}

// DolarAPI fetches one quote from the ve.dolarapi.com JSON API.
type DolarAPI struct {
	opts    DolarAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewDolarAPI constructs a DolarApi fetcher for one source.
func NewDolarAPI(opts DolarAPIOptions, logger zerolog.Logger) *DolarAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultDolarAPIBase
	}

	return &DolarAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "dolarapi_fetcher").Str("source", string(opts.Source)).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Source reports which tracked rate this fetcher serves.
func (d *DolarAPI) Source() rates.Source {
	return d.opts.Source
}

type dolarAPIResponse struct {
	Fuente             string           `json:"fuente"`
	Nombre             string           `json:"nombre"`
	Compra             *decimal.Decimal `json:"compra"`
	Venta              *decimal.Decimal `json:"venta"`
	Promedio           decimal.Decimal  `json:"promedio"`
	FechaActualizacion string           `json:"fechaActualizacion"`
}

// Fetch retrieves and validates the quote for the configured source.
func (d *DolarAPI) Fetch(ctx context.Context) (rates.Quote, error) {
	path, ok := dolarAPIPaths[d.opts.Source]
	if !ok {
		return rates.Quote{}, invalidData(d.opts.Source, "no dolarapi endpoint for source %q", d.opts.Source)
	}

	ctx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return rates.Quote{}, classify(d.opts.Source, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return rates.Quote{}, &FetchError{Source: d.opts.Source, Kind: KindTimeout, Err: err}
		}
		return rates.Quote{}, classify(d.opts.Source, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return rates.Quote{}, classify(d.opts.Source, err)
	}

	if resp.StatusCode != http.StatusOK {
		return rates.Quote{}, classify(d.opts.Source, fmt.Errorf("dolarapi status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var body dolarAPIResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return rates.Quote{}, invalidData(d.opts.Source, "decode dolarapi payload: %v", err)
	}

	observed := time.Now().UTC()
	if body.FechaActualizacion != "" {
		if ts, parseErr := time.Parse(time.RFC3339, body.FechaActualizacion); parseErr == nil {
			observed = ts
		}
	}

	quote := rates.Quote{
		Source:     d.opts.Source,
		Label:      body.Nombre,
		Buy:        body.Compra,
		Sell:       body.Venta,
		Mid:        body.Promedio,
		ObservedAt: observed,
	}
	if quote.Label == "" {
		quote.Label = body.Fuente
	}

	if err := quote.Validate(); err != nil {
		return rates.Quote{}, invalidData(d.opts.Source, "%v", err)
	}

	d.logger.Debug().Str("mid", quote.Mid.String()).Msg("quote fetched")
	return quote, nil
}

var _ QuoteFetcher = (*DolarAPI)(nil)
