package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/rates"
)

const defaultBCVURL = "https://www.bcv.org.ve/"

// usdPatterns are tried in order against the retrieved markup. The BCV page
// is semi-structured and has changed layout before, hence the fallbacks.
var usdPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<strong[^>]*>\s*USD\s*</strong>[^<]*<strong[^>]*>\s*([0-9.,]+)\s*</strong>`),
	regexp.MustCompile(`(?i)USD[^0-9]*([0-9]+[,.][0-9]+)`),
	regexp.MustCompile(`(?i)USD.*?([0-9]{2,3}[,.][0-9]{2,})`),
}

// BCVScraperOptions parameterise the central-bank page scraper.
type BCVScraperOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// BCVScraper extracts the official rate straight from the BCV homepage.
// It is the fallback for the official source when the structured API is
// unreachable.
type BCVScraper struct {
	opts   BCVScraperOptions
	logger zerolog.Logger
	client *http.Client
}

// NewBCVScraper constructs the scraping fallback fetcher.
func NewBCVScraper(opts BCVScraperOptions, logger zerolog.Logger) *BCVScraper {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.URL == "" {
		opts.URL = defaultBCVURL
	}

	return &BCVScraper{
		opts:   opts,
		logger: logger.With().Str("component", "bcv_scraper").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Source reports the tracked rate this fetcher serves.
func (s *BCVScraper) Source() rates.Source {
	return rates.SourceOficial
}

// Fetch downloads the BCV page and extracts the USD rate. The HTTPS
// transport is tried first; on failure the same page is requested over
// plain HTTP before giving up.
func (s *BCVScraper) Fetch(ctx context.Context) (rates.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, s.client.Timeout)
	defer cancel()

	html, err := s.download(ctx, s.opts.URL)
	if err != nil && strings.HasPrefix(s.opts.URL, "https://") {
		s.logger.Warn().Err(err).Msg("https fetch failed, retrying over http")
		html, err = s.download(ctx, "http://"+strings.TrimPrefix(s.opts.URL, "https://"))
	}
	if err != nil {
		return rates.Quote{}, classify(rates.SourceOficial, err)
	}

	mid, err := extractUSD(html)
	if err != nil {
		return rates.Quote{}, invalidData(rates.SourceOficial, "%v", err)
	}

	quote := rates.Quote{
		Source:     rates.SourceOficial,
		Label:      "BCV Oficial",
		Mid:        mid,
		ObservedAt: time.Now().UTC(),
	}
	if err := quote.Validate(); err != nil {
		return rates.Quote{}, invalidData(rates.SourceOficial, "%v", err)
	}

	s.logger.Info().Str("mid", mid.String()).Msg("official rate scraped from BCV page")
	return quote, nil
}

func (s *BCVScraper) download(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	ua := s.opts.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-VE,es;q=0.9,en;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bcv page status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// extractUSD applies the pattern list in order and normalises the Venezuelan
// comma decimal ("273,58610000" -> 273.5861).
func extractUSD(html string) (decimal.Decimal, error) {
	for _, pattern := range usdPatterns {
		match := pattern.FindStringSubmatch(html)
		if len(match) < 2 {
			continue
		}

		raw := strings.ReplaceAll(strings.TrimSpace(match[1]), ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
		// Values without a comma were plain dotted decimals already.
		if !strings.Contains(match[1], ",") {
			raw = strings.TrimSpace(match[1])
		}

		value, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		if value.LessThan(rates.MinRate) || value.GreaterThan(rates.MaxRate) {
			continue
		}
		return value, nil
	}
	return decimal.Decimal{}, fmt.Errorf("no USD rate found in page markup")
}

var _ QuoteFetcher = (*BCVScraper)(nil)
