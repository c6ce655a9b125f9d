package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"bolivarwatch/internal/rates"
	"bolivarwatch/internal/service"
)

// quoteView mirrors the upstream wire vocabulary so API consumers see one
// consistent shape regardless of which source produced the quote.
type quoteView struct {
	Fuente             string           `json:"fuente"`
	Nombre             string           `json:"nombre"`
	Compra             *decimal.Decimal `json:"compra"`
	Venta              *decimal.Decimal `json:"venta"`
	Promedio           decimal.Decimal  `json:"promedio"`
	FechaActualizacion string           `json:"fechaActualizacion"`
}

func snapshotView(snap rates.Snapshot) []quoteView {
	views := make([]quoteView, 0, len(snap.Quotes))
	for _, q := range snap.Quotes {
		views = append(views, quoteView{
			Fuente:             string(q.Source),
			Nombre:             q.Label,
			Compra:             q.Buy,
			Venta:              q.Sell,
			Promedio:           q.Mid,
			FechaActualizacion: q.ObservedAt.Format(time.RFC3339),
		})
	}
	return views
}

func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	snap, status, err := s.rateService.Aggregate(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, ErrCodeUpstreamFailure, "no rate sources available")
		return
	}

	w.Header().Set("X-Cache", string(status))
	respondJSON(w, http.StatusOK, snapshotView(snap))
}

func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request) {
	snap, status, err := s.rateService.ForceRefresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, ErrCodeUpstreamFailure, "no rate sources available")
		return
	}

	w.Header().Set("X-Cache", string(status))
	respondJSON(w, http.StatusOK, snapshotView(snap))
}

type sourceProbe struct {
	Source   string `json:"source"`
	OK       bool   `json:"ok"`
	Rate     string `json:"rate,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// handleDebugSources probes every configured fetcher directly, bypassing the
// cache, so operators can tell which upstream is failing.
func (s *Server) handleDebugSources(w http.ResponseWriter, r *http.Request) {
	if len(s.probes) == 0 {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "no sources configured")
		return
	}

	report := make([]sourceProbe, 0, len(s.probes))
	for _, f := range s.probes {
		start := time.Now()
		quote, err := f.Fetch(r.Context())
		probe := sourceProbe{
			Source:   string(f.Source()),
			Duration: time.Since(start).Round(time.Millisecond).String(),
		}
		if err != nil {
			probe.Error = err.Error()
		} else {
			probe.OK = true
			probe.Rate = quote.Mid.StringFixed(4)
		}
		report = append(report, probe)
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "notifications disabled")
		return
	}

	result, err := s.evaluator.Evaluate(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNoSourcesAvailable) {
			status = http.StatusBadGateway
		}
		respondError(w, status, ErrCodeUpstreamFailure, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}
