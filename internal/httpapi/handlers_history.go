package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"bolivarwatch/internal/history"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

type historyView struct {
	Date      string           `json:"date"`
	Oficial   decimal.Decimal  `json:"oficial"`
	Paralelo  decimal.Decimal  `json:"paralelo"`
	Euro      *decimal.Decimal `json:"euro"`
	SpreadPct decimal.Decimal  `json:"spread_pct"`
}

func recordViews(records []history.Record) []historyView {
	views := make([]historyView, 0, len(records))
	for _, rec := range records {
		views = append(views, historyView{
			Date:      rec.Day.Format("2006-01-02"),
			Oficial:   rec.Oficial,
			Paralelo:  rec.Paralelo,
			Euro:      rec.Euro,
			SpreadPct: rec.SpreadPct,
		})
	}
	return views
}

func (s *Server) handleGetHistorical(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "days must be a positive integer")
			return
		}
		days = parsed
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}

	records, err := s.store.ListLastDays(r.Context(), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("list historical records")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to load history")
		return
	}

	respondJSON(w, http.StatusOK, recordViews(records))
}

type commitRequest struct {
	Oficial  decimal.Decimal  `json:"oficial"`
	Paralelo decimal.Decimal  `json:"paralelo"`
	Euro     *decimal.Decimal `json:"euro"`
}

type commitResponse struct {
	Date           string           `json:"date"`
	Oficial        decimal.Decimal  `json:"oficial"`
	Paralelo       decimal.Decimal  `json:"paralelo"`
	Euro           *decimal.Decimal `json:"euro"`
	OficialChange  decimal.Decimal  `json:"oficial_change"`
	ParaleloChange decimal.Decimal  `json:"paralelo_change"`
	EuroChange     decimal.Decimal  `json:"euro_change"`
	SpreadPct      decimal.Decimal  `json:"spread_pct"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (s *Server) handleCommitHistorical(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.Oficial.LessThanOrEqual(decimal.Zero) || req.Paralelo.LessThanOrEqual(decimal.Zero) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "oficial and paralelo must be positive")
		return
	}

	rec, err := s.store.Commit(r.Context(), req.Oficial, req.Paralelo, req.Euro)
	if err != nil {
		if errors.Is(err, history.ErrConflict) {
			respondError(w, http.StatusConflict, ErrCodeConflict, "concurrent commit for the same day")
			return
		}
		s.logger.Error().Err(err).Msg("commit historical record")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to commit record")
		return
	}

	if s.cache != nil {
		s.cache.Invalidate()
	}

	respondJSON(w, http.StatusOK, commitResponse{
		Date:           rec.Day.Format("2006-01-02"),
		Oficial:        rec.Oficial,
		Paralelo:       rec.Paralelo,
		Euro:           rec.Euro,
		OficialChange:  rec.OficialChange,
		ParaleloChange: rec.ParaleloChange,
		EuroChange:     rec.EuroChange,
		SpreadPct:      rec.SpreadPct,
		UpdatedAt:      rec.UpdatedAt,
	})
}
