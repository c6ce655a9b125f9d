package httpapi

import (
	"net/http"
	"strings"

	"bolivarwatch/internal/notify"
)

type subscribeRequest struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username"`
}

type unsubscribeRequest struct {
	ChatID string `json:"chat_id"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "subscriptions disabled")
		return
	}

	var req subscribeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chat_id is required")
		return
	}

	if err := s.directory.Add(r.Context(), req.ChatID, req.Username); err != nil {
		s.logger.Error().Err(err).Str("chat_id", req.ChatID).Msg("add subscriber")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to subscribe")
		return
	}

	// The welcome push is best effort; the subscription itself already stuck.
	if s.sender != nil {
		if err := s.sender.Send(r.Context(), req.ChatID, notify.RenderWelcome(s.config.SiteURL)); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", req.ChatID).Msg("welcome message failed")
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"subscribed": true})
}

func (s *Server) handleSubscribeCheck(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "subscriptions disabled")
		return
	}

	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chat_id is required")
		return
	}

	subscribed, err := s.directory.IsSubscribed(r.Context(), chatID)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Msg("check subscription")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to check subscription")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"subscribed": subscribed})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if s.directory == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "subscriptions disabled")
		return
	}

	var req unsubscribeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "chat_id is required")
		return
	}

	if err := s.directory.Deactivate(r.Context(), req.ChatID); err != nil {
		s.logger.Error().Err(err).Str("chat_id", req.ChatID).Msg("deactivate subscriber")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to unsubscribe")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"subscribed": false})
}
