package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pts-server/pts-server-pro/internal/models"
	"github.com/pts-server/pts-server-pro/internal/protocol"
	"github.com/pts-server/pts-server-pro/internal/storage"
)

// ========== Auth handlers ==========

// HandleLogin handles admin login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Single operator account from configuration
	if req.Email != s.config.Admin.Email {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, s.config.Admin.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Email)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Controller handlers ==========

// HandleListControllers lists connected controllers
func (s *RESTServer) HandleListControllers(w http.ResponseWriter, r *http.Request) {
	controllers := s.registry.List()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(controllers),
		"controllers": controllers,
	})
}

// HandleGetController gets one connected controller
func (s *RESTServer) HandleGetController(w http.ResponseWriter, r *http.Request) {
	ptsID := chi.URLParam(r, "pts_id")

	sess := s.registry.Lookup(ptsID)
	if sess == nil {
		s.respondError(w, http.StatusNotFound, "controller not connected")
		return
	}

	s.respondJSON(w, http.StatusOK, sess.Snapshot())
}

// HandleSendCommand injects a command into a controller session
func (s *RESTServer) HandleSendCommand(w http.ResponseWriter, r *http.Request) {
	ptsID := chi.URLParam(r, "pts_id")

	var req struct {
		Command string           `json:"command" validate:"required,min=1,max=64"`
		Data    models.Variables `json:"data"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd, err := s.injector.Send(ptsID, req.Command, req.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrDeviceNotFound) {
			s.respondError(w, http.StatusNotFound, "controller not connected")
			return
		}
		log.Error().Err(err).Str("pts_id", ptsID).Str("command", req.Command).Msg("Command injection failed")
		s.respondError(w, http.StatusBadGateway, "failed to deliver command")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": true,
		"command":   cmd,
	})
}

// HandleCloseController disconnects a controller
func (s *RESTServer) HandleCloseController(w http.ResponseWriter, r *http.Request) {
	ptsID := chi.URLParam(r, "pts_id")

	sess := s.registry.Lookup(ptsID)
	if sess == nil {
		s.respondError(w, http.StatusNotFound, "controller not connected")
		return
	}

	sess.Close("Closed by administrator")

	w.WriteHeader(http.StatusNoContent)
}

// ========== Event log handlers ==========

// HandleListEvents lists event logs
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	filters := storage.EventLogFilters{
		PtsID: r.URL.Query().Get("pts_id"),
	}
	if t := r.URL.Query().Get("type"); t != "" {
		eventType := models.EventType(t)
		filters.Type = &eventType
	}
	if l := r.URL.Query().Get("level"); l != "" {
		level := models.EventLevel(l)
		filters.Level = &level
	}
	if v := r.URL.Query().Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		filters.StartTime = &t
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		filters.EndTime = &t
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// ========== Tag balance handlers ==========

// HandleGetTagBalance gets a stored tag balance
func (s *RESTServer) HandleGetTagBalance(w http.ResponseWriter, r *http.Request) {
	tagID := chi.URLParam(r, "tag_id")

	balance, err := s.store.GetTagBalance(r.Context(), tagID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "tag not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, balance)
}

// HandleSetTagBalance creates or replaces a tag balance
func (s *RESTServer) HandleSetTagBalance(w http.ResponseWriter, r *http.Request) {
	tagID := chi.URLParam(r, "tag_id")

	var req struct {
		Balance    float64 `json:"balance"`
		IsValid    bool    `json:"isValid"`
		CardType   string  `json:"cardType"`
		ExpiryDate string  `json:"expiryDate"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance := &models.TagBalance{
		TagID:      tagID,
		Balance:    req.Balance,
		IsValid:    req.IsValid,
		CardType:   req.CardType,
		ExpiryDate: req.ExpiryDate,
	}

	if err := s.store.UpsertTagBalance(r.Context(), balance); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, balance)
}

// ========== Helper methods ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "healthy",
		"time":                  time.Now(),
		"uptime_seconds":        int(time.Since(s.startedAt).Seconds()),
		"connected_controllers": s.registry.Count(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "PTS Controller Server",
		"version": "1.0.0",
		"health":  "/api/v1/health",
		"metrics": "/metrics",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
