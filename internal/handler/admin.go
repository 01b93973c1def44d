package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mailgraph/mailgraph/internal/graph"
	"github.com/mailgraph/mailgraph/internal/model"
	"github.com/mailgraph/mailgraph/internal/repository"
)

// TransportRequest is the create/update payload for a transport config
type TransportRequest struct {
	Name           string `json:"name"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	TenantID       string `json:"tenant_id"`
	SenderEmail    string `json:"sender_email"`
	UseGraphAPI    bool   `json:"use_graph_api"`
	FallbackToSMTP bool   `json:"fallback_to_smtp"`
	Sequence       int    `json:"sequence"`
}

// CreateTransport registers a new transport config
func (h *Handler) CreateTransport(w http.ResponseWriter, r *http.Request) {
	var req TransportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	now := time.Now()
	cfg := &model.TransportConfig{
		ID:             uuid.New().String(),
		Name:           req.Name,
		ClientID:       req.ClientID,
		ClientSecret:   req.ClientSecret,
		TenantID:       req.TenantID,
		SenderEmail:    req.SenderEmail,
		UseGraphAPI:    req.UseGraphAPI,
		FallbackToSMTP: req.FallbackToSMTP,
		Sequence:       req.Sequence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.transportRepo.Create(r.Context(), cfg); err != nil {
		h.log.Error().Err(err).Msg("failed to create transport config")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create transport config")
		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

// ListTransports returns all transport configs in sequence order
func (h *Handler) ListTransports(w http.ResponseWriter, r *http.Request) {
	configs, err := h.transportRepo.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list transport configs")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list transport configs")
		return
	}
	if configs == nil {
		configs = []*model.TransportConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

// GetTransport returns one transport config
func (h *Handler) GetTransport(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadTransport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateTransport modifies credentials and routing flags. Tokens are never
// writable through this endpoint; they change only via refresh and the
// authorization flow.
func (h *Handler) UpdateTransport(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadTransport(w, r)
	if !ok {
		return
	}

	var req TransportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg.Name = req.Name
	cfg.ClientID = req.ClientID
	cfg.ClientSecret = req.ClientSecret
	cfg.TenantID = req.TenantID
	cfg.SenderEmail = req.SenderEmail
	cfg.UseGraphAPI = req.UseGraphAPI
	cfg.FallbackToSMTP = req.FallbackToSMTP
	cfg.Sequence = req.Sequence

	if err := h.transportRepo.Update(r.Context(), cfg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "transport configuration not found")
			return
		}
		h.log.Error().Err(err).Str("config_id", cfg.ID).Msg("failed to update transport config")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update transport config")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// DeleteTransport removes a transport config
func (h *Handler) DeleteTransport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.transportRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "transport configuration not found")
			return
		}
		h.log.Error().Err(err).Str("config_id", id).Msg("failed to delete transport config")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete transport config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransportStatusResponse summarizes the authorization state of a config
type TransportStatusResponse struct {
	ConfigID       string           `json:"config_id"`
	Name           string           `json:"name"`
	HasCredentials bool             `json:"has_credentials"`
	Authorized     bool             `json:"authorized"`
	TokenValid     bool             `json:"token_valid"`
	TokenExpiry    *time.Time       `json:"token_expiry,omitempty"`
	Token          *graph.TokenInfo `json:"token,omitempty"`
}

// TransportStatus reports whether a config holds usable tokens and, when an
// access token is on file, the identifying claims decoded from it.
func (h *Handler) TransportStatus(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadTransport(w, r)
	if !ok {
		return
	}

	resp := TransportStatusResponse{
		ConfigID:       cfg.ID,
		Name:           cfg.Name,
		HasCredentials: cfg.HasCredentials(),
		Authorized:     cfg.RefreshToken != "",
		TokenValid:     cfg.TokenValid(time.Now()),
		TokenExpiry:    cfg.TokenExpiry,
	}

	if cfg.AccessToken != "" {
		if info, err := graph.DecodeTokenInfo(cfg.AccessToken); err == nil {
			resp.Token = info
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// TestTransport acquires a token for the config and sends a self-addressed
// probe message that is not saved to the sent folder.
func (h *Handler) TestTransport(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.loadTransport(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	token, err := h.tokens.EnsureValidToken(ctx, cfg)
	if err != nil {
		h.apiLogRepo.Add(ctx, cfg.ID, model.LogLevelError, "connection test failed: "+err.Error())
		writeError(w, http.StatusBadGateway, "token_error", err.Error())
		return
	}

	if err := h.graphClient.TestConnection(ctx, token, cfg); err != nil {
		h.apiLogRepo.Add(ctx, cfg.ID, model.LogLevelError, "connection test failed: "+err.Error())
		status, code := testFailureStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	h.apiLogRepo.Add(ctx, cfg.ID, model.LogLevelInfo, "connection test succeeded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// testFailureStatus maps a connection-test failure to an HTTP status telling
// the operator whether to re-authorize, wait out throttling, or retry later.
func testFailureStatus(err error) (int, string) {
	var se *graph.SendError
	if errors.As(err, &se) {
		switch {
		case graph.IsUnauthorized(se.Status):
			return http.StatusUnauthorized, "unauthorized"
		case graph.IsRateLimited(se.Status):
			return http.StatusTooManyRequests, "rate_limited"
		case graph.IsRetryable(se.Status):
			return http.StatusBadGateway, "provider_unavailable"
		}
	}
	return http.StatusBadGateway, "send_error"
}

// ListTransportLogs returns recent delivery log entries for a config
func (h *Handler) ListTransportLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.apiLogRepo.List(r.Context(), id, limit)
	if err != nil {
		h.log.Error().Err(err).Str("config_id", id).Msg("failed to list api logs")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list logs")
		return
	}
	if logs == nil {
		logs = []*model.APILog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// ClearTransportLogs removes all log entries for a config
func (h *Handler) ClearTransportLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := h.apiLogRepo.Clear(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("config_id", id).Msg("failed to clear api logs")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *Handler) loadTransport(w http.ResponseWriter, r *http.Request) (*model.TransportConfig, bool) {
	id := r.PathValue("id")
	cfg, err := h.transportRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "transport configuration not found")
		} else {
			h.log.Error().Err(err).Str("config_id", id).Msg("failed to load transport config")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load transport config")
		}
		return nil, false
	}
	return cfg, true
}
