package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mailgraph/mailgraph/internal/service"
)

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// StartAuthorization redirects the operator's browser to the Microsoft
// authorize endpoint for the transport config in the path.
func (h *Handler) StartAuthorization(w http.ResponseWriter, r *http.Request) {
	configID := r.PathValue("id")
	if configID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "config id is required")
		return
	}

	authURL, err := h.oauthSvc.StartAuthorization(r.Context(), configID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConfigNotFound):
			writeError(w, http.StatusNotFound, "not_found", "transport configuration not found")
		case errors.Is(err, service.ErrIncompleteConfig):
			writeError(w, http.StatusBadRequest, "incomplete_config", "client id, client secret and tenant id must be set first")
		default:
			h.log.Error().Err(err).Str("config_id", configID).Msg("failed to start authorization")
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to start authorization")
		}
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// AuthorizationCallback receives the provider redirect, finishes the code
// exchange and reports the outcome as plain JSON the operator can read in
// the browser.
func (h *Handler) AuthorizationCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	cfg, err := h.oauthSvc.HandleCallback(r.Context(), params)
	if err != nil {
		var provErr *service.ProviderError
		switch {
		case errors.As(err, &provErr):
			// Surface the provider's own error text so the operator sees
			// exactly what Azure rejected.
			writeError(w, http.StatusBadRequest, provErr.Code, provErr.Error())
		case errors.Is(err, service.ErrConfigNotFound):
			writeError(w, http.StatusNotFound, "not_found", "transport configuration not found")
		case errors.Is(err, service.ErrMissingState), errors.Is(err, service.ErrMissingAuthCode):
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.log.Error().Err(err).Msg("authorization callback failed")
			writeError(w, http.StatusInternalServerError, "exchange_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "authorized",
		"config_id":    cfg.ID,
		"sender_email": cfg.SenderEmail,
		"token_expiry": cfg.TokenExpiry,
	})
}
