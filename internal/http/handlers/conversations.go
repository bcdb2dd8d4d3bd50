package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/saathi/saathi-core/internal/conversation"
)

func (api *API) Conversation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	conv, err := api.conversations.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no active conversation")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          conv.UserID,
		"state":            conv.State,
		"intent":           conv.Intent,
		"entities":         conv.Entities,
		"collected_data":   conv.CollectedData,
		"created_at":       conv.CreatedAt,
		"last_activity_at": conv.LastActivityAt,
	})
}

// QuotaStatus reads a user's rate-limit standing without consuming quota.
func (api *API) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	decision, err := api.limiter.Status(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to read quota")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"allowed":   decision.Allowed,
		"remaining": decision.Remaining,
		"reset_at":  decision.ResetAt,
	})
}

func (api *API) GatewayHealth(w http.ResponseWriter, r *http.Request) {
	if api.gateway == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "gateway not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             api.gateway.Status(),
		"reconnect_attempts": api.gateway.ReconnectAttempts(),
	})
}
