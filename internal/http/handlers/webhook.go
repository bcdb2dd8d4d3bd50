package handlers

import (
	"crypto/subtle"
	"net/http"
)

// VerifyWebhook answers the gateway's endpoint-verification probe: when the
// shared verify token matches, the probe's challenge is echoed back verbatim.
func (api *API) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := query.Get("verify_token")
	challenge := query.Get("challenge")

	if api.verifyToken == "" || challenge == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "challenge and verify_token are required")
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(api.verifyToken)) != 1 {
		writeError(w, r, http.StatusForbidden, "forbidden", "verify token mismatch")
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}
