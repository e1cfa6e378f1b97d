package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/directory"
)

type tokenRequest struct {
	ExternalIdentity string `json:"external_identity"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	AccountID string    `json:"account_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// handleAuthToken exchanges a verified messaging identity for a bearer
// token. The identity is authenticated by the chat gateway upstream;
// this endpoint only refuses accounts that cannot act right now.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity := strings.TrimSpace(req.ExternalIdentity)
	if identity == "" {
		respondError(w, r, http.StatusBadRequest, "external_identity is required")
		return
	}

	acc, err := a.facade.AccountByIdentity(r.Context(), identity)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	effective := directory.Effective(acc, time.Now().UTC())
	if effective != directory.StatusApproved {
		respondError(w, r, http.StatusForbidden, "account is not approved")
		return
	}

	token, err := auth.GenerateToken(acc.ID, string(acc.Role), tokenTTL)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		AccountID: acc.ID,
		Role:      string(acc.Role),
		ExpiresAt: time.Now().UTC().Add(tokenTTL),
	})
}
