package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"gatepass.org/internal/auth"
	"gatepass.org/internal/directory"
	"gatepass.org/internal/lifecycle"
	"gatepass.org/internal/passes"
)

var (
	errMissingToken   = errors.New("missing bearer token")
	errMalformedToken = errors.New("malformed authorization header")
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	respondError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// respondDomainError переводит доменные ошибки в HTTP-статусы.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *lifecycle.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := int(rl.RetryAfter / time.Second)
		if rl.RetryAfter%time.Second != 0 {
			secs++
		}
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       "rate limit exceeded",
			"retry_after": secs,
			"request_id":  RequestIDFromContext(r.Context()),
		})
	case errors.Is(err, lifecycle.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		respondError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, lifecycle.ErrStorageUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, "storage unavailable, retry later")
	case errors.Is(err, directory.ErrDuplicateIdentity):
		respondError(w, r, http.StatusConflict, "identity already registered")
	case errors.Is(err, passes.ErrDuplicatePass):
		respondError(w, r, http.StatusConflict, "active pass for this car already exists")
	case errors.Is(err, passes.ErrAlreadyTerminal):
		respondError(w, r, http.StatusConflict, "pass already in a terminal state")
	case errors.Is(err, directory.ErrConflict), errors.Is(err, passes.ErrConflict):
		respondError(w, r, http.StatusConflict, "state changed concurrently, reload and retry")
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, passes.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, directory.ErrInvalidTransition):
		respondError(w, r, http.StatusUnprocessableEntity, "transition not allowed from current state")
	case errors.Is(err, passes.ErrOwnerNotEligible):
		respondError(w, r, http.StatusUnprocessableEntity, "owner account is not eligible")
	case errors.Is(err, passes.ErrPassLimit):
		respondError(w, r, http.StatusUnprocessableEntity, "active pass limit reached")
	case errors.Is(err, directory.ErrForbidden):
		respondError(w, r, http.StatusForbidden, "operation not permitted for this role")
	case errors.Is(err, directory.ErrInvalidInput), errors.Is(err, passes.ErrInvalidInput):
		respondError(w, r, http.StatusBadRequest, err.Error())
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func actorID(r *http.Request) string {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return ""
	}
	return actor.AccountID
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseRFC3339(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 timestamp: %w", err)
	}
	return t, nil
}
