package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type issuePassRequest struct {
	CarNumber string `json:"car_number"`
}

// POST /v1/passes            — issue for the authenticated resident
// GET  /v1/passes?car=...    — search by plate fragment (security/admin)
func (a *API) handlePassesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issuePass(w, r)
	case http.MethodGet:
		a.searchPasses(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) issuePass(w http.ResponseWriter, r *http.Request) {
	var req issuePassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := a.facade.IssuePass(r.Context(), actorID(r), req.CarNumber)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) searchPasses(w http.ResponseWriter, r *http.Request) {
	fragment := r.URL.Query().Get("car")
	if fragment == "" {
		respondError(w, r, http.StatusBadRequest, "query parameter car is required")
		return
	}
	limit := queryInt(r, "limit", 0)
	list, err := a.facade.SearchPasses(r.Context(), actorID(r), fragment, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": list})
}

// /v1/passes/{id}[/use|/cancel|/audit]
func (a *API) handlePassResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/passes/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPass(w, r, id)
	case "use":
		a.markPassUsed(w, r, id)
	case "cancel":
		a.cancelPass(w, r, id)
	case "audit":
		a.passAudit(w, r, id)
	default:
		respondError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) getPass(w http.ResponseWriter, r *http.Request, id string) {
	p, err := a.facade.Pass(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) markPassUsed(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, err := a.facade.MarkPassUsed(r.Context(), actorID(r), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) cancelPass(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, err := a.facade.CancelPass(r.Context(), actorID(r), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) passAudit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	afterID := queryInt64(r, "after_id", 0)
	limit := queryInt(r, "limit", 50)
	events, err := a.facade.AuditByTarget(r.Context(), actorID(r), "pass", id, afterID, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GET /v1/audit?actor=...&since=...&after_id=...&limit=...
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject := r.URL.Query().Get("actor")
	if subject == "" {
		respondError(w, r, http.StatusBadRequest, "query parameter actor is required")
		return
	}
	since, err := parseRFC3339(r.URL.Query().Get("since"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if since.IsZero() {
		since = time.Now().UTC().Add(-24 * time.Hour)
	}
	afterID := queryInt64(r, "after_id", 0)
	limit := queryInt(r, "limit", 100)
	events, err := a.facade.AuditByActor(r.Context(), actorID(r), subject, since, afterID, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
