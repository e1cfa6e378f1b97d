package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatepass.org/internal/directory"
)

type registerAccountRequest struct {
	ExternalIdentity string `json:"external_identity"`
	FullName         string `json:"full_name"`
	PhoneNumber      string `json:"phone_number"`
	Apartment        string `json:"apartment"`
}

type blockAccountRequest struct {
	Reason string `json:"reason"`
	Until  string `json:"until"`
}

type reassignRoleRequest struct {
	Role string `json:"role"`
}

type accountResponse struct {
	ID               string     `json:"id"`
	ExternalIdentity string     `json:"external_identity"`
	FullName         string     `json:"full_name"`
	PhoneNumber      string     `json:"phone_number"`
	Apartment        string     `json:"apartment"`
	Role             string     `json:"role"`
	Status           string     `json:"status"`
	EffectiveStatus  string     `json:"effective_status"`
	BlockedUntil     *time.Time `json:"blocked_until,omitempty"`
	BlockReason      string     `json:"block_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func accountToResponse(acc directory.Account, effective directory.Status) accountResponse {
	return accountResponse{
		ID:               acc.ID,
		ExternalIdentity: acc.ExternalIdentity,
		FullName:         acc.FullName,
		PhoneNumber:      acc.PhoneNumber,
		Apartment:        acc.Apartment,
		Role:             string(acc.Role),
		Status:           string(acc.Status),
		EffectiveStatus:  string(effective),
		BlockedUntil:     acc.BlockedUntil,
		BlockReason:      acc.BlockReason,
		CreatedAt:        acc.CreatedAt,
		UpdatedAt:        acc.UpdatedAt,
	}
}

func (a *API) writeAccount(w http.ResponseWriter, r *http.Request, code int, acc directory.Account) {
	writeJSON(w, code, accountToResponse(acc, directory.Effective(acc, time.Now().UTC())))
}

// POST /v1/accounts       — self-registration
// GET  /v1/accounts?status=pending — moderation queue
func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.registerAccount(w, r)
	case http.MethodGet:
		a.listPendingAccounts(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) registerAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc, err := a.facade.RegisterAccount(r.Context(), req.ExternalIdentity, req.FullName, req.PhoneNumber, req.Apartment)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusCreated, acc)
}

func (a *API) listPendingAccounts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != string(directory.StatusPending) {
		respondError(w, r, http.StatusBadRequest, "only status=pending listing is supported")
		return
	}
	accs, err := a.facade.PendingAccounts(r.Context(), actorID(r))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accs))
	now := time.Now().UTC()
	for _, acc := range accs {
		out = append(out, accountToResponse(acc, directory.Effective(acc, now)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// /v1/accounts/{id}[/approve|/reject|/block|/unblock|/role|/audit|/passes]
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
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
		a.getAccount(w, r, id)
	case "approve":
		a.decideAccount(w, r, id, directory.DecisionApprove)
	case "reject":
		a.decideAccount(w, r, id, directory.DecisionReject)
	case "block":
		a.blockAccount(w, r, id)
	case "unblock":
		a.unblockAccount(w, r, id)
	case "role":
		a.reassignRole(w, r, id)
	case "audit":
		a.accountAudit(w, r, id)
	case "passes":
		a.accountPasses(w, r, id)
	default:
		respondError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	acc, err := a.facade.Account(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusOK, acc)
}

func (a *API) decideAccount(w http.ResponseWriter, r *http.Request, id string, d directory.Decision) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	acc, err := a.facade.DecideAccount(r.Context(), actorID(r), id, d)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusOK, acc)
}

func (a *API) blockAccount(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req blockAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	until, err := parseRFC3339(req.Until)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.facade.BlockAccount(r.Context(), actorID(r), id, req.Reason, until)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusOK, acc)
}

func (a *API) unblockAccount(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	acc, err := a.facade.UnblockAccount(r.Context(), actorID(r), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusOK, acc)
}

func (a *API) reassignRole(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req reassignRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acc, err := a.facade.ReassignRole(r.Context(), actorID(r), id, directory.Role(req.Role))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	a.writeAccount(w, r, http.StatusOK, acc)
}

func (a *API) accountAudit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	afterID := queryInt64(r, "after_id", 0)
	limit := queryInt(r, "limit", 50)
	events, err := a.facade.AuditByTarget(r.Context(), actorID(r), "account", id, afterID, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) accountPasses(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.facade.ListOwnerPasses(r.Context(), actorID(r), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": list})
}
