package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatepass.org/internal/lifecycle"
	"gatepass.org/internal/obs"
	"gatepass.org/internal/stream"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the thin JSON shell over the lifecycle facade.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	facade     *lifecycle.Facade
	stream     *stream.Hub
	version    string

	// per-IP token bucket in front of everything
	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, facade *lifecycle.Facade, hub *stream.Hub) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		facade:     facade,
		stream:     hub,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.healthz)
	a.mux.HandleFunc("/readyz", a.ready)
	a.mux.HandleFunc("/version", a.versionInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/passes", a.handlePassesCollection)
	a.mux.HandleFunc("/v1/passes/", a.handlePassResource)
	a.mux.HandleFunc("/v1/audit", a.handleAuditQuery)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetRateLimit overrides the per-IP bucket (tests loosen it).
func (a *API) SetRateLimit(burst, perSec int) {
	a.rateBurst = burst
	a.ratePerSec = perSec
}

// Handler возвращает готовую цепочку middleware вокруг mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gatepass-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gatepass-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
