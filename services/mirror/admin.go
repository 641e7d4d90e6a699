package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Phase names where a run currently is, for the status endpoint.
type Phase string

const (
	PhaseScanning Phase = "scanning"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// RunStatus is the live view served on /api/v1/status.
type RunStatus struct {
	RunID    string            `json:"run_id"`
	Phase    Phase             `json:"phase"`
	Started  time.Time         `json:"started"`
	Outcomes map[Outcome]int64 `json:"outcomes"`
}

// adminServer exposes health, metrics and run status for the duration of a
// sync. It only exists when an admin address is configured; a plain CLI run
// carries no listener at all.
type adminServer struct {
	server *http.Server
	logger *log.Logger
}

func newAdminServer(addr string, status func() RunStatus, reg *prometheus.Registry, logger *log.Logger) *adminServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// The listener only exists while a run is live, so readiness is
	// unconditional.
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, status())
	})

	return &adminServer{
		server: &http.Server{Addr: addr, Handler: r},
		logger: logger,
	}
}

// run serves until ctx is cancelled, then shuts down gracefully. Listener
// failures are logged, not fatal; the sync itself does not depend on the
// admin surface.
func (a *adminServer) run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("WARN admin shutdown: %v", err)
		}
	}()

	a.logger.Printf("INFO admin listening on %s", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Printf("WARN admin server: %v", err)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
