// Package handler wires the HTTP surface: middleware stack, health
// probe, assistant catalogue and the websocket endpoint.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/driftlab/driftchat/internal/handler/assistants"
	"github.com/driftlab/driftchat/internal/handler/ws"
	"github.com/driftlab/driftchat/internal/middleware"
	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/pkg/utils"
)

// Pinger reports backend health. Optional: a nil Pinger is treated as
// healthy (the in-memory fallbacks have nothing to probe).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps collects what the router mounts.
type Deps struct {
	WS         *ws.Handler
	Assistants assistant.Store
	Cache      Pinger
	Store      Pinger
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", healthHandler(d.Cache, d.Store))

	r.Route("/api", func(api chi.Router) {
		assistants.New(d.Assistants).RegisterRoutes(api)
		d.WS.RegisterRoutes(api)
	})

	return r
}

// healthHandler probes the configured backends. Degraded backends turn
// the probe red so orchestration stops routing here.
func healthHandler(cache, store Pinger) http.HandlerFunc {
	probe := func(ctx context.Context, p Pinger) string {
		if p == nil {
			return "in-memory"
		}
		if err := p.Ping(ctx); err != nil {
			return "unreachable"
		}
		return "ok"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		cacheStatus := probe(ctx, cache)
		storeStatus := probe(ctx, store)

		status := http.StatusOK
		overall := "ok"
		if cacheStatus == "unreachable" || storeStatus == "unreachable" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		utils.RespondJSON(w, status, map[string]string{
			"status": overall,
			"cache":  cacheStatus,
			"store":  storeStatus,
		})
	}
}
