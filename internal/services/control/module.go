// Package control exposes the run lifecycle over HTTP for local frontends
package control

import (
	"github.com/go-chi/chi/v5"

	"snapvault/internal/modkit"
	"snapvault/internal/services/memories/domain"
)

// Module mounts the /v1 run API on top of the memories ports
type Module struct {
	h *handlers
}

// New wires the control surface to a runner and its event stream
func New(deps modkit.Deps, runner domain.RunnerPort, ev domain.EventsPort) *Module {
	return &Module{h: &handlers{runner: runner, events: ev, log: deps.Log}}
}

// MountRoutes implements modkit.Module
func (m *Module) MountRoutes(r chi.Router) {
	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", m.h.startRun)
		r.Get("/{runID}", m.h.getRun)
		r.Post("/{runID}/cancel", m.h.cancelRun)
		r.Get("/{runID}/events", m.h.streamEvents)
	})
}

// Ports implements modkit.Module; control exposes nothing to other modules
func (m *Module) Ports() any { return nil }

// Name implements modkit.Module
func (m *Module) Name() string { return "control" }
