// Package module assembles the memories pipeline behind the modkit surface
package module

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"snapvault/internal/modkit"
	"snapvault/internal/services/memories/domain"
	"snapvault/internal/services/memories/events"
	"snapvault/internal/services/memories/fetch"
	"snapvault/internal/services/memories/manifest"
	"snapvault/internal/services/memories/resolve"
	"snapvault/internal/services/memories/service"
	"snapvault/internal/services/memories/store"
	"snapvault/internal/services/memories/webdav"
)

// Ports is the cross-module wiring surface
type Ports struct {
	Runner domain.RunnerPort
	Events domain.EventsPort
}

// Module owns the assembled pipeline. It is headless; the control module
// mounts the HTTP surface on top of Ports
type Module struct {
	name  string
	ports Ports
}

// New builds the pipeline from options
func New(deps modkit.Deps, opts Options) *Module {
	client := &http.Client{Timeout: 0} // per-stage contexts bound the requests

	var uploader domain.UploadPort
	if opts.WebDAV != nil {
		uploader = webdav.New(*opts.WebDAV)
	}

	svc := service.New(
		service.Config{
			Workers:     opts.Workers,
			Retry:       opts.Retry,
			Timeouts:    opts.Timeouts,
			UploadMode:  opts.UploadMode,
			AbortOnAuth: opts.AbortOnAuth,
		},
		service.Deps{
			Parser:   manifest.New(),
			Resolver: resolve.New(client, opts.ResolveTTL),
			Fetcher:  fetch.New(client),
			Store:    store.New(),
			Uploader: uploader,
			Bus:      events.NewBus(),
			Log:      &deps.Log,
		},
	)

	return &Module{
		name:  "memories",
		ports: Ports{Runner: svc, Events: svc},
	}
}

// MountRoutes implements modkit.Module; the pipeline itself is headless
func (m *Module) MountRoutes(chi.Router) {}

// Ports implements modkit.Module
func (m *Module) Ports() any { return m.ports }

// Name implements modkit.Module
func (m *Module) Name() string { return m.name }
