// Package modkit carries the small shared surface modules are built from
package modkit

import (
	"github.com/go-chi/chi/v5"

	"snapvault/internal/platform/config"
	"snapvault/internal/platform/logger"
)

// Deps bundles shared dependencies handed to every module constructor
type Deps struct {
	Cfg config.Conf
	Log logger.Logger
}

// Module is the common surface for modules that can mount routes and expose ports
// keep this tiny so modules stay decoupled
type Module interface {
	// MountRoutes mounts HTTP routes on the provided router; no-op for headless modules
	MountRoutes(r chi.Router)

	// Ports returns a module specific port set for cross wiring
	Ports() any

	// Name returns the module name
	Name() string
}
