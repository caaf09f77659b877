// Command snapvaultd serves the run control API for local frontends
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"snapvault/internal/modkit"
	"snapvault/internal/platform/config"
	"snapvault/internal/platform/logger"
	httpkit "snapvault/internal/platform/net/http"
	"snapvault/internal/platform/validate"
	"snapvault/internal/services/control"
	memmod "snapvault/internal/services/memories/module"
)

func main() {
	logger.Init(logger.FromEnv())
	log := logger.Named("daemon")
	validate.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := config.New()
	core := root.Prefix("CORE_")

	memories := memmod.New(modkit.Deps{Cfg: core, Log: *log}, memmod.FromConfig(core))
	ports := memories.Ports().(memmod.Ports)
	ctl := control.New(modkit.Deps{Cfg: root, Log: *log}, ports.Runner, ports.Events)

	origins := strings.Split(root.MayString("CTL_CORS_ORIGINS", "http://localhost:*"), ",")
	srv := httpkit.NewServer(root, httpkit.WithCORS(origins))
	for _, m := range []modkit.Module{memories, ctl} {
		m.MountRoutes(srv.Mux())
		log.Info().Str("module", m.Name()).Msg("module mounted")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server exited")
			os.Exit(1)
		}
	}
}
