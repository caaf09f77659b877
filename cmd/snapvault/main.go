// Command snapvault runs one manifest-to-archive transfer from the terminal.
// Remote credentials come from CORE_WEBDAV_* environment variables, never
// from flags
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snapvault/internal/modkit"
	"snapvault/internal/platform/config"
	perr "snapvault/internal/platform/errors"
	"snapvault/internal/platform/logger"
	"snapvault/internal/platform/validate"
	"snapvault/internal/services/memories/domain"
	memmod "snapvault/internal/services/memories/module"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		manifestPath = flag.String("manifest", "", "path to the export manifest JSON")
		destRoot     = flag.String("dest", "", "destination directory for the archive")
		upload       = flag.Bool("upload", false, "mirror committed assets to the configured WebDAV share")
	)
	flag.Parse()

	logger.Init(logger.FromEnv())
	log := logger.Named("cli")
	validate.Init()

	if *manifestPath == "" || *destRoot == "" {
		fmt.Fprintln(os.Stderr, "usage: snapvault -manifest <file> -dest <dir> [-upload]")
		flag.PrintDefaults()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.New().Prefix("CORE_")
	mod := memmod.New(modkit.Deps{Cfg: cfg, Log: *log}, memmod.FromConfig(cfg))
	ports := mod.Ports().(memmod.Ports)

	ch, cancelSub := ports.Events.Subscribe(256)
	defer cancelSub()
	go func() {
		for ev := range ch {
			switch ev.Type {
			case domain.EventLog:
				if msg, ok := ev.Payload.(string); ok {
					log.Info().Msg(msg)
				}
			case domain.EventError:
				if res, ok := ev.Payload.(domain.TransferResult); ok {
					log.Warn().Str("asset_id", res.ID).Str("error", res.Error).Msg("asset failed")
				}
			}
		}
	}()

	state, err := ports.Runner.Run(ctx, domain.RunRequest{
		ManifestPath: *manifestPath,
		DestRoot:     *destRoot,
		Upload:       *upload,
	})
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeManifest) {
			log.Error().Err(err).Msg("manifest rejected")
		} else {
			log.Error().Err(err).Msg("run could not start")
		}
		return 1
	}

	log.Info().
		Str("phase", string(state.Phase)).
		Int("total", state.Total).
		Int("succeeded", state.Succeeded).
		Int("duplicates", state.Duplicates).
		Int("failed", state.Failed).
		Int("malformed", state.Malformed).
		Msg("transfer finished")

	switch {
	case state.Phase == domain.PhaseCancelled:
		return 130
	case state.Phase == domain.PhaseFailed:
		return 1
	case state.Failed > 0:
		return 1
	}
	return 0
}
