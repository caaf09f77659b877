package module

import (
	"time"

	"snapvault/internal/platform/config"
	"snapvault/internal/services/memories/guardrails"
	"snapvault/internal/services/memories/service"
	"snapvault/internal/services/memories/webdav"
)

// Options carries the module tuning, normally read from the environment
type Options struct {
	Workers     int
	Retry       guardrails.Policy
	Timeouts    guardrails.Timeouts
	ResolveTTL  time.Duration
	UploadMode  service.UploadMode
	AbortOnAuth bool

	// WebDAV is nil when no remote is configured
	WebDAV *webdav.Config
}

// FromConfig reads CORE_MEMORIES_* and CORE_WEBDAV_* keys
func FromConfig(cfg config.Conf) Options {
	mc := cfg.Prefix("MEMORIES_")
	opts := Options{
		Workers: mc.MayInt("WORKERS", 4),
		Retry: guardrails.Policy{
			MaxAttempts: mc.MayInt("RETRIES", 3),
			Base:        mc.MayDuration("RETRY_BASE", 500*time.Millisecond),
			Cap:         mc.MayDuration("RETRY_CAP", 30*time.Second),
		},
		Timeouts: guardrails.Timeouts{
			Resolve: mc.MayDuration("RESOLVE_TIMEOUT", 30*time.Second),
			Fetch:   mc.MayDuration("FETCH_TIMEOUT", 5*time.Minute),
			Upload:  mc.MayDuration("UPLOAD_TIMEOUT", 5*time.Minute),
		},
		ResolveTTL:  mc.MayDuration("RESOLVE_TTL", 5*time.Minute),
		UploadMode:  service.UploadMode(mc.MayEnum("UPLOAD_MODE", "off", "off", "files", "zip")),
		AbortOnAuth: mc.MayBool("ABORT_ON_AUTH", true),
	}

	wc := cfg.Prefix("WEBDAV_")
	if opts.UploadMode != service.UploadOff {
		wc.Require("URL", "USER", "PASS")
		opts.WebDAV = &webdav.Config{
			URL:       wc.MustURL("URL").String(),
			User:      wc.MustString("USER"),
			Pass:      wc.MustString("PASS"),
			Root:      wc.MayString("ROOT", "snapvault"),
			Overwrite: webdav.OverwritePolicy(mc.MayEnum("OVERWRITE", "skip", "skip", "replace")),
			Timeout:   opts.Timeouts.Upload,
		}
	}
	return opts
}
