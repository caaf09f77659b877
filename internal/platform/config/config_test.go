package config

import (
	"testing"
	"time"

	"snapvault/internal/platform/testkit"
)

func TestPrefixComposition(t *testing.T) {
	t.Setenv("CORE_MEMORIES_WORKERS", "8")

	cfg := New().Prefix("CORE_").Prefix("MEMORIES_")
	if got := cfg.MayInt("WORKERS", 4); got != 8 {
		t.Fatalf("WORKERS = %d, want 8", got)
	}
}

func TestMustString(t *testing.T) {
	t.Setenv("CORE_WEBDAV_USER", "alice")

	cfg := New().Prefix("CORE_WEBDAV_")
	if got := cfg.MustString("USER"); got != "alice" {
		t.Fatalf("USER = %q", got)
	}
	testkit.MustPanic(t, func() { cfg.MustString("MISSING") })
}

func TestMustURL(t *testing.T) {
	t.Setenv("CORE_WEBDAV_URL", "https://dav.example.com/remote.php/dav")
	t.Setenv("CORE_WEBDAV_BAD", "not a url")

	cfg := New().Prefix("CORE_WEBDAV_")
	if got := cfg.MustURL("URL").Host; got != "dav.example.com" {
		t.Fatalf("host = %q", got)
	}
	testkit.MustPanic(t, func() { cfg.MustURL("BAD") })
}

func TestMustPort(t *testing.T) {
	t.Setenv("CTL_PORT_OK", "4600")
	t.Setenv("CTL_PORT_BAD", "99999")

	cfg := New()
	if got := cfg.MustPort("CTL_PORT_OK"); got != ":4600" {
		t.Fatalf("addr = %q", got)
	}
	testkit.MustPanic(t, func() { cfg.MustPort("CTL_PORT_BAD") })
}

func TestRequire(t *testing.T) {
	t.Setenv("CORE_WEBDAV_URL", "https://dav.example.com")
	t.Setenv("CORE_WEBDAV_USER", "alice")

	cfg := New().Prefix("CORE_WEBDAV_")
	testkit.MustNotPanic(t, func() { cfg.Require("URL", "USER") })
	testkit.MustPanic(t, func() { cfg.Require("URL", "USER", "PASS") })
}

func TestMayDefaults(t *testing.T) {
	cfg := New().Prefix("CORE_MEMORIES_")
	if got := cfg.MayInt("WORKERS", 4); got != 4 {
		t.Fatalf("MayInt default = %d", got)
	}
	if got := cfg.MayBool("ABORT_ON_AUTH", true); !got {
		t.Fatal("MayBool default lost")
	}
	if got := cfg.MayDuration("RETRY_BASE", 500*time.Millisecond); got != 500*time.Millisecond {
		t.Fatalf("MayDuration default = %v", got)
	}
	if got := cfg.MayString("UPLOAD_MODE", "off"); got != "off" {
		t.Fatalf("MayString default = %q", got)
	}
}

func TestMayInvalidFallsBack(t *testing.T) {
	t.Setenv("CORE_MEMORIES_WORKERS", "many")
	t.Setenv("CORE_MEMORIES_ABORT_ON_AUTH", "yep")
	t.Setenv("CORE_MEMORIES_RETRY_BASE", "soon")

	cfg := New().Prefix("CORE_MEMORIES_")
	if got := cfg.MayInt("WORKERS", 4); got != 4 {
		t.Fatalf("MayInt fallback = %d", got)
	}
	if got := cfg.MayBool("ABORT_ON_AUTH", true); !got {
		t.Fatal("MayBool fallback lost")
	}
	if got := cfg.MayDuration("RETRY_BASE", 500*time.Millisecond); got != 500*time.Millisecond {
		t.Fatalf("MayDuration fallback = %v", got)
	}
}

func TestMayEnum(t *testing.T) {
	t.Setenv("CORE_MEMORIES_UPLOAD_MODE", "ZIP")
	t.Setenv("CORE_MEMORIES_OVERWRITE", "sideways")

	cfg := New().Prefix("CORE_MEMORIES_")
	if got := cfg.MayEnum("UPLOAD_MODE", "off", "off", "files", "zip"); got != "zip" {
		t.Fatalf("MayEnum = %q, want lowercase zip", got)
	}
	if got := cfg.MayEnum("MISSING", "skip", "skip", "replace"); got != "skip" {
		t.Fatalf("MayEnum default = %q", got)
	}
	testkit.MustPanic(t, func() { cfg.MayEnum("OVERWRITE", "skip", "skip", "replace") })
}
