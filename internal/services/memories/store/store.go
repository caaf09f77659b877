// Package store commits fetched temp files into the destination layout with
// content-hash dedup
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"snapvault/internal/core/names"
	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
)

// metaDirName holds run bookkeeping under the destination root
const metaDirName = ".snapvault"

// Local places committed assets under <destRoot>/<year>/<date>_<id><ext>.
// Identity is the SHA-256 of the file contents; a marker file per identity
// under <destRoot>/.snapvault/identity/ makes dedup survive re-runs
type Local struct {
	// stripes serialize commits that land on the same identity
	stripes [64]sync.Mutex
}

// New constructs a store
func New() *Local { return &Local{} }

// Commit implements domain.StorePort. The temp file is consumed either way:
// renamed into place on first sight of a hash, removed on a duplicate
func (s *Local) Commit(ctx context.Context, tmpPath string, d domain.AssetDescriptor, destRoot string) (domain.CommitResult, error) {
	identity, err := hashFile(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return domain.CommitResult{}, perr.Storagef("hashing %s: %v", d.ID, err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return domain.CommitResult{}, perr.Cancelledf("commit of %s: %v", d.ID, err)
	}

	mu := &s.stripes[stripeFor(identity)]
	mu.Lock()
	defer mu.Unlock()

	markerDir := filepath.Join(destRoot, metaDirName, "identity")
	marker := filepath.Join(markerDir, identity)
	if existing, err := os.ReadFile(marker); err == nil {
		_ = os.Remove(tmpPath)
		return domain.CommitResult{
			Path:      strings.TrimSpace(string(existing)),
			Identity:  identity,
			Duplicate: true,
		}, nil
	} else if !os.IsNotExist(err) {
		_ = os.Remove(tmpPath)
		return domain.CommitResult{}, perr.Storagef("reading identity marker for %s: %v", d.ID, err)
	}

	rel, err := s.placeFile(tmpPath, d, destRoot)
	if err != nil {
		_ = os.Remove(tmpPath)
		return domain.CommitResult{}, err
	}
	if err := writeMarker(markerDir, marker, rel); err != nil {
		return domain.CommitResult{}, perr.Storagef("writing identity marker for %s: %v", d.ID, err)
	}
	return domain.CommitResult{Path: rel, Identity: identity}, nil
}

// placeFile renames the temp file into the year directory, disambiguating
// name collisions from distinct content with a numeric suffix.
// The name is claimed with O_EXCL first so concurrent commits whose ids
// sanitize to the same name cannot overwrite each other.
// Returns the committed path relative to destRoot
func (s *Local) placeFile(tmpPath string, d domain.AssetDescriptor, destRoot string) (string, error) {
	dir := filepath.Join(destRoot, names.YearDir(d.CapturedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", perr.Storagef("creating year dir: %v", err)
	}

	base := names.File(d.CapturedAt, d.ID, string(d.Kind))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		final := filepath.Join(dir, name)
		f, err := os.OpenFile(final, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", perr.Storagef("claiming %s: %v", name, err)
		}
		_ = f.Close()
		if err := os.Rename(tmpPath, final); err != nil {
			_ = os.Remove(final)
			return "", perr.Storagef("committing %s: %v", name, err)
		}
		return filepath.Join(names.YearDir(d.CapturedAt), name), nil
	}
}

// writeMarker records the committed relative path for an identity, written
// atomically so a crashed run never leaves a half marker
func writeMarker(dir, marker, rel string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(rel+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, marker)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func stripeFor(identity string) int {
	// identity is lowercase hex; the first byte spreads well enough
	b, _ := hex.DecodeString(identity[:2])
	if len(b) == 0 {
		return 0
	}
	return int(b[0]) % 64
}
