// Package fetch streams resolved asset URLs to temp files on disk
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
)

// HTTP downloads assets into <stagingDir>/<id>.part files. A fetch that
// fails for any reason removes its partial file before returning
type HTTP struct {
	Client *http.Client
}

// New constructs a fetcher around the given client
func New(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{Client: client}
}

// Fetch implements domain.FetchPort
func (f *HTTP) Fetch(ctx context.Context, ra domain.ResolvedAsset, stagingDir string) (string, error) {
	id := ra.Descriptor.ID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ra.URL, nil)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeFetchTerminal, "bad download URL for %s", id)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeFetch, "download request for %s", id)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case perr.TransientStatus(resp.StatusCode):
		return "", perr.Newf(perr.ErrorCodeFetch, "download for %s: status %d", id, resp.StatusCode)
	default:
		return "", perr.Newf(perr.ErrorCodeFetchTerminal, "download for %s: status %d", id, resp.StatusCode)
	}

	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", perr.Storagef("creating staging dir: %v", err)
	}
	tmpPath := filepath.Join(stagingDir, fmt.Sprintf("%s.part", id))
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", perr.Storagef("creating temp file for %s: %v", id, err)
	}

	n, err := io.Copy(tmp, resp.Body)
	cerr := tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", perr.Wrapf(err, perr.ErrorCodeFetch, "streaming body for %s", id)
	}
	if cerr != nil {
		_ = os.Remove(tmpPath)
		return "", perr.Storagef("closing temp file for %s: %v", id, cerr)
	}
	if want := resp.ContentLength; want >= 0 && n != want {
		_ = os.Remove(tmpPath)
		return "", perr.Newf(perr.ErrorCodeFetch, "short body for %s: got %d bytes, want %d", id, n, want)
	}
	return tmpPath, nil
}
