// Package webdav mirrors committed assets to a WebDAV share
package webdav

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	perr "snapvault/internal/platform/errors"
)

// OverwritePolicy controls what happens when the remote already has a file
// at the target path
type OverwritePolicy string

const (
	// OverwriteSkip leaves existing remote files alone when sizes match
	OverwriteSkip OverwritePolicy = "skip"
	// OverwriteReplace always re-uploads
	OverwriteReplace OverwritePolicy = "replace"
)

// Config carries the remote endpoint and credentials
type Config struct {
	URL       string
	User      string
	Pass      string
	Root      string
	Overwrite OverwritePolicy
	Timeout   time.Duration
}

// Client implements domain.UploadPort on top of gowebdav
type Client struct {
	dav       *gowebdav.Client
	root      string
	overwrite OverwritePolicy
}

// New dials nothing; connectivity is checked by EnsureRoot
func New(cfg Config) *Client {
	dav := gowebdav.NewClient(cfg.URL, cfg.User, cfg.Pass)
	if cfg.Timeout > 0 {
		dav.SetTimeout(cfg.Timeout)
	}
	root := strings.Trim(cfg.Root, "/")
	if root == "" {
		root = "snapvault"
	}
	ow := cfg.Overwrite
	if ow == "" {
		ow = OverwriteSkip
	}
	return &Client{dav: dav, root: root, overwrite: ow}
}

// EnsureRoot verifies credentials and creates the remote root if absent
func (c *Client) EnsureRoot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return perr.Cancelledf("webdav connect: %v", err)
	}
	if err := c.dav.Connect(); err != nil {
		return classify(err, "connecting to webdav")
	}
	if err := c.dav.MkdirAll("/"+c.root, 0o755); err != nil {
		return classify(err, "creating remote root")
	}
	return nil
}

// Upload mirrors local to <root>/<rel> on the share. With OverwriteSkip a
// remote file of identical size is left in place
func (c *Client) Upload(ctx context.Context, local, rel string) error {
	if err := ctx.Err(); err != nil {
		return perr.Cancelledf("upload of %s: %v", rel, err)
	}
	remote := path.Join("/", c.root, path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")))

	info, err := os.Stat(local)
	if err != nil {
		return perr.Storagef("stat %s: %v", local, err)
	}
	if c.overwrite == OverwriteSkip {
		if ri, err := c.dav.Stat(remote); err == nil && ri.Size() == info.Size() {
			return nil
		}
	}

	if dir := path.Dir(remote); dir != "/" {
		if err := c.dav.MkdirAll(dir, 0o755); err != nil {
			return classify(err, "creating remote dir "+dir)
		}
	}

	f, err := os.Open(local)
	if err != nil {
		return perr.Storagef("opening %s: %v", local, err)
	}
	defer func() { _ = f.Close() }()

	if err := c.dav.WriteStream(remote, f, 0o644); err != nil {
		return classify(err, "uploading "+rel)
	}
	return nil
}

// classify maps webdav failures to the retry taxonomy. gowebdav folds HTTP
// statuses into error strings, so auth detection is textual
func classify(err error, op string) error {
	msg := err.Error()
	if strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(strings.ToLower(msg), "unauthorized") ||
		strings.Contains(strings.ToLower(msg), "forbidden") {
		return perr.UploadAuthf("%s: %v", op, err)
	}
	return perr.Wrapf(err, perr.ErrorCodeUpload, "%s", op)
}
