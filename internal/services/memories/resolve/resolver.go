// Package resolve exchanges source references for concrete download URLs
package resolve

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
)

// maxBody caps how much of an exchange response we are willing to read;
// a direct URL fits comfortably
const maxBody = 8 * 1024

// HTTP resolves token references by POSTing to the exchange endpoint; the
// response body, trimmed, is the short-lived direct URL.
// Concurrent resolutions of the same descriptor id are collapsed into one
// in-flight exchange
type HTTP struct {
	Client *http.Client
	TTL    time.Duration // assumed lifetime of exchanged URLs; <=0 -> 5m

	mu       sync.Mutex
	inflight map[string]*call

	// now is a test seam
	now func() time.Time
}

type call struct {
	done chan struct{}
	ra   domain.ResolvedAsset
	err  error
}

// New constructs a resolver with the given client and URL lifetime
func New(client *http.Client, ttl time.Duration) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HTTP{
		Client:   client,
		TTL:      ttl,
		inflight: make(map[string]*call),
		now:      time.Now,
	}
}

// Resolve implements domain.ResolverPort. Direct references pass through with
// an unbounded expiry; token references go through the exchange
func (r *HTTP) Resolve(ctx context.Context, d domain.AssetDescriptor) (domain.ResolvedAsset, error) {
	if d.Ref == domain.RefDirect {
		return domain.ResolvedAsset{Descriptor: d, URL: d.SourceRef}, nil
	}

	r.mu.Lock()
	if c, ok := r.inflight[d.ID]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			return c.ra, c.err
		case <-ctx.Done():
			return domain.ResolvedAsset{}, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	r.inflight[d.ID] = c
	r.mu.Unlock()

	c.ra, c.err = r.exchange(ctx, d)
	close(c.done)

	r.mu.Lock()
	delete(r.inflight, d.ID)
	r.mu.Unlock()

	return c.ra, c.err
}

// exchange performs one POST against the token endpoint
func (r *HTTP) exchange(ctx context.Context, d domain.AssetDescriptor) (domain.ResolvedAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.SourceRef, nil)
	if err != nil {
		return domain.ResolvedAsset{}, perr.Wrapf(err, perr.ErrorCodeResolutionExhausted, "bad exchange endpoint for %s", d.ID)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return domain.ResolvedAsset{}, perr.Wrapf(err, perr.ErrorCodeResolution, "exchange request for %s", d.ID)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to body handling
	case perr.TransientStatus(resp.StatusCode):
		return domain.ResolvedAsset{}, perr.Newf(perr.ErrorCodeResolution, "exchange for %s: status %d", d.ID, resp.StatusCode)
	default:
		return domain.ResolvedAsset{}, perr.Newf(perr.ErrorCodeResolutionExhausted, "exchange for %s: status %d", d.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.ResolvedAsset{}, perr.Wrapf(err, perr.ErrorCodeResolution, "reading exchange response for %s", d.ID)
	}
	direct := strings.TrimSpace(string(body))
	if u, uerr := url.Parse(direct); uerr != nil || !u.IsAbs() {
		return domain.ResolvedAsset{}, perr.Newf(perr.ErrorCodeResolutionExhausted, "exchange for %s returned a non-URL body", d.ID)
	}

	return domain.ResolvedAsset{
		Descriptor: d,
		URL:        direct,
		ExpiresAt:  r.now().Add(r.TTL),
	}, nil
}
