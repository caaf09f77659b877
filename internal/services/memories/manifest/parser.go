// Package manifest parses the memories export document into asset descriptors
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/platform/validate"
	"snapvault/internal/services/memories/domain"
)

// savedMediaKey is the wrapper object key some export generations use
const savedMediaKey = "Saved Media"

// rawEntry is one manifest record after field-name folding, before validation
type rawEntry struct {
	Date         string `json:"date" validate:"required"`
	MediaType    string `json:"media_type" validate:"required,oneof=photo video image"`
	DownloadLink string `json:"download_link" validate:"required,url"`
}

// dateLayouts covers the formats observed across export generations
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// directExts marks references that are already a media URL and need no exchange
var directExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".mp4": true, ".mov": true, ".webm": true,
}

// Parser converts raw export documents into ordered descriptors.
// Stateless and safe for concurrent use
type Parser struct{}

// New constructs a Parser
func New() *Parser { return &Parser{} }

// Parse reads the whole document and returns descriptors in document order.
// A document of the wrong shape is a fatal manifest error; malformed
// individual entries are skipped and reported, never fatal
func (p *Parser) Parse(r io.Reader) (domain.Manifest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return domain.Manifest{}, perr.Wrap(err, perr.ErrorCodeManifest, "reading manifest")
	}

	entries, err := topLevel(raw)
	if err != nil {
		return domain.Manifest{}, err
	}

	var m domain.Manifest
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		d, reason := parseEntry(e)
		if reason != "" {
			m.Skipped = append(m.Skipped, domain.SkippedEntry{Index: i, Reason: reason})
			continue
		}
		if seen[d.ID] {
			m.Skipped = append(m.Skipped, domain.SkippedEntry{Index: i, Reason: "duplicate id " + d.ID})
			continue
		}
		seen[d.ID] = true
		m.Assets = append(m.Assets, d)
	}
	return m, nil
}

// topLevel accepts either {"Saved Media": [...]} or a bare array
func topLevel(raw []byte) ([]json.RawMessage, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeManifest, "manifest is neither an array nor an object")
	}
	inner, ok := wrapper[savedMediaKey]
	if !ok {
		return nil, perr.Manifestf("manifest object lacks the %q list", savedMediaKey)
	}
	if err := json.Unmarshal(inner, &entries); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeManifest, savedMediaKey+" is not a list")
	}
	return entries, nil
}

// parseEntry validates one record; returns a non-empty reason when it must be skipped
func parseEntry(raw json.RawMessage) (domain.AssetDescriptor, string) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.AssetDescriptor{}, "entry is not an object"
	}

	e := rawEntry{
		Date:         fold(fields, "Date", "date"),
		MediaType:    strings.ToLower(fold(fields, "Media Type", "media_type")),
		DownloadLink: fold(fields, "Download Link", "download_link"),
	}
	if err := validate.Struct(e); err != nil {
		return domain.AssetDescriptor{}, err.Error()
	}

	at, ok := parseDate(e.Date)
	if !ok {
		return domain.AssetDescriptor{}, "unparseable date " + e.Date
	}

	kind := domain.KindImage
	if e.MediaType == "video" {
		kind = domain.KindVideo
	}

	u, err := url.Parse(e.DownloadLink)
	if err != nil || !u.IsAbs() {
		return domain.AssetDescriptor{}, "download link is not an absolute URL"
	}

	ref := domain.RefToken
	if directExts[strings.ToLower(path.Ext(u.Path))] {
		ref = domain.RefDirect
	}

	return domain.AssetDescriptor{
		ID:         assetID(u),
		Kind:       kind,
		CapturedAt: at,
		SourceRef:  e.DownloadLink,
		Ref:        ref,
	}, ""
}

// fold returns the first present, non-empty string among the candidate keys
func fold(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// parseDate tolerates the trailing " UTC" marker and the known layouts
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(s, " UTC"))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// assetID prefers the export's own id from the link query (mid, then id),
// falling back to a hash of the link so every descriptor has a stable id
func assetID(u *url.URL) string {
	q := u.Query()
	if v := q.Get("mid"); v != "" {
		return v
	}
	if v := q.Get("id"); v != "" {
		return v
	}
	sum := sha256.Sum256([]byte(u.String()))
	return hex.EncodeToString(sum[:8])
}
