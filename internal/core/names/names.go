// Package names derives deterministic, filesystem-safe file names for
// committed assets
// Pipeline order
// 1 Unicode NFKD decomposition
// 2 Remove combining marks and format chars (ZWJ ZWNJ FEFF etc)
// 3 Width fold fullwidth to ASCII, recompose NFC
// 4 Replace reserved and control characters with underscore
// 5 Collapse repeats, trim leading/trailing separators, cap length
package names

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const maxStem = 120

// reserved covers Windows and POSIX-hostile filename characters
const reserved = `<>:"/\|?*`

// pool of fresh transformer chains
var chainPool = sync.Pool{
	New: func() any {
		// order matters and mirrors the documented pipeline
		return transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)), // strip combining marks
			runes.Remove(runes.In(unicode.Cf)), // strip format chars
			width.Fold,                         // map fullwidth forms to ASCII
			norm.NFC,
		)
	},
}

// Sanitize returns a filesystem-safe rendition of s following the pipeline above
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	ns, _, _ := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)

	var b strings.Builder
	b.Grow(len(ns))
	prevUnderscore := false
	for _, r := range ns {
		if r < 0x20 || strings.ContainsRune(reserved, r) || unicode.IsSpace(r) {
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
			continue
		}
		b.WriteRune(r)
		prevUnderscore = false
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > maxStem {
		// back up to a rune start so the cap never splits a multi-byte rune
		cut := maxStem
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// Ext maps a media kind string (image|video) to a file extension
func Ext(kind string) string {
	switch strings.ToLower(kind) {
	case "image":
		return ".jpg"
	case "video":
		return ".mp4"
	default:
		return ".bin"
	}
}

// File builds the deterministic committed name <timestamp>_<id><ext>
// Timestamps render in UTC so re-runs on other machines agree
func File(capturedAt time.Time, id, kind string) string {
	ts := capturedAt.UTC().Format("2006-01-02_150405")
	stem := Sanitize(id)
	if stem == "" {
		stem = "asset"
	}
	return ts + "_" + stem + Ext(kind)
}

// YearDir returns the year bucket the asset commits under
func YearDir(capturedAt time.Time) string {
	return capturedAt.UTC().Format("2006")
}
