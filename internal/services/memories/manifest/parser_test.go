package manifest

import (
	"strings"
	"testing"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
)

const wrapped = `{
	"Saved Media": [
		{"Date": "2021-06-03 14:05:09 UTC", "Media Type": "PHOTO", "Download Link": "https://export.example.com/dl?mid=abc123"},
		{"Date": "2021-06-04 09:00:00 UTC", "Media Type": "VIDEO", "Download Link": "https://export.example.com/dl?mid=def456"}
	]
}`

func TestParseWrappedShape(t *testing.T) {
	m, err := New().Parse(strings.NewReader(wrapped))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Assets) != 2 || len(m.Skipped) != 0 {
		t.Fatalf("assets=%d skipped=%d", len(m.Assets), len(m.Skipped))
	}
	a := m.Assets[0]
	if a.ID != "abc123" || a.Kind != domain.KindImage || a.Ref != domain.RefToken {
		t.Fatalf("first descriptor = %+v", a)
	}
	if got := a.CapturedAt.Format("2006-01-02 15:04:05"); got != "2021-06-03 14:05:09" {
		t.Fatalf("captured at = %s", got)
	}
	if m.Assets[1].Kind != domain.KindVideo {
		t.Fatalf("second kind = %v", m.Assets[1].Kind)
	}
}

func TestParseFlatArrayAndSynonyms(t *testing.T) {
	flat := `[
		{"date": "2020-01-01 00:00:00", "media_type": "photo", "download_link": "https://cdn.example.com/media/x.jpg"}
	]`
	m, err := New().Parse(strings.NewReader(flat))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Assets) != 1 {
		t.Fatalf("assets = %d", len(m.Assets))
	}
	if m.Assets[0].Ref != domain.RefDirect {
		t.Fatalf("media-extension link should be direct")
	}
	// no mid/id param: id is a stable hash of the link
	if m.Assets[0].ID == "" || len(m.Assets[0].ID) != 16 {
		t.Fatalf("derived id = %q", m.Assets[0].ID)
	}
}

func TestParseOrderPreserved(t *testing.T) {
	doc := `[
		{"Date": "2021-01-01 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=a"},
		{"Date": "2021-01-02 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=b"},
		{"Date": "2021-01-03 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=c"}
	]`
	m, err := New().Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, a := range m.Assets {
		if a.ID != want[i] {
			t.Fatalf("order broken at %d: %q", i, a.ID)
		}
	}
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	doc := `[
		{"Date": "2021-01-01 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=ok"},
		{"Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=nodate"},
		{"Date": "not a date", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=baddate"},
		{"Date": "2021-01-01 00:00:00 UTC", "Media Type": "AUDIO", "Download Link": "https://e.com/d?mid=badkind"},
		{"Date": "2021-01-01 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "not-a-url"},
		"just a string"
	]`
	m, err := New().Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("one bad entry must not abort the manifest: %v", err)
	}
	if len(m.Assets) != 1 || m.Assets[0].ID != "ok" {
		t.Fatalf("assets = %+v", m.Assets)
	}
	if len(m.Skipped) != 5 {
		t.Fatalf("skipped = %d, want 5", len(m.Skipped))
	}
	for i, s := range m.Skipped {
		if s.Reason == "" {
			t.Fatalf("skipped[%d] has no reason", i)
		}
	}
	if m.Skipped[0].Index != 1 {
		t.Fatalf("skip index = %d, want 1", m.Skipped[0].Index)
	}
}

func TestParseDuplicateIDsWithinManifest(t *testing.T) {
	doc := `[
		{"Date": "2021-01-01 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/d?mid=dup"},
		{"Date": "2021-01-02 00:00:00 UTC", "Media Type": "PHOTO", "Download Link": "https://e.com/other?mid=dup"}
	]`
	m, err := New().Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Assets) != 1 || len(m.Skipped) != 1 {
		t.Fatalf("assets=%d skipped=%d", len(m.Assets), len(m.Skipped))
	}
}

func TestParseFatalShapes(t *testing.T) {
	cases := []string{
		`{"Other Key": []}`,
		`{"Saved Media": {"not": "a list"}}`,
		`42`,
		`{invalid json`,
	}
	for i, doc := range cases {
		_, err := New().Parse(strings.NewReader(doc))
		if err == nil {
			t.Fatalf("case %d: expected fatal manifest error", i)
		}
		if !perr.IsCode(err, perr.ErrorCodeManifest) {
			t.Fatalf("case %d: code = %v", i, perr.CodeOf(err))
		}
	}
}

func TestParseEmptyList(t *testing.T) {
	m, err := New().Parse(strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("empty list is a valid manifest: %v", err)
	}
	if len(m.Assets) != 0 || len(m.Skipped) != 0 {
		t.Fatalf("unexpected content: %+v", m)
	}
}
