// Package domain holds the core types and ports of the memories transfer pipeline
package domain

import (
	"time"
)

// MediaKind is the asset media class from the export manifest
type MediaKind string

// Supported media kinds
const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// RefKind says how a descriptor's source reference must be handled
type RefKind uint8

const (
	// RefToken means the reference is an exchange endpoint returning a short-lived URL
	RefToken RefKind = iota

	// RefDirect means the reference already is the download URL
	RefDirect
)

// AssetDescriptor identifies one asset from the manifest. Immutable once parsed
type AssetDescriptor struct {
	ID         string    `json:"id"`
	Kind       MediaKind `json:"kind"`
	CapturedAt time.Time `json:"captured_at"`
	SourceRef  string    `json:"source_ref"`
	Ref        RefKind   `json:"-"`
}

// SkippedEntry records one malformed manifest entry that was excluded
type SkippedEntry struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Manifest is the parsed export document: well-formed descriptors in document
// order plus the entries that didn't make the cut
type Manifest struct {
	Assets  []AssetDescriptor
	Skipped []SkippedEntry
}

// ResolvedAsset pairs a descriptor with its concrete download URL.
// A zero ExpiresAt means the URL does not expire
type ResolvedAsset struct {
	Descriptor AssetDescriptor
	URL        string
	ExpiresAt  time.Time
}

// Expired reports whether the resolved URL can no longer be trusted at now
func (r ResolvedAsset) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Outcome classifies one asset's terminal state within a run
type Outcome string

// Possible outcomes; exactly one per asset per run
const (
	OutcomeSuccess   Outcome = "success"
	OutcomeDuplicate Outcome = "skipped_duplicate"
	OutcomeFailed    Outcome = "failed"
)

// TransferResult is the append-only per-asset log entry
type TransferResult struct {
	ID        string    `json:"id"`
	Outcome   Outcome   `json:"outcome"`
	LocalPath string    `json:"local_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// RunPhase is the coordinator state machine position
type RunPhase string

// Run phases; transitions are Idle -> Running -> Completed|Cancelled|Failed
const (
	PhaseIdle      RunPhase = "idle"
	PhaseRunning   RunPhase = "running"
	PhaseCompleted RunPhase = "completed"
	PhaseCancelled RunPhase = "cancelled"
	PhaseFailed    RunPhase = "failed"
)

// RunState is the aggregate for one pipeline invocation. Owned and mutated
// only by the coordinator; everyone else sees copies
type RunState struct {
	RunID      string    `json:"run_id"`
	Phase      RunPhase  `json:"phase"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Succeeded  int       `json:"succeeded"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Malformed  int       `json:"malformed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// Done reports whether the run reached a terminal phase
func (s RunState) Done() bool {
	switch s.Phase {
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return true
	}
	return false
}

// RunRequest carries the per-run inputs; everything else comes from config
type RunRequest struct {
	ManifestPath string
	DestRoot     string
	Upload       bool
}

// CommitResult is what the store reports after taking ownership of a temp file
type CommitResult struct {
	Path      string // committed path, or the prior path when Duplicate
	Identity  string // content hash, hex
	Duplicate bool
}
