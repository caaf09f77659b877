package domain

import (
	"context"
	"io"
)

// ParserPort turns a raw export document into a Manifest
type ParserPort interface {
	Parse(r io.Reader) (Manifest, error)
}

// ResolverPort exchanges a descriptor's source reference for a concrete URL.
// Implementations must deduplicate concurrent resolutions of the same id
type ResolverPort interface {
	Resolve(ctx context.Context, d AssetDescriptor) (ResolvedAsset, error)
}

// FetchPort streams asset bytes to a private temp file under stagingDir and
// returns its path. The temp file must never be left behind on error
type FetchPort interface {
	Fetch(ctx context.Context, ra ResolvedAsset, stagingDir string) (tmpPath string, err error)
}

// StorePort decides the final identity of a fetched temp file and commits it
// atomically, or discards it as a duplicate. The store serializes concurrent
// commits of identical content
type StorePort interface {
	Commit(ctx context.Context, tmpPath string, d AssetDescriptor, destRoot string) (CommitResult, error)
}

// UploadPort pushes committed files to the remote collection
type UploadPort interface {
	// EnsureRoot creates the remote collection chain and verifies credentials
	EnsureRoot(ctx context.Context) error

	// Upload transmits local to rel under the remote root; idempotent per policy
	Upload(ctx context.Context, local, rel string) error
}

// RunnerPort is the single contract the pipeline exposes to collaborators
type RunnerPort interface {
	// Start begins an asynchronous run and returns its id; one run at a time
	Start(ctx context.Context, req RunRequest) (string, error)

	// Cancel requests cooperative cancellation of the given run
	Cancel(runID string) error

	// Snapshot returns a copy of the run state
	Snapshot(runID string) (RunState, bool)

	// Wait blocks until the run reaches a terminal phase
	Wait(ctx context.Context, runID string) (RunState, error)

	// Run is the synchronous convenience used by the CLI
	Run(ctx context.Context, req RunRequest) (RunState, error)
}

// EventsPort lets collaborators observe the progress/log/error/done stream
type EventsPort interface {
	Subscribe(buffer int) (<-chan Event, func())
}
