// Package service is the run coordinator: it drives manifest parsing,
// resolution, fetching, storage and optional upload under one cancellable
// run with progress events
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"snapvault/internal/platform/logger"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/bundle"
	"snapvault/internal/services/memories/domain"
	"snapvault/internal/services/memories/events"
	"snapvault/internal/services/memories/guardrails"
)

// metaDirName is the bookkeeping dir under the destination root
const metaDirName = ".snapvault"

// runHistory caps how many finished runs stay queryable in a long-lived process
const runHistory = 16

// UploadMode selects how committed assets reach the remote collection
type UploadMode string

// Upload modes
const (
	// UploadOff disables remote mirroring entirely
	UploadOff UploadMode = "off"

	// UploadFiles mirrors each committed file as it lands
	UploadFiles UploadMode = "files"

	// UploadZip bundles the whole destination tree after the run and uploads one archive
	UploadZip UploadMode = "zip"
)

// Config is the coordinator tuning surface
type Config struct {
	Workers     int
	Retry       guardrails.Policy
	Timeouts    guardrails.Timeouts
	UploadMode  UploadMode
	AbortOnAuth bool
}

// Deps are the collaborating ports
type Deps struct {
	Parser   domain.ParserPort
	Resolver domain.ResolverPort
	Fetcher  domain.FetchPort
	Store    domain.StorePort
	Uploader domain.UploadPort // nil when no remote is configured
	Bus      *events.Bus
	Log      *logger.Logger
}

// Service implements domain.RunnerPort and domain.EventsPort
type Service struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	runs   map[string]*run
	order  []string // run ids oldest first, for history eviction
	active *run

	// now is a test seam
	now func() time.Time
}

type run struct {
	mu     sync.Mutex
	state  domain.RunState
	cancel context.CancelFunc
	done   chan struct{}

	// uploadsOff latches after an authentication failure
	uploadsOff bool
}

// New wires a coordinator. Bus and Log must be non-nil; Uploader may be nil
func New(cfg Config, deps Deps) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.UploadMode == "" {
		cfg.UploadMode = UploadOff
	}
	if deps.Log == nil {
		deps.Log = logger.Named("memories")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	return &Service{cfg: cfg, deps: deps, runs: make(map[string]*run), now: time.Now}
}

// logFor enriches the service logger with the run id from ctx
func (s *Service) logFor(ctx context.Context) *logger.Logger {
	if id := logger.RunID(ctx); id != "" {
		ll := s.deps.Log.With().Str("run_id", id).Logger()
		return &ll
	}
	return s.deps.Log
}

// Subscribe implements domain.EventsPort
func (s *Service) Subscribe(buffer int) (<-chan domain.Event, func()) {
	return s.deps.Bus.Subscribe(buffer)
}

// Start begins an asynchronous run. The manifest is parsed up front so
// callers get manifest faults synchronously; a second Start while a run is
// active is a conflict
func (s *Service) Start(ctx context.Context, req domain.RunRequest) (string, error) {
	f, err := os.Open(req.ManifestPath)
	if err != nil {
		return "", perr.Manifestf("opening manifest: %v", err)
	}
	man, merr := s.deps.Parser.Parse(f)
	_ = f.Close()
	if merr != nil {
		return "", merr
	}

	s.mu.Lock()
	if s.active != nil && !s.active.snapshot().Done() {
		id := s.active.snapshot().RunID
		s.mu.Unlock()
		return "", perr.Conflictf("run %s is still active", id)
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logger.WithRun(runCtx, runID)
	r := &run{
		state: domain.RunState{
			RunID:     runID,
			Phase:     domain.PhaseRunning,
			Total:     len(man.Assets),
			Malformed: len(man.Skipped),
			StartedAt: s.now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.runs[runID] = r
	s.order = append(s.order, runID)
	s.active = r
	s.pruneLocked()
	s.mu.Unlock()

	go s.execute(runCtx, r, man, req)
	return runID, nil
}

// pruneLocked evicts the oldest finished runs beyond the history cap.
// Caller holds s.mu
func (s *Service) pruneLocked() {
	for len(s.order) > runHistory {
		evicted := false
		for i, id := range s.order {
			r := s.runs[id]
			if r == s.active || !r.snapshot().Done() {
				continue
			}
			delete(s.runs, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

// Cancel implements domain.RunnerPort
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return perr.NotFoundf("run %s", runID)
	}
	r.cancel()
	return nil
}

// Snapshot implements domain.RunnerPort
func (s *Service) Snapshot(runID string) (domain.RunState, bool) {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return domain.RunState{}, false
	}
	return r.snapshot(), true
}

// Wait blocks until the run finishes or ctx is done
func (s *Service) Wait(ctx context.Context, runID string) (domain.RunState, error) {
	s.mu.Lock()
	r, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return domain.RunState{}, perr.NotFoundf("run %s", runID)
	}
	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return r.snapshot(), ctx.Err()
	}
}

// Run is the synchronous path: start, then wait. Cancelling ctx cancels the
// run cooperatively and still waits for it to wind down
func (s *Service) Run(ctx context.Context, req domain.RunRequest) (domain.RunState, error) {
	runID, err := s.Start(ctx, req)
	if err != nil {
		return domain.RunState{}, err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Cancel(runID) })
	defer stop()
	return s.Wait(context.WithoutCancel(ctx), runID)
}

// execute is the run goroutine
func (s *Service) execute(ctx context.Context, r *run, man domain.Manifest, req domain.RunRequest) {
	defer r.cancel()
	log := s.logFor(ctx)

	state := r.snapshot()
	s.publish(domain.EventProgress, state.RunID, state)
	s.publishLog(ctx, fmt.Sprintf("run started: %d assets, %d malformed entries skipped", state.Total, state.Malformed))
	for _, sk := range man.Skipped {
		s.publishLog(ctx, fmt.Sprintf("manifest entry %d skipped: %s", sk.Index, sk.Reason))
	}

	rlog, err := openResultLog(req.DestRoot, state.RunID)
	if err != nil {
		s.finish(ctx, r, domain.PhaseFailed, err)
		return
	}
	defer func() { _ = rlog.Close() }()

	uploading := s.uploadEnabled(req)
	if uploading {
		if err := s.prepareRemote(ctx, r); err != nil {
			uploading = false
			if perr.CodeOf(err) != perr.ErrorCodeCancelled {
				s.publishLog(ctx, "remote unavailable, continuing local-only: "+err.Error())
				log.Warn().Err(err).Msg("remote unavailable, continuing local-only")
			}
		}
	}
	perFile := uploading && s.cfg.UploadMode == UploadFiles

	staging := filepath.Join(req.DestRoot, metaDirName, "staging")
	sem := make(chan struct{}, s.cfg.Workers)
	var wg sync.WaitGroup
	var fatal errLatch

	for _, d := range man.Assets {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(d domain.AssetDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()
			res := s.processAsset(ctx, r, d, req, staging, perFile)
			if res.cancelled {
				// aborted mid-flight; the asset is simply not completed
				return
			}
			if aerr := rlog.Append(res.TransferResult); aerr != nil {
				log.Error().Err(aerr).Str("asset_id", d.ID).Msg("run log append failed")
			}
			s.record(ctx, r, res)
			if res.Outcome == domain.OutcomeFailed && res.storageFault {
				fatal.set(perr.Storagef("aborting run: %s", res.Error))
				r.cancel()
			}
		}(d)
	}
	wg.Wait()
	_ = os.RemoveAll(staging)

	if err := fatal.get(); err != nil {
		s.finish(ctx, r, domain.PhaseFailed, err)
		return
	}
	if ctx.Err() != nil {
		s.finish(ctx, r, domain.PhaseCancelled, nil)
		return
	}

	if uploading && s.cfg.UploadMode == UploadZip && !r.uploadsDisabled() {
		if err := s.uploadBundle(ctx, r, req); err != nil {
			if perr.CodeOf(err) == perr.ErrorCodeCancelled || ctx.Err() != nil {
				s.finish(ctx, r, domain.PhaseCancelled, nil)
				return
			}
			s.publishLog(ctx, "bundle upload failed: "+err.Error())
			log.Error().Err(err).Msg("bundle upload failed")
		}
	}

	s.finish(ctx, r, domain.PhaseCompleted, nil)
}

// processAsset walks one descriptor through resolve, fetch, commit and the
// optional per-file upload. Always returns a terminal result
func (s *Service) processAsset(ctx context.Context, r *run, d domain.AssetDescriptor, req domain.RunRequest, staging string, perFile bool) assetResult {
	at := func() time.Time { return s.now() }
	fail := func(err error) assetResult {
		return assetResult{
			TransferResult: domain.TransferResult{ID: d.ID, Outcome: domain.OutcomeFailed, Error: err.Error(), At: at()},
			storageFault:   perr.IsCode(err, perr.ErrorCodeStorage),
			cancelled:      perr.IsCode(err, perr.ErrorCodeCancelled),
		}
	}

	ra, err := s.resolve(ctx, d)
	if err != nil {
		return fail(err)
	}

	tmpPath, err := s.fetch(ctx, &ra, staging)
	if err != nil {
		return fail(err)
	}

	commit, err := s.deps.Store.Commit(ctx, tmpPath, d, req.DestRoot)
	if err != nil {
		return fail(err)
	}
	if commit.Duplicate {
		return assetResult{TransferResult: domain.TransferResult{
			ID: d.ID, Outcome: domain.OutcomeDuplicate, LocalPath: commit.Path, At: at(),
		}}
	}

	if perFile && !r.uploadsDisabled() {
		if err := s.upload(ctx, filepath.Join(req.DestRoot, commit.Path), commit.Path); err != nil {
			if perr.CodeOf(err) == perr.ErrorCodeUploadAuth && s.cfg.AbortOnAuth {
				r.disableUploads()
				s.publishLog(ctx, "upload authentication failed, remaining uploads skipped")
			}
			res := fail(err)
			res.LocalPath = commit.Path
			return res
		}
	}

	return assetResult{TransferResult: domain.TransferResult{
		ID: d.ID, Outcome: domain.OutcomeSuccess, LocalPath: commit.Path, At: at(),
	}}
}

// resolve runs the bounded-retry token exchange and normalizes exhaustion
func (s *Service) resolve(ctx context.Context, d domain.AssetDescriptor) (domain.ResolvedAsset, error) {
	var ra domain.ResolvedAsset
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		rctx, cancel := guardrails.ForResolve(ctx, s.cfg.Timeouts)
		defer cancel()
		var rerr error
		ra, rerr = s.deps.Resolver.Resolve(rctx, d)
		return rerr
	})
	if err != nil {
		if ctx.Err() != nil {
			return ra, perr.Cancelledf("resolving %s: %v", d.ID, ctx.Err())
		}
		if perr.Retryable(err) {
			return ra, perr.Wrapf(err, perr.ErrorCodeResolutionExhausted, "resolution attempts exhausted for %s", d.ID)
		}
		return ra, err
	}
	return ra, nil
}

// fetch downloads under the retry policy, re-resolving the URL when it has
// expired between attempts. The refresh runs under the resolve timeout and
// its failures are labeled as resolution failures
func (s *Service) fetch(ctx context.Context, ra *domain.ResolvedAsset, staging string) (string, error) {
	d := ra.Descriptor
	var tmpPath string
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		if ra.Expired(s.now()) {
			rctx, cancel := guardrails.ForResolve(ctx, s.cfg.Timeouts)
			fresh, rerr := s.deps.Resolver.Resolve(rctx, d)
			cancel()
			if rerr != nil {
				return rerr
			}
			*ra = fresh
		}
		fctx, cancel := guardrails.ForFetch(ctx, s.cfg.Timeouts)
		defer cancel()
		var ferr error
		tmpPath, ferr = s.deps.Fetcher.Fetch(fctx, *ra, staging)
		return ferr
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", perr.Cancelledf("fetching %s: %v", d.ID, ctx.Err())
		}
		if perr.Retryable(err) {
			if perr.IsCode(err, perr.ErrorCodeResolution) {
				return "", perr.Wrapf(err, perr.ErrorCodeResolutionExhausted, "resolution attempts exhausted for %s", d.ID)
			}
			return "", perr.Wrapf(err, perr.ErrorCodeFetchExhausted, "download attempts exhausted for %s", d.ID)
		}
		return "", err
	}
	return tmpPath, nil
}

// upload pushes one committed file under the retry policy
func (s *Service) upload(ctx context.Context, local, rel string) error {
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		uctx, cancel := guardrails.ForUpload(ctx, s.cfg.Timeouts)
		defer cancel()
		return s.deps.Uploader.Upload(uctx, local, rel)
	})
	if err != nil {
		if ctx.Err() != nil {
			return perr.Cancelledf("uploading %s: %v", rel, ctx.Err())
		}
		if perr.Retryable(err) {
			return perr.Wrapf(err, perr.ErrorCodeUploadExhausted, "upload attempts exhausted for %s", rel)
		}
		return err
	}
	return nil
}

// prepareRemote verifies the remote root once per run
func (s *Service) prepareRemote(ctx context.Context, r *run) error {
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		uctx, cancel := guardrails.ForUpload(ctx, s.cfg.Timeouts)
		defer cancel()
		return s.deps.Uploader.EnsureRoot(uctx)
	})
	if err != nil && perr.CodeOf(err) == perr.ErrorCodeUploadAuth && s.cfg.AbortOnAuth {
		r.disableUploads()
	}
	return err
}

// uploadBundle zips the destination tree and ships the single archive
func (s *Service) uploadBundle(ctx context.Context, r *run, req domain.RunRequest) error {
	name := bundle.Name(req.DestRoot)
	archive := filepath.Join(req.DestRoot, metaDirName, name)
	s.publishLog(ctx, "building bundle "+name)
	if err := bundle.Build(ctx, req.DestRoot, archive); err != nil {
		return err
	}
	defer func() { _ = os.Remove(archive) }()

	if err := s.upload(ctx, archive, name); err != nil {
		if perr.CodeOf(err) == perr.ErrorCodeUploadAuth && s.cfg.AbortOnAuth {
			r.disableUploads()
		}
		return err
	}
	s.publishLog(ctx, "bundle uploaded: "+name)
	return nil
}

// record folds one result into the run state and emits events
func (s *Service) record(ctx context.Context, r *run, res assetResult) {
	r.mu.Lock()
	r.state.Completed++
	switch res.Outcome {
	case domain.OutcomeSuccess:
		r.state.Succeeded++
	case domain.OutcomeDuplicate:
		r.state.Duplicates++
	case domain.OutcomeFailed:
		r.state.Failed++
	}
	state := r.state
	r.mu.Unlock()

	if res.Outcome == domain.OutcomeFailed {
		s.publish(domain.EventError, state.RunID, res.TransferResult)
		s.logFor(ctx).Warn().Str("asset_id", res.ID).Str("error", res.Error).Msg("asset failed")
	}
	s.publish(domain.EventProgress, state.RunID, state)
}

// finish moves the run to its terminal phase and emits done
func (s *Service) finish(ctx context.Context, r *run, phase domain.RunPhase, fatal error) {
	r.mu.Lock()
	r.state.Phase = phase
	r.state.FinishedAt = s.now()
	if fatal != nil {
		r.state.Error = fatal.Error()
	}
	state := r.state
	r.mu.Unlock()

	log := s.logFor(ctx)
	switch phase {
	case domain.PhaseCompleted:
		log.Info().
			Int("succeeded", state.Succeeded).
			Int("duplicates", state.Duplicates).
			Int("failed", state.Failed).
			Int("malformed", state.Malformed).
			Msg("run completed")
	case domain.PhaseCancelled:
		log.Info().Int("completed", state.Completed).Int("total", state.Total).Msg("run cancelled")
	case domain.PhaseFailed:
		log.Error().Str("error", state.Error).Msg("run failed")
	}

	s.publish(domain.EventDone, state.RunID, state)
	close(r.done)
}

func (s *Service) uploadEnabled(req domain.RunRequest) bool {
	return req.Upload && s.deps.Uploader != nil && s.cfg.UploadMode != UploadOff
}

func (s *Service) publish(t domain.EventType, runID string, payload any) {
	s.deps.Bus.Publish(domain.Event{Type: t, RunID: runID, At: s.now(), Payload: payload})
}

func (s *Service) publishLog(ctx context.Context, msg string) {
	s.publish(domain.EventLog, logger.RunID(ctx), msg)
}

func (r *run) snapshot() domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *run) disableUploads() {
	r.mu.Lock()
	r.uploadsOff = true
	r.mu.Unlock()
}

func (r *run) uploadsDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploadsOff
}

// assetResult widens TransferResult with run-control markers
type assetResult struct {
	domain.TransferResult
	storageFault bool
	cancelled    bool
}

// errLatch is a tiny first-error latch
type errLatch struct {
	mu  sync.Mutex
	err error
}

func (a *errLatch) set(err error) {
	a.mu.Lock()
	if a.err == nil {
		a.err = err
	}
	a.mu.Unlock()
}

func (a *errLatch) get() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}
