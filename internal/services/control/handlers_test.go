package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"snapvault/internal/modkit"
	perr "snapvault/internal/platform/errors"
	"snapvault/internal/services/memories/domain"
	"snapvault/internal/services/memories/events"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []domain.RunRequest
	states  map[string]domain.RunState
	startID string
	startEr error
}

func (f *fakeRunner) Start(_ context.Context, req domain.RunRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return f.startID, f.startEr
}

func (f *fakeRunner) Cancel(runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[runID]; !ok {
		return perr.NotFoundf("run %s", runID)
	}
	return nil
}

func (f *fakeRunner) Snapshot(runID string) (domain.RunState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[runID]
	return s, ok
}

func (f *fakeRunner) Wait(_ context.Context, runID string) (domain.RunState, error) {
	s, ok := f.Snapshot(runID)
	if !ok {
		return domain.RunState{}, perr.NotFoundf("run %s", runID)
	}
	return s, nil
}

func (f *fakeRunner) Run(ctx context.Context, req domain.RunRequest) (domain.RunState, error) {
	id, err := f.Start(ctx, req)
	if err != nil {
		return domain.RunState{}, err
	}
	return f.Wait(ctx, id)
}

func newTestServer(t *testing.T, runner *fakeRunner, bus *events.Bus) *httptest.Server {
	t.Helper()
	if bus == nil {
		bus = events.NewBus()
	}
	m := New(modkit.Deps{}, runner, bus)
	m.h.donePoll = 20 * time.Millisecond
	r := chi.NewRouter()
	m.MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Code       perr.ErrorCode  `json:"code"`
	Error      string          `json:"error"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env
}

func TestStartRunAccepted(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startID: "run-42", states: map[string]domain.RunState{}}
	srv := newTestServer(t, runner, nil)

	body := `{"manifest_path":"/exports/memories_history.json","dest_root":"/vault","upload":true}`
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if data["run_id"] != "run-42" {
		t.Fatalf("run_id = %q", data["run_id"])
	}
	if len(runner.started) != 1 || !runner.started[0].Upload {
		t.Fatalf("started = %+v", runner.started)
	}
}

func TestStartRunValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{startID: "x", states: map[string]domain.RunState{}}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"missing manifest path", `{"dest_root":"/vault"}`},
		{"missing dest root", `{"manifest_path":"/exports/m.json"}`},
		{"not json", `{{{`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			env := decodeEnvelope(t, resp)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d (%s), want 400", resp.StatusCode, env.Error)
			}
		})
	}
}

func TestStartRunConflict(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{startEr: perr.Conflictf("run run-1 is still active"), states: map[string]domain.RunState{}}
	srv := newTestServer(t, runner, nil)

	resp, err := http.Post(srv.URL+"/v1/runs", "application/json",
		strings.NewReader(`{"manifest_path":"/m.json","dest_root":"/vault"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Code != perr.ErrorCodeConflict {
		t.Fatalf("code = %v, want conflict", env.Code)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{states: map[string]domain.RunState{
		"run-1": {RunID: "run-1", Phase: domain.PhaseRunning, Total: 10, Completed: 4},
	}}
	srv := newTestServer(t, runner, nil)

	resp, err := http.Get(srv.URL + "/v1/runs/run-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	var state domain.RunState
	if err := json.Unmarshal(env.Data, &state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state.RunID != "run-1" || state.Completed != 4 {
		t.Fatalf("state = %+v", state)
	}

	resp, err = http.Get(srv.URL + "/v1/runs/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{states: map[string]domain.RunState{
		"run-1": {RunID: "run-1", Phase: domain.PhaseRunning},
	}}
	srv := newTestServer(t, runner, nil)

	resp, err := http.Post(srv.URL+"/v1/runs/run-1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/runs/nope/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsUntilDone(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	runner := &fakeRunner{states: map[string]domain.RunState{
		"run-1": {RunID: "run-1", Phase: domain.PhaseRunning, Total: 2},
	}}
	srv := newTestServer(t, runner, bus)

	go func() {
		// wait for the stream subscription before publishing
		time.Sleep(100 * time.Millisecond)
		bus.Publish(domain.Event{Type: domain.EventLog, RunID: "run-1", At: time.Now(), Payload: "run started"})
		bus.Publish(domain.Event{Type: domain.EventProgress, RunID: "other-run", At: time.Now()})
		bus.Publish(domain.Event{Type: domain.EventDone, RunID: "run-1", At: time.Now()})
	}()

	resp, err := http.Get(srv.URL + "/v1/runs/run-1/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var types []domain.EventType
	dec := json.NewDecoder(resp.Body)
	for {
		var ev domain.Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		if ev.RunID != "run-1" {
			t.Fatalf("event for foreign run leaked: %+v", ev)
		}
		types = append(types, ev.Type)
	}
	want := []domain.EventType{domain.EventLog, domain.EventDone}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
}

func (f *fakeRunner) setState(runID string, state domain.RunState) {
	f.mu.Lock()
	f.states[runID] = state
	f.mu.Unlock()
}

func TestStreamEventsTerminatesOnLostDone(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	runner := &fakeRunner{states: map[string]domain.RunState{
		"run-1": {RunID: "run-1", Phase: domain.PhaseRunning, Total: 1},
	}}
	srv := newTestServer(t, runner, bus)

	go func() {
		time.Sleep(100 * time.Millisecond)
		bus.Publish(domain.Event{Type: domain.EventLog, RunID: "run-1", At: time.Now(), Payload: "run started"})
		// the run finishes but its done event never reaches the bus
		runner.setState("run-1", domain.RunState{
			RunID: "run-1", Phase: domain.PhaseCompleted, Total: 1, Completed: 1, Succeeded: 1, FinishedAt: time.Now(),
		})
	}()

	type result struct {
		types []domain.EventType
		last  domain.Event
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/v1/runs/run-1/events")
		if err != nil {
			got <- result{}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var r result
		dec := json.NewDecoder(resp.Body)
		for {
			var ev domain.Event
			if err := dec.Decode(&ev); err != nil {
				break
			}
			r.types = append(r.types, ev.Type)
			r.last = ev
		}
		got <- r
	}()

	select {
	case r := <-got:
		if len(r.types) == 0 || r.types[len(r.types)-1] != domain.EventDone {
			t.Fatalf("types = %v, want trailing done", r.types)
		}
		if r.last.RunID != "run-1" {
			t.Fatalf("done event run id = %q", r.last.RunID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream never terminated after the run finished")
	}
}

func TestStreamEventsFinishedRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{states: map[string]domain.RunState{
		"run-1": {RunID: "run-1", Phase: domain.PhaseCompleted, Total: 1, Completed: 1, Succeeded: 1, FinishedAt: time.Now()},
	}}
	srv := newTestServer(t, runner, nil)

	resp, err := http.Get(srv.URL + "/v1/runs/run-1/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var ev domain.Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if ev.Type != domain.EventDone {
		t.Fatalf("type = %s, want done", ev.Type)
	}
}

func TestStreamEventsUnknownRun(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRunner{states: map[string]domain.RunState{}}, nil)
	resp, err := http.Get(srv.URL + "/v1/runs/nope/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
