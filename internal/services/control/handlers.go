package control

import (
	"encoding/json"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	perr "snapvault/internal/platform/errors"
	"snapvault/internal/platform/logger"
	httpkit "snapvault/internal/platform/net/http"
	"snapvault/internal/platform/validate"
	"snapvault/internal/services/memories/domain"
)

type handlers struct {
	runner domain.RunnerPort
	events domain.EventsPort
	log    logger.Logger

	// donePoll bounds how long a stream outlives its run when the done
	// event was dropped by the bus
	donePoll time.Duration
}

// startRequest is the POST /v1/runs body
type startRequest struct {
	ManifestPath string `json:"manifest_path" validate:"required"`
	DestRoot     string `json:"dest_root" validate:"required"`
	Upload       bool   `json:"upload"`
}

func (h *handlers) startRun(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpkit.RespondError(w, perr.JSONErrf("decoding request body: %v", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		httpkit.RespondError(w, err)
		return
	}

	runID, err := h.runner.Start(r.Context(), domain.RunRequest{
		ManifestPath: req.ManifestPath,
		DestRoot:     req.DestRoot,
		Upload:       req.Upload,
	})
	if err != nil {
		httpkit.RespondError(w, err)
		return
	}
	httpkit.RespondAccepted(w, map[string]string{"run_id": runID})
}

func (h *handlers) getRun(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	runID := chi.URLParam(r, "runID")
	state, ok := h.runner.Snapshot(runID)
	if !ok {
		httpkit.RespondError(w, perr.NotFoundf("run %s", runID))
		return
	}
	httpkit.RespondOK(w, state)
}

func (h *handlers) cancelRun(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.runner.Cancel(runID); err != nil {
		httpkit.RespondError(w, err)
		return
	}
	httpkit.RespondAccepted(w, map[string]string{"run_id": runID, "status": "cancelling"})
}

// streamEvents writes run events as NDJSON until the run finishes or the
// client disconnects. Events for other runs are filtered out.
// The subscription is opened before the snapshot is read, and the snapshot
// is re-read on a timer, so a done that fires between the two or gets
// dropped by the bus still terminates the stream
func (h *handlers) streamEvents(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	runID := chi.URLParam(r, "runID")

	ch, cancel := h.events.Subscribe(256)
	defer cancel()

	state, ok := h.runner.Snapshot(runID)
	if !ok {
		httpkit.RespondError(w, perr.NotFoundf("run %s", runID))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")

	// the run may have finished before the subscription existed
	if state.Done() {
		h.writeEvent(w, doneEvent(state))
		return
	}

	w.WriteHeader(stdhttp.StatusOK)
	fl, _ := w.(stdhttp.Flusher)
	if fl != nil {
		fl.Flush()
	}

	poll := h.donePoll
	if poll <= 0 {
		poll = time.Second
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			// reconcile from the snapshot in case the done event was lost
			if st, ok := h.runner.Snapshot(runID); ok && st.Done() {
				if h.writeEvent(w, doneEvent(st)) && fl != nil {
					fl.Flush()
				}
				return
			}
		case ev, open := <-ch:
			if !open {
				return
			}
			if ev.RunID != runID {
				continue
			}
			if !h.writeEvent(w, ev) {
				return
			}
			if fl != nil {
				fl.Flush()
			}
			if ev.Type == domain.EventDone {
				return
			}
		}
	}
}

func doneEvent(state domain.RunState) domain.Event {
	return domain.Event{Type: domain.EventDone, RunID: state.RunID, At: state.FinishedAt, Payload: state}
}

func (h *handlers) writeEvent(w stdhttp.ResponseWriter, ev domain.Event) bool {
	line, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("encoding event")
		return false
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return false
	}
	return true
}
