package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/logging"

	"github.com/go-chi/chi/v5"
)

// handleJobEvents streams one job's events. The stream opens with a status
// snapshot and ends after the job's terminal event.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Subscribe before the snapshot so no transition falls between the two.
	sub := s.events.Connect(model.JobChannel(id))
	defer s.events.Disconnect(sub)

	snap, err := s.inspUC.GetStatus(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if err := writeEvent(w, "status", snap); err != nil {
		return
	}
	flusher.Flush()
	if snap.Status.IsTerminal() {
		return
	}
	s.pump(w, r, flusher, sub, true)
}

// handleUserEvents streams every event for one owner until the client leaves.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	sub := s.events.Connect(model.UserChannel(chi.URLParam(r, "id")))
	defer s.events.Disconnect(sub)

	flusher, ok := startStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	flusher.Flush()
	s.pump(w, r, flusher, sub, false)
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

// pump forwards subscriber events as SSE frames, with comment heartbeats
// while idle. It returns when the client goes away, the hub closes the
// subscriber, or, with untilTerminal, after a terminal event.
func (s *Server) pump(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *broadcast.Subscriber, untilTerminal bool) {
	hb := time.NewTicker(s.heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-hb.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, string(e.Kind), e); err != nil {
				logging.With(r.Context(), s.log).Debug().Err(err).Msg("event stream write failed")
				return
			}
			flusher.Flush()
			if untilTerminal && e.Kind.IsTerminal() {
				if n := sub.Dropped(); n > 0 {
					logging.With(r.Context(), s.log).Warn().Uint64("dropped", n).Str("job_id", e.JobID).Msg("slow event stream dropped events")
				}
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
	return err
}
