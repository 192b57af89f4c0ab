package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kozaktomas/rollcall/internal/constants"
)

func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// eventStream writes Server-Sent Events to one client.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
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
	return &eventStream{w: w, flusher: flusher}, true
}

func (s *eventStream) send(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// comment keeps idle connections open through proxies.
func (s *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// streamJobEvents sends the job's current state, then relays its events until the job
// reaches a terminal state or the client goes away.
func streamJobEvents(w http.ResponseWriter, r *http.Request, job *EmbedJob) {
	stream, ok := newEventStream(w)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := job.AddListener()
	defer job.RemoveListener(events)

	if err := stream.send("status", job.Info()); err != nil || isJobTerminal(job.GetStatus()) {
		return
	}

	heartbeat := time.NewTicker(constants.SSEHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := stream.comment("keepalive"); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := stream.send(event.Type, event); err != nil {
				return
			}
			if isJobTerminal(job.GetStatus()) {
				return
			}
		}
	}
}
