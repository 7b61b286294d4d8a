package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-tts/internal/jobs"
)

const (
	eventPollInterval = 250 * time.Millisecond
	eventWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleJobEvents streams job snapshots over a websocket until the job is
// terminal or the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := s.deps.Jobs.Progress(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	var last jobs.Snapshot
	first := true
	for {
		if first || snap.Status != last.Status || snap.Processed != last.Processed || snap.Total != last.Total {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			last = snap
			first = false
		}
		if snap.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)),
				time.Now().Add(eventWriteTimeout))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
		next, err := s.deps.Jobs.Progress(id)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "job evicted"),
				time.Now().Add(eventWriteTimeout))
			return
		}
		snap = next
	}
}
