package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vidscribe/internal/api"
	"vidscribe/internal/logging"
	"vidscribe/internal/notify"
	"vidscribe/internal/services"
	"vidscribe/internal/task"
)

const (
	frameWriteTimeout = 10 * time.Second
	defaultPingPeriod = 30 * time.Second
	maxClientMessage  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers are unauthenticated; any page may subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream serves newline-delimited JSON frames: every snapshot after
// since (or from the latest one), heartbeats while idle, then an end frame.
func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), id)
		return
	}
	if _, err := s.daemon.Snapshot(id); err != nil {
		s.writeTaskError(w, id, err)
		return
	}

	ctx, cancel := context.WithCancel(services.WithTaskID(r.Context(), id))
	defer cancel()
	logger := logging.WithContext(ctx, s.logger)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fw := newFrameWriter(w)

	stopHeartbeat := startHeartbeat(ctx, s.heartbeat, func() error {
		return fw.write(api.Frame{Type: api.FrameHeartbeat})
	}, cancel)
	err = s.daemon.Hub().Stream(ctx, id, since, func(snap task.Snapshot) error {
		return fw.write(api.SnapshotFrame(snap))
	})
	stopHeartbeat()

	reason, ok := endReason(err)
	if !ok {
		logger.Debug("observer stream ended", logging.Error(err))
		return
	}
	if err := fw.write(api.EndFrame(reason)); err != nil {
		logger.Debug("write end frame", logging.Error(err))
	}
}

// handleWebsocket pushes snapshot frames to a WebSocket client and pings it
// at the heartbeat interval.
func (s *apiServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, cancel := context.WithCancel(services.WithTaskID(r.Context(), id))
	defer cancel()
	logger := logging.WithContext(ctx, s.logger)

	sub, err := s.daemon.Hub().Subscribe(ctx, id)
	if err != nil {
		s.writeTaskError(w, id, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	pingPeriod := s.heartbeat
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	pongWait := 2 * pingPeriod
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(frameWriteTimeout)); err != nil {
				logger.Debug("websocket ping failed", logging.Error(err))
				return
			}
		case snap, ok := <-sub.C:
			if !ok {
				reason, ok := endReason(sub.Err())
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
				if err := conn.WriteJSON(api.EndFrame(reason)); err != nil {
					logger.Debug("write end frame", logging.Error(err))
					return
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
					time.Now().Add(frameWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
			if err := conn.WriteJSON(api.SnapshotFrame(snap)); err != nil {
				logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		}
	}
}

// endReason maps why delivery stopped to the end frame reason. ok is false
// when the observer itself went away and nothing more should be written.
func endReason(err error) (string, bool) {
	switch {
	case err == nil:
		return api.EndTerminal, true
	case errors.Is(err, notify.ErrLivenessTimeout):
		return api.EndTimeout, true
	case errors.Is(err, notify.ErrTopicClosed), task.IsUnknown(err):
		return api.EndClosed, true
	default:
		return "", false
	}
}

// frameWriter serializes NDJSON frames from the stream and heartbeat loops.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
	rc *http.ResponseController
}

func newFrameWriter(w http.ResponseWriter) *frameWriter {
	return &frameWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *frameWriter) write(frame api.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.rc.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err := json.NewEncoder(f.w).Encode(frame); err != nil {
		return err
	}
	return f.rc.Flush()
}

// startHeartbeat calls beat every interval until the returned stop func is
// called. A failed beat calls onFail. A zero interval disables it.
func startHeartbeat(ctx context.Context, interval time.Duration, beat func() error, onFail func()) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := beat(); err != nil {
					onFail()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
