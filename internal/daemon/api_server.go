package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidscribe/internal/api"
	"vidscribe/internal/config"
	"vidscribe/internal/logging"
	"vidscribe/internal/notify"
	"vidscribe/internal/pipeline"
	"vidscribe/internal/registry"
	"vidscribe/internal/services"
	"vidscribe/internal/task"
)

const (
	defaultPollWait = 25 * time.Second
	maxPollWait     = 2 * time.Minute
	maxRequestBody  = 1 << 20
	requestIDHeader = "X-Request-ID"
)

type apiServer struct {
	bind      string
	heartbeat time.Duration
	logger    *slog.Logger
	daemon    *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		heartbeat: cfg.HeartbeatInterval(),
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		// Whole-request read and write deadlines would cut long-poll and
		// streaming observers; those handlers set per-write deadlines.
		IdleTimeout: 60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/tasks", s.handleSubmit)
	mux.HandleFunc("GET /api/tasks", s.handleList)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("GET /api/tasks/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /api/tasks/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/tasks/{id}/ws", s.handleWebsocket)
	return s.withRequestID(mux)
}

func (s *apiServer) start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Debug("api server shutdown", logging.Error(err))
		_ = s.server.Close()
	}
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// withRequestID tags each request with a correlation id, reusing the
// caller's X-Request-ID when present.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}

	id, err := s.daemon.Submit(r.Context(), req.URL, req.TaskID)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, api.SubmitResponse{TaskID: id})
	case errors.Is(err, ErrInvalidSource):
		s.writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, task.ErrDuplicateTask):
		s.writeError(w, http.StatusConflict, err.Error(), strings.TrimSpace(req.TaskID))
	case errors.Is(err, registry.ErrRegistryFull), errors.Is(err, pipeline.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error(), id)
	default:
		s.writeError(w, http.StatusBadRequest, err.Error(), id)
	}
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	tasks := s.daemon.List()
	if tasks == nil {
		tasks = []task.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: tasks})
}

func (s *apiServer) handleTask(w http.ResponseWriter, r *http.Request) {
	snap, err := s.daemon.Snapshot(r.PathValue("id"))
	if err != nil {
		s.writeTaskError(w, r.PathValue("id"), err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	query := r.URL.Query()
	since, err := parseSince(query.Get("since"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), id)
		return
	}
	wait, err := parseWait(query.Get("wait"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), id)
		return
	}

	ctx := r.Context()
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	batch, err := s.daemon.Hub().Fetch(ctx, id, since, wait > 0)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
		// Poll window elapsed without news.
	case r.Context().Err() != nil:
		return
	default:
		s.writeTaskError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromBatch(batch))
}

func (s *apiServer) writeTaskError(w http.ResponseWriter, id string, err error) {
	switch {
	case task.IsUnknown(err), errors.Is(err, notify.ErrTopicClosed):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", id), id)
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error(), id)
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, taskID string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, TaskID: taskID})
}

func parseSince(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since %q", raw)
	}
	return since, nil
}

// parseWait accepts a boolean, a whole number of seconds, or a Go duration.
// "1" and "true" select the default window. Zero means return immediately.
func parseWait(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "0", "false", "no":
		return 0, nil
	case "1", "true", "yes":
		return defaultPollWait, nil
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(raw); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if parsed, err := time.ParseDuration(raw); err == nil {
		wait = parsed
	} else {
		return 0, fmt.Errorf("invalid wait %q", raw)
	}
	if wait < 0 {
		return 0, fmt.Errorf("invalid wait %q", raw)
	}
	if wait > maxPollWait {
		wait = maxPollWait
	}
	return wait, nil
}
