package progress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"vidscribe/internal/logging"
	"vidscribe/internal/notify"
	"vidscribe/internal/registry"
	"vidscribe/internal/task"
)

const samplerBucket = 10

// Options configures a Publisher.
type Options struct {
	Logger *slog.Logger
	// NewID generates ids for submissions without one. Defaults to UUIDv4.
	NewID func() string
}

// Publisher owns every write to the registry.
type Publisher struct {
	registry *registry.Registry
	hub      *notify.Hub
	logger   *slog.Logger
	newID    func() string

	// lifecycle serializes task creation against topic teardown so a
	// reaped id can be reused safely.
	lifecycle sync.Mutex

	samplerMu sync.Mutex
	samplers  map[string]*logging.ProgressSampler
}

// New wires a publisher to reg and hub. Topics of reaped tasks are closed.
func New(reg *registry.Registry, hub *notify.Hub, opts Options) *Publisher {
	p := &Publisher{
		registry: reg,
		hub:      hub,
		logger:   logging.NewComponentLogger(opts.Logger, "progress"),
		newID:    opts.NewID,
		samplers: make(map[string]*logging.ProgressSampler),
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	reg.OnEvict(p.evict)
	return p
}

// Submit registers a task in queued state and opens its topic. An empty id
// gets a generated one. The returned id is the one observers use.
func (p *Publisher) Submit(ctx context.Context, id, sourceURL string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = p.newID()
	}

	p.lifecycle.Lock()
	snap, err := p.registry.Create(task.State{
		ID:        id,
		SourceURL: strings.TrimSpace(sourceURL),
		Status:    task.StatusQueued,
		Message:   DefaultMessage(task.StatusQueued, 0),
	})
	if err == nil {
		p.hub.Open(snap)
		p.dropSampler(snap.TaskID)
	}
	p.lifecycle.Unlock()
	if err != nil {
		return "", err
	}

	logging.WithContext(ctx, p.logger).Info("task submitted",
		logging.String(logging.FieldTaskID, snap.TaskID),
		logging.String("source_url", snap.SourceURL),
		logging.String(logging.FieldEventType, "task_submitted"),
	)
	return snap.TaskID, nil
}

// Report applies one progress report. Rejected reports leave the task
// untouched and publish nothing.
func (p *Publisher) Report(ctx context.Context, id string, u task.Update) error {
	var (
		from              task.Status
		droppedTranscript bool
	)
	snap, err := p.registry.Apply(id, func(st *task.State) error {
		from = st.Status
		if !task.CanTransition(st.Status, u.Status) {
			return &task.InvalidTransitionError{ID: st.ID, From: st.Status, To: u.Status}
		}
		droppedTranscript = applyUpdate(st, u)
		return nil
	}, p.hub.Publish)

	logger := logging.WithContext(ctx, p.logger)
	if err != nil {
		var invalid *task.InvalidTransitionError
		if errors.As(err, &invalid) {
			logging.WarnWithContext(logger, "progress report rejected", "invalid_transition",
				logging.String(logging.FieldTaskID, invalid.ID),
				logging.String("from", string(invalid.From)),
				logging.String("to", string(invalid.To)),
				logging.Int("progress", u.Progress),
				logging.String(logging.FieldErrorHint, "the pipeline reported out of order or after the task finished"),
				logging.String(logging.FieldImpact, "report dropped; observers keep the previous snapshot"),
			)
		}
		return err
	}

	if droppedTranscript {
		logger.Warn("transcription ignored on non-completed report",
			logging.String(logging.FieldTaskID, snap.TaskID),
			logging.String(logging.FieldStage, string(snap.Status)),
			logging.String(logging.FieldEventType, "transcription_ignored"),
		)
	}
	p.logAccepted(logger, from, snap)
	return nil
}

// Fail reports err as the task's terminal error.
func (p *Publisher) Fail(ctx context.Context, id string, err error) error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return p.Report(ctx, id, task.Update{Progress: 0, Status: task.StatusError, Message: msg, Detail: msg})
}

// Snapshot returns the task's current snapshot.
func (p *Publisher) Snapshot(id string) (task.Snapshot, error) {
	snap, ok := p.registry.Get(id)
	if !ok {
		return task.Snapshot{}, &task.UnknownTaskError{ID: strings.TrimSpace(id)}
	}
	return snap, nil
}

// List returns every retained task, oldest first.
func (p *Publisher) List() []task.Snapshot {
	return p.registry.List()
}

// applyUpdate merges u into st and reports whether a transcription was
// supplied on a status that cannot carry one.
func applyUpdate(st *task.State, u task.Update) bool {
	progress := task.ClampProgress(u.Progress)
	if u.Status != task.StatusError && progress < st.Progress {
		progress = st.Progress
	}
	st.Progress = progress
	st.Status = u.Status

	st.Message = strings.TrimSpace(u.Message)
	if st.Message == "" {
		st.Message = DefaultMessage(u.Status, progress)
	}

	dropped := false
	if u.Transcription != "" {
		if u.Status == task.StatusCompleted {
			st.Transcription = u.Transcription
		} else {
			dropped = true
		}
	}

	if u.Status == task.StatusError {
		detail := strings.TrimSpace(u.Detail)
		if detail == "" {
			detail = st.Message
		}
		st.ErrorDetail = detail
	}
	return dropped
}

func (p *Publisher) logAccepted(logger *slog.Logger, from task.Status, snap task.Snapshot) {
	attrs := []logging.Attr{
		logging.String(logging.FieldTaskID, snap.TaskID),
		logging.String(logging.FieldStage, string(snap.Status)),
		logging.Int("progress", snap.Progress),
		logging.Uint64("revision", snap.Revision),
	}
	switch snap.Status {
	case task.StatusCompleted:
		p.dropSampler(snap.TaskID)
		logger.Info("task completed", logging.Args(append(attrs,
			logging.Int("transcription_chars", len(snap.Transcription)),
			logging.String(logging.FieldEventType, "task_completed"),
		)...)...)
		return
	case task.StatusError:
		p.dropSampler(snap.TaskID)
		logging.WarnWithContext(logger, "task failed", "task_failed", append(attrs,
			logging.String("from", string(from)),
			logging.String("error_detail", snap.ErrorDetail),
			logging.String(logging.FieldErrorHint, "inspect error_detail and the tool output in the daemon log"),
			logging.String(logging.FieldImpact, "no transcription produced for this task"),
		)...)
		return
	}

	attrs = append(attrs, logging.String("message", snap.Message), logging.String(logging.FieldEventType, "task_progress"))
	if p.shouldLog(snap) {
		logger.Info("task progress", logging.Args(attrs...)...)
		return
	}
	logger.Debug("task progress", logging.Args(attrs...)...)
}

func (p *Publisher) shouldLog(snap task.Snapshot) bool {
	p.samplerMu.Lock()
	defer p.samplerMu.Unlock()
	s, ok := p.samplers[snap.TaskID]
	if !ok {
		s = logging.NewProgressSampler(samplerBucket)
		p.samplers[snap.TaskID] = s
	}
	return s.ShouldLog(float64(snap.Progress), string(snap.Status))
}

func (p *Publisher) dropSampler(id string) {
	p.samplerMu.Lock()
	delete(p.samplers, id)
	p.samplerMu.Unlock()
}

// evict closes the topic of a reaped task. An id that is live again belongs
// to a newer submission whose topic Submit already installed.
func (p *Publisher) evict(id string) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if _, ok := p.registry.Get(id); ok {
		return
	}
	p.hub.Close(id)
	p.dropSampler(id)
}
