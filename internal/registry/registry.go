package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"vidscribe/internal/logging"
	"vidscribe/internal/task"
)

// ErrRegistryFull is returned when Create would exceed MaxTasks.
var ErrRegistryFull = errors.New("task registry full")

const (
	defaultRetention     = time.Hour
	defaultSweepInterval = time.Minute
	defaultMaxTasks      = 10000
)

// Options tunes retention and capacity.
type Options struct {
	// Retention is how long a terminal task stays visible after finishing.
	Retention time.Duration
	// SweepInterval is the janitor period used by Run.
	SweepInterval time.Duration
	// MaxTasks bounds live entries; terminal entries count until reaped.
	MaxTasks int
	Logger   *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Registry maps task ids to their current state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	retention     time.Duration
	sweepInterval time.Duration
	maxTasks      int
	logger        *slog.Logger
	now           func() time.Time

	hookMu  sync.Mutex
	onEvict []func(id string)
}

type entry struct {
	mu     sync.Mutex
	state  task.State
	reaped bool
}

// New constructs an empty registry.
func New(opts Options) *Registry {
	r := &Registry{
		entries:       make(map[string]*entry),
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		maxTasks:      opts.MaxTasks,
		logger:        logging.NewComponentLogger(opts.Logger, "registry"),
		now:           opts.Now,
	}
	if r.retention <= 0 {
		r.retention = defaultRetention
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = defaultSweepInterval
	}
	if r.maxTasks <= 0 {
		r.maxTasks = defaultMaxTasks
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// OnEvict registers a hook invoked with each reaped id.
func (r *Registry) OnEvict(fn func(id string)) {
	if fn == nil {
		return
	}
	r.hookMu.Lock()
	r.onEvict = append(r.onEvict, fn)
	r.hookMu.Unlock()
}

// Create registers a new task from seed. Only ID, SourceURL, Status, and
// Message are read from seed; Status defaults to queued.
func (r *Registry) Create(seed task.State) (task.Snapshot, error) {
	id := strings.TrimSpace(seed.ID)
	if id == "" {
		return task.Snapshot{}, errors.New("task id is required")
	}
	status := seed.Status
	if status == "" {
		status = task.StatusQueued
	}
	if status != task.StatusQueued && status != task.StatusDownloading {
		return task.Snapshot{}, fmt.Errorf("task %q cannot start in status %s", id, status)
	}

	now := r.now()
	e := &entry{state: task.State{
		ID:        id,
		SourceURL: seed.SourceURL,
		Status:    status,
		Message:   seed.Message,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return task.Snapshot{}, &task.DuplicateTaskError{ID: id}
	}
	if len(r.entries) >= r.maxTasks {
		return task.Snapshot{}, fmt.Errorf("%w: %d tasks registered", ErrRegistryFull, len(r.entries))
	}
	r.entries[id] = e
	return e.state.Snapshot(), nil
}

// Get returns a copy of the task's current state.
func (r *Registry) Get(id string) (task.Snapshot, bool) {
	e := r.lookup(id)
	if e == nil {
		return task.Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reaped {
		return task.Snapshot{}, false
	}
	return e.state.Snapshot(), true
}

// List returns copies of every registered task ordered by creation time.
func (r *Registry) List() []task.Snapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]task.Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.reaped {
			out = append(out, e.state.Snapshot())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Apply mutates one task under its entry lock. When mutate succeeds the
// revision is bumped, timestamps are stamped, and commit receives the new
// snapshot before the lock is released, so commits for one task are
// delivered in the order they were applied. A mutate error leaves the
// state untouched and skips commit.
func (r *Registry) Apply(id string, mutate func(*task.State) error, commit func(task.Snapshot)) (task.Snapshot, error) {
	e := r.lookup(id)
	if e == nil {
		return task.Snapshot{}, &task.UnknownTaskError{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reaped {
		return task.Snapshot{}, &task.UnknownTaskError{ID: id}
	}

	next := e.state
	if err := mutate(&next); err != nil {
		return e.state.Snapshot(), err
	}
	// Identity and bookkeeping fields belong to the registry.
	next.ID = e.state.ID
	next.SourceURL = e.state.SourceURL
	next.CreatedAt = e.state.CreatedAt
	next.Revision = e.state.Revision + 1
	next.UpdatedAt = r.now()
	if next.Status.IsTerminal() && next.FinishedAt.IsZero() {
		next.FinishedAt = next.UpdatedAt
	}
	e.state = next

	snap := e.state.Snapshot()
	if commit != nil {
		commit(snap)
	}
	return snap, nil
}

// Reap drops terminal tasks whose retention window has elapsed and returns
// their ids.
func (r *Registry) Reap(now time.Time) []string {
	var reaped []string
	r.mu.Lock()
	for id, e := range r.entries {
		e.mu.Lock()
		expired := e.state.Status.IsTerminal() &&
			!e.state.FinishedAt.IsZero() &&
			now.Sub(e.state.FinishedAt) >= r.retention
		if expired {
			e.reaped = true
			delete(r.entries, id)
			reaped = append(reaped, id)
		}
		e.mu.Unlock()
	}
	r.mu.Unlock()

	if len(reaped) == 0 {
		return nil
	}
	sort.Strings(reaped)
	r.hookMu.Lock()
	hooks := append([]func(string){}, r.onEvict...)
	r.hookMu.Unlock()
	for _, id := range reaped {
		for _, hook := range hooks {
			hook(id)
		}
	}
	r.logger.Debug("reaped finished tasks",
		logging.Int("count", len(reaped)),
		logging.Duration("retention", r.retention),
		logging.String(logging.FieldEventType, "registry_reaped"),
	)
	return reaped
}

// Run sweeps expired tasks until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(r.now())
		}
	}
}

// Retention reports the configured retention window.
func (r *Registry) Retention() time.Duration {
	return r.retention
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[strings.TrimSpace(id)]
}
