package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vidscribe/internal/logging"
	"vidscribe/internal/task"
)

var (
	// ErrLivenessTimeout ends a stream that outlived MaxWait or saw nothing
	// new for IdleTimeout.
	ErrLivenessTimeout = errors.New("notification stream liveness timeout")
	// ErrTopicClosed ends waiters on a topic that was dropped.
	ErrTopicClosed = errors.New("notification topic closed")
)

const defaultBuffer = 64

// Options tunes buffering and liveness.
type Options struct {
	// Buffer is the number of snapshots retained per task.
	Buffer int
	// MaxWait caps the lifetime of one stream. Zero disables the cap.
	MaxWait time.Duration
	// IdleTimeout ends a stream with no new snapshot in this window. Zero
	// disables it.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Hub owns the per-task topics.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic

	buffer      int
	maxWait     time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger

	active atomic.Int64
}

// Batch is the result of one Fetch.
type Batch struct {
	Snapshots []task.Snapshot `json:"snapshots"`
	// Next is the cursor to pass as since on the following call.
	Next uint64 `json:"next"`
	// Done is set once the terminal snapshot is at or before Next.
	Done bool `json:"done"`
}

// NewHub constructs an empty hub.
func NewHub(opts Options) *Hub {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		topics:      make(map[string]*topic),
		buffer:      buffer,
		maxWait:     opts.MaxWait,
		idleTimeout: opts.IdleTimeout,
		logger:      logging.NewComponentLogger(opts.Logger, "notify"),
	}
}

// Open installs a fresh topic for a newly registered task. A topic left
// over from an earlier task with the same id is closed and replaced, so its
// waiters end with ErrTopicClosed and its revisions never shadow the new
// task's.
func (h *Hub) Open(initial task.Snapshot) {
	t := &topic{id: initial.TaskID, capacity: h.buffer, latest: initial}
	t.cond = sync.NewCond(&t.mu)
	h.mu.Lock()
	stale := h.topics[initial.TaskID]
	h.topics[initial.TaskID] = t
	h.mu.Unlock()
	if stale != nil {
		stale.close()
	}
}

// Publish appends a committed snapshot and wakes every waiter on its topic.
// Snapshots at or below the latest revision are ignored.
func (h *Hub) Publish(snap task.Snapshot) {
	t := h.lookup(snap.TaskID)
	if t == nil {
		h.logger.Debug("publish for task without topic",
			logging.String(logging.FieldTaskID, snap.TaskID),
			logging.String(logging.FieldEventType, "notify_topic_missing"),
		)
		return
	}
	t.publish(snap)
}

// Close drops a topic and releases everyone waiting on it.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	t := h.topics[id]
	delete(h.topics, id)
	h.mu.Unlock()
	if t != nil {
		t.close()
	}
}

// Shutdown closes every topic.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]*topic)
	h.mu.Unlock()
	for _, t := range topics {
		t.close()
	}
}

// Topics reports the number of open topics.
func (h *Hub) Topics() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}

// ActiveStreams reports how many Stream loops are currently running.
func (h *Hub) ActiveStreams() int64 {
	return h.active.Load()
}

// Fetch returns buffered snapshots newer than since. When wait is true it
// blocks until one arrives, the terminal snapshot has already been passed,
// the topic closes, or ctx ends. since == 0 starts from the latest committed
// snapshot.
func (h *Hub) Fetch(ctx context.Context, id string, since uint64, wait bool) (Batch, error) {
	t := h.lookup(id)
	if t == nil {
		return Batch{Next: since}, &task.UnknownTaskError{ID: id}
	}
	if since == 0 {
		since = t.joinCursor()
	}
	return t.fetch(ctx, since, wait)
}

// Stream delivers snapshots to fn in revision order, skipping any snapshot
// equal in value to the previously delivered one. It returns nil right
// after fn receives the terminal snapshot, ctx.Err() when the caller goes
// away, ErrLivenessTimeout when a liveness bound trips, or fn's error.
// since == 0 joins at the latest committed snapshot.
func (h *Hub) Stream(ctx context.Context, id string, since uint64, fn func(task.Snapshot) error) error {
	t := h.lookup(id)
	if t == nil {
		return &task.UnknownTaskError{ID: id}
	}
	cursor := since
	if cursor == 0 {
		cursor = t.joinCursor()
	}
	h.active.Add(1)
	defer h.active.Add(-1)
	return h.stream(ctx, t, cursor, fn)
}

// stream runs the delivery loop from an already resolved cursor; cursor 0
// delivers every buffered snapshot.
func (h *Hub) stream(ctx context.Context, t *topic, cursor uint64, fn func(task.Snapshot) error) error {
	id := t.id
	streamCtx := ctx
	if h.maxWait > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, h.maxWait)
		defer cancel()
	}

	var (
		last    task.Snapshot
		emitted bool
	)
	stopped := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			h.logger.Debug("stream liveness bound reached",
				logging.String(logging.FieldTaskID, id),
				logging.Uint64("cursor", cursor),
				logging.String(logging.FieldEventType, "notify_liveness_timeout"),
			)
			return ErrLivenessTimeout
		}
		return err
	}
	for {
		if err := streamCtx.Err(); err != nil {
			return stopped(err)
		}
		waitCtx, cancel := streamCtx, context.CancelFunc(func() {})
		if h.idleTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(streamCtx, h.idleTimeout)
		}
		batch, err := t.fetch(waitCtx, cursor, true)
		cancel()
		if err != nil {
			return stopped(err)
		}
		for _, snap := range batch.Snapshots {
			if emitted && last.SameValue(snap) {
				continue
			}
			if err := fn(snap); err != nil {
				return err
			}
			last, emitted = snap, true
			if snap.IsTerminal() {
				return nil
			}
		}
		cursor = batch.Next
		if batch.Done {
			return nil
		}
	}
}

func (h *Hub) lookup(id string) *topic {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topics[id]
}

type topic struct {
	id       string
	mu       sync.Mutex
	cond     *sync.Cond
	ring     []task.Snapshot
	capacity int
	latest   task.Snapshot
	closed   bool
}

func (t *topic) publish(snap task.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || snap.Revision <= t.latest.Revision {
		return
	}
	if len(t.ring) == t.capacity {
		copy(t.ring, t.ring[1:])
		t.ring = t.ring[:t.capacity-1]
	}
	t.ring = append(t.ring, snap)
	t.latest = snap
	t.cond.Broadcast()
}

func (t *topic) close() {
	t.mu.Lock()
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

// joinCursor positions a new observer just before the latest committed
// snapshot. A task with no committed reports yields 0.
func (t *topic) joinCursor() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest.Revision == 0 {
		return 0
	}
	return t.latest.Revision - 1
}

func (t *topic) fetch(ctx context.Context, since uint64, wait bool) (Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stop := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				t.mu.Lock()
				t.cond.Broadcast()
				t.mu.Unlock()
			case <-stop:
			}
		}()
	}
	defer close(stop)

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		batch := t.batchLocked(since)
		if len(batch.Snapshots) > 0 || batch.Done || !wait {
			return batch, nil
		}
		if t.closed {
			return batch, ErrTopicClosed
		}
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		t.cond.Wait()
	}
}

func (t *topic) batchLocked(since uint64) Batch {
	if since > t.latest.Revision {
		since = t.latest.Revision
	}
	var out []task.Snapshot
	for _, snap := range t.ring {
		if snap.Revision > since {
			out = append(out, snap)
		}
	}
	next := since
	if len(out) > 0 {
		next = out[len(out)-1].Revision
	}
	return Batch{
		Snapshots: out,
		Next:      next,
		Done:      t.latest.IsTerminal() && next >= t.latest.Revision,
	}
}
