package notify

import (
	"context"
	"sync"

	"vidscribe/internal/task"
)

// Subscription is a push-style delivery stream for one observer.
type Subscription struct {
	// C receives snapshots in commit order and closes when delivery ends.
	C <-chan task.Snapshot

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Subscribe joins the task's topic at the moment of the call. The first
// snapshot delivered is the latest committed one (if any report has been
// committed), followed by every later commit. The subscription ends after the terminal snapshot, when ctx
// ends, on Close, or when a liveness bound trips; all of its resources are
// released on every path.
func (h *Hub) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	t := h.lookup(id)
	if t == nil {
		return nil, &task.UnknownTaskError{ID: id}
	}
	cursor := t.joinCursor()
	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan task.Snapshot)
	sub := &Subscription{
		C:      ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.active.Add(1)
	go func() {
		defer close(sub.done)
		defer close(ch)
		defer cancel()
		defer h.active.Add(-1)
		err := h.stream(subCtx, t, cursor, func(snap task.Snapshot) error {
			select {
			case ch <- snap:
				return nil
			case <-subCtx.Done():
				return subCtx.Err()
			}
		})
		sub.mu.Lock()
		sub.err = err
		sub.mu.Unlock()
	}()
	return sub, nil
}

// Close stops delivery and waits for the subscription goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once delivery has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why delivery ended. It is nil after a terminal snapshot and
// only meaningful once Done is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
