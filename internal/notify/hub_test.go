package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vidscribe/internal/task"
)

const testWait = 2 * time.Second

func snap(id string, rev uint64, progress int, status task.Status, message string) task.Snapshot {
	return task.Snapshot{TaskID: id, Revision: rev, Progress: progress, Status: status, Message: message}
}

func openTopic(h *Hub, id string) {
	h.Open(task.Snapshot{TaskID: id, Status: task.StatusQueued})
}

// collect runs Stream in the background and returns the delivered snapshots
// plus the stream's return value once it ends.
func collect(t *testing.T, ctx context.Context, h *Hub, id string) (func() ([]task.Snapshot, error), <-chan struct{}) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []task.Snapshot
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamErr := h.Stream(ctx, id, 0, func(s task.Snapshot) error {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
			return nil
		})
		mu.Lock()
		err = streamErr
		mu.Unlock()
	}()
	return func() ([]task.Snapshot, error) {
		select {
		case <-done:
		case <-time.After(testWait):
			t.Fatal("stream did not finish")
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]task.Snapshot(nil), got...), err
	}, done
}

func waitForStreams(t *testing.T, h *Hub, want int64) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if h.ActiveStreams() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("active streams = %d, want %d", h.ActiveStreams(), want)
}

func TestStreamFromStartDeliversEveryCommitThenEnds(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	wait, _ := collect(t, context.Background(), h, "t1")
	waitForStreams(t, h, 1)

	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "a"))
	h.Publish(snap("t1", 2, 30, task.StatusConverting, "b"))
	h.Publish(snap("t1", 3, 50, task.StatusTranscribing, "c"))
	h.Publish(snap("t1", 4, 100, task.StatusCompleted, "d"))

	got, err := wait()
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 snapshots, got %d: %+v", len(got), got)
	}
	for i, s := range got {
		if s.Revision != uint64(i+1) {
			t.Fatalf("snapshot %d has revision %d", i, s.Revision)
		}
	}
	if got[3].Status != task.StatusCompleted {
		t.Fatalf("expected terminal last, got %s", got[3].Status)
	}
	waitForStreams(t, h, 0)
}

func TestStreamJoinMidTaskGetsLatestFirst(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "a"))
	h.Publish(snap("t1", 2, 30, task.StatusConverting, "b"))

	wait, _ := collect(t, context.Background(), h, "t1")
	waitForStreams(t, h, 1)
	h.Publish(snap("t1", 3, 100, task.StatusCompleted, "done"))

	got, err := wait()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0].Revision != 2 || got[1].Revision != 3 {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}

func TestStreamCoalescesEqualValues(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	wait, _ := collect(t, context.Background(), h, "t1")
	waitForStreams(t, h, 1)

	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "same"))
	h.Publish(snap("t1", 2, 10, task.StatusDownloading, "same"))
	h.Publish(snap("t1", 3, 10, task.StatusDownloading, "same"))
	h.Publish(snap("t1", 4, 0, task.StatusError, "boom"))

	got, err := wait()
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 2 || got[0].Revision != 1 || got[1].Status != task.StatusError {
		t.Fatalf("expected repeated values to be coalesced, got %+v", got)
	}
}

func TestStreamJoinAfterTerminal(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "a"))
	h.Publish(snap("t1", 2, 0, task.StatusError, "boom"))

	var got []task.Snapshot
	err := h.Stream(context.Background(), "t1", 0, func(s task.Snapshot) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || got[0].Status != task.StatusError {
		t.Fatalf("join after terminal should deliver only the terminal snapshot: %+v", got)
	}
}

func TestStreamResumeFromCursor(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "a"))
	h.Publish(snap("t1", 2, 30, task.StatusConverting, "b"))
	h.Publish(snap("t1", 3, 100, task.StatusCompleted, "c"))

	var revs []uint64
	err := h.Stream(context.Background(), "t1", 1, func(s task.Snapshot) error {
		revs = append(revs, s.Revision)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(revs) != 2 || revs[0] != 2 || revs[1] != 3 {
		t.Fatalf("unexpected revisions: %v", revs)
	}

	calls := 0
	err = h.Stream(context.Background(), "t1", 3, func(task.Snapshot) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Fatalf("resume past terminal should end immediately: err=%v calls=%d", err, calls)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	h := NewHub(Options{})
	err := h.Stream(context.Background(), "ghost", 0, func(task.Snapshot) error { return nil })
	if !task.IsUnknown(err) {
		t.Fatalf("expected unknown task error, got %v", err)
	}
	if _, err := h.Subscribe(context.Background(), "ghost"); !task.IsUnknown(err) {
		t.Fatalf("expected unknown task error from Subscribe, got %v", err)
	}
	if _, err := h.Fetch(context.Background(), "ghost", 0, false); !task.IsUnknown(err) {
		t.Fatalf("expected unknown task error from Fetch, got %v", err)
	}
}

func TestStreamReleasedOnDisconnect(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	ctx, cancel := context.WithCancel(context.Background())
	wait, _ := collect(t, ctx, h, "t1")
	waitForStreams(t, h, 1)

	cancel()
	_, err := wait()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	waitForStreams(t, h, 0)
}

func TestStreamIdleTimeout(t *testing.T) {
	h := NewHub(Options{IdleTimeout: 30 * time.Millisecond})
	openTopic(h, "t1")
	err := h.Stream(context.Background(), "t1", 0, func(task.Snapshot) error { return nil })
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Fatalf("expected ErrLivenessTimeout, got %v", err)
	}
}

func TestStreamMaxWait(t *testing.T) {
	h := NewHub(Options{MaxWait: 80 * time.Millisecond, IdleTimeout: time.Second})
	openTopic(h, "t1")
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		progress := 0
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for rev := uint64(1); ; rev++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				progress++
				h.Publish(snap("t1", rev, progress%100, task.StatusDownloading, ""))
			}
		}
	}()
	err := h.Stream(context.Background(), "t1", 0, func(task.Snapshot) error { return nil })
	if !errors.Is(err, ErrLivenessTimeout) {
		t.Fatalf("expected ErrLivenessTimeout, got %v", err)
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	wait, _ := collect(t, context.Background(), h, "t1")
	waitForStreams(t, h, 1)

	h.Close("t1")
	_, err := wait()
	if !errors.Is(err, ErrTopicClosed) {
		t.Fatalf("expected ErrTopicClosed, got %v", err)
	}
	if h.Topics() != 0 {
		t.Fatalf("expected topic to be removed, have %d", h.Topics())
	}
}

func TestFetchLongPoll(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")

	batch, err := h.Fetch(context.Background(), "t1", 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(batch.Snapshots) != 0 || batch.Done {
		t.Fatalf("unexpected batch before reports: %+v", batch)
	}

	result := make(chan Batch, 1)
	go func() {
		b, fetchErr := h.Fetch(context.Background(), "t1", 0, true)
		if fetchErr != nil {
			t.Errorf("Fetch wait: %v", fetchErr)
		}
		result <- b
	}()
	time.Sleep(20 * time.Millisecond)
	h.Publish(snap("t1", 1, 10, task.StatusDownloading, "a"))

	select {
	case b := <-result:
		if len(b.Snapshots) != 1 || b.Next != 1 || b.Done {
			t.Fatalf("unexpected batch: %+v", b)
		}
	case <-time.After(testWait):
		t.Fatal("long poll did not wake on publish")
	}

	h.Publish(snap("t1", 2, 0, task.StatusError, "boom"))
	b, err := h.Fetch(context.Background(), "t1", 1, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !b.Done || b.Next != 2 {
		t.Fatalf("expected done batch at revision 2: %+v", b)
	}
	b, err = h.Fetch(context.Background(), "t1", 2, true)
	if err != nil || !b.Done || len(b.Snapshots) != 0 {
		t.Fatalf("fetch past terminal must not block: %+v %v", b, err)
	}
}

func TestFetchContextCancel(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Fetch(ctx, "t1", 0, true)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRingOverflowKeepsOrder(t *testing.T) {
	h := NewHub(Options{Buffer: 3})
	openTopic(h, "t1")
	for rev := uint64(1); rev <= 5; rev++ {
		h.Publish(snap("t1", rev, int(rev)*10, task.StatusDownloading, ""))
	}
	b, err := h.Fetch(context.Background(), "t1", 1, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(b.Snapshots) != 3 || b.Snapshots[0].Revision != 3 || b.Next != 5 {
		t.Fatalf("unexpected batch after overflow: %+v", b)
	}
}

func TestPublishIgnoresStaleRevisions(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")
	h.Publish(snap("t1", 2, 20, task.StatusDownloading, ""))
	h.Publish(snap("t1", 1, 10, task.StatusDownloading, ""))
	b, _ := h.Fetch(context.Background(), "t1", 0, false)
	if len(b.Snapshots) != 1 || b.Snapshots[0].Revision != 2 {
		t.Fatalf("stale publish leaked: %+v", b)
	}
	// Unknown topics are ignored.
	h.Publish(snap("ghost", 1, 10, task.StatusDownloading, ""))
}

func TestSlowObserverDoesNotBlockOthers(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "t1")

	slow, err := h.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer slow.Close()
	wait, _ := collect(t, context.Background(), h, "t1")
	waitForStreams(t, h, 2)

	h.Publish(snap("t1", 1, 10, task.StatusDownloading, ""))
	h.Publish(snap("t1", 2, 20, task.StatusDownloading, ""))
	h.Publish(snap("t1", 3, 100, task.StatusCompleted, ""))

	// Nobody reads slow.C yet; the fast observer still finishes.
	got, err := wait()
	if err != nil || len(got) != 3 {
		t.Fatalf("fast observer blocked: %d snapshots, err=%v", len(got), err)
	}

	var slowGot []task.Snapshot
	for s := range slow.C {
		slowGot = append(slowGot, s)
	}
	if len(slowGot) != 3 || slowGot[2].Status != task.StatusCompleted {
		t.Fatalf("slow observer missed snapshots: %+v", slowGot)
	}
	if slow.Err() != nil {
		t.Fatalf("expected clean end, got %v", slow.Err())
	}
}

func TestNoCrossTaskLeakage(t *testing.T) {
	h := NewHub(Options{})
	openTopic(h, "a")
	openTopic(h, "b")
	waitA, _ := collect(t, context.Background(), h, "a")
	waitB, _ := collect(t, context.Background(), h, "b")
	waitForStreams(t, h, 2)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for rev := uint64(1); rev <= 20; rev++ {
				h.Publish(snap(id, rev, int(rev), task.StatusDownloading, id))
			}
			h.Publish(snap(id, 21, 100, task.StatusCompleted, id))
		}(id)
	}
	wg.Wait()

	for id, wait := range map[string]func() ([]task.Snapshot, error){"a": waitA, "b": waitB} {
		got, err := wait()
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		var prev uint64
		for _, s := range got {
			if s.TaskID != id {
				t.Fatalf("observer of %s saw snapshot for %s", id, s.TaskID)
			}
			if s.Revision <= prev {
				t.Fatalf("observer of %s saw out-of-order revision %d after %d", id, s.Revision, prev)
			}
			prev = s.Revision
		}
		if got[len(got)-1].Status != task.StatusCompleted {
			t.Fatalf("observer of %s missed terminal", id)
		}
	}
}
