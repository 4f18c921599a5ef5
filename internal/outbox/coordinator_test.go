package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeIdentity struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeIdentity) Identity(context.Context) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Identity{}, f.err
	}
	return Identity{ID: "u1", Username: "self"}, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func newFakeSender(err error) *fakeSender {
	return &fakeSender{err: err, done: make(chan struct{}, 16)}
}

func (f *fakeSender) SendMessage(ctx context.Context, roomID int64, content, kind string, meta map[string]string) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	f.done <- struct{}{}
	return err
}

func (f *fakeSender) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("remote send never issued")
	}
}

type fakeHistory struct {
	mu   sync.Mutex
	msgs []Message
}

func (f *fakeHistory) Write(msg Message) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

func newTestCoordinator(sender *fakeSender) (*Coordinator, *fakeIdentity, *fakeHistory) {
	ids := &fakeIdentity{}
	hist := &fakeHistory{}
	c := New(DefaultConfig(), ids, sender, hist, nil, nil)
	return c, ids, hist
}

func waitState(t *testing.T, c *Coordinator, roomID int64, localID string, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range c.Messages(roomID) {
			if m.LocalID == localID && m.State == want {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("entry %s never reached state %v", localID, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSend_RejectsEmptyContent(t *testing.T) {
	c, _, _ := newTestCoordinator(newFakeSender(nil))
	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := c.Send(context.Background(), 5, content, "message", nil); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Send(%q) err = %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestSend_OptimisticEntryAndLazyIdentity(t *testing.T) {
	sender := newFakeSender(nil)
	c, ids, _ := newTestCoordinator(sender)

	id1, err := c.Send(context.Background(), 5, "hello", "message", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	sender.waitCall(t)
	if _, err := c.Send(context.Background(), 5, "again", "message", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sender.waitCall(t)

	if ids.calls != 1 {
		t.Errorf("identity calls = %d, want 1 (cached after first send)", ids.calls)
	}

	msgs := c.Messages(5)
	if len(msgs) != 2 {
		t.Fatalf("window = %d entries, want 2", len(msgs))
	}
	if msgs[0].LocalID != id1 || msgs[0].State != StateOptimistic || msgs[0].SenderID != "u1" {
		t.Errorf("entry = %+v", msgs[0])
	}
}

func TestSend_IdentityFailureSurfaces(t *testing.T) {
	c, ids, _ := newTestCoordinator(newFakeSender(nil))
	ids.err = errors.New("identity service down")
	if _, err := c.Send(context.Background(), 5, "hello", "message", nil); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("err = %v, want ErrNoIdentity", err)
	}
}

func TestSend_SynchronousRejectionFailsEntry(t *testing.T) {
	sender := newFakeSender(errors.New("auth rejected"))
	c, _, _ := newTestCoordinator(sender)

	id, err := c.Send(context.Background(), 5, "hello", "message", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	sender.waitCall(t)
	waitState(t, c, 5, id, StateFailed)
}

func TestReconcile_MatchTransitionsExactlyOnce(t *testing.T) {
	sender := newFakeSender(nil)
	c, _, hist := newTestCoordinator(sender)

	id, _ := c.Send(context.Background(), 5, "hello", "message", nil)
	sender.waitCall(t)

	at := time.Now()
	got := c.Reconcile(5, "srv-1", "u1", "self", "hello", "message", at)
	if got.LocalID != id || got.State != StateConfirmed || got.ServerID != "srv-1" {
		t.Errorf("reconciled = %+v", got)
	}

	// The same confirmation again must append, not re-transition.
	c.Reconcile(5, "srv-2", "u1", "self", "hello", "message", at.Add(time.Second))
	msgs := c.Messages(5)
	if len(msgs) != 2 {
		t.Fatalf("window = %d entries, want 2", len(msgs))
	}

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.msgs) != 2 {
		t.Errorf("history writes = %d, want 2", len(hist.msgs))
	}
}

func TestReconcile_ForeignMessageAppends(t *testing.T) {
	c, _, _ := newTestCoordinator(newFakeSender(nil))
	got := c.Reconcile(5, "srv-9", "u2", "other_user", "hi all", "message", time.Now())
	if got.State != StateConfirmed || got.Sender != "other_user" {
		t.Errorf("entry = %+v", got)
	}
	if len(c.Messages(5)) != 1 {
		t.Errorf("window = %d entries, want 1", len(c.Messages(5)))
	}
}

func TestExpireStale_TimesOutOptimisticEntries(t *testing.T) {
	sender := newFakeSender(nil)
	c, _, _ := newTestCoordinator(sender)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	id, _ := c.Send(context.Background(), 5, "hello", "message", nil)
	sender.waitCall(t)

	c.expireStale(base.Add(29 * time.Second))
	if m := c.Messages(5)[0]; m.State != StateOptimistic {
		t.Fatalf("state = %v before timeout, want optimistic", m.State)
	}

	c.expireStale(base.Add(31 * time.Second))
	waitState(t, c, 5, id, StateFailed)
}

func TestRetry_ReissuesAndDiscardsStaleEntry(t *testing.T) {
	sender := newFakeSender(errors.New("transient"))
	c, _, _ := newTestCoordinator(sender)

	id, _ := c.Send(context.Background(), 5, "hello", "message", map[string]string{"reply_to": "7"})
	sender.waitCall(t)
	waitState(t, c, 5, id, StateFailed)

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	newID, err := c.Retry(context.Background(), id)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	sender.waitCall(t)
	if newID == id {
		t.Error("Retry reused the stale local id")
	}

	msgs := c.Messages(5)
	if len(msgs) != 1 {
		t.Fatalf("window = %d entries, want 1 (stale discarded)", len(msgs))
	}
	if msgs[0].LocalID != newID || msgs[0].Meta["reply_to"] != "7" {
		t.Errorf("entry = %+v, want retried entry with original meta", msgs[0])
	}

	if _, err := c.Retry(context.Background(), "nope"); !errors.Is(err, ErrUnknownEntry) {
		t.Errorf("Retry(unknown) err = %v", err)
	}
	if _, err := c.Retry(context.Background(), newID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Retry(optimistic) err = %v", err)
	}
}

func TestOrdering_MixedWindowSortsChronologically(t *testing.T) {
	sender := newFakeSender(nil)
	c, _, _ := newTestCoordinator(sender)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Confirmed-only entries arrive out of order and stay that way.
	c.Reconcile(5, "s2", "u2", "b", "second", "message", base.Add(2*time.Second))
	c.Reconcile(5, "s1", "u2", "b", "first", "message", base.Add(1*time.Second))
	msgs := c.Messages(5)
	if msgs[0].Content != "second" {
		t.Fatalf("homogeneous window was reordered: %+v", msgs)
	}

	// One optimistic entry makes the window mixed and sorted.
	c.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	c.Send(context.Background(), 5, "mine", "message", nil)
	sender.waitCall(t)

	msgs = c.Messages(5)
	want := []string{"mine", "first", "second"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("order = %v, want %v", contents(msgs), want)
		}
	}
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestRetention_DoublesWhilePaused(t *testing.T) {
	sender := newFakeSender(nil)
	ids := &fakeIdentity{}
	cfg := DefaultConfig()
	cfg.Retention = 4
	c := New(cfg, ids, sender, nil, nil, nil)

	fill := func(n, offset int) {
		for i := 0; i < n; i++ {
			c.Reconcile(5, fmt.Sprintf("s%d", offset+i), "u2", "b", fmt.Sprintf("m%d", offset+i), "message", time.Now())
		}
	}

	fill(6, 0)
	if n := len(c.Messages(5)); n != 4 {
		t.Fatalf("window = %d, want trimmed to 4", n)
	}

	c.Pause(5, true)
	fill(6, 10)
	if n := len(c.Messages(5)); n != 8 {
		t.Fatalf("paused window = %d, want 8", n)
	}

	c.Pause(5, false)
	if n := len(c.Messages(5)); n != 4 {
		t.Fatalf("resumed window = %d, want trimmed back to 4", n)
	}
}
