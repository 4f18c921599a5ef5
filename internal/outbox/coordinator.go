package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashwalker/streammux/internal/observe"
)

// IdentityProvider supplies the current session identity.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// Sender performs the remote message send.
type Sender interface {
	SendMessage(ctx context.Context, roomID int64, content, kind string, meta map[string]string) error
}

// HistorySink receives confirmed messages. Implementations must not block.
type HistorySink interface {
	Write(msg Message)
}

// Coordinator owns the per-room outbox windows. Sent messages appear
// immediately as optimistic entries, then reconcile against inbound
// confirmations or degrade to failed.
type Coordinator struct {
	cfg     Config
	logger  *slog.Logger
	ids     IdentityProvider
	sender  Sender
	history HistorySink
	sink    observe.Sink

	now func() time.Time

	mu    sync.Mutex
	ident *Identity
	rooms map[int64]*window

	stopOnce sync.Once
	stop     chan struct{}
}

type window struct {
	entries []*Message
	paused  bool
}

// New creates a Coordinator. history and sink may be nil.
func New(cfg Config, ids IdentityProvider, sender Sender, history HistorySink, sink observe.Sink, logger *slog.Logger) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		logger:  logger.With("component", "outbox"),
		ids:     ids,
		sender:  sender,
		history: history,
		sink:    sink,
		now:     time.Now,
		rooms:   make(map[int64]*window),
		stop:    make(chan struct{}),
	}
}

// Start runs the stale-entry sweep until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				c.expireStale(c.now())
			}
		}
	}()
}

// Stop halts the sweep loop.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Send creates an optimistic entry and issues the remote send
// asynchronously. It returns the entry's local id.
func (c *Coordinator) Send(ctx context.Context, roomID int64, content, kind string, meta map[string]string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	ident, err := c.identity(ctx)
	if err != nil {
		return "", err
	}

	entry := &Message{
		LocalID:   uuid.NewString(),
		RoomID:    roomID,
		SenderID:  ident.ID,
		Sender:    ident.Username,
		Content:   content,
		Kind:      kind,
		Meta:      meta,
		State:     StateOptimistic,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	w := c.window(roomID)
	w.entries = append(w.entries, entry)
	c.settle(w)
	c.mu.Unlock()

	observe.Count(c.sink, "outbox.sent", 1)

	send := context.WithoutCancel(ctx)
	go func() {
		if err := c.sender.SendMessage(send, roomID, content, kind, meta); err != nil {
			c.logger.Warn("remote send rejected", "room_id", roomID, "error", err)
			c.markFailed(entry.LocalID)
		}
	}()

	return entry.LocalID, nil
}

// Reconcile matches one inbound confirmed message against the room's
// optimistic entries. A match transitions that entry in place; anything
// else is appended as a new confirmed entry. The confirmed message is
// handed to the history sink either way.
func (c *Coordinator) Reconcile(roomID int64, serverID, senderID, sender, content, kind string, at time.Time) Message {
	c.mu.Lock()
	w := c.window(roomID)

	var entry *Message
	for _, e := range w.entries {
		if e.State == StateOptimistic && e.Content == content && e.SenderID == senderID && e.Kind == kind {
			entry = e
			break
		}
	}
	if entry != nil {
		entry.State = StateConfirmed
		entry.ServerID = serverID
		if !at.IsZero() {
			entry.CreatedAt = at
		}
	} else {
		if at.IsZero() {
			at = c.now()
		}
		entry = &Message{
			LocalID:   uuid.NewString(),
			ServerID:  serverID,
			RoomID:    roomID,
			SenderID:  senderID,
			Sender:    sender,
			Content:   content,
			Kind:      kind,
			State:     StateConfirmed,
			CreatedAt: at,
		}
		w.entries = append(w.entries, entry)
	}
	c.settle(w)
	out := *entry
	c.mu.Unlock()

	if c.history != nil {
		c.history.Write(out)
	}
	observe.Count(c.sink, "outbox.confirmed", 1)
	return out
}

// Retry re-issues a failed entry with its original content and metadata,
// discarding the stale entry.
func (c *Coordinator) Retry(ctx context.Context, localID string) (string, error) {
	c.mu.Lock()
	var stale *Message
	var w *window
	for _, win := range c.rooms {
		for _, e := range win.entries {
			if e.LocalID == localID {
				stale, w = e, win
				break
			}
		}
		if stale != nil {
			break
		}
	}
	if stale == nil {
		c.mu.Unlock()
		return "", ErrUnknownEntry
	}
	if stale.State != StateFailed {
		c.mu.Unlock()
		return "", ErrNotFailed
	}
	for i, e := range w.entries {
		if e == stale {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	return c.Send(ctx, stale.RoomID, stale.Content, stale.Kind, stale.Meta)
}

// Pause widens the room's retention window while it is under review and
// trims it back on resume.
func (c *Coordinator) Pause(roomID int64, paused bool) {
	c.mu.Lock()
	w := c.window(roomID)
	w.paused = paused
	c.trim(w)
	c.mu.Unlock()
}

// Messages returns a copy of the room's current window.
func (c *Coordinator) Messages(roomID int64) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]Message, len(w.entries))
	for i, e := range w.entries {
		out[i] = *e
	}
	return out
}

// DropRoom discards a room's window on eviction.
func (c *Coordinator) DropRoom(roomID int64) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *Coordinator) identity(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	if c.ident != nil {
		ident := *c.ident
		c.mu.Unlock()
		return ident, nil
	}
	c.mu.Unlock()

	ident, err := c.ids.Identity(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	c.mu.Lock()
	if c.ident == nil {
		c.ident = &ident
	}
	ident = *c.ident
	c.mu.Unlock()
	return ident, nil
}

func (c *Coordinator) markFailed(localID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.rooms {
		for _, e := range w.entries {
			if e.LocalID == localID && e.State == StateOptimistic {
				e.State = StateFailed
				return
			}
		}
	}
}

// expireStale fails optimistic entries older than the confirm timeout.
func (c *Coordinator) expireStale(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expired := 0
	for _, w := range c.rooms {
		for _, e := range w.entries {
			if e.State == StateOptimistic && now.Sub(e.CreatedAt) > c.cfg.ConfirmTimeout {
				e.State = StateFailed
				expired++
			}
		}
	}
	if expired > 0 {
		c.logger.Warn("optimistic entries timed out", "count", expired)
	}
}

// window returns the room's window, creating it on first use. Callers
// hold c.mu.
func (c *Coordinator) window(roomID int64) *window {
	w, ok := c.rooms[roomID]
	if !ok {
		w = &window{}
		c.rooms[roomID] = w
	}
	return w
}

// settle restores chronological order when the window mixes optimistic
// and confirmed entries, then trims it. A homogeneous window keeps its
// arrival order. Callers hold c.mu.
func (c *Coordinator) settle(w *window) {
	var optimistic, confirmed bool
	for _, e := range w.entries {
		switch e.State {
		case StateOptimistic:
			optimistic = true
		case StateConfirmed:
			confirmed = true
		}
	}
	if optimistic && confirmed {
		sort.SliceStable(w.entries, func(i, j int) bool {
			return w.entries[i].CreatedAt.Before(w.entries[j].CreatedAt)
		})
	}
	c.trim(w)
}

func (c *Coordinator) trim(w *window) {
	limit := c.cfg.Retention
	if w.paused {
		limit *= 2
	}
	if over := len(w.entries) - limit; over > 0 {
		w.entries = append([]*Message(nil), w.entries[over:]...)
	}
}
