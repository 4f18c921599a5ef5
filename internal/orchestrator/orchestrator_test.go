package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashwalker/streammux/internal/chat"
	"github.com/ashwalker/streammux/internal/cosmetics"
	"github.com/ashwalker/streammux/internal/emotes"
	"github.com/ashwalker/streammux/internal/outbox"
	"github.com/ashwalker/streammux/internal/platform"
)

type fakeChatMux struct {
	mu     sync.Mutex
	added  []int64
	events chan chat.Event
}

func newFakeChatMux() *fakeChatMux {
	return &fakeChatMux{events: make(chan chat.Event, 64)}
}

func (f *fakeChatMux) AddRoom(ctx context.Context, roomID, ownerID int64, meta map[string]string) {
	f.mu.Lock()
	f.added = append(f.added, roomID)
	f.mu.Unlock()
}
func (f *fakeChatMux) RemoveRoom(roomID int64)          {}
func (f *fakeChatMux) SetLiveSession(roomID, s int64)   {}
func (f *fakeChatMux) Events() <-chan chat.Event        { return f.events }
func (f *fakeChatMux) Close()                           {}

func (f *fakeChatMux) addedRooms() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.added...)
}

type fakeCosmeticsMux struct {
	mu     sync.Mutex
	added  []int64
	events chan cosmetics.Event
}

func newFakeCosmeticsMux() *fakeCosmeticsMux {
	return &fakeCosmeticsMux{events: make(chan cosmetics.Event, 64)}
}

func (f *fakeCosmeticsMux) AddRoom(roomID int64, p, c, e string) {
	f.mu.Lock()
	f.added = append(f.added, roomID)
	f.mu.Unlock()
}
func (f *fakeCosmeticsMux) RemoveRoom(roomID int64)       {}
func (f *fakeCosmeticsMux) Events() <-chan cosmetics.Event { return f.events }
func (f *fakeCosmeticsMux) Close()                        {}

type fakeClient struct {
	mu            sync.Mutex
	backfills     map[int64]int
	backfillErr   map[int64]error
	roomStateErr  map[int64]error
	emoteErr      error
	catalogCalls  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		backfills:    make(map[int64]int),
		backfillErr:  make(map[int64]error),
		roomStateErr: make(map[int64]error),
	}
}

func (f *fakeClient) Backfill(ctx context.Context, roomID int64) (*platform.BackfillResponse, error) {
	f.mu.Lock()
	f.backfills[roomID]++
	err := f.backfillErr[roomID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &platform.BackfillResponse{}, nil
}

func (f *fakeClient) RoomState(ctx context.Context, roomID int64) (*platform.RoomStateResponse, error) {
	f.mu.Lock()
	err := f.roomStateErr[roomID]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &platform.RoomStateResponse{ID: roomID}, nil
}

func (f *fakeClient) ChannelEmotes(ctx context.Context, channel string) (*platform.ChannelEmotesResponse, error) {
	if f.emoteErr != nil {
		return nil, f.emoteErr
	}
	return &platform.ChannelEmotesResponse{Sets: []platform.APIEmoteSet{
		{ID: "set-" + channel, Kind: "channel", Emotes: []platform.APIEmote{{ID: "e1", Name: "catJAM"}}},
	}}, nil
}

func (f *fakeClient) CosmeticsCatalog(ctx context.Context) (*platform.CosmeticsCatalogResponse, error) {
	f.mu.Lock()
	f.catalogCalls++
	f.mu.Unlock()
	return &platform.CosmeticsCatalogResponse{Badges: []platform.Badge{{ID: "b1"}}}, nil
}

func (f *fakeClient) backfillCount(roomID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backfills[roomID]
}

type stubIdentity struct{}

func (stubIdentity) Identity(context.Context) (outbox.Identity, error) {
	return outbox.Identity{ID: "u1", Username: "self"}, nil
}

type stubSender struct{}

func (stubSender) SendMessage(context.Context, int64, string, string, map[string]string) error {
	return nil
}

type testHarness struct {
	orch *Orchestrator
	chat *fakeChatMux
	cos  *fakeCosmeticsMux
	cli  *fakeClient
	rec  *emotes.Reconciler
	box  *outbox.Coordinator
}

func newHarness(cfg Config) *testHarness {
	h := &testHarness{
		chat: newFakeChatMux(),
		cos:  newFakeCosmeticsMux(),
		cli:  newFakeClient(),
		rec:  emotes.New(nil, nil),
		box:  outbox.New(outbox.DefaultConfig(), stubIdentity{}, stubSender{}, nil, nil, nil),
	}
	h.orch = New(cfg, h.chat, h.cos, h.cli, h.rec, h.box, nil, nil)
	return h
}

func connectBoth(h *testHarness) {
	h.chat.events <- chat.Event{Kind: chat.EventConnection, Connected: true}
	h.cos.events <- cosmetics.Event{Kind: cosmetics.EventConnection, Connected: true}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Stagger = time.Millisecond
	cfg.FirstSuccessTimeout = time.Second
	cfg.RetryInterval = time.Hour
	return cfg
}

func waitLoaded(t *testing.T, o *Orchestrator, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for o.LoadedCount() < n {
		select {
		case <-deadline:
			t.Fatalf("loaded = %d, want %d", o.LoadedCount(), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestInitialize_WaitsForBothSockets(t *testing.T) {
	h := newHarness(fastConfig())
	connectBoth(h)

	err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5, Channel: "five"}})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitLoaded(t, h.orch, 1)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.orch.Stop(stopCtx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestInitialize_TimesOutWithoutCosmetics(t *testing.T) {
	cfg := fastConfig()
	cfg.FirstSuccessTimeout = 50 * time.Millisecond
	h := newHarness(cfg)
	h.chat.events <- chat.Event{Kind: chat.EventConnection, Connected: true}

	err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5}})
	if !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("err = %v, want ErrInitTimeout", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestInitialize_CosmeticsRejectionDoesNotBlock(t *testing.T) {
	h := newHarness(fastConfig())
	h.chat.events <- chat.Event{Kind: chat.EventConnection, Connected: true}
	h.cos.events <- cosmetics.Event{Kind: cosmetics.EventRejected}

	if err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestAdmission_LiveRoomsFirst(t *testing.T) {
	h := newHarness(fastConfig())
	connectBoth(h)

	rooms := []RoomSpec{
		{ID: 1}, {ID: 2, Live: true}, {ID: 3}, {ID: 4, Live: true}, {ID: 5},
	}
	if err := h.orch.Initialize(context.Background(), rooms); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitLoaded(t, h.orch, 5)

	added := h.chat.addedRooms()
	if len(added) != 5 {
		t.Fatalf("added = %v, want 5 rooms", added)
	}
	// The first wave holds exactly the live rooms.
	first := map[int64]bool{added[0]: true, added[1]: true}
	if !first[2] || !first[4] {
		t.Errorf("first wave = %v, want live rooms 2 and 4", added[:2])
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestAdmission_EmoteFailureNeverBlocks(t *testing.T) {
	h := newHarness(fastConfig())
	h.cli.emoteErr = errors.New("emote service down")
	connectBoth(h)

	if err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5, Channel: "five"}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitLoaded(t, h.orch, 1)

	st, _ := h.orch.Status(5)
	if !st.Loaded || st.LastErr != nil {
		t.Errorf("status = %+v, want loaded despite emote failure", st)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestAdmission_BackfillFailureLeavesRoomRetryable(t *testing.T) {
	h := newHarness(fastConfig())
	h.cli.backfillErr[5] = errors.New("backfill down")
	connectBoth(h)

	if err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		st, ok := h.orch.Status(5)
		if ok && st.Admitted {
			if st.Loaded {
				t.Fatal("room loaded despite backfill failure")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("room never admitted")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Clearing the failure and re-admitting loads the room.
	h.cli.mu.Lock()
	delete(h.cli.backfillErr, 5)
	h.cli.mu.Unlock()

	if err := h.orch.EnsureAdmitted(context.Background(), 5); err != nil {
		t.Fatalf("EnsureAdmitted: %v", err)
	}
	if h.orch.LoadedCount() != 1 {
		t.Error("room not loaded after retry")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestEnsureAdmitted_DeferredIdempotent(t *testing.T) {
	h := newHarness(fastConfig())
	connectBoth(h)

	if err := h.orch.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	h.orch.RegisterDeferred(RoomSpec{ID: 9, Channel: "nine"})
	if h.cli.backfillCount(9) != 0 {
		t.Fatal("deferred registration triggered fetches")
	}

	if err := h.orch.EnsureAdmitted(context.Background(), 9); err != nil {
		t.Fatalf("EnsureAdmitted: %v", err)
	}
	if err := h.orch.EnsureAdmitted(context.Background(), 9); err != nil {
		t.Fatalf("EnsureAdmitted repeat: %v", err)
	}
	if n := h.cli.backfillCount(9); n != 1 {
		t.Errorf("backfill calls = %d, want 1 (loaded-set short-circuit)", n)
	}

	if err := h.orch.EnsureAdmitted(context.Background(), 404); !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("EnsureAdmitted(unknown) = %v, want ErrUnknownRoom", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestChatMessage_ReconciledIntoOutboxOnce(t *testing.T) {
	h := newHarness(fastConfig())
	connectBoth(h)

	if err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitLoaded(t, h.orch, 1)

	payload, _ := json.Marshal(chat.Message{
		ID: "m1", ChatroomID: 5, Content: "hello", Type: "message",
		CreatedAt: time.Now(), Sender: chat.Sender{ID: 700, Username: "someone"},
	})
	ev := chat.Event{
		Kind:   chat.EventMessage,
		RoomID: 5,
		Frame:  chat.Frame{Kind: chat.KindChatMessage, Data: payload},
	}
	h.chat.events <- ev
	h.chat.events <- ev // duplicate must be suppressed

	deadline := time.After(2 * time.Second)
	for len(h.box.Messages(5)) == 0 {
		select {
		case <-deadline:
			t.Fatal("message never reconciled")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)

	msgs := h.box.Messages(5)
	if len(msgs) != 1 {
		t.Fatalf("outbox entries = %d, want 1 (dedup)", len(msgs))
	}
	if msgs[0].ServerID != "m1" || msgs[0].State != outbox.StateConfirmed {
		t.Errorf("entry = %+v", msgs[0])
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}

func TestEmoteSetUpdate_AppliedToReconciler(t *testing.T) {
	h := newHarness(fastConfig())
	connectBoth(h)

	if err := h.orch.Initialize(context.Background(), []RoomSpec{{ID: 5, Channel: "five", EmoteSetID: "set-five"}}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitLoaded(t, h.orch, 1)

	body := []byte(`{
		"id": "set-five",
		"actor": {"display_name": "mod_user"},
		"pushed": [{"value": {"id": "e2", "name": "KEKW", "owner": {"id": "u9"}}}]
	}`)
	h.cos.events <- cosmetics.Event{
		Kind:   cosmetics.EventMessage,
		RoomID: 5,
		Frame:  cosmetics.Frame{Kind: cosmetics.KindEmoteSetUpdate, Body: body, Timestamp: 100},
	}

	deadline := time.After(2 * time.Second)
	for {
		set, ok := h.rec.Set("set-five")
		if ok && len(set.Emotes) == 2 {
			break
		}
		select {
		case <-deadline:
			set, _ := h.rec.Set("set-five")
			t.Fatalf("set = %+v, want catJAM and KEKW", set.Emotes)
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h.orch.Stop(stopCtx)
}
