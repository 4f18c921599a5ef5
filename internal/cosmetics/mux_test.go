package cosmetics

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashwalker/streammux/internal/socket"
)

type fakeConn struct {
	mu          sync.Mutex
	sent        [][]byte
	connects    int
	disconnects int
	state       socket.State

	frames chan socket.Frame
	events chan socket.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan socket.Frame, 64),
		events: make(chan socket.Event, 16),
	}
}

func (f *fakeConn) Connect() {
	f.mu.Lock()
	f.connects++
	f.state = socket.StateConnected
	f.mu.Unlock()
	f.events <- socket.Event{Kind: socket.EventConnected}
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.state = socket.StateDisconnected
	f.mu.Unlock()
}

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), payload...))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Frames() <-chan socket.Frame { return f.frames }
func (f *fakeConn) Events() <-chan socket.Event { return f.events }

func (f *fakeConn) State() socket.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) sentPayloads() []outEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]outEnvelope, 0, len(f.sent))
	for _, raw := range f.sent {
		var env outEnvelope
		json.Unmarshal(raw, &env)
		out = append(out, env)
	}
	return out
}

func waitSent(t *testing.T, fc *fakeConn, n int) []outEnvelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		got := fc.sentPayloads()
		if len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("only %d frames sent, want %d", len(got), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestMux(accountID string) (*Mux, *fakeConn) {
	fc := newFakeConn()
	cfg := DefaultConfig()
	cfg.URL = "ws://example.invalid/v3"
	cfg.AccountID = accountID
	m := New(cfg, nil)
	m.newSocket = func(socket.Config) conn { return fc }
	return m, fc
}

func dispatch(fc *fakeConn, typ, body string) {
	fc.frames <- socket.Frame{
		Data:       []byte(fmt.Sprintf(`{"op":0,"t":1,"d":{"type":%q,"body":%s}}`, typ, body)),
		ReceivedAt: time.Now(),
	}
}

func nextEvent(t *testing.T, m *Mux, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no event of kind %d", kind)
		}
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := []struct{ in, want string }{
		{"CoolStreamer", "coolstreamer"},
		{"cool-streamer", "cool_streamer"},
		{"Cool Streamer", "cool_streamer"},
		{"  MiXeD-Case_Name ", "mixed_case_name"},
	}
	for _, tc := range cases {
		if got := NormalizeUsername(tc.in); got != tc.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUsableID(t *testing.T) {
	for _, bad := range []string{"", "0", "null", "NULL", "undefined", "000000000000000000000000", " "} {
		if usableID(bad) {
			t.Errorf("usableID(%q) = true, want false", bad)
		}
	}
	for _, good := range []string{"01H0", "12345", "65f2a"} {
		if !usableID(good) {
			t.Errorf("usableID(%q) = false, want true", good)
		}
	}
}

func TestMux_SubscribesUsableIdentifiersOnly(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "null", "0")

	// Only the platform-user subscriptions are usable: cosmetic + entitlement.
	sent := waitSent(t, fc, 2)
	for _, env := range sent {
		if env.Op != OpSubscribe {
			t.Errorf("op = %d, want %d", env.Op, OpSubscribe)
		}
		if env.D.Condition.ID != "700" {
			t.Errorf("condition id = %q, want 700", env.D.Condition.ID)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(fc.sentPayloads()); n != 2 {
		t.Errorf("sent %d frames, want 2 (placeholder ids must be skipped)", n)
	}
}

func TestMux_AccountSubscriptionOncePerSocket(t *testing.T) {
	m, fc := newTestMux("acct1")
	m.AddRoom(5, "700", "c700", "set700")
	sent := waitSent(t, fc, 5)

	// Room-scoped user.update subscriptions carry the room's cosmetics
	// user id; only the account one carries acct1.
	accounts := 0
	for _, env := range sent {
		if env.D.Type == TypeUserUpdate && env.D.Condition.ObjectID == "acct1" {
			accounts++
		}
	}
	if accounts != 1 {
		t.Fatalf("account subscriptions = %d, want 1", accounts)
	}

	// A second room must not repeat the account subscription.
	m.AddRoom(6, "800", "c800", "set800")
	waitSent(t, fc, 9)
	accounts = 0
	for _, env := range fc.sentPayloads() {
		if env.D.Type == TypeUserUpdate && env.D.Condition.ObjectID == "acct1" {
			accounts++
		}
	}
	if accounts != 1 {
		t.Errorf("account subscriptions after second room = %d, want 1", accounts)
	}
}

func TestMux_NoAccountSubscriptionWithoutID(t *testing.T) {
	m, fc := newTestMux("null")
	m.AddRoom(5, "700", "", "set700")
	sent := waitSent(t, fc, 3)
	for _, env := range sent {
		if env.D.Type == TypeUserUpdate {
			t.Error("account subscription issued despite placeholder id")
		}
	}
}

func TestMux_EmoteSetUpdateRoutesBySetID(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "setA")
	m.AddRoom(6, "800", "", "setB")
	waitSent(t, fc, 6)

	dispatch(fc, TypeEmoteSetUpdate, `{"id":"setB","pushed":[]}`)

	ev := nextEvent(t, m, EventMessage)
	if ev.RoomID != 6 {
		t.Errorf("RoomID = %d, want 6", ev.RoomID)
	}
}

func TestMux_EntitlementBroadcastsWithNormalizedUsername(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "setA")
	m.AddRoom(6, "800", "", "setB")
	waitSent(t, fc, 6)

	dispatch(fc, TypeEntitlementCreate, `{"object":{"user":{"username":"Some-Viewer"}}}`)

	seen := map[int64]bool{}
	for len(seen) < 2 {
		ev := nextEvent(t, m, EventMessage)
		seen[ev.RoomID] = true
		if ev.Username != "some_viewer" {
			t.Errorf("Username = %q, want some_viewer", ev.Username)
		}
	}
	if !seen[5] || !seen[6] {
		t.Errorf("broadcast rooms = %v, want both 5 and 6", seen)
	}
}

func TestMux_PermanentRejectionSurfaced(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "setA")
	waitSent(t, fc, 3)

	fc.events <- socket.Event{Kind: socket.EventRejected, Code: CloseNoIdentifiers}
	nextEvent(t, m, EventRejected)

	if !m.Rejected() {
		t.Error("Rejected() = false after permanent rejection")
	}
	if n := m.SubscriptionCount(); n != 0 {
		t.Errorf("SubscriptionCount = %d after rejection, want 0", n)
	}
}

func TestMux_RemoveLastRoomClosesSocketOnce(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "setA")
	m.AddRoom(6, "800", "", "setB")
	waitSent(t, fc, 6)

	m.RemoveRoom(5)
	if fc.disconnects != 0 {
		t.Fatalf("disconnects = %d after removing one of two rooms, want 0", fc.disconnects)
	}

	unsubs := 0
	for _, env := range fc.sentPayloads() {
		if env.Op == OpUnsubscribe {
			unsubs++
		}
	}
	if unsubs != 3 {
		t.Errorf("unsubscribe frames = %d, want 3", unsubs)
	}

	m.RemoveRoom(6)
	if fc.disconnects != 1 {
		t.Errorf("disconnects = %d after removing last room, want 1", fc.disconnects)
	}
}

func TestMux_CosmeticsUserSubscribedPerRoom(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "c700", "")
	sent := waitSent(t, fc, 3)

	found := false
	for _, env := range sent {
		if env.D.Type == TypeUserUpdate && env.D.Condition.ObjectID == "c700" {
			found = true
		}
	}
	if !found {
		t.Errorf("no user.update subscription for c700 in %+v", sent)
	}
}

func TestMux_UserUpdateRoutesByCosmeticsUser(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "c700", "setA")
	m.AddRoom(6, "800", "c800", "setB")
	waitSent(t, fc, 8)

	dispatch(fc, TypeUserUpdate, `{"id":"c800"}`)

	ev := nextEvent(t, m, EventMessage)
	if ev.RoomID != 6 {
		t.Errorf("RoomID = %d, want 6", ev.RoomID)
	}

	// An update for an unheld user stays account-scoped: every room sees it.
	dispatch(fc, TypeUserUpdate, `{"id":"somebody-else"}`)
	seen := map[int64]bool{}
	for len(seen) < 2 {
		seen[nextEvent(t, m, EventMessage).RoomID] = true
	}
	if !seen[5] || !seen[6] {
		t.Errorf("broadcast rooms = %v, want both 5 and 6", seen)
	}
}

func TestMux_LateCosmeticsUserTriggersSubscription(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "")
	waitSent(t, fc, 2)

	// The cosmetics user id becomes known later; re-adding subscribes it.
	m.AddRoom(5, "700", "c700", "")
	sent := waitSent(t, fc, 3)

	last := sent[len(sent)-1]
	if last.D.Type != TypeUserUpdate || last.D.Condition.ObjectID != "c700" {
		t.Errorf("late subscription = %+v", last.D)
	}
}

func TestMux_LateIdentifiersFillIn(t *testing.T) {
	m, fc := newTestMux("")
	m.AddRoom(5, "700", "", "")
	waitSent(t, fc, 2)

	// The emote set id becomes known later; re-adding fills it in.
	m.AddRoom(5, "700", "", "setA")
	sent := waitSent(t, fc, 3)

	last := sent[len(sent)-1]
	if last.D.Type != TypeEmoteSetUpdate || last.D.Condition.ObjectID != "setA" {
		t.Errorf("late subscription = %+v", last.D)
	}
}
