package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ashwalker/streammux/internal/chat"
	"github.com/ashwalker/streammux/internal/cosmetics"
	"github.com/ashwalker/streammux/internal/emotes"
	"github.com/ashwalker/streammux/internal/observe"
	"github.com/ashwalker/streammux/internal/outbox"
	"github.com/ashwalker/streammux/internal/platform"
)

// ChatMux is the chat-protocol multiplexer surface the orchestrator uses.
type ChatMux interface {
	AddRoom(ctx context.Context, roomID, ownerID int64, meta map[string]string)
	RemoveRoom(roomID int64)
	SetLiveSession(roomID, sessionID int64)
	Events() <-chan chat.Event
	Close()
}

// CosmeticsMux is the cosmetics-protocol multiplexer surface.
type CosmeticsMux interface {
	AddRoom(roomID int64, platformUserID, cosmeticsUserID, emoteSetID string)
	RemoveRoom(roomID int64)
	Events() <-chan cosmetics.Event
	Close()
}

// Client is the REST surface consumed during admission.
type Client interface {
	Backfill(ctx context.Context, roomID int64) (*platform.BackfillResponse, error)
	RoomState(ctx context.Context, roomID int64) (*platform.RoomStateResponse, error)
	ChannelEmotes(ctx context.Context, channel string) (*platform.ChannelEmotesResponse, error)
	CosmeticsCatalog(ctx context.Context) (*platform.CosmeticsCatalogResponse, error)
}

// Orchestrator composes the two multiplexers above all rooms.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	chat       ChatMux
	cosmetics  CosmeticsMux
	client     Client
	reconciler *emotes.Reconciler
	outbox     *outbox.Coordinator
	sink       observe.Sink

	catalog   *Cache[string, platform.CosmeticsCatalogResponse]
	emoteSets *Cache[string, []platform.APIEmoteSet]
	dedup     *dedup

	mu     sync.Mutex
	rooms  map[int64]*roomState
	loaded mapset.Set[int64]

	chatUp      chan struct{}
	cosmeticsUp chan struct{}
	chatOnce    sync.Once
	cosmOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type roomState struct {
	spec     RoomSpec
	admitted bool
	deferred bool
	lastErr  error
}

// New creates an Orchestrator. reconciler, box, and sink may be nil.
func New(cfg Config, chatMux ChatMux, cosMux CosmeticsMux, client Client, reconciler *emotes.Reconciler, box *outbox.Coordinator, sink observe.Sink, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		logger:      logger.With("component", "orchestrator"),
		chat:        chatMux,
		cosmetics:   cosMux,
		client:      client,
		reconciler:  reconciler,
		outbox:      box,
		sink:        sink,
		catalog:     NewCache[string, platform.CosmeticsCatalogResponse](0),
		emoteSets:   NewCache[string, []platform.APIEmoteSet](cfg.EmoteCacheTTL),
		dedup:       newDedup(cfg.DedupLimit, cfg.DedupTTL),
		rooms:       make(map[int64]*roomState),
		loaded:      mapset.NewSet[int64](),
		chatUp:      make(chan struct{}),
		cosmeticsUp: make(chan struct{}),
	}
}

// Initialize registers rooms, starts both event loops, admits the rooms
// in prioritized staggered waves, and waits for both sockets' first
// successful connection. An ErrInitTimeout leaves admission running in
// the background so the caller can fall back to a degraded mode.
func (o *Orchestrator) Initialize(ctx context.Context, rooms []RoomSpec) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.mu.Lock()
	for _, spec := range rooms {
		if _, held := o.rooms[spec.ID]; !held {
			o.rooms[spec.ID] = &roomState{spec: spec}
		}
	}
	o.mu.Unlock()

	o.wg.Add(2)
	go o.chatLoop()
	go o.cosmeticsLoop()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.admitWaves(o.ctx, rooms)
	}()

	o.wg.Add(1)
	go o.retryLoop()

	timeout := time.NewTimer(o.cfg.FirstSuccessTimeout)
	defer timeout.Stop()

	for _, up := range []<-chan struct{}{o.chatUp, o.cosmeticsUp} {
		select {
		case <-up:
		case <-timeout.C:
			o.logger.Warn("first connection timed out", "timeout", o.cfg.FirstSuccessTimeout)
			return ErrInitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.logger.Info("both sockets connected", "rooms", len(rooms))
	return nil
}

// Stop tears down both multiplexers and waits for the event loops.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	o.chat.Close()
	o.cosmetics.Close()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterDeferred records a room without connecting it. The room is
// admitted through the normal path on first EnsureAdmitted call.
func (o *Orchestrator) RegisterDeferred(spec RoomSpec) {
	o.mu.Lock()
	if _, held := o.rooms[spec.ID]; !held {
		o.rooms[spec.ID] = &roomState{spec: spec, deferred: true}
	}
	o.mu.Unlock()
}

// EnsureAdmitted admits a deferred room on first access. Repeats are
// idempotent once the room has loaded.
func (o *Orchestrator) EnsureAdmitted(ctx context.Context, roomID int64) error {
	if o.loaded.Contains(roomID) {
		return nil
	}

	o.mu.Lock()
	rs, held := o.rooms[roomID]
	if !held {
		o.mu.Unlock()
		return ErrUnknownRoom
	}
	spec := rs.spec
	rs.deferred = false
	o.mu.Unlock()

	o.admitRoom(ctx, spec)

	o.mu.Lock()
	defer o.mu.Unlock()
	if rs, held := o.rooms[roomID]; held && rs.lastErr != nil {
		return fmt.Errorf("admit room %d: %w", roomID, rs.lastErr)
	}
	return nil
}

// EvictRoom removes a room from both multiplexers and drops its state.
func (o *Orchestrator) EvictRoom(roomID int64) {
	o.mu.Lock()
	rs, held := o.rooms[roomID]
	if held {
		delete(o.rooms, roomID)
	}
	o.mu.Unlock()
	if !held {
		return
	}

	o.loaded.Remove(roomID)
	o.chat.RemoveRoom(roomID)
	o.cosmetics.RemoveRoom(roomID)
	if o.outbox != nil {
		o.outbox.DropRoom(roomID)
	}
	if o.reconciler != nil && rs.spec.EmoteSetID != "" {
		o.reconciler.Unbind(rs.spec.EmoteSetID)
	}
}

// Status returns the orchestrator's view of one room.
func (o *Orchestrator) Status(roomID int64) (RoomStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, held := o.rooms[roomID]
	if !held {
		return RoomStatus{}, false
	}
	return RoomStatus{
		Spec:     rs.spec,
		Admitted: rs.admitted,
		Loaded:   o.loaded.Contains(roomID),
		Deferred: rs.deferred,
		LastErr:  rs.lastErr,
	}, true
}

// LoadedCount returns how many rooms completed their initial fetches.
func (o *Orchestrator) LoadedCount() int {
	return o.loaded.Cardinality()
}

// RoomCount returns how many rooms are registered.
func (o *Orchestrator) RoomCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rooms)
}

// admitWaves admits rooms live-first in strictly sequential batches.
func (o *Orchestrator) admitWaves(ctx context.Context, rooms []RoomSpec) {
	pending := make([]RoomSpec, 0, len(rooms))
	for _, spec := range rooms {
		pending = append(pending, spec)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Live && !pending[j].Live
	})

	for start := 0; start < len(pending); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		if start > 0 && o.cfg.Stagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.Stagger):
			}
		}

		// Admission errors are recorded per room, never abort the wave.
		g, gctx := errgroup.WithContext(ctx)
		for _, spec := range batch {
			spec := spec
			g.Go(func() error {
				o.admitRoom(gctx, spec)
				return nil
			})
		}
		g.Wait()

		o.logger.Info("admission wave settled",
			"from", start,
			"to", end,
			"loaded", o.loaded.Cardinality())

		if ctx.Err() != nil {
			return
		}
	}
}

// admitRoom connects one room on both protocols and runs its three
// independent initial fetches. An emote fetch failure never blocks
// admission; backfill or room-state failure leaves the room retryable.
func (o *Orchestrator) admitRoom(ctx context.Context, spec RoomSpec) {
	o.chat.AddRoom(ctx, spec.ID, spec.OwnerID, spec.Meta)
	o.cosmetics.AddRoom(spec.ID, spec.PlatformUserID, spec.CosmeticsUserID, spec.EmoteSetID)
	if o.reconciler != nil && spec.EmoteSetID != "" {
		o.reconciler.Bind(spec.EmoteSetID, spec.ID)
	}

	o.fetchCatalogOnce(ctx)

	var loadErr error
	if err := o.backfill(ctx, spec); err != nil {
		o.logger.Warn("backfill failed", "room_id", spec.ID, "error", err)
		loadErr = err
	}
	if err := o.fetchRoomState(ctx, spec); err != nil {
		o.logger.Warn("room state fetch failed", "room_id", spec.ID, "error", err)
		if loadErr == nil {
			loadErr = err
		}
	}
	if err := o.fetchEmotes(ctx, spec); err != nil {
		// Emotes are cosmetic; the room still counts as loaded.
		o.logger.Warn("emote fetch failed", "room_id", spec.ID, "channel", spec.Channel, "error", err)
	}

	o.mu.Lock()
	rs, held := o.rooms[spec.ID]
	if held {
		rs.admitted = true
		rs.lastErr = loadErr
	}
	o.mu.Unlock()

	if loadErr == nil {
		o.loaded.Add(spec.ID)
		observe.Count(o.sink, "rooms.loaded", 1)
	} else {
		observe.Count(o.sink, "rooms.load_failed", 1)
	}
}

// fetchCatalogOnce populates the shared cosmetics catalog on first use.
func (o *Orchestrator) fetchCatalogOnce(ctx context.Context) {
	if _, held := o.catalog.Get("catalog"); held {
		return
	}
	cat, err := o.client.CosmeticsCatalog(ctx)
	if err != nil {
		o.logger.Warn("cosmetics catalog fetch failed", "error", err)
		return
	}
	o.catalog.Put("catalog", *cat)
}

// Catalog returns the shared cosmetics catalog, if fetched.
func (o *Orchestrator) Catalog() (platform.CosmeticsCatalogResponse, bool) {
	return o.catalog.Get("catalog")
}

// ChannelEmoteSets returns the cached emote sets for a channel.
func (o *Orchestrator) ChannelEmoteSets(channel string) ([]platform.APIEmoteSet, bool) {
	return o.emoteSets.Get(channel)
}

func (o *Orchestrator) backfill(ctx context.Context, spec RoomSpec) error {
	resp, err := o.client.Backfill(ctx, spec.ID)
	if err != nil {
		return err
	}
	if o.outbox == nil {
		return nil
	}
	for _, msg := range resp.Messages {
		if o.dedup.seen("msg:" + msg.ID) {
			continue
		}
		at, _ := time.Parse(time.RFC3339, msg.CreatedAt)
		o.outbox.Reconcile(spec.ID, msg.ID, msg.Sender.ID, msg.Sender.Username, msg.Content, msg.Type, at)
	}
	return nil
}

func (o *Orchestrator) fetchRoomState(ctx context.Context, spec RoomSpec) error {
	state, err := o.client.RoomState(ctx, spec.ID)
	if err != nil {
		return err
	}
	if state.Livestream != nil && state.Livestream.IsLive {
		o.chat.SetLiveSession(spec.ID, state.Livestream.ID)
		o.setLive(spec.ID, true)
	}
	return nil
}

func (o *Orchestrator) fetchEmotes(ctx context.Context, spec RoomSpec) error {
	if spec.Channel == "" {
		return nil
	}
	if _, held := o.emoteSets.Get(spec.Channel); held {
		return nil
	}
	resp, err := o.client.ChannelEmotes(ctx, spec.Channel)
	if err != nil {
		return err
	}
	o.emoteSets.Put(spec.Channel, resp.Sets)

	if o.reconciler == nil {
		return nil
	}
	for _, set := range resp.Sets {
		es := emotes.EmoteSet{ID: set.ID, Kind: emotes.SetKind(set.Kind)}
		for _, e := range set.Emotes {
			es.Emotes = append(es.Emotes, emotes.Emote{ID: e.ID, Name: e.Name, OwnerID: e.OwnerID})
		}
		o.reconciler.Put(es)
		o.reconciler.Bind(set.ID, spec.ID)
	}
	return nil
}

// retryLoop periodically re-admits rooms whose initial fetches failed.
func (o *Orchestrator) retryLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.retryUnloaded()
		}
	}
}

func (o *Orchestrator) retryUnloaded() {
	o.mu.Lock()
	var retry []RoomSpec
	for id, rs := range o.rooms {
		if rs.admitted && !rs.deferred && !o.loaded.Contains(id) {
			retry = append(retry, rs.spec)
		}
	}
	o.mu.Unlock()

	if len(retry) == 0 {
		return
	}
	o.logger.Info("retrying unloaded rooms", "count", len(retry))
	for _, spec := range retry {
		o.admitRoom(o.ctx, spec)
	}
}

// chatLoop consumes chat multiplexer events.
func (o *Orchestrator) chatLoop() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.chat.Events():
			if !ok {
				return
			}
			o.handleChatEvent(ev)
		}
	}
}

func (o *Orchestrator) handleChatEvent(ev chat.Event) {
	switch ev.Kind {
	case chat.EventConnection:
		if ev.Connected {
			o.chatOnce.Do(func() { close(o.chatUp) })
			observe.Event(o.sink, "chat.connected", nil)
		}
	case chat.EventMessage:
		o.handleChatMessage(ev)
	case chat.EventChannel:
		o.handleChatChannel(ev)
	case chat.EventError:
		o.logger.Warn("chat multiplexer error", "error", ev.Err)
	}
}

func (o *Orchestrator) handleChatMessage(ev chat.Event) {
	if ev.Frame.Kind != chat.KindChatMessage || o.outbox == nil {
		return
	}
	msg, err := chat.DecodeMessage(ev.Frame)
	if err != nil {
		o.logger.Warn("malformed chat message", "room_id", ev.RoomID, "error", err)
		return
	}
	if o.dedup.seen("msg:" + msg.ID) {
		return
	}
	senderID := strconv.FormatInt(msg.Sender.ID, 10)
	o.outbox.Reconcile(ev.RoomID, msg.ID, senderID, msg.Sender.Username, msg.Content, msg.Type, msg.CreatedAt)
}

func (o *Orchestrator) handleChatChannel(ev chat.Event) {
	switch ev.Frame.Kind {
	case chat.KindStreamStart:
		o.setLive(ev.RoomID, true)
	case chat.KindStreamStop:
		o.setLive(ev.RoomID, false)
	}
}

func (o *Orchestrator) setLive(roomID int64, live bool) {
	o.mu.Lock()
	if rs, held := o.rooms[roomID]; held {
		rs.spec.Live = live
	}
	o.mu.Unlock()
}

// cosmeticsLoop consumes cosmetics multiplexer events.
func (o *Orchestrator) cosmeticsLoop() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev, ok := <-o.cosmetics.Events():
			if !ok {
				return
			}
			o.handleCosmeticsEvent(ev)
		}
	}
}

func (o *Orchestrator) handleCosmeticsEvent(ev cosmetics.Event) {
	switch ev.Kind {
	case cosmetics.EventConnection:
		if ev.Connected {
			o.cosmOnce.Do(func() { close(o.cosmeticsUp) })
			observe.Event(o.sink, "cosmetics.connected", nil)
		}
	case cosmetics.EventMessage:
		if ev.Frame.Kind == cosmetics.KindEmoteSetUpdate {
			o.handleEmoteSetUpdate(ev)
		}
	case cosmetics.EventRejected:
		o.logger.Warn("cosmetics session rejected, continuing chat-only")
		// A rejected cosmetics socket must not hold Initialize hostage.
		o.cosmOnce.Do(func() { close(o.cosmeticsUp) })
	case cosmetics.EventError:
		o.logger.Warn("cosmetics multiplexer error", "error", ev.Err)
	}
}

// handleEmoteSetUpdate applies an incremental emote set diff.
func (o *Orchestrator) handleEmoteSetUpdate(ev cosmetics.Event) {
	if o.reconciler == nil {
		return
	}
	diff, err := cosmetics.DecodeEmoteSetDiff(ev.Frame)
	if err != nil {
		o.logger.Warn("malformed emote set diff", "error", err)
		return
	}

	key := fmt.Sprintf("emoteset:%s:%d", diff.ID, ev.Frame.Timestamp)
	if o.dedup.seen(key) {
		return
	}

	sum := o.reconciler.Apply(diff.ID, false, toDiff(diff))
	if sum.Total() > 0 {
		o.logger.Info("emote set updated",
			"set_id", diff.ID,
			"room_id", ev.RoomID,
			"added", len(sum.Added),
			"removed", len(sum.Removed),
			"renamed", len(sum.Renamed),
			"actor", sum.Actor)
		observe.Count(o.sink, "emotes.reconciled", int64(sum.Total()))
	}
}

// toDiff converts the wire diff into the reconciler's shape.
func toDiff(d cosmetics.EmoteSetDiff) emotes.Diff {
	out := emotes.Diff{Actor: d.Actor.DisplayName}
	for _, c := range d.Pulled {
		if v := pick(c.OldValue, c.Value); v != nil {
			out.Pulled = append(out.Pulled, toChange(v))
		}
	}
	for _, c := range d.Pushed {
		if v := pick(c.Value, c.OldValue); v != nil {
			out.Pushed = append(out.Pushed, toChange(v))
		}
	}
	for _, c := range d.Updated {
		if c.OldValue == nil || c.Value == nil {
			continue
		}
		out.Updated = append(out.Updated, emotes.Update{
			Old: toChange(c.OldValue),
			New: toChange(c.Value),
		})
	}
	return out
}

func pick(a, b *cosmetics.EmoteValue) *cosmetics.EmoteValue {
	if a != nil {
		return a
	}
	return b
}

func toChange(v *cosmetics.EmoteValue) emotes.Change {
	return emotes.Change{ID: v.ID, Name: v.Name, OwnerID: v.Owner.ID}
}
