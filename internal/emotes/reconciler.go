package emotes

import (
	"log/slog"
	"sort"
	"sync"
)

// Reconciler holds the cached emote sets and applies diffs to them. An
// optional invalidate callback is called with the owning room id after
// every effective mutation so render caches can be dropped.
type Reconciler struct {
	logger     *slog.Logger
	invalidate func(roomID int64)

	mu    sync.Mutex
	sets  map[string]*EmoteSet
	rooms map[string]int64
}

// New creates a Reconciler. invalidate may be nil.
func New(logger *slog.Logger, invalidate func(roomID int64)) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger:     logger.With("component", "emotes"),
		invalidate: invalidate,
		sets:       make(map[string]*EmoteSet),
		rooms:      make(map[string]int64),
	}
}

// Bind associates a set with the room whose caches it invalidates.
func (r *Reconciler) Bind(setID string, roomID int64) {
	r.mu.Lock()
	r.rooms[setID] = roomID
	r.mu.Unlock()
}

// Unbind drops a set and its room association.
func (r *Reconciler) Unbind(setID string) {
	r.mu.Lock()
	delete(r.rooms, setID)
	delete(r.sets, setID)
	r.mu.Unlock()
}

// Put seeds or replaces a cached set, normalizing it on the way in.
func (r *Reconciler) Put(set EmoteSet) {
	normalize(&set)
	r.mu.Lock()
	r.sets[set.ID] = &set
	r.mu.Unlock()
}

// Set returns a copy of the cached set, if held.
func (r *Reconciler) Set(setID string) (EmoteSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[setID]
	if !ok {
		return EmoteSet{}, false
	}
	out := *s
	out.Emotes = append([]Emote(nil), s.Emotes...)
	return out, true
}

// Apply mutates the cached set per the diff and returns a change summary.
// An empty diff leaves the set untouched.
func (r *Reconciler) Apply(setID string, personal bool, d Diff) Summary {
	sum := Summary{SetID: setID, Personal: personal, Actor: d.Actor}
	if d.empty() {
		return sum
	}

	r.mu.Lock()
	set, ok := r.sets[setID]
	if !ok {
		kind := KindChannel
		if personal {
			kind = KindPersonal
		}
		set = &EmoteSet{ID: setID, Kind: kind}
		r.sets[setID] = set
	}

	for _, c := range d.Pulled {
		name := c.Name
		if name == "" {
			name = nameByID(set.Emotes, c.ID)
		}
		if removeByID(set, c.ID) && name != "" {
			sum.Removed = append(sum.Removed, name)
		}
	}

	for _, c := range d.Pushed {
		upsert(set, Emote{ID: c.ID, Name: c.Name, OwnerID: c.OwnerID})
		sum.Added = append(sum.Added, c.Name)
	}

	for _, u := range d.Updated {
		oldName := u.Old.Name
		if oldName == "" {
			oldName = nameByID(set.Emotes, u.Old.ID)
		}
		removeByID(set, u.Old.ID)
		upsert(set, Emote{ID: u.New.ID, Name: u.New.Name, OwnerID: u.New.OwnerID})
		if oldName != u.New.Name || u.Old.OwnerID != u.New.OwnerID {
			sum.Renamed = append(sum.Renamed, Rename{
				Old:          oldName,
				New:          u.New.Name,
				OwnerChanged: u.Old.OwnerID != u.New.OwnerID,
			})
		}
	}

	normalize(set)
	roomID, bound := r.rooms[setID]
	r.mu.Unlock()

	r.logger.Debug("emote set reconciled",
		"set_id", setID,
		"added", len(sum.Added),
		"removed", len(sum.Removed),
		"renamed", len(sum.Renamed))

	if bound && r.invalidate != nil {
		r.invalidate(roomID)
	}
	return sum
}

// upsert adds the emote, replacing any entry with the same id.
func upsert(set *EmoteSet, e Emote) {
	for i := range set.Emotes {
		if set.Emotes[i].ID == e.ID {
			set.Emotes[i] = e
			return
		}
	}
	set.Emotes = append(set.Emotes, e)
}

func removeByID(set *EmoteSet, id string) bool {
	for i := range set.Emotes {
		if set.Emotes[i].ID == id {
			set.Emotes = append(set.Emotes[:i], set.Emotes[i+1:]...)
			return true
		}
	}
	return false
}

func nameByID(emotes []Emote, id string) string {
	for _, e := range emotes {
		if e.ID == id {
			return e.Name
		}
	}
	return ""
}

// normalize dedupes by name, first occurrence winning, then sorts by name.
func normalize(set *EmoteSet) {
	seen := make(map[string]struct{}, len(set.Emotes))
	out := set.Emotes[:0]
	for _, e := range set.Emotes {
		if _, dup := seen[e.Name]; dup {
			continue
		}
		seen[e.Name] = struct{}{}
		out = append(out, e)
	}
	set.Emotes = out
	sort.Slice(set.Emotes, func(i, j int) bool {
		return set.Emotes[i].Name < set.Emotes[j].Name
	})
}
