package emotes

// SetKind describes the scope of an emote set.
type SetKind string

const (
	KindChannel  SetKind = "channel"
	KindPersonal SetKind = "personal"
	KindGlobal   SetKind = "global"
)

// Emote is one entry in a set. Names and ids are unique within a set.
type Emote struct {
	ID      string
	Name    string
	OwnerID string
}

// EmoteSet is a named, deduplicated collection of emotes with a stable id
// used for targeted update events.
type EmoteSet struct {
	ID     string
	Kind   SetKind
	Emotes []Emote
}

// Change identifies one emote in a diff.
type Change struct {
	ID      string
	Name    string
	OwnerID string
}

// Update pairs the previous and replacement identity of one emote.
type Update struct {
	Old Change
	New Change
}

// Diff is one incremental mutation of an emote set.
type Diff struct {
	Pulled  []Change
	Pushed  []Change
	Updated []Update
	Actor   string
}

func (d Diff) empty() bool {
	return len(d.Pulled) == 0 && len(d.Pushed) == 0 && len(d.Updated) == 0
}

// Rename records an updated entry whose display identity changed.
type Rename struct {
	Old          string
	New          string
	OwnerChanged bool
}

// Summary is the structured outcome of applying one diff.
type Summary struct {
	SetID    string
	Personal bool
	Added    []string
	Removed  []string
	Renamed  []Rename
	Actor    string
}

// Total returns the number of recorded changes.
func (s Summary) Total() int {
	return len(s.Added) + len(s.Removed) + len(s.Renamed)
}
