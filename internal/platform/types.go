package platform

// Sender identifies the author of a history message.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// HistoryMessage is one message from the backfill endpoint.
type HistoryMessage struct {
	ID         string            `json:"id"`
	ChatroomID int64             `json:"chatroom_id"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	CreatedAt  string            `json:"created_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Sender     Sender            `json:"sender"`
}

// BackfillResponse from GET /rooms/{id}/messages
type BackfillResponse struct {
	Messages []HistoryMessage `json:"messages"`
	Cursor   string           `json:"cursor"`
}

// PinnedMessage is the currently pinned message, if any.
type PinnedMessage struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Sender  Sender `json:"sender"`
}

// Livestream is the room's current live session, if any.
type Livestream struct {
	ID     int64 `json:"id"`
	IsLive bool  `json:"is_live"`
}

// RoomStateResponse from GET /rooms/{id}/state
type RoomStateResponse struct {
	ID              int64          `json:"id"`
	SlowModeSeconds int            `json:"slow_mode_seconds"`
	SubscribersOnly bool           `json:"subscribers_only"`
	FollowersOnly   bool           `json:"followers_only"`
	EmotesOnly      bool           `json:"emotes_only"`
	PinnedMessage   *PinnedMessage `json:"pinned_message"`
	Livestream      *Livestream    `json:"livestream"`
}

// APIEmote is one emote record from the catalog endpoints.
type APIEmote struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// APIEmoteSet is one emote set from the channel emotes endpoint.
type APIEmoteSet struct {
	ID     string     `json:"id"`
	Kind   string     `json:"kind"`
	Emotes []APIEmote `json:"emotes"`
}

// ChannelEmotesResponse from GET /channels/{channel}/emotes
type ChannelEmotesResponse struct {
	Sets []APIEmoteSet `json:"sets"`
}

// Badge is one badge definition from the cosmetics catalog.
type Badge struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	FileURL string `json:"file_url"`
}

// Paint is one name-paint definition from the cosmetics catalog.
type Paint struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// CosmeticsCatalogResponse from GET /cosmetics
type CosmeticsCatalogResponse struct {
	Badges []Badge `json:"badges"`
	Paints []Paint `json:"paints"`
}

// IdentityResponse from GET /user/me
type IdentityResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// channelAuthRequest to POST /broadcasting/auth
type channelAuthRequest struct {
	Channel  string `json:"channel_name"`
	SocketID string `json:"socket_id"`
}

// channelAuthResponse from POST /broadcasting/auth
type channelAuthResponse struct {
	Auth string `json:"auth"`
}

// sendMessageRequest to POST /rooms/{id}/messages
type sendMessageRequest struct {
	Content  string            `json:"content"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
