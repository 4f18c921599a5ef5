package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// FrameClass separates content-bearing frames from room-state frames.
type FrameClass int

const (
	ClassUnknown FrameClass = iota
	ClassControl            // protocol plumbing (handshake, subscriptions, pong)
	ClassMessage            // content-bearing: text, bans, gifts, subscriptions
	ClassChannel            // room-state: live status, pin, poll, settings
)

// FrameKind is the closed set of known chat event kinds. Anything not in
// the table decodes as KindUnknown rather than being swallowed.
type FrameKind int

const (
	KindUnknown FrameKind = iota
	KindConnectionEstablished
	KindSubscriptionSucceeded
	KindPong
	KindChatMessage
	KindMessageDeleted
	KindUserBanned
	KindUserUnbanned
	KindGiftedSubscriptions
	KindSubscription
	KindStreamStart
	KindStreamStop
	KindPinnedMessage
	KindPinnedMessageDeleted
	KindPollUpdate
	KindChatroomUpdated
)

// frameKinds is the static classification table for known event names.
var frameKinds = map[string]struct {
	kind  FrameKind
	class FrameClass
}{
	"pusher:connection_established":          {KindConnectionEstablished, ClassControl},
	"pusher_internal:subscription_succeeded": {KindSubscriptionSucceeded, ClassControl},
	"pusher:pong":                            {KindPong, ClassControl},

	`App\Events\ChatMessageEvent`:          {KindChatMessage, ClassMessage},
	`App\Events\MessageDeletedEvent`:       {KindMessageDeleted, ClassMessage},
	`App\Events\UserBannedEvent`:           {KindUserBanned, ClassMessage},
	`App\Events\UserUnbannedEvent`:         {KindUserUnbanned, ClassMessage},
	`App\Events\GiftedSubscriptionsEvent`:  {KindGiftedSubscriptions, ClassMessage},
	`App\Events\SubscriptionEvent`:         {KindSubscription, ClassMessage},
	`App\Events\LuckyUsersWhoGotGiftSubscriptionsEvent`: {KindGiftedSubscriptions, ClassMessage},

	`App\Events\StreamerIsLive`:             {KindStreamStart, ClassChannel},
	`App\Events\StopStreamBroadcast`:        {KindStreamStop, ClassChannel},
	`App\Events\PinnedMessageCreatedEvent`:  {KindPinnedMessage, ClassChannel},
	`App\Events\PinnedMessageDeletedEvent`:  {KindPinnedMessageDeleted, ClassChannel},
	`App\Events\PollUpdateEvent`:            {KindPollUpdate, ClassChannel},
	`App\Events\ChatroomUpdatedEvent`:       {KindChatroomUpdated, ClassChannel},
}

// Frame is one decoded inbound chat-protocol message.
type Frame struct {
	Event      string
	Channel    string
	Kind       FrameKind
	Class      FrameClass
	Data       json.RawMessage
	ReceivedAt time.Time
}

// wireFrame is the pusher envelope.
type wireFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// DecodeFrame parses one wire message. All untrusted-wire handling for the
// chat protocol funnels through here: malformed JSON is an error, unknown
// event names decode as KindUnknown.
func DecodeFrame(data []byte, receivedAt time.Time) (Frame, error) {
	var wire wireFrame
	if err := json.Unmarshal(data, &wire); err != nil {
		return Frame{}, err
	}

	f := Frame{
		Event:      wire.Event,
		Channel:    wire.Channel,
		Data:       unquoteData(wire.Data),
		ReceivedAt: receivedAt,
	}

	if entry, ok := frameKinds[wire.Event]; ok {
		f.Kind = entry.kind
		f.Class = entry.class
	} else if strings.HasSuffix(wire.Event, "connection_established") {
		// Some upstream variants drop the pusher: prefix.
		f.Kind = KindConnectionEstablished
		f.Class = ClassControl
	}
	return f, nil
}

// unquoteData handles the pusher quirk of double-encoding the data field as
// a JSON string containing JSON.
func unquoteData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || raw[0] != '"' {
		return raw
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return raw
	}
	return json.RawMessage(inner)
}

// Handshake is the connection_established payload.
type Handshake struct {
	SocketID string `json:"socket_id"`
}

// Message is the content-bearing payload shared by message-class frames.
type Message struct {
	ID         string    `json:"id"`
	ChatroomID int64     `json:"chatroom_id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
	Sender     Sender    `json:"sender"`
}

// Sender identifies the message author.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Livestream is the payload of stream start/stop frames.
type Livestream struct {
	Livestream struct {
		ID        int64 `json:"id"`
		ChannelID int64 `json:"channel_id"`
	} `json:"livestream"`
}

// DecodeHandshake parses a connection_established payload.
func DecodeHandshake(f Frame) (Handshake, error) {
	var h Handshake
	err := json.Unmarshal(f.Data, &h)
	return h, err
}

// DecodeMessage parses a message-class payload.
func DecodeMessage(f Frame) (Message, error) {
	var m Message
	err := json.Unmarshal(f.Data, &m)
	return m, err
}

// DecodeLivestream parses a stream start/stop payload.
func DecodeLivestream(f Frame) (Livestream, error) {
	var l Livestream
	err := json.Unmarshal(f.Data, &l)
	return l, err
}
