package cosmetics

import (
	"encoding/json"
	"time"
)

// Protocol opcodes.
const (
	OpDispatch    = 0
	OpHello       = 1
	OpHeartbeat   = 2
	OpAck         = 5
	OpError       = 6
	OpEndOfStream = 7
	OpSubscribe   = 35
	OpUnsubscribe = 36
)

// Dispatch types the multiplexer understands.
const (
	TypeEmoteSetUpdate    = "emote_set.update"
	TypeCosmeticCreate    = "cosmetic.create"
	TypeEntitlementCreate = "entitlement.create"
	TypeUserUpdate        = "user.update"
)

// FrameKind is the closed set of known frame kinds. Unlisted dispatch
// types decode as KindUnknown rather than being swallowed.
type FrameKind int

const (
	KindUnknown FrameKind = iota
	KindHello
	KindHeartbeat
	KindAck
	KindError
	KindEndOfStream
	KindEmoteSetUpdate
	KindCosmeticCreate
	KindEntitlementCreate
	KindUserUpdate
)

var dispatchKinds = map[string]FrameKind{
	TypeEmoteSetUpdate:    KindEmoteSetUpdate,
	TypeCosmeticCreate:    KindCosmeticCreate,
	TypeEntitlementCreate: KindEntitlementCreate,
	TypeUserUpdate:        KindUserUpdate,
}

// Frame is one decoded inbound cosmetics-protocol message.
type Frame struct {
	Op         int
	Timestamp  int64
	Type       string
	Kind       FrameKind
	Body       json.RawMessage
	ReceivedAt time.Time
}

// envelope is the wire format: {op, t, d}.
type envelope struct {
	Op int             `json:"op"`
	T  int64           `json:"t"`
	D  json.RawMessage `json:"d"`
}

type dispatchData struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// DecodeFrame parses one wire message. All untrusted-wire handling for the
// cosmetics protocol funnels through here.
func DecodeFrame(data []byte, receivedAt time.Time) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, err
	}

	f := Frame{Op: env.Op, Timestamp: env.T, ReceivedAt: receivedAt}

	switch env.Op {
	case OpDispatch:
		var d dispatchData
		if err := json.Unmarshal(env.D, &d); err != nil {
			return Frame{}, err
		}
		f.Type = d.Type
		f.Body = d.Body
		if kind, ok := dispatchKinds[d.Type]; ok {
			f.Kind = kind
		}
	case OpHello:
		f.Kind = KindHello
		f.Body = env.D
	case OpHeartbeat:
		f.Kind = KindHeartbeat
	case OpAck:
		f.Kind = KindAck
		f.Body = env.D
	case OpError:
		f.Kind = KindError
		f.Body = env.D
	case OpEndOfStream:
		f.Kind = KindEndOfStream
		f.Body = env.D
	}
	return f, nil
}

// EmoteSetRef is the part of an emote_set.update body needed for routing.
type EmoteSetRef struct {
	ID string `json:"id"`
}

// CreationBody is the shared shape of cosmetic/entitlement creation
// bodies; only the addressed user matters here.
type CreationBody struct {
	Object struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"object"`
}

// EmoteValue is one emote identity inside an emote_set.update body.
type EmoteValue struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		ID string `json:"id"`
	} `json:"owner"`
}

// EmoteSetChange is one pushed/pulled/updated entry. Pulled entries carry
// only OldValue, pushed only Value, updated both.
type EmoteSetChange struct {
	OldValue *EmoteValue `json:"old_value"`
	Value    *EmoteValue `json:"value"`
}

// EmoteSetDiff is the full emote_set.update body.
type EmoteSetDiff struct {
	ID    string `json:"id"`
	Actor struct {
		DisplayName string `json:"display_name"`
	} `json:"actor"`
	Pushed  []EmoteSetChange `json:"pushed"`
	Pulled  []EmoteSetChange `json:"pulled"`
	Updated []EmoteSetChange `json:"updated"`
}

// DecodeEmoteSetDiff parses an emote_set.update body.
func DecodeEmoteSetDiff(f Frame) (EmoteSetDiff, error) {
	var d EmoteSetDiff
	err := json.Unmarshal(f.Body, &d)
	return d, err
}

// ObjectRef is the minimal dispatch body shape carrying the object id.
type ObjectRef struct {
	ID string `json:"id"`
}

// DecodeObjectRef extracts the object id from a dispatch body.
func DecodeObjectRef(f Frame) (ObjectRef, error) {
	var ref ObjectRef
	err := json.Unmarshal(f.Body, &ref)
	return ref, err
}

// DecodeEmoteSetRef extracts the set id from an emote_set.update body.
func DecodeEmoteSetRef(f Frame) (EmoteSetRef, error) {
	var ref EmoteSetRef
	err := json.Unmarshal(f.Body, &ref)
	return ref, err
}

// DecodeCreation extracts the addressed user from a creation body.
func DecodeCreation(f Frame) (CreationBody, error) {
	var b CreationBody
	err := json.Unmarshal(f.Body, &b)
	return b, err
}

// Outbound frames.

type condition struct {
	ObjectID string `json:"object_id,omitempty"`
	Platform string `json:"platform,omitempty"`
	Ctx      string `json:"ctx,omitempty"`
	ID       string `json:"id,omitempty"`
}

type subscribePayload struct {
	Type      string    `json:"type"`
	Condition condition `json:"condition"`
}

type outEnvelope struct {
	Op int              `json:"op"`
	D  subscribePayload `json:"d"`
}

func subscribeFrame(typ string, cond condition) []byte {
	b, _ := json.Marshal(outEnvelope{Op: OpSubscribe, D: subscribePayload{Type: typ, Condition: cond}})
	return b
}

func unsubscribeFrame(typ string, cond condition) []byte {
	b, _ := json.Marshal(outEnvelope{Op: OpUnsubscribe, D: subscribePayload{Type: typ, Condition: cond}})
	return b
}

// isHeartbeat reports whether raw is an op-2 heartbeat, used as the
// socket-level liveness signal.
func isHeartbeat(raw []byte) bool {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return env.Op == OpHeartbeat
}
