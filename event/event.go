// Package event defines the normalized event shape produced by the
// stream connector and consumed by every downstream component. Upstream
// payload quirks are resolved at the connector boundary; everything past
// it sees only these types.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant carried by an Event.
type Kind string

const (
	KindChat       Kind = "chat"
	KindGift       Kind = "gift"
	KindLike       Kind = "like"
	KindConnection Kind = "connection"
	KindError      Kind = "error"
	KindStreamEnd  Kind = "streamEnd"
)

// Connection status values.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Chat is a single chat message. Trigger is set when the text begins with
// the configured trigger token; the text itself is never altered.
type Chat struct {
	// ID is assigned at the relay-client boundary for UI list keys.
	// The server leaves it empty.
	ID          string `json:"id,omitempty"`
	SenderID    string `json:"senderId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Trigger     bool   `json:"trigger"`
}

// Gift is a completed gift streak. Intermediate repeat ticks are filtered
// out before normalization, so RepeatCount is always the final total.
type Gift struct {
	SenderID    string `json:"senderId"`
	DisplayName string `json:"displayName"`
	GiftName    string `json:"giftName"`
	RepeatCount int    `json:"repeatCount"`
}

// Like is a batch of likes from one sender.
type Like struct {
	SenderID    string `json:"senderId"`
	DisplayName string `json:"displayName"`
	LikeCount   int    `json:"likeCount"`
}

// Connection reports upstream session state. RoomID is present only while
// connected.
type Connection struct {
	Status string `json:"status"`
	RoomID string `json:"roomId,omitempty"`
}

// Error carries an upstream error message. It does not imply a connection
// state change; disconnects are reported separately.
type Error struct {
	Message string `json:"message"`
}

// Event is the tagged union broadcast to downstream channels. Exactly one
// payload field matching Type is non-nil (KindStreamEnd carries none).
type Event struct {
	Type       Kind
	Chat       *Chat
	Gift       *Gift
	Like       *Like
	Connection *Connection
	Error      *Error
}

// envelope is the wire form: {"type": ..., "data": ...}.
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewChat wraps a chat payload.
func NewChat(c Chat) Event { return Event{Type: KindChat, Chat: &c} }

// NewGift wraps a completed gift streak.
func NewGift(g Gift) Event { return Event{Type: KindGift, Gift: &g} }

// NewLike wraps a like batch.
func NewLike(l Like) Event { return Event{Type: KindLike, Like: &l} }

// NewConnection wraps a connection status report.
func NewConnection(status, roomID string) Event {
	return Event{Type: KindConnection, Connection: &Connection{Status: status, RoomID: roomID}}
}

// NewError wraps an upstream error message.
func NewError(msg string) Event { return Event{Type: KindError, Error: &Error{Message: msg}} }

// NewStreamEnd signals the broadcast has ended. Terminal for consumers.
func NewStreamEnd() Event { return Event{Type: KindStreamEnd} }

func (e Event) payload() any {
	switch e.Type {
	case KindChat:
		return e.Chat
	case KindGift:
		return e.Gift
	case KindLike:
		return e.Like
	case KindConnection:
		return e.Connection
	case KindError:
		return e.Error
	default:
		return nil
	}
}

// MarshalJSON encodes the event as a {type, data} envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	env := envelope{Type: e.Type}
	if p := e.payload(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a {type, data} envelope into the matching variant.
func (e *Event) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Type == "" {
		return fmt.Errorf("event: missing type")
	}
	*e = Event{Type: env.Type}
	var dst any
	switch env.Type {
	case KindChat:
		e.Chat = &Chat{}
		dst = e.Chat
	case KindGift:
		e.Gift = &Gift{}
		dst = e.Gift
	case KindLike:
		e.Like = &Like{}
		dst = e.Like
	case KindConnection:
		e.Connection = &Connection{}
		dst = e.Connection
	case KindError:
		e.Error = &Error{}
		dst = e.Error
	case KindStreamEnd:
		return nil
	default:
		return fmt.Errorf("event: unknown type %q", env.Type)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("event: type %q without data", env.Type)
	}
	return json.Unmarshal(env.Data, dst)
}
