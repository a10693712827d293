// Package consumer interprets relayed events into a connection state,
// message list, and running stats for the live-selling UI. It also
// resolves chat senders to customer records, creating platform-sourced
// records on the fly for unknown senders.
package consumer

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ventelive/livebridge/event"
)

// State of the consumer.
type State int

const (
	Idle State = iota
	// Listening means startListening was issued but no signal has
	// confirmed the channel yet.
	Listening
	Connected
	Disconnected
	// StreamEnded is terminal until an explicit StartListening.
	StreamEnded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case StreamEnded:
		return "streamEnded"
	default:
		return "unknown"
	}
}

// Stats accumulates per-session counters.
type Stats struct {
	Messages int
	Likes    int
	Gifts    int
	Errors   int
}

const maxMessages = 500

// Consumer is the state machine fed by a relay client's handler. Methods
// are safe for concurrent use; event handling itself is expected from a
// single goroutine (the relay client's read loop).
type Consumer struct {
	ctx   context.Context
	store CustomerStore // nil disables customer resolution

	mu        sync.Mutex
	state     State
	roomID    string
	messages  []event.Chat
	stats     Stats
	lastError string
}

// New builds an idle consumer. ctx bounds customer store calls.
func New(ctx context.Context, store CustomerStore) *Consumer {
	return &Consumer{ctx: ctx, store: store}
}

// StartListening marks the consumer as awaiting confirmation. Explicitly
// required to leave Disconnected or StreamEnded.
func (c *Consumer) StartListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Listening
	c.roomID = ""
	c.lastError = ""
}

// Stop returns to Idle and clears session state.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.roomID = ""
	c.messages = nil
	c.stats = Stats{}
	c.lastError = ""
}

// HandleEvent feeds one relayed event through the state machine. Suitable
// as a relay client OnMessage handler.
func (c *Consumer) HandleEvent(ev event.Event) {
	switch ev.Type {
	case event.KindChat:
		c.onChat(ev.Chat)
	case event.KindLike:
		c.onLike(ev.Like)
	case event.KindGift:
		c.onGift(ev.Gift)
	case event.KindConnection:
		c.onConnection(ev.Connection)
	case event.KindError:
		c.onError(ev.Error)
	case event.KindStreamEnd:
		c.onStreamEnd()
	}
}

// HandleTransportClose reflects a dropped push channel. Disconnected does
// not return to Listening by itself; that takes an explicit
// StartListening.
func (c *Consumer) HandleTransportClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Connected {
		c.state = Disconnected
	}
}

// confirmLocked moves Listening to Connected. Chat, stats, and explicit
// connected events all confirm: upstream status may arrive out of order
// relative to the first real message.
func (c *Consumer) confirmLocked() {
	if c.state == Listening {
		c.state = Connected
	}
}

func (c *Consumer) onChat(chat *event.Chat) {
	if chat == nil {
		return
	}
	c.mu.Lock()
	c.confirmLocked()
	c.messages = append(c.messages, *chat)
	if len(c.messages) > maxMessages {
		c.messages = c.messages[1:]
	}
	c.stats.Messages++
	c.mu.Unlock()

	if c.store != nil {
		c.resolveCustomer(*chat)
	}
}

func (c *Consumer) onLike(like *event.Like) {
	if like == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmLocked()
	c.stats.Likes += like.LikeCount
}

func (c *Consumer) onGift(gift *event.Gift) {
	if gift == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmLocked()
	c.stats.Gifts += gift.RepeatCount
}

func (c *Consumer) onConnection(conn *event.Connection) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch conn.Status {
	case event.StatusConnected:
		c.roomID = conn.RoomID
		c.confirmLocked()
	case event.StatusDisconnected:
		c.roomID = ""
		if c.state == Connected {
			c.state = Disconnected
		}
	}
}

func (c *Consumer) onError(e *event.Error) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Errors++
	if suppressedError(e.Message) {
		slog.Debug("suppressed upstream error", slog.String("message", e.Message), slog.String("component", "consumer"))
		return
	}
	c.lastError = e.Message
}

func (c *Consumer) onStreamEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StreamEnded
	c.roomID = ""
	c.lastError = "stream ended"
}

// suppressedError filters upstream error messages that are noise for the
// user-facing display. Substring matching is a known fragility; replace
// with a structured error code if the upstream ever provides one.
func suppressedError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, strings.ToLower("Erreur inconnue"))
}

// State returns the current connection state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomID returns the live room id, empty unless connected.
func (c *Consumer) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Stats returns a copy of the running counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Messages returns a copy of the retained message list, oldest first.
func (c *Consumer) Messages() []event.Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Chat, len(c.messages))
	copy(out, c.messages)
	return out
}

// LastError returns the most recent user-visible error, if any.
func (c *Consumer) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}
