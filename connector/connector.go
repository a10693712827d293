// Package connector owns the single upstream session per process. It
// joins a broadcaster's room, normalizes platform callbacks into events,
// and manages upstream reconnection with progressive backoff.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ventelive/livebridge/event"
	"github.com/ventelive/livebridge/telemetry"
	"github.com/ventelive/livebridge/upstream"
)

// ErrIdentityMissing is returned by Start when no broadcaster identity is given.
var ErrIdentityMissing = errors.New("broadcaster identity missing")

const connectTimeout = 15 * time.Second

// State of the upstream session.
type State int

const (
	Idle State = iota
	Connecting
	Live
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the synchronous, in-memory view of the session.
type Status struct {
	Active   bool   `json:"active"`
	State    string `json:"state"`
	Identity string `json:"identity,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

// Publisher receives every normalized event. The broadcaster implements it.
type Publisher interface {
	Publish(ev event.Event)
}

// Connector binds to at most one broadcaster identity at a time. Starting
// a new identity tears down the previous session first. Constructed once
// by the composition root; lifecycle is Start/Stop cycles until the root
// context is cancelled.
type Connector struct {
	platform upstream.Platform
	sink     Publisher
	trigger  string
	policy   RetryPolicy
	ctx      context.Context

	mu       sync.Mutex
	state    State
	identity string
	roomID   string
	attempts int
	ended    bool
	gen      int
	session  upstream.Session
	retry    *time.Timer
}

// New builds a connector. ctx bounds connect attempts and retry timers;
// cancelling it stops the connector for good.
func New(ctx context.Context, platform upstream.Platform, sink Publisher, trigger string, policy RetryPolicy) *Connector {
	return &Connector{
		platform: platform,
		sink:     sink,
		trigger:  strings.ToLower(trigger),
		policy:   policy,
		ctx:      ctx,
	}
}

// Start binds to identity, replacing any active session. It returns after
// issuing the connect attempt; success or failure arrives asynchronously
// as connection events.
func (c *Connector) Start(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrIdentityMissing
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.identity = identity
	c.state = Connecting
	c.attempts = 0
	c.ended = false
	gen := c.gen
	slog.Info("upstream connect requested", slog.String("identity", identity), slog.String("component", "connector"))
	go c.connect(gen)
	return nil
}

// Stop tears down the active session if any. Always succeeds.
func (c *Connector) Stop() {
	c.mu.Lock()
	hadSession := c.session != nil
	c.teardownLocked()
	c.identity = ""
	c.roomID = ""
	c.state = Idle
	c.mu.Unlock()
	if hadSession {
		c.sink.Publish(event.NewConnection(event.StatusDisconnected, ""))
	}
	telemetry.UpdateLiveGauge(false)
	slog.Info("upstream session stopped", slog.String("component", "connector"))
}

// Status reports the current session state from memory; it never touches
// the network.
func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.state == Connecting || c.state == Live || c.state == Disconnected
	return Status{Active: active, State: c.state.String(), Identity: c.identity, RoomID: c.roomID}
}

// teardownLocked closes the session, cancels any pending retry, and bumps
// the generation so in-flight callbacks from the old session are ignored.
func (c *Connector) teardownLocked() {
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
}

func (c *Connector) connect(gen int) {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
	defer cancel()
	sess, room, err := c.platform.Connect(ctx, identity, upstream.Handlers{
		OnChat:       func(ev upstream.ChatEvent) { c.onChat(gen, ev) },
		OnGift:       func(ev upstream.GiftEvent) { c.onGift(gen, ev) },
		OnLike:       func(ev upstream.LikeEvent) { c.onLike(gen, ev) },
		OnStreamEnd:  func() { c.onStreamEnd(gen) },
		OnError:      func(err error) { c.onUpstreamError(gen, err) },
		OnDisconnect: func(err error) { c.onDisconnect(gen, err) },
	})
	if err != nil {
		slog.Warn("upstream connect failed", slog.String("identity", identity), slog.Any("err", err), slog.String("component", "connector"))
		c.sink.Publish(event.NewError(fmt.Sprintf("connection failed: %v", err)))
		c.handleDown(gen)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sess.Close()
		return
	}
	c.session = sess
	c.roomID = room.ID
	c.state = Live
	c.attempts = 0
	c.mu.Unlock()

	telemetry.UpdateLiveGauge(true)
	slog.Info("upstream session live", slog.String("identity", identity), slog.String("room_id", room.ID), slog.String("component", "connector"))
	c.sink.Publish(event.NewConnection(event.StatusConnected, room.ID))
}

// handleDown publishes the disconnect and either schedules one retry or
// gives up, per the retry policy. Only one retry timer is ever pending.
func (c *Connector) handleDown(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.roomID = ""
	telemetry.UpdateLiveGauge(false)

	if c.ended {
		c.state = Idle
		c.identity = ""
		c.mu.Unlock()
		c.sink.Publish(event.NewConnection(event.StatusDisconnected, ""))
		return
	}

	if c.policy.Exhausted(c.attempts) {
		c.state = Failed
		identity := c.identity
		c.mu.Unlock()
		c.sink.Publish(event.NewConnection(event.StatusDisconnected, ""))
		c.sink.Publish(event.NewError(fmt.Sprintf("giving up on %s after %d reconnect attempts", identity, c.policy.MaxAttempts)))
		slog.Warn("upstream reconnect attempts exhausted", slog.String("identity", identity), slog.Int("attempts", c.policy.MaxAttempts), slog.String("component", "connector"))
		return
	}

	c.state = Disconnected
	c.attempts++
	attempt := c.attempts
	delay := c.policy.Delay(attempt)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() { c.retryFire(gen) })
	c.mu.Unlock()

	if telemetry.UpstreamReconnects != nil {
		telemetry.UpstreamReconnects.Inc()
	}
	c.sink.Publish(event.NewConnection(event.StatusDisconnected, ""))
	slog.Info("upstream reconnect scheduled", slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.String("component", "connector"))
}

func (c *Connector) retryFire(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.state != Disconnected || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.state = Connecting
	c.mu.Unlock()
	c.connect(gen)
}

func (c *Connector) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

// onChat forwards every chat message unconditionally, marking the trigger
// flag when the text starts with the configured token. The text itself is
// never modified.
func (c *Connector) onChat(gen int, ev upstream.ChatEvent) {
	if c.stale(gen) {
		return
	}
	if telemetry.EventsNormalized != nil {
		telemetry.EventsNormalized.Inc()
	}
	c.sink.Publish(event.NewChat(event.Chat{
		SenderID:    ev.UniqueID,
		DisplayName: ev.Nickname,
		Text:        ev.Comment,
		TimestampMs: ev.TimestampMs,
		AvatarURL:   ev.ProfilePictureURL,
		Trigger:     c.matchesTrigger(ev.Comment),
	}))
}

// onGift forwards only the final tick of a repeat streak; partial counts
// would flood the fan-out.
func (c *Connector) onGift(gen int, ev upstream.GiftEvent) {
	if c.stale(gen) {
		return
	}
	if !ev.RepeatEnd {
		if telemetry.GiftTicksDiscarded != nil {
			telemetry.GiftTicksDiscarded.Inc()
		}
		return
	}
	if telemetry.EventsNormalized != nil {
		telemetry.EventsNormalized.Inc()
	}
	c.sink.Publish(event.NewGift(event.Gift{
		SenderID:    ev.UniqueID,
		DisplayName: ev.Nickname,
		GiftName:    ev.GiftName,
		RepeatCount: ev.RepeatCount,
	}))
}

func (c *Connector) onLike(gen int, ev upstream.LikeEvent) {
	if c.stale(gen) {
		return
	}
	if telemetry.EventsNormalized != nil {
		telemetry.EventsNormalized.Inc()
	}
	c.sink.Publish(event.NewLike(event.Like{
		SenderID:    ev.UniqueID,
		DisplayName: ev.Nickname,
		LikeCount:   ev.LikeCount,
	}))
}

func (c *Connector) onStreamEnd(gen int) {
	if c.stale(gen) {
		return
	}
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	slog.Info("upstream stream ended", slog.String("component", "connector"))
	c.sink.Publish(event.NewStreamEnd())
}

// onUpstreamError forwards the error without touching connection state:
// error and disconnect are independent upstream signals.
func (c *Connector) onUpstreamError(gen int, err error) {
	if c.stale(gen) {
		return
	}
	if telemetry.UpstreamErrors != nil {
		telemetry.UpstreamErrors.Inc()
	}
	slog.Warn("upstream error", slog.Any("err", err), slog.String("component", "connector"))
	c.sink.Publish(event.NewError(err.Error()))
}

func (c *Connector) onDisconnect(gen int, err error) {
	if c.stale(gen) {
		return
	}
	if err != nil {
		slog.Warn("upstream session dropped", slog.Any("err", err), slog.String("component", "connector"))
	} else {
		slog.Info("upstream session closed", slog.String("component", "connector"))
	}
	c.handleDown(gen)
}

func (c *Connector) matchesTrigger(text string) bool {
	if c.trigger == "" {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(text)), c.trigger)
}
