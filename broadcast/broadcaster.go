// Package broadcast fans normalized events out to every open downstream
// channel. It never buffers for disconnected channels and tolerates
// per-channel send failures: one dead client cannot stall the rest.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ventelive/livebridge/event"
	"github.com/ventelive/livebridge/telemetry"
)

// Channel is one open push connection to a downstream client. Send must
// be bounded: it either enqueues promptly or fails.
type Channel interface {
	Send(data []byte) error
	Close() error
}

// Broadcaster holds the open channel set. The snapshot function supplies
// a synthetic connection event pushed to every newly attached channel so
// fresh subscribers render correct status with zero prior history.
type Broadcaster struct {
	snapshot func() event.Event

	mu       sync.Mutex
	channels map[Channel]struct{}
}

// New builds an empty broadcaster.
func New(snapshot func() event.Event) *Broadcaster {
	return &Broadcaster{snapshot: snapshot, channels: make(map[Channel]struct{})}
}

// Attach pushes the current connection status to the channel, then
// registers it. The snapshot goes out before the channel can appear in
// any broadcast target set, so it is always the first thing a new
// subscriber receives.
func (b *Broadcaster) Attach(ch Channel) {
	if b.snapshot != nil {
		data, err := json.Marshal(b.snapshot())
		if err != nil {
			slog.Error("failed to encode status snapshot", slog.Any("err", err), slog.String("component", "broadcast"))
		} else if err := ch.Send(data); err != nil {
			slog.Warn("status snapshot send failed", slog.Any("err", err), slog.String("component", "broadcast"))
			_ = ch.Close()
			return
		}
	}

	b.mu.Lock()
	b.channels[ch] = struct{}{}
	n := len(b.channels)
	b.mu.Unlock()
	telemetry.SetOpenChannels(n)
	slog.Debug("downstream channel attached", slog.Int("open", n), slog.String("component", "broadcast"))
}

// Detach removes and closes a channel. Safe to call twice.
func (b *Broadcaster) Detach(ch Channel) {
	b.mu.Lock()
	_, ok := b.channels[ch]
	if ok {
		delete(b.channels, ch)
	}
	n := len(b.channels)
	b.mu.Unlock()
	if ok {
		_ = ch.Close()
		telemetry.SetOpenChannels(n)
		slog.Debug("downstream channel detached", slog.Int("open", n), slog.String("component", "broadcast"))
	}
}

// Broadcast pushes one event to all open channels, skipping past dead
// ones, and reports how many of the total actually took the payload.
// Failed channels are detached.
func (b *Broadcaster) Broadcast(ev event.Event) (delivered, total int) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to encode event", slog.Any("err", err), slog.String("component", "broadcast"))
		return 0, 0
	}

	b.mu.Lock()
	targets := make([]Channel, 0, len(b.channels))
	for ch := range b.channels {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	total = len(targets)
	var dead []Channel
	for _, ch := range targets {
		if err := ch.Send(data); err != nil {
			if telemetry.DeliveryFailures != nil {
				telemetry.DeliveryFailures.Inc()
			}
			dead = append(dead, ch)
			continue
		}
		delivered++
	}
	for _, ch := range dead {
		b.Detach(ch)
	}

	if telemetry.Broadcasts != nil {
		telemetry.Broadcasts.Inc()
	}
	slog.Debug("broadcast complete", slog.String("type", string(ev.Type)), slog.Int("delivered", delivered), slog.Int("total", total), slog.String("component", "broadcast"))
	return delivered, total
}

// Publish implements the connector's sink.
func (b *Broadcaster) Publish(ev event.Event) { b.Broadcast(ev) }

// Len returns the number of open channels.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

// CloseAll detaches every channel, for shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	channels := make([]Channel, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.channels = make(map[Channel]struct{})
	b.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	telemetry.SetOpenChannels(0)
}
