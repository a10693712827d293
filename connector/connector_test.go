package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ventelive/livebridge/event"
	"github.com/ventelive/livebridge/upstream"
)

type fakeSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *fakeSink) Publish(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) snapshot() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *fakeSink) count(kind event.Kind) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type fakeSession struct {
	once   sync.Once
	closed chan struct{}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakePlatform struct {
	mu         sync.Mutex
	connects   int
	connectErr error
	handlers   upstream.Handlers
	sessions   []*fakeSession
}

func (p *fakePlatform) Connect(ctx context.Context, identity string, h upstream.Handlers) (upstream.Session, upstream.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connects++
	if p.connectErr != nil {
		return nil, upstream.Room{}, p.connectErr
	}
	p.handlers = h
	s := &fakeSession{closed: make(chan struct{})}
	p.sessions = append(p.sessions, s)
	return s, upstream.Room{ID: "room123", WebsocketURL: "ws://gateway/room123"}, nil
}

func (p *fakePlatform) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *fakePlatform) currentHandlers() upstream.Handlers {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers
}

func (p *fakePlatform) lastSession() *fakeSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestConnector(t *testing.T, p upstream.Platform, sink Publisher) *Connector {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, p, sink, "jp", RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond})
}

func startLive(t *testing.T, c *Connector, p *fakePlatform, sink *fakeSink, identity string) {
	t.Helper()
	if err := c.Start(identity); err != nil {
		t.Fatalf("Start(%q) error: %v", identity, err)
	}
	waitFor(t, "live state", func() bool { return c.Status().State == "live" })
	waitFor(t, "connected event", func() bool { return sink.count(event.KindConnection) >= 1 })
}

func TestStartRequiresIdentity(t *testing.T) {
	c := newTestConnector(t, &fakePlatform{}, &fakeSink{})
	if err := c.Start(""); !errors.Is(err, ErrIdentityMissing) {
		t.Errorf("Start(\"\") = %v, want ErrIdentityMissing", err)
	}
	if err := c.Start("   "); !errors.Is(err, ErrIdentityMissing) {
		t.Errorf("Start(blank) = %v, want ErrIdentityMissing", err)
	}
}

func TestStartEmitsConnectedWithRoom(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	st := c.Status()
	if !st.Active || st.Identity != "alice" || st.RoomID != "room123" {
		t.Errorf("unexpected status: %+v", st)
	}
	events := sink.snapshot()
	first := events[0]
	if first.Type != event.KindConnection || first.Connection.Status != event.StatusConnected || first.Connection.RoomID != "room123" {
		t.Errorf("expected connected(room123) first, got %+v", first)
	}
}

func TestChatNormalizationAndTrigger(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	h := p.currentHandlers()
	h.OnChat(upstream.ChatEvent{UniqueID: "bob", Nickname: "Bob", Comment: "jp buy 2", TimestampMs: 42})
	h.OnChat(upstream.ChatEvent{UniqueID: "carol", Nickname: "Carol", Comment: "hello"})
	h.OnChat(upstream.ChatEvent{UniqueID: "dan", Nickname: "Dan", Comment: "  JP deux"})

	waitFor(t, "three chat events", func() bool { return sink.count(event.KindChat) == 3 })
	var chats []event.Chat
	for _, ev := range sink.snapshot() {
		if ev.Type == event.KindChat {
			chats = append(chats, *ev.Chat)
		}
	}
	if chats[0].SenderID != "bob" || chats[0].Text != "jp buy 2" || !chats[0].Trigger {
		t.Errorf("bob chat mismatch: %+v", chats[0])
	}
	if chats[0].TimestampMs != 42 {
		t.Errorf("timestamp not preserved: %+v", chats[0])
	}
	if chats[1].Trigger {
		t.Errorf("plain chat flagged as trigger: %+v", chats[1])
	}
	if !chats[2].Trigger {
		t.Errorf("trigger match should be case-insensitive: %+v", chats[2])
	}
}

func TestGiftForwardedOnlyOnRepeatEnd(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	h := p.currentHandlers()
	for i := 1; i <= 3; i++ {
		h.OnGift(upstream.GiftEvent{UniqueID: "eve", Nickname: "Eve", GiftName: "rose", RepeatCount: i, RepeatEnd: false})
	}
	h.OnGift(upstream.GiftEvent{UniqueID: "eve", Nickname: "Eve", GiftName: "rose", RepeatCount: 5, RepeatEnd: true})

	waitFor(t, "gift event", func() bool { return sink.count(event.KindGift) >= 1 })
	if n := sink.count(event.KindGift); n != 1 {
		t.Fatalf("expected exactly 1 gift event, got %d", n)
	}
	for _, ev := range sink.snapshot() {
		if ev.Type == event.KindGift && ev.Gift.RepeatCount != 5 {
			t.Errorf("gift repeatCount = %d, want 5", ev.Gift.RepeatCount)
		}
	}
}

func TestUpstreamErrorDoesNotChangeState(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	p.currentHandlers().OnError(errors.New("temporary wobble"))
	waitFor(t, "error event", func() bool { return sink.count(event.KindError) >= 1 })
	if st := c.Status(); st.State != "live" {
		t.Errorf("error event changed state to %s", st.State)
	}
}

func TestReconnectAttemptsAreCapped(t *testing.T) {
	p := &fakePlatform{connectErr: errors.New("not live")}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	if err := c.Start("alice"); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitFor(t, "failed state", func() bool { return c.Status().State == "failed" })
	// 1 initial attempt + 5 retries, then no more.
	if n := p.connectCount(); n != 6 {
		t.Errorf("connect attempts = %d, want 6", n)
	}
	time.Sleep(50 * time.Millisecond)
	if n := p.connectCount(); n != 6 {
		t.Errorf("retry fired after Failed: attempts = %d", n)
	}
	if st := c.Status(); st.Active {
		t.Errorf("failed session still reported active: %+v", st)
	}
}

func TestDisconnectSchedulesRetryAndRecovers(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	p.currentHandlers().OnDisconnect(errors.New("connection reset"))
	waitFor(t, "reconnect", func() bool { return p.connectCount() == 2 })
	waitFor(t, "live again", func() bool { return c.Status().State == "live" })
	// Live resets the attempt counter, so the full budget is available again.
	waitFor(t, "second connected event", func() bool { return sink.count(event.KindConnection) >= 3 })
}

func TestStopTearsDownSession(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	sess := p.lastSession()
	c.Stop()
	if !sess.isClosed() {
		t.Error("Stop did not close the upstream session")
	}
	if st := c.Status(); st.Active || st.Identity != "" {
		t.Errorf("status after Stop: %+v", st)
	}
	// Stop is a no-op without a session.
	c.Stop()
}

func TestStreamEndSuppressesRetry(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	h := p.currentHandlers()
	h.OnStreamEnd()
	h.OnDisconnect(nil)

	waitFor(t, "streamEnd event", func() bool { return sink.count(event.KindStreamEnd) == 1 })
	waitFor(t, "idle state", func() bool { return c.Status().State == "idle" })
	time.Sleep(50 * time.Millisecond)
	if n := p.connectCount(); n != 1 {
		t.Errorf("reconnect after stream end: attempts = %d, want 1", n)
	}
}

func TestStartReplacesExistingSession(t *testing.T) {
	p := &fakePlatform{}
	sink := &fakeSink{}
	c := newTestConnector(t, p, sink)
	startLive(t, c, p, sink, "alice")

	first := p.lastSession()
	if err := c.Start("bob"); err != nil {
		t.Fatalf("Start(bob) error: %v", err)
	}
	waitFor(t, "replacement live", func() bool {
		st := c.Status()
		return st.State == "live" && st.Identity == "bob"
	})
	if !first.isClosed() {
		t.Error("previous session not torn down on replace")
	}
}
