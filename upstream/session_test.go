package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// eventServer serves both the room lookup and the event websocket, like
// the real gateway does.
type eventServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newEventServer(t *testing.T) *eventServer {
	t.Helper()
	es := &eventServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/room":
			wsURL := "ws" + strings.TrimPrefix(es.srv.URL, "http") + "/events"
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"roomId": "room7", "wsUrl": wsURL})
		case "/events":
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("upgrade: %v", err)
				return
			}
			es.conns <- conn
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *eventServer) sendFrame(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	f := map[string]any{"kind": kind}
	if payload != nil {
		f["payload"] = payload
	}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// capture records every handler invocation.
type capture struct {
	mu          sync.Mutex
	chats       []ChatEvent
	gifts       []GiftEvent
	likes       []LikeEvent
	errs        []error
	streamEnds  int
	disconnects []error
}

func (c *capture) handlers() Handlers {
	return Handlers{
		OnChat: func(ev ChatEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.chats = append(c.chats, ev)
		},
		OnGift: func(ev GiftEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.gifts = append(c.gifts, ev)
		},
		OnLike: func(ev LikeEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.likes = append(c.likes, ev)
		},
		OnStreamEnd: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.streamEnds++
		},
		OnError: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.errs = append(c.errs, err)
		},
		OnDisconnect: func(err error) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.disconnects = append(c.disconnects, err)
		},
	}
}

func (c *capture) wait(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		done := cond()
		c.mu.Unlock()
		if done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionDeliversEvents(t *testing.T) {
	es := newEventServer(t)
	cap := &capture{}
	client := &Client{Gateway: &GatewayClient{BaseURL: es.srv.URL, UserAgent: "livebridge/1.0"}}

	sess, room, err := client.Connect(context.Background(), "alice", cap.handlers())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = sess.Close() }()
	if room.ID != "room7" {
		t.Errorf("room = %+v", room)
	}

	conn := <-es.conns
	es.sendFrame(t, conn, "chat", map[string]any{"uniqueId": "bob", "nickname": "Bob", "comment": "hi", "timestamp": 42})
	es.sendFrame(t, conn, "chat", map[string]any{"uniqueId": "carol", "comment": "no timestamp"})
	es.sendFrame(t, conn, "gift", map[string]any{"uniqueId": "eve", "giftName": "rose", "repeatCount": 3, "repeatEnd": true})
	es.sendFrame(t, conn, "like", map[string]any{"uniqueId": "dan", "likeCount": 9})
	es.sendFrame(t, conn, "somethingNew", map[string]any{"x": 1})
	es.sendFrame(t, conn, "error", map[string]any{"message": "room glitch"})
	es.sendFrame(t, conn, "streamEnd", nil)

	cap.wait(t, "all events", func() bool {
		return len(cap.chats) == 2 && len(cap.gifts) == 1 && len(cap.likes) == 1 && len(cap.errs) == 1 && cap.streamEnds == 1
	})

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if cap.chats[0].UniqueID != "bob" || cap.chats[0].TimestampMs != 42 {
		t.Errorf("chat[0] = %+v", cap.chats[0])
	}
	if cap.chats[1].TimestampMs == 0 {
		t.Error("missing timestamp should default to now")
	}
	if !cap.gifts[0].RepeatEnd || cap.gifts[0].RepeatCount != 3 {
		t.Errorf("gift = %+v", cap.gifts[0])
	}
	if cap.likes[0].LikeCount != 9 {
		t.Errorf("like = %+v", cap.likes[0])
	}
	if cap.errs[0].Error() != "room glitch" {
		t.Errorf("err = %v", cap.errs[0])
	}
}

func TestSessionMalformedFrameEmitsError(t *testing.T) {
	es := newEventServer(t)
	cap := &capture{}
	client := &Client{Gateway: &GatewayClient{BaseURL: es.srv.URL}}

	sess, _, err := client.Connect(context.Background(), "alice", cap.handlers())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = sess.Close() }()

	conn := <-es.conns
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cap.wait(t, "decode error", func() bool { return len(cap.errs) == 1 })
}

func TestSessionCleanCloseDisconnectsWithoutError(t *testing.T) {
	es := newEventServer(t)
	cap := &capture{}
	client := &Client{Gateway: &GatewayClient{BaseURL: es.srv.URL}}

	sess, _, err := client.Connect(context.Background(), "alice", cap.handlers())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = sess.Close() }()

	conn := <-es.conns
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()

	cap.wait(t, "disconnect", func() bool { return len(cap.disconnects) == 1 })
	cap.mu.Lock()
	defer cap.mu.Unlock()
	if cap.disconnects[0] != nil {
		t.Errorf("clean close reported error: %v", cap.disconnects[0])
	}
}

func TestSessionAbruptDropDisconnectsWithError(t *testing.T) {
	es := newEventServer(t)
	cap := &capture{}
	client := &Client{Gateway: &GatewayClient{BaseURL: es.srv.URL}}

	sess, _, err := client.Connect(context.Background(), "alice", cap.handlers())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = sess.Close() }()

	conn := <-es.conns
	_ = conn.Close()

	cap.wait(t, "disconnect", func() bool { return len(cap.disconnects) == 1 })
	cap.mu.Lock()
	defer cap.mu.Unlock()
	if cap.disconnects[0] == nil {
		t.Error("abrupt drop should carry an error")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	es := newEventServer(t)
	cap := &capture{}
	client := &Client{Gateway: &GatewayClient{BaseURL: es.srv.URL}}

	sess, _, err := client.Connect(context.Background(), "alice", cap.handlers())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-es.conns
	if err := sess.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	cap.wait(t, "disconnect", func() bool { return len(cap.disconnects) == 1 })
}
