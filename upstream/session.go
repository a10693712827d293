package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 1 << 20
)

// Platform joins a broadcaster's live room and streams its events into
// Handlers. The concrete implementation talks to the gateway; tests
// substitute a fake.
type Platform interface {
	Connect(ctx context.Context, identity string, h Handlers) (Session, Room, error)
}

// Session is one open event connection. Close is idempotent.
type Session interface {
	Close() error
}

// Client is the production Platform: resolves the room over HTTP, then
// holds a websocket to the returned event URL.
type Client struct {
	Gateway *GatewayClient
	Dialer  *websocket.Dialer
}

func (c *Client) dialer() *websocket.Dialer {
	if c.Dialer != nil {
		return c.Dialer
	}
	return websocket.DefaultDialer
}

// Connect resolves the room and opens the event websocket. The returned
// session delivers events on its own goroutine until closed or dropped.
func (c *Client) Connect(ctx context.Context, identity string, h Handlers) (Session, Room, error) {
	room, err := c.Gateway.ResolveRoom(ctx, identity)
	if err != nil {
		return nil, Room{}, err
	}
	header := http.Header{}
	header.Set("User-Agent", c.Gateway.UserAgent)
	if c.Gateway.SessionID != "" {
		header.Set("X-Session-Id", c.Gateway.SessionID)
	}
	conn, resp, err := c.dialer().DialContext(ctx, room.WebsocketURL, header)
	if err != nil {
		if resp != nil {
			return nil, Room{}, fmt.Errorf("event socket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, Room{}, fmt.Errorf("event socket dial: %w", err)
	}
	s := &wsSession{conn: conn, handlers: h, done: make(chan struct{})}
	go s.readPump()
	go s.pingLoop()
	return s, room, nil
}

type wsSession struct {
	conn     *websocket.Conn
	handlers Handlers

	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

// frame is the gateway's wire envelope for room events.
type frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *wsSession) readPump() {
	defer close(s.done)
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	var exitErr error
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				exitErr = err
			}
			break
		}
		s.dispatch(data)
	}
	_ = s.conn.Close()
	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(exitErr)
	}
}

func (s *wsSession) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.emitError(fmt.Errorf("malformed frame: %w", err))
		return
	}
	switch f.Kind {
	case "chat":
		var ev ChatEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			s.emitError(fmt.Errorf("malformed chat payload: %w", err))
			return
		}
		if ev.TimestampMs == 0 {
			ev.TimestampMs = time.Now().UnixMilli()
		}
		if s.handlers.OnChat != nil {
			s.handlers.OnChat(ev)
		}
	case "gift":
		var ev GiftEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			s.emitError(fmt.Errorf("malformed gift payload: %w", err))
			return
		}
		if s.handlers.OnGift != nil {
			s.handlers.OnGift(ev)
		}
	case "like":
		var ev LikeEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			s.emitError(fmt.Errorf("malformed like payload: %w", err))
			return
		}
		if s.handlers.OnLike != nil {
			s.handlers.OnLike(ev)
		}
	case "streamEnd":
		if s.handlers.OnStreamEnd != nil {
			s.handlers.OnStreamEnd()
		}
	case "error":
		var p struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Payload, &p)
		if p.Message == "" {
			p.Message = "unknown upstream error"
		}
		s.emitError(fmt.Errorf("%s", p.Message))
	default:
		// Unknown kinds are tolerated; the gateway adds them without notice.
	}
}

func (s *wsSession) emitError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *wsSession) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
