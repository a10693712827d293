// Package relayclient is the client library for the bridge push channel.
// It presents a stable subscribe/unsubscribe contract to UI code
// regardless of upstream connection flux: events arriving before any
// handler is registered are buffered (bounded, drop-oldest) and delivered
// exactly once to the first subscriber, and the transport reconnects on
// unexpected drops independently of the upstream session.
package relayclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ventelive/livebridge/event"
)

// ChannelStatus is the transport state.
type ChannelStatus int

const (
	StatusDisconnected ChannelStatus = iota
	StatusConnecting
	StatusConnected
)

// Handler receives decoded events. Handlers run on the client's read
// goroutine and must not block.
type Handler func(event.Event)

// Options configures a Client. Zero values take the defaults noted.
type Options struct {
	// WSURL is the push channel endpoint (ws://host/ws). Required.
	WSURL string
	// ControlURL is the control surface base (http://host). Required for
	// StartListening/StopListening.
	ControlURL string

	// BufferSize bounds the pending event buffer (default 100).
	BufferSize int
	// ReconnectAttempts bounds transport reconnection (default 5).
	ReconnectAttempts int
	// ReconnectDelay is the fixed wait between attempts (default 3s).
	ReconnectDelay time.Duration

	Dialer     *websocket.Dialer
	HTTPClient *ControlClient
}

// Client is one relay connection per consumer process (one browser tab
// equivalent). All methods are safe for concurrent use.
type Client struct {
	wsURL   string
	control *ControlClient
	dialer  *websocket.Dialer

	bufferSize     int
	maxReconnects  int
	reconnectDelay time.Duration

	// dispatchMu serializes event delivery against handler registration
	// so a buffered backlog is always flushed before newer live events.
	dispatchMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	gen            int
	status         ChannelStatus
	buffer         []event.Event
	handlers       map[int]Handler
	nextHandlerID  int
	listening      bool
	identity       string
	reconnectCount int
	reconnectTimer *time.Timer
}

// New builds a client. It opens no connection until a handler registers
// or StartListening is called.
func New(opts Options) *Client {
	c := &Client{
		wsURL:          opts.WSURL,
		dialer:         opts.Dialer,
		bufferSize:     opts.BufferSize,
		maxReconnects:  opts.ReconnectAttempts,
		reconnectDelay: opts.ReconnectDelay,
		handlers:       make(map[int]Handler),
	}
	if c.bufferSize <= 0 {
		c.bufferSize = 100
	}
	if c.maxReconnects <= 0 {
		c.maxReconnects = 5
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = 3 * time.Second
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient != nil {
		c.control = opts.HTTPClient
	} else {
		c.control = &ControlClient{BaseURL: opts.ControlURL}
	}
	return c
}

// OnMessage registers a handler for relayed events. Any events buffered
// before the first handler existed are delivered synchronously, in
// arrival order, exactly once, before the handler is attached to future
// events. If no transport is open, one is opened. The returned function
// unsubscribes this handler only.
func (c *Client) OnMessage(handler Handler) func() {
	c.dispatchMu.Lock()
	c.mu.Lock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.handlers[id] = handler
	pending := c.buffer
	c.buffer = nil
	needOpen := c.conn == nil && c.status != StatusConnecting
	c.mu.Unlock()

	for _, ev := range pending {
		handler(ev)
	}
	c.dispatchMu.Unlock()

	if needOpen {
		c.openTransport()
	}

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		// Keep the transport while an identity is live: tearing it down
		// between a UI re-render and re-subscription would lose events.
		closeIt := len(c.handlers) == 0 && !c.listening
		c.mu.Unlock()
		if closeIt {
			c.closeTransport()
		}
	}
}

// StartListening converges on "transport open, listening flag true". If a
// session for identity is already active it does not re-issue start, to
// avoid disrupting the existing session; the active query is a bootstrap
// hint only and is never consulted again.
func (c *Client) StartListening(ctx context.Context, identity string) error {
	already := false
	for _, id := range c.control.Active(ctx) {
		if id == identity {
			already = true
			break
		}
	}
	if !already {
		if err := c.control.Start(ctx, identity); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.listening = true
	c.identity = identity
	c.reconnectCount = 0
	needOpen := c.conn == nil && c.status != StatusConnecting
	c.mu.Unlock()

	if needOpen {
		c.openTransport()
	}
	slog.Info("listening", slog.String("identity", identity), slog.Bool("resumed", already), slog.String("component", "relayclient"))
	return nil
}

// StopListening stops the upstream session, closes the transport, and
// clears the listening flag, buffers, and any pending reconnect timer. A
// leaked timer reopening the channel after an explicit stop is a defect.
func (c *Client) StopListening(ctx context.Context) error {
	err := c.control.Stop(ctx)
	if err != nil {
		slog.Warn("stop request failed", slog.Any("err", err), slog.String("component", "relayclient"))
	}

	c.mu.Lock()
	c.listening = false
	c.identity = ""
	c.buffer = nil
	c.reconnectCount = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.closeTransport()
	return err
}

// IsConnected reports whether the transport is open. Pure check, no side
// effects.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusConnected
}

// Close tears everything down without touching the upstream session.
func (c *Client) Close() {
	c.mu.Lock()
	c.listening = false
	c.identity = ""
	c.buffer = nil
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	c.closeTransport()
}

func (c *Client) openTransport() {
	c.mu.Lock()
	if c.conn != nil || c.status == StatusConnecting {
		c.mu.Unlock()
		return
	}
	c.status = StatusConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.wsURL, nil)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.status = StatusDisconnected
		c.mu.Unlock()
		slog.Warn("transport dial failed", slog.Any("err", err), slog.String("component", "relayclient"))
		c.maybeReconnect(false)
		return
	}
	c.conn = conn
	c.status = StatusConnected
	c.reconnectCount = 0
	c.mu.Unlock()

	slog.Debug("transport open", slog.String("component", "relayclient"))
	go c.readLoop(conn, gen)
}

func (c *Client) closeTransport() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.gen++ // invalidates the read loop's close handling
	c.status = StatusDisconnected
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			clean := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			c.onTransportClosed(gen, clean)
			return
		}
		c.dispatch(data)
	}
}

// dispatch decodes one payload and routes it to handlers, or into the
// pending buffer when no handler exists yet. The buffer is strict FIFO
// and bounded: beyond capacity the oldest entry is dropped.
func (c *Client) dispatch(data []byte) {
	ev, ok := decodePayload(data)
	if !ok {
		slog.Debug("undecodable payload dropped", slog.Int("bytes", len(data)), slog.String("component", "relayclient"))
		return
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.mu.Lock()
	if len(c.handlers) == 0 {
		c.buffer = append(c.buffer, ev)
		if len(c.buffer) > c.bufferSize {
			c.buffer = c.buffer[1:]
		}
		c.mu.Unlock()
		return
	}
	targets := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		targets = append(targets, h)
	}
	c.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

func (c *Client) onTransportClosed(gen int, clean bool) {
	c.mu.Lock()
	if gen != c.gen {
		// Explicitly closed by us; nothing to resume.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if clean {
		slog.Info("transport closed cleanly", slog.String("component", "relayclient"))
		// A clean close is not an error, so the retry counter does not
		// apply; but a live identity should still resume so transient
		// blips do not silently stop delivery.
		c.maybeReconnect(true)
		return
	}
	slog.Warn("transport dropped", slog.String("component", "relayclient"))
	c.maybeReconnect(false)
}

// maybeReconnect schedules a single reconnect attempt after the fixed
// delay. No two timers ever run concurrently; scheduling is skipped when
// one is already pending. The callback is generation-checked: Stop and
// explicit closes bump gen, which invalidates the timer even when it has
// already fired and is waiting on the lock.
func (c *Client) maybeReconnect(resume bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reconnectTimer != nil {
		return
	}
	wanted := len(c.handlers) > 0 || c.listening
	if !wanted {
		return
	}
	if resume {
		if !c.listening {
			return
		}
		c.reconnectCount = 0
	} else {
		if c.reconnectCount >= c.maxReconnects {
			slog.Warn("transport reconnect attempts exhausted", slog.Int("attempts", c.maxReconnects), slog.String("component", "relayclient"))
			return
		}
		c.reconnectCount++
	}
	attempt := c.reconnectCount
	gen := c.gen
	c.reconnectTimer = time.AfterFunc(c.reconnectDelay, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		stillWanted := (len(c.handlers) > 0 || c.listening) && c.conn == nil
		c.mu.Unlock()
		if stillWanted {
			c.openTransport()
		}
	})
	slog.Debug("transport reconnect scheduled", slog.Int("attempt", attempt), slog.Bool("resume", resume), slog.String("component", "relayclient"))
}
