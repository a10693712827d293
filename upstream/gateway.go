// Package upstream contains the client for the live-streaming platform
// gateway: room resolution over HTTP and the event websocket session.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// GatewayClient resolves a broadcaster handle to a joinable room via the
// platform gateway. The gateway also signs the websocket URL it returns.
type GatewayClient struct {
	BaseURL    string
	UserAgent  string
	SessionID  string // optional platform session cookie
	HTTPClient *http.Client
}

func (gc *GatewayClient) http() *http.Client {
	if gc.HTTPClient != nil {
		return gc.HTTPClient
	}
	return http.DefaultClient
}

// ResolveRoom looks up the live room for a broadcaster handle. A handle
// that is not currently live yields an error; callers treat it as a
// retryable connect failure.
func (gc *GatewayClient) ResolveRoom(ctx context.Context, identity string) (Room, error) {
	if identity == "" {
		return Room{}, fmt.Errorf("identity empty")
	}
	if gc.BaseURL == "" {
		return Room{}, fmt.Errorf("gateway base url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gc.BaseURL+"/room", nil)
	if err != nil {
		return Room{}, err
	}
	q := req.URL.Query()
	q.Set("handle", identity)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("User-Agent", gc.UserAgent)
	if gc.SessionID != "" {
		req.Header.Set("X-Session-Id", gc.SessionID)
	}
	resp, err := gc.http().Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("gateway room lookup: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return Room{}, fmt.Errorf("gateway room lookup: status %d", resp.StatusCode)
	}
	var room Room
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return Room{}, fmt.Errorf("gateway room lookup: decode: %w", err)
	}
	if room.ID == "" || room.WebsocketURL == "" {
		return Room{}, fmt.Errorf("gateway room lookup: incomplete response for %q", identity)
	}
	return room, nil
}
