package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ControlClient talks to the bridge control surface (/start, /stop,
// /active).
type ControlClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (cc *ControlClient) http() *http.Client {
	if cc.HTTPClient != nil {
		return cc.HTTPClient
	}
	return http.DefaultClient
}

// Start asks the bridge to join the given broadcaster identity. A 2xx
// response means "request accepted", not "connection established".
func (cc *ControlClient) Start(ctx context.Context, identity string) error {
	body, err := json.Marshal(map[string]string{"identity": identity})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.BaseURL+"/start", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := cc.http().Do(req)
	if err != nil {
		return fmt.Errorf("start request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Message != "" {
			return fmt.Errorf("start rejected: %s", payload.Message)
		}
		return fmt.Errorf("start rejected: status %d", resp.StatusCode)
	}
	return nil
}

// Stop asks the bridge to tear down the active session.
func (cc *ControlClient) Stop(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cc.BaseURL+"/stop", nil)
	if err != nil {
		return err
	}
	resp, err := cc.http().Do(req)
	if err != nil {
		return fmt.Errorf("stop request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("stop rejected: status %d", resp.StatusCode)
	}
	return nil
}

// Active returns the identities the bridge is currently bound to. Any
// failure is reported as "no active connections" rather than an error:
// callers use this as a bootstrap hint only, never as the live source of
// truth.
func (cc *ControlClient) Active(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cc.BaseURL+"/active", nil)
	if err != nil {
		return nil
	}
	resp, err := cc.http().Do(req)
	if err != nil {
		slog.Debug("active query failed; assuming none", slog.Any("err", err), slog.String("component", "relayclient"))
		return nil
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var identities []string
	if err := json.NewDecoder(resp.Body).Decode(&identities); err != nil {
		slog.Debug("active query decode failed; assuming none", slog.Any("err", err), slog.String("component", "relayclient"))
		return nil
	}
	return identities
}
