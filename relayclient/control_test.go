package relayclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestControlStart(t *testing.T) {
	var gotIdentity string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Identity string `json:"identity"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotIdentity = body.Identity
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "connecting to " + body.Identity})
	}))
	defer srv.Close()

	cc := &ControlClient{BaseURL: srv.URL}
	if err := cc.Start(context.Background(), "alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if gotIdentity != "alice" {
		t.Errorf("identity sent = %q, want alice", gotIdentity)
	}
}

func TestControlStartRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "identity is required"})
	}))
	defer srv.Close()

	cc := &ControlClient{BaseURL: srv.URL}
	err := cc.Start(context.Background(), "")
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "identity is required") {
		t.Errorf("error should carry server message, got %v", err)
	}
}

func TestControlStop(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = r.URL.Path == "/stop" && r.Method == http.MethodPost
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cc := &ControlClient{BaseURL: srv.URL}
	if err := cc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !called {
		t.Error("stop endpoint not hit")
	}
}

func TestControlActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["alice"]`))
	}))
	defer srv.Close()

	cc := &ControlClient{BaseURL: srv.URL}
	ids := cc.Active(context.Background())
	if len(ids) != 1 || ids[0] != "alice" {
		t.Errorf("Active = %v, want [alice]", ids)
	}
}

// Every failure mode of the active query means "assume none": it is a
// bootstrap hint, not a source of truth.
func TestControlActiveFailuresMeanNone(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	cc := &ControlClient{BaseURL: bad.URL}
	if ids := cc.Active(context.Background()); len(ids) != 0 {
		t.Errorf("Active on 500 = %v, want none", ids)
	}
	bad.Close()

	// Server gone entirely.
	if ids := cc.Active(context.Background()); len(ids) != 0 {
		t.Errorf("Active on dead server = %v, want none", ids)
	}

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer garbled.Close()
	cc = &ControlClient{BaseURL: garbled.URL}
	if ids := cc.Active(context.Background()); len(ids) != 0 {
		t.Errorf("Active on garbage = %v, want none", ids)
	}
}
