package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockGatewayServer creates a test server that mocks platform gateway responses
type MockGatewayServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockGatewayServer creates a new mock gateway server
func NewMockGatewayServer(t *testing.T) *MockGatewayServer {
	t.Helper()
	m := &MockGatewayServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockRoomResponse adds a handler for the /room endpoint
func (m *MockGatewayServer) MockRoomResponse(roomID, wsURL string) {
	m.Handlers["/room"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"roomId": roomID,
			"wsUrl":  wsURL,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockRoomError makes the /room endpoint fail with the given status
func (m *MockGatewayServer) MockRoomError(status int) {
	m.Handlers["/room"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}
