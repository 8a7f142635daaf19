package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"nightdesk/pkg/types"
)

// recordingDispatcher captures what the handler forwards to the hub
type recordingDispatcher struct {
	mu          sync.Mutex
	connected   []string
	dispatched  []types.Envelope
	disconnects []string
}

func (d *recordingDispatcher) Connect(connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, connID)
	return nil
}

func (d *recordingDispatcher) Disconnect(connID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects = append(d.disconnects, connID)
	return nil
}

func (d *recordingDispatcher) Dispatch(connID string, env types.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, env)
	return nil
}

func (d *recordingDispatcher) snapshot() (connected, disconnects []string, dispatched []types.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.connected...), append([]string(nil), d.disconnects...), append([]types.Envelope(nil), d.dispatched...)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startTestHandler(t *testing.T, cfg HandlerConfig) (*httptest.Server, *Registry, *recordingDispatcher) {
	t.Helper()
	registry := newTestRegistry()
	dispatcher := &recordingDispatcher{}
	handler := NewHandler(registry, dispatcher, cfg, registry.log)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)
	return server, registry, dispatcher
}

func dial(t *testing.T, server *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_ConnectionLifecycle(t *testing.T) {
	server, registry, dispatcher := startTestHandler(t, DefaultHandlerConfig())
	client := dial(t, server, nil)

	waitFor(t, "hub connect", func() bool {
		connected, _, _ := dispatcher.snapshot()
		return len(connected) == 1
	})
	connected, _, _ := dispatcher.snapshot()
	if _, exists := registry.Get(connected[0]); !exists {
		t.Error("Connection should be registered before the hub is told")
	}

	_ = client.Close()
	waitFor(t, "hub disconnect", func() bool {
		_, disconnects, _ := dispatcher.snapshot()
		return len(disconnects) == 1
	})
	_, disconnects, _ := dispatcher.snapshot()
	if disconnects[0] != connected[0] {
		t.Errorf("Disconnect for %s, expected %s", disconnects[0], connected[0])
	}
	waitFor(t, "registry cleanup", func() bool {
		return registry.GetStats()["total_connections"] == 0
	})
}

func TestHandler_ForwardsOnlyValidFrames(t *testing.T) {
	server, _, dispatcher := startTestHandler(t, DefaultHandlerConfig())
	client := dial(t, server, nil)

	frames := []string{
		`not json`,
		`{"payload":{}}`,
		`{"type":"bogus.event","payload":{}}`,
		`{"type":"guest.declare","payload":{"branch":"Seoul","nickname":"Kim"}}`,
		`{"type":"message.send","payload":{"channelId":"c1","text":"hello"}}`,
	}
	for _, f := range frames {
		if err := client.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	waitFor(t, "two dispatched frames", func() bool {
		_, _, dispatched := dispatcher.snapshot()
		return len(dispatched) >= 2
	})
	time.Sleep(50 * time.Millisecond)

	_, _, dispatched := dispatcher.snapshot()
	if len(dispatched) != 2 {
		t.Fatalf("Expected 2 dispatched frames, got %d", len(dispatched))
	}
	if dispatched[0].Type != types.EventGuestDeclare || dispatched[1].Type != types.EventMessageSend {
		t.Errorf("Unexpected dispatch order %s, %s", dispatched[0].Type, dispatched[1].Type)
	}
}

func TestHandler_OutboundThroughRegistry(t *testing.T) {
	server, registry, dispatcher := startTestHandler(t, DefaultHandlerConfig())
	client := dial(t, server, nil)

	waitFor(t, "hub connect", func() bool {
		connected, _, _ := dispatcher.snapshot()
		return len(connected) == 1
	})
	connected, _, _ := dispatcher.snapshot()
	registry.Join(connected[0], types.AdminGroup)
	registry.SendToGroup(types.AdminGroup, types.NewEvent(types.EventSystemNotice, types.NoticePayload{Text: "hello"}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string              `json:"type"`
		Payload types.NoticePayload `json:"payload"`
	}
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != types.EventSystemNotice || got.Payload.Text != "hello" {
		t.Errorf("Unexpected frame %+v", got)
	}
}

func TestHandler_OriginAllowList(t *testing.T) {
	cfg := DefaultHandlerConfig()
	cfg.AllowedOrigins = []string{"https://desk.example"}
	server, _, _ := startTestHandler(t, cfg)
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	if conn, resp, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		_ = conn.Close()
		t.Error("Foreign origin should be refused")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}

	dial(t, server, http.Header{"Origin": []string{"https://desk.example"}})
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	server, _, dispatcher := startTestHandler(t, DefaultHandlerConfig())

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-upgrade request, got %d", resp.StatusCode)
	}
	if connected, _, _ := dispatcher.snapshot(); len(connected) != 0 {
		t.Error("Failed upgrade must not reach the hub")
	}
}
