package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"nightdesk/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, ConnectionOptions{})
	defer conn.Close()

	if conn.ID() == "" {
		t.Error("Connection should be assigned an id")
	}
	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}

	other := NewConnection(wsConn, ConnectionOptions{SendBuffer: 7})
	defer other.Close()
	if other.ID() == conn.ID() {
		t.Error("Connection ids must be unique")
	}
	if cap(other.writeCh) != 7 {
		t.Errorf("Expected write channel buffer of 7, got %d", cap(other.writeCh))
	}
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, DefaultConnectionOptions())
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "system.notice"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case frame := <-received:
		if !strings.Contains(frame, "system.notice") {
			t.Errorf("Unexpected frame %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame was not delivered")
	}
}

func TestConnection_WriteJSONInvalidData(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, DefaultConnectionOptions())
	defer conn.Close()

	// Function type cannot be marshaled to JSON
	err := conn.WriteJSON(map[string]any{"func": func() {}})
	if !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("Expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, DefaultConnectionOptions())

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, DefaultConnectionOptions())
	_ = conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "test"}); err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

// TestConnection_OverflowCloses checks that a full send buffer drops the client
func TestConnection_OverflowCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// No writer goroutine: the buffer only fills
	conn := &Connection{
		id:      "slow",
		writeCh: make(chan []byte, 2),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(i); err != nil {
			t.Fatalf("Write %d should fit the buffer: %v", i, err)
		}
	}
	if err := conn.WriteJSON(3); err != ErrSendBufferFull {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Overflowing connection should be closed")
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)

	conn := NewConnection(wsConn, ConnectionOptions{SendBuffer: 1000})
	defer conn.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < messagesPerGoroutine; j++ {
				_ = conn.WriteJSON(map[string]int{"worker": id, "message": j})
			}
		}(i)
	}
	wg.Wait()
}

// createTestWebSocketConnection dials a test server that forwards every frame
// it reads to the returned channel
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan string) {
	t.Helper()
	received := make(chan string, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- string(data):
			default:
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, received
}
