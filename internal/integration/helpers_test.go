package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"nightdesk/internal/app"
	"nightdesk/internal/config"
	"nightdesk/pkg/types"
)

const waitTimeout = 2 * time.Second

// testConfig returns a config bound to a free localhost port with its data in dir
func testConfig(dir, backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Store.Backend = backend
	cfg.Store.BadgerPath = filepath.Join(dir, "badger")
	cfg.Database.Path = filepath.Join(dir, "nightdesk.db")
	return cfg
}

// startApp runs an application until the test ends or stop is called
func startApp(t *testing.T, cfg *config.Config) (addr string, stop func()) {
	t.Helper()
	application, err := app.NewApplication(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}

	stopped := false
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Errorf("Failed to stop application: %v", err)
		}
	}
	t.Cleanup(stop)
	return application.GetAddr(), stop
}

// client is a websocket peer that reads frames on a background goroutine
type client struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan types.Envelope
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	c := &client{t: t, conn: conn, frames: make(chan types.Envelope, 256)}
	go func() {
		defer close(c.frames)
		for {
			var env types.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			c.frames <- env
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *client) send(eventType string, payload any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(types.NewEvent(eventType, payload)); err != nil {
		c.t.Fatalf("Failed to send %s: %v", eventType, err)
	}
}

// expect skips frames until one of eventType arrives and decodes its payload into dst
func (c *client) expect(eventType string, dst any) {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				c.t.Fatalf("Connection closed while waiting for %s", eventType)
			}
			if env.Type != eventType {
				continue
			}
			if dst != nil {
				if err := json.Unmarshal(env.Payload, dst); err != nil {
					c.t.Fatalf("Failed to decode %s: %v", eventType, err)
				}
			}
			return
		case <-deadline:
			c.t.Fatalf("Timed out waiting for %s", eventType)
		}
	}
}

// expectNone fails if a frame of eventType arrives within wait
func (c *client) expectNone(eventType string, wait time.Duration) {
	c.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				return
			}
			if env.Type == eventType {
				c.t.Fatalf("Unexpected %s frame: %s", eventType, env.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// getJSON fetches path from the HTTP API and decodes the body into dst
func getJSON(t *testing.T, addr, path string, dst any) int {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// eventually polls cond until it holds or the wait expires
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
