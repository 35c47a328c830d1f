package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestTransport_DialAndReceive(t *testing.T) {
	testMessages := []string{
		`{"type":"push","payload":{"n":1}}`,
		`{"type":"push","payload":{"n":2}}`,
		`{"type":"push","payload":{"n":3}}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	tr := newTransport(testConfig(), wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	var received []string
	timeout := time.After(time.Second)
	for i := 0; i < len(testMessages); i++ {
		select {
		case f := <-tr.frames:
			received = append(received, string(f.data))
			if f.receivedAt.IsZero() {
				t.Error("receivedAt should not be zero")
			}
		case <-timeout:
			t.Fatalf("timeout, received %d of %d frames", len(received), len(testMessages))
		}
	}

	for i, want := range testMessages {
		if received[i] != want {
			t.Errorf("frame %d: got %q, want %q", i, received[i], want)
		}
	}
}

func TestTransport_Send(t *testing.T) {
	var received []byte
	var mu sync.Mutex

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			received = msg
			mu.Unlock()
		}
	})
	defer server.Close()

	tr := newTransport(testConfig(), wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	msg := []byte(`{"type":"ping","id":"1"}`)
	if err := tr.send(msg); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string(msg) {
		t.Errorf("received %q, want %q", received, msg)
	}
}

func TestTransport_SendBeforeDial(t *testing.T) {
	tr := newTransport(testConfig(), "ws://localhost:12345", nil)

	err := tr.send([]byte("test"))
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}
}

func TestTransport_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		time.Sleep(time.Second)
	})
	defer server.Close()

	tr := newTransport(testConfig(), wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if err := tr.close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := tr.close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := tr.send([]byte("test")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("send after close = %v, want ErrTransportClosed", err)
	}
}

func TestTransport_ErrorOnServerDrop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Drop immediately.
	})
	defer server.Close()

	tr := newTransport(testConfig(), wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	select {
	case err := <-tr.errs:
		if err == nil {
			t.Error("expected a read error after server drop")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transport error")
	}
}

func TestTransport_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			t.Logf("ping error: %v", err)
			return
		}
		time.Sleep(500 * time.Millisecond)
	})
	defer server.Close()

	tr := newTransport(testConfig(), wsURL(server), nil)
	before := time.Now()
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	time.Sleep(200 * time.Millisecond)

	tr.mu.RLock()
	lastPing := tr.lastPingAt
	tr.mu.RUnlock()

	if !lastPing.After(before) {
		t.Error("lastPingAt was not advanced by the server ping")
	}
}

func TestTransport_KeepaliveKeepsQuietServerFresh(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Reads (and therefore pongs our keepalives) but never pings on its
		// own. Such a server is healthy and must not be declared stale.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig()
	cfg.PingTimeout = 1200 * time.Millisecond // watch ticks clamp to 1s

	tr := newTransport(cfg, wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	select {
	case err := <-tr.errs:
		t.Fatalf("healthy connection surfaced %v", err)
	case <-time.After(2500 * time.Millisecond):
	}
}

func TestTransport_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Never reads, so it neither pings nor answers our keepalives.
		time.Sleep(3 * time.Second)
	})
	defer server.Close()

	cfg := testConfig()
	cfg.PingTimeout = 100 * time.Millisecond // watch interval clamps to 1s

	tr := newTransport(cfg, wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	select {
	case err := <-tr.errs:
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("expected ErrStaleConnection, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stale watch never fired")
	}
}

func TestTransport_RateLimitedSend(t *testing.T) {
	var count int
	var mu sync.Mutex
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			mu.Lock()
			count++
			mu.Unlock()
		}
	})
	defer server.Close()

	cfg := testConfig()
	cfg.SendRate = 100 // frames/sec
	cfg.SendBurst = 1

	tr := newTransport(cfg, wsURL(server), nil)
	if err := tr.dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := tr.send([]byte(`{"type":"x"}`)); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	// 5 sends at 100/sec with burst 1 take at least 40ms.
	if elapsed < 40*time.Millisecond {
		t.Errorf("rate limiter let 5 sends through in %v", elapsed)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("server received %d frames, want 5", count)
	}
}
