package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statboard/statboard"
	"github.com/statboard/statboard/internal/protocol"
)

// mockServer runs an envelope-aware server that answers every request with
// its own id and echoes the request type.
func mockServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil || env.ID == "" {
				continue
			}
			resp, _ := protocol.Encode(protocol.Envelope{
				Type:    env.Type,
				ID:      env.ID,
				Payload: json.RawMessage(`{"echo":"` + env.Type + `"}`),
			})
			if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}))
}

func TestClientEndToEnd(t *testing.T) {
	server := mockServer(t)
	defer server.Close()
	url := "ws" + strings.TrimPrefix(server.URL, "http")

	cfg := DefaultConfig()
	cfg.ProbeInterval = 0 // keep the wire quiet for the test
	cfg.ReconnectJitter = false
	cfg.DetailsDebounce = -1
	cfg.LatencyDebounce = -1

	cli := New(cfg, nil)
	defer cli.Close()

	states := make(chan statboard.State, 8)
	cli.On(statboard.TopicStateChanged, func(_ string, payload any) {
		if s, ok := payload.(statboard.State); ok {
			states <- s
		}
	})

	if err := cli.Connect(url); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.WaitForReady(ctx); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}

	payload, err := cli.Request(ctx, "ping", nil, 0)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	var resp struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Echo != "ping" {
		t.Errorf("echo = %q, want ping", resp.Echo)
	}

	d := cli.Details()
	if d.State != statboard.StateConnected {
		t.Errorf("Details.State = %v, want connected", d.State)
	}
	if d.URL != url {
		t.Errorf("Details.URL = %q, want %q", d.URL, url)
	}

	// The lifecycle emitted connecting then connected, in order.
	want := []statboard.State{statboard.StateConnecting, statboard.StateConnected}
	for i, w := range want {
		select {
		case s := <-states:
			if s != w {
				t.Errorf("transition %d = %v, want %v", i, s, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing transition %d", i)
		}
	}

	if err := cli.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := cli.Connect(url); err != statboard.ErrClosed {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ReconnectBaseDelay != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s", cfg.ReconnectBaseDelay)
	}
	if cfg.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 30s", cfg.ReconnectMaxDelay)
	}
	if !cfg.ReconnectJitter {
		t.Error("ReconnectJitter should default to true")
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if cfg.QueueDepth != 64 {
		t.Errorf("QueueDepth = %d, want 64", cfg.QueueDepth)
	}
}
