package connection

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/statboard/statboard"
)

func TestProbe_LatencyUpdated(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	cfg := testConfig()
	cfg.ProbeInterval = 30 * time.Millisecond
	cfg.ProbeTimeout = time.Second

	m := NewManager(cfg, nil)
	defer m.Close()

	updated := make(chan time.Duration, 1)
	m.On(statboard.TopicLatencyUpdated, func(_ string, payload any) {
		if rtt, ok := payload.(time.Duration); ok {
			select {
			case updated <- rtt:
			default:
			}
		}
	})

	if err := m.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, m, statboard.StateConnected, 2*time.Second)

	select {
	case rtt := <-updated:
		if rtt <= 0 {
			t.Errorf("rtt = %v, want > 0", rtt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("latency probe never reported")
	}

	if d := m.Details(); d.Latency <= 0 {
		t.Errorf("Details.Latency = %v, want > 0", d.Latency)
	}
}

func TestProbe_DegradedOnFailure(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Read probes but never reply.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig()
	cfg.ProbeInterval = 30 * time.Millisecond
	cfg.ProbeTimeout = 50 * time.Millisecond

	m := NewManager(cfg, nil)
	defer m.Close()

	degraded := make(chan any, 1)
	m.On(statboard.TopicLatencyDegraded, func(_ string, payload any) {
		select {
		case degraded <- payload:
		default:
		}
	})

	if err := m.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, m, statboard.StateConnected, 2*time.Second)

	select {
	case <-degraded:
	case <-time.After(2 * time.Second):
		t.Fatal("degraded topic never fired")
	}

	// A failed probe degrades the reading but never drops the connection.
	if m.State() != statboard.StateConnected {
		t.Errorf("state = %v after failed probe, want connected", m.State())
	}
}

func TestProbe_DisabledByZeroInterval(t *testing.T) {
	server := mockWSServer(t, echoHandler)
	defer server.Close()

	cfg := testConfig() // ProbeInterval is zero
	m := NewManager(cfg, nil)
	defer m.Close()

	if err := m.Connect(wsURL(server)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitForState(t, m, statboard.StateConnected, 2*time.Second)

	time.Sleep(100 * time.Millisecond)
	if d := m.Details(); d.Latency != 0 {
		t.Errorf("Latency = %v with probing disabled, want 0", d.Latency)
	}
}
