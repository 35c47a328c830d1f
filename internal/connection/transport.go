package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrStaleConnection is surfaced by the heartbeat watch when the server stops
// pinging within the configured window.
var ErrStaleConnection = errors.New("connection stale (no ping)")

// ErrTransportClosed is returned by send once the transport is torn down.
var ErrTransportClosed = errors.New("transport closed")

// transport is one physical WebSocket connection. It reads frames into a
// buffered channel and reports socket-level failures on a separate error
// channel; the Manager decides what a failure means. A transport is used for
// exactly one dial and discarded on close.
type transport struct {
	cfg    Config
	url    string
	logger *slog.Logger

	conn    *websocket.Conn
	limiter *rate.Limiter

	frames chan frame
	errs   chan error
	done   chan struct{}

	// ctx is cancelled on close so rate-limited sends do not outlive the
	// connection.
	ctx    context.Context
	cancel context.CancelFunc

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPingAt time.Time
	closed     bool
}

func newTransport(cfg Config, url string, logger *slog.Logger) *transport {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.SendRate, burst)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &transport{
		cfg:     cfg,
		url:     url,
		logger:  logger,
		limiter: limiter,
		frames:  make(chan frame, cfg.MessageBufferSize),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// dial opens the WebSocket connection and starts the read and heartbeat
// loops.
func (t *transport) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.connected = true
	t.lastPingAt = time.Now()
	t.mu.Unlock()

	// Server pings keep the connection alive; answer with pongs and track
	// the last one for the staleness watch.
	conn.SetPingHandler(func(data string) error {
		t.mu.Lock()
		t.lastPingAt = time.Now()
		t.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Pongs answering our own keepalive pings count as liveness too.
	conn.SetPongHandler(func(data string) error {
		t.mu.Lock()
		t.lastPingAt = time.Now()
		t.mu.Unlock()
		return nil
	})

	go t.readLoop()
	go t.heartbeatLoop()

	t.logger.Debug("websocket connected", "url", t.url)
	return nil
}

// send writes one frame, serialized and rate limited.
func (t *transport) send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	t.mu.RUnlock()

	if t.limiter != nil {
		if err := t.limiter.Wait(t.ctx); err != nil {
			return ErrTransportClosed
		}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// close tears the socket down. Safe to call more than once.
func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)
	t.cancel()

	if t.conn != nil {
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return t.conn.Close()
	}
	return nil
}

// closedCh is closed when the transport shuts down.
func (t *transport) closedCh() <-chan struct{} { return t.done }

// readLoop pumps inbound frames until the socket fails or closes.
func (t *transport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after close() are expected teardown noise.
			select {
			case <-t.done:
			default:
				select {
				case t.errs <- err:
				default:
				}
			}
			return
		}

		select {
		case t.frames <- frame{data: data, receivedAt: receivedAt}:
		case <-t.done:
			return
		default:
			t.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop sends a keepalive ping each tick and surfaces a
// stale-connection error when neither a server ping nor a pong to our own
// keepalive arrives within PingTimeout. Disabled when PingTimeout <= 0.
func (t *transport) heartbeatLoop() {
	if t.cfg.PingTimeout <= 0 {
		return
	}

	interval := t.cfg.PingTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.RLock()
			conn := t.conn
			lastPing := t.lastPingAt
			t.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(t.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					t.logger.Debug("failed to send ping", "error", err)
				}
			}

			if time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				select {
				case t.errs <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
