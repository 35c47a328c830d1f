package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/statboard/statboard"
	"github.com/statboard/statboard/internal/bus"
	"github.com/statboard/statboard/internal/protocol"
)

// emission is one ordered bus publication.
type emission struct {
	topic   string
	payload any
}

// queuedSend is a request encoded before the connection was ready, held until
// the next CONNECTED transition. Its timeout runs while queued.
type queuedSend struct {
	id   string
	data []byte
}

// Manager owns the single logical connection: the lifecycle state machine,
// the reconnection policy, request correlation, and the details snapshot.
// It implements statboard.Client.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	bus    *bus.Bus
	disp   *dispatcher

	notifyMu   sync.Mutex
	notifyQ    []emission
	notifyWake chan struct{}
	done       chan struct{}

	mu               sync.Mutex
	state            statboard.State
	url              string
	latency          time.Duration
	lastConnected    time.Time
	lastDisconnected time.Time
	attempts         int
	events           []statboard.Event
	tr               *transport
	gen              int // connection generation; stale timers and loops check it
	backoff          *time.Timer
	readyWaiters     []chan error
	queue            []queuedSend
	probeStop        chan struct{}
	closed           bool
}

var _ statboard.Client = (*Manager)(nil)

// NewManager creates a Manager in StateDisconnected. Nothing is dialed until
// Connect.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	b := bus.New(logger)
	if cfg.DetailsDebounce >= 0 {
		b.SetDebounce(statboard.TopicDetailsChanged, cfg.DetailsDebounce)
	}
	if cfg.LatencyDebounce >= 0 {
		b.SetDebounce(statboard.TopicLatencyUpdated, cfg.LatencyDebounce)
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		bus:        b,
		disp:       newDispatcher(logger),
		notifyWake: make(chan struct{}, 1),
		done:       make(chan struct{}),
		state:      statboard.StateDisconnected,
	}

	go m.notifyLoop()
	return m
}

// Connect validates url and starts a connection attempt. An empty url reuses
// the last known target. A live connection is torn down first: its backoff
// timer is cancelled and pending requests are rejected before the new dial
// begins.
func (m *Manager) Connect(rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return statboard.ErrClosed
	}

	if rawURL == "" {
		rawURL = m.url
	}
	if err := validateURL(rawURL, m.cfg.AllowInsecure); err != nil {
		return err
	}

	m.teardownLocked(statboard.ErrConnectionLost)
	m.url = rawURL
	m.attempts = 0

	m.appendEventLocked(statboard.EventConnecting, rawURL)
	m.transitionLocked(statboard.StateConnecting)
	go m.dial(m.gen)

	return nil
}

// WaitForReady blocks until the connection first reaches StateConnected,
// the reconnect policy gives up, or ctx is done.
func (m *Manager) WaitForReady(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return statboard.ErrClosed
	}
	switch m.state {
	case statboard.StateConnected:
		m.mu.Unlock()
		return nil
	case statboard.StateDisconnected:
		// Idle or terminal: no attempt is in flight that could satisfy us.
		m.mu.Unlock()
		return statboard.ErrNotConnected
	}

	ch := make(chan error, 1)
	m.readyWaiters = append(m.readyWaiters, ch)
	m.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request sends a correlated request and blocks for the matching response.
// timeout <= 0 uses the configured default. While not connected, requests
// queue up to QueueDepth (0 disables queueing) and are flushed in order on
// the next CONNECTED transition.
func (m *Manager) Request(ctx context.Context, reqType string, payload any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, statboard.ErrClosed
	}

	if m.state != statboard.StateConnected {
		if m.cfg.QueueDepth <= 0 || m.state == statboard.StateDisconnected {
			m.mu.Unlock()
			return nil, statboard.ErrNotConnected
		}
		if len(m.queue) >= m.cfg.QueueDepth {
			m.mu.Unlock()
			return nil, statboard.ErrQueueFull
		}

		pr := m.disp.register(reqType, timeout)
		data, err := protocol.EncodeRequest(reqType, pr.id, payload)
		if err != nil {
			m.disp.cancel(pr.id)
			m.mu.Unlock()
			return nil, err
		}
		m.queue = append(m.queue, queuedSend{id: pr.id, data: data})
		m.mu.Unlock()
		return m.await(ctx, pr)
	}

	pr := m.disp.register(reqType, timeout)
	data, err := protocol.EncodeRequest(reqType, pr.id, payload)
	if err != nil {
		m.disp.cancel(pr.id)
		m.mu.Unlock()
		return nil, err
	}
	tr := m.tr
	m.mu.Unlock()

	if err := tr.send(data); err != nil {
		return nil, m.settleSendFailure(pr, err)
	}
	return m.await(ctx, pr)
}

// settleSendFailure reports the definitive error for a request whose frame
// could not be written. A teardown racing the send may already have settled
// the request with a bulk rejection; that sentinel wins over the write error.
func (m *Manager) settleSendFailure(pr *pendingRequest, sendErr error) error {
	m.disp.cancel(pr.id)
	select {
	case o := <-pr.ch:
		return o.err
	default:
		return fmt.Errorf("send request: %w", sendErr)
	}
}

// await blocks on a pending request's outcome or the caller's context.
func (m *Manager) await(ctx context.Context, pr *pendingRequest) (json.RawMessage, error) {
	select {
	case o := <-pr.ch:
		return o.payload, o.err
	case <-ctx.Done():
		m.disp.cancel(pr.id)
		return nil, ctx.Err()
	}
}

// On subscribes handler to a topic and returns the subscription id.
func (m *Manager) On(topic string, handler statboard.Handler) string {
	return m.bus.Subscribe(topic, bus.Handler(handler))
}

// Once subscribes handler for a single delivery.
func (m *Manager) Once(topic string, handler statboard.Handler) string {
	return m.bus.SubscribeOnce(topic, bus.Handler(handler))
}

// Off removes a subscription by id.
func (m *Manager) Off(id string) {
	m.bus.Unsubscribe(id)
}

// State returns the current lifecycle state.
func (m *Manager) State() statboard.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Details returns an immutable snapshot of the connection.
func (m *Manager) Details() statboard.Details {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close tears everything down: timers, transport, pending requests, waiters.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.teardownLocked(statboard.ErrClosed)
	m.notifyWaitersLocked(statboard.ErrClosed)
	m.rejectQueueLocked(statboard.ErrClosed)
	m.state = statboard.StateDisconnected
	m.mu.Unlock()

	close(m.done)
	m.bus.Close()
	return nil
}

// --- state machine internals ---

// dial attempts to open a transport for generation gen.
func (m *Manager) dial(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	target := m.url
	cfg := m.cfg
	m.mu.Unlock()

	tr := newTransport(cfg, target, m.logger.With("url", target))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
	err := tr.dial(ctx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen {
		tr.close()
		return
	}

	if err != nil {
		m.logger.Warn("dial failed", "url", target, "error", err)
		m.appendEventLocked(statboard.EventError, err.Error())
		m.scheduleRetryLocked(err)
		return
	}

	m.tr = tr
	m.attempts = 0
	m.lastConnected = time.Now()
	m.appendEventLocked(statboard.EventConnected, target)
	m.transitionLocked(statboard.StateConnected)
	m.notifyWaitersLocked(nil)
	m.flushQueueLocked(tr)
	m.startProbeLocked()

	go m.readLoop(gen, tr)

	m.logger.Info("connected", "url", target)
}

// readLoop routes inbound frames for one transport generation: responses to
// the dispatcher, everything else to the bus by envelope type.
func (m *Manager) readLoop(gen int, tr *transport) {
	for {
		select {
		case err := <-tr.errs:
			m.handleTransportError(gen, err)
			return

		case <-tr.closedCh():
			return

		case f := <-tr.frames:
			m.handleFrame(f)
		}
	}
}

// handleFrame decodes one inbound frame. Malformed frames are dropped and
// logged; the connection is not torn down for a protocol error alone.
func (m *Manager) handleFrame(f frame) {
	env, err := protocol.Decode(f.data)
	if err != nil {
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(f.data))
		return
	}

	if env.ID != "" {
		// A response for a pending request is never also broadcast.
		if !m.disp.resolve(env.ID, env.Payload) {
			m.logger.Debug("response with no pending request, dropping",
				"id", env.ID,
				"type", env.Type,
			)
		}
		return
	}

	// Unsolicited server push: dispatch by type.
	m.publish(env.Type, env.Payload)
}

// handleTransportError is the CONNECTED → RECONNECTING edge: it rejects all
// pending requests and schedules a retry.
func (m *Manager) handleTransportError(gen int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.gen {
		return
	}

	m.logger.Warn("connection lost", "url", m.url, "error", err)

	m.gen++
	if m.tr != nil {
		m.tr.close()
		m.tr = nil
	}
	m.stopProbeLocked()
	m.disp.failAll(statboard.ErrConnectionLost)

	m.lastDisconnected = time.Now()
	m.appendEventLocked(statboard.EventDisconnected, err.Error())
	m.scheduleRetryLocked(err)
}

// scheduleRetryLocked arms the backoff timer, or gives up when the configured
// attempt cap is exhausted.
func (m *Manager) scheduleRetryLocked(cause error) {
	if m.cfg.MaxReconnectAttempts > 0 && m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted",
			"url", m.url,
			"attempts", m.attempts,
			"error", cause,
		)
		m.appendEventLocked(statboard.EventError,
			fmt.Sprintf("reconnect attempts exhausted after %d tries: %v", m.attempts, cause))
		m.transitionLocked(statboard.StateDisconnected)
		m.notifyWaitersLocked(statboard.ErrUnreachable)
		m.rejectQueueLocked(statboard.ErrConnectionLost)
		return
	}

	delay := backoffDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, m.attempts, m.cfg.ReconnectJitter)
	m.appendEventLocked(statboard.EventReconnectAttempt,
		fmt.Sprintf("attempt %d in %s", m.attempts+1, delay))
	m.transitionLocked(statboard.StateReconnecting)

	gen := m.gen
	m.backoff = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || gen != m.gen {
			return
		}
		m.attempts++
		m.appendEventLocked(statboard.EventConnecting,
			fmt.Sprintf("%s (attempt %d)", m.url, m.attempts))
		m.transitionLocked(statboard.StateConnecting)
		go m.dial(m.gen)
	})
}

// teardownLocked invalidates the current generation: it cancels the backoff
// timer, closes the transport, and rejects all pending requests with cause.
// No stale timer can fire against a superseded connection afterwards.
func (m *Manager) teardownLocked(cause error) {
	m.gen++
	if m.backoff != nil {
		m.backoff.Stop()
		m.backoff = nil
	}
	m.stopProbeLocked()
	if m.tr != nil {
		m.tr.close()
		m.tr = nil
	}
	m.disp.failAll(cause)
	// Queued sends were settled by failAll; drop them so they are never
	// flushed to a later connection as ghost requests.
	m.queue = nil
}

// flushQueueLocked sends requests queued before the connection was ready, in
// insertion order. A caller that observed WaitForReady resolve is guaranteed
// its request is sent, never silently dropped. Requests whose timeout expired
// while queued are already settled and are skipped, not sent.
func (m *Manager) flushQueueLocked(tr *transport) {
	queue := m.queue
	m.queue = nil
	for _, q := range queue {
		if !m.disp.active(q.id) {
			continue
		}
		if err := tr.send(q.data); err != nil {
			m.disp.fail(q.id, fmt.Errorf("send queued request: %w", err))
		}
	}
}

// rejectQueueLocked fails queued requests that can no longer be sent.
func (m *Manager) rejectQueueLocked(cause error) {
	queue := m.queue
	m.queue = nil
	for _, q := range queue {
		m.disp.fail(q.id, cause)
	}
}

// notifyWaitersLocked settles every WaitForReady caller with err (nil on
// CONNECTED). All concurrent waiters are satisfied by the same transition.
func (m *Manager) notifyWaitersLocked(err error) {
	for _, ch := range m.readyWaiters {
		ch <- err
	}
	m.readyWaiters = nil
}

// transitionLocked sets the state and publishes the change plus a fresh
// details snapshot. Lifecycle transitions are emitted in exact order.
func (m *Manager) transitionLocked(s statboard.State) {
	if m.state == s {
		return
	}
	m.state = s
	m.publish(statboard.TopicStateChanged, s)
	m.publish(statboard.TopicDetailsChanged, m.snapshotLocked())
}

// appendEventLocked adds one history entry, evicting the oldest past the cap.
func (m *Manager) appendEventLocked(kind statboard.EventKind, detail string) {
	m.events = append(m.events, statboard.Event{
		Timestamp: time.Now(),
		Kind:      kind,
		Detail:    detail,
	})
	if over := len(m.events) - m.cfg.EventHistorySize; over > 0 {
		m.events = append([]statboard.Event(nil), m.events[over:]...)
	}
	m.publish(statboard.TopicDetailsChanged, m.snapshotLocked())
}

// snapshotLocked builds an immutable details copy.
func (m *Manager) snapshotLocked() statboard.Details {
	events := make([]statboard.Event, len(m.events))
	copy(events, m.events)

	return statboard.Details{
		State:             m.state,
		URL:               m.url,
		Latency:           m.latency,
		LastConnected:     m.lastConnected,
		LastDisconnected:  m.lastDisconnected,
		ReconnectAttempts: m.attempts,
		Events:            events,
	}
}

// publish enqueues an ordered bus emission. Emissions are delivered by a
// single goroutine so lifecycle order is preserved and no handler runs under
// the manager lock. The queue is unbounded: a distinct state transition is
// never dropped, however far behind the subscribers fall.
func (m *Manager) publish(topic string, payload any) {
	m.notifyMu.Lock()
	m.notifyQ = append(m.notifyQ, emission{topic: topic, payload: payload})
	m.notifyMu.Unlock()

	select {
	case m.notifyWake <- struct{}{}:
	default:
	}
}

// notifyLoop drains the emission queue into the bus.
func (m *Manager) notifyLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.notifyWake:
		}

		for {
			m.notifyMu.Lock()
			if len(m.notifyQ) == 0 {
				m.notifyMu.Unlock()
				break
			}
			e := m.notifyQ[0]
			m.notifyQ = m.notifyQ[1:]
			m.notifyMu.Unlock()

			m.bus.Emit(e.topic, e.payload)
		}
	}
}

// validateURL accepts ws/wss targets; ws is allowed only for loopback hosts
// unless insecure transport is explicitly enabled. This is a precondition
// check, not a network operation.
func validateURL(rawURL string, allowInsecure bool) error {
	if rawURL == "" {
		return &statboard.ConfigError{Reason: "no url configured"}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &statboard.ConfigError{Reason: fmt.Sprintf("invalid url %q: %v", rawURL, err)}
	}
	if u.Host == "" {
		return &statboard.ConfigError{Reason: fmt.Sprintf("url %q has no host", rawURL)}
	}

	switch u.Scheme {
	case "wss":
		return nil
	case "ws":
		if allowInsecure || isLoopbackHost(u.Hostname()) {
			return nil
		}
		return &statboard.ConfigError{
			Reason: fmt.Sprintf("insecure scheme ws not allowed for non-loopback host %q", u.Hostname()),
		}
	default:
		return &statboard.ConfigError{Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
}

// isLoopbackHost reports whether host names the local machine.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
