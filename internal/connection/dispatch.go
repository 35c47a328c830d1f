package connection

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statboard/statboard"
)

// outcome settles a pending request exactly once.
type outcome struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is one in-flight request awaiting its correlated response.
type pendingRequest struct {
	id        string
	reqType   string
	createdAt time.Time
	timer     *time.Timer
	ch        chan outcome // buffered 1; written exactly once
}

// dispatcher correlates outbound requests to inbound responses by id.
// Insertion order is tracked so disconnect bulk-rejection settles requests in
// the order they were issued.
type dispatcher struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	order   []string
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &dispatcher{
		logger:  logger,
		pending: make(map[string]*pendingRequest),
	}
}

// register creates a pending request with a fresh correlation id and arms its
// timeout. The timeout rejects only this request.
func (d *dispatcher) register(reqType string, timeout time.Duration) *pendingRequest {
	pr := &pendingRequest{
		id:        uuid.NewString(),
		reqType:   reqType,
		createdAt: time.Now(),
		ch:        make(chan outcome, 1),
	}

	d.mu.Lock()
	d.pending[pr.id] = pr
	d.order = append(d.order, pr.id)
	d.mu.Unlock()

	pr.timer = time.AfterFunc(timeout, func() { d.expire(pr.id) })
	return pr
}

// resolve settles the request matching id with the response payload. Returns
// false when no request with that id is pending (already timed out, or
// unknown). Such responses are dropped, never treated as an error toward any
// other pending request.
func (d *dispatcher) resolve(id string, payload json.RawMessage) bool {
	pr, ok := d.take(id)
	if !ok {
		return false
	}
	pr.timer.Stop()
	pr.ch <- outcome{payload: payload}
	return true
}

// expire rejects a single request whose deadline elapsed.
func (d *dispatcher) expire(id string) {
	pr, ok := d.take(id)
	if !ok {
		return
	}
	d.logger.Debug("request timed out",
		"id", pr.id,
		"type", pr.reqType,
		"age", time.Since(pr.createdAt),
	)
	pr.ch <- outcome{err: statboard.ErrTimeout}
}

// fail rejects a single request with err.
func (d *dispatcher) fail(id string, err error) {
	pr, ok := d.take(id)
	if !ok {
		return
	}
	pr.timer.Stop()
	pr.ch <- outcome{err: err}
}

// cancel removes a request without settling it. Used when the caller's
// context is done; the caller reports ctx.Err() itself.
func (d *dispatcher) cancel(id string) {
	pr, ok := d.take(id)
	if !ok {
		return
	}
	pr.timer.Stop()
}

// failAll rejects every pending request with err, in insertion order, and
// clears the set.
func (d *dispatcher) failAll(err error) {
	d.mu.Lock()
	order := d.order
	pending := d.pending
	d.order = nil
	d.pending = make(map[string]*pendingRequest)
	d.mu.Unlock()

	for _, id := range order {
		pr, ok := pending[id]
		if !ok {
			continue
		}
		pr.timer.Stop()
		pr.ch <- outcome{err: err}
	}
}

// take removes and returns the pending request for id.
func (d *dispatcher) take(id string) (*pendingRequest, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pr, ok := d.pending[id]
	if !ok {
		return nil, false
	}
	delete(d.pending, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return pr, true
}

// active reports whether a request with id is still pending.
func (d *dispatcher) active(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[id]
	return ok
}

// size reports how many requests are in flight.
func (d *dispatcher) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
