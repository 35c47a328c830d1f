package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler receives emissions for a topic.
type Handler func(topic string, payload any)

// subscription is one registered handler. The active flag lets a handler
// removed mid-emission be skipped without mutating the snapshot being
// iterated.
type subscription struct {
	id      string
	topic   string
	handler Handler
	once    bool
	active  atomic.Bool
}

// debounceState tracks the coalescing window for one topic. gen invalidates
// timer callbacks from a superseded cycle: a timer that expired while Emit
// held the lock must not deliver a second time.
type debounceState struct {
	timer   *time.Timer
	payload any
	pending bool
	gen     uint64
}

// Bus is a topic registry. Insertion order of subscriptions is preserved for
// delivery.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[string][]*subscription
	byID     map[string]*subscription
	windows  map[string]time.Duration
	debounce map[string]*debounceState
	closed   bool
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		subs:     make(map[string][]*subscription),
		byID:     make(map[string]*subscription),
		windows:  make(map[string]time.Duration),
		debounce: make(map[string]*debounceState),
	}
}

// SetDebounce declares a debounce window for a topic. window < 0 removes the
// policy (synchronous delivery).
func (b *Bus) SetDebounce(topic string, window time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if window < 0 {
		delete(b.windows, topic)
		if st, ok := b.debounce[topic]; ok && st.timer != nil {
			st.timer.Stop()
		}
		delete(b.debounce, topic)
		return
	}
	b.windows[topic] = window
}

// Subscribe registers a handler for a topic and returns its subscription id.
func (b *Bus) Subscribe(topic string, h Handler) string {
	return b.subscribe(topic, h, false)
}

// SubscribeOnce registers a handler that is removed after its first delivery.
func (b *Bus) SubscribeOnce(topic string, h Handler) string {
	return b.subscribe(topic, h, true)
}

func (b *Bus) subscribe(topic string, h Handler, once bool) string {
	sub := &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: h,
		once:    once,
	}
	sub.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub.id
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.byID[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription by id. Unknown ids are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Bus) removeLocked(id string) {
	sub, ok := b.byID[id]
	if !ok {
		return
	}
	sub.active.Store(false)
	delete(b.byID, id)

	list := b.subs[sub.topic]
	for i, s := range list {
		if s.id == id {
			b.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}

// Emit publishes payload to every handler currently registered for topic.
// Topics without a debounce policy deliver synchronously in the caller's
// goroutine; debounced topics deliver from a timer goroutine once the quiet
// period elapses, carrying only the most recent payload.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	window, debounced := b.windows[topic]
	if !debounced {
		snapshot := b.snapshotLocked(topic)
		b.mu.Unlock()
		b.deliver(topic, payload, snapshot)
		return
	}

	st, ok := b.debounce[topic]
	if !ok {
		st = &debounceState{}
		b.debounce[topic] = st
	}
	st.payload = payload
	if st.pending {
		// A zero window coalesces same-tick bursts without rescheduling.
		// For a positive window the old timer may have expired already and
		// be racing for the lock, so Reset is not safe; a fresh timer under
		// a new generation supersedes it instead.
		if window > 0 {
			st.timer.Stop()
			st.gen++
			gen := st.gen
			st.timer = time.AfterFunc(window, func() { b.fire(topic, gen) })
		}
		b.mu.Unlock()
		return
	}
	st.pending = true
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(window, func() { b.fire(topic, gen) })
	b.mu.Unlock()
}

// fire delivers the coalesced payload for a debounced topic. Stale callbacks
// (superseded generation, or a cycle already delivered) are dropped.
func (b *Bus) fire(topic string, gen uint64) {
	b.mu.Lock()
	st, ok := b.debounce[topic]
	if !ok || b.closed || !st.pending || st.gen != gen {
		b.mu.Unlock()
		return
	}
	payload := st.payload
	st.payload = nil
	st.pending = false
	snapshot := b.snapshotLocked(topic)
	b.mu.Unlock()

	b.deliver(topic, payload, snapshot)
}

// snapshotLocked copies the handler list so handlers added during an emission
// are not invoked for it.
func (b *Bus) snapshotLocked(topic string) []*subscription {
	list := b.subs[topic]
	if len(list) == 0 {
		return nil
	}
	snapshot := make([]*subscription, len(list))
	copy(snapshot, list)
	return snapshot
}

func (b *Bus) deliver(topic string, payload any, snapshot []*subscription) {
	for _, sub := range snapshot {
		if sub.once {
			// Claim the single delivery atomically so a once handler fires
			// at most one time even under concurrent emissions.
			if !sub.active.CompareAndSwap(true, false) {
				continue
			}
			b.mu.Lock()
			b.removeLocked(sub.id)
			b.mu.Unlock()
		} else if !sub.active.Load() {
			continue
		}
		sub.handler(topic, payload)
	}
}

// Close cancels outstanding debounce timers and drops all subscriptions.
// Emit becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, st := range b.debounce {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	b.debounce = make(map[string]*debounceState)

	for _, sub := range b.byID {
		sub.active.Store(false)
	}
	b.subs = make(map[string][]*subscription)
	b.byID = make(map[string]*subscription)
}
