// Package bus provides a topic-keyed publish/subscribe registry with an
// optional per-topic debounce policy. It carries both low-level transport
// lifecycle notifications and server-pushed domain events.
//
// Debounce semantics per topic:
//   - window > 0: trailing-edge coalescing. If emissions arrive faster than
//     the window, only the most recent payload is delivered once the quiet
//     period elapses.
//   - window == 0: deliver on the next scheduler tick, coalescing same-tick
//     bursts.
//   - no policy set: deliver synchronously, immediately, every time.
package bus
