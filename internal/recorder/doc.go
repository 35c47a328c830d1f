// Package recorder persists connection history to PostgreSQL: lifecycle
// state changes and latency samples, batch-inserted for the dashboard's
// audit/history view. The recorder is a plain bus subscriber; it never
// touches the transport.
package recorder
