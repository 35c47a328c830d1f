// Package connection owns the transport lifecycle: the connection state
// machine, the reconnection/backoff policy, request/response correlation, the
// latency probe, and the public details snapshot. Only this package opens and
// closes the socket; every other component reaches the network indirectly
// through the Manager.
package connection
