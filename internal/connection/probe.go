package connection

import (
	"context"
	"time"

	"github.com/statboard/statboard"
)

// probeRequestType is the lightweight round-trip request issued by the
// latency probe.
const probeRequestType = "ping"

// startProbeLocked begins periodic latency probing for the current
// connection. No-op when probing is disabled.
func (m *Manager) startProbeLocked() {
	if m.cfg.ProbeInterval <= 0 {
		return
	}
	m.stopProbeLocked()

	stop := make(chan struct{})
	m.probeStop = stop
	go m.probeLoop(stop)
}

// stopProbeLocked suspends probing. Called on every departure from
// StateConnected and on Close.
func (m *Manager) stopProbeLocked() {
	if m.probeStop != nil {
		close(m.probeStop)
		m.probeStop = nil
	}
}

// probeLoop issues a ping request every interval and measures the round
// trip. A failed probe degrades the reported latency but never tears the
// connection down; transport failures are the read loop's business.
func (m *Manager) probeLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		start := time.Now()
		_, err := m.Request(context.Background(), probeRequestType, nil, m.cfg.ProbeTimeout)
		if err != nil {
			m.logger.Warn("latency probe failed", "error", err)
			m.publish(statboard.TopicLatencyDegraded, err.Error())
			continue
		}

		rtt := time.Since(start)
		m.mu.Lock()
		m.latency = rtt
		snapshot := m.snapshotLocked()
		m.mu.Unlock()

		m.publish(statboard.TopicLatencyUpdated, rtt)
		m.publish(statboard.TopicDetailsChanged, snapshot)
		m.logger.Debug("latency probe", "rtt", rtt)
	}
}
