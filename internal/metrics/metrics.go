// Package metrics counts what the synchronization layer does, for /health.
package metrics

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	start time.Time

	polls      atomic.Int64
	pollErrors atomic.Int64

	streamMsgs      atomic.Int64
	reconnectOK     atomic.Int64
	reconnectFailed atomic.Int64
	streamGaveUp    atomic.Int64

	merges atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	sseClients atomic.Int64
}

func New() *Metrics {
	return &Metrics{start: time.Now()}
}

func (m *Metrics) IncPoll()            { m.polls.Add(1) }
func (m *Metrics) IncPollError()       { m.pollErrors.Add(1) }
func (m *Metrics) IncStreamMsg()       { m.streamMsgs.Add(1) }
func (m *Metrics) ReconnectSucceeded() { m.reconnectOK.Add(1) }
func (m *Metrics) ReconnectFailed()    { m.reconnectFailed.Add(1) }
func (m *Metrics) StreamGaveUp()       { m.streamGaveUp.Add(1) }
func (m *Metrics) IncMerge()           { m.merges.Add(1) }
func (m *Metrics) CacheHit()           { m.cacheHits.Add(1) }
func (m *Metrics) CacheMiss()          { m.cacheMisses.Add(1) }
func (m *Metrics) SSEAttach()          { m.sseClients.Add(1) }
func (m *Metrics) SSEDetach()          { m.sseClients.Add(-1) }

// Snapshot renders the counters for the health endpoint.
func (m *Metrics) Snapshot() map[string]any {
	uptime := time.Since(m.start)
	return map[string]any{
		"ok":        true,
		"uptime_ms": uptime.Milliseconds(),
		"uptime":    uptime.String(),

		"poll": map[string]any{
			"cycles_total": m.polls.Load(),
			"errors_total": m.pollErrors.Load(),
		},
		"stream": map[string]any{
			"messages_total":   m.streamMsgs.Load(),
			"reconnect_ok":     m.reconnectOK.Load(),
			"reconnect_failed": m.reconnectFailed.Load(),
			"gave_up_total":    m.streamGaveUp.Load(),
		},
		"store": map[string]any{
			"merges_total": m.merges.Load(),
		},
		"cache": map[string]any{
			"hits_total":   m.cacheHits.Load(),
			"misses_total": m.cacheMisses.Load(),
		},
		"sse": map[string]any{
			"clients": m.sseClients.Load(),
		},
	}
}
