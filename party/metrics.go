package party

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics tracks engine throughput and resource usage. All counters are
// safe for concurrent use.
type Metrics struct {
	activeConnections int64
	totalConnections  int64
	activeParties     int64

	messagesReceived int64
	messagesSent     int64
	messagesDropped  int64

	broadcastErrors   int64
	forcedDisconnects int64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) IncrementConnections() {
	atomic.AddInt64(&m.activeConnections, 1)
	atomic.AddInt64(&m.totalConnections, 1)
}

func (m *Metrics) DecrementConnections() {
	atomic.AddInt64(&m.activeConnections, -1)
}

func (m *Metrics) IncrementParties() {
	atomic.AddInt64(&m.activeParties, 1)
}

func (m *Metrics) DecrementParties() {
	atomic.AddInt64(&m.activeParties, -1)
}

func (m *Metrics) IncrementMessagesReceived() {
	atomic.AddInt64(&m.messagesReceived, 1)
}

func (m *Metrics) IncrementMessagesSent() {
	atomic.AddInt64(&m.messagesSent, 1)
}

func (m *Metrics) IncrementMessagesDropped() {
	atomic.AddInt64(&m.messagesDropped, 1)
}

func (m *Metrics) IncrementBroadcastErrors() {
	atomic.AddInt64(&m.broadcastErrors, 1)
}

func (m *Metrics) IncrementForcedDisconnects() {
	atomic.AddInt64(&m.forcedDisconnects, 1)
}

// MetricsSnapshot is a point-in-time view of metrics, serialisable to JSON.
type MetricsSnapshot struct {
	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	ActiveParties     int64 `json:"active_parties"`

	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`

	BroadcastErrors   int64 `json:"broadcast_errors"`
	ForcedDisconnects int64 `json:"forced_disconnects"`

	UptimeSeconds int64  `json:"uptime_seconds"`
	MemoryUsageMB uint64 `json:"memory_usage_mb"`
	NumGoroutines int    `json:"num_goroutines"`
}

// Snapshot returns a point-in-time view of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		ActiveConnections: atomic.LoadInt64(&m.activeConnections),
		TotalConnections:  atomic.LoadInt64(&m.totalConnections),
		ActiveParties:     atomic.LoadInt64(&m.activeParties),
		MessagesReceived:  atomic.LoadInt64(&m.messagesReceived),
		MessagesSent:      atomic.LoadInt64(&m.messagesSent),
		MessagesDropped:   atomic.LoadInt64(&m.messagesDropped),
		BroadcastErrors:   atomic.LoadInt64(&m.broadcastErrors),
		ForcedDisconnects: atomic.LoadInt64(&m.forcedDisconnects),
		UptimeSeconds:     int64(time.Since(m.startTime).Seconds()),
		MemoryUsageMB:     memStats.Alloc / 1024 / 1024,
		NumGoroutines:     runtime.NumGoroutine(),
	}
}
