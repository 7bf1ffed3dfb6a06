// Package metrics tracks request counts for the lifetime of the server.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ServeMetrics is safe for concurrent use by request goroutines.
type ServeMetrics struct {
	StartTime time.Time

	requests atomic.Int64
	bytes    atomic.Int64
	status2x atomic.Int64
	status3x atomic.Int64
	status4x atomic.Int64
	status5x atomic.Int64
}

// NewServeMetrics creates a new metrics instance started now.
func NewServeMetrics() *ServeMetrics {
	return &ServeMetrics{StartTime: time.Now()}
}

// Record counts one finished response.
func (m *ServeMetrics) Record(status int, written int64) {
	m.requests.Add(1)
	m.bytes.Add(written)
	switch {
	case status >= 500:
		m.status5x.Add(1)
	case status >= 400:
		m.status4x.Add(1)
	case status >= 300:
		m.status3x.Add(1)
	default:
		m.status2x.Add(1)
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests int64
	Bytes    int64
	Status2x int64
	Status3x int64
	Status4x int64
	Status5x int64
	Uptime   time.Duration
}

func (m *ServeMetrics) Snapshot() Snapshot {
	return Snapshot{
		Requests: m.requests.Load(),
		Bytes:    m.bytes.Load(),
		Status2x: m.status2x.Load(),
		Status3x: m.status3x.Load(),
		Status4x: m.status4x.Load(),
		Status5x: m.status5x.Load(),
		Uptime:   time.Since(m.StartTime),
	}
}

// String returns a minimal single-line summary.
func (m *ServeMetrics) String() string {
	s := m.Snapshot()
	return fmt.Sprintf("📊 Served %d requests (%s) in %v (2xx: %d, 3xx: %d, 4xx: %d, 5xx: %d)",
		s.Requests,
		formatBytes(s.Bytes),
		s.Uptime.Round(time.Second),
		s.Status2x,
		s.Status3x,
		s.Status4x,
		s.Status5x,
	)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
