// Package metrics tracks per-transfer and server-wide telemetry for the
// reliable UDP file-transfer service.
//
// Adapted from the teacher's internal/metrics/metrics.go: the counters,
// locking discipline (atomics for scalars, a mutex around the bounded
// speed/connection history slices), and snapshot style survive almost
// unchanged, since transfer telemetry is independent of the wire
// format. NacksReceived/AddNack are renamed to DuplicateAcks/AddDuplicateAck
// and a FastRetransmits counter is added, since this protocol signals
// repair via duplicate ACKs (Selective Repeat) rather than explicit NACKs.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TransferMetrics accumulates telemetry for a single session's transfer.
type TransferMetrics struct {
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	SegmentsSent     uint64 `json:"segments_sent"`
	SegmentsReceived uint64 `json:"segments_received"`

	Errors          uint64 `json:"errors"`
	Timeouts        uint64 `json:"timeouts"`
	Retransmissions uint64 `json:"retransmissions"`
	FastRetransmits uint64 `json:"fast_retransmits"`
	DuplicateAcks   uint64 `json:"duplicate_acks"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	AverageSpeed float64 `json:"average_speed"` // bytes/second
	PeakSpeed    float64 `json:"peak_speed"`    // bytes/second
	Efficiency   float64 `json:"efficiency"`    // useful bytes / total bytes * 100

	PacketLoss float64       `json:"packet_loss"` // percent
	Latency    time.Duration `json:"latency"`

	SpeedHistory []SpeedPoint `json:"speed_history"`

	mu sync.RWMutex
}

// SpeedPoint is one sample in a transfer's speed history.
type SpeedPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
}

// NewTransferMetrics starts a fresh counter set with StartTime=now.
func NewTransferMetrics() *TransferMetrics {
	return &TransferMetrics{
		StartTime:    time.Now(),
		SpeedHistory: make([]SpeedPoint, 0),
	}
}

func (m *TransferMetrics) AddBytesSent(n uint64)        { atomic.AddUint64(&m.BytesSent, n) }
func (m *TransferMetrics) AddBytesReceived(n uint64)    { atomic.AddUint64(&m.BytesReceived, n) }
func (m *TransferMetrics) AddSegmentsSent(n uint64)     { atomic.AddUint64(&m.SegmentsSent, n) }
func (m *TransferMetrics) AddSegmentsReceived(n uint64) { atomic.AddUint64(&m.SegmentsReceived, n) }
func (m *TransferMetrics) AddError()                    { atomic.AddUint64(&m.Errors, 1) }
func (m *TransferMetrics) AddTimeout()                  { atomic.AddUint64(&m.Timeouts, 1) }
func (m *TransferMetrics) AddRetransmission()           { atomic.AddUint64(&m.Retransmissions, 1) }
func (m *TransferMetrics) AddFastRetransmit()           { atomic.AddUint64(&m.FastRetransmits, 1) }
func (m *TransferMetrics) AddDuplicateAck()             { atomic.AddUint64(&m.DuplicateAcks, 1) }

// RecordSpeed appends a speed sample, keeping at most the last 1000 to
// bound memory, and tracks the peak speed seen.
func (m *TransferMetrics) RecordSpeed(speed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SpeedHistory = append(m.SpeedHistory, SpeedPoint{Timestamp: time.Now(), Speed: speed})
	if len(m.SpeedHistory) > 1000 {
		m.SpeedHistory = m.SpeedHistory[len(m.SpeedHistory)-1000:]
	}
	if speed > m.PeakSpeed {
		m.PeakSpeed = speed
	}
}

// Finish stamps EndTime and derives AverageSpeed/Efficiency/PacketLoss.
func (m *TransferMetrics) Finish() {
	m.EndTime = time.Now()
	m.Duration = m.EndTime.Sub(m.StartTime)

	if m.Duration > 0 {
		m.AverageSpeed = float64(atomic.LoadUint64(&m.BytesReceived)) / m.Duration.Seconds()
	}

	total := atomic.LoadUint64(&m.BytesSent) + atomic.LoadUint64(&m.BytesReceived)
	if total > 0 {
		m.Efficiency = (float64(atomic.LoadUint64(&m.BytesReceived)) / float64(total)) * 100
	}

	sent := atomic.LoadUint64(&m.SegmentsSent)
	received := atomic.LoadUint64(&m.SegmentsReceived)
	if sent > 0 && sent >= received {
		m.PacketLoss = (float64(sent-received) / float64(sent)) * 100
	}
}

// GetSnapshot returns a point-in-time copy safe to read concurrently
// with further updates.
func (m *TransferMetrics) GetSnapshot() TransferMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return TransferMetrics{
		BytesSent:        atomic.LoadUint64(&m.BytesSent),
		BytesReceived:    atomic.LoadUint64(&m.BytesReceived),
		SegmentsSent:     atomic.LoadUint64(&m.SegmentsSent),
		SegmentsReceived: atomic.LoadUint64(&m.SegmentsReceived),
		Errors:           atomic.LoadUint64(&m.Errors),
		Timeouts:         atomic.LoadUint64(&m.Timeouts),
		Retransmissions:  atomic.LoadUint64(&m.Retransmissions),
		FastRetransmits:  atomic.LoadUint64(&m.FastRetransmits),
		DuplicateAcks:    atomic.LoadUint64(&m.DuplicateAcks),
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		Duration:         m.Duration,
		AverageSpeed:     m.AverageSpeed,
		PeakSpeed:        m.PeakSpeed,
		Efficiency:       m.Efficiency,
		PacketLoss:       m.PacketLoss,
		Latency:          m.Latency,
		SpeedHistory:     append([]SpeedPoint(nil), m.SpeedHistory...),
	}
}

// ServerMetrics aggregates telemetry across every session the server
// has handled.
type ServerMetrics struct {
	TotalConnections  uint64 `json:"total_connections"`
	ActiveConnections int64  `json:"active_connections"`
	TotalBytesSent    uint64 `json:"total_bytes_sent"`
	TotalSegmentsSent uint64 `json:"total_segments_sent"`

	TotalErrors          uint64 `json:"total_errors"`
	TotalTimeouts        uint64 `json:"total_timeouts"`
	TotalRetransmissions uint64 `json:"total_retransmissions"`
	TotalDuplicateAcks   uint64 `json:"total_duplicate_acks"`

	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`

	AverageConnections float64 `json:"average_connections"`
	PeakConnections    int64   `json:"peak_connections"`

	ConnectionHistory []ConnectionPoint `json:"connection_history"`

	mu sync.RWMutex
}

// ConnectionPoint is one sample in the server's active-connection history.
type ConnectionPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
}

// NewServerMetrics starts a fresh server-wide counter set.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{StartTime: time.Now(), ConnectionHistory: make([]ConnectionPoint, 0)}
}

// AddConnection records a new session and updates the active and peak counts.
func (m *ServerMetrics) AddConnection() {
	atomic.AddUint64(&m.TotalConnections, 1)
	active := atomic.AddInt64(&m.ActiveConnections, 1)
	if active > atomic.LoadInt64(&m.PeakConnections) {
		atomic.StoreInt64(&m.PeakConnections, active)
	}
	m.recordConnectionCount(active)
}

// RemoveConnection records a session's teardown.
func (m *ServerMetrics) RemoveConnection() {
	active := atomic.AddInt64(&m.ActiveConnections, -1)
	if active < 0 {
		active = 0
		atomic.StoreInt64(&m.ActiveConnections, 0)
	}
	m.recordConnectionCount(active)
}

func (m *ServerMetrics) AddBytesSent(n uint64)       { atomic.AddUint64(&m.TotalBytesSent, n) }
func (m *ServerMetrics) AddSegmentsSent(n uint64)    { atomic.AddUint64(&m.TotalSegmentsSent, n) }
func (m *ServerMetrics) AddError()                   { atomic.AddUint64(&m.TotalErrors, 1) }
func (m *ServerMetrics) AddTimeout()                 { atomic.AddUint64(&m.TotalTimeouts, 1) }
func (m *ServerMetrics) AddRetransmission()          { atomic.AddUint64(&m.TotalRetransmissions, 1) }
func (m *ServerMetrics) AddDuplicateAck()            { atomic.AddUint64(&m.TotalDuplicateAcks, 1) }

func (m *ServerMetrics) recordConnectionCount(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConnectionHistory = append(m.ConnectionHistory, ConnectionPoint{Timestamp: time.Now(), Count: count})
	if len(m.ConnectionHistory) > 1000 {
		m.ConnectionHistory = m.ConnectionHistory[len(m.ConnectionHistory)-1000:]
	}
}

// GetSnapshot returns a point-in-time copy of the server metrics.
func (m *ServerMetrics) GetSnapshot() ServerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ServerMetrics{
		TotalConnections:     atomic.LoadUint64(&m.TotalConnections),
		ActiveConnections:    atomic.LoadInt64(&m.ActiveConnections),
		TotalBytesSent:       atomic.LoadUint64(&m.TotalBytesSent),
		TotalSegmentsSent:    atomic.LoadUint64(&m.TotalSegmentsSent),
		TotalErrors:          atomic.LoadUint64(&m.TotalErrors),
		TotalTimeouts:        atomic.LoadUint64(&m.TotalTimeouts),
		TotalRetransmissions: atomic.LoadUint64(&m.TotalRetransmissions),
		TotalDuplicateAcks:   atomic.LoadUint64(&m.TotalDuplicateAcks),
		Uptime:               time.Since(m.StartTime),
		StartTime:            m.StartTime,
		AverageConnections:   m.calculateAverageConnections(),
		PeakConnections:      atomic.LoadInt64(&m.PeakConnections),
		ConnectionHistory:    append([]ConnectionPoint(nil), m.ConnectionHistory...),
	}
}

func (m *ServerMetrics) calculateAverageConnections() float64 {
	if len(m.ConnectionHistory) == 0 {
		return 0
	}
	var sum int64
	for _, p := range m.ConnectionHistory {
		sum += p.Count
	}
	return float64(sum) / float64(len(m.ConnectionHistory))
}
