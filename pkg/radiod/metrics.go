package radiod

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of a Controller's Metrics,
// safe to read without holding any lock, as returned by GetMetrics.
type MetricsSnapshot struct {
	CommandsSent           uint64
	CommandsFailed         uint64
	CommandsSucceeded      uint64
	StatusPacketsReceived  uint64
	LastErrorString        string
	LastErrorTime          time.Time
	ErrorsByKind           map[ErrorKind]uint64
	SuccessRate            float64 // CommandsSucceeded / CommandsSent, 0 if none sent
}

// Metrics accumulates sent / failed / succeeded command counters and a
// last-error snapshot, mutated only by the Dispatcher's call sites
// inside Controller.
type Metrics struct {
	mu                    sync.Mutex
	commandsSent          uint64
	commandsFailed        uint64
	statusPacketsReceived uint64
	lastErrorString       string
	lastErrorTime         time.Time
	errorsByKind          map[ErrorKind]uint64
}

func newMetrics() *Metrics {
	return &Metrics{errorsByKind: make(map[ErrorKind]uint64)}
}

// recordAttempt counts one permitted dispatch call. commands_sent is
// the total of every such call; commands_succeeded is derived as
// commands_sent - commands_failed, keeping the
// "succeeded + failed == sent" identity true by construction.
func (m *Metrics) recordAttempt() {
	m.mu.Lock()
	m.commandsSent++
	m.mu.Unlock()
}

func (m *Metrics) recordFailure(kind ErrorKind, err error) {
	m.mu.Lock()
	m.commandsFailed++
	m.lastErrorString = err.Error()
	m.lastErrorTime = time.Now()
	m.errorsByKind[kind]++
	m.mu.Unlock()
}

func (m *Metrics) recordStatusReceived() {
	m.mu.Lock()
	m.statusPacketsReceived++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current metrics, including a computed
// success rate.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKind := make(map[ErrorKind]uint64, len(m.errorsByKind))
	for k, v := range m.errorsByKind {
		byKind[k] = v
	}

	succeeded := m.commandsSent - m.commandsFailed
	var rate float64
	if m.commandsSent > 0 {
		rate = float64(succeeded) / float64(m.commandsSent)
	}

	return MetricsSnapshot{
		CommandsSent:          m.commandsSent,
		CommandsFailed:        m.commandsFailed,
		CommandsSucceeded:     succeeded,
		StatusPacketsReceived: m.statusPacketsReceived,
		LastErrorString:       m.lastErrorString,
		LastErrorTime:         m.lastErrorTime,
		ErrorsByKind:          byKind,
		SuccessRate:           rate,
	}
}

// Reset zeroes every counter and clears the last-error snapshot.
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.commandsSent = 0
	m.commandsFailed = 0
	m.statusPacketsReceived = 0
	m.lastErrorString = ""
	m.lastErrorTime = time.Time{}
	m.errorsByKind = make(map[ErrorKind]uint64)
	m.mu.Unlock()
}
