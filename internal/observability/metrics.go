package observability

import (
	"strconv"
	"sync"
)

// Metrics provides basic in-memory counters for pipeline outcomes.
type Metrics struct {
	mu       sync.Mutex
	outcomes map[string]int64
	requests map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		outcomes: make(map[string]int64),
		requests: make(map[string]int64),
	}
}

// RecordOutcome increments the counter for a pipeline terminal state,
// keyed by path and state, e.g. "NEW|ack_sent" or "EXISTING|duplicate".
func (m *Metrics) RecordOutcome(path, state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[path+"|"+state]++
}

// RecordRequest increments counters for HTTP requests.
func (m *Metrics) RecordRequest(path, method string, status int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[requestKey(path, method, status)]++
}

// Snapshot returns a copy of the outcome counters, for tests and debugging.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		out[k] = v
	}
	return out
}

func requestKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
