package metrics

import "sync"

// Event counter names.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsRejected = "connections_rejected"
	Joins               = "joins"
	MessagesRelayed     = "messages_relayed"
	RosterBroadcasts    = "roster_broadcasts"

	DropReasonUnknownRecipient = "dropped_unknown_recipient"
	DropReasonProtocolError    = "dropped_protocol_error"
	DropReasonRateLimited      = "dropped_rate_limited"
	DropReasonBackpressure     = "dropped_backpressure"
	DropReasonOriginRejected   = "dropped_origin_rejected"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The zero value is ready to use.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
