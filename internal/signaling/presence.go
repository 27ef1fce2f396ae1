package signaling

import (
	"log/slog"
	"sync"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/metrics"
)

// Presence broadcasts the roster to every registered connection.
//
// Announcements are serialized: the snapshot and the enqueue to every member
// happen under one lock, so all connections observe the same sequence of
// rosters.
type Presence struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu sync.Mutex
}

func NewPresence(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = discardLogger()
	}
	return &Presence{registry: registry, metrics: m, logger: logger}
}

func (p *Presence) Announce() {
	p.mu.Lock()
	defer p.mu.Unlock()

	members := p.registry.Snapshot()
	frame, err := encodeUsersMessage(members)
	if err != nil {
		p.logger.Error("encode roster failed", "err", err)
		return
	}
	for _, m := range members {
		if m.Sender != nil {
			m.Sender.Send(frame)
		}
	}
	p.metrics.Inc(metrics.RosterBroadcasts)
	p.logger.Debug("roster_announced", "clients", len(members))
}
