package signaling

import (
	"fmt"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/metrics"
)

// Router applies one inbound envelope: join updates the registry and
// announces the roster, everything else is forwarded to its answerId.
type Router struct {
	registry *Registry
	presence *Presence
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewRouter(registry *Registry, presence *Presence, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = discardLogger()
	}
	return &Router{registry: registry, presence: presence, metrics: m, logger: logger}
}

// Handle processes a frame received from connection `from`.
//
// A *ProtocolError or ErrUnknownRecipient means the frame was dropped. Neither
// is ever reported to the sender.
func (r *Router) Handle(from string, data []byte) (Envelope, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		r.metrics.Inc(metrics.DropReasonProtocolError)
		return nil, err
	}

	switch msg := env.(type) {
	case JoinMessage:
		// Joins for ids that already left are ignored, but the roster is
		// still re-announced.
		if !r.registry.SetUsername(msg.ClientID, msg.Username) {
			r.logger.Debug("join for unknown client", "client_id", from, "target_id", msg.ClientID)
		}
		r.metrics.Inc(metrics.Joins)
		r.presence.Announce()
		return msg, nil

	case RelayMessage:
		target, ok := r.registry.Find(msg.AnswerID)
		if !ok || target.Sender == nil {
			r.metrics.Inc(metrics.DropReasonUnknownRecipient)
			return msg, fmt.Errorf("%w: %q", ErrUnknownRecipient, msg.AnswerID)
		}
		if target.Sender.Send(msg.Raw) {
			r.metrics.Inc(metrics.MessagesRelayed)
		}
		return msg, nil

	default:
		return env, protocolErrorf("unhandled envelope %T", env)
	}
}
