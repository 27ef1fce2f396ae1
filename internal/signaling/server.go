package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/ratelimit"
)

// Config wires together the runtime dependencies for the relay.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// IDs allocates connection ids. Defaults to NewIDAllocator().
	IDs IDSource

	// Clock drives the per-connection message rate limiter.
	Clock ratelimit.Clock

	// SignalPath is the relay WebSocket endpoint. Defaults to "/".
	SignalPath string

	// AllowedOrigins restricts browser origins; empty means same host only.
	// Requests without an Origin header (non-browser clients) are accepted.
	AllowedOrigins []string

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SignalingSendQueueBytes       int
}

// ConfigFromAppConfig maps the process configuration onto the relay's.
func ConfigFromAppConfig(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) Config {
	return Config{
		Logger:                        logger,
		Metrics:                       m,
		SignalPath:                    cfg.SignalPath,
		AllowedOrigins:                cfg.AllowedOrigins,
		SignalingWSIdleTimeout:        cfg.SignalingWSIdleTimeout,
		SignalingWSPingInterval:       cfg.SignalingWSPingInterval,
		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SignalingSendQueueBytes:       cfg.SignalingSendQueueBytes,
	}
}

// Server accepts relay WebSocket connections and owns the registry, router and
// presence broadcaster shared between them.
type Server struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	ids     IDSource
	clock   ratelimit.Clock

	registry *Registry
	presence *Presence
	router   *Router

	signalPath     string
	allowedOrigins []string

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueBytes       int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewIDAllocator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ratelimit.RealClock{}
	}

	s := &Server{
		logger:  logger,
		metrics: cfg.Metrics,
		ids:     ids,
		clock:   clock,

		signalPath:     cfg.SignalPath,
		allowedOrigins: cfg.AllowedOrigins,

		idleTimeout:          cfg.SignalingWSIdleTimeout,
		pingInterval:         cfg.SignalingWSPingInterval,
		maxMessageBytes:      cfg.MaxSignalingMessageBytes,
		maxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		sendQueueBytes:       cfg.SignalingSendQueueBytes,

		conns: make(map[*wsConn]struct{}),
	}
	if s.signalPath == "" {
		s.signalPath = config.DefaultSignalPath
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if s.pingInterval <= 0 || s.pingInterval >= s.idleTimeout {
		s.pingInterval = s.idleTimeout / 3
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if s.sendQueueBytes <= 0 {
		s.sendQueueBytes = config.DefaultSignalingSendQueueBytes
	}

	s.registry = NewRegistry()
	s.presence = NewPresence(s.registry, s.metrics, logger)
	s.router = NewRouter(s.registry, s.presence, s.metrics, logger)
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// RegisterRoutes mounts the relay endpoint. Only the exact signal path
// matches.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	pattern := s.signalPath
	if strings.HasSuffix(pattern, "/") {
		pattern += "{$}"
	}
	mux.Handle(pattern, s)
}

// ServeHTTP upgrades requests on the signal path. Anything else, including a
// plain HTTP request on the signal path, gets a 404.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != s.signalPath || !websocket.IsWebSocketUpgrade(r) {
		http.NotFound(w, r)
		return
	}
	s.handleWebSocket(w, r)
}

// Clients returns the number of registered connections.
func (s *Server) Clients() int {
	return s.registry.Len()
}

// Roster returns the current roster in registration order.
func (s *Server) Roster() []User {
	members := s.registry.Snapshot()
	users := make([]User, 0, len(members))
	for _, m := range members {
		users = append(users, User{ClientID: m.ID, Username: m.Username})
	}
	return users
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		return
	}

	id := s.ids.Next()
	c := newWSConn(s, id, conn)

	// Queue the id frame before registering so no roster can overtake it.
	frame, err := encodeIDMessage(id)
	if err != nil {
		s.logger.Error("encode id message failed", "err", err)
		_ = conn.Close()
		return
	}
	c.queue.Enqueue(frame)

	if !s.track(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = conn.Close()
		return
	}
	if err := s.registry.Add(id, c); err != nil {
		s.untrack(c)
		s.metrics.Inc(metrics.ConnectionsRejected)
		s.logger.Error("rejecting relay connection", "client_id", id, "err", err)
		if errors.Is(err, ErrDuplicateID) {
			c.closeWith(websocket.CloseInternalServerErr, "duplicate id")
		}
		_ = conn.Close()
		return
	}

	s.metrics.Inc(metrics.ConnectionsOpened)
	c.logger.Debug("relay connection opened", "remote_addr", r.RemoteAddr, "clients", s.registry.Len())
	c.run()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return true
	}
	o, ok := origin.Parse(raw)
	if ok && origin.Allowed(o, r.Host, s.allowedOrigins) {
		return true
	}
	s.metrics.Inc(metrics.DropReasonOriginRejected)
	s.logger.Warn("rejecting relay connection from disallowed origin", "origin", raw, "remote_addr", r.RemoteAddr)
	return false
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close refuses new connections and closes every open one with 1001.
// Connection cleanup runs on each connection's own goroutine.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.Close()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
