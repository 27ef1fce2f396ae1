package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// wsConn is one registered relay connection. The handler goroutine runs the
// read loop; writeLoop drains the send queue and pingLoop keeps the idle
// deadline alive.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	srv    *Server
	logger *slog.Logger

	queue   *sendQueue
	limiter *ratelimit.TokenBucket

	writeMu sync.Mutex

	joined atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(srv *Server, id string, conn *websocket.Conn) *wsConn {
	return &wsConn{
		id:      id,
		conn:    conn,
		srv:     srv,
		logger:  srv.logger.With("client_id", id),
		queue:   newSendQueue(srv.sendQueueBytes),
		limiter: ratelimit.NewPerSecond(srv.clock, srv.maxMessagesPerSecond),
		done:    make(chan struct{}),
	}
}

// Send implements Sender.
func (c *wsConn) Send(frame []byte) bool {
	if c.queue.Enqueue(frame) {
		return true
	}
	c.srv.metrics.Inc(metrics.DropReasonBackpressure)
	c.logger.Debug("send queue full, frame dropped", "bytes", len(frame))
	return false
}

func (c *wsConn) run() {
	go c.writeLoop()
	go c.pingLoop()

	err := c.readLoop()
	switch {
	case err == nil:
	case isTimeout(err):
		c.logger.Debug("relay connection idle timeout")
		c.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Debug("relay message too large")
		c.closeWith(websocket.CloseMessageTooBig, "message too large")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("relay connection closed by client")
	default:
		c.logger.Debug("relay connection failed", "err", fmt.Errorf("%w: %v", ErrTransportFault, err))
	}
	c.Close()
}

func (c *wsConn) readLoop() error {
	idleTimeout := c.srv.idleTimeout
	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		// Read before limiting so bytes already in the socket are consumed.
		if !c.limiter.Allow() {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.logger.Debug("relay message rate limited")
			continue
		}

		env, err := c.srv.router.Handle(c.id, data)
		switch {
		case errors.Is(err, ErrProtocol):
			c.logger.Debug("dropping malformed message", "err", err)
		case errors.Is(err, ErrUnknownRecipient):
			c.logger.Debug("dropping message for unknown recipient", "type", env.MessageType(), "err", err)
		case err != nil:
			c.logger.Warn("relay message failed", "err", err)
		default:
			if _, ok := env.(JoinMessage); ok && !c.joined.Swap(true) {
				c.logger.Info("client joined", "username", env.(JoinMessage).Username)
			}
		}
	}
}

func (c *wsConn) writeLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		err := c.conn.WriteMessage(websocket.TextMessage, frame)
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("relay write failed", "err", fmt.Errorf("%w: %v", ErrTransportFault, err))
			// Unblocks the read loop, which runs the cleanup.
			_ = c.conn.Close()
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	t := time.NewTicker(c.srv.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// Close removes the connection from the registry by its own id and
// re-announces the roster. Only the first call has any effect.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		_ = c.conn.Close()

		c.srv.untrack(c)
		if c.srv.registry.Remove(c.id) {
			c.srv.metrics.Inc(metrics.ConnectionsClosed)
			c.srv.presence.Announce()
		}
		c.logger.Debug("relay connection closed", "dropped_frames", c.queue.Dropped())
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
