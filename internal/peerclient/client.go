// Package peerclient is a Go client for the peer signaling relay: it connects,
// learns its id, joins with a display name, follows the roster and exchanges
// relay envelopes. Peer builds WebRTC DataChannel sessions on top of it.
package peerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/signaling"
)

const writeWait = 5 * time.Second

var ErrClosed = errors.New("peerclient: connection closed")

// Envelope is a relay message as sent by the browser client. Fields that do
// not apply to a type are omitted on the wire.
type Envelope struct {
	Type      signaling.MessageType    `json:"type"`
	OfferID   string                   `json:"offerId,omitempty"`
	AnswerID  string                   `json:"answerId,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Username  string                   `json:"username,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// serverMessage covers the two server-originated envelopes.
type serverMessage struct {
	Type  signaling.MessageType `json:"type"`
	ID    string                `json:"id"`
	Users []signaling.User      `json:"users"`
}

type Client struct {
	conn   *websocket.Conn
	id     string
	logger *slog.Logger

	writeMu sync.Mutex

	roster   chan []signaling.User
	messages chan Envelope

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to the relay at url (ws:// or wss://) and waits for the id
// envelope.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = discardLogger()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var hello serverMessage
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read id: %w", err)
	}
	if hello.Type != signaling.MessageTypeID || hello.ID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("expected id envelope, got type %q", hello.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:     conn,
		id:       hello.ID,
		logger:   logger.With("client_id", hello.ID),
		roster:   make(chan []signaling.User, 1),
		messages: make(chan Envelope, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ID is the id the relay assigned to this connection.
func (c *Client) ID() string { return c.id }

// Roster delivers roster updates. Only the most recent undelivered roster is
// kept.
func (c *Client) Roster() <-chan []signaling.User { return c.roster }

// Messages delivers inbound relay envelopes in arrival order.
func (c *Client) Messages() <-chan Envelope { return c.messages }

// Done is closed when the connection ends. Err then reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) Join(username string) error {
	return c.writeJSON(map[string]string{
		"type":     string(signaling.MessageTypeJoin),
		"clientId": c.id,
		"username": username,
	})
}

// Send relays env to env.AnswerID. OfferID defaults to this client's id.
func (c *Client) Send(env Envelope) error {
	if env.AnswerID == "" {
		return errors.New("peerclient: envelope has no answerId")
	}
	if env.OfferID == "" {
		env.OfferID = c.id
	}
	return c.writeJSON(env)
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var head serverMessage
		if err := json.Unmarshal(data, &head); err != nil {
			c.logger.Debug("ignoring unparseable frame", "err", err)
			continue
		}

		if head.Type == signaling.MessageTypeUsers {
			c.publishRoster(head.Users)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("ignoring malformed relay message", "type", head.Type, "err", err)
			continue
		}
		select {
		case c.messages <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) publishRoster(users []signaling.User) {
	for {
		select {
		case c.roster <- users:
			return
		default:
		}
		// Replace the stale roster nobody has read yet.
		select {
		case <-c.roster:
		default:
		}
	}
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

// Close sends a normal-closure frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

// WaitForUser blocks until a roster lists username and returns that user's
// id. Rosters read while waiting are consumed.
func (c *Client) WaitForUser(ctx context.Context, username string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return "", ErrClosed
		case users := <-c.roster:
			for _, u := range users {
				if u.Username == username && u.ClientID != c.id {
					return u.ClientID, nil
				}
			}
		}
	}
}
