package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures every frame it is asked to send.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
	reject bool
}

func (s *recordingSender) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return true
}

func (s *recordingSender) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

func (s *recordingSender) Last(t *testing.T) []byte {
	t.Helper()
	frames := s.Frames()
	require.NotEmpty(t, frames, "no frames sent")
	return frames[len(frames)-1]
}

func decodeUsers(t *testing.T, frame []byte) UsersMessage {
	t.Helper()
	var msg UsersMessage
	require.NoError(t, json.Unmarshal(frame, &msg))
	require.Equal(t, MessageTypeUsers, msg.Type)
	return msg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixedIDs always returns the same id.
type fixedIDs string

func (f fixedIDs) Next() string { return string(f) }

func startRelay(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + srv.signalPath
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func writeFrame(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// expectClose reads until the server closes the connection and returns the
// close code.
func expectClose(t *testing.T, c *websocket.Conn) int {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

// dialWithID connects and consumes the id frame.
func dialWithID(t *testing.T, wsURL, wantID string) *websocket.Conn {
	t.Helper()
	c := dial(t, wsURL)
	assert.JSONEq(t, `{"type":"id","id":"`+wantID+`"}`, readFrame(t, c))
	return c
}
