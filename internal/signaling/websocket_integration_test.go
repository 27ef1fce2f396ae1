package signaling

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/metrics"
)

func TestRelay_JoinOfferDisconnect(t *testing.T) {
	srv, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1)})

	// A connects, then B.
	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")
	require.Eventually(t, func() bool { return srv.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	// A joins as alice; both see the same roster.
	writeFrame(t, a, `{"type":"join","clientId":"1","username":"alice"}`)
	wantUsers := `{"type":"users","users":[{"clientId":"1","username":"alice"},{"clientId":"2","username":""}]}`
	assert.Equal(t, wantUsers, readFrame(t, a))
	assert.Equal(t, wantUsers, readFrame(t, b))

	// A's offer reaches B byte for byte.
	offer := `{"type":"offer","offerId":"1","answerId":"2","sdp":"SDPDATA"}`
	writeFrame(t, a, offer)
	assert.Equal(t, offer, readFrame(t, b))

	// A leaves; B sees the shrunken roster.
	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()
	assert.Equal(t, `{"type":"users","users":[{"clientId":"2","username":""}]}`, readFrame(t, b))
	assert.Equal(t, 1, srv.Clients())
	assert.Equal(t, []User{{ClientID: "2"}}, srv.Roster())
}

func TestRelay_AbruptDisconnectIsCleanedUp(t *testing.T) {
	srv, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1)})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	// No close frame.
	_ = a.UnderlyingConn().Close()

	assert.Equal(t, `{"type":"users","users":[{"clientId":"2","username":""}]}`, readFrame(t, b))
	assert.Equal(t, 1, srv.Clients())
}

func TestRelay_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	m := metrics.New()
	_, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1), Metrics: m})

	a := dialWithID(t, wsURL, "1")
	writeFrame(t, a, `this is not json`)
	writeFrame(t, a, `{"type":"offer","sdp":"no answerId"}`)
	writeFrame(t, a, `{"type":"join","clientId":"1","username":"still-here"}`)

	assert.Equal(t, `{"type":"users","users":[{"clientId":"1","username":"still-here"}]}`, readFrame(t, a))
	assert.Equal(t, uint64(2), m.Get(metrics.DropReasonProtocolError))
}

func TestRelay_UnknownRecipientIsSilent(t *testing.T) {
	m := metrics.New()
	_, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1), Metrics: m})

	a := dialWithID(t, wsURL, "1")
	writeFrame(t, a, `{"type":"offer","offerId":"1","answerId":"404","sdp":"x"}`)
	writeFrame(t, a, `{"type":"join","clientId":"1","username":"a"}`)

	// The next thing A sees is its own roster, not an error.
	assert.Equal(t, `{"type":"users","users":[{"clientId":"1","username":"a"}]}`, readFrame(t, a))
	assert.Equal(t, uint64(1), m.Get(metrics.DropReasonUnknownRecipient))
}

func TestRelay_InvalidUTF8IsNotForwarded(t *testing.T) {
	m := metrics.New()
	_, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1), Metrics: m})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	bad := []byte("{\"type\":\"offer\",\"offerId\":\"1\",\"answerId\":\"2\",\"sdp\":\"\xff\xfe\"}")
	require.NoError(t, a.WriteMessage(websocket.TextMessage, bad))
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, bad))

	// B's next frame is the valid offer, so neither bad frame got through.
	offer := `{"type":"offer","offerId":"1","answerId":"2","sdp":"ok"}`
	writeFrame(t, a, offer)
	assert.Equal(t, offer, readFrame(t, b))
	assert.Equal(t, uint64(2), m.Get(metrics.DropReasonProtocolError))
}

func TestRelay_MessageToDepartedClientIsDropped(t *testing.T) {
	m := metrics.New()
	srv, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1), Metrics: m})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	require.NoError(t, a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.Close()
	assert.Equal(t, `{"type":"users","users":[{"clientId":"2","username":""}]}`, readFrame(t, b))
	require.Equal(t, 1, srv.Clients())

	writeFrame(t, b, `{"type":"offer","offerId":"2","answerId":"1","sdp":"late"}`)
	writeFrame(t, b, `{"type":"join","clientId":"2","username":"bob"}`)

	// B gets no error and stays usable.
	assert.Equal(t, `{"type":"users","users":[{"clientId":"2","username":"bob"}]}`, readFrame(t, b))
	assert.Equal(t, uint64(1), m.Get(metrics.DropReasonUnknownRecipient))
	assert.Equal(t, 1, srv.Clients())
}

func TestRelay_BinaryFramesAreParsedAndRelayedAsText(t *testing.T) {
	_, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1)})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	msg := `{"type":"ice-candidate","offerId":"1","answerId":"2","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte(msg)))
	assert.Equal(t, msg, readFrame(t, b))
}

func TestRelay_DuplicateIDRejectsNewcomer(t *testing.T) {
	m := metrics.New()
	srv, wsURL := startRelay(t, Config{IDs: fixedIDs("same"), Metrics: m})

	first := dialWithID(t, wsURL, "same")
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	second := dial(t, wsURL)
	assert.Equal(t, websocket.CloseInternalServerErr, expectClose(t, second))

	writeFrame(t, first, `{"type":"join","clientId":"same","username":"first"}`)
	assert.Equal(t, `{"type":"users","users":[{"clientId":"same","username":"first"}]}`, readFrame(t, first))
	assert.Equal(t, uint64(1), m.Get(metrics.ConnectionsRejected))
}

func TestRelay_RateLimitedMessagesAreDropped(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	m := metrics.New()
	_, wsURL := startRelay(t, Config{
		IDs:                           NewIDAllocatorFrom(1),
		Clock:                         clk,
		Metrics:                       m,
		MaxSignalingMessagesPerSecond: 1,
	})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	writeFrame(t, a, `{"type":"offer","offerId":"1","answerId":"2","n":1}`)
	writeFrame(t, a, `{"type":"offer","offerId":"1","answerId":"2","n":2}`)
	require.Eventually(t, func() bool { return m.Get(metrics.DropReasonRateLimited) == 1 }, 2*time.Second, 10*time.Millisecond)

	clk.Advance(time.Second)
	writeFrame(t, a, `{"type":"offer","offerId":"1","answerId":"2","n":3}`)

	assert.Equal(t, `{"type":"offer","offerId":"1","answerId":"2","n":1}`, readFrame(t, b))
	assert.Equal(t, `{"type":"offer","offerId":"1","answerId":"2","n":3}`, readFrame(t, b))
}

func TestRelay_OversizedMessageClosesConnection(t *testing.T) {
	_, wsURL := startRelay(t, Config{
		IDs:                      NewIDAllocatorFrom(1),
		MaxSignalingMessageBytes: 128,
	})

	a := dialWithID(t, wsURL, "1")
	b := dialWithID(t, wsURL, "2")

	writeFrame(t, a, `{"type":"offer","offerId":"1","answerId":"2","sdp":"`+strings.Repeat("x", 256)+`"}`)
	assert.Equal(t, websocket.CloseMessageTooBig, expectClose(t, a))
	assert.Equal(t, `{"type":"users","users":[{"clientId":"2","username":""}]}`, readFrame(t, b))
}

func TestRelay_ShutdownClosesWithGoingAway(t *testing.T) {
	srv, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(1)})

	a := dialWithID(t, wsURL, "1")
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.Close()
	assert.Equal(t, websocket.CloseGoingAway, expectClose(t, a))
	require.Eventually(t, func() bool { return srv.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// New connections are refused once closed.
	late := dial(t, wsURL)
	assert.Equal(t, websocket.CloseGoingAway, expectClose(t, late))
}

func TestRelay_NonWebSocketRequestsGet404(t *testing.T) {
	_, wsURL := startRelay(t, Config{})
	base := "http" + strings.TrimPrefix(wsURL, "ws")

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/anything"},
	} {
		req, err := http.NewRequest(tc.method, strings.TrimSuffix(base, "/")+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestRelay_CustomSignalPath(t *testing.T) {
	_, wsURL := startRelay(t, Config{IDs: NewIDAllocatorFrom(7), SignalPath: "/ws"})
	require.True(t, strings.HasSuffix(wsURL, "/ws"))

	dialWithID(t, wsURL, "7")

	_, resp, err := websocket.DefaultDialer.Dial(strings.TrimSuffix(wsURL, "/ws")+"/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRelay_OriginAllowList(t *testing.T) {
	m := metrics.New()
	_, wsURL := startRelay(t, Config{
		IDs:            NewIDAllocatorFrom(1),
		Metrics:        m,
		AllowedOrigins: []string{"https://app.example.com"},
	})

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, h)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, uint64(1), m.Get(metrics.DropReasonOriginRejected))

	h.Set("Origin", "https://app.example.com")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, h)
	require.NoError(t, err)
	defer c.Close()
	assert.JSONEq(t, `{"type":"id","id":"1"}`, readFrame(t, c))
}
