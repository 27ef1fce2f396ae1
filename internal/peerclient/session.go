package peerclient

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Session is one negotiated PeerConnection with a single text DataChannel.
type Session struct {
	RemoteID       string
	RemoteUsername string

	pc *webrtc.PeerConnection

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	descSent bool
	candBuf  []webrtc.ICECandidateInit

	messages chan string
	open     chan struct{}
	openOnce sync.Once

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(remoteID string, pc *webrtc.PeerConnection) *Session {
	return &Session{
		RemoteID: remoteID,
		pc:       pc,
		messages: make(chan string, 64),
		open:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (s *Session) attach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.openOnce.Do(func() { close(s.open) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case s.messages <- string(msg.Data):
		case <-s.closed:
		}
	})
	dc.OnClose(s.Close)
}

// bufferCandidate holds local candidates until the description is sent. It
// reports false once they can go straight out.
func (s *Session) bufferCandidate(c webrtc.ICECandidateInit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descSent {
		return false
	}
	s.candBuf = append(s.candBuf, c)
	return true
}

func (s *Session) markDescriptionSent() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descSent = true
	buf := s.candBuf
	s.candBuf = nil
	return buf
}

// Send writes a text message on the DataChannel.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil {
		return errors.New("peerclient: datachannel not open")
	}
	return dc.SendText(text)
}

// Messages delivers text received on the DataChannel.
func (s *Session) Messages() <-chan string { return s.messages }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.pc.Close()
	})
}
