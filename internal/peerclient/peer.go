package peerclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/peer-signal-relay/internal/signaling"
)

// DataChannelLabel is the label of the chat DataChannel opened by Offer.
const DataChannelLabel = "chat"

// Peer negotiates WebRTC sessions with other relay clients. Offers and ICE
// candidates travel through the relay; incoming offers are answered
// automatically and surface through Accept.
type Peer struct {
	client     *Client
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	username   string
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	incoming chan *Session
}

func NewPeer(client *Client, api *webrtc.API, iceServers []webrtc.ICEServer, username string, logger *slog.Logger) *Peer {
	if api == nil {
		api = NewAPI(logger, nil)
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Peer{
		client:     client,
		api:        api,
		iceServers: iceServers,
		username:   username,
		logger:     logger.With("client_id", client.ID()),
		sessions:   make(map[string]*Session),
		incoming:   make(chan *Session, 8),
	}
}

// Run processes relay messages until ctx is done or the relay connection
// ends. It must be running for Offer and Accept to make progress.
func (p *Peer) Run(ctx context.Context) error {
	defer p.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.client.Done():
			return p.client.Err()
		case env := <-p.client.Messages():
			if err := p.handle(env); err != nil {
				p.logger.Warn("signaling message failed", "type", env.Type, "from", env.OfferID, "err", err)
			}
		}
	}
}

// Offer opens a session with the client whose id is targetID and waits until
// its DataChannel is open.
func (p *Peer) Offer(ctx context.Context, targetID string) (*Session, error) {
	s, err := p.newSession(targetID)
	if err != nil {
		return nil, err
	}

	dc, err := s.pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		p.dropSession(s)
		return nil, fmt.Errorf("create datachannel: %w", err)
	}
	s.attach(dc)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		p.dropSession(s)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		p.dropSession(s)
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	if err := p.sendDescription(s, signaling.MessageTypeOffer, offer.SDP); err != nil {
		p.dropSession(s)
		return nil, err
	}

	select {
	case <-s.open:
		return s, nil
	case <-s.closed:
		return nil, errors.New("peerclient: session closed before datachannel opened")
	case <-ctx.Done():
		p.dropSession(s)
		return nil, ctx.Err()
	}
}

// Accept returns the next session opened by a remote offer.
func (p *Peer) Accept(ctx context.Context) (*Session, error) {
	select {
	case s := <-p.incoming:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Peer) handle(env Envelope) error {
	switch env.Type {
	case signaling.MessageTypeOffer:
		return p.handleOffer(env)
	case signaling.MessageTypeAnswer:
		s, ok := p.session(env.OfferID)
		if !ok {
			return fmt.Errorf("answer from %q without a pending offer", env.OfferID)
		}
		return s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP})
	case signaling.MessageTypeICECandidate:
		s, ok := p.session(env.OfferID)
		if !ok || env.Candidate == nil {
			return nil
		}
		return s.pc.AddICECandidate(*env.Candidate)
	default:
		p.logger.Debug("ignoring relay message", "type", env.Type)
		return nil
	}
}

func (p *Peer) handleOffer(env Envelope) error {
	if env.OfferID == "" {
		return errors.New("offer without offerId")
	}
	if old, ok := p.session(env.OfferID); ok {
		p.dropSession(old)
	}

	s, err := p.newSession(env.OfferID)
	if err != nil {
		return err
	}
	s.RemoteUsername = env.Username

	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			return
		}
		s.attach(dc)
		go func() {
			select {
			case <-s.open:
				select {
				case p.incoming <- s:
				default:
					p.logger.Warn("dropping incoming session, accept queue full", "remote_id", s.RemoteID)
					p.dropSession(s)
				}
			case <-s.closed:
			}
		}()
	})

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}); err != nil {
		p.dropSession(s)
		return fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		p.dropSession(s)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		p.dropSession(s)
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := p.sendDescription(s, signaling.MessageTypeAnswer, answer.SDP); err != nil {
		p.dropSession(s)
		return err
	}
	p.logger.Info("answered offer", "remote_id", s.RemoteID, "remote_username", s.RemoteUsername)
	return nil
}

func (p *Peer) newSession(remoteID string) (*Session, error) {
	pc, err := p.api.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	s := newSession(remoteID, pc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if s.bufferCandidate(init) {
			return
		}
		p.sendCandidate(s, init)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debug("peer connection state", "remote_id", remoteID, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			// Not from inside the pion callback: dropSession closes the pc.
			go p.dropSession(s)
		}
	})

	p.mu.Lock()
	p.sessions[remoteID] = s
	p.mu.Unlock()
	return s, nil
}

// sendDescription sends the offer or answer, then flushes candidates gathered
// before it so the remote side never sees a candidate ahead of the SDP.
func (p *Peer) sendDescription(s *Session, typ signaling.MessageType, sdp string) error {
	env := Envelope{Type: typ, AnswerID: s.RemoteID, SDP: sdp}
	if typ == signaling.MessageTypeOffer {
		env.Username = p.username
	}
	if err := p.client.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	for _, cand := range s.markDescriptionSent() {
		p.sendCandidate(s, cand)
	}
	return nil
}

func (p *Peer) sendCandidate(s *Session, cand webrtc.ICECandidateInit) {
	if err := p.client.Send(Envelope{Type: signaling.MessageTypeICECandidate, AnswerID: s.RemoteID, Candidate: &cand}); err != nil {
		p.logger.Debug("send ice candidate failed", "remote_id", s.RemoteID, "err", err)
	}
}

func (p *Peer) session(remoteID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[remoteID]
	return s, ok
}

func (p *Peer) dropSession(s *Session) {
	p.mu.Lock()
	if cur, ok := p.sessions[s.RemoteID]; ok && cur == s {
		delete(p.sessions, s.RemoteID)
	}
	p.mu.Unlock()
	s.Close()
}

func (p *Peer) closeAll() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
