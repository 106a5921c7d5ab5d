// Package mesh maintains one direct media connection per remote participant
// and drives the offer/answer/ICE exchange over the signaling channel.
package mesh

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

// Signaler is the slice of the signaling transport the mesh needs.
type Signaler interface {
	SendTo(to domain.ParticipantID, t signal.MessageType, payload any) error
}

type OfferPayload struct {
	SDP string `json:"sdp"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

func candidateToPayload(ci webrtc.ICECandidateInit) CandidatePayload {
	p := CandidatePayload{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		p.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		p.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return p
}

func (p CandidatePayload) toInit() webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		mid := p.SDPMid
		ci.SDPMid = &mid
	}
	idx := p.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	return ci
}

func DefaultWebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

// Coordinator owns the peer link map. Exactly one link exists per remote
// participant; creating a second one for the same peer closes and replaces
// the first. A failed link is dropped alone and never takes the transport or
// sibling links with it.
type Coordinator struct {
	cfg    webrtc.Configuration
	sender Signaler
	log    zerolog.Logger

	mu    sync.RWMutex
	links map[domain.ParticipantID]*PeerLink

	// Candidates that arrived before their peer's link existed. With
	// per-sender ordering a candidate can still precede the offer, because
	// gathering starts before the offer frame is sent.
	pmu     sync.Mutex
	preLink map[domain.ParticipantID][]webrtc.ICECandidateInit

	tmu        sync.Mutex
	localAudio webrtc.TrackLocal
	localVideo webrtc.TrackLocal

	remote *StreamRegistry
}

func NewCoordinator(cfg webrtc.Configuration, sender Signaler) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		sender:  sender,
		log:     log.With().Str("module", "mesh").Logger(),
		links:   make(map[domain.ParticipantID]*PeerLink),
		preLink: make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
		remote:  NewStreamRegistry(),
	}
}

// SetLocalTracks installs the outbound tracks attached to every link created
// from now on. Track lifecycle is coordinated here; consumers never stop a
// shared track themselves.
func (c *Coordinator) SetLocalTracks(audio, video webrtc.TrackLocal) {
	c.tmu.Lock()
	c.localAudio = audio
	c.localVideo = video
	c.tmu.Unlock()
}

// RemoteStreams returns the registry of inbound media keyed by peer id.
func (c *Coordinator) RemoteStreams() *StreamRegistry { return c.remote }

// OfferTo creates the link for a newly joined peer and sends the offer. The
// side that observes participant-joined is always the offerer; the joiner
// only answers. That fixed role split is what prevents glare.
func (c *Coordinator) OfferTo(peer domain.ParticipantID) error {
	link, err := c.newLink(peer)
	if err != nil {
		return err
	}

	offer, err := link.createOffer()
	if err != nil {
		c.dropLink(peer, link, err)
		return err
	}
	if err := c.sender.SendTo(peer, signal.TypeOffer, OfferPayload{SDP: offer.SDP}); err != nil {
		c.dropLink(peer, link, err)
		return err
	}
	return nil
}

// HandleOffer answers a remote offer, creating the link on this side.
func (c *Coordinator) HandleOffer(from domain.ParticipantID, p OfferPayload) error {
	link, err := c.newLink(from)
	if err != nil {
		return err
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	answer, err := link.applyOfferAndAnswer(offer)
	if err != nil {
		c.dropLink(from, link, err)
		return err
	}
	if err := c.sender.SendTo(from, signal.TypeAnswer, AnswerPayload{SDP: answer.SDP}); err != nil {
		c.dropLink(from, link, err)
		return err
	}
	return nil
}

// HandleAnswer completes the offerer's side of the exchange.
func (c *Coordinator) HandleAnswer(from domain.ParticipantID, p AnswerPayload) error {
	link, ok := c.link(from)
	if !ok {
		c.log.Warn().Str("peer", string(from)).Msg("answer for unknown peer")
		return nil
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := link.applyAnswer(answer); err != nil {
		c.dropLink(from, link, err)
		return err
	}
	return nil
}

const maxPreLinkCandidates = 32

// HandleCandidate adds (or queues) a remote ICE candidate for that peer.
// Candidates arriving before the peer's link exists are buffered and flushed
// into the link on creation; any interleaving of offer and candidates is
// legal on the wire.
func (c *Coordinator) HandleCandidate(from domain.ParticipantID, p CandidatePayload) error {
	c.pmu.Lock()
	link, ok := c.link(from)
	if !ok {
		if len(c.preLink[from]) < maxPreLinkCandidates {
			c.preLink[from] = append(c.preLink[from], p.toInit())
			c.log.Debug().Str("peer", string(from)).Int("buffered", len(c.preLink[from])).Msg("candidate buffered before link")
		}
		c.pmu.Unlock()
		return nil
	}
	c.pmu.Unlock()
	return link.addCandidate(p.toInit())
}

// ReplaceVideoTrack swaps the outbound video track on every existing link
// (screen-share start/stop) instead of renegotiating new links.
func (c *Coordinator) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	c.tmu.Lock()
	c.localVideo = track
	c.tmu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for peer, link := range c.links {
		if link.videoSender == nil {
			continue
		}
		if err := link.videoSender.ReplaceTrack(track); err != nil {
			c.log.Error().Err(err).Str("peer", string(peer)).Msg("replace video track")
		}
	}
	return nil
}

// ClosePeer drops one link; safe to call for unknown peers and repeatedly.
func (c *Coordinator) ClosePeer(peer domain.ParticipantID) {
	c.mu.Lock()
	link, ok := c.links[peer]
	delete(c.links, peer)
	c.mu.Unlock()
	c.pmu.Lock()
	delete(c.preLink, peer)
	c.pmu.Unlock()
	if ok {
		link.close()
	}
	c.remote.Drop(peer)
}

// CloseAll tears down every link, e.g. when the signaling transport closes.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	links := c.links
	c.links = make(map[domain.ParticipantID]*PeerLink)
	c.mu.Unlock()
	c.pmu.Lock()
	c.preLink = make(map[domain.ParticipantID][]webrtc.ICECandidateInit)
	c.pmu.Unlock()
	for peer, link := range links {
		link.close()
		c.remote.Drop(peer)
	}
}

func (c *Coordinator) LinkState(peer domain.ParticipantID) (LinkState, bool) {
	link, ok := c.link(peer)
	if !ok {
		return LinkClosed, false
	}
	return link.State(), true
}

func (c *Coordinator) LinkCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

func (c *Coordinator) link(peer domain.ParticipantID) (*PeerLink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	link, ok := c.links[peer]
	return link, ok
}

func (c *Coordinator) newLink(peer domain.ParticipantID) (*PeerLink, error) {
	link, err := newPeerLink(c.cfg, peer)
	if err != nil {
		return nil, err
	}

	c.tmu.Lock()
	audio, video := c.localAudio, c.localVideo
	c.tmu.Unlock()
	if err := link.attachLocalTracks(audio, video); err != nil {
		link.close()
		return nil, err
	}

	link.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := c.sender.SendTo(peer, signal.TypeICECandidate, candidateToPayload(cand.ToJSON())); err != nil {
			c.log.Error().Err(err).Str("peer", string(peer)).Msg("send candidate")
		}
	})

	link.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer", string(peer)).Str("pc_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			link.markConnected()
		case webrtc.PeerConnectionStateFailed:
			c.dropLink(peer, link, nil)
		}
	})

	link.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		go c.remote.pump(peer, track, &c.log)
	})

	// Duplicate links per peer must never coexist; the newest wins.
	c.mu.Lock()
	old, had := c.links[peer]
	c.links[peer] = link
	c.mu.Unlock()
	if had {
		c.log.Warn().Str("peer", string(peer)).Msg("replacing existing link")
		old.close()
	}

	c.pmu.Lock()
	buffered := c.preLink[peer]
	delete(c.preLink, peer)
	c.pmu.Unlock()
	for _, ci := range buffered {
		if err := link.addCandidate(ci); err != nil {
			c.log.Error().Err(err).Str("peer", string(peer)).Msg("flush buffered candidate")
		}
	}
	return link, nil
}

// dropLink removes one failed link without touching its siblings.
func (c *Coordinator) dropLink(peer domain.ParticipantID, link *PeerLink, cause error) {
	c.mu.Lock()
	if c.links[peer] == link {
		delete(c.links, peer)
	}
	c.mu.Unlock()
	link.close()
	c.remote.Drop(peer)
	if cause != nil {
		c.log.Error().Err(cause).Str("peer", string(peer)).Msg("link dropped after negotiation failure")
	}
}
