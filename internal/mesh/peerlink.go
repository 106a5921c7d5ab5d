package mesh

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stagecast/engine/internal/domain"
)

// LinkState is the signaling-level negotiation state of one PeerLink.
type LinkState int32

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkAnswerSent
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOfferSent:
		return "offer-sent"
	case LinkAnswerSent:
		return "answer-sent"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrLinkClosed    = errors.New("peer link closed")
	ErrBadTransition = errors.New("invalid link state transition")
)

// PeerLink wraps one pion PeerConnection to a single remote participant.
// It never holds a reference back to its coordinator; the coordinator looks
// links up by participant id.
type PeerLink struct {
	peerID domain.ParticipantID
	pc     *webrtc.PeerConnection
	log    zerolog.Logger

	mu        sync.Mutex
	state     LinkState
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	closeOnce sync.Once
}

func newPeerLink(cfg webrtc.Configuration, peerID domain.ParticipantID) (*PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PeerLink{
		peerID: peerID,
		pc:     pc,
		log:    log.With().Str("module", "mesh.link").Str("peer", string(peerID)).Logger(),
		state:  LinkNew,
	}, nil
}

func (l *PeerLink) PeerID() domain.ParticipantID { return l.peerID }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) attachLocalTracks(audio, video webrtc.TrackLocal) error {
	if audio != nil {
		s, err := l.pc.AddTrack(audio)
		if err != nil {
			return err
		}
		l.audioSender = s
	}
	if video != nil {
		s, err := l.pc.AddTrack(video)
		if err != nil {
			return err
		}
		l.videoSender = s
	}
	return nil
}

// createOffer drives new -> offer-sent.
func (l *PeerLink) createOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkNew {
		return webrtc.SessionDescription{}, ErrBadTransition
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.state = LinkOfferSent
	l.log.Info().Str("state", l.state.String()).Msg("offer created")
	return offer, nil
}

// applyOfferAndAnswer drives new -> answer-sent.
func (l *PeerLink) applyOfferAndAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkNew {
		return webrtc.SessionDescription{}, ErrBadTransition
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.remoteSet = true
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.flushPendingLocked()
	l.state = LinkAnswerSent
	l.log.Info().Str("state", l.state.String()).Msg("answer created")
	return answer, nil
}

// applyAnswer drives offer-sent -> connected.
func (l *PeerLink) applyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkOfferSent {
		return ErrBadTransition
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	l.remoteSet = true
	l.flushPendingLocked()
	l.state = LinkConnected
	l.log.Info().Str("state", l.state.String()).Msg("remote answer applied")
	return nil
}

// addCandidate queues the candidate when the remote description is not set
// yet; queued candidates are flushed on description apply.
func (l *PeerLink) addCandidate(ci webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkClosed {
		return ErrLinkClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, ci)
		l.log.Debug().Int("queued", len(l.pending)).Msg("candidate queued before remote description")
		return nil
	}
	return l.pc.AddICECandidate(ci)
}

func (l *PeerLink) flushPendingLocked() {
	for _, ci := range l.pending {
		if err := l.pc.AddICECandidate(ci); err != nil {
			l.log.Error().Err(err).Msg("flush queued candidate")
		}
	}
	l.pending = nil
}

// markConnected is the answerer's path to connected: it has no further
// signaling input, so the transport-level connected callback confirms it.
// A link never re-enters new and never leaves closed.
func (l *PeerLink) markConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkOfferSent || l.state == LinkAnswerSent {
		l.state = LinkConnected
		l.log.Info().Str("state", l.state.String()).Msg("link connected")
	}
}

// close releases the native connection exactly once and is safe from any
// state, including concurrent invocations.
func (l *PeerLink) close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.state = LinkClosed
		l.pending = nil
		l.mu.Unlock()

		if err := l.pc.Close(); err != nil {
			l.log.Error().Err(err).Msg("close error")
		} else {
			l.log.Info().Msg("closed")
		}
	})
}
