package mesh

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/stagecast/engine/internal/domain"
)

// RemoteTrackStats is a read-only view of one inbound track.
type RemoteTrackStats struct {
	TrackID string `json:"trackId"`
	Kind    string `json:"kind"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// RemoteStream is the set of inbound tracks from one peer.
type RemoteStream struct {
	PeerID domain.ParticipantID        `json:"peerId"`
	Tracks map[string]RemoteTrackStats `json:"tracks"`
}

// PacketSink receives every inbound RTP packet; nil sinks are allowed and
// the registry then only keeps per-track counters.
type PacketSink func(peer domain.ParticipantID, track *webrtc.TrackRemote, pkt *rtp.Packet)

// StreamRegistry maps peer id to its inbound media. One pump goroutine runs
// per remote track and exits when the track read fails (peer gone).
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[domain.ParticipantID]*RemoteStream
	sink    PacketSink
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[domain.ParticipantID]*RemoteStream)}
}

func (r *StreamRegistry) SetSink(s PacketSink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Snapshot returns copies; callers cannot mutate registry state through it.
func (r *StreamRegistry) Snapshot() []RemoteStream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteStream, 0, len(r.streams))
	for _, s := range r.streams {
		cp := RemoteStream{PeerID: s.PeerID, Tracks: make(map[string]RemoteTrackStats, len(s.Tracks))}
		for id, t := range s.Tracks {
			cp.Tracks[id] = t
		}
		out = append(out, cp)
	}
	return out
}

func (r *StreamRegistry) Get(peer domain.ParticipantID) (RemoteStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[peer]
	if !ok {
		return RemoteStream{}, false
	}
	cp := RemoteStream{PeerID: s.PeerID, Tracks: make(map[string]RemoteTrackStats, len(s.Tracks))}
	for id, t := range s.Tracks {
		cp.Tracks[id] = t
	}
	return cp, true
}

func (r *StreamRegistry) Drop(peer domain.ParticipantID) {
	r.mu.Lock()
	delete(r.streams, peer)
	r.mu.Unlock()
}

func (r *StreamRegistry) record(peer domain.ParticipantID, track *webrtc.TrackRemote, pkt *rtp.Packet) {
	r.mu.Lock()
	s, ok := r.streams[peer]
	if !ok {
		s = &RemoteStream{PeerID: peer, Tracks: make(map[string]RemoteTrackStats)}
		r.streams[peer] = s
	}
	st := s.Tracks[track.ID()]
	st.TrackID = track.ID()
	st.Kind = track.Kind().String()
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	s.Tracks[track.ID()] = st
	sink := r.sink
	r.mu.Unlock()

	if sink != nil {
		sink(peer, track, pkt)
	}
}

// pump reads RTP from one remote track until the track ends.
func (r *StreamRegistry) pump(peer domain.ParticipantID, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("peer", string(peer)).Str("track_id", track.ID()).Msg("remote track ended")
			return
		}
		r.record(peer, track, pkt)
	}
}
