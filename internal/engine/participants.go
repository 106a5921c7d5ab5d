package engine

import (
	"sync"

	"github.com/stagecast/engine/internal/domain"
	"github.com/stagecast/engine/internal/signal"
)

// roster is the local cache of session membership. The relay is
// authoritative; this exists so UI reads never block on the network.
type roster struct {
	mu   sync.RWMutex
	byID map[domain.ParticipantID]*domain.Participant
}

func newRoster() *roster {
	return &roster{byID: make(map[domain.ParticipantID]*domain.Participant)}
}

func (r *roster) upsert(p domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[p.ID]; ok {
		if p.DisplayName != "" {
			cur.DisplayName = p.DisplayName
		}
		if p.Role != "" {
			cur.Role = p.Role
		}
		return
	}
	cp := p
	if cp.Role == "" {
		cp.Role = domain.RoleAttendee
	}
	cp.AudioEnabled = true
	cp.VideoEnabled = true
	r.byID[p.ID] = &cp
}

func (r *roster) remove(id domain.ParticipantID) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *roster) setMediaState(id domain.ParticipantID, p signal.MediaStatePayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false
	}
	if p.IsMuted != nil {
		m.AudioEnabled = !*p.IsMuted
	}
	if p.VideoEnabled != nil {
		m.VideoEnabled = *p.VideoEnabled
	}
	return true
}

func (r *roster) known(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *roster) snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, *p)
	}
	return out
}
