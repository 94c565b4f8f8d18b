package signaling

import "sync"

// Conn is the transport-side handle for one admitted connection. Implemented
// by the websocket adapter in production and by in-memory fakes in tests.
type Conn interface {
	Send(v any) error
}

// Peer is one admitted connection bound to exactly one (session, participant)
// pair.
type Peer struct {
	SessionID     string
	ParticipantID string
	UserID        string
	TokenHash     string
	Conn          Conn
}

func (p *Peer) Ref() PeerRef {
	return PeerRef{UserID: p.UserID, ParticipantID: p.ParticipantID}
}

// Registry is the routing table for live connections. It is injected into
// the gateway so a clustered implementation (pub/sub fan-out) can replace the
// in-process one without touching admission or relay logic.
type Registry interface {
	Register(p *Peer)
	Remove(sessionID, participantID string)
	Get(sessionID, participantID string) (*Peer, bool)
	GetByUser(sessionID, userID string) (*Peer, bool)
	Peers(sessionID string) []*Peer
}

type sessionPeers struct {
	byParticipant map[string]*Peer
	byUser        map[string]*Peer
}

// MemoryRegistry is the single-process routing table. All mutations are
// single-key, so one mutex over the two-level map is enough.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionPeers
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*sessionPeers)}
}

func (r *MemoryRegistry) Register(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[p.SessionID]
	if !ok {
		entry = &sessionPeers{
			byParticipant: make(map[string]*Peer),
			byUser:        make(map[string]*Peer),
		}
		r.sessions[p.SessionID] = entry
	}
	// A reconnect for the same participant replaces the stale handle.
	if old, ok := entry.byParticipant[p.ParticipantID]; ok {
		delete(entry.byUser, old.UserID)
	}
	entry.byParticipant[p.ParticipantID] = p
	entry.byUser[p.UserID] = p
}

func (r *MemoryRegistry) Remove(sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	p, ok := entry.byParticipant[participantID]
	if !ok {
		return
	}
	delete(entry.byParticipant, participantID)
	delete(entry.byUser, p.UserID)
	if len(entry.byParticipant) == 0 {
		delete(r.sessions, sessionID)
	}
}

func (r *MemoryRegistry) Get(sessionID, participantID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	p, ok := entry.byParticipant[participantID]
	return p, ok
}

func (r *MemoryRegistry) GetByUser(sessionID, userID string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	p, ok := entry.byUser[userID]
	return p, ok
}

func (r *MemoryRegistry) Peers(sessionID string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	peers := make([]*Peer, 0, len(entry.byParticipant))
	for _, p := range entry.byParticipant {
		peers = append(peers, p)
	}
	return peers
}
