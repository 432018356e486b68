package realtime

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

// Hub is the authoritative registry of live sessions, at most one per identity.
//
// The lock is never held across network I/O: delivery copies the transport
// handle out under the read lock and writes after releasing it.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[identity.ID]*Session
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubClock overrides the time source (tests).
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// WithHubMetrics attaches collectors.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:      log,
		now:      time.Now,
		sessions: make(map[identity.ID]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register inserts s, replacing any session already held for s.ID.
// The replaced session is returned but not closed: the newest registration wins.
func (h *Hub) Register(s *Session) (replaced *Session) {
	now := h.now()

	h.mu.Lock()
	s.heartbeat = now
	s.pinged = now
	replaced = h.sessions[s.ID]
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.setSessions(n)
	if replaced != nil && replaced != s {
		h.log.Info("hub.register.replaced", "id", s.ID, "conn_id", s.ConnID, "old_conn_id", replaced.ConnID)
	} else {
		h.log.Debug("hub.register", "id", s.ID, "conn_id", s.ConnID, "ip", s.IP, "live", n)
	}
	return replaced
}

// Deregister removes the session held for id. Unknown ids are a no-op.
func (h *Hub) Deregister(id identity.ID) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()

	if ok {
		h.metrics.setSessions(n)
		h.log.Debug("hub.deregister", "id", id, "live", n)
	}
}

// Release removes s only if it is still the registered session for its id,
// so a superseded connection exiting late cannot evict its replacement.
func (h *Hub) Release(s *Session) bool {
	if s == nil {
		return false
	}
	h.mu.Lock()
	cur, ok := h.sessions[s.ID]
	if ok && cur == s {
		delete(h.sessions, s.ID)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if ok && cur == s {
		h.metrics.setSessions(n)
		h.log.Debug("hub.deregister", "id", s.ID, "conn_id", s.ConnID, "live", n)
		return true
	}
	return false
}

// TouchHeartbeat records inbound activity for id. It also pushes back the next server ping.
func (h *Hub) TouchHeartbeat(id identity.ID) {
	now := h.now()
	h.mu.Lock()
	if s, ok := h.sessions[id]; ok {
		s.heartbeat = now
		s.pinged = now
	}
	h.mu.Unlock()
}

// IsLive reports whether id has a session registered with exactly these keys.
func (h *Hub) IsLive(id identity.ID, x, ed identity.Key) bool {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return s.PeerX == x && bytes.Equal(s.PeerEd, ed[:])
}

// Lookup returns the session registered for id.
func (h *Hub) Lookup(id identity.ID) (*Session, bool) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	return s, ok
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// DeliverBinary writes msg to id's transport. False if id is absent or the write fails.
func (h *Hub) DeliverBinary(ctx context.Context, id identity.ID, msg []byte) bool {
	s, ok := h.Lookup(id)
	if !ok {
		return false
	}
	if err := s.Transport.WriteBinary(ctx, msg); err != nil {
		h.log.Info("hub.deliver.fail", "id", id, "conn_id", s.ConnID, "err", err)
		return false
	}
	return true
}

// DeliverText is DeliverBinary for text frames.
func (h *Hub) DeliverText(ctx context.Context, id identity.ID, msg string) bool {
	s, ok := h.Lookup(id)
	if !ok {
		return false
	}
	if err := s.Transport.WriteText(ctx, msg); err != nil {
		h.log.Info("hub.deliver.fail", "id", id, "conn_id", s.ConnID, "err", err)
		return false
	}
	return true
}

// HubStatus is the registry's part of the /status document.
type HubStatus struct {
	Websockets int
	Heartbeats int
	ServerPing int
	Loops      int
}

// Status snapshots registry counts. All four are equal because sessions are stored as one unit.
func (h *Hub) Status() HubStatus {
	n := h.Len()
	return HubStatus{Websockets: n, Heartbeats: n, ServerPing: n, Loops: n}
}

// scan splits sessions into those past the heartbeat timeout and those due a ping.
// A session appears in at most one of the two lists.
func (h *Hub) scan(now time.Time, heartbeatTimeout, pingEvery time.Duration) (expired, due []*Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.sessions {
		switch {
		case now.Sub(s.heartbeat) > heartbeatTimeout:
			expired = append(expired, s)
		case now.Sub(s.pinged) > pingEvery:
			due = append(due, s)
		}
	}
	return expired, due
}

// markPinged sets the last-ping instant if s is still registered.
func (h *Hub) markPinged(s *Session, at time.Time) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID]; ok && cur == s {
		s.pinged = at
	}
	h.mu.Unlock()
}

// touchSession is TouchHeartbeat bound to one specific session.
func (h *Hub) touchSession(s *Session) {
	now := h.now()
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID]; ok && cur == s {
		s.heartbeat = now
		s.pinged = now
	}
	h.mu.Unlock()
}
