package realtime

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
)

// Transport is the write side of one live connection.
// Implementations must be safe for concurrent use.
type Transport interface {
	WriteBinary(ctx context.Context, b []byte) error
	WriteText(ctx context.Context, s string) error
	// Ping blocks until the peer answers or ctx ends.
	Ping(ctx context.Context) error
	// Close is best-effort and idempotent.
	Close(reason string) error
}

// Session is the in-memory record of one authenticated connection.
//
// Identity and keys are fixed at construction. Liveness timestamps are owned
// by the Hub and only read or written under its lock.
type Session struct {
	ID        identity.ID
	ConnID    string
	IP        string
	PeerX     identity.Key
	PeerEd    ed25519.PublicKey
	Transport Transport

	heartbeat time.Time
	pinged    time.Time

	cancel     context.CancelFunc
	cancelOnce sync.Once
}

// NewSession builds a session. cancel stops the connection's message loop.
func NewSession(id identity.ID, connID, ip string, peerX identity.Key, peerEd identity.Key, t Transport, cancel context.CancelFunc) *Session {
	ed := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(ed, peerEd[:])
	return &Session{
		ID:        id,
		ConnID:    connID,
		IP:        ip,
		PeerX:     peerX,
		PeerEd:    ed,
		Transport: t,
		cancel:    cancel,
	}
}

// Cancel invokes the cancellation handle at most once.
func (s *Session) Cancel() {
	if s == nil {
		return
	}
	s.cancelOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
