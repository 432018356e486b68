package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	mu       sync.Mutex
	binaries [][]byte
	texts    []string

	writeErr error
	pingErr  error

	pings  atomic.Int32
	closes atomic.Int32
}

func (f *fakeTransport) WriteBinary(_ context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.binaries = append(f.binaries, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) WriteText(_ context.Context, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.texts = append(f.texts, s)
	return nil
}

func (f *fakeTransport) Ping(context.Context) error {
	f.pings.Add(1)
	return f.pingErr
}

func (f *fakeTransport) Close(string) error {
	if f.closes.Add(1) > 1 {
		return errors.New("already closed")
	}
	return nil
}

func (f *fakeTransport) Binaries() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.binaries...)
}

func (f *fakeTransport) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_760_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type peer struct {
	keys envelope.KeyPair
	ed   identity.Key
}

func newPeer(t *testing.T) peer {
	t.Helper()
	sx, err := envelope.NewSeed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	se, err := envelope.NewSeed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	kp := envelope.DeriveKeys(sx, se)
	var ed identity.Key
	copy(ed[:], kp.EdPublic)
	return peer{keys: kp, ed: ed}
}

// testSession builds a session for p and counts cancellations.
func testSession(id identity.ID, p peer) (*Session, *fakeTransport, *atomic.Int32) {
	ft := &fakeTransport{}
	var cancels atomic.Int32
	s := NewSession(id, NewConnID(time.Now()), "127.0.0.1", p.keys.XPublic, p.ed, ft, func() { cancels.Add(1) })
	return s, ft, &cancels
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
