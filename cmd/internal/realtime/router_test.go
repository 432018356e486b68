package realtime

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

type dispatchCall struct {
	cmd    byte
	sender identity.ID
	body   string
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	reply []byte
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmd byte, sender identity.ID, body []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{cmd: cmd, sender: sender, body: string(body)})
	return d.reply
}

func (d *recordingDispatcher) Calls() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

type routerFixture struct {
	clk    *testClock
	hub    *Hub
	router *Router
	disp   *recordingDispatcher
	server peer

	a, b   peer
	sa, sb *Session
	ta, tb *fakeTransport
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		clk:    newTestClock(),
		disp:   &recordingDispatcher{reply: []byte(`{"ok":1}`)},
		server: newPeer(t),
		a:      newPeer(t),
		b:      newPeer(t),
	}
	f.hub = NewHub(discardLogger(), WithHubClock(f.clk.Now))
	f.router = NewRouter(discardLogger(), f.hub, f.server.keys, f.disp, nil)

	f.sa, f.ta, _ = testSession(11, f.a)
	f.sb, f.tb, _ = testSession(22, f.b)
	f.hub.Register(f.sa)
	f.hub.Register(f.sb)
	return f
}

// sealToServer builds a server-directed frame from a.
func (f *routerFixture) sealToServer(t *testing.T, from peer, inner v1.Inner, at time.Time) []byte {
	t.Helper()
	env, err := envelope.Seal(inner.Bytes(), from.keys.XSecret, from.keys.EdSecret, f.server.keys.XPublic, uint64(at.Unix()))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return v1.Frame(v1.ServerAddress, env)
}

func TestRouter_RelayReaddressesToSender(t *testing.T) {
	f := newRouterFixture(t)

	frame := v1.Frame(22, []byte("opaque payload"))
	f.router.Route(context.Background(), f.sa, frame)

	got := f.tb.Binaries()
	if len(got) != 1 {
		t.Fatalf("expected one relayed frame, got %d", len(got))
	}
	if src := binary.LittleEndian.Uint32(got[0]); src != 11 {
		t.Fatalf("relayed frame addressed from %d, want 11", src)
	}
	if string(got[0][4:]) != "opaque payload" {
		t.Fatalf("payload altered: %q", got[0][4:])
	}
	if len(f.ta.Binaries()) != 0 || len(f.ta.Texts()) != 0 {
		t.Fatalf("sender received unexpected frames")
	}
	// The caller's buffer is untouched.
	if binary.LittleEndian.Uint32(frame) != 22 {
		t.Fatalf("input frame mutated")
	}
}

func TestRouter_RelayFailureNotifiesSender(t *testing.T) {
	f := newRouterFixture(t)

	f.router.Route(context.Background(), f.sa, v1.Frame(99, []byte("x")))

	if got := f.ta.Texts(); len(got) != 1 || got[0] != v1.RouteFailedText {
		t.Fatalf("expected routing failure text, got %v", got)
	}
}

func TestRouter_ShortFrameDropped(t *testing.T) {
	f := newRouterFixture(t)

	for _, frame := range [][]byte{nil, {0}, {22, 0, 0, 0}} {
		f.router.Route(context.Background(), f.sa, frame)
	}
	if len(f.tb.Binaries()) != 0 || len(f.ta.Texts()) != 0 || len(f.disp.Calls()) != 0 {
		t.Fatalf("short frames must be dropped silently")
	}
}

func TestRouter_ServerRoundTrip(t *testing.T) {
	f := newRouterFixture(t)

	in := v1.Inner{MessageID: 0x1234, Command: v1.CommandJSON, Body: []byte(`{"action":"status"}`)}
	f.router.Route(context.Background(), f.sa, f.sealToServer(t, f.a, in, f.clk.Now()))

	calls := f.disp.Calls()
	if len(calls) != 1 || calls[0].cmd != v1.CommandJSON || calls[0].sender != 11 || calls[0].body != `{"action":"status"}` {
		t.Fatalf("unexpected dispatch %+v", calls)
	}

	out := f.ta.Binaries()
	if len(out) != 1 {
		t.Fatalf("expected one reply, got %d", len(out))
	}
	if dst, _ := v1.Destination(out[0]); dst != v1.ServerAddress {
		t.Fatalf("reply must carry the zero prefix, got %d", dst)
	}
	plain, err := envelope.OpenAt(out[0][v1.AddressSize:], f.a.keys.XSecret, f.server.keys.XPublic, f.server.keys.EdPublic, 0, time.Now())
	if err != nil {
		t.Fatalf("open reply: %v", err)
	}
	reply, err := v1.ParseInner(plain)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if reply.MessageID != 0x1234 || reply.Command != v1.CommandReply || string(reply.Body) != `{"ok":1}` {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestRouter_StaleNonceGetsResyncHint(t *testing.T) {
	f := newRouterFixture(t)

	in := v1.Inner{MessageID: 1, Command: v1.CommandJSON, Body: []byte(`{}`)}
	f.router.Route(context.Background(), f.sa, f.sealToServer(t, f.a, in, f.clk.Now().Add(-time.Minute)))

	want := v1.TimestampError(f.clk.Now().Unix())
	if got := f.ta.Texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("expected %q, got %v", want, got)
	}
	if len(f.disp.Calls()) != 0 {
		t.Fatalf("stale envelope reached the dispatcher")
	}
}

func TestRouter_ForgedOrMalformedEnvelopeDropped(t *testing.T) {
	f := newRouterFixture(t)
	now := f.clk.Now()
	in := v1.Inner{MessageID: 1, Command: v1.CommandJSON, Body: []byte(`{}`)}

	// Sealed by b but arriving on a's session: signature does not verify under a's key.
	f.router.Route(context.Background(), f.sa, f.sealToServer(t, f.b, in, now))

	// Too short to be an envelope.
	f.router.Route(context.Background(), f.sa, v1.Frame(v1.ServerAddress, []byte("tiny")))

	// Valid envelope whose plaintext is shorter than the inner header.
	env, err := envelope.Seal([]byte{1, 2}, f.a.keys.XSecret, f.a.keys.EdSecret, f.server.keys.XPublic, uint64(now.Unix()))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	f.router.Route(context.Background(), f.sa, v1.Frame(v1.ServerAddress, env))

	if len(f.disp.Calls()) != 0 || len(f.ta.Binaries()) != 0 || len(f.ta.Texts()) != 0 {
		t.Fatalf("bad envelopes must be dropped silently")
	}
}
