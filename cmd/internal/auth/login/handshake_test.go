package login

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

// pipeConn is an in-memory Conn: the test pushes client frames and reads server frames.
type pipeConn struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (c *pipeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.MessageText, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *pipeConn) Write(ctx context.Context, _ websocket.MessageType, p []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- append([]byte(nil), p...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Close(websocket.StatusCode, string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string // html bodies
	err  error
}

func (m *recordingMailer) Send(_ context.Context, _, _, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no mail sent")
	}
	body := m.sent[len(m.sent)-1]
	i := strings.Index(body, "<b>")
	return body[i+3 : i+9]
}

type client struct {
	edSK ed25519.PrivateKey
	edPK identity.Key
	xPK  identity.Key
}

func newClient(t *testing.T) client {
	t.Helper()
	sx, _ := envelope.NewSeed()
	se, _ := envelope.NewSeed()
	kp := envelope.DeriveKeys(sx, se)
	var ed identity.Key
	copy(ed[:], kp.EdPublic)
	return client{edSK: kp.EdSecret, edPK: ed, xPK: kp.XPublic}
}

func (c client) sign(s string) string {
	return hex.EncodeToString(ed25519.Sign(c.edSK, []byte(s)))
}

type harness struct {
	t      *testing.T
	h      *Handshake
	store  *identity.MemoryStore
	mailer *recordingMailer
}

func newHarness(t *testing.T, timeout time.Duration, ch *Challenges) *harness {
	t.Helper()
	sx, _ := envelope.NewSeed()
	se, _ := envelope.NewSeed()
	st := identity.NewMemoryStore()
	ml := &recordingMailer{}
	if ch == nil {
		ch = NewChallenges(time.Minute)
	}
	h, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Store:      st,
		Mailer:     ml,
		Challenges: ch,
		ServerKeys: envelope.DeriveKeys(sx, se),
		Timeout:    timeout,
	})
	if err != nil {
		t.Fatalf("new handshake: %v", err)
	}
	return &harness{t: t, h: h, store: st, mailer: ml}
}

type outcome struct {
	res Result
	err error
}

func (hs *harness) start(c client) (*pipeConn, <-chan outcome, string) {
	hs.t.Helper()
	conn := newPipeConn()
	done := make(chan outcome, 1)
	go func() {
		res, err := hs.h.Run(context.Background(), conn, c.edPK)
		done <- outcome{res, err}
	}()

	var prompt v1.LoginPrompt
	mustReadJSON(hs.t, conn, &prompt)
	if prompt.Action != v1.ActionLogin || len(prompt.Hash) != 64 || strings.ToUpper(prompt.Hash) != prompt.Hash {
		hs.t.Fatalf("unexpected prompt %+v", prompt)
	}
	return conn, done, prompt.Hash
}

func mustReadJSON(t *testing.T, c *pipeConn, v any) {
	t.Helper()
	select {
	case b := <-c.out:
		if err := json.Unmarshal(b, v); err != nil {
			t.Fatalf("decode %s: %v", b, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server frame")
	}
}

func mustSend(t *testing.T, c *pipeConn, cmd v1.LoginCommand) {
	t.Helper()
	b, err := cmd.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.in <- b
}

func emailCmd(c client, hash, email string) v1.LoginCommand {
	return v1.LoginCommand{Email: &v1.EmailCommand{Email: email, Signature: c.sign(v1.EmailSigningPayload(hash, email))}}
}

func codeCmd(c client, hash, code string) v1.LoginCommand {
	x := envelope.FormatKey(c.xPK[:])
	return v1.LoginCommand{Code: &v1.CodeCommand{Code: code, XPublic: x, Signature: c.sign(v1.CodeSigningPayload(hash, code, x))}}
}

func expectFailure(t *testing.T, conn *pipeConn, done <-chan outcome, wantMsg string, wantErr error) {
	t.Helper()
	var reply v1.ErrorReply
	mustReadJSON(t, conn, &reply)
	if reply.Error != wantMsg {
		t.Fatalf("error message: got %q want %q", reply.Error, wantMsg)
	}
	select {
	case o := <-done:
		if !errors.Is(o.err, wantErr) {
			t.Fatalf("Run error: got %v want %v", o.err, wantErr)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
	if !conn.isClosed() {
		t.Fatalf("connection left open after failure")
	}
}

func TestHandshake_Success(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	var sent v1.LoginPrompt
	mustReadJSON(t, conn, &sent)
	if sent.Action != v1.ActionCodeSent || sent.Hash != hash {
		t.Fatalf("unexpected reply %+v", sent)
	}

	mustSend(t, conn, codeCmd(c, hash, hs.mailer.lastCode(t)))
	var ok v1.LoginSuccess
	mustReadJSON(t, conn, &ok)
	if ok.Action != v1.ActionLoginSuccess || ok.MyID == 0 || len(ok.ServerX) != 64 || len(ok.ServerEd) != 64 {
		t.Fatalf("unexpected success %+v", ok)
	}

	o := <-done
	if o.err != nil {
		t.Fatalf("Run: %v", o.err)
	}
	if uint32(o.res.ID) != ok.MyID || o.res.PublicX != c.xPK || o.res.Email != "a@b.co" {
		t.Fatalf("unexpected result %+v", o.res)
	}
	if conn.isClosed() {
		t.Fatalf("successful handshake must leave the connection open")
	}

	it, err := hs.store.LookupBySigningKey(context.Background(), c.edPK)
	if err != nil || it.ID != o.res.ID {
		t.Fatalf("identity not stored: %+v %v", it, err)
	}
}

func TestHandshake_CodeBeforeEmail(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, codeCmd(c, hash, "123456"))
	expectFailure(t, conn, done, v1.ErrMsgStage, ErrBadStage)
}

func TestHandshake_SecondEmail(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	var sent v1.LoginPrompt
	mustReadJSON(t, conn, &sent)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	expectFailure(t, conn, done, v1.ErrMsgStage, ErrBadStage)
}

func TestHandshake_BadSignature(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c, other := newClient(t), newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(other, hash, "a@b.co"))
	expectFailure(t, conn, done, v1.ErrMsgSignature, ErrBadSignature)
	if hs.mailer.count() != 0 {
		t.Fatalf("mail sent despite bad signature")
	}
}

func TestHandshake_BadEmailFormat(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "nobody"))
	expectFailure(t, conn, done, v1.ErrMsgEmailFormat, ErrBadEmail)
}

func TestHandshake_WrongCode(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	var sent v1.LoginPrompt
	mustReadJSON(t, conn, &sent)

	wrong := "000000"
	if hs.mailer.lastCode(t) == wrong {
		wrong = "000001"
	}
	mustSend(t, conn, codeCmd(c, hash, wrong))
	expectFailure(t, conn, done, v1.ErrMsgCode, ErrBadCode)
}

func TestHandshake_CodeSignatureCheckedFirst(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c, other := newClient(t), newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	var sent v1.LoginPrompt
	mustReadJSON(t, conn, &sent)

	// Right code, wrong signer.
	mustSend(t, conn, codeCmd(other, hash, hs.mailer.lastCode(t)))
	expectFailure(t, conn, done, v1.ErrMsgSignature, ErrBadSignature)
}

func TestHandshake_InvalidJSON(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	c := newClient(t)
	conn, done, _ := hs.start(c)

	conn.in <- []byte(`{"type":"password"}`)
	expectFailure(t, conn, done, v1.ErrMsgCommandFormat, ErrBadCommand)
}

func TestHandshake_ReusedChallenge(t *testing.T) {
	ch := NewChallenges(time.Minute)
	hs := newHarness(t, time.Minute, ch)

	c1 := newClient(t)
	conn1, done1, hash1 := hs.start(c1)
	mustSend(t, conn1, emailCmd(c1, hash1, "a@b.co"))
	var r1 v1.LoginPrompt
	mustReadJSON(t, conn1, &r1)
	if r1.Action != v1.ActionCodeSent {
		t.Fatalf("first: %+v", r1)
	}
	first := hs.mailer.lastCode(t)
	_ = conn1.Close(websocket.StatusNormalClosure, "")
	<-done1

	c2 := newClient(t)
	conn2, done2, hash2 := hs.start(c2)
	mustSend(t, conn2, emailCmd(c2, hash2, "a@b.co"))
	var r2 v1.LoginPrompt
	mustReadJSON(t, conn2, &r2)
	if r2.Action != v1.ActionCodeAlreadySent {
		t.Fatalf("second: %+v", r2)
	}
	if hs.mailer.count() != 1 {
		t.Fatalf("pending code was mailed again")
	}

	// The pending code still completes the second handshake.
	mustSend(t, conn2, codeCmd(c2, hash2, first))
	var ok v1.LoginSuccess
	mustReadJSON(t, conn2, &ok)
	if ok.Action != v1.ActionLoginSuccess {
		t.Fatalf("unexpected %+v", ok)
	}
	if o := <-done2; o.err != nil {
		t.Fatalf("Run: %v", o.err)
	}
}

func TestHandshake_MailFailure(t *testing.T) {
	hs := newHarness(t, time.Minute, nil)
	hs.mailer.err = errors.New("smtp down")
	c := newClient(t)
	conn, done, hash := hs.start(c)

	mustSend(t, conn, emailCmd(c, hash, "a@b.co"))
	expectFailure(t, conn, done, v1.ErrMsgEmail, ErrMail)
}

func TestHandshake_Timeout(t *testing.T) {
	hs := newHarness(t, 100*time.Millisecond, nil)
	c := newClient(t)
	conn, done, _ := hs.start(c)

	expectFailure(t, conn, done, v1.ErrMsgTimeout, ErrTimeout)
}

func TestOutcome(t *testing.T) {
	if Outcome(nil) != "success" || Outcome(ErrTimeout) != "timeout" || Outcome(ErrBadStage) != "bad_stage" {
		t.Fatalf("unexpected outcome labels")
	}
}
