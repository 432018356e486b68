// Package login runs the email-code handshake that registers a new user's keys.
//
// Stages: awaiting email, awaiting code, authenticated. Any message out of
// order, any failed check, and the overall deadline end the connection with
// a single {"error": ...} text frame.
package login

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/mail"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

const (
	correlatorBytes     = 32
	defaultWriteTimeout = 5 * time.Second
)

type stage uint8

const (
	stageAwaitingEmail stage = iota
	stageAwaitingCode
	stageAuthenticated
)

// Conn is the subset of *websocket.Conn the handshake needs.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Result is the identity established by a successful handshake.
type Result struct {
	ID      identity.ID
	Email   string
	PublicX identity.Key
}

// Config wires a Handshake.
type Config struct {
	Store      identity.Store
	Mailer     mail.Sender
	Challenges *Challenges
	ServerKeys envelope.KeyPair

	// Timeout bounds the whole handshake.
	Timeout      time.Duration
	WriteTimeout time.Duration
}

// Handshake runs the login protocol on unregistered user connections.
type Handshake struct {
	log *slog.Logger
	cfg Config

	serverX  string
	serverEd string
}

// New validates cfg and constructs a Handshake.
func New(log *slog.Logger, cfg Config) (*Handshake, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Store == nil {
		return nil, errors.New("login: nil identity store")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("login: nil mailer")
	}
	if cfg.Challenges == nil {
		cfg.Challenges = NewChallenges(cfg.Timeout)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Handshake{
		log:      log,
		cfg:      cfg,
		serverX:  envelope.FormatKey(cfg.ServerKeys.XPublic[:]),
		serverEd: envelope.FormatKey(cfg.ServerKeys.EdPublic),
	}, nil
}

// run is the per-connection state.
type run struct {
	h      *Handshake
	conn   Conn
	log    *slog.Logger
	ed     identity.Key
	hash   string
	stage  stage
	email  string
	code   string
	expiry time.Time

	done     atomic.Bool
	timedOut atomic.Bool
}

// Run drives the handshake on conn for the claimed signing key ed.
//
// On success the connection is left open for the caller to continue with.
// On failure the error frame has been sent and conn closed.
func (h *Handshake) Run(ctx context.Context, conn Conn, ed identity.Key) (Result, error) {
	hash, err := newCorrelator()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return Result{}, err
	}

	r := &run{
		h:      h,
		conn:   conn,
		ed:     ed,
		hash:   hash,
		stage:  stageAwaitingEmail,
		expiry: time.Now().Add(h.cfg.Timeout),
		log:    h.log.With("hash", hash[:8]),
	}

	// Reading with a deadline would tear the socket down before the timeout
	// notice could be written, so the deadline is enforced out of band.
	timer := time.AfterFunc(h.cfg.Timeout, func() {
		r.timedOut.Store(true)
		_ = r.fail(ErrTimeout)
	})
	defer timer.Stop()

	if err := r.send(ctx, v1.LoginPrompt{Action: v1.ActionLogin, Hash: hash}); err != nil {
		r.done.Store(true)
		return Result{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if r.timedOut.Load() {
				return Result{}, ErrTimeout
			}
			r.done.Store(true)
			return Result{}, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if typ != websocket.MessageText {
			continue
		}

		cmd, err := v1.DecodeLoginCommand(data)
		if err != nil {
			return Result{}, r.fail(fmt.Errorf("%w: %v", ErrBadCommand, err))
		}

		switch {
		case cmd.Email != nil:
			if err := r.onEmail(ctx, cmd.Email); err != nil {
				return Result{}, r.fail(err)
			}
		case cmd.Code != nil:
			res, err := r.onCode(ctx, cmd.Code)
			if err != nil {
				return Result{}, r.fail(err)
			}
			return res, nil
		}
	}
}

func (r *run) onEmail(ctx context.Context, c *v1.EmailCommand) error {
	if r.stage != stageAwaitingEmail {
		return ErrBadStage
	}
	if !r.verify(v1.EmailSigningPayload(r.hash, c.Email), c.Signature) {
		return ErrBadSignature
	}
	if !identity.ValidEmail(c.Email) {
		return ErrBadEmail
	}

	code, fresh, err := r.h.cfg.Challenges.Issue(c.Email)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMail, err)
	}

	action := v1.ActionCodeAlreadySent
	if fresh {
		subject, body := mail.LoginCode(code)
		mctx, cancel := context.WithDeadline(ctx, r.expiry)
		err := r.h.cfg.Mailer.Send(mctx, c.Email, subject, body)
		cancel()
		if err != nil {
			r.log.Error("login.mail.fail", "err", err)
			return fmt.Errorf("%w: %v", ErrMail, err)
		}
		action = v1.ActionCodeSent
	}

	r.email = c.Email
	r.code = code
	r.stage = stageAwaitingCode
	r.log.Info("login.code", "action", action)
	return r.send(ctx, v1.LoginPrompt{Action: action, Hash: r.hash})
}

func (r *run) onCode(ctx context.Context, c *v1.CodeCommand) (Result, error) {
	if r.stage != stageAwaitingCode {
		return Result{}, ErrBadStage
	}
	if !r.verify(v1.CodeSigningPayload(r.hash, c.Code, c.XPublic), c.Signature) {
		return Result{}, ErrBadSignature
	}
	if subtle.ConstantTimeCompare([]byte(c.Code), []byte(r.code)) != 1 {
		return Result{}, ErrBadCode
	}
	x, err := envelope.ParseKey(c.XPublic)
	if err != nil {
		return Result{}, fmt.Errorf("%w: x_public: %v", ErrBadCommand, err)
	}

	id, err := r.h.cfg.Store.UpsertByEmail(ctx, r.email, x, r.ed)
	if err != nil {
		r.log.Error("login.store.fail", "err", err)
		return Result{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// The timeout may have fired while storing; it owns the connection then.
	if !r.done.CompareAndSwap(false, true) {
		return Result{}, ErrTimeout
	}
	r.stage = stageAuthenticated

	if err := r.send(ctx, v1.LoginSuccess{
		Action:   v1.ActionLoginSuccess,
		MyID:     uint32(id),
		ServerX:  r.h.serverX,
		ServerEd: r.h.serverEd,
	}); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	r.log.Info("login.success", "id", id)
	return Result{ID: id, Email: r.email, PublicX: x}, nil
}

// fail sends the error frame and closes, once. It returns err for convenience.
func (r *run) fail(err error) error {
	if !r.done.CompareAndSwap(false, true) {
		return err
	}
	msg := wireMessage(err)
	r.log.Info("login.fail", "reason", msg, "err", err)

	ctx, cancel := context.WithTimeout(context.Background(), r.h.cfg.WriteTimeout)
	defer cancel()
	b, _ := json.Marshal(v1.ErrorReply{Error: msg})
	_ = r.conn.Write(ctx, websocket.MessageText, b)
	_ = r.conn.Close(websocket.StatusPolicyViolation, msg)
	return err
}

func (r *run) send(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, r.h.cfg.WriteTimeout)
	defer cancel()
	return r.conn.Write(wctx, websocket.MessageText, b)
}

func (r *run) verify(payload, sigHex string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(r.ed[:]), []byte(payload), sig)
}

// newCorrelator returns 32 random bytes as uppercase hex.
func newCorrelator() (string, error) {
	b := make([]byte, correlatorBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}
