package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

// Dispatcher is the application command layer.
// It returns the reply body for one server-directed command; it never fails the connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd byte, sender identity.ID, body []byte) []byte
}

// Router decides, per inbound binary frame, between relaying and opening it for the server.
type Router struct {
	log        *slog.Logger
	hub        *Hub
	keys       envelope.KeyPair
	dispatcher Dispatcher
	metrics    *Metrics
	skew       time.Duration
	now        func() time.Time
}

// NewRouter constructs a Router. keys are the server's own key pair.
func NewRouter(log *slog.Logger, hub *Hub, keys envelope.KeyPair, d Dispatcher, m *Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		log:        log,
		hub:        hub,
		keys:       keys,
		dispatcher: d,
		metrics:    m,
		skew:       serverEnvelopeSkew,
		now:        hub.now,
	}
}

// Route handles one binary frame from s. Failures are reported to s or dropped; none end the loop.
func (rt *Router) Route(ctx context.Context, s *Session, frame []byte) {
	dst, err := v1.Destination(frame)
	if err != nil {
		rt.metrics.frame("malformed")
		rt.log.Debug("route.drop.short", "id", s.ID, "len", len(frame))
		return
	}

	if dst != v1.ServerAddress {
		rt.relay(ctx, s, identity.ID(dst), frame)
		return
	}
	rt.serve(ctx, s, frame[v1.AddressSize:])
}

func (rt *Router) relay(ctx context.Context, s *Session, dst identity.ID, frame []byte) {
	rt.metrics.frame("relay")

	out := v1.Readdress(frame, uint32(s.ID))
	if rt.hub.DeliverBinary(ctx, dst, out) {
		rt.log.Debug("relay.ok", "from", s.ID, "to", dst, "len", len(frame))
		return
	}

	rt.metrics.relayFailed()
	rt.log.Info("relay.fail", "from", s.ID, "to", dst)
	if err := s.Transport.WriteText(ctx, v1.RouteFailedText); err != nil {
		rt.log.Debug("relay.notify.fail", "id", s.ID, "err", err)
	}
}

func (rt *Router) serve(ctx context.Context, s *Session, env []byte) {
	rt.metrics.frame("server")

	now := rt.now()
	plain, err := envelope.OpenAt(env, rt.keys.XSecret, s.PeerX, s.PeerEd, rt.skew, now)
	switch {
	case errors.Is(err, envelope.ErrBadNonce):
		rt.metrics.reject("nonce")
		rt.log.Info("server.envelope.bad_nonce", "id", s.ID)
		if werr := s.Transport.WriteText(ctx, v1.TimestampError(now.Unix())); werr != nil {
			rt.log.Debug("server.resync.fail", "id", s.ID, "err", werr)
		}
		return
	case err != nil:
		rt.metrics.reject(rejectReason(err))
		rt.log.Info("server.envelope.drop", "id", s.ID, "err", err)
		return
	case len(plain) == 0:
		rt.metrics.reject("empty")
		rt.log.Info("server.envelope.drop", "id", s.ID, "err", "empty plaintext")
		return
	}

	in, err := v1.ParseInner(plain)
	if err != nil {
		rt.metrics.reject("format")
		rt.log.Info("server.envelope.drop", "id", s.ID, "err", err)
		return
	}

	body := rt.dispatcher.Dispatch(ctx, in.Command, s.ID, in.Body)

	reply := v1.Inner{MessageID: in.MessageID, Command: v1.CommandReply, Body: body}
	sealed, err := envelope.Seal(reply.Bytes(), rt.keys.XSecret, rt.keys.EdSecret, s.PeerX, uint64(rt.now().Unix()))
	if err != nil {
		rt.log.Error("server.seal.fail", "id", s.ID, "err", err)
		return
	}
	if err := s.Transport.WriteBinary(ctx, v1.Frame(v1.ServerAddress, sealed)); err != nil {
		rt.log.Info("server.reply.fail", "id", s.ID, "err", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, envelope.ErrBadSignature):
		return "signature"
	case errors.Is(err, envelope.ErrBadFormat):
		return "format"
	case errors.Is(err, envelope.ErrDecrypt):
		return "decrypt"
	default:
		return "other"
	}
}
