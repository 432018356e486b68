package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/auth/login"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

// Connection classes. Only users may register through the login handshake.
const (
	ClassUser   = "user"
	ClassDevice = "device"
)

// Authenticator runs the login handshake on a connection whose key is unknown.
// On success the connection is still open; on failure it has been closed.
type Authenticator interface {
	Run(ctx context.Context, conn login.Conn, ed identity.Key) (login.Result, error)
}

// GatewayConfig holds the websocket knobs. Zero values take defaults.
type GatewayConfig struct {
	// AllowedOrigins is matched against the Origin header when present.
	// "*" allows any origin. Requests without Origin (devices, CLIs) are always allowed.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	MaxFrameBytes  int64
	RateEvents     int
	RateWindow     time.Duration
}

// Gateway is the websocket entrypoint for user and device connections.
//
// It authenticates the claimed signing key, runs the login handshake for new
// users, registers the session in the Hub and hands every binary frame to the Router.
type Gateway struct {
	log        *slog.Logger
	hub        *Hub
	router     *Router
	identities identity.Store
	auth       Authenticator
	metrics    *Metrics

	allowedOrigins []string
	anyOrigin      bool
	// Derived for websocket.Accept, which checks cross-origin requests itself.
	originPatterns []string

	writeTimeout time.Duration
	maxFrame     int64
	rateEvents   int
	rateWindow   time.Duration
}

// NewGateway constructs a gateway. auth may be nil, in which case unknown users are rejected.
func NewGateway(log *slog.Logger, hub *Hub, router *Router, identities identity.Store, auth Authenticator, cfg GatewayConfig) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = maxFrameBytes
	}

	g := &Gateway{
		log:            log,
		hub:            hub,
		router:         router,
		identities:     identities,
		auth:           auth,
		metrics:        hub.metrics,
		allowedOrigins: cfg.AllowedOrigins,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
		writeTimeout:   cfg.WriteTimeout,
		maxFrame:       cfg.MaxFrameBytes,
		rateEvents:     cfg.RateEvents,
		rateWindow:     cfg.RateWindow,
	}
	for _, o := range cfg.AllowedOrigins {
		if strings.TrimSpace(o) == "*" {
			g.anyOrigin = true
		}
	}
	return g
}

// HandleUser serves GET /ws/user/v1/{public_ed}.
func (g *Gateway) HandleUser(w http.ResponseWriter, r *http.Request) {
	g.handle(w, r, ClassUser)
}

// HandleDevice serves GET /ws/device/v1/{public_ed}.
func (g *Gateway) HandleDevice(w http.ResponseWriter, r *http.Request) {
	g.handle(w, r, ClassDevice)
}

func (g *Gateway) handle(w http.ResponseWriter, r *http.Request, class string) {
	ed, err := envelope.ParseKey(r.PathValue("public_ed"))
	if err != nil {
		http.Error(w, "bad public key", http.StatusBadRequest)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	known := true
	it, err := g.identities.LookupBySigningKey(r.Context(), ed)
	switch {
	case identity.IsNotFound(err):
		known = false
		if class == ClassDevice || g.auth == nil {
			g.log.Info("ws.reject.unknown", "class", class, "public_ed", envelope.FormatKey(ed[:]), "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	case err != nil:
		g.log.Error("ws.lookup.fail", "class", class, "err", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
		// Origin was already checked above; "*" means any host.
		InsecureSkipVerify: g.anyOrigin,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.maxFrame)

	connID := NewConnID(time.Now())
	log := g.log.With("conn_id", connID, "class", class)
	ctx := r.Context()

	if !known {
		res, err := g.auth.Run(ctx, conn, ed)
		g.metrics.handshake(login.Outcome(err))
		if err != nil {
			log.Info("ws.login.fail", "err", err)
			_ = conn.CloseNow()
			return
		}
		it = identity.Identity{ID: res.ID, Email: res.Email, PublicX: res.PublicX, PublicEd: ed}
		log.Info("ws.login.graduate", "id", it.ID)
	}

	g.serve(ctx, conn, it, clientIP(r), connID, log)
}

// serve registers the session and runs the authenticated message loop until the
// peer leaves, the session is evicted or ctx ends.
func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, it identity.Identity, ip, connID string, log *slog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	t := newWSTransport(conn, g.writeTimeout)
	s := NewSession(it.ID, connID, ip, it.PublicX, it.PublicEd, t, cancel)
	g.hub.Register(s)
	log = log.With("id", s.ID)
	log.Info("ws.session.start", "ip", ip)

	defer func() {
		g.hub.Release(s)
		_ = t.Close("bye")
		log.Info("ws.session.end")
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				log.Debug("ws.read.closed", "close_status", websocket.CloseStatus(err))
			case readErrCtxDone:
				log.Debug("ws.read.cancelled")
			case readErrConnClosed:
				log.Debug("ws.read.eof")
			default:
				log.Info("ws.read.fail", "err", err)
			}
			return
		}

		g.hub.touchSession(s)

		if !rl.Allow(time.Now()) {
			g.metrics.frame("limited")
			log.Warn("ws.rate.drop", "len", len(data))
			continue
		}

		switch typ {
		case websocket.MessageBinary:
			g.router.Route(ctx, s, data)
		default:
			g.metrics.frame("text")
			log.Debug("ws.text.ignored", "len", len(data))
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || g.anyOrigin {
		return nil
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins turns the allow-list into the host
// patterns websocket.Accept matches cross-origin requests against.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
