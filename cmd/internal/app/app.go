// Package app wires the Aguardia server runtime: config, logging, stores,
// HTTP routes, the realtime gateways and the liveness monitor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/auth/login"
	"github.com/kirushik/aguardia-server/cmd/internal/command"
	"github.com/kirushik/aguardia-server/cmd/internal/mail"
	"github.com/kirushik/aguardia-server/cmd/internal/realtime"
	"github.com/kirushik/aguardia-server/cmd/internal/telemetry"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

// Version is stamped at build time with -ldflags "-X .../app.Version=...".
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// App is the server runtime. It owns the HTTP server, the realtime hub and the store lifecycle.
type App struct {
	cfg Config
	log Logger

	keys    envelope.KeyPair
	dbPool  *pgxpool.Pool
	started time.Time

	hub      *realtime.Hub
	monitor  *realtime.Monitor
	gateway  *realtime.Gateway
	registry *prometheus.Registry
}

// New constructs a fully wired App from config. Stores are migrated before it returns.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	keys, err := cfg.ServerKeys()
	if err != nil {
		return nil, err
	}

	identities, data, pool, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rtMetrics := realtime.NewMetrics(reg)

	hub := realtime.NewHub(log, realtime.WithHubMetrics(rtMetrics))
	monitor := realtime.NewMonitor(log, hub, realtime.MonitorConfig{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		PingInterval:     cfg.PingInterval,
	}, rtMetrics)

	commands, err := command.New(log, command.Config{
		Identities: identities,
		Telemetry:  data,
		Presence:   hub,
		ServerKeys: keys,
		Admins:     cfg.Admins,
		Metrics:    command.NewMetrics(reg),
	})
	if err != nil {
		closePool(pool)
		return nil, err
	}
	router := realtime.NewRouter(log, hub, keys, commands, rtMetrics)

	handshake, err := login.New(log, login.Config{
		Store:      identities,
		Mailer:     mailer,
		Challenges: login.NewChallenges(cfg.EmailCodeTTL),
		ServerKeys: keys,
		Timeout:    cfg.HandshakeTimeout,
	})
	if err != nil {
		closePool(pool)
		return nil, err
	}

	gateway := realtime.NewGateway(log, hub, router, identities, handshake, realtime.GatewayConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		WriteTimeout:   cfg.WSWriteTimeout,
		MaxFrameBytes:  cfg.WSMaxFrameBytes,
		RateEvents:     cfg.RateEvents,
		RateWindow:     cfg.RateWindow,
	})

	log.Info("crypto.keys",
		"public_x", envelope.FormatKey(keys.XPublic[:]),
		"public_ed", envelope.FormatKey(keys.EdPublic),
	)

	return &App{
		cfg:      cfg,
		log:      log,
		keys:     keys,
		dbPool:   pool,
		started:  time.Now(),
		hub:      hub,
		monitor:  monitor,
		gateway:  gateway,
		registry: reg,
	}, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)
	return WithRequestLogging(WithSecurityHeaders(mux), a.log)
}

// Run serves HTTP and runs the liveness monitor until ctx ends or either fails.
func (a *App) Run(ctx context.Context) error {
	defer closePool(a.dbPool)

	// Websocket handlers derive from BaseContext, so shutdown ends every session loop.
	// Read/write timeouts stay unset: they would cut long-lived websockets.
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", srv.Addr, "db_enabled", a.dbPool != nil, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores picks Postgres when a DSN is configured and the in-memory stores otherwise.
// The returned pool is nil in memory mode; the app owns its lifecycle.
func newStores(ctx context.Context, cfg Config, log Logger) (identity.Directory, telemetry.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), telemetry.NewMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db: %w", err)
	}

	ids, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	if err := ids.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("db: migrate identities: %w", err)
	}

	data, err := telemetry.NewPostgresStore(pool, telemetry.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	if err := data.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("db: migrate telemetry: %w", err)
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return ids, data, pool, nil
}

func newMailer(cfg Config, log Logger) (mail.Sender, error) {
	if !cfg.SMTP.Enabled() {
		log.Warn("mail.disabled.log_only")
		return mail.LogSender{Log: log}, nil
	}
	return mail.NewSMTPSender(cfg.SMTP)
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}
