// Package command implements the server side of authenticated sessions: the
// replies to envelopes a client addresses to the server itself.
//
// Command 0x00 carries a JSON object with an "action" field. Command 0x10
// carries a telemetry record to store. Replies are JSON bodies; failures are
// reported as {"error": "..."} and never end the connection.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kirushik/aguardia-server/cmd/identity"
	"github.com/kirushik/aguardia-server/cmd/internal/telemetry"
	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

// Presence is the live-session view commands need.
type Presence interface {
	IsLive(id identity.ID, x, ed identity.Key) bool
	DeliverBinary(ctx context.Context, id identity.ID, msg []byte) bool
}

// Config wires a Dispatcher.
type Config struct {
	Identities identity.Directory
	Telemetry  telemetry.Store
	Presence   Presence
	ServerKeys envelope.KeyPair
	Admins     []identity.ID
	Metrics    *Metrics
}

// Dispatcher routes server-directed commands.
type Dispatcher struct {
	log        *slog.Logger
	identities identity.Directory
	telemetry  telemetry.Store
	presence   Presence
	keys       envelope.KeyPair
	admins     map[identity.ID]struct{}
	metrics    *Metrics
	now        func() time.Time
}

// New validates cfg and constructs a Dispatcher.
func New(log *slog.Logger, cfg Config) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Identities == nil {
		return nil, errors.New("command: nil identity directory")
	}
	if cfg.Telemetry == nil {
		return nil, errors.New("command: nil telemetry store")
	}
	if cfg.Presence == nil {
		return nil, errors.New("command: nil presence")
	}

	admins := make(map[identity.ID]struct{}, len(cfg.Admins))
	for _, id := range cfg.Admins {
		admins[id] = struct{}{}
	}
	return &Dispatcher{
		log:        log,
		identities: cfg.Identities,
		telemetry:  cfg.Telemetry,
		presence:   cfg.Presence,
		keys:       cfg.ServerKeys,
		admins:     admins,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}, nil
}

// Dispatch returns the reply body for one command from sender.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd byte, sender identity.ID, body []byte) []byte {
	switch cmd {
	case v1.CommandJSON:
		return d.dispatchJSON(ctx, sender, body)
	case v1.CommandIngest:
		return d.ingest(ctx, sender, body)
	default:
		d.metrics.command("unknown", "error")
		d.log.Info("command.invalid", "cmd", cmd, "sender", sender)
		return errorBody("Invalid cmd")
	}
}

func (d *Dispatcher) dispatchJSON(ctx context.Context, sender identity.ID, body []byte) []byte {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		d.metrics.command("invalid", "error")
		return errorBody("Invalid JSON")
	}
	if req.Action == "" {
		d.metrics.command("invalid", "error")
		return errorBody("Invalid Key 'action'")
	}

	h, ok := d.actions()[req.Action]
	if !ok {
		d.metrics.command("unknown", "error")
		d.log.Debug("command.unknown", "action", req.Action, "sender", sender)
		return errorBody("Not implemented")
	}

	out, err := h(ctx, sender, req)
	if err != nil {
		d.metrics.command(req.Action, "error")
		d.log.Info("command.fail", "action", req.Action, "sender", sender, "err", err)
		return errorBody(message(err))
	}

	b, err := json.Marshal(out)
	if err != nil {
		d.metrics.command(req.Action, "error")
		d.log.Error("command.encode.fail", "action", req.Action, "err", err)
		return errorBody("encode error")
	}
	d.metrics.command(req.Action, "ok")
	d.log.Debug("command.ok", "action", req.Action, "sender", sender)
	return b
}

func (d *Dispatcher) isAdmin(id identity.ID) bool {
	_, ok := d.admins[id]
	return ok
}

// failure is a client-visible error message.
type failure string

func (f failure) Error() string { return string(f) }

// message maps err to the text placed in {"error": ...}.
func message(err error) string {
	var f failure
	if errors.As(err, &f) {
		return string(f)
	}
	return "DB err: " + err.Error()
}

func errorBody(msg string) []byte {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{msg})
	return b
}
