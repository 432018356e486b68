// Package main provides a CI-friendly WebSocket smoke test for a running Aguardia server.
//
// It validates:
//   - the upgrade for an already registered signing key
//   - a server-directed {"action":"status"} envelope
//   - a sealed 0x01 reply carrying the same message id and body true
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/kirushik/aguardia-server/cmd/security/envelope"
	v1 "github.com/kirushik/aguardia-server/shared/contracts/realtime/v1"
)

const (
	maxReadBytes = 1 << 20 // 1MiB
	smokeMsgID   = 0x5A17
	maxSkew      = 30 * time.Second
)

func main() {
	var (
		baseURL  = flag.String("url", "ws://127.0.0.1:8080/ws/device/v1", "WebSocket URL without the key segment")
		origin   = flag.String("origin", "", "Origin header to send (browser-like WS handshake)")
		seedX    = flag.String("seed_x", "", "hex X25519 seed of a registered device or user")
		seedEd   = flag.String("seed_ed", "", "hex Ed25519 seed of a registered device or user")
		serverX  = flag.String("server_x", "", "server public X25519 key (hex)")
		serverEd = flag.String("server_ed", "", "server public Ed25519 key (hex)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	me := envelope.DeriveKeys(mustKey("seed_x", *seedX), mustKey("seed_ed", *seedEd))
	srvX := mustKey("server_x", *serverX)
	srvEd := mustKey("server_ed", *serverEd)

	wsURL := strings.TrimRight(*baseURL, "/") + "/" + envelope.FormatKey(me.EdPublic)
	root := context.Background()

	conn := mustConnect(root, wsURL, *origin, *timeout)
	defer closeWS(conn)

	if *verbose {
		fmt.Printf("connected: %s\n", wsURL)
	}

	inner := v1.Inner{MessageID: smokeMsgID, Command: v1.CommandJSON, Body: []byte(`{"action":"status"}`)}
	env, err := envelope.Seal(inner.Bytes(), me.XSecret, me.EdSecret, srvX, envelope.Now())
	if err != nil {
		fatalf("seal: %v", err)
	}
	mustWrite(root, conn, v1.Frame(v1.ServerAddress, env), *timeout)

	reply := mustReadReply(root, conn, *timeout)
	plain, err := envelope.Open(reply, me.XSecret, srvX, srvEd[:], maxSkew)
	if err != nil {
		fatalf("open reply: %v", err)
	}
	got, err := v1.ParseInner(plain)
	if err != nil {
		fatalf("parse reply: %v", err)
	}
	if got.MessageID != smokeMsgID || got.Command != v1.CommandReply {
		fatalf("unexpected reply header: id=%#x cmd=%#x", got.MessageID, got.Command)
	}
	if strings.TrimSpace(string(got.Body)) != "true" {
		fatalf("unexpected status body: %q", got.Body)
	}

	if *verbose {
		fmt.Printf("status reply: %s\n", got.Body)
	}
	fmt.Println("OK")
}

func mustKey(name, raw string) [envelope.KeySize]byte {
	k, err := envelope.ParseKey(raw)
	if err != nil {
		fatalf("invalid -%s: %v", name, err)
	}
	return k
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, res, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		if res != nil {
			fatalf("dial failed: %v (status=%d)", err, res.StatusCode)
		}
		fatalf("dial failed: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWrite(parent context.Context, conn *websocket.Conn, frame []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		fatalf("write failed: %v", err)
	}
}

// mustReadReply returns the envelope of the next server reply.
// Text notices fail the run: the server only sends them on routing or clock problems.
func mustReadReply(parent context.Context, conn *websocket.Conn, stepTimeout time.Duration) []byte {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			fatalf("read failed: %v", err)
		}
		if typ == websocket.MessageText {
			fatalf("server notice: %q", b)
		}
		dst, err := v1.Destination(b)
		if err != nil {
			continue
		}
		if dst == v1.ServerAddress {
			return b[v1.AddressSize:]
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
