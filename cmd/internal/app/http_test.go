package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirushik/aguardia-server/cmd/security/envelope"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	t.Setenv("AG_SEED_X", testSeedX)
	t.Setenv("AG_SEED_ED", testSeedEd)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	a, err := New(context.Background(), cfg, newLogger(io.Discard, "error", "json", false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestHTTP_Status(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}
	if got := res.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing: %q", got)
	}

	var doc statusDoc
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != "OK" || doc.Version != Version || doc.LogLevel != "info" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if doc.PublicX != envelope.FormatKey(a.keys.XPublic[:]) || doc.PublicEd != envelope.FormatKey(a.keys.EdPublic) {
		t.Fatalf("public keys mismatch: %+v", doc)
	}
	if doc.Websockets != 0 || doc.Loops != 0 {
		t.Fatalf("expected no sessions: %+v", doc)
	}
}

func TestHTTP_Probes(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.Handler())
	defer ts.Close()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{path: "/healthz", status: http.StatusOK, body: "ok"},
		{path: "/readyz", status: http.StatusOK, body: "ready"},
		{path: "/metrics", status: http.StatusOK, body: "aguardia_sessions_live"},
		{path: "/ws/device/v1/not-hex", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		res, err := http.Get(ts.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		b, _ := io.ReadAll(res.Body)
		_ = res.Body.Close()

		if res.StatusCode != tc.status {
			t.Fatalf("GET %s status=%d want=%d", tc.path, res.StatusCode, tc.status)
		}
		if tc.body != "" && !strings.Contains(string(b), tc.body) {
			t.Fatalf("GET %s body=%q missing %q", tc.path, b, tc.body)
		}
	}
}

func TestHTTP_ReadyRequiresDB(t *testing.T) {
	a := newTestApp(t)
	a.cfg.ReadinessRequireDB = true

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}
