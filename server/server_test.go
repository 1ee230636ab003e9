package server

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/wire"
)

func TestServerAcceptsAndAuthenticatesOneConnection(t *testing.T) {
	user := config.UserEntry{User: "alice", Password: "secret", DefaultAccess: "allow"}
	srv, err := New(Config{
		Listen:            "127.0.0.1:0",
		SessionTimeout:    2 * time.Second,
		CompressThreshold: 4096,
		Users:             []config.UserEntry{user},
		NewAnalyzer:       testAnalyzerFactory,
	}, newTestMetrics())
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	runClientSide(t, conn, "alice", "secret")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wire.ReadFragment(conn); err != nil {
		t.Fatalf("reading relayed message: %v", err)
	}

	if got := srv.sessionCount(); got != 1 {
		t.Fatalf("sessionCount = %d, want 1", got)
	}
}

func TestServerRejectsConnectionsPastMaxSessions(t *testing.T) {
	user := config.UserEntry{User: "alice", Password: "secret", DefaultAccess: "allow"}
	srv, err := New(Config{
		Listen:         "127.0.0.1:0",
		SessionTimeout: 2 * time.Second,
		MaxSessions:    1,
		Users:          []config.UserEntry{user},
		NewAnalyzer:    testAnalyzerFactory,
	}, newTestMetrics())
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	defer srv.Stop()

	first, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	runClientSide(t, first, "alice", "secret")

	// Give the accept loop a moment to register the first session
	// before the second connection arrives.
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(1 * time.Second))
	buf := make([]byte, 1)
	if n, err := second.Read(buf); n != 0 || err == nil {
		t.Fatalf("expected the over-limit connection to be closed immediately, got n=%d err=%v", n, err)
	}
}

func TestStatusHandlerReportsSessionCounts(t *testing.T) {
	user := config.UserEntry{User: "alice", Password: "secret", DefaultAccess: "allow"}
	srv, err := New(Config{
		Listen:         "127.0.0.1:0",
		SessionTimeout: 2 * time.Second,
		MaxSessions:    16,
		Users:          []config.UserEntry{user},
		NewAnalyzer:    testAnalyzerFactory,
	}, newTestMetrics())
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	srv.StatusHandler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
}
