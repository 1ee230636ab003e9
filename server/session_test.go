package server

import (
	"net"
	"testing"
	"time"

	"github.com/skyloom-radio/sdrcore/analyzer"
	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/psd"
	"github.com/skyloom-radio/sdrcore/source"
	"github.com/skyloom-radio/sdrcore/wire"
)

func testAnalyzerFactory(config.UserEntry) (*analyzer.Local, error) {
	return analyzer.Open(analyzer.Params{
		Mode:                  analyzer.ModeWideSpectrum,
		Window:                psd.WindowNone,
		WindowSize:            64,
		PSDUpdateInterval:     10 * time.Millisecond,
		ChannelUpdateInterval: 10 * time.Millisecond,
	}, source.Config{Type: source.TypeToneGenerator, SampRate: 1e6, Freq: 100e6}, nil)
}

func newTestServer(t *testing.T, user config.UserEntry) *Server {
	t.Helper()
	m := newTestMetrics()
	srv := &Server{
		cfg: Config{
			ServerName:        "sdrcore-test",
			SessionTimeout:    2 * time.Second,
			CompressThreshold: 4096,
			NewAnalyzer:       testAnalyzerFactory,
		},
		metrics:  m,
		sessions: make(map[string]*session),
		users:    map[string]config.UserEntry{user.User: user},
	}
	return srv
}

// runClientSide performs the AUTH/HELLO handshake a real client would,
// returning the nonce it received so the test can assert on anything
// HMAC-dependent.
func runClientSide(t *testing.T, conn net.Conn, user, password string) []byte {
	t.Helper()
	frag, err := wire.ReadFragment(conn)
	if err != nil {
		t.Fatalf("reading AUTH: %v", err)
	}
	authCall, err := wire.Unpack(frag.Payload)
	if err != nil || authCall.Type != wire.CallAuth {
		t.Fatalf("expected AUTH call, got %+v err=%v", authCall, err)
	}

	hmacSum := wire.ComputeHMAC(password, authCall.Auth.Nonce)
	helloPayload, err := wire.Pack(wire.Call{
		Type:  wire.CallHello,
		Hello: &wire.HelloCall{ProtocolVersion: "1.0.0", User: user, HMAC: hmacSum},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := wire.WriteFragment(conn, wire.Fragment{
		Type: wire.SFEncap, ID: 1, SFSize: uint32(len(helloPayload)), Payload: helloPayload,
	}); err != nil {
		t.Fatal(err)
	}
	return authCall.Auth.Nonce
}

func TestSessionAuthenticatesAndRelaysMessages(t *testing.T) {
	user := config.UserEntry{User: "alice", Password: "secret", DefaultAccess: "allow"}
	srv := newTestServer(t, user)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	zenc := newTestZstdEncoder(t)
	s := &session{id: "s1", conn: serverConn, srv: srv, zenc: zenc}
	go s.serve()

	runClientSide(t, clientConn, "alice", "secret")

	// The server should relay at least one non-auth call (SOURCE_INFO,
	// PARAMS, or a PSD frame) before the test deadline.
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frag, err := wire.ReadFragment(clientConn)
	if err != nil {
		t.Fatalf("reading relayed message: %v", err)
	}
	if frag.Type != wire.SFEncap && frag.Type != wire.SFPSD {
		t.Fatalf("unexpected fragment type %d", frag.Type)
	}
}

func TestSessionRejectsBadPassword(t *testing.T) {
	user := config.UserEntry{User: "alice", Password: "secret", DefaultAccess: "allow"}
	srv := newTestServer(t, user)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	zenc := newTestZstdEncoder(t)
	s := &session{id: "s1", conn: serverConn, srv: srv, zenc: zenc}
	done := make(chan struct{})
	go func() { s.serve(); close(done) }()

	runClientSide(t, clientConn, "alice", "wrong-password")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to close after a failed HELLO")
	}

	if got := testutilGather(t, srv.metrics).authFailures; got != 1 {
		t.Fatalf("auth failures = %d, want 1", got)
	}
}
