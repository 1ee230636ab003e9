// Package server implements the analyzer server: one listening TCP
// socket accepting wire-framed sessions (component M), an HTTP
// status/metrics endpoint, and an optional read-only monitor
// websocket. Grounded on spec.md §4.M's four-step session lifecycle
// and on session.go/websocket.go for the surrounding
// connection-management idiom — that Session is an HTTP/WebSocket
// audio relay with no authentication handshake, so the
// AUTH/HELLO/permission-mask machinery below is authored from spec.md
// §4.J/§4.M directly and dressed in the same struct-plus-map,
// sync.RWMutex-guarded session-table shape.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/skyloom-radio/sdrcore/analyzer"
	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/metrics"
	"github.com/skyloom-radio/sdrcore/multicast"
)

// AnalyzerFactory opens the local analyzer a newly authenticated
// session drives, scoped to that user's source profile. The server
// itself is agnostic to which source variant or profile a user maps
// to; cmd/sdranalyzerd supplies the binding.
type AnalyzerFactory func(user config.UserEntry) (*analyzer.Local, error)

// Config holds everything Server needs that isn't itself a running
// subsystem.
type Config struct {
	Listen            string
	ServerName        string
	MaxSessions       int
	SessionTimeout    time.Duration
	CompressPSD       bool
	CompressThreshold int
	Users             []config.UserEntry
	NewAnalyzer       AnalyzerFactory

	// Fanout, when non-nil, also receives every session's PSD
	// measurements so passive multicast monitor clients see the same
	// spectrum traffic as this server's own TCP sessions.
	Fanout *multicast.Fanout
}

func (c *Config) setDefaults() {
	if c.ServerName == "" {
		c.ServerName = "sdrcore"
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 16
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.CompressThreshold <= 0 {
		c.CompressThreshold = 4096
	}
}

// Server accepts sessions on one TCP listener and tracks them in a
// session table guarded by a single mutex, the same shape
// SessionManager uses for its own connection map.
type Server struct {
	cfg     Config
	metrics *metrics.Metrics
	ln      net.Listener

	mu       sync.Mutex
	sessions map[string]*session
	users    map[string]config.UserEntry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New validates cfg and binds the listening socket without yet
// accepting connections; call Start to begin serving.
func New(cfg Config, m *metrics.Metrics) (*Server, error) {
	cfg.setDefaults()
	if cfg.NewAnalyzer == nil {
		return nil, fmt.Errorf("server: NewAnalyzer factory is required")
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", cfg.Listen, err)
	}

	users := make(map[string]config.UserEntry, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.User] = u
	}

	return &Server{
		cfg:      cfg,
		metrics:  m,
		ln:       ln,
		sessions: make(map[string]*session),
		users:    users,
	}, nil
}

// Addr reports the bound listener address, useful when Config.Listen
// used port 0 in tests.
func (srv *Server) Addr() net.Addr { return srv.ln.Addr() }

// Start begins the accept loop in a background goroutine.
func (srv *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	srv.cancel = cancel

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.acceptLoop(ctx)
	}()
}

// Stop closes the listener, cancels the accept loop, and waits for it
// and every session goroutine it started to exit. In-flight sessions are
// not forcibly closed, so Stop returns only once each has ended.
func (srv *Server) Stop() error {
	if srv.cancel != nil {
		srv.cancel()
	}
	err := srv.ln.Close()
	srv.wg.Wait()
	return err
}

func (srv *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Printf("server: accept: %v", err)
				return
			}
		}

		if srv.sessionCount() >= srv.cfg.MaxSessions {
			conn.Close()
			continue
		}

		zenc, err := zstd.NewWriter(nil)
		if err != nil {
			log.Printf("server: creating zstd encoder: %v", err)
			conn.Close()
			continue
		}

		s := &session{id: newSessionID(), conn: conn, srv: srv, zenc: zenc}
		srv.addSession(s)

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			defer zenc.Close()
			defer srv.removeSession(s)
			s.serve()
		}()
	}
}

func (srv *Server) lookupUser(name string) (config.UserEntry, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	u, ok := srv.users[name]
	return u, ok
}

func (srv *Server) addSession(s *session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sessions[s.id] = s
}

func (srv *Server) removeSession(s *session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.sessions, s.id)
}

func (srv *Server) sessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}
