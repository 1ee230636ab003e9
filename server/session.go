package server

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/skyloom-radio/sdrcore/analyzer"
	"github.com/skyloom-radio/sdrcore/config"
	"github.com/skyloom-radio/sdrcore/inspector"
	"github.com/skyloom-radio/sdrcore/multicast"
	"github.com/skyloom-radio/sdrcore/source"
	"github.com/skyloom-radio/sdrcore/wire"
)

// msgTypeCompressedPSD tags an ENCAP(MESSAGE) fragment whose payload is
// a zstd-compressed PSD superframe, distinguishing it from the
// analyzer.MessageType values MsgSourceInfo..MsgHalted a plain
// MESSAGE fragment otherwise carries.
const msgTypeCompressedPSD = 1000

// session is the per-connection state machine spec.md §4.M's four
// lifecycle steps describe: authenticate, instantiate a scoped local
// analyzer, then relay in both directions until I/O fails.
type session struct {
	id       string
	conn     net.Conn
	srv      *Server
	user     config.UserEntry
	mask     source.Permission
	local    *analyzer.Local
	nextFrag uint8
	zenc     *zstd.Encoder
}

// serve drives one accepted connection end to end. It never returns an
// error to the caller; every failure is logged and simply closes the
// session, matching spec.md §4.M's "on I/O error ... flushes remaining
// outbound fragments best-effort, and exits."
func (s *session) serve() {
	defer s.conn.Close()

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		log.Printf("server: session %s: generating nonce: %v", s.id, err)
		return
	}

	if err := s.writeCall(wire.Call{
		Type: wire.CallAuth,
		Auth: &wire.AuthCall{Nonce: nonce, Server: s.srv.cfg.ServerName, AuthMode: "hmac-sha256"},
	}); err != nil {
		log.Printf("server: session %s: sending AUTH: %v", s.id, err)
		return
	}

	call, err := s.readCall()
	if err != nil {
		log.Printf("server: session %s: reading HELLO: %v", s.id, err)
		return
	}
	if call.Type != wire.CallHello {
		log.Printf("server: session %s: expected HELLO, got call type %d", s.id, call.Type)
		return
	}

	user, ok := s.srv.lookupUser(call.Hello.User)
	if !ok || !wire.VerifyHMAC(user.Password, nonce, call.Hello.HMAC) {
		s.srv.metrics.AuthFailuresTotal.Inc()
		log.Printf("server: session %s: authentication failed for user %q", s.id, call.Hello.User)
		return
	}
	s.user = user
	s.mask = ComputeMask(user)

	local, err := s.srv.cfg.NewAnalyzer(user)
	if err != nil {
		log.Printf("server: session %s: opening analyzer: %v", s.id, err)
		return
	}
	s.local = local
	defer local.Close()

	s.srv.metrics.ServerSessionsActive.Inc()
	defer s.srv.metrics.ServerSessionsActive.Dec()

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- s.readLoop() }()

	s.relayLoop(readErrCh)
}

// readLoop handles client-originated CALL/SHUTDOWN frames until the
// connection errors out or the client asks to disconnect.
func (s *session) readLoop() error {
	for {
		call, err := s.readCall()
		if err != nil {
			return err
		}
		switch call.Type {
		case wire.CallCall:
			s.dispatchInvoke(*call.Invoke)
		case wire.CallShutdown:
			return fmt.Errorf("server: client requested shutdown: %s", call.Shutdown.Reason)
		default:
			return fmt.Errorf("server: unexpected call type %d from client", call.Type)
		}
	}
}

// relayLoop forwards local-analyzer output to the client until the
// read side reports an error or the analyzer itself halts.
func (s *session) relayLoop(readErrCh chan error) {
	for {
		select {
		case err := <-readErrCh:
			if err != nil {
				log.Printf("server: session %s: %v", s.id, err)
			}
			return
		default:
		}

		msg, ok := s.local.ReadMessage(100 * time.Millisecond)
		if !ok {
			continue
		}
		if err := s.relayMessage(msg.Type, msg.Payload); err != nil {
			log.Printf("server: session %s: relay: %v", s.id, err)
			return
		}
		if analyzer.MessageType(msg.Type) == analyzer.MsgHalted {
			return
		}
	}
}

func (s *session) relayMessage(msgType int, payload any) error {
	if analyzer.MessageType(msgType) == analyzer.MsgPSD {
		return s.relayPSD(payload.(analyzer.PSDMessage))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msgType, err)
	}
	return s.writeCall(wire.Call{
		Type:    wire.CallMessage,
		Message: &wire.MessageCall{MsgType: msgType, Payload: encoded},
	})
}

// relayPSD sends a PSD measurement as a bare SFPSD fragment, unless
// compression is enabled and the encoded frame exceeds the configured
// threshold, in which case it is zstd-compressed and sent as an
// ENCAP(MESSAGE) fragment instead — exactly the split spec.md §4.M
// draws between "PSD superframes" and "ENCAP(MESSAGE) fragments".
func (s *session) relayPSD(m analyzer.PSDMessage) error {
	frame := multicast.PSDFrame{
		Frequency:        m.Frequency,
		SampRate:         m.SampRate,
		MeasuredSampRate: m.MeasuredSampRate,
		Timestamp:        m.Timestamp,
		RTTime:           m.RealTime,
		Looped:           m.Looped,
		Vector:           m.Vector,
	}
	if s.srv.cfg.Fanout != nil {
		s.srv.cfg.Fanout.EnqueuePSD(frame)
	}
	payload := frame.Encode()

	if s.srv.cfg.CompressPSD && len(payload) > s.srv.cfg.CompressThreshold {
		compressed := s.zenc.EncodeAll(payload, nil)
		return s.writeCall(wire.Call{
			Type:    wire.CallMessage,
			Message: &wire.MessageCall{MsgType: msgTypeCompressedPSD, Payload: compressed},
		})
	}

	return s.writeFragment(wire.Fragment{
		Type:   wire.SFPSD,
		ID:     s.allocFragID(),
		SFSize: uint32(len(payload)),
		Payload: payload,
	})
}

// dispatchInvoke gates a client CALL against the session's permission
// mask before reaching into the local analyzer's setters, per spec.md
// §7's "permission denied: ... silently ignored" policy.
func (s *session) dispatchInvoke(inv wire.InvokeCall) {
	required, known := methodPermission[inv.Method]
	if !known || !s.mask.Has(required) {
		return
	}

	switch inv.Method {
	case "halt":
		s.local.Halt()
	case "set_frequency":
		if freq, lnb, ok := floatArgs2(inv.Args); ok {
			s.local.SetFrequency(freq, lnb)
		}
	case "set_bandwidth":
		if bw, ok := floatArg(inv.Args, 0); ok {
			s.local.SetBandwidth(bw)
		}
	case "set_ppm":
		if ppm, ok := floatArg(inv.Args, 0); ok {
			s.local.SetPPM(ppm)
		}
	case "set_gain":
		if len(inv.Args) == 2 {
			if name, ok := inv.Args[0].(string); ok {
				if v, ok := toFloat(inv.Args[1]); ok {
					s.local.SetGain(name, v)
				}
			}
		}
	case "set_antenna":
		if len(inv.Args) == 1 {
			if name, ok := inv.Args[0].(string); ok {
				s.local.SetAntenna(name)
			}
		}
	case "set_dc_remove":
		if b, ok := boolArg(inv.Args, 0); ok {
			s.local.SetDCRemove(b)
		}
	case "set_agc":
		if b, ok := boolArg(inv.Args, 0); ok {
			s.local.SetAGC(b)
		}
	case "open_inspector":
		s.dispatchOpenInspector(inv.Args)
	case "close_inspector":
		if h, ok := int64Arg(inv.Args, 0); ok {
			s.local.CloseInspector(h)
		}
	case "set_inspector_frequency":
		if len(inv.Args) == 2 {
			if h, ok := toInt64(inv.Args[0]); ok {
				if f, ok := toFloat(inv.Args[1]); ok {
					s.local.SetInspectorFrequency(h, f)
				}
			}
		}
	case "set_inspector_bandwidth":
		if len(inv.Args) == 2 {
			if h, ok := toInt64(inv.Args[0]); ok {
				if bw, ok := toFloat(inv.Args[1]); ok {
					s.local.SetInspectorBandwidth(h, bw)
				}
			}
		}
	}
}

// dispatchOpenInspector expects [request_id, class, frequency,
// bandwidth, parent_handle]; the parameter map classes accept through
// ChannelSpec.Params is left empty over the wire in this revision.
func (s *session) dispatchOpenInspector(args []any) {
	if len(args) < 5 {
		return
	}
	reqID, ok := toInt64(args[0])
	if !ok {
		return
	}
	class, ok := args[1].(string)
	if !ok {
		return
	}
	freq, ok := toFloat(args[2])
	if !ok {
		return
	}
	bw, ok := toFloat(args[3])
	if !ok {
		return
	}
	parent, ok := toInt64(args[4])
	if !ok {
		parent = inspector.NoParent
	}
	s.local.OpenInspector(uint64(reqID), inspector.ChannelSpec{Class: class, Frequency: freq, Bandwidth: bw}, parent)
}

func (s *session) allocFragID() uint8 {
	s.nextFrag++
	return s.nextFrag
}

func (s *session) writeCall(c wire.Call) error {
	payload, err := wire.Pack(c)
	if err != nil {
		return fmt.Errorf("packing call: %w", err)
	}
	return s.writeFragment(wire.Fragment{
		Type:   wire.SFEncap,
		ID:     s.allocFragID(),
		SFSize: uint32(len(payload)),
		Payload: payload,
	})
}

func (s *session) writeFragment(f wire.Fragment) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.SessionTimeout))
	return wire.WriteFragment(s.conn, f)
}

func (s *session) readCall() (wire.Call, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.srv.cfg.SessionTimeout))
	frag, err := wire.ReadFragment(s.conn)
	if err != nil {
		return wire.Call{}, err
	}
	if frag.Type != wire.SFEncap {
		return wire.Call{}, fmt.Errorf("expected an ENCAP fragment, got superframe type %d", frag.Type)
	}
	call, err := wire.Unpack(frag.Payload)
	if err != nil {
		s.srv.metrics.WireUnpackErrorsTotal.Inc()
		return wire.Call{}, fmt.Errorf("unpacking call: %w", err)
	}
	return call, nil
}

func newSessionID() string {
	return uuid.NewString()
}

func floatArgs2(args []any) (a, b float64, ok bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	a, ok1 := toFloat(args[0])
	b, ok2 := toFloat(args[1])
	return a, b, ok1 && ok2
}

func floatArg(args []any, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	return toFloat(args[i])
}

func boolArg(args []any, i int) (bool, bool) {
	if i >= len(args) {
		return false, false
	}
	v, ok := args[i].(bool)
	return v, ok
}

func int64Arg(args []any, i int) (int64, bool) {
	if i >= len(args) {
		return 0, false
	}
	return toInt64(args[i])
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
