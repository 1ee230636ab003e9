// Package multicast implements the analyzer server's UDP multicast
// fan-out: one socket per declared network interface, a tx pump
// draining queued superframe fragments, and an announce pump beaconing
// host/profile information when the tx pump has been otherwise idle.
// Grounded on radiod.go's multicast-socket setup (setupControlSocket's
// TTL/loopback/interface configuration and per-interface
// ipv4.PacketConn group join) generalized from a single status socket
// to one-per-declared-interface fan-out, and on spec.md §4.K/§6's
// superframe/fragment framing.
package multicast

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/skyloom-radio/sdrcore/mq"
	"github.com/skyloom-radio/sdrcore/wire"
)

// DefaultMTU is the fragment payload ceiling the RTP/UDP transport
// assumes for a typical Ethernet path (1500-byte frame minus IPv4 and
// UDP headers), leaving room for wire.FragmentHeaderSize.
const DefaultMTU = 1472

// DefaultAnnounceDelay is the default announce-pump cadence.
const DefaultAnnounceDelay = time.Second

// DefaultAnnounceStart is the default "suppress announce if the tx
// pump was recently busy" window.
const DefaultAnnounceStart = time.Second

// Config configures a Fanout.
type Config struct {
	Group         *net.UDPAddr
	Interfaces    []*net.Interface
	MTU           int
	AnnounceDelay time.Duration
	AnnounceStart time.Duration
	TTL           int

	// Host and Profiles are advertised by the announce pump.
	Host     string
	Profiles []string
}

func (c *Config) setDefaults() {
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.AnnounceDelay <= 0 {
		c.AnnounceDelay = DefaultAnnounceDelay
	}
	if c.AnnounceStart <= 0 {
		c.AnnounceStart = DefaultAnnounceStart
	}
	if c.TTL <= 0 {
		c.TTL = 1
	}
}

type boundConn struct {
	raw *net.UDPConn
	pc  *ipv4.PacketConn
}

// Fanout is the multicast fan-out manager: one bound socket per
// declared interface, a burst queue of outbound fragments, and the tx/
// announce pump goroutines.
type Fanout struct {
	cfg   Config
	conns []boundConn

	queue *mq.Queue

	fragPool sync.Pool

	sfID   atomic.Uint32
	lastTx atomic.Int64 // UnixNano of the last fragment actually written

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFanout binds one UDP socket per cfg.Interfaces entry (or one
// unbound socket if Interfaces is empty), each joined to cfg.Group on
// its interface with multicast loopback enabled and TTL set, following
// the same per-interface multicast-socket setup as radiod.go.
func NewFanout(cfg Config) (*Fanout, error) {
	cfg.setDefaults()
	if cfg.Group == nil {
		return nil, fmt.Errorf("multicast: Group is required")
	}

	f := &Fanout{
		cfg:   cfg,
		queue: mq.New(),
	}
	f.fragPool.New = func() any {
		buf := make([]byte, cfg.MTU)
		return &buf
	}

	ifaces := cfg.Interfaces
	if len(ifaces) == 0 {
		ifaces = []*net.Interface{nil}
	}

	for _, iface := range ifaces {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err != nil {
			f.closeAll()
			return nil, fmt.Errorf("multicast: opening socket: %w", err)
		}
		pc := ipv4.NewPacketConn(conn)

		if iface != nil {
			if err := pc.SetMulticastInterface(iface); err != nil {
				f.closeAll()
				conn.Close()
				return nil, fmt.Errorf("multicast: setting interface %s: %w", iface.Name, err)
			}
		}
		if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
			f.closeAll()
			conn.Close()
			return nil, fmt.Errorf("multicast: setting TTL: %w", err)
		}
		if err := pc.SetMulticastLoopback(true); err != nil {
			f.closeAll()
			conn.Close()
			return nil, fmt.Errorf("multicast: enabling loopback: %w", err)
		}
		if err := pc.JoinGroup(iface, cfg.Group); err != nil {
			f.closeAll()
			conn.Close()
			return nil, fmt.Errorf("multicast: joining group: %w", err)
		}

		f.conns = append(f.conns, boundConn{raw: conn, pc: pc})
	}

	return f, nil
}

func (f *Fanout) closeAll() {
	for _, c := range f.conns {
		c.raw.Close()
	}
	f.conns = nil
}

// Start launches the tx and announce pump goroutines.
func (f *Fanout) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(2)
	go f.txPump(ctx)
	go f.announcePump(ctx)
}

// Stop halts both pumps and closes every bound socket.
func (f *Fanout) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.closeAll()
}

func (f *Fanout) txPump(ctx context.Context) {
	defer f.wg.Done()
	for {
		msg, err := f.queue.Read(ctx)
		if err != nil {
			return
		}
		frag := msg.Payload.(wire.Fragment)
		f.writeFragment(frag)
	}
}

func (f *Fanout) writeFragment(frag wire.Fragment) {
	bufPtr := f.fragPool.Get().(*[]byte)
	defer f.fragPool.Put(bufPtr)

	n := wire.FragmentHeaderSize + len(frag.Payload)
	if n > len(*bufPtr) {
		grown := make([]byte, n)
		bufPtr = &grown
	}
	packet := serializeFragment(frag, (*bufPtr)[:n])

	for _, c := range f.conns {
		_, _ = c.pc.WriteTo(packet, nil, f.cfg.Group)
	}
	f.lastTx.Store(time.Now().UnixNano())
}

// serializeFragment writes frag's wire encoding into dst (which must
// be exactly wire.FragmentHeaderSize+len(frag.Payload) bytes) and
// returns it; multicast datagrams carry one fragment per packet, so
// this bypasses wire.WriteFragment's io.Writer stream framing.
func serializeFragment(frag wire.Fragment, dst []byte) []byte {
	var hdr [wire.FragmentHeaderSize]byte
	putFragmentHeader(hdr[:], frag)
	copy(dst, hdr[:])
	copy(dst[wire.FragmentHeaderSize:], frag.Payload)
	return dst
}

func (f *Fanout) announcePump(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.AnnounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !f.shouldAnnounce() {
				continue
			}
			f.enqueueAnnounce()
		}
	}
}

// shouldAnnounce reports whether the announce pump should beacon on
// this tick: true unless the tx pump wrote a fragment more recently
// than AnnounceStart ago.
func (f *Fanout) shouldAnnounce() bool {
	lastTx := time.Unix(0, f.lastTx.Load())
	return time.Since(lastTx) >= f.cfg.AnnounceStart
}

func (f *Fanout) enqueueAnnounce() {
	payload := buildAnnouncePayload(f.cfg.Host, f.cfg.Profiles)
	f.enqueueSuperframe(wire.SFAnnounce, payload)
}

// EnqueuePSD splits a PSD superframe into MTU-sized fragments and
// enqueues them as one burst for the tx pump.
func (f *Fanout) EnqueuePSD(frame PSDFrame) {
	f.enqueueSuperframe(wire.SFPSD, frame.encode())
}

// EnqueueEncap CBOR-encodes call and enqueues it as an ENCAP
// superframe.
func (f *Fanout) EnqueueEncap(call wire.Call) error {
	payload, err := wire.Pack(call)
	if err != nil {
		return err
	}
	f.enqueueSuperframe(wire.SFEncap, payload)
	return nil
}

// enqueueSuperframe splits payload into ≤(MTU-header) fragments
// sharing one sf_id, tiling [0, len(payload)) without gaps or overlap,
// and writes them to the internal queue as one burst.
func (f *Fanout) enqueueSuperframe(sfType wire.SuperframeType, payload []byte) {
	id := uint8(f.sfID.Add(1))
	chunk := f.cfg.MTU - wire.FragmentHeaderSize
	if chunk <= 0 {
		chunk = 1
	}

	total := len(payload)
	for offset := 0; offset < total || total == 0; offset += chunk {
		end := offset + chunk
		if end > total {
			end = total
		}
		f.queue.Write(mq.Message{Payload: wire.Fragment{
			Type:    sfType,
			ID:      id,
			SFSize:  uint32(total),
			Offset:  uint32(offset),
			Payload: payload[offset:end],
		}})
		if total == 0 {
			break
		}
	}
}
