// Package discovery implements the analyzer's multicast device
// discovery: a background listener that harvests ANNOUNCE superframes
// into a deduplicated, UUID-keyed device table, plus a synchronous
// SoapySDR-equivalent local enumerator. Grounded on the original
// analyzer/device/impl/multicast.c (upsert-by-UUID map behind a mutex,
// a settle-delayed Discover snapshot)
// translated to this module's ANNOUNCE/wire framing.
package discovery

import (
	"bytes"
	"context"
	"hash/fnv"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/skyloom-radio/sdrcore/multicast"
	"github.com/skyloom-radio/sdrcore/wire"
)

// DeviceRecord is one discovered analyzer, upserted by UUID each time a
// fresh ANNOUNCE arrives from it.
type DeviceRecord struct {
	UUID      uint64
	Analyzer  string
	Host      string
	Profiles  []string
	QTH       string
	FirstSeen time.Time
	LastSeen  time.Time
}

// computeUUID hashes the analyzer tag, origin host, and a
// lexicographically sorted copy of the profile list, matching the
// original's "UUID = hash of analyzer tag + sorted parameter list".
func computeUUID(analyzer, host string, profiles []string) uint64 {
	sorted := append([]string(nil), profiles...)
	sort.Strings(sorted)

	h := fnv.New64a()
	h.Write([]byte(analyzer))
	h.Write([]byte{'|'})
	h.Write([]byte(host))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(sorted, ",")))
	return h.Sum64()
}

// Config configures a Listener.
type Config struct {
	Group      *net.UDPAddr
	Interfaces []*net.Interface
	// SettleDelay is how long Discover waits for fresh announcements to
	// accumulate before snapshotting the table; defaults to 2s.
	SettleDelay time.Duration
	Enricher    Enricher // optional GeoIP enrichment, nil disables it
	Republisher Republisher
}

func (c *Config) setDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 2 * time.Second
	}
}

// Enricher enriches a freshly upserted device record with an advisory
// location; it must never touch anything but QTH.
type Enricher interface {
	Enrich(rec *DeviceRecord)
}

// Republisher mirrors an upserted device to an external system.
type Republisher interface {
	PublishDevice(rec DeviceRecord)
}

// Listener is the background multicast discovery receiver.
type Listener struct {
	cfg  Config
	conn *net.UDPConn
	pc   *ipv4.PacketConn

	mu      sync.Mutex
	devices map[uint64]*DeviceRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open binds the discovery socket, joins cfg.Group on every declared
// interface, and starts the background receive loop.
func Open(cfg Config) (*Listener, error) {
	cfg.setDefaults()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Group.Port})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)

	ifaces := cfg.Interfaces
	if len(ifaces) == 0 {
		ifaces = []*net.Interface{nil}
	}
	for _, iface := range ifaces {
		if err := pc.JoinGroup(iface, cfg.Group); err != nil {
			conn.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		cfg:     cfg,
		conn:    conn,
		pc:      pc,
		devices: make(map[uint64]*DeviceRecord),
		cancel:  cancel,
	}

	l.wg.Add(1)
	go l.receiveLoop(ctx)
	return l, nil
}

func (l *Listener) receiveLoop(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		l.handleDatagram(buf[:n], addr)
	}
}

func (l *Listener) handleDatagram(data []byte, from *net.UDPAddr) {
	frag, err := wire.ReadFragment(bytes.NewReader(data))
	if err != nil || frag.Type != wire.SFAnnounce {
		return
	}
	_, profiles, err := multicast.DecodeAnnouncePayload(frag.Payload)
	if err != nil {
		return
	}

	host := from.IP.String()
	const analyzer = "remote"
	uuid := computeUUID(analyzer, host, profiles)

	l.mu.Lock()
	rec, ok := l.devices[uuid]
	now := time.Now()
	if !ok {
		rec = &DeviceRecord{
			UUID:      uuid,
			Analyzer:  analyzer,
			Host:      host,
			Profiles:  profiles,
			FirstSeen: now,
		}
		l.devices[uuid] = rec
	}
	rec.Profiles = profiles
	rec.LastSeen = now
	if l.cfg.Enricher != nil {
		l.cfg.Enricher.Enrich(rec)
	}
	snapshot := *rec
	l.mu.Unlock()

	if l.cfg.Republisher != nil {
		l.cfg.Republisher.PublishDevice(snapshot)
	}
}

// Discover sleeps SettleDelay (or until ctx is canceled) and returns a
// snapshot of every device seen so far.
func (l *Listener) Discover(ctx context.Context) ([]DeviceRecord, error) {
	select {
	case <-time.After(l.cfg.SettleDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DeviceRecord, 0, len(l.devices))
	for _, rec := range l.devices {
		out = append(out, *rec)
	}
	return out, nil
}

// Close stops the receive loop and releases the socket.
func (l *Listener) Close() error {
	l.cancel()
	l.wg.Wait()
	return l.conn.Close()
}
