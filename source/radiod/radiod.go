// Package radiod implements the remote-control source variant: a
// spectrum-channel client of a ka9q-radio-style front-end, talking to
// it over a status (control) and a data (sample) multicast group.
// Grounded on madpsy-ka9q_ubersdr/radiod.go (RadiodController) and
// audio.go (AudioReceiver's RTP receive loop); stands in for the
// opaque SoapySDR driver binding behind the same source.Source
// interface.
package radiod

import (
	"context"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/skyloom-radio/sdrcore/source"
)

// tag values from ka9q-radio's status.h enum status_type, reused
// verbatim since they identify a wire protocol this client must
// interoperate with, not an internal design choice.
const (
	tagCommandID      = 0x01
	tagSSRC           = 0x12
	tagRadioFrequency = 0x21
	tagLowEdge        = 0x27
	tagHighEdge       = 0x28
	tagPreset         = 0x55
	tagStatusInterval = 0x6A
	tagBinCount       = 0x5e
	tagBinBandwidth   = 0x5d
)

const pktTypeCommand = 1

// Source is a remote-control sample producer: it sends spectrum-
// channel control commands over a status multicast group and decodes
// the resulting RTP-framed I/Q stream from a data multicast group.
type Source struct {
	statusAddr *net.UDPAddr
	dataAddr   *net.UDPAddr
	iface      *net.Interface

	ctrlConn *net.UDPConn
	dataConn *net.UDPConn

	ssrc      uint32
	binCount  int
	cmdMu     sync.Mutex
	startOnce sync.Once

	freq      atomic.Uint64 // math.Float64bits
	bandwidth atomic.Uint64

	samples   chan complex64
	cancelled atomic.Bool

	sampRate  float64
	startTime time.Time
	info      source.Info
}

var _ source.Source = (*Source)(nil)
var _ source.FrequencySetter = (*Source)(nil)
var _ source.BandwidthSetter = (*Source)(nil)

// Open resolves the status/data multicast groups named in cfg's device
// spec (keys "status_addr", "data_addr", "iface", "ssrc") and opens
// the control socket. It does not yet create the spectrum channel;
// that happens in Start.
func Open(cfg source.Config) (*Source, error) {
	if cfg.DeviceSpec == nil || cfg.DeviceSpec.Params == nil {
		return nil, fmt.Errorf("radiod: device spec required")
	}
	params := cfg.DeviceSpec.Params

	statusStr, ok := params.Get("status_addr")
	if !ok {
		return nil, fmt.Errorf("radiod: device spec missing status_addr")
	}
	dataStr, ok := params.Get("data_addr")
	if !ok {
		return nil, fmt.Errorf("radiod: device spec missing data_addr")
	}

	statusAddr, err := resolveMulticastAddr(statusStr)
	if err != nil {
		return nil, fmt.Errorf("radiod: resolve status_addr: %w", err)
	}
	dataAddr, err := resolveMulticastAddr(dataStr)
	if err != nil {
		return nil, fmt.Errorf("radiod: resolve data_addr: %w", err)
	}

	var iface *net.Interface
	if ifname, ok := params.Get("iface"); ok && ifname != "" {
		iface, err = net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("radiod: interface %s: %w", ifname, err)
		}
	}

	ssrc := uint32(time.Now().UnixNano())
	if ssrcStr, ok := params.Get("ssrc"); ok {
		if v, err := strconv.ParseUint(ssrcStr, 10, 32); err == nil {
			ssrc = uint32(v)
		}
	}

	binCount := 4096
	if v, ok := params.Get("bin_count"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			binCount = n
		}
	}

	ctrlConn, err := setupControlSocket(statusAddr, iface)
	if err != nil {
		return nil, fmt.Errorf("radiod: control socket: %w", err)
	}

	s := &Source{
		statusAddr: statusAddr,
		dataAddr:   dataAddr,
		iface:      iface,
		ctrlConn:   ctrlConn,
		ssrc:       ssrc,
		binCount:   binCount,
		samples:    make(chan complex64, 65536),
		sampRate:   cfg.SampRate,
		startTime:  cfg.StartTime,
	}
	s.freq.Store(math.Float64bits(cfg.Freq))
	s.bandwidth.Store(math.Float64bits(cfg.Bandwidth))

	s.info = source.Info{
		Permissions:       source.PermAll &^ source.PermSeek,
		SourceSampRate:    cfg.SampRate,
		EffectiveSampRate: cfg.SampRate,
		MeasuredSampRate:  cfg.SampRate,
		Frequency:         cfg.Freq,
		Bandwidth:         cfg.Bandwidth,
		Timestamp:         time.Now(),
	}

	return s, nil
}

// Start creates the remote spectrum channel and begins receiving its
// RTP-framed sample stream in the background.
func (s *Source) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		dataConn, err := setupDataSocket(s.dataAddr, s.iface)
		if err != nil {
			startErr = fmt.Errorf("radiod: data socket: %w", err)
			return
		}
		s.dataConn = dataConn

		if err := s.sendCreateSpectrumChannel(); err != nil {
			dataConn.Close()
			startErr = fmt.Errorf("radiod: create channel: %w", err)
			return
		}

		go s.receiveLoop()
	})
	return startErr
}

func (s *Source) receiveLoop() {
	buffer := make([]byte, 9000)
	for {
		if s.cancelled.Load() {
			return
		}
		n, _, err := s.dataConn.ReadFromUDP(buffer)
		if err != nil {
			return
		}
		if n < 12 {
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buffer[:n]); err != nil {
			continue
		}
		if pkt.SSRC != s.ssrc {
			continue
		}
		s.deliver(pkt.Payload)
	}
}

// deliver decodes a spectrum-channel RTP payload as interleaved
// big-endian int16 I/Q pairs, matching audio.go's PCM byte order
// convention for radiod's network samples.
func (s *Source) deliver(payload []byte) {
	n := len(payload) / 4
	for i := 0; i < n; i++ {
		re := int16(payload[i*4])<<8 | int16(payload[i*4+1])
		im := int16(payload[i*4+2])<<8 | int16(payload[i*4+3])
		sample := complex(float32(re)/32768, float32(im)/32768)
		select {
		case s.samples <- sample:
		default:
			// Drop on a full queue rather than block the receive loop.
		}
	}
}

// Read drains decoded samples from the background receive loop,
// blocking until at least one is available, ctx is done, or Cancel is
// called.
func (s *Source) Read(ctx context.Context, buf []complex64) (int, error) {
	// Cancel never closes s.samples, so poll the flag while waiting.
	for len(s.samples) == 0 {
		if s.cancelled.Load() {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case sample, ok := <-s.samples:
		if !ok {
			return 0, nil
		}
		buf[0] = sample
		n := 1
		for n < len(buf) {
			select {
			case sample, ok := <-s.samples:
				if !ok {
					return n, nil
				}
				buf[n] = sample
				n++
			default:
				return n, nil
			}
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Cancel stops the receive loop and unblocks a pending Read.
func (s *Source) Cancel() {
	s.cancelled.Store(true)
	if s.dataConn != nil {
		s.dataConn.Close()
	}
}

// Close disables the remote channel and releases both sockets.
func (s *Source) Close() error {
	s.cancelled.Store(true)
	_ = s.sendDisableChannel()
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	if s.ctrlConn != nil {
		return s.ctrlConn.Close()
	}
	return nil
}

// Info returns the most recently computed source-info snapshot.
func (s *Source) Info() source.Info {
	info := s.info
	info.Frequency = math.Float64frombits(s.freq.Load())
	info.Bandwidth = math.Float64frombits(s.bandwidth.Load())
	return info
}

// SetFrequency retunes the remote spectrum channel in place.
func (s *Source) SetFrequency(hz float64) error {
	s.freq.Store(math.Float64bits(hz))
	return s.sendUpdateFrequency(hz)
}

// SetBandwidth resizes the remote spectrum channel's filter edges.
func (s *Source) SetBandwidth(hz float64) error {
	s.bandwidth.Store(math.Float64bits(hz))
	return s.sendUpdateBandwidth(hz)
}

func (s *Source) sendCreateSpectrumChannel() error {
	freq := math.Float64frombits(s.freq.Load())
	bw := math.Float64frombits(s.bandwidth.Load())
	binBW := bw / float64(s.binCount)
	half := bw / 2

	cmd := newCommandBuilder()
	cmd.putUint32(tagSSRC, s.ssrc)
	cmd.putFloat64(tagRadioFrequency, freq)
	cmd.putString(tagPreset, "spectrum")
	cmd.putFloat64(tagLowEdge, -half)
	cmd.putFloat64(tagHighEdge, half)
	cmd.putUint32(tagBinCount, uint32(s.binCount))
	cmd.putFloat32(tagBinBandwidth, float32(binBW))
	cmd.putUint32(tagCommandID, uint32(time.Now().Unix()))

	return s.sendCommand(cmd.finish())
}

func (s *Source) sendUpdateFrequency(freq float64) error {
	cmd := newCommandBuilder()
	cmd.putUint32(tagSSRC, s.ssrc)
	cmd.putFloat64(tagRadioFrequency, freq)
	cmd.putUint32(tagStatusInterval, 5)
	cmd.putUint32(tagCommandID, uint32(time.Now().Unix()))
	return s.sendCommand(cmd.finish())
}

func (s *Source) sendUpdateBandwidth(bw float64) error {
	half := bw / 2
	binBW := bw / float64(s.binCount)

	cmd := newCommandBuilder()
	cmd.putUint32(tagSSRC, s.ssrc)
	cmd.putFloat64(tagLowEdge, -half)
	cmd.putFloat64(tagHighEdge, half)
	cmd.putFloat32(tagBinBandwidth, float32(binBW))
	cmd.putUint32(tagCommandID, uint32(time.Now().Unix()))
	return s.sendCommand(cmd.finish())
}

func (s *Source) sendDisableChannel() error {
	cmd := newCommandBuilder()
	cmd.putUint32(tagSSRC, s.ssrc)
	cmd.putFloat64(tagRadioFrequency, 0)
	cmd.putUint32(tagCommandID, uint32(time.Now().Unix()))
	return s.sendCommand(cmd.finish())
}

func (s *Source) sendCommand(cmd []byte) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.ctrlConn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return err
	}
	n, err := s.ctrlConn.WriteTo(cmd, s.statusAddr)
	if err != nil {
		return err
	}
	if n != len(cmd) {
		return fmt.Errorf("radiod: incomplete command write: %d of %d bytes", n, len(cmd))
	}
	return nil
}

// commandBuilder assembles a TLV control packet in the wire format
// expected by the front-end: a leading packet-type byte, then
// tag/length/value triples with leading-zero suppression, terminated
// by a zero tag.
type commandBuilder struct {
	buf []byte
}

func newCommandBuilder() *commandBuilder {
	return &commandBuilder{buf: append(make([]byte, 0, 256), pktTypeCommand)}
}

func (c *commandBuilder) putUint32(tag byte, v uint32) {
	c.buf = append(c.buf, tag)
	x := uint64(v)
	length := 8
	for length > 0 && x>>56 == 0 {
		x <<= 8
		length--
	}
	c.buf = append(c.buf, byte(length))
	for i := 0; i < length; i++ {
		c.buf = append(c.buf, byte(x>>56))
		x <<= 8
	}
}

func (c *commandBuilder) putFloat64(tag byte, v float64) {
	c.buf = append(c.buf, tag)
	bits := math.Float64bits(v)
	length := 8
	for length > 0 && bits>>56 == 0 {
		bits <<= 8
		length--
	}
	c.buf = append(c.buf, byte(length))
	for i := 0; i < length; i++ {
		c.buf = append(c.buf, byte(bits>>56))
		bits <<= 8
	}
}

func (c *commandBuilder) putFloat32(tag byte, v float32) {
	c.buf = append(c.buf, tag)
	bits := math.Float32bits(v)
	length := 4
	for length > 0 && bits>>24 == 0 {
		bits <<= 8
		length--
	}
	c.buf = append(c.buf, byte(length))
	for i := 0; i < length; i++ {
		c.buf = append(c.buf, byte(bits>>24))
		bits <<= 8
	}
}

func (c *commandBuilder) putString(tag byte, v string) {
	c.buf = append(c.buf, tag, byte(len(v)))
	c.buf = append(c.buf, []byte(v)...)
}

func (c *commandBuilder) finish() []byte {
	c.buf = append(c.buf, 0)
	return c.buf
}

// resolveMulticastAddr resolves addrStr via DNS, falling back to an
// FNV-1-hash-derived administratively-scoped multicast address when
// resolution fails, matching the front-end's own address-assignment
// convention for hosts without a DNS entry.
func resolveMulticastAddr(addrStr string) (*net.UDPAddr, error) {
	if addr, err := net.ResolveUDPAddr("udp", addrStr); err == nil {
		return addr, nil
	}

	host, port, err := net.SplitHostPort(addrStr)
	if err != nil {
		host = addrStr
		port = "0"
	}

	ip := hashedMulticastAddr(host)
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%s", ip, port))
}

// hashedMulticastAddr derives a 239.0.0.0/8 multicast address from a
// hostname via FNV-1, avoiding the .0/24 and .128/24 subranges that
// alias onto the same Ethernet multicast MAC address.
func hashedMulticastAddr(hostname string) string {
	var hash uint32 = 0x811c9dc5
	for i := 0; i < len(hostname); i++ {
		hash *= 0x01000193
		hash ^= uint32(hostname[i])
	}

	addr := (uint32(239) << 24) | (hash & 0xffffff)
	if addr&0x007fff00 == 0 {
		addr |= (addr & 0xff) << 8
	}
	if addr&0x007fff00 == 0 {
		addr |= 0x00100000
	}

	return fmt.Sprintf("%d.%d.%d.%d", (addr>>24)&0xff, (addr>>16)&0xff, (addr>>8)&0xff, addr&0xff)
}

func setupControlSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		if e := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_LOOP, 1); e != nil {
			sockErr = e
			return
		}
		if e := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_TTL, 1); e != nil {
			sockErr = e
			return
		}
		if iface != nil {
			mreqn := syscall.IPMreqn{Ifindex: int32(iface.Index)}
			if e := syscall.SetsockoptIPMreqn(int(fd), syscall.IPPROTO_IP, syscall.IP_MULTICAST_IF, &mreqn); e != nil {
				sockErr = e
				return
			}
		}
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sockErr != nil {
		conn.Close()
		return nil, sockErr
	}

	p := ipv4.NewPacketConn(conn)
	if iface != nil {
		_ = p.JoinGroup(iface, addr)
	}

	return conn, nil
}

func setupDataSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
					sockErr = e
					return
				}
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
					sockErr = e
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	udpConn := conn.(*net.UDPConn)
	_ = udpConn.SetReadBuffer(1024 * 1024)

	p := ipv4.NewPacketConn(udpConn)
	if iface != nil {
		_ = p.JoinGroup(iface, addr)
	}

	return udpConn, nil
}
