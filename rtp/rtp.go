// Package rtp implements RTP+Opus egress for demodulated audio
// inspector output (component U), packetizing PCM frames handed up by
// an audio-class inspector into RTP packets addressed to a listening
// client. Grounded on audio.go, which parses inbound RTP with
// pion/rtp's Packet.Unmarshal; this package is the mirror image
// (Packet.Marshal) for the outbound direction this module needs, since
// audio.go only ever receives RTP audio and never originates it.
package rtp

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
)

// Config configures one Egress stream.
type Config struct {
	// LocalPort binds the sending socket; 0 lets the OS choose.
	LocalPort int
	Remote    *net.UDPAddr

	PayloadType uint8
	SSRC        uint32
	ClockRate   uint32 // samples per second the RTP timestamp advances by

	// Opus, Bitrate, and Complexity configure the payload encoder; see
	// NewOpusEncoder (opus_encoder.go / opus_stub.go, selected by the
	// "opus" build tag exactly as opus_support.go/opus_stub.go are).
	Opus       bool
	Bitrate    int
	Complexity int
}

func (c *Config) setDefaults() {
	if c.PayloadType == 0 {
		c.PayloadType = 111
	}
	if c.ClockRate == 0 {
		c.ClockRate = 48000
	}
	if c.Bitrate == 0 {
		c.Bitrate = 32000
	}
}

// Egress packetizes successive PCM frames into an outbound RTP stream.
type Egress struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	payload uint8
	ssrc    uint32
	clock   uint32

	encoder *OpusEncoder

	seq atomic.Uint32 // low 16 bits used; atomic for concurrent Close/Write safety
	ts  atomic.Uint32
}

// NewEgress binds a UDP socket and returns an Egress ready to send RTP
// packets to cfg.Remote.
func NewEgress(cfg Config) (*Egress, error) {
	cfg.setDefaults()
	if cfg.Remote == nil {
		return nil, fmt.Errorf("rtp: remote address is required")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.LocalPort})
	if err != nil {
		return nil, fmt.Errorf("rtp: bind local socket: %w", err)
	}

	e := &Egress{
		conn:    conn,
		remote:  cfg.Remote,
		payload: cfg.PayloadType,
		ssrc:    cfg.SSRC,
		clock:   cfg.ClockRate,
		encoder: NewOpusEncoder(cfg.Opus, int(cfg.ClockRate), cfg.Bitrate, cfg.Complexity),
	}
	return e, nil
}

// Write encodes one PCM frame (big-endian int16 samples, matching
// audio.go's own PCM byte order) and sends it as a single RTP packet,
// advancing the sequence number by one and the timestamp by sampleCount.
func (e *Egress) Write(pcm []byte, sampleCount uint32) error {
	// Encode already degrades to a PCM passthrough payload on its own
	// errors (see opus_encoder.go/opus_stub.go); send that payload
	// rather than drop the frame.
	payload, _, _ := e.encoder.Encode(pcm)

	seq := uint16(e.seq.Add(1))
	ts := e.ts.Add(sampleCount)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    e.payload,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           e.ssrc,
		},
		Payload: payload,
	}

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtp: marshaling packet: %w", err)
	}
	_, err = e.conn.WriteToUDP(raw, e.remote)
	return err
}

// Close releases the egress socket.
func (e *Egress) Close() error {
	return e.conn.Close()
}
