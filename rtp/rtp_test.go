package rtp

import (
	"net"
	"testing"

	pionrtp "github.com/pion/rtp"
)

func TestNewEgressRequiresRemote(t *testing.T) {
	if _, err := NewEgress(Config{}); err == nil {
		t.Fatal("expected an error when Remote is nil")
	}
}

func TestWriteSendsAWellFormedRTPPacket(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	e, err := NewEgress(Config{
		Remote:      listener.LocalAddr().(*net.UDPAddr),
		PayloadType: 111,
		SSRC:        0xABCD,
		ClockRate:   48000,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	pcm := make([]byte, 960*2) // 20ms @ 48kHz mono, 16-bit
	if err := e.Write(pcm, 960); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2000)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}

	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("received packet did not parse as RTP: %v", err)
	}
	if pkt.SSRC != 0xABCD {
		t.Fatalf("SSRC = %x, want ABCD", pkt.SSRC)
	}
	if pkt.PayloadType != 111 {
		t.Fatalf("PayloadType = %d, want 111", pkt.PayloadType)
	}
	if pkt.SequenceNumber != 1 {
		t.Fatalf("SequenceNumber = %d, want 1", pkt.SequenceNumber)
	}
	if pkt.Timestamp != 960 {
		t.Fatalf("Timestamp = %d, want 960", pkt.Timestamp)
	}
	if len(pkt.Payload) != len(pcm) {
		t.Fatalf("payload length = %d, want %d (PCM passthrough without the opus build tag)", len(pkt.Payload), len(pcm))
	}
}

func TestWriteAdvancesSequenceAndTimestamp(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	e, err := NewEgress(Config{Remote: listener.LocalAddr().(*net.UDPAddr)})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	pcm := make([]byte, 320)
	for i := 0; i < 3; i++ {
		if err := e.Write(pcm, 160); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 2000)
		n, _, err := listener.ReadFromUDP(buf)
		if err != nil {
			t.Fatal(err)
		}
		var pkt pionrtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.Fatal(err)
		}
		if int(pkt.SequenceNumber) != i+1 {
			t.Fatalf("packet %d: SequenceNumber = %d, want %d", i, pkt.SequenceNumber, i+1)
		}
		if int(pkt.Timestamp) != (i+1)*160 {
			t.Fatalf("packet %d: Timestamp = %d, want %d", i, pkt.Timestamp, (i+1)*160)
		}
	}
}

func TestOpusEncoderStubAlwaysPassesThrough(t *testing.T) {
	enc := NewOpusEncoder(true, 48000, 32000, 5)
	if enc.IsEnabled() {
		t.Fatal("expected the non-opus build's stub encoder to report disabled")
	}
	pcm := []byte{1, 2, 3, 4}
	payload, format, err := enc.Encode(pcm)
	if err != nil {
		t.Fatal(err)
	}
	if format != "pcm" {
		t.Fatalf("format = %q, want pcm", format)
	}
	if string(payload) != string(pcm) {
		t.Fatalf("payload = %v, want passthrough of %v", payload, pcm)
	}
}
