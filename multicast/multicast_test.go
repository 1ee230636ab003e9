package multicast

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/skyloom-radio/sdrcore/wire"
)

func newTestFanout(t *testing.T, mtu int) *Fanout {
	t.Helper()
	f, err := NewFanout(Config{
		Group: &net.UDPAddr{IP: net.ParseIP("239.255.9.9"), Port: 9999},
		MTU:   mtu,
		Host:  "testhost",
	})
	if err != nil {
		t.Fatalf("NewFanout: %v", err)
	}
	t.Cleanup(func() { f.closeAll() })
	return f
}

// drainQueue pulls every fragment currently queued without blocking
// past the first empty read.
func drainQueue(f *Fanout) []wire.Fragment {
	var out []wire.Fragment
	for {
		msg, ok := f.queue.Poll()
		if !ok {
			return out
		}
		out = append(out, msg.Payload.(wire.Fragment))
	}
}

func TestEnqueuePSDSplitsAndReassembles(t *testing.T) {
	f := newTestFanout(t, 64) // small MTU forces multiple fragments

	frame := PSDFrame{
		Frequency: 100e6,
		SampRate:  48000,
		Timestamp: time.Unix(1000, 0),
		RTTime:    time.Unix(1000, 0),
		Vector:    make([]float32, 64),
	}
	for i := range frame.Vector {
		frame.Vector[i] = float32(i) * 0.5
	}
	want := frame.encode()

	f.EnqueuePSD(frame)
	frags := drainQueue(f)
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments for MTU=64, got %d", len(frags))
	}

	reassembled := make([]byte, 0, len(want))
	id := frags[0].ID
	for i, frag := range frags {
		if frag.Type != wire.SFPSD {
			t.Fatalf("fragment %d: Type = %v, want SFPSD", i, frag.Type)
		}
		if frag.ID != id {
			t.Fatalf("fragment %d: ID = %d, want %d (all fragments of one superframe share an id)", i, frag.ID, id)
		}
		if int(frag.Offset) != len(reassembled) {
			t.Fatalf("fragment %d: Offset = %d, want %d (no gap/overlap)", i, frag.Offset, len(reassembled))
		}
		if int(frag.SFSize) != len(want) {
			t.Fatalf("fragment %d: SFSize = %d, want %d", i, frag.SFSize, len(want))
		}
		reassembled = append(reassembled, frag.Payload...)
	}
	if !bytes.Equal(reassembled, want) {
		t.Fatalf("reassembled payload mismatch")
	}

	got, err := DecodePSDFrame(reassembled)
	if err != nil {
		t.Fatal(err)
	}
	if got.Frequency != frame.Frequency || got.SampRate != frame.SampRate {
		t.Fatalf("decoded frame = %+v", got)
	}
	for i := range got.Vector {
		if got.Vector[i] != frame.Vector[i] {
			t.Fatalf("Vector[%d] = %v, want %v", i, got.Vector[i], frame.Vector[i])
		}
	}
}

func TestEnqueueEncapRoundTripsThroughWire(t *testing.T) {
	f := newTestFanout(t, 1472)

	call := wire.Call{Type: wire.CallShutdown, Shutdown: &wire.ShutdownCall{Reason: "restart"}}
	if err := f.EnqueueEncap(call); err != nil {
		t.Fatal(err)
	}

	frags := drainQueue(f)
	if len(frags) != 1 {
		t.Fatalf("expected a single fragment for a small ENCAP payload, got %d", len(frags))
	}
	if frags[0].Type != wire.SFEncap {
		t.Fatalf("Type = %v, want SFEncap", frags[0].Type)
	}

	got, err := wire.Unpack(frags[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != wire.CallShutdown || got.Shutdown.Reason != "restart" {
		t.Fatalf("Unpack = %+v", got)
	}
}

func TestAnnouncePayloadRoundTrips(t *testing.T) {
	f := newTestFanout(t, 1472)
	f.cfg.Profiles = []string{"hf", "vhf"}

	f.enqueueAnnounce()
	frags := drainQueue(f)
	if len(frags) != 1 {
		t.Fatalf("expected one ANNOUNCE fragment, got %d", len(frags))
	}
	if frags[0].Type != wire.SFAnnounce {
		t.Fatalf("Type = %v, want SFAnnounce", frags[0].Type)
	}

	host, profiles, err := DecodeAnnouncePayload(frags[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if host != "testhost" || len(profiles) != 2 || profiles[0] != "hf" || profiles[1] != "vhf" {
		t.Fatalf("host = %q, profiles = %v", host, profiles)
	}
}

func TestShouldAnnounceSuppressedAfterRecentTx(t *testing.T) {
	f := newTestFanout(t, 1472)
	f.cfg.AnnounceStart = 100 * time.Millisecond

	f.lastTx.Store(time.Now().UnixNano())
	if f.shouldAnnounce() {
		t.Fatal("expected announce to be suppressed immediately after a tx")
	}

	f.lastTx.Store(time.Now().Add(-200 * time.Millisecond).UnixNano())
	if !f.shouldAnnounce() {
		t.Fatal("expected announce once AnnounceStart has elapsed since the last tx")
	}
}

func TestFragmentPoolProvidesMTUSizedBuffers(t *testing.T) {
	f := newTestFanout(t, 256)

	bufPtr := f.fragPool.Get().(*[]byte)
	if len(*bufPtr) != 256 {
		t.Fatalf("pooled buffer length = %d, want 256", len(*bufPtr))
	}
	f.fragPool.Put(bufPtr)

	// A second Get also yields a 256-byte buffer, whether the pool hands
	// back the one just returned or allocates a fresh one.
	again := f.fragPool.Get().(*[]byte)
	if len(*again) != 256 {
		t.Fatalf("reused buffer length = %d, want 256", len(*again))
	}
}

func TestSerializeFragmentMatchesWireReadFragment(t *testing.T) {
	frag := wire.Fragment{Type: wire.SFPSD, ID: 5, SFSize: 10, Offset: 3, Payload: []byte("abcdefg")}
	dst := make([]byte, wire.FragmentHeaderSize+len(frag.Payload))
	packet := serializeFragment(frag, dst)

	got, err := wire.ReadFragment(bytes.NewReader(packet))
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != frag.Type || got.ID != frag.ID || got.SFSize != frag.SFSize || got.Offset != frag.Offset {
		t.Fatalf("got = %+v, want %+v", got, frag)
	}
	if !bytes.Equal(got.Payload, frag.Payload) {
		t.Fatalf("Payload = %q, want %q", got.Payload, frag.Payload)
	}
}

func TestStartStopShutsDownPumpsCleanly(t *testing.T) {
	f := newTestFanout(t, 1472)
	f.cfg.AnnounceDelay = 5 * time.Millisecond
	f.Start()
	time.Sleep(20 * time.Millisecond)
	f.Stop()
}
