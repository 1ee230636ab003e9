package psk

import (
	"testing"

	"github.com/skyloom-radio/sdrcore/codec"
)

func TestNewRejectsTooFewBits(t *testing.T) {
	if _, err := (Class{}).New(1, codec.DirectionBackwards, nil); err == nil {
		t.Fatal("expected an error for bits_per_symbol = 1")
	}
}

func TestNewRejectsForwardsDirection(t *testing.T) {
	if _, err := (Class{}).New(3, codec.DirectionForwards, nil); err == nil {
		t.Fatal("expected an error for the forwards direction")
	}
}

func TestProcessShedsLowBit(t *testing.T) {
	inst, err := (Class{}).New(3, codec.DirectionBackwards, nil)
	if err != nil {
		t.Fatal(err)
	}
	// modulus = 8; 0 -> 3 differs by 3 (0b011), shifted right drops to 1.
	_, out, _, err := inst.Process([]byte{0, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("got %v, want [1]", out)
	}
}

func TestOutputBitsPerSymbolIsOneNarrower(t *testing.T) {
	var c Class
	if got := c.OutputBitsPerSymbol(4); got != 3 {
		t.Fatalf("OutputBitsPerSymbol(4) = %d, want 3", got)
	}
}

func TestInvertFlipsSubtractionOrder(t *testing.T) {
	fwd, _ := (Class{}).New(3, codec.DirectionBackwards, nil)
	_, fwdOut, _, _ := fwd.Process([]byte{0, 3, 1})

	inv, _ := (Class{}).New(3, codec.DirectionBackwards, map[string]string{"invert": "true"})
	_, invOut, _, _ := inv.Process([]byte{0, 3, 1})

	if len(fwdOut) != len(invOut) {
		t.Fatalf("output lengths differ: %d vs %d", len(fwdOut), len(invOut))
	}
	// modulus = 8: forward diffs are 3 and 6 (>>1: 1, 3); inverted diffs
	// are 5 and 2 (>>1: 2, 1).
	if string(fwdOut) != string([]byte{1, 3}) {
		t.Fatalf("forward got %v, want [1 3]", fwdOut)
	}
	if string(invOut) != string([]byte{2, 1}) {
		t.Fatalf("inverted got %v, want [2 1]", invOut)
	}
}

func TestClassMetadata(t *testing.T) {
	var c Class
	if c.Name() != "pi_m_mpsk" {
		t.Fatalf("Name() = %q, want pi_m_mpsk", c.Name())
	}
	if c.Directions() != codec.DirectionBackwards {
		t.Fatal("pi_m_mpsk must be backwards-only")
	}
}

func TestClassIsRegistered(t *testing.T) {
	if _, ok := codec.Lookup("pi_m_mpsk"); !ok {
		t.Fatal(`expected "pi_m_mpsk" to be registered via init()`)
	}
}
