package stdin

import (
	"math"
	"testing"
)

func TestConvU8DividesBy255(t *testing.T) {
	out := make([]complex64, 1)
	n := convU8([]byte{255}, out)
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
	if real(out[0]) != 1.0 {
		t.Fatalf("expected 255/255=1.0, got %v", real(out[0]))
	}
}

func TestConvCU8DividesBy255(t *testing.T) {
	out := make([]complex64, 1)
	n := convCU8([]byte{0, 255}, out)
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
	if real(out[0]) != 0 || imag(out[0]) != 1.0 {
		t.Fatalf("got %v", out[0])
	}
}

func TestConvS16DividesBy65535NotFullRange(t *testing.T) {
	out := make([]complex64, 1)
	// int16 max (32767) little-endian
	n := convS16([]byte{0xff, 0x7f}, out)
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
	got := real(out[0])
	want := float32(32767) / 65535
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("got %v want %v (full-range divisor would give ~0.99997)", got, want)
	}
}

func TestConvF32RoundTrip(t *testing.T) {
	raw := make([]byte, 4)
	bits := math.Float32bits(0.5)
	raw[0] = byte(bits)
	raw[1] = byte(bits >> 8)
	raw[2] = byte(bits >> 16)
	raw[3] = byte(bits >> 24)

	out := make([]complex64, 1)
	n := convF32(raw, out)
	if n != 1 || real(out[0]) != 0.5 {
		t.Fatalf("got n=%d v=%v", n, out[0])
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	if _, ok := converters["bogus"]; ok {
		t.Fatal("unexpected converter for bogus format")
	}
}
