package cbor

import (
	"testing"

	"github.com/skyloom-radio/sdrcore/buf"
)

func TestIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 23, 24, 255, 256, 65535, 65536, -1, -24, -25, -1 << 40}
	for _, v := range cases {
		b := buf.New()
		if err := PackInt(b, v); err != nil {
			t.Fatalf("pack %d: %v", v, err)
		}
		b.Seek(0, buf.SeekStart)
		var got int64
		if err := UnpackInt(b, &got); err != nil {
			t.Fatalf("unpack %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip %d got %d", v, got)
		}
		if b.Ptr() != b.Size() {
			t.Fatalf("cursor not fully advanced for %d: ptr=%d size=%d", v, b.Ptr(), b.Size())
		}
	}
}

func TestStrRoundTrip(t *testing.T) {
	b := buf.New()
	if err := PackStr(b, "hello, sdr"); err != nil {
		t.Fatal(err)
	}
	b.Seek(0, buf.SeekStart)
	s, err := UnpackStr(b)
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello, sdr" {
		t.Fatalf("got %q", s)
	}
}

func TestTransactionalUnpackLeavesCursorOnFailure(t *testing.T) {
	b := buf.New()
	PackStr(b, "not a uint")
	b.Seek(0, buf.SeekStart)
	before := b.Ptr()
	var v uint64
	if err := UnpackUint(b, &v); err == nil {
		t.Fatal("expected failure unpacking a string as uint")
	}
	if b.Ptr() != before {
		t.Fatalf("cursor moved on failed unpack: before=%d after=%d", before, b.Ptr())
	}
}

func TestIndefiniteArray(t *testing.T) {
	b := buf.New()
	if err := PackArrayStart(b, UnknownLen); err != nil {
		t.Fatal(err)
	}
	PackUint(b, 1)
	PackUint(b, 2)
	PackUint(b, 3)
	if err := PackArrayEnd(b, UnknownLen); err != nil {
		t.Fatal(err)
	}

	b.Seek(0, buf.SeekStart)
	n, endReq, err := UnpackArrayStart(b)
	if err != nil {
		t.Fatal(err)
	}
	if !endReq || n != 0 {
		t.Fatalf("expected indefinite array, got n=%d endReq=%v", n, endReq)
	}
	var vals []uint64
	for i := 0; i < 3; i++ {
		var v uint64
		if err := UnpackUint(b, &v); err != nil {
			t.Fatal(err)
		}
		vals = append(vals, v)
	}
	if err := UnpackArrayEnd(b, endReq); err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 || vals[0] != 1 || vals[2] != 3 {
		t.Fatalf("unexpected values: %v", vals)
	}
}

func TestBoolAndNull(t *testing.T) {
	b := buf.New()
	PackBool(b, true)
	PackBool(b, false)
	PackNull(b)
	b.Seek(0, buf.SeekStart)

	v, err := UnpackBool(b)
	if err != nil || !v {
		t.Fatalf("true: v=%v err=%v", v, err)
	}
	v, err = UnpackBool(b)
	if err != nil || v {
		t.Fatalf("false: v=%v err=%v", v, err)
	}
	if err := UnpackNull(b); err != nil {
		t.Fatal(err)
	}
}

func TestFloatRoundTrip(t *testing.T) {
	b := buf.New()
	PackFloat32(b, 3.25)
	PackFloat64(b, -1.5e10)
	b.Seek(0, buf.SeekStart)

	f32, err := UnpackFloat32(b)
	if err != nil || f32 != 3.25 {
		t.Fatalf("f32=%v err=%v", f32, err)
	}
	f64, err := UnpackFloat64(b)
	if err != nil || f64 != -1.5e10 {
		t.Fatalf("f64=%v err=%v", f64, err)
	}
}
