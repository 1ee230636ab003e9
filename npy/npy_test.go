package npy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteFloat32HeaderMagicAndVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFloat32(&buf, []float32{1, 2, 3, 4}, []int{4}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	if !bytes.Equal(data[:6], magic) {
		t.Fatalf("magic = %v, want %v", data[:6], magic)
	}
	if data[6] != 1 || data[7] != 0 {
		t.Fatalf("version = %v, want [1 0]", data[6:8])
	}
}

func TestWriteFloat32HeaderLengthIsPaddedToSixtyFourByteBoundary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFloat32(&buf, []float32{1, 2, 3}, []int{3}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	headerLen := binary.LittleEndian.Uint16(data[8:10])
	total := 10 + int(headerLen)
	if total%64 != 0 {
		t.Fatalf("total preamble length %d is not a multiple of 64", total)
	}
	if data[10+int(headerLen)-1] != '\n' {
		t.Fatal("header must end with a newline")
	}
}

func TestWriteFloat32RoundTripsPayload(t *testing.T) {
	var buf bytes.Buffer
	want := []float32{1.5, -2.25, 3.75, 0}
	if err := WriteFloat32(&buf, want, []int{4}); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	headerLen := binary.LittleEndian.Uint16(data[8:10])
	payload := data[10+int(headerLen):]
	got := make([]float32, len(want))
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &got); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWriteFloat32RejectsMismatchedShape(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFloat32(&buf, []float32{1, 2, 3}, []int{2, 2}); err == nil {
		t.Fatal("expected an error for a shape that doesn't match the element count")
	}
}

func TestWriteComplex64InterleavesRealAndImaginary(t *testing.T) {
	var buf bytes.Buffer
	data := []complex64{complex(1, 2), complex(3, 4)}
	if err := WriteComplex64(&buf, data, []int{2}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	headerLen := binary.LittleEndian.Uint16(raw[8:10])
	payload := raw[10+int(headerLen):]
	var got [4]float32
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &got); err != nil {
		t.Fatal(err)
	}
	want := [4]float32{1, 2, 3, 4}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWriteArchiveBundlesOneEntryPerArray(t *testing.T) {
	var buf bytes.Buffer
	arrays := []Array{
		{Name: "psd", Data: []float32{1, 2}, Shape: []int{2}},
		{Name: "freqs", Data: []float32{100, 200}, Shape: []int{2}},
	}
	if err := WriteArchive(&buf, arrays); err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("got %d entries, want 2", len(zr.File))
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["psd.npy"] || !names["freqs.npy"] {
		t.Fatalf("got entries %v, want psd.npy and freqs.npy", names)
	}
}

func TestShapeTupleSingleDimensionHasTrailingComma(t *testing.T) {
	if got := shapeTuple([]int{5}); got != "5," {
		t.Fatalf("shapeTuple([5]) = %q, want %q", got, "5,")
	}
}

func TestShapeTupleMultiDimension(t *testing.T) {
	if got := shapeTuple([]int{2, 3}); got != "2, 3" {
		t.Fatalf("shapeTuple([2 3]) = %q, want %q", got, "2, 3")
	}
}
