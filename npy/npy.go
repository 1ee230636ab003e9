// Package npy writes NumPy .npy v1 arrays and bundles them into a .zip
// per dataset, the bit-exact format spec.md §6 requires for the
// spectrum CLI's file output. No library in the retrieved pack
// provides a NumPy array encoder (gonum's matrix types have no .npy
// writer, and no npyio-equivalent dependency is imported anywhere in
// the corpus), so this is written directly against the documented v1
// format using the standard library alone.
package npy

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var magic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

// WriteFloat32 writes a single .npy v1 file containing data, described
// by a little-endian float32 dtype ('<f4') and the given shape. shape
// must account for exactly len(data) elements.
func WriteFloat32(w io.Writer, data []float32, shape []int) error {
	if err := checkShape(shape, len(data)); err != nil {
		return err
	}
	header := buildHeader("<f4", shape)
	if err := writeHeader(w, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, data)
}

// WriteComplex64 writes a single .npy v1 file of complex64 values
// ('<c8': interleaved little-endian real/imaginary float32 pairs),
// matching the native sample layout spec.md §6's wire-byte-order
// section describes.
func WriteComplex64(w io.Writer, data []complex64, shape []int) error {
	if err := checkShape(shape, len(data)); err != nil {
		return err
	}
	header := buildHeader("<c8", shape)
	if err := writeHeader(w, header); err != nil {
		return err
	}
	pairs := make([]float32, 0, len(data)*2)
	for _, c := range data {
		pairs = append(pairs, real(c), imag(c))
	}
	return binary.Write(w, binary.LittleEndian, pairs)
}

func checkShape(shape []int, n int) error {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if len(shape) == 0 {
		total = n
	}
	if total != n {
		return fmt.Errorf("npy: shape %v does not match %d elements", shape, n)
	}
	return nil
}

// buildHeader renders the NumPy v1 ASCII header dict, padded with
// spaces so that len(magic)+2(version)+2(header-len-field)+len(header)
// is a multiple of 64, and terminated with a newline as the format
// requires.
func buildHeader(descr string, shape []int) []byte {
	shapeStr := shapeTuple(shape)
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)

	const prefixLen = 6 + 2 + 2 // magic + version + header-length field
	total := prefixLen + len(dict) + 1
	pad := (64 - total%64) % 64
	dict += strings.Repeat(" ", pad)
	dict += "\n"
	return []byte(dict)
}

func shapeTuple(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	s := strings.Join(parts, ", ")
	if len(shape) == 1 {
		s += ","
	}
	return s
}

func writeHeader(w io.Writer, header []byte) error {
	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if len(header) > 0xFFFF {
		return fmt.Errorf("npy: header too long (%d bytes)", len(header))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	_, err := w.Write(header)
	return err
}

// Array is one named float32 array destined for an archive entry.
type Array struct {
	Name  string
	Data  []float32
	Shape []int
}

// WriteArchive bundles one or more arrays into a .zip dataset, one
// .npy entry per array, matching spec.md §6's "one file per logical
// array, bundled into a .zip per dataset".
func WriteArchive(w io.Writer, arrays []Array) error {
	zw := zip.NewWriter(w)
	for _, a := range arrays {
		entry, err := zw.Create(a.Name + ".npy")
		if err != nil {
			return fmt.Errorf("npy: creating archive entry %q: %w", a.Name, err)
		}
		var buf bytes.Buffer
		if err := WriteFloat32(&buf, a.Data, a.Shape); err != nil {
			return fmt.Errorf("npy: encoding array %q: %w", a.Name, err)
		}
		if _, err := entry.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("npy: writing archive entry %q: %w", a.Name, err)
		}
	}
	return zw.Close()
}
