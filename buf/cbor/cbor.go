// Package cbor implements the subset of CBOR (RFC 7049) used by sdrcore's
// wire protocol: unsigned/negative/signed integers, byte and text strings,
// booleans, null, single/double floats, and definite- or indefinite-length
// arrays and maps. All multi-byte integers are big-endian, matching the
// encoding used throughout the rest of the wire format.
//
// Unpacking is transactional: every Unpack* function operates on a cloned
// cursor (buf.Buffer.Clone) and only advances the caller's buffer on
// success, so a malformed byte never leaves the cursor in a partially
// consumed state.
package cbor

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/skyloom-radio/sdrcore/buf"
)

// ErrMalformed is wrapped by every decode failure: bad major type, short
// read, additional-info out of range, or overflow converting to the
// requested Go type.
var ErrMalformed = errors.New("cbor: malformed input")

// UnknownLen marks an indefinite-length array or map on Pack calls.
const UnknownLen = ^uint64(0)

type majorType uint8

const (
	mtUint  majorType = 0
	mtNint  majorType = 1
	mtByte  majorType = 2
	mtText  majorType = 3
	mtArray majorType = 4
	mtMap   majorType = 5
	mtFloat majorType = 7
)

const (
	addlUint8     = 24
	addlUint16    = 25
	addlUint32    = 26
	addlUint64    = 27
	addlIndef     = 31
	addlFalse     = 20
	addlTrue      = 21
	addlNull      = 22
	addlFloat32   = 26
	addlFloat64   = 27
	addlBreak     = 31
)

func typeByte(t majorType, additional uint8) byte {
	return byte(t)<<5 | additional
}

func packType(b *buf.Buffer, t majorType, additional uint64) error {
	if additional <= 23 {
		_, err := b.Append([]byte{typeByte(t, uint8(additional))})
		return err
	}
	var hdr uint8
	var enc []byte
	switch {
	case additional <= 0xff:
		hdr = addlUint8
		enc = []byte{uint8(additional)}
	case additional <= 0xffff:
		hdr = addlUint16
		enc = make([]byte, 2)
		binary.BigEndian.PutUint16(enc, uint16(additional))
	case additional <= 0xffffffff:
		hdr = addlUint32
		enc = make([]byte, 4)
		binary.BigEndian.PutUint32(enc, uint32(additional))
	default:
		hdr = addlUint64
		enc = make([]byte, 8)
		binary.BigEndian.PutUint64(enc, additional)
	}
	if _, err := b.Append([]byte{typeByte(t, hdr)}); err != nil {
		return err
	}
	_, err := b.Append(enc)
	return err
}

// PackUint appends an unsigned integer.
func PackUint(b *buf.Buffer, v uint64) error { return packType(b, mtUint, v) }

// PackNint appends a CBOR "negative" major-type value whose encoded
// argument is v (i.e. the encoded number is -(v+1)).
func PackNint(b *buf.Buffer, v uint64) error { return packType(b, mtNint, v) }

// PackInt appends a signed integer, picking the uint or nint major type.
func PackInt(b *buf.Buffer, v int64) error {
	if v < 0 {
		return PackNint(b, uint64(-(v + 1)))
	}
	return PackUint(b, uint64(v))
}

// PackBlob appends a byte string.
func PackBlob(b *buf.Buffer, data []byte) error {
	if err := packType(b, mtByte, uint64(len(data))); err != nil {
		return err
	}
	_, err := b.Append(data)
	return err
}

// PackStr appends a UTF-8 text string.
func PackStr(b *buf.Buffer, s string) error {
	if err := packType(b, mtText, uint64(len(s))); err != nil {
		return err
	}
	_, err := b.Append([]byte(s))
	return err
}

// PackBool appends a boolean (encoded in the float major type, per CBOR).
func PackBool(b *buf.Buffer, v bool) error {
	additional := uint8(addlFalse)
	if v {
		additional = addlTrue
	}
	_, err := b.Append([]byte{typeByte(mtFloat, additional)})
	return err
}

// PackNull appends a null value.
func PackNull(b *buf.Buffer) error {
	_, err := b.Append([]byte{typeByte(mtFloat, addlNull)})
	return err
}

// PackBreak appends an indefinite-length terminator.
func PackBreak(b *buf.Buffer) error {
	_, err := b.Append([]byte{typeByte(mtFloat, addlBreak)})
	return err
}

// PackFloat32 appends a single-precision float.
func PackFloat32(b *buf.Buffer, v float32) error {
	if _, err := b.Append([]byte{typeByte(mtFloat, addlFloat32)}); err != nil {
		return err
	}
	enc := make([]byte, 4)
	binary.BigEndian.PutUint32(enc, math.Float32bits(v))
	_, err := b.Append(enc)
	return err
}

// PackFloat64 appends a double-precision float.
func PackFloat64(b *buf.Buffer, v float64) error {
	if _, err := b.Append([]byte{typeByte(mtFloat, addlFloat64)}); err != nil {
		return err
	}
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, math.Float64bits(v))
	_, err := b.Append(enc)
	return err
}

// PackArrayStart appends an array header. Pass UnknownLen for an
// indefinite-length array, which must be closed with PackArrayEnd.
func PackArrayStart(b *buf.Buffer, nelem uint64) error {
	if nelem == UnknownLen {
		_, err := b.Append([]byte{typeByte(mtArray, addlIndef)})
		return err
	}
	return packType(b, mtArray, nelem)
}

// PackArrayEnd closes an indefinite-length array; it is a no-op for
// definite-length ones.
func PackArrayEnd(b *buf.Buffer, nelem uint64) error {
	if nelem == UnknownLen {
		return PackBreak(b)
	}
	return nil
}

// PackMapStart appends a map header. Pass UnknownLen for an
// indefinite-length map, which must be closed with PackMapEnd.
func PackMapStart(b *buf.Buffer, npairs uint64) error {
	if npairs == UnknownLen {
		_, err := b.Append([]byte{typeByte(mtMap, addlIndef)})
		return err
	}
	return packType(b, mtMap, npairs)
}

// PackMapEnd closes an indefinite-length map; a no-op for definite-length
// ones.
func PackMapEnd(b *buf.Buffer, npairs uint64) error {
	if npairs == UnknownLen {
		return PackBreak(b)
	}
	return nil
}

func readTypeByte(b *buf.Buffer) (majorType, uint8, error) {
	var one [1]byte
	n, err := b.Read(one[:])
	if err != nil || n != 1 {
		return 0, 0, ErrMalformed
	}
	return majorType(one[0] >> 5), one[0] & 0x1f, nil
}

func readAddlBytes(b *buf.Buffer, extra uint8) (uint64, error) {
	var size int
	switch extra {
	case addlUint8:
		size = 1
	case addlUint16:
		size = 2
	case addlUint32:
		size = 4
	case addlUint64:
		size = 8
	default:
		if extra > 23 {
			return 0, ErrMalformed
		}
		return uint64(extra), nil
	}
	if b.Avail() < size {
		return 0, ErrMalformed
	}
	raw := b.CurrentData()[:size]
	var v uint64
	switch size {
	case 1:
		v = uint64(raw[0])
	case 2:
		v = uint64(binary.BigEndian.Uint16(raw))
	case 4:
		v = uint64(binary.BigEndian.Uint32(raw))
	case 8:
		v = binary.BigEndian.Uint64(raw)
	}
	if _, err := b.Seek(size, buf.SeekCurrent); err != nil {
		return 0, err
	}
	return v, nil
}

func unpackInt(b *buf.Buffer, expect majorType) (uint64, error) {
	t, extra, err := readTypeByte(b)
	if err != nil {
		return 0, err
	}
	if t != expect {
		return 0, ErrMalformed
	}
	return readAddlBytes(b, extra)
}

// UnpackUint reads an unsigned integer.
func UnpackUint(b *buf.Buffer, v *uint64) error {
	c := b.Clone()
	n, err := unpackInt(c, mtUint)
	if err != nil {
		return err
	}
	*v = n
	return b.Sync(c)
}

// UnpackNint reads a CBOR negative-major-type value into its unsigned
// magnitude (the actual number is -(v+1)).
func UnpackNint(b *buf.Buffer, v *uint64) error {
	c := b.Clone()
	n, err := unpackInt(c, mtNint)
	if err != nil {
		return err
	}
	*v = n
	return b.Sync(c)
}

// UnpackInt reads a signed integer, trying the uint major type first and
// falling back to nint.
func UnpackInt(b *buf.Buffer, v *int64) error {
	c := b.Clone()
	var u uint64
	if n, err := unpackInt(c, mtUint); err == nil {
		if n > math.MaxInt64 {
			return ErrMalformed
		}
		*v = int64(n)
		return b.Sync(c)
	}
	c = b.Clone()
	n, err := unpackInt(c, mtNint)
	if err != nil {
		return ErrMalformed
	}
	u = n
	if u > uint64(math.MaxInt64) {
		return ErrMalformed
	}
	*v = -int64(u) - 1
	return b.Sync(c)
}

// UnpackBlob reads a byte string.
func UnpackBlob(b *buf.Buffer) ([]byte, error) {
	c := b.Clone()
	n, err := unpackInt(c, mtByte)
	if err != nil {
		return nil, err
	}
	if n > uint64(c.Avail()) {
		return nil, ErrMalformed
	}
	out := make([]byte, n)
	if _, err := c.Read(out); err != nil {
		return nil, ErrMalformed
	}
	if err := b.Sync(c); err != nil {
		return nil, err
	}
	return out, nil
}

// UnpackStr reads a UTF-8 text string.
func UnpackStr(b *buf.Buffer) (string, error) {
	c := b.Clone()
	n, err := unpackInt(c, mtText)
	if err != nil {
		return "", err
	}
	if n > uint64(c.Avail()) {
		return "", ErrMalformed
	}
	out := make([]byte, n)
	if _, err := c.Read(out); err != nil {
		return "", ErrMalformed
	}
	if err := b.Sync(c); err != nil {
		return "", err
	}
	return string(out), nil
}

func unpackFloatExtra(b *buf.Buffer) (uint8, error) {
	t, extra, err := readTypeByte(b)
	if err != nil {
		return 0, err
	}
	if t != mtFloat {
		return 0, ErrMalformed
	}
	switch extra {
	case addlFalse, addlTrue, addlNull, addlBreak, addlFloat32, addlFloat64:
		return extra, nil
	}
	return 0, ErrMalformed
}

// UnpackBool reads a boolean.
func UnpackBool(b *buf.Buffer) (bool, error) {
	c := b.Clone()
	extra, err := unpackFloatExtra(c)
	if err != nil {
		return false, err
	}
	var v bool
	switch extra {
	case addlFalse:
		v = false
	case addlTrue:
		v = true
	default:
		return false, ErrMalformed
	}
	return v, b.Sync(c)
}

// UnpackNull consumes a null value.
func UnpackNull(b *buf.Buffer) error {
	c := b.Clone()
	extra, err := unpackFloatExtra(c)
	if err != nil {
		return err
	}
	if extra != addlNull {
		return ErrMalformed
	}
	return b.Sync(c)
}

// UnpackBreak consumes an indefinite-length terminator.
func UnpackBreak(b *buf.Buffer) error {
	c := b.Clone()
	extra, err := unpackFloatExtra(c)
	if err != nil {
		return err
	}
	if extra != addlBreak {
		return ErrMalformed
	}
	return b.Sync(c)
}

// UnpackFloat32 reads a single-precision float.
func UnpackFloat32(b *buf.Buffer) (float32, error) {
	c := b.Clone()
	extra, err := unpackFloatExtra(c)
	if err != nil || extra != addlFloat32 {
		return 0, ErrMalformed
	}
	if c.Avail() < 4 {
		return 0, ErrMalformed
	}
	bits := binary.BigEndian.Uint32(c.CurrentData()[:4])
	if _, err := c.Seek(4, buf.SeekCurrent); err != nil {
		return 0, err
	}
	if err := b.Sync(c); err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// UnpackFloat64 reads a double-precision float.
func UnpackFloat64(b *buf.Buffer) (float64, error) {
	c := b.Clone()
	extra, err := unpackFloatExtra(c)
	if err != nil || extra != addlFloat64 {
		return 0, ErrMalformed
	}
	if c.Avail() < 8 {
		return 0, ErrMalformed
	}
	bits := binary.BigEndian.Uint64(c.CurrentData()[:8])
	if _, err := c.Seek(8, buf.SeekCurrent); err != nil {
		return 0, err
	}
	if err := b.Sync(c); err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func unpackArrayMapStart(b *buf.Buffer, expect majorType) (uint64, bool, error) {
	t, extra, err := readTypeByte(b)
	if err != nil {
		return 0, false, err
	}
	if t != expect {
		return 0, false, ErrMalformed
	}
	if extra == addlIndef {
		return 0, true, nil
	}
	n, err := readAddlBytes(b, extra)
	return n, false, err
}

// UnpackArrayStart reads an array header, returning its element count
// (when definite-length) and whether PackArrayEnd/UnpackArrayEnd is
// required (indefinite-length, terminated by a break marker).
func UnpackArrayStart(b *buf.Buffer) (nelem uint64, endRequired bool, err error) {
	c := b.Clone()
	n, indef, err := unpackArrayMapStart(c, mtArray)
	if err != nil {
		return 0, false, err
	}
	return n, indef, b.Sync(c)
}

// UnpackArrayEnd consumes the break marker of an indefinite-length array;
// a no-op when endRequired is false.
func UnpackArrayEnd(b *buf.Buffer, endRequired bool) error {
	if !endRequired {
		return nil
	}
	return UnpackBreak(b)
}

// UnpackMapStart reads a map header, returning its pair count (when
// definite-length) and whether UnpackMapEnd must consume a break marker.
func UnpackMapStart(b *buf.Buffer) (npairs uint64, endRequired bool, err error) {
	c := b.Clone()
	n, indef, err := unpackArrayMapStart(c, mtMap)
	if err != nil {
		return 0, false, err
	}
	return n, indef, b.Sync(c)
}

// UnpackMapEnd consumes the break marker of an indefinite-length map; a
// no-op when endRequired is false.
func UnpackMapEnd(b *buf.Buffer, endRequired bool) error {
	if !endRequired {
		return nil
	}
	return UnpackBreak(b)
}
