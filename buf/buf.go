// Package buf implements the append-only growable byte buffer shared by
// every wire codec in sdrcore: CBOR packing, superframe framing and the
// symbol buffer chain all read and write through a *Buffer.
package buf

import (
	"errors"
	"io"
)

// ErrLoanedOverflow is returned when an append would grow a loaned buffer
// past its fixed capacity.
var ErrLoanedOverflow = errors.New("buf: loaned buffer cannot grow past capacity")

// Whence selects the origin for Seek, mirroring io.Seeker.
type Whence int

const (
	SeekStart   Whence = iota // from the beginning of the buffer
	SeekCurrent               // from the current read cursor
	SeekEnd                   // from the end of the written data
)

// Buffer is an append-only byte buffer with a separate read cursor.
//
// In owned mode it grows by reallocating its backing slice. In loaned mode
// it wraps caller-owned storage of fixed capacity and refuses to grow past
// it, matching grow_buf_t's loan semantics in the original C implementation.
type Buffer struct {
	data   []byte
	ptr    int
	loaned bool
}

// New returns an empty, growable owned buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewFrom wraps an existing byte slice as owned data, read cursor at 0.
func NewFrom(data []byte) *Buffer {
	return &Buffer{data: data}
}

// NewLoan wraps external storage of the given capacity. size is the number
// of already-valid bytes at the front of region; the buffer may never
// append past cap(region), and appends write into region's backing
// array.
func NewLoan(region []byte, size int) *Buffer {
	return &Buffer{data: region[:size], loaned: true}
}

// Append writes p to the end of the buffer, advancing its size but not its
// read cursor. It fails with ErrLoanedOverflow if the buffer is loaned and
// p would not fit in the region's capacity.
func (b *Buffer) Append(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.loaned {
		if len(b.data)+len(p) > cap(b.data) {
			return 0, ErrLoanedOverflow
		}
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

// Read copies up to len(into) bytes starting at the read cursor, advancing
// it by the number of bytes copied. It returns io.EOF once the cursor
// reaches the end of the written data.
func (b *Buffer) Read(into []byte) (int, error) {
	if b.ptr >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(into, b.data[b.ptr:])
	b.ptr += n
	return n, nil
}

// Seek repositions the read cursor per whence, returning the new absolute
// offset. Seeking past the end is permitted (future Reads return io.EOF);
// seeking before the start is an error.
func (b *Buffer) Seek(offset int, whence Whence) (int, error) {
	var base int
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = b.ptr
	case SeekEnd:
		base = len(b.data)
	default:
		return b.ptr, errors.New("buf: invalid whence")
	}
	n := base + offset
	if n < 0 {
		return b.ptr, errors.New("buf: negative seek")
	}
	b.ptr = n
	return b.ptr, nil
}

// Ptr returns the current read cursor offset.
func (b *Buffer) Ptr() int { return b.ptr }

// Size returns the total number of bytes written to the buffer.
func (b *Buffer) Size() int { return len(b.data) }

// Avail returns the number of unread bytes remaining from the cursor.
func (b *Buffer) Avail() int {
	if b.ptr >= len(b.data) {
		return 0
	}
	return len(b.data) - b.ptr
}

// CurrentData returns the unread tail of the buffer without copying or
// advancing the cursor. Callers must not retain it across further Appends
// on an owned buffer, since those may reallocate the backing array.
func (b *Buffer) CurrentData() []byte {
	if b.ptr >= len(b.data) {
		return nil
	}
	return b.data[b.ptr:]
}

// Bytes returns the full written region, from offset 0, ignoring the read
// cursor.
func (b *Buffer) Bytes() []byte { return b.data }

// Finalize releases the buffer's backing storage. Owned buffers simply
// drop their slice; it exists for parity with the C grow_buf_finalize,
// which frees explicitly-allocated memory.
func (b *Buffer) Finalize() {
	b.data = nil
	b.ptr = 0
}

// Clone returns an independent loaned buffer over the unread tail of b,
// sharing the same backing array but with its own read cursor set to 0.
// CBOR unpacking uses this to implement transactional reads: it operates
// on the clone, and only syncs b's cursor forward on success.
func (b *Buffer) Clone() *Buffer {
	return NewLoan(b.CurrentData(), len(b.CurrentData()))
}

// Sync advances b's read cursor by the number of bytes consumed from a
// clone obtained via Clone. Call this only after a clone-based operation
// has fully succeeded.
func (b *Buffer) Sync(clone *Buffer) error {
	_, err := b.Seek(clone.Ptr(), SeekCurrent)
	return err
}
