// Package psk implements the π/m-mPSK differential decoder codec
// class spec.md §4.P names: the same modulo-M differential comparison
// codec/diff performs, but restricted to the backwards (decode)
// direction, requiring at least 2 bits per symbol, and discarding the
// low bit of every decoded symbol since a π/m-mPSK constellation's
// absolute phase ambiguity spans half as many states as its raw symbol
// count. Grounded on original_source/codec/codecs/diff.c's
// pim_dpsk_class, which shares suscan_codec_diff_ctor/_process with
// the generic diff_class and differs only in its registered
// description, direction mask, and a `c >>= 1` applied to each decoded
// symbol.
package psk

import (
	"fmt"

	"github.com/skyloom-radio/sdrcore/codec"
)

func init() {
	_ = codec.Register(Class{})
}

// Class is the π/m-mPSK decoder's codec.Class: backwards-only, output
// one bit narrower than input.
type Class struct{}

func (Class) Name() string                 { return "pi_m_mpsk" }
func (Class) Directions() codec.Direction  { return codec.DirectionBackwards }
func (Class) OutputBitsPerSymbol(inputBits int) int {
	return inputBits - 1
}

// New constructs a π/m-mPSK decoder instance. params["invert"] ==
// "true" flips the differential subtraction order, as in codec/diff.
func (Class) New(bitsPerSymbol int, direction codec.Direction, params map[string]string) (codec.Instance, error) {
	if bitsPerSymbol < 2 {
		return nil, fmt.Errorf("pi_m_mpsk: bits_per_symbol must be at least 2, got %d", bitsPerSymbol)
	}
	if direction != codec.DirectionBackwards {
		return nil, fmt.Errorf("pi_m_mpsk: only the backwards (decode) direction is supported")
	}
	return &instance{
		modulus: 1 << uint(bitsPerSymbol),
		invert:  params["invert"] == "true",
	}, nil
}

type instance struct {
	modulus int
	invert  bool
	hasPrev bool
	prev    byte
}

func (in *instance) Process(data []byte) (consumed int, result []byte, progress codec.Progress, err error) {
	result = make([]byte, 0, len(data))
	for _, cur := range data {
		if in.hasPrev {
			result = append(result, in.decode(cur)>>1)
		}
		in.prev = cur
		in.hasPrev = true
	}
	progress.Updated = true
	return len(data), result, progress, nil
}

func (in *instance) decode(cur byte) byte {
	m := in.modulus
	var diff int
	if in.invert {
		diff = (int(in.prev) - int(cur)) % m
	} else {
		diff = (int(cur) - int(in.prev)) % m
	}
	if diff < 0 {
		diff += m
	}
	return byte(diff)
}

func (in *instance) Close() {}
