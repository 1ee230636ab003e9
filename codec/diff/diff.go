// Package diff implements the generic differential decoder codec
// class spec.md §4.P names: it decodes a symbol stream by comparing
// each symbol to its predecessor modulo the symbol alphabet size,
// optionally inverting the sign of the comparison. Grounded on
// original_source/codec/codecs/diff.c's suscan_codec_diff_ctor/
// _process (the `sign`/Invert config field, modulo-M subtraction, one
// su_codec_t worth of state per instance).
package diff

import (
	"fmt"

	"github.com/skyloom-radio/sdrcore/codec"
)

func init() {
	_ = codec.Register(Class{})
}

// Class is the differential decoder's codec.Class: both directions,
// output symbols the same width as input.
type Class struct{}

func (Class) Name() string                            { return "diff" }
func (Class) Directions() codec.Direction              { return codec.DirectionBoth }
func (Class) OutputBitsPerSymbol(inputBits int) int    { return inputBits }

// New constructs a differential instance. params["invert"] == "true"
// flips the subtraction order, matching the original's `sign` boolean
// config field.
func (Class) New(bitsPerSymbol int, direction codec.Direction, params map[string]string) (codec.Instance, error) {
	if bitsPerSymbol < 1 || bitsPerSymbol > 8 {
		return nil, fmt.Errorf("diff: bits_per_symbol must be in [1, 8], got %d", bitsPerSymbol)
	}
	return &instance{
		modulus: 1 << uint(bitsPerSymbol),
		invert:  params["invert"] == "true",
		hasPrev: false,
	}, nil
}

type instance struct {
	modulus int
	invert  bool
	hasPrev bool
	prev    byte
}

// Process differentially decodes data into a new slice: every symbol after the
// first produces exactly one output symbol, so Process always reports
// consuming the entirety of data.
func (in *instance) Process(data []byte) (consumed int, result []byte, progress codec.Progress, err error) {
	result = make([]byte, 0, len(data))
	for _, cur := range data {
		if in.hasPrev {
			result = append(result, in.decode(cur))
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
