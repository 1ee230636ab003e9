// Package codec implements the symbol buffer chain and the codec class
// registry spec.md §4.P describes: a growable per-source symbol buffer
// that fans appended symbols out to plugged listeners, each keeping its
// own read cursor, plus an append-only registry of pluggable decoder
// classes. Grounded on original_source/analyzer/symbuf.c (the listener/
// cursor/append-and-fan-out shape) and original_source/codec/codec.c
// (the class registry). Builtin decoder classes live in codec/diff and
// codec/psk.
package codec

import (
	"fmt"
	"sync"
)

// Direction selects which way a codec class can run: forwards
// (encode), backwards (decode), or both.
type Direction int

const (
	DirectionForwards Direction = 1 << iota
	DirectionBackwards
)

const DirectionBoth = DirectionForwards | DirectionBackwards

// Progress reports a codec instance's advancement after one Process
// call, mirroring suscan_codec_progress.
type Progress struct {
	Updated  bool
	Fraction float64
	Message  string
}

// Instance is one constructed, stateful codec, bound to a bits-per-
// symbol width and a direction.
type Instance interface {
	// Process consumes data (one SUBITS value per byte) and appends
	// fully decoded symbols to result, returning the number of input
	// symbols consumed.
	Process(data []byte) (consumed int, result []byte, progress Progress, err error)

	// Close releases any state the instance holds.
	Close()
}

// Class is a registered codec kind: a constructor plus the bit width
// its output symbols carry relative to its input.
type Class interface {
	Name() string
	Directions() Direction

	// OutputBitsPerSymbol returns the width of this class's output
	// symbols given an input width, e.g. the π/m-mPSK class returns
	// inputBits-1.
	OutputBitsPerSymbol(inputBits int) int

	// New constructs a stateful instance for one symbol stream.
	New(bitsPerSymbol int, direction Direction, params map[string]string) (Instance, error)
}

// registry is the append-only, pre-thread-start class table spec.md
// §4.P calls for: classes register once at startup, so a simple
// mutex-guarded map (rather than container's tree) is all registration
// needs.
type registry struct {
	mu      sync.Mutex
	classes map[string]Class
}

var defaultRegistry = &registry{classes: make(map[string]Class)}

// Register adds class to the default registry under its own Name.
// Registering the same name twice is a programmer error.
func Register(class Class) error {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, exists := defaultRegistry.classes[class.Name()]; exists {
		return fmt.Errorf("codec: class %q already registered", class.Name())
	}
	defaultRegistry.classes[class.Name()] = class
	return nil
}

// Lookup returns the registered class named name, if any.
func Lookup(name string) (Class, bool) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	c, ok := defaultRegistry.classes[name]
	return c, ok
}

// Names returns every registered class name.
func Names() []string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	names := make([]string, 0, len(defaultRegistry.classes))
	for name := range defaultRegistry.classes {
		names = append(names, name)
	}
	return names
}

// Listener is a plugged consumer of a SymbolBuffer's appended symbols,
// the Go analogue of suscan_symbuf_listener_t: it keeps its own read
// cursor into the buffer and is notified of end-of-stream when
// unplugged.
type Listener struct {
	ptr     int
	plugged bool

	// OnData is called on every Append with everything from this
	// listener's cursor to the end of the buffer (the newly appended
	// symbols plus any it left unconsumed before; a view into the
	// buffer's own backing array, valid only for the duration of the
	// call) and must return how many symbols it consumed, which
	// advances this listener's cursor.
	OnData func(newData []byte) int

	// OnEOS, if set, is called once with whatever symbols this
	// listener had not yet consumed when it is unplugged.
	OnEOS func(remaining []byte)
}

// SymbolBuffer is a growable, append-only symbol stream with any
// number of plugged listeners, each fed only the data appended since
// it last read — the Go counterpart of suscan_symbuf_t. Not safe for
// concurrent use from multiple goroutines without external locking,
// matching the original's own "not thread safe" contract.
type SymbolBuffer struct {
	data      []byte
	listeners []*Listener
}

// NewSymbolBuffer returns an empty symbol buffer.
func NewSymbolBuffer() *SymbolBuffer {
	return &SymbolBuffer{}
}

// Plug registers l to receive every symbol appended from now on.
func (b *SymbolBuffer) Plug(l *Listener) {
	l.plugged = true
	l.ptr = len(b.data)
	b.listeners = append(b.listeners, l)
}

// Unplug removes l from the listener list, invoking its OnEOS callback
// (if set) with whatever trailing symbols it had not yet consumed.
func (b *SymbolBuffer) Unplug(l *Listener) bool {
	for i, cur := range b.listeners {
		if cur == l {
			if l.plugged && l.OnEOS != nil {
				l.OnEOS(b.data[l.ptr:])
			}
			l.plugged = false
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Append adds data to the buffer and feeds every plugged listener the
// newly available suffix, advancing each listener's cursor by however
// many symbols its OnData callback reports consuming.
func (b *SymbolBuffer) Append(data []byte) {
	b.data = append(b.data, data...)
	for _, l := range b.listeners {
		if len(b.data) > l.ptr {
			got := l.OnData(b.data[l.ptr:])
			l.ptr += got
		}
	}
}

// Bytes returns the full accumulated symbol buffer.
func (b *SymbolBuffer) Bytes() []byte { return b.data }

// Len returns the number of accumulated symbols.
func (b *SymbolBuffer) Len() int { return len(b.data) }
