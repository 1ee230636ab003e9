// Package source implements the polymorphic SDR sample-producer
// abstraction (component E): a common Source interface plus a set of
// small optional interfaces whose presence on a concrete value governs
// which controls the local analyzer exposes to clients. Concrete
// variants live in source/file, source/tonegen, source/stdin, and
// source/radiod.
package source

import (
	"context"
	"time"

	"github.com/skyloom-radio/sdrcore/container"
)

// Type enumerates the recognized source kinds.
type Type int

const (
	TypeFile Type = iota
	TypeSoapySDR
	TypeStdin
	TypeToneGenerator
	TypeRemote
)

// Format enumerates the recognized raw sample encodings.
type Format int

const (
	FormatAuto Format = iota
	FormatRawF32
	FormatRawU8
	FormatRawS16
	FormatRawS8
	FormatWAV
	FormatSigMF
)

// GainEntry is one named, per-element gain value in a Config's gain
// list.
type GainEntry struct {
	Name  string
	Value float64
}

// Config is the source configuration data model: the mapping of
// recognized options held by a source abstraction, passed to a
// variant's Open.
type Config struct {
	Type   Type
	Format Format

	Freq       float64
	LNBFreq    float64
	Bandwidth  float64
	SampRate   float64
	PPM        float64
	StartTime  time.Time
	IQBalance  bool
	DCRemove   bool
	Loop       bool
	Average    int
	Channel    int
	Antenna    string
	Gains      []GainEntry
	DeviceSpec *DeviceSpec

	// Path is the filesystem path for TypeFile sources and the format
	// hint input for TypeStdin; unused by TypeSoapySDR/TypeRemote/
	// TypeToneGenerator.
	Path string
}

// DeviceSpecScope tags a DeviceSpec as addressing a device attached to
// this process or one reachable over the network.
type DeviceSpecScope int

const (
	ScopeLocal DeviceSpecScope = iota
	ScopeRemote
)

// DeviceSpec identifies a physical or virtual SDR device: an analyzer-
// interface tag (the driver/backend name) plus an opaque string map of
// driver parameters (host, port, driver, serial, ...). Two specs are
// equal iff they share the same scope, the same analyzer tag, and the
// same parameter multiset; UUID derives a stable 64-bit identifier from
// the analyzer tag and parameter multiset only, not the scope.
type DeviceSpec struct {
	Scope        DeviceSpecScope
	AnalyzerTag  string
	Params       *container.StrMap
}

// NewDeviceSpec returns a DeviceSpec with an empty parameter map.
func NewDeviceSpec(scope DeviceSpecScope, analyzerTag string) *DeviceSpec {
	return &DeviceSpec{Scope: scope, AnalyzerTag: analyzerTag, Params: container.NewStrMap()}
}

// Equals reports whether d and other address the same device: same
// scope, same analyzer tag, and parameter maps with identical key/value
// pairs (order-independent).
func (d *DeviceSpec) Equals(other *DeviceSpec) bool {
	if other == nil {
		return false
	}
	if d.Scope != other.Scope || d.AnalyzerTag != other.AnalyzerTag {
		return false
	}
	return d.Params.Equals(other.Params)
}

// UUID derives a stable 64-bit identifier for the device from its
// analyzer tag and sorted parameter set (the scope is not hashed), using the FNV-1a hash (the
// same hash family radiod.go uses for its multicast-address
// derivation).
func (d *DeviceSpec) UUID() uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211

	h := uint64(offset64)
	mix := func(s string) {
		for i := 0; i < len(s); i++ {
			h ^= uint64(s[i])
			h *= prime64
		}
		h ^= 0xff
		h *= prime64
	}
	mix(d.AnalyzerTag)
	for _, k := range d.Params.Keys() {
		v, _ := d.Params.Get(k)
		mix(k)
		mix(v)
	}
	return h
}

// GainDescriptor advertises one controllable gain stage in a
// source-info snapshot.
type GainDescriptor struct {
	Name    string
	Min     float64
	Max     float64
	Step    float64
	Current float64
}

// Info is the advisory source-info snapshot a source emits after Open
// and after every successful setter, forwarded to clients by the
// analyzer.
type Info struct {
	Permissions Permission

	SourceSampRate    float64
	EffectiveSampRate float64
	MeasuredSampRate  float64

	Frequency float64
	FreqMin   float64
	FreqMax   float64
	LNB       float64
	Bandwidth float64
	PPM       float64

	Antennas      []string
	ActiveAntenna string

	DCRemove  bool
	IQReverse bool
	AGC       bool

	HasQTH bool
	Lat    float64
	Lon    float64
	Elev   float64

	Seekable  bool
	TimeStart time.Time
	TimeEnd   time.Time

	Gains []GainDescriptor

	Timestamp time.Time
}

// Source is the common interface every concrete producer implements.
// Start, Read, Cancel, and Close are required; every other capability is
// expressed through the optional interfaces below and its presence
// governs which client permissions are granted.
type Source interface {
	// Start prepares the source to deliver samples (e.g. opens a
	// device or file); it is called once, after construction.
	Start(ctx context.Context) error

	// Read fills buf with up to len(buf) samples, returning the number
	// actually written. n == 0 signals end of stream.
	Read(ctx context.Context, buf []complex64) (n int, err error)

	// Cancel unblocks a concurrent Read, causing it to return promptly
	// with n == 0 or an error.
	Cancel()

	// Close releases the source's underlying resources.
	Close() error

	// Info returns the most recently computed source-info snapshot.
	Info() Info
}

// Seeker is implemented by sources that can reposition their read
// cursor to an absolute sample index (file sources with random access).
type Seeker interface {
	Seek(sampleIndex uint64) error
}

// MaxSizer is implemented by sources with a known, finite sample count.
type MaxSizer interface {
	MaxSize() (samples uint64, ok bool)
}

// TimeGetter is implemented by sources that can report the wall-clock
// time corresponding to the most recently read sample.
type TimeGetter interface {
	Time() time.Time
}

// FrequencySetter is implemented by sources whose center frequency can
// be retuned while running.
type FrequencySetter interface {
	SetFrequency(hz float64) error
}

// GainSetter is implemented by sources with one or more named,
// independently adjustable gain stages.
type GainSetter interface {
	SetGain(name string, db float64) error
}

// AntennaSetter is implemented by sources with a selectable antenna
// port.
type AntennaSetter interface {
	SetAntenna(name string) error
}

// BandwidthSetter is implemented by sources whose front-end filter
// bandwidth can be adjusted.
type BandwidthSetter interface {
	SetBandwidth(hz float64) error
}

// PPMSetter is implemented by sources with an adjustable clock
// correction.
type PPMSetter interface {
	SetPPM(ppm float64) error
}

// DCRemoveSetter is implemented by sources that can toggle DC-offset
// removal.
type DCRemoveSetter interface {
	SetDCRemove(enabled bool) error
}

// AGCSetter is implemented by sources with a toggleable automatic gain
// control loop.
type AGCSetter interface {
	SetAGC(enabled bool) error
}

// EstimateSize, GuessMetadata, and GetFreqLimits operate on a Config
// before a source is opened, so they are not part of the Source
// interface. Each concrete variant that supports them exports a
// package-level function with this shape; variants that cannot answer
// (e.g. a live tuner has no fixed extent) simply omit the function.
type (
	// EstimateSizeFunc estimates the number of samples a Config would
	// yield without opening the underlying resource.
	EstimateSizeFunc func(cfg Config) (samples uint64, ok bool)

	// GuessMetadataFunc inspects cfg (e.g. a file's header or sidecar)
	// and fills in any fields it can infer, returning which fields it
	// set as a bitmask.
	GuessMetadataFunc func(cfg Config, info *Info) (guessed GuessedFields)

	// GetFreqLimitsFunc reports the tunable frequency range a Config's
	// device can reach without opening it.
	GetFreqLimitsFunc func(cfg Config) (lo, hi float64, ok bool)
)

// GuessedFields is a bitmask of which Info fields GuessMetadataFunc was
// able to populate.
type GuessedFields uint32

const (
	GuessedSampRate GuessedFields = 1 << iota
	GuessedFrequency
	GuessedBandwidth
	GuessedAntenna
	GuessedQTH
)
