package multicast

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/skyloom-radio/sdrcore/buf"
	"github.com/skyloom-radio/sdrcore/buf/cbor"
	"github.com/skyloom-radio/sdrcore/wire"
)

// PSDFrame is one outbound PSD superframe: a small fixed header
// describing the measurement, followed by the raw spectrum vector.
type PSDFrame struct {
	Frequency        float64
	SampRate         float64
	MeasuredSampRate float64
	Timestamp        time.Time
	RTTime           time.Time
	Looped           bool
	Vector           []float32
}

// psdHeaderSize is fc(8) + samp_rate(8) + measured_samp_rate(8) +
// timestamp(8) + rt_time(8) + looped(1) nanoseconds-since-epoch for the
// two timestamps, big-endian like every other framed field; the
// trailing vector is little-endian raw float32, matching spec.md §3's
// "sample buffers are native little-endian" rule.
const psdHeaderSize = 8 + 8 + 8 + 8 + 8 + 1

// Encode serializes p into the wire byte layout DecodePSDFrame expects:
// a fixed big-endian header followed by a little-endian raw float32
// vector. Exported so the analyzer server can build the identical PSD
// superframe payload for a point-to-point ENCAP/PSD fragment, not just
// for this package's own multicast fan-out.
func (p PSDFrame) Encode() []byte {
	return p.encode()
}

func (p PSDFrame) encode() []byte {
	out := make([]byte, psdHeaderSize+4*len(p.Vector))
	binary.BigEndian.PutUint64(out[0:8], math.Float64bits(p.Frequency))
	binary.BigEndian.PutUint64(out[8:16], math.Float64bits(p.SampRate))
	binary.BigEndian.PutUint64(out[16:24], math.Float64bits(p.MeasuredSampRate))
	binary.BigEndian.PutUint64(out[24:32], uint64(p.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(out[32:40], uint64(p.RTTime.UnixNano()))
	if p.Looped {
		out[40] = 1
	}
	for i, v := range p.Vector {
		off := psdHeaderSize + 4*i
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(v))
	}
	return out
}

// DecodePSDFrame is the receive-side counterpart of PSDFrame.encode,
// used by monitor clients reassembling a PSD superframe from its
// fragments.
func DecodePSDFrame(data []byte) (PSDFrame, error) {
	if len(data) < psdHeaderSize {
		return PSDFrame{}, fmt.Errorf("multicast: PSD frame shorter than its fixed header")
	}
	p := PSDFrame{
		Frequency:        math.Float64frombits(binary.BigEndian.Uint64(data[0:8])),
		SampRate:         math.Float64frombits(binary.BigEndian.Uint64(data[8:16])),
		MeasuredSampRate: math.Float64frombits(binary.BigEndian.Uint64(data[16:24])),
		Timestamp:        time.Unix(0, int64(binary.BigEndian.Uint64(data[24:32]))),
		RTTime:           time.Unix(0, int64(binary.BigEndian.Uint64(data[32:40]))),
		Looped:           data[40] != 0,
	}
	vecBytes := data[psdHeaderSize:]
	p.Vector = make([]float32, len(vecBytes)/4)
	for i := range p.Vector {
		off := 4 * i
		p.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(vecBytes[off : off+4]))
	}
	return p, nil
}

// buildAnnouncePayload CBOR-encodes the host/profile pair a periodic
// ANNOUNCE superframe advertises, using the in-module CBOR codec like
// every other wire payload in this module.
func buildAnnouncePayload(host string, profiles []string) []byte {
	return EncodeAnnouncePayload(host, profiles)
}

// EncodeAnnouncePayload is buildAnnouncePayload's exported form, so
// that a discovery listener (or a test standing in for one) can
// construct an ANNOUNCE payload byte-for-byte identical to what a
// Fanout would send without depending on unexported Fanout internals.
func EncodeAnnouncePayload(host string, profiles []string) []byte {
	b := buf.New()
	_ = cbor.PackArrayStart(b, 2)
	_ = cbor.PackStr(b, host)
	_ = cbor.PackArrayStart(b, uint64(len(profiles)))
	for _, p := range profiles {
		_ = cbor.PackStr(b, p)
	}
	return b.Bytes()
}

// DecodeAnnouncePayload is the receive-side counterpart of
// buildAnnouncePayload.
func DecodeAnnouncePayload(data []byte) (host string, profiles []string, err error) {
	b := buf.NewFrom(data)
	n, endRequired, err := cbor.UnpackArrayStart(b)
	if err != nil || n < 2 {
		return "", nil, fmt.Errorf("multicast: malformed announce payload")
	}
	host, err = cbor.UnpackStr(b)
	if err != nil {
		return "", nil, err
	}
	pn, pEndRequired, err := cbor.UnpackArrayStart(b)
	if err != nil {
		return "", nil, err
	}
	profiles = make([]string, 0, pn)
	for i := uint64(0); i < pn; i++ {
		s, err := cbor.UnpackStr(b)
		if err != nil {
			return "", nil, err
		}
		profiles = append(profiles, s)
	}
	if err := cbor.UnpackArrayEnd(b, pEndRequired); err != nil {
		return "", nil, err
	}
	if err := cbor.UnpackArrayEnd(b, endRequired); err != nil {
		return "", nil, err
	}
	return host, profiles, nil
}

// putFragmentHeader writes frag's fixed 16-byte header into dst,
// matching wire.WriteFragment's byte layout exactly so that datagrams
// this package sends directly interoperate with wire.ReadFragment.
func putFragmentHeader(dst []byte, frag wire.Fragment) {
	binary.BigEndian.PutUint32(dst[0:4], wire.Magic)
	dst[4] = byte(frag.Type)
	dst[5] = frag.ID
	binary.BigEndian.PutUint16(dst[6:8], uint16(len(frag.Payload)))
	binary.BigEndian.PutUint32(dst[8:12], frag.SFSize)
	binary.BigEndian.PutUint32(dst[12:16], frag.Offset)
}
