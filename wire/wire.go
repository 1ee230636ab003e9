// Package wire implements the remote-call framing the analyzer server
// and its clients exchange over a stream socket: a fixed-size fragment
// header wrapping a CBOR-encoded superframe, and the CBOR call schemas
// (AUTH/HELLO/CALL/MESSAGE/SHUTDOWN) that travel inside ENCAP fragments.
// Grounded on spec.md §3's fragment layout and §4.J's call schema, with
// the CBOR codec reusing buf/cbor exactly as spec.md §4.A describes it.
package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	gover "github.com/hashicorp/go-version"

	"github.com/skyloom-radio/sdrcore/buf"
	"github.com/skyloom-radio/sdrcore/buf/cbor"
)

// Magic is the 32-bit constant identifying the start of every fragment.
const Magic uint32 = 0x53445243 // "SDRC"

// SuperframeType tags a fragment's payload kind.
type SuperframeType uint8

const (
	SFAnnounce SuperframeType = 0
	SFPSD      SuperframeType = 1
	SFEncap    SuperframeType = 2
)

// FragmentHeaderSize is the size of a Fragment's fixed fields:
// magic(4) | sf_type(1) | sf_id(1) | size(2) | sf_size(4) | sf_offset(4).
const FragmentHeaderSize = 16

// Fragment is one wire unit: a fixed 16-byte header plus a payload that
// tiles a superframe's total sf_size across one or more fragments.
type Fragment struct {
	Type    SuperframeType
	ID      uint8
	SFSize  uint32
	Offset  uint32
	Payload []byte
}

// WriteFragment serializes f to w, big-endian throughout, matching
// spec.md §3's superframe-fragment layout exactly.
func WriteFragment(w io.Writer, f Fragment) error {
	hdr := make([]byte, FragmentHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	hdr[4] = byte(f.Type)
	hdr[5] = f.ID
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(f.Payload)))
	binary.BigEndian.PutUint32(hdr[8:12], f.SFSize)
	binary.BigEndian.PutUint32(hdr[12:16], f.Offset)

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("wire: writing fragment header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("wire: writing fragment payload: %w", err)
		}
	}
	return nil
}

// ReadFragment reads exactly one fragment's header from r, validates
// its magic, then reads exactly size payload bytes.
func ReadFragment(r io.Reader) (Fragment, error) {
	hdr := make([]byte, FragmentHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Fragment{}, fmt.Errorf("wire: reading fragment header: %w", err)
	}

	magic := binary.BigEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return Fragment{}, fmt.Errorf("wire: bad fragment magic %#x", magic)
	}

	f := Fragment{
		Type:   SuperframeType(hdr[4]),
		ID:     hdr[5],
		SFSize: binary.BigEndian.Uint32(hdr[8:12]),
		Offset: binary.BigEndian.Uint32(hdr[12:16]),
	}
	size := binary.BigEndian.Uint16(hdr[6:8])
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Fragment{}, fmt.Errorf("wire: reading fragment payload: %w", err)
		}
	}
	return f, nil
}

// CallType selects a Call's schema.
type CallType int

const (
	CallAuth CallType = iota
	CallHello
	CallCall
	CallMessage
	CallShutdown
)

// Call is the tagged union of remote-call objects exchanged inside
// ENCAP fragments: a CBOR array whose first element selects the
// variant.
type Call struct {
	Type CallType

	Auth     *AuthCall
	Hello    *HelloCall
	Invoke   *InvokeCall
	Message  *MessageCall
	Shutdown *ShutdownCall
}

// AuthCall is server→client: a fresh challenge nonce plus the server's
// name and requested auth mode.
type AuthCall struct {
	Nonce    []byte
	Server   string
	AuthMode string
}

// HelloCall is client→server: the client's declared protocol version,
// username, and an HMAC-SHA256 of (password || nonce).
type HelloCall struct {
	ProtocolVersion string
	User            string
	HMAC            []byte
}

// InvokeCall is client→server: a named method with CBOR-primitive
// arguments (a source setter, an inspector operation, or a
// parameter-set operation).
type InvokeCall struct {
	Method string
	Args   []any
}

// MessageCall is server→client: a mirrored local-analyzer message, tag
// plus a tag-specific-serialized payload.
type MessageCall struct {
	MsgType int
	Payload []byte
}

// ShutdownCall is either direction: polite termination with an
// optional reason string.
type ShutdownCall struct {
	Reason string
}

// Pack encodes c as a CBOR array `[type, fields...]`.
func Pack(c Call) ([]byte, error) {
	b := buf.New()
	switch c.Type {
	case CallAuth:
		a := c.Auth
		if err := cbor.PackArrayStart(b, 4); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(CallAuth)); err != nil {
			return nil, err
		}
		if err := cbor.PackBlob(b, a.Nonce); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, a.Server); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, a.AuthMode); err != nil {
			return nil, err
		}
	case CallHello:
		h := c.Hello
		if err := cbor.PackArrayStart(b, 4); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(CallHello)); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, h.ProtocolVersion); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, h.User); err != nil {
			return nil, err
		}
		if err := cbor.PackBlob(b, h.HMAC); err != nil {
			return nil, err
		}
	case CallCall:
		inv := c.Invoke
		if err := cbor.PackArrayStart(b, 3); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(CallCall)); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, inv.Method); err != nil {
			return nil, err
		}
		if err := packArgs(b, inv.Args); err != nil {
			return nil, err
		}
	case CallMessage:
		m := c.Message
		if err := cbor.PackArrayStart(b, 3); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(CallMessage)); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(m.MsgType)); err != nil {
			return nil, err
		}
		if err := cbor.PackBlob(b, m.Payload); err != nil {
			return nil, err
		}
	case CallShutdown:
		s := c.Shutdown
		if err := cbor.PackArrayStart(b, 2); err != nil {
			return nil, err
		}
		if err := cbor.PackUint(b, uint64(CallShutdown)); err != nil {
			return nil, err
		}
		if err := cbor.PackStr(b, s.Reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("wire: unknown call type %d", c.Type)
	}
	return b.Bytes(), nil
}

// packArgs encodes a CALL's argument list, one CBOR primitive per
// element: strings, byte blobs, booleans, signed integers, and
// float64s are recognized; anything else is a programmer error.
func packArgs(b *buf.Buffer, args []any) error {
	if err := cbor.PackArrayStart(b, uint64(len(args))); err != nil {
		return err
	}
	for _, a := range args {
		switch v := a.(type) {
		case string:
			if err := cbor.PackStr(b, v); err != nil {
				return err
			}
		case []byte:
			if err := cbor.PackBlob(b, v); err != nil {
				return err
			}
		case bool:
			if err := cbor.PackBool(b, v); err != nil {
				return err
			}
		case int:
			if err := cbor.PackInt(b, int64(v)); err != nil {
				return err
			}
		case int64:
			if err := cbor.PackInt(b, v); err != nil {
				return err
			}
		case float64:
			if err := cbor.PackFloat64(b, v); err != nil {
				return err
			}
		case nil:
			if err := cbor.PackNull(b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("wire: unsupported CALL argument type %T", a)
		}
	}
	return nil
}

// Unpack decodes a CBOR-encoded Call from data.
func Unpack(data []byte) (Call, error) {
	b := buf.NewFrom(data)

	n, endRequired, err := cbor.UnpackArrayStart(b)
	if err != nil {
		return Call{}, fmt.Errorf("wire: %w", err)
	}
	if n < 1 {
		return Call{}, fmt.Errorf("wire: empty call array")
	}

	var tag uint64
	if err := cbor.UnpackUint(b, &tag); err != nil {
		return Call{}, fmt.Errorf("wire: reading call type: %w", err)
	}

	var call Call
	call.Type = CallType(tag)

	switch call.Type {
	case CallAuth:
		nonce, err := cbor.UnpackBlob(b)
		if err != nil {
			return Call{}, err
		}
		server, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		mode, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		call.Auth = &AuthCall{Nonce: nonce, Server: server, AuthMode: mode}
	case CallHello:
		ver, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		user, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		hmac, err := cbor.UnpackBlob(b)
		if err != nil {
			return Call{}, err
		}
		call.Hello = &HelloCall{ProtocolVersion: ver, User: user, HMAC: hmac}
	case CallCall:
		method, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		args, err := unpackArgs(b)
		if err != nil {
			return Call{}, err
		}
		call.Invoke = &InvokeCall{Method: method, Args: args}
	case CallMessage:
		var msgType uint64
		if err := cbor.UnpackUint(b, &msgType); err != nil {
			return Call{}, err
		}
		payload, err := cbor.UnpackBlob(b)
		if err != nil {
			return Call{}, err
		}
		call.Message = &MessageCall{MsgType: int(msgType), Payload: payload}
	case CallShutdown:
		reason, err := cbor.UnpackStr(b)
		if err != nil {
			return Call{}, err
		}
		call.Shutdown = &ShutdownCall{Reason: reason}
	default:
		return Call{}, fmt.Errorf("wire: unknown call type %d", tag)
	}

	if err := cbor.UnpackArrayEnd(b, endRequired); err != nil {
		return Call{}, err
	}
	return call, nil
}

func unpackArgs(b *buf.Buffer) ([]any, error) {
	n, endRequired, err := cbor.UnpackArrayStart(b)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := unpackPrimitive(b)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if err := cbor.UnpackArrayEnd(b, endRequired); err != nil {
		return nil, err
	}
	return args, nil
}

// unpackPrimitive tries each CBOR primitive type in turn against a
// cloned cursor, since CBOR's major type byte alone does not
// disambiguate Go's any-typed argument list without a lookahead.
func unpackPrimitive(b *buf.Buffer) (any, error) {
	if s, err := cbor.UnpackStr(b.Clone()); err == nil {
		_, err2 := cbor.UnpackStr(b)
		return s, err2
	}
	if blob, err := cbor.UnpackBlob(b.Clone()); err == nil {
		_, err2 := cbor.UnpackBlob(b)
		return blob, err2
	}
	if v, err := cbor.UnpackBool(b.Clone()); err == nil {
		_, err2 := cbor.UnpackBool(b)
		return v, err2
	}
	if err := cbor.UnpackNull(b.Clone()); err == nil {
		return nil, cbor.UnpackNull(b)
	}
	if f, err := cbor.UnpackFloat64(b.Clone()); err == nil {
		_, err2 := cbor.UnpackFloat64(b)
		return f, err2
	}
	var i int64
	if err := cbor.UnpackInt(b.Clone(), &i); err == nil {
		return i, cbor.UnpackInt(b, &i)
	}
	return nil, fmt.Errorf("wire: unrecognized CALL argument encoding")
}

// NegotiateProtocolVersion reports whether client, the HELLO-declared
// protocol version, satisfies the server's supported constraint (e.g.
// ">= 1.0.0, < 2.0.0"), using the same semver comparison release-
// compatibility checks perform elsewhere in this stack.
func NegotiateProtocolVersion(client string, constraint string) (bool, error) {
	v, err := gover.NewVersion(client)
	if err != nil {
		return false, fmt.Errorf("wire: parsing client protocol version: %w", err)
	}
	c, err := gover.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("wire: parsing protocol version constraint: %w", err)
	}
	return c.Check(v), nil
}

// ComputeHMAC computes the HMAC-SHA256 of (password || nonce), the
// HELLO authenticator spec.md §4.J and §4.M describe.
func ComputeHMAC(password string, nonce []byte) []byte {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(nonce)
	return mac.Sum(nil)
}

// VerifyHMAC reports whether got matches the HMAC-SHA256 of
// (password || nonce), comparing in constant time so a timing
// side-channel never narrows down a password guess.
func VerifyHMAC(password string, nonce, got []byte) bool {
	want := ComputeHMAC(password, nonce)
	return hmac.Equal(want, got)
}
