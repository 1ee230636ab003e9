package container

import (
	"fmt"
	"sort"

	"github.com/skyloom-radio/sdrcore/buf"
	"github.com/skyloom-radio/sdrcore/buf/cbor"
)

// StrMap is a string→string map, grounded on util/strmap.c: a thin layer
// over HashList adding CBOR (de)serialization, a sorted-keys accessor and
// printf-style setters. It backs the opaque device_spec parameter map of
// §3 and the source configuration's ancillary string parameters.
type StrMap struct {
	h *HashList
}

// NewStrMap returns an empty StrMap.
func NewStrMap() *StrMap {
	return &StrMap{h: NewHashList(nil)}
}

// Set stores val under key, replacing any previous value.
func (m *StrMap) Set(key, val string) {
	m.h.Set(key, val)
}

// SetInt stores the decimal representation of val under key.
func (m *StrMap) SetInt(key string, val int) {
	m.Set(key, fmt.Sprintf("%d", val))
}

// SetUint stores the decimal representation of val under key.
func (m *StrMap) SetUint(key string, val uint) {
	m.Set(key, fmt.Sprintf("%d", val))
}

// SetPrintf stores fmt.Sprintf(format, args...) under key.
func (m *StrMap) SetPrintf(key, format string, args ...any) {
	m.Set(key, fmt.Sprintf(format, args...))
}

// Get looks up key.
func (m *StrMap) Get(key string) (string, bool) {
	v, ok := m.h.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// GetDefault looks up key, returning dfl if it is absent.
func (m *StrMap) GetDefault(key, dfl string) string {
	if v, ok := m.Get(key); ok {
		return v
	}
	return dfl
}

// Delete removes key.
func (m *StrMap) Delete(key string) bool { return m.h.Delete(key) }

// Len returns the number of stored keys.
func (m *StrMap) Len() int { return m.h.Len() }

// Clear removes every entry.
func (m *StrMap) Clear() { m.h.Clear() }

// Keys returns every key, sorted lexicographically (matching strmap_keys's
// qsort-by-strcmp order).
func (m *StrMap) Keys() []string {
	keys := make([]string, 0, m.h.Len())
	m.h.Each(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Equals reports whether m and other contain exactly the same set of
// key/value pairs.
func (m *StrMap) Equals(other *StrMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	equal := true
	m.h.Each(func(k string, v any) bool {
		ov, ok := other.Get(k)
		if !ok || ov != v.(string) {
			equal = false
			return false
		}
		return true
	})
	return equal
}

// Pack CBOR-encodes m as a definite-length map of string keys to string
// values, in sorted-key order for determinism.
func (m *StrMap) Pack(b *buf.Buffer) error {
	keys := m.Keys()
	if err := cbor.PackMapStart(b, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		v, _ := m.Get(k)
		if err := cbor.PackStr(b, k); err != nil {
			return err
		}
		if err := cbor.PackStr(b, v); err != nil {
			return err
		}
	}
	return cbor.PackMapEnd(b, uint64(len(keys)))
}

// UnpackStrMap reads a CBOR-encoded string map from b and returns it as a
// new StrMap.
func UnpackStrMap(b *buf.Buffer) (*StrMap, error) {
	n, endRequired, err := cbor.UnpackMapStart(b)
	if err != nil {
		return nil, err
	}
	m := NewStrMap()
	if endRequired {
		for {
			c := b.Clone()
			if err := cbor.UnpackBreak(c); err == nil {
				b.Sync(c)
				break
			}
			k, err := cbor.UnpackStr(b)
			if err != nil {
				return nil, err
			}
			v, err := cbor.UnpackStr(b)
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	}
	for i := uint64(0); i < n; i++ {
		k, err := cbor.UnpackStr(b)
		if err != nil {
			return nil, err
		}
		v, err := cbor.UnpackStr(b)
		if err != nil {
			return nil, err
		}
		m.Set(k, v)
	}
	return m, nil
}
