package container

// HashList maps string keys to arbitrary values, grounded on
// util/hashlist.c's string→pointer table. The C implementation hashes the
// key with a seeded 64-bit function and chains collisions in a singly
// linked overflow list; that is purely an internal collision-resolution
// detail never surfaced at the API boundary (iteration order is
// documented as "unspecified but stable between mutations"), so
// HashList is backed
// directly by Go's runtime map, which gives the same hash-table contract
// without re-deriving chaining by hand.
type HashList struct {
	data    map[string]any
	deleter Deleter
}

// NewHashList returns an empty HashList. deleter, if non-nil, runs on the
// value of any key that Set overwrites or that Clear/Delete removes.
func NewHashList(deleter Deleter) *HashList {
	return &HashList{data: make(map[string]any), deleter: deleter}
}

// Get looks up key.
func (h *HashList) Get(key string) (any, bool) {
	v, ok := h.data[key]
	return v, ok
}

// Set inserts or overwrites key's value, invoking the deleter on the old
// value if one was present.
func (h *HashList) Set(key string, value any) {
	if old, existed := h.data[key]; existed && h.deleter != nil {
		h.deleter(old)
	}
	h.data[key] = value
}

// Delete removes key, invoking the deleter on its value if present.
func (h *HashList) Delete(key string) bool {
	old, existed := h.data[key]
	if !existed {
		return false
	}
	delete(h.data, key)
	if h.deleter != nil {
		h.deleter(old)
	}
	return true
}

// Len counts only non-nil values, matching util/hashlist.c's size
// accounting.
func (h *HashList) Len() int {
	n := 0
	for _, v := range h.data {
		if v != nil {
			n++
		}
	}
	return n
}

// Each visits every (key, value) pair. Iteration order is unspecified.
func (h *HashList) Each(fn func(key string, value any) bool) {
	for k, v := range h.data {
		if !fn(k, v) {
			return
		}
	}
}

// Clear removes every entry, invoking the deleter on each value.
func (h *HashList) Clear() {
	if h.deleter != nil {
		for _, v := range h.data {
			h.deleter(v)
		}
	}
	h.data = make(map[string]any)
}
