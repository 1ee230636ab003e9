// Package container implements the ordered integer-keyed map, string hash
// map, and string-keyed config map that the rest of sdrcore builds its
// lookup tables on: the inspector handle table and the source/device
// parameter maps sit on top of these types.
package container

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Deleter frees or otherwise disposes of a value being replaced or removed
// from a Tree.
type Deleter func(value any)

// Tree is an integer-keyed ordered map with insertion-order traversal,
// grounded on util/rbtree.c: lookups are O(log n) there (a genuine
// red-black tree); here the balanced-tree internals are an
// implementation detail never exposed as part of the contract, so Tree
// is backed by wk8/go-ordered-map's insertion-ordered hash map, which
// gives the same externally visible semantics (replace-on-equal-key,
// stable insertion order traversal) without hand-rolling tree
// rotations.
type Tree struct {
	om      *orderedmap.OrderedMap[int64, any]
	deleter Deleter
}

// NewTree returns an empty Tree. deleter, if non-nil, is invoked on the
// value of any node that is overwritten, removed, or dropped by Clear.
func NewTree(deleter Deleter) *Tree {
	return &Tree{om: orderedmap.New[int64, any](), deleter: deleter}
}

// Get looks up key, returning its value and whether it was present.
func (t *Tree) Get(key int64) (any, bool) {
	return t.om.Get(key)
}

// Set inserts or replaces key's value. If key was already present and a
// deleter is installed, the deleter is invoked on the previous value.
func (t *Tree) Set(key int64, value any) {
	prev, existed := t.om.Set(key, value)
	if existed && t.deleter != nil {
		t.deleter(prev)
	}
}

// Delete removes key, invoking the deleter (if installed) on its value.
// Reports whether the key was present.
func (t *Tree) Delete(key int64) bool {
	prev, existed := t.om.Delete(key)
	if existed && t.deleter != nil {
		t.deleter(prev)
	}
	return existed
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int {
	return t.om.Len()
}

// Each calls fn for every (key, value) pair in insertion order. Stop
// iteration early by returning false from fn.
func (t *Tree) Each(fn func(key int64, value any) bool) {
	for pair := t.om.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clear removes every entry, invoking the deleter (if installed) on each
// value.
func (t *Tree) Clear() {
	if t.deleter != nil {
		t.Each(func(_ int64, v any) bool {
			t.deleter(v)
			return true
		})
	}
	t.om = orderedmap.New[int64, any]()
}
