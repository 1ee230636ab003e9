//go:build !sdrcore_debug

package refcount

func (r *Refcount) resetDebug()             {}
func (r *Refcount) recordDebug(tag string)  {}

// DumpHolders is unavailable without -tags sdrcore_debug; it returns nil.
func (r *Refcount) DumpHolders() []string { return nil }
