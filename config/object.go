// Package config implements the per-source/per-inspector typed
// configuration object (component N) and the process-level YAML
// configuration loaded at startup (component V, ServerConfig and its
// nested sections).
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType identifies how a Field's Value is coerced to and from
// strings and the persistent config store's object tree.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFloat
	FieldBool
)

// Field is one typed entry in a Config's field list.
type Field struct {
	Name  string
	Type  FieldType
	Value any
}

// Config is a small, typed, ordered list of fields. Lookup by name is
// O(n): field lists are expected to stay in the tens of entries, so a
// linear scan is simpler and faster than a hash index for this size.
type Config struct {
	fields []Field
}

// New returns an empty Config.
func New() *Config {
	return &Config{}
}

// Set inserts or replaces the field named name with the given type and
// value.
func (c *Config) Set(name string, t FieldType, value any) {
	for i := range c.fields {
		if c.fields[i].Name == name {
			c.fields[i].Type = t
			c.fields[i].Value = value
			return
		}
	}
	c.fields = append(c.fields, Field{Name: name, Type: t, Value: value})
}

// Get looks up a field by name.
func (c *Config) Get(name string) (Field, bool) {
	for _, f := range c.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Fields returns the field list in insertion order. The returned slice
// must not be mutated by the caller.
func (c *Config) Fields() []Field {
	return c.fields
}

// ObjectTree is the opaque key/value object consumed by the persistent
// config store that backs ConfigToObject/ObjectToConfig. Concrete
// implementations (e.g. a JSON document, a database row) live outside
// this package; Config only needs to read and write scalar values by
// key.
type ObjectTree interface {
	SetString(key, value string)
	SetInt(key string, value int64)
	SetFloat(key string, value float64)
	SetBool(key string, value bool)

	GetString(key string) (string, bool)
	GetInt(key string) (int64, bool)
	GetFloat(key string) (float64, bool)
	GetBool(key string) (bool, bool)
}

// StringToConfig parses a comma-separated key=value,... string into c,
// coercing each value according to the type already registered for that
// field name. Unknown keys are appended as string fields.
func StringToConfig(c *Config, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("config: malformed key=value pair %q", pair)
		}
		key, raw := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		existing, ok := c.Get(key)
		t := FieldString
		if ok {
			t = existing.Type
		}

		val, err := coerce(t, raw)
		if err != nil {
			return fmt.Errorf("config: field %q: %w", key, err)
		}
		c.Set(key, t, val)
	}
	return nil
}

func coerce(t FieldType, raw string) (any, error) {
	switch t {
	case FieldInt:
		return strconv.ParseInt(raw, 10, 64)
	case FieldFloat:
		return strconv.ParseFloat(raw, 64)
	case FieldBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

// ConfigToObject serializes every field in c into tree.
func ConfigToObject(c *Config, tree ObjectTree) error {
	for _, f := range c.fields {
		switch f.Type {
		case FieldString:
			s, _ := f.Value.(string)
			tree.SetString(f.Name, s)
		case FieldInt:
			v, err := toInt64(f.Value)
			if err != nil {
				return fmt.Errorf("config: field %q: %w", f.Name, err)
			}
			tree.SetInt(f.Name, v)
		case FieldFloat:
			v, err := toFloat64(f.Value)
			if err != nil {
				return fmt.Errorf("config: field %q: %w", f.Name, err)
			}
			tree.SetFloat(f.Name, v)
		case FieldBool:
			b, _ := f.Value.(bool)
			tree.SetBool(f.Name, b)
		}
	}
	return nil
}

// ObjectToConfig populates c's existing fields from tree. Only the
// fields c already declares are looked up, so keys in tree that c does
// not declare are never read and produce no warning (ObjectTree offers
// no way to list its keys). warn, which may be nil, is called once for
// every declared field that tree lacks; that field keeps its value.
func ObjectToConfig(c *Config, tree ObjectTree, warn func(format string, args ...any)) {
	for i := range c.fields {
		f := &c.fields[i]
		switch f.Type {
		case FieldString:
			if v, ok := tree.GetString(f.Name); ok {
				f.Value = v
			} else if warn != nil {
				warn("config: key %q missing in object tree, keeping default", f.Name)
			}
		case FieldInt:
			if v, ok := tree.GetInt(f.Name); ok {
				f.Value = v
			} else if warn != nil {
				warn("config: key %q missing in object tree, keeping default", f.Name)
			}
		case FieldFloat:
			if v, ok := tree.GetFloat(f.Name); ok {
				f.Value = v
			} else if warn != nil {
				warn("config: key %q missing in object tree, keeping default", f.Name)
			}
		case FieldBool:
			if v, ok := tree.GetBool(f.Name); ok {
				f.Value = v
			} else if warn != nil {
				warn("config: key %q missing in object tree, keeping default", f.Name)
			}
		}
	}
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("value %v is not an integer", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("value %v is not a float", v)
	}
}
