package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// ErrCorrupt is returned when a persisted or uploaded document is not a
// JSON (or YAML) object.
var ErrCorrupt = errors.New("profile document is not a valid object")

// Profile is the user's personal data: a flat, schema-less mapping from
// snake_case keys to scalar values. Key order is preserved across load and
// save; merged keys keep their position and new keys are appended.
type Profile struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty Profile.
func New() *Profile {
	return &Profile{fields: orderedmap.New[string, any]()}
}

// FromMap builds a Profile from a plain map. Keys are inserted in sorted
// order so the result is deterministic.
func FromMap(m map[string]any) *Profile {
	p := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Set(k, m[k])
	}
	return p
}

func (p *Profile) init() {
	if p.fields == nil {
		p.fields = orderedmap.New[string, any]()
	}
}

// Len returns the number of keys. A nil Profile has length zero.
func (p *Profile) Len() int {
	if p == nil || p.fields == nil {
		return 0
	}
	return p.fields.Len()
}

// IsEmpty reports whether the profile holds no keys.
func (p *Profile) IsEmpty() bool { return p.Len() == 0 }

// Get returns the value stored under key.
func (p *Profile) Get(key string) (any, bool) {
	if p.Len() == 0 {
		return nil, false
	}
	return p.fields.Get(key)
}

// GetString returns the value under key if it is a non-empty string.
func (p *Profile) GetString(key string) string {
	v, ok := p.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set stores value under key, keeping the key's position if it exists.
func (p *Profile) Set(key string, value any) {
	p.init()
	p.fields.Set(key, value)
}

// Keys returns the keys in insertion order.
func (p *Profile) Keys() []string {
	if p.Len() == 0 {
		return nil
	}
	keys := make([]string, 0, p.fields.Len())
	for pair := p.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Merge copies every key of other into p. Keys present in both take
// other's value; keys only in p are left untouched.
func (p *Profile) Merge(other *Profile) {
	if other.Len() == 0 {
		return
	}
	p.init()
	for pair := other.fields.Oldest(); pair != nil; pair = pair.Next() {
		p.fields.Set(pair.Key, pair.Value)
	}
}

// Clone returns a shallow copy that shares no ordering state with p.
func (p *Profile) Clone() *Profile {
	cp := New()
	cp.Merge(p)
	return cp
}

// ToMap returns the profile as a plain map. Order is lost.
func (p *Profile) ToMap() map[string]any {
	m := make(map[string]any, p.Len())
	if p.Len() == 0 {
		return m
	}
	for pair := p.fields.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return m
}

// MarshalJSON encodes the profile as a JSON object in key order without
// HTML escaping.
func (p *Profile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if p.Len() > 0 {
		first := true
		for pair := p.fields.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := encodeRaw(&buf, pair.Key); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			if err := encodeRaw(&buf, pair.Value); err != nil {
				return nil, fmt.Errorf("encoding key %q: %w", pair.Key, err)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func encodeRaw(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// UnmarshalJSON decodes a JSON object, replacing any existing content.
// Anything other than a single well-formed object yields ErrCorrupt.
func (p *Profile) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrCorrupt
	}
	fields := orderedmap.New[string, any]()
	if err := fields.UnmarshalJSON(trimmed); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	p.fields = fields
	return nil
}

// Indent returns the pretty-printed document as persisted on disk.
func (p *Profile) Indent() ([]byte, error) {
	raw, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ParseJSON decodes a JSON object into a new Profile.
func ParseJSON(data []byte) (*Profile, error) {
	p := New()
	if err := p.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseYAML decodes a YAML mapping into a new Profile, keeping the
// document's key order.
func ParseYAML(data []byte) (*Profile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrCorrupt
	}
	mapping := doc.Content[0]
	p := New()
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode, valNode := mapping.Content[i], mapping.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: non-scalar key at line %d", ErrCorrupt, keyNode.Line)
		}
		var value any
		if err := valNode.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCorrupt, keyNode.Value, err)
		}
		value, err := jsonCompatible(value)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCorrupt, keyNode.Value, err)
		}
		p.Set(keyNode.Value, value)
	}
	return p, nil
}

// jsonCompatible rewrites a decoded YAML value so it can be stored as JSON.
// Mapping keys become strings; non-finite numbers are rejected.
func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			c, err := jsonCompatible(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, fmt.Errorf("number %v cannot be stored", t)
		}
		return t, nil
	default:
		return v, nil
	}
}
