package metric

import (
	"encoding/json"
	"sort"
	"strings"
)

// Tags maps tag names to scalar values: string, number, bool or nil.
type Tags map[string]any

// Key is the aggregation identity of a metric. It is comparable and is
// used directly as a map key by the aggregation store.
type Key struct {
	Type Type
	Name string
	Tags string
}

// String renders the key for logging.
func (k Key) String() string {
	return string(k.Type) + "|" + k.Name + "|" + k.Tags
}

// NewKey derives a Key from its parts. Tag insertion order never affects
// the result.
func NewKey(t Type, name string, tags Tags) Key {
	return Key{
		Type: t,
		Name: name,
		Tags: CanonicalTags(tags),
	}
}

// CanonicalTags serializes tags with keys sorted lexicographically. Keys and
// values are JSON encoded so separators inside values cannot collide.
func CanonicalTags(tags Tags) string {
	if len(tags) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')

		vb, err := json.Marshal(normalizeScalar(tags[k]))
		if err != nil {
			vb = []byte("null")
		}

		b.Write(vb)
	}

	b.WriteByte('}')

	return b.String()
}

// Clone returns a shallow copy of the tags.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}

	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}

	return out
}

// Merge returns a new tag set holding base overlaid with t. Keys present
// in t win.
func (t Tags) Merge(base Tags) Tags {
	if len(base) == 0 {
		return t
	}

	out := make(Tags, len(base)+len(t))
	for k, v := range base {
		out[k] = v
	}

	for k, v := range t {
		out[k] = v
	}

	return out
}

// normalizeScalar maps all numeric kinds to float64 so 1 and 1.0 produce the
// same identity.
func normalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}

		return n.String()
	default:
		return v
	}
}

// isScalar reports whether v is an accepted tag value.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func mergePercentiles(a, b []float64) []float64 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}

	seen := make(map[float64]struct{}, len(a)+len(b))
	out := make([]float64, 0, len(a)+len(b))

	for _, list := range [][]float64{a, b} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}

			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	sort.Float64s(out)

	return out
}
