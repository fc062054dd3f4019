package key

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the variant held by a Key.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNum
	KindBool
	KindSeq
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindNum:
		return "num"
	case KindBool:
		return "bool"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Key is a structural query key. The zero value is the null key.
//
// Contract:
// - Closed union: every Key is exactly one of the Kind variants.
// - Values are immutable once constructed; Keys may be copied freely.
// - Two keys address the same cache entry iff their canonical forms match.
type Key struct {
	kind Kind
	str  string
	num  float64
	boo  bool
	seq  []Key
	obj  map[string]Key
}

// Text returns a text key, canonicalized verbatim.
func Text(s string) Key {
	return Key{kind: KindText, str: s}
}

// Num returns a numeric key.
func Num(n float64) Key {
	return Key{kind: KindNum, num: n}
}

// Bool returns a boolean key.
func Bool(b bool) Key {
	return Key{kind: KindBool, boo: b}
}

// Null returns the null key.
func Null() Key {
	return Key{}
}

// Seq returns an ordered sequence key. Element order is significant.
func Seq(elems ...Key) Key {
	return Key{kind: KindSeq, seq: elems}
}

// Map returns a mapping key. Property order is not significant: mappings
// canonicalize with their keys sorted lexicographically.
func Map(props map[string]Key) Key {
	return Key{kind: KindMap, obj: props}
}

// Of builds a sequence key from native Go values, converting each part
// with From. Of("todos", 1) addresses the same entry as
// Seq(Text("todos"), Num(1)).
func Of(parts ...any) Key {
	elems := make([]Key, len(parts))
	for i, p := range parts {
		elems[i] = From(p)
	}
	return Key{kind: KindSeq, seq: elems}
}

// From converts a native Go value into a Key. Strings, booleans, nil and
// the numeric kinds map onto their variants; []any and map[string]any
// convert recursively; a Key passes through unchanged. Any other value
// degrades to a text key holding its fmt representation, so conversion is
// total. Circular structures are out of contract.
func From(v any) Key {
	switch val := v.(type) {
	case nil:
		return Key{}
	case Key:
		return val
	case string:
		return Text(val)
	case bool:
		return Bool(val)
	case int:
		return Num(float64(val))
	case int8:
		return Num(float64(val))
	case int16:
		return Num(float64(val))
	case int32:
		return Num(float64(val))
	case int64:
		return Num(float64(val))
	case uint:
		return Num(float64(val))
	case uint8:
		return Num(float64(val))
	case uint16:
		return Num(float64(val))
	case uint32:
		return Num(float64(val))
	case uint64:
		return Num(float64(val))
	case float32:
		return Num(float64(val))
	case float64:
		return Num(val)
	case []any:
		elems := make([]Key, len(val))
		for i, e := range val {
			elems[i] = From(e)
		}
		return Key{kind: KindSeq, seq: elems}
	case []Key:
		elems := make([]Key, len(val))
		copy(elems, val)
		return Key{kind: KindSeq, seq: elems}
	case map[string]any:
		props := make(map[string]Key, len(val))
		for k, e := range val {
			props[k] = From(e)
		}
		return Key{kind: KindMap, obj: props}
	case map[string]Key:
		props := make(map[string]Key, len(val))
		for k, e := range val {
			props[k] = e
		}
		return Key{kind: KindMap, obj: props}
	default:
		return Text(fmt.Sprintf("%v", val))
	}
}

// Kind returns the variant held by the key.
func (k Key) Kind() Kind {
	return k.kind
}

// Canonical returns the deterministic string form of the key.
//
// Text canonicalizes verbatim. Sequences canonicalize element-wise, joined
// with ",". Mappings serialize as JSON objects with keys sorted
// lexicographically at every depth, so {b:1,a:2} and {a:2,b:1} produce the
// same form. Numbers, booleans and null use their JSON literals.
func (k Key) Canonical() string {
	var b strings.Builder
	k.appendCanonical(&b)
	return b.String()
}

func (k Key) appendCanonical(b *strings.Builder) {
	switch k.kind {
	case KindText:
		b.WriteString(k.str)
	case KindSeq:
		for i, e := range k.seq {
			if i > 0 {
				b.WriteByte(',')
			}
			e.appendCanonical(b)
		}
	default:
		k.appendJSON(b)
	}
}

// appendJSON writes the key as canonical JSON. Used for mapping values and
// for scalar literals; inside JSON, text is quoted and sequences become
// arrays.
func (k Key) appendJSON(b *strings.Builder) {
	switch k.kind {
	case KindNull:
		b.WriteString("null")
	case KindText:
		b.Write(mustMarshal(k.str))
	case KindNum:
		b.Write(mustMarshal(k.num))
	case KindBool:
		b.Write(mustMarshal(k.boo))
	case KindSeq:
		b.WriteByte('[')
		for i, e := range k.seq {
			if i > 0 {
				b.WriteByte(',')
			}
			e.appendJSON(b)
		}
		b.WriteByte(']')
	case KindMap:
		names := make([]string, 0, len(k.obj))
		for name := range k.obj {
			names = append(names, name)
		}
		sort.Strings(names)

		b.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				b.WriteByte(',')
			}
			b.Write(mustMarshal(name))
			b.WriteByte(':')
			k.obj[name].appendJSON(b)
		}
		b.WriteByte('}')
	}
}

// mustMarshal encodes a scalar leaf. Strings, floats and bools cannot fail
// to marshal.
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("key: marshal scalar: %v", err))
	}
	return data
}

// Member reports whether canonical key hash belongs to the group rooted at
// canonical key group: hash equals group, or extends it by one or more
// sequence elements. "todos,1" is a member of group "todos"; "todo" is not.
func Member(hash, group string) bool {
	return hash == group || strings.HasPrefix(hash, group+",")
}
