package key

import (
	"testing"
)

func TestCanonical_Forms(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"text verbatim", Text("todos"), "todos"},
		{"empty text", Text(""), ""},
		{"number integer", Num(1), "1"},
		{"number fraction", Num(1.5), "1.5"},
		{"bool", Bool(true), "true"},
		{"null", Null(), "null"},
		{"zero value", Key{}, "null"},
		{"sequence joins with comma", Seq(Text("todos"), Num(1)), "todos,1"},
		{"empty sequence", Seq(), ""},
		{"single element sequence", Seq(Text("todos")), "todos"},
		{"nested map in sequence", Of("todos", map[string]any{"page": 1}), `todos,{"page":1}`},
		{"map sorts keys", Map(map[string]Key{"b": Num(1), "a": Num(2)}), `{"a":2,"b":1}`},
		{"map quotes text values", Map(map[string]Key{"name": Text("bob")}), `{"name":"bob"}`},
		{"sequence inside map is a JSON array", Map(map[string]Key{"ids": Seq(Num(1), Num(2))}), `{"ids":[1,2]}`},
		{"text with comma", Text("a,b"), "a,b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Canonical(); got != tt.want {
				t.Errorf("Canonical() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonical_MapOrderIndependent(t *testing.T) {
	// Same content, different insertion order, nested one level deep
	k1 := From(map[string]any{
		"outer": map[string]any{"z": 26, "a": 1, "m": 13},
		"other": "value",
	})
	k2 := From(map[string]any{
		"other": "value",
		"outer": map[string]any{"a": 1, "m": 13, "z": 26},
	})

	if k1.Canonical() != k2.Canonical() {
		t.Errorf("canonical forms should match:\n  k1=%s\n  k2=%s", k1.Canonical(), k2.Canonical())
	}
}

func TestCanonical_SequenceOrderSignificant(t *testing.T) {
	k1 := Of(1, 2, 3)
	k2 := Of(3, 2, 1)

	if k1.Canonical() == k2.Canonical() {
		t.Errorf("canonical forms should differ for different element order: %s", k1.Canonical())
	}
}

func TestCanonical_Deterministic(t *testing.T) {
	k := From(map[string]any{"query": "test", "limit": 10, "tags": []any{"a", "b"}})

	first := k.Canonical()
	for i := 0; i < 5; i++ {
		if got := k.Canonical(); got != first {
			t.Fatalf("Canonical() iteration %d = %q, want %q", i, got, first)
		}
	}
}

func TestFrom_NativeValues(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"string", "todos", "todos"},
		{"int", 42, "42"},
		{"int64", int64(42), "42"},
		{"uint", uint(7), "7"},
		{"float64", 2.5, "2.5"},
		{"bool", false, "false"},
		{"key passthrough", Text("x"), "x"},
		{"slice of any", []any{"a", 1}, "a,1"},
		{"slice of keys", []Key{Text("a"), Num(1)}, "a,1"},
		{"map of any", map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"map of keys", map[string]Key{"a": Num(1)}, `{"a":1}`},
		{"unknown type degrades to fmt", struct{ X int }{X: 1}, "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := From(tt.in).Canonical(); got != tt.want {
				t.Errorf("From(%v).Canonical() = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOf_BuildsSequence(t *testing.T) {
	k := Of("todos", 1)

	if k.Kind() != KindSeq {
		t.Fatalf("Kind() = %v, want %v", k.Kind(), KindSeq)
	}
	if got := k.Canonical(); got != "todos,1" {
		t.Errorf("Canonical() = %q, want %q", got, "todos,1")
	}

	// Equivalent to the explicit constructor form
	if got := Seq(Text("todos"), Num(1)).Canonical(); got != k.Canonical() {
		t.Errorf("Of and Seq should canonicalize identically: %q vs %q", k.Canonical(), got)
	}
}

func TestMember_PrefixGroups(t *testing.T) {
	tests := []struct {
		hash  string
		group string
		want  bool
	}{
		{"todos", "todos", true},
		{"todos,1", "todos", true},
		{"todos,list", "todos", true},
		{"todos,1,comments", "todos", true},
		{"todo", "todos", false},
		{"todos", "todo", false},
		{"todosx", "todos", false},
		{"", "", true},
	}

	for _, tt := range tests {
		if got := Member(tt.hash, tt.group); got != tt.want {
			t.Errorf("Member(%q, %q) = %v, want %v", tt.hash, tt.group, got, tt.want)
		}
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindNull, "null"},
		{KindText, "text"},
		{KindNum, "num"},
		{KindBool, "bool"},
		{KindSeq, "seq"},
		{KindMap, "map"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
