package canonicalize

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestBytes_Sorting(t *testing.T) {
	input := map[string]any{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_ArraysKeepOrder(t *testing.T) {
	input := map[string]any{
		"items": []any{"c", "a", "b"},
	}

	expected := `{"items":["c","a","b"]}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('x')</script> &",
	}

	expected := `{"html":"<script>alert('x')</script> &"}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, string(b))
	}
}

func TestBytes_IntegralNumbers(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"int", `{"n":7}`, `{"n":7}`},
		{"integral float", `{"n":7.0}`, `{"n":7}`},
		{"negative integral float", `{"n":-3.00}`, `{"n":-3}`},
		{"fraction", `{"n":0.5}`, `{"n":0.5}`},
		{"large int", `{"n":9007199254740991}`, `{"n":9007199254740991}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v any
			dec := json.NewDecoder(strings.NewReader(tc.input))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				t.Fatalf("decode: %v", err)
			}
			b, err := Bytes(v)
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if string(b) != tc.want {
				t.Errorf("expected %s, got %s", tc.want, string(b))
			}
		})
	}
}

func TestBytes_RejectsNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Bytes(map[string]any{"v": bad}); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
}

func TestBytes_RejectsCycles(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	if _, err := Bytes(cyclic); err == nil {
		t.Error("expected error for cyclic structure")
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	input := map[string]any{
		"b": []any{2, 1},
		"a": map[string]any{"y": 1.0, "x": "é"},
	}

	once, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	twice, err := Canonicalize(once)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	b1, err := Bytes(once)
	if err != nil {
		t.Fatalf("Bytes(once): %v", err)
	}
	b2, err := Bytes(twice)
	if err != nil {
		t.Fatalf("Bytes(twice): %v", err)
	}
	if string(b1) != string(b2) {
		t.Errorf("canonicalization not idempotent: %s vs %s", b1, b2)
	}
}

func TestBytes_IsomorphicInputsEqual(t *testing.T) {
	type payload struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	fromStruct, err := Bytes(payload{B: 2, A: "x"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	fromMap, err := Bytes(map[string]any{"a": "x", "b": 2})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if string(fromStruct) != string(fromMap) {
		t.Errorf("isomorphic inputs diverge: %s vs %s", fromStruct, fromMap)
	}
}

func TestHash_StableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := Hash(map[string]any{"b": "x", "a": 1})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash differs across key order: %s vs %s", h1, h2)
	}
}

func TestTransformRaw_MatchesBytes(t *testing.T) {
	raw := []byte(`{"z": 1, "a": {"c": true, "b": [3, 2]}}`)

	transformed, err := TransformRaw(raw)
	if err != nil {
		t.Fatalf("TransformRaw: %v", err)
	}

	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	direct, err := Bytes(v)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	if string(transformed) != string(direct) {
		t.Errorf("TransformRaw %s != Bytes %s", transformed, direct)
	}
}
