package jcs

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeJSON(t *testing.T) {
	in := []byte(`{ "b":2, "a":1 }`)
	want := `{"a":1,"b":2}`
	out, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("canonicalize error: %v", err)
	}
	if string(out) != want {
		t.Fatalf("unexpected canonical form: %s", string(out))
	}
}

func TestCanonicalizeJSONInvalid(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{`))
	if err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestSerializeSortsNestedKeysAndKeepsArrayOrder(t *testing.T) {
	value := []any{
		"tag",
		map[string]any{
			"z": []any{3, 1, 2},
			"a": map[string]any{"y": true, "b": nil},
		},
	}
	out, err := Serialize(value)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := `["tag",{"a":{"b":null,"y":true},"z":[3,1,2]}]`
	if string(out) != want {
		t.Fatalf("unexpected serialization: %s", string(out))
	}
}

func TestSerializeRawMessagesMatchDecodedValues(t *testing.T) {
	raw := map[string]json.RawMessage{
		"events": json.RawMessage(`[{"value":1,"kind":"example"}]`),
		"count":  json.RawMessage(`1`),
	}
	decoded := map[string]any{
		"count":  1,
		"events": []any{map[string]any{"kind": "example", "value": 1}},
	}
	left, err := Serialize(raw)
	if err != nil {
		t.Fatalf("serialize raw: %v", err)
	}
	right, err := Serialize(decoded)
	if err != nil {
		t.Fatalf("serialize decoded: %v", err)
	}
	if string(left) != string(right) {
		t.Fatalf("raw and decoded forms differ: %s vs %s", left, right)
	}
}

func TestSerializeUsesProducerPrimitiveEncoding(t *testing.T) {
	out, err := Serialize(map[string]json.RawMessage{
		"n": json.RawMessage(`1.0`),
		"e": json.RawMessage(`1e21`),
		"s": json.RawMessage(`"<a&b>"`),
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := `{"e":1e+21,"n":1,"s":"<a&b>"}`
	if string(out) != want {
		t.Fatalf("unexpected primitive encoding: %s", string(out))
	}
}

func TestCanonicalizeOrdersByUTF16CodeUnits(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before U+FF61.
	canonical, err := Canonicalize(map[string]any{"｡": 1, "\U0001F600": 2})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	object, ok := canonical.(Object)
	if !ok {
		t.Fatalf("expected Object, got %T", canonical)
	}
	if object[0].Key != "\U0001F600" || object[1].Key != "｡" {
		t.Fatalf("unexpected key order: %q, %q", object[0].Key, object[1].Key)
	}
}

func TestCanonicalizeScalarsPassThrough(t *testing.T) {
	for _, value := range []any{nil, "text", true, json.Number("12")} {
		out, err := Canonicalize(value)
		if err != nil {
			t.Fatalf("canonicalize %v: %v", value, err)
		}
		if out != value {
			t.Fatalf("expected %v to pass through, got %v", value, out)
		}
	}
}

func TestDigestDeterministic(t *testing.T) {
	first, err := Digest([]any{"audit_root_v1.2", "run_test_1"})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	second, err := Digest([]any{"audit_root_v1.2", "run_test_1"})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if first != second || len(first) != 64 {
		t.Fatalf("unexpected digests %q %q", first, second)
	}
}

func TestSerializeOrdersArrayIndexKeysFirst(t *testing.T) {
	out, err := Serialize(map[string]json.RawMessage{
		"events": json.RawMessage(`[{"10":1,"9":2,"a":3,"01":4,"4294967295":5}]`),
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	want := `{"events":[{"9":2,"10":1,"01":4,"4294967295":5,"a":3}]}`
	if string(out) != want {
		t.Fatalf("unexpected key order: %s", out)
	}
}
