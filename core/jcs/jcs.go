package jcs

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"unicode/utf16"

	"github.com/gowebpki/jcs"
)

// Member is one key/value pair of a canonical object.
type Member struct {
	Key   string
	Value any
}

// Object is a JSON object whose members are already in canonical order.
type Object []Member

func (object Object) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for index, member := range object {
		if index > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(member.Key)
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		value, err := json.Marshal(member.Value)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", member.Key, err)
		}
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// Canonicalize orders the keys of every object in value and keeps array order.
// Scalars, nil and json.Number pass through unchanged. Raw JSON fragments are
// decoded (numbers kept as json.Number) and canonicalized recursively.
func Canonicalize(value any) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		decoded, err := decodeRaw(typed)
		if err != nil {
			return nil, err
		}
		return Canonicalize(decoded)
	case map[string]any:
		object := make(Object, 0, len(typed))
		for _, key := range sortedKeys(typed) {
			member, err := Canonicalize(typed[key])
			if err != nil {
				return nil, err
			}
			object = append(object, Member{Key: key, Value: member})
		}
		return object, nil
	case map[string]json.RawMessage:
		object := make(Object, 0, len(typed))
		for _, key := range sortedKeys(typed) {
			member, err := Canonicalize(typed[key])
			if err != nil {
				return nil, err
			}
			object = append(object, Member{Key: key, Value: member})
		}
		return object, nil
	case []any:
		out := make([]any, len(typed))
		for index, element := range typed {
			member, err := Canonicalize(element)
			if err != nil {
				return nil, err
			}
			out[index] = member
		}
		return out, nil
	default:
		return value, nil
	}
}

// Serialize returns the compact canonical text of value. Object members follow
// the order Canonicalize gives them; numbers and strings are emitted with the
// RFC 8785 primitive encoding.
func Serialize(value any) ([]byte, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := writeCanonical(&buffer, canonical); err != nil {
		return nil, fmt.Errorf("encode canonical value: %w", err)
	}
	return buffer.Bytes(), nil
}

func writeCanonical(buffer *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case Object:
		buffer.WriteByte('{')
		for index, member := range typed {
			if index > 0 {
				buffer.WriteByte(',')
			}
			if err := writePrimitive(buffer, member.Key); err != nil {
				return err
			}
			buffer.WriteByte(':')
			if err := writeCanonical(buffer, member.Value); err != nil {
				return fmt.Errorf("member %q: %w", member.Key, err)
			}
		}
		buffer.WriteByte('}')
		return nil
	case []any:
		buffer.WriteByte('[')
		for index, element := range typed {
			if index > 0 {
				buffer.WriteByte(',')
			}
			if err := writeCanonical(buffer, element); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
		return nil
	default:
		return writePrimitive(buffer, value)
	}
}

func writePrimitive(buffer *bytes.Buffer, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		nested, err := Canonicalize(json.RawMessage(raw))
		if err != nil {
			return err
		}
		return writeCanonical(buffer, nested)
	}
	encoded, err := CanonicalizeJSON(raw)
	if err != nil {
		return err
	}
	buffer.Write(encoded)
	return nil
}

// Digest returns the sha256 hex digest of Serialize(value).
func Digest(value any) (string, error) {
	serialized, err := Serialize(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

func decodeRaw(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode raw json: %w", err)
	}
	return value, nil
}

// Array-index keys ("0", "7", "42", below 2^32-1) come first in numeric
// order, then the remaining keys by UTF-16 code units. This is the member order
// the producer's JSON.stringify emits over its sorted keys.
func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(left, right string) int {
	leftIndex, leftOK := arrayIndex(left)
	rightIndex, rightOK := arrayIndex(right)
	switch {
	case leftOK && rightOK:
		return cmp.Compare(leftIndex, rightIndex)
	case leftOK:
		return -1
	case rightOK:
		return 1
	}
	return compareUTF16(left, right)
}

func arrayIndex(key string) (uint32, bool) {
	if key == "" || len(key) > 10 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	var index uint64
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return 0, false
		}
		index = index*10 + uint64(key[i]-'0')
	}
	if index >= math.MaxUint32 {
		return 0, false
	}
	return uint32(index), true
}

func compareUTF16(left, right string) int {
	return slices.Compare(utf16.Encode([]rune(left)), utf16.Encode([]rune(right)))
}
