// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization for deterministic hashing and signing of rotor
// payloads. The canonical form is the sole input to every hash and
// signature in the system, so its byte output must be stable across
// versions.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize returns the canonical value tree of v: object keys sorted
// lexicographically at every depth, strings NFC-normalized, numbers
// normalized per Bytes. Arrays keep their order. Non-finite numbers and
// non-string keys are rejected; cyclic values fail in the pre-marshal.
func Canonicalize(v any) (any, error) {
	generic, err := decode(v)
	if err != nil {
		return nil, err
	}
	return normalize(generic)
}

// Bytes returns the canonical UTF-8 serialization of v: sorted keys, no
// insignificant whitespace, no HTML escaping, integral numbers without a
// fractional part.
func Bytes(v any) ([]byte, error) {
	generic, err := decode(v)
	if err != nil {
		return nil, err
	}
	return marshalValue(generic)
}

// String returns the canonical form as a string.
func String(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// decode round-trips v through encoding/json so struct tags are honored
// while numbers survive as json.Number. Cyclic values error here.
func decode(v any) (any, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal failed: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: intermediate decode failed: %w", err)
	}
	return generic, nil
}

// normalize rewrites the generic tree into its canonical value form.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool:
		return t, nil
	case string:
		return norm.NFC.String(t), nil
	case json.Number:
		s, err := canonicalNumber(t)
		if err != nil {
			return nil, err
		}
		return json.Number(s), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[norm.NFC.String(k)] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("canonicalize: unsupported value %T", v)
	}
}

func marshalValue(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		s, err := canonicalNumber(t)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case string:
		return encodeString(norm.NFC.String(t))
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, norm.NFC.String(k))
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalValue(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("canonicalize: unsupported value %T", v)
	}
}

// encodeString emits a JSON string without HTML escaping, trimming the
// trailing newline json.Encoder appends.
func encodeString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("canonicalize: string encode failed: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// canonicalNumber normalizes a decoded number: integers keep their integer
// form, integral floats drop the fractional part, other floats use the
// shortest round-trip form. NaN and infinities never decode from JSON but
// are rejected defensively for direct json.Number construction.
func canonicalNumber(n json.Number) (string, error) {
	s := n.String()
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("canonicalize: invalid number %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("canonicalize: non-finite number %q", s)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}
