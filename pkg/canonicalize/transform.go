package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// TransformRaw canonicalizes already-serialized JSON without a struct
// round-trip. Webhook ingestion verifies signatures over the wire bytes
// it received, not over a re-marshal of them. The JCS transform validates
// and orders the input; the second pass applies the same string and
// number normalization Bytes applies, so both entry points produce
// identical output for identical data.
func TransformRaw(raw []byte) ([]byte, error) {
	ordered, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: raw transform failed: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(ordered))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: raw decode failed: %w", err)
	}
	normalized, err := normalize(generic)
	if err != nil {
		return nil, err
	}
	return marshalValue(normalized)
}

// HashRaw returns the SHA-256 hex digest of the canonical form of
// already-serialized JSON.
func HashRaw(raw []byte) (string, error) {
	out, err := TransformRaw(raw)
	if err != nil {
		return "", err
	}
	return HashBytes(out), nil
}
