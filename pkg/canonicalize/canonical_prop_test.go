//go:build property
// +build property

// Property-based tests for canonicalization determinism and idempotence.
package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCanonicalBytesDeterministic verifies Bytes(obj) == Bytes(obj) for any
// generated object.
func TestCanonicalBytesDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical bytes are deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}

			b1, err1 := Bytes(obj)
			b2, err2 := Bytes(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestCanonicalizeIdempotent verifies canonical(canonical(x)) == canonical(x).
func TestCanonicalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonicalization is idempotent", prop.ForAll(
		func(keys []string, nums []int64) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(nums); i++ {
				if keys[i] != "" {
					obj[keys[i]] = nums[i]
				}
			}

			once, err := Canonicalize(obj)
			if err != nil {
				return false
			}
			twice, err := Canonicalize(once)
			if err != nil {
				return false
			}
			b1, err := Bytes(once)
			if err != nil {
				return false
			}
			b2, err := Bytes(twice)
			if err != nil {
				return false
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}
