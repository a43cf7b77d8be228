// Package merkle builds the custody commitment tree over vault holdings.
//
// Leaves and interior nodes are domain-separated with versioned prefixes
// so a leaf hash can never be replayed as a node hash. Odd levels
// duplicate their last node.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/loopworks/rotor/pkg/canonicalize"
)

const (
	leafPrefix = "rotor:custody:leaf:v1"
	nodePrefix = "rotor:custody:node:v1"
)

var ErrLeafNotFound = errors.New("merkle: leaf not found")

// Leaf is one committed entry, identified by the ID the proof will name.
type Leaf struct {
	ID   string
	Hash string
}

// Tree is the full commitment structure. Levels[0] holds leaf hashes and
// the last level holds the single root.
type Tree struct {
	leaves []Leaf
	levels [][]string
	byID   map[string]int
}

// LeafHash computes the domain-separated hash for one entry. The value
// is canonicalized so structurally equal entries always hash the same.
func LeafHash(id string, value any) (string, error) {
	canonical, err := canonicalize.Bytes(value)
	if err != nil {
		return "", fmt.Errorf("merkle: canonicalize leaf %s: %w", id, err)
	}
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(id)
	buf.WriteByte(0)
	buf.Write(canonical)
	return sha256Hex(buf.Bytes()), nil
}

// Build assembles a tree from pre-hashed leaves. The caller fixes the
// leaf order; custody snapshots order by holding ID.
func Build(leaves []Leaf) *Tree {
	t := &Tree{leaves: leaves, byID: make(map[string]int, len(leaves))}
	for i, leaf := range leaves {
		t.byID[leaf.ID] = i
	}
	if len(leaves) == 0 {
		return t
	}

	level := make([]string, len(leaves))
	for i, leaf := range leaves {
		level[i] = leaf.Hash
	}
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		t.levels = append(t.levels, level)
	}
	return t
}

// BuildFromValues hashes each (id, value) pair and assembles the tree.
func BuildFromValues(ids []string, values []any) (*Tree, error) {
	if len(ids) != len(values) {
		return nil, fmt.Errorf("merkle: %d ids for %d values", len(ids), len(values))
	}
	leaves := make([]Leaf, len(ids))
	for i, id := range ids {
		hash, err := LeafHash(id, values[i])
		if err != nil {
			return nil, err
		}
		leaves[i] = Leaf{ID: id, Hash: hash}
	}
	return Build(leaves), nil
}

// Root returns the root hash, or "" for an empty tree.
func (t *Tree) Root() string {
	if len(t.levels) == 0 {
		return ""
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Size returns the number of leaves.
func (t *Tree) Size() int { return len(t.leaves) }

func nextLevel(hashes []string) []string {
	count := len(hashes)
	if count%2 != 0 {
		hashes = append(hashes, hashes[count-1])
		count++
	}
	next := make([]string, count/2)
	for i := 0; i < count; i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
