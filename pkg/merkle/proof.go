package merkle

import (
	"fmt"

	"github.com/loopworks/rotor/pkg/contracts"
)

// Proof is the sibling path from one leaf to the root.
type Proof struct {
	LeafID    string                         `json:"leaf_id"`
	LeafIndex int                            `json:"leaf_index"`
	LeafHash  string                         `json:"leaf_hash"`
	Root      string                         `json:"root"`
	Path      []contracts.InclusionProofStep `json:"path"`
}

// Prove produces the inclusion proof for the leaf with the given ID.
func (t *Tree) Prove(id string) (Proof, error) {
	idx, ok := t.byID[id]
	if !ok {
		return Proof{}, fmt.Errorf("%w: %s", ErrLeafNotFound, id)
	}
	proof := Proof{
		LeafID:    id,
		LeafIndex: idx,
		LeafHash:  t.leaves[idx].Hash,
		Root:      t.Root(),
	}
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			// Odd level: the last node pairs with its duplicate.
			sibling = idx
		}
		side := "L"
		if idx%2 == 0 {
			side = "R"
		}
		proof.Path = append(proof.Path, contracts.InclusionProofStep{
			Side:        side,
			SiblingHash: level[sibling],
		})
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a leaf hash and sibling path and
// compares it to expectedRoot.
func VerifyProof(leafHash string, path []contracts.InclusionProofStep, expectedRoot string) bool {
	if expectedRoot == "" {
		return false
	}
	current := leafHash
	for _, step := range path {
		switch step.Side {
		case "L":
			current = nodeHash(step.SiblingHash, current)
		case "R":
			current = nodeHash(current, step.SiblingHash)
		default:
			return false
		}
	}
	return current == expectedRoot
}
