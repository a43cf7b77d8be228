package contracts

import "time"

// HoldingStatus is the custody state of a vault holding.
type HoldingStatus string

const (
	HoldingDeposited HoldingStatus = "deposited"
	HoldingReserved  HoldingStatus = "reserved"
	HoldingReleased  HoldingStatus = "released"
	HoldingWithdrawn HoldingStatus = "withdrawn"
)

// Valid reports whether the status value is supported.
func (s HoldingStatus) Valid() bool {
	switch s {
	case HoldingDeposited, HoldingReserved, HoldingReleased, HoldingWithdrawn:
		return true
	default:
		return false
	}
}

// VaultHolding is a ledger entry proving custody of one asset. Holdings are
// appended on deposit and mutated through reservation, release, and
// withdrawal; they are never physically deleted.
type VaultHolding struct {
	HoldingID         string        `json:"holding_id"`
	VaultID           string        `json:"vault_id"`
	OwnerActor        ActorRef      `json:"owner_actor"`
	AssetID           string        `json:"asset_id"`
	Status            HoldingStatus `json:"status"`
	ReservationID     string        `json:"reservation_id,omitempty"`
	SettlementCycleID string        `json:"settlement_cycle_id,omitempty"`
	DepositedAt       time.Time     `json:"deposited_at"`
	WithdrawnAt       time.Time     `json:"withdrawn_at,omitempty"`
}

// SnapshotLeaf pins one holding's leaf hash inside a custody snapshot so
// inclusion proofs stay reproducible after the holding mutates.
type SnapshotLeaf struct {
	HoldingID string `json:"holding_id"`
	LeafHash  string `json:"leaf_hash"`
}

// CustodySnapshot is the Merkle commitment over all holdings at a point in
// time, appended to the vault_custody_snapshots journal.
type CustodySnapshot struct {
	SnapshotID   string         `json:"snapshot_id"`
	VaultID      string         `json:"vault_id,omitempty"`
	RootHash     string         `json:"root_hash"`
	HoldingCount int            `json:"holding_count"`
	Leaves       []SnapshotLeaf `json:"leaves"`
	TakenAt      time.Time      `json:"taken_at"`
}

// InclusionProofStep is one sibling on the path from a leaf to the root.
type InclusionProofStep struct {
	Side        string `json:"side"` // "L" or "R"
	SiblingHash string `json:"sibling_hash"`
}

// InclusionProof demonstrates a holding's membership in a custody snapshot.
type InclusionProof struct {
	SnapshotID string               `json:"snapshot_id"`
	HoldingID  string               `json:"holding_id"`
	LeafHash   string               `json:"leaf_hash"`
	LeafIndex  int                  `json:"leaf_index"`
	RootHash   string               `json:"root_hash"`
	Path       []InclusionProofStep `json:"path"`
}
