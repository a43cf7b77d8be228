// Package vault tracks asset custody during settlement.
//
// Holdings are appended on deposit and move through
// deposited → reserved → released → withdrawn; they are never physically
// deleted. A holding is reserved at most once, tying it to exactly one
// settlement cycle. Custody snapshots commit the holding set to a Merkle
// root with pinned leaf hashes, so inclusion proofs remain reproducible
// after holdings mutate.
package vault

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/merkle"
	"github.com/loopworks/rotor/pkg/store"
)

// Ledger applies vault operations to a state tree. Methods run inside
// the store writer; they mutate the passed state and never touch
// persistence themselves.
type Ledger struct {
	now func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{now: time.Now}
}

// WithClock overrides the timestamp source. Useful in tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Deposit appends a new holding owned by owner.
func (l *Ledger) Deposit(st *store.State, owner contracts.ActorRef, vaultID, assetID string) (*contracts.VaultHolding, error) {
	if assetID == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "asset_id required")
	}
	holding := &contracts.VaultHolding{
		HoldingID:   "hold_" + uuid.New().String(),
		VaultID:     vaultID,
		OwnerActor:  owner,
		AssetID:     assetID,
		Status:      contracts.HoldingDeposited,
		DepositedAt: l.now().UTC(),
	}
	st.VaultHoldings[holding.HoldingID] = holding
	return holding, nil
}

// Reserve ties a deposited holding to one settlement cycle. Owner checks
// apply to user actors; service-role actors operate on any holding.
func (l *Ledger) Reserve(st *store.State, actor contracts.ActorRef, holdingID, cycleID string) (*contracts.VaultHolding, error) {
	if cycleID == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "settlement_cycle_id required")
	}
	holding, err := l.get(st, holdingID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(actor, holding); err != nil {
		return nil, err
	}
	if holding.Status != contracts.HoldingDeposited {
		return nil, contracts.Errorf(contracts.CodeConflict, "holding %s is %s, not reservable", holdingID, holding.Status).
			WithReason(contracts.ReasonAlreadyReserved)
	}
	holding.Status = contracts.HoldingReserved
	holding.ReservationID = "rsv_" + uuid.New().String()
	holding.SettlementCycleID = cycleID
	return holding, nil
}

// Release un-ties a reserved holding from its cycle.
func (l *Ledger) Release(st *store.State, actor contracts.ActorRef, holdingID string) (*contracts.VaultHolding, error) {
	holding, err := l.get(st, holdingID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(actor, holding); err != nil {
		return nil, err
	}
	if holding.Status != contracts.HoldingReserved {
		return nil, contracts.Errorf(contracts.CodeConflict, "holding %s is %s, not reserved", holdingID, holding.Status).
			WithReason(contracts.ReasonNotReserved)
	}
	holding.Status = contracts.HoldingReleased
	holding.ReservationID = ""
	holding.SettlementCycleID = ""
	return holding, nil
}

// Withdraw terminates custody of a deposited or released holding.
func (l *Ledger) Withdraw(st *store.State, actor contracts.ActorRef, holdingID string) (*contracts.VaultHolding, error) {
	holding, err := l.get(st, holdingID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(actor, holding); err != nil {
		return nil, err
	}
	switch holding.Status {
	case contracts.HoldingDeposited, contracts.HoldingReleased:
		// withdrawable
	case contracts.HoldingReserved:
		return nil, contracts.Errorf(contracts.CodeConflict, "holding %s is reserved for cycle %s", holdingID, holding.SettlementCycleID).
			WithReason(contracts.ReasonAlreadyReserved)
	default:
		return nil, contracts.Errorf(contracts.CodeConflict, "holding %s already withdrawn", holdingID)
	}
	holding.Status = contracts.HoldingWithdrawn
	holding.WithdrawnAt = l.now().UTC()
	return holding, nil
}

// Get returns one holding.
func (l *Ledger) Get(st *store.State, holdingID string) (*contracts.VaultHolding, error) {
	return l.get(st, holdingID)
}

func (l *Ledger) get(st *store.State, holdingID string) (*contracts.VaultHolding, error) {
	holding, ok := st.VaultHoldings[holdingID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "holding %s not found", holdingID)
	}
	return holding, nil
}

// ListFilter narrows List results. Zero-value fields match everything.
type ListFilter struct {
	OwnerFingerprint string
	VaultID          string
	Status           contracts.HoldingStatus
}

// List returns matching holdings ordered by holding ID.
func (l *Ledger) List(st *store.State, filter ListFilter) []*contracts.VaultHolding {
	out := make([]*contracts.VaultHolding, 0)
	for _, holding := range st.VaultHoldings {
		if filter.OwnerFingerprint != "" && holding.OwnerActor.Fingerprint() != filter.OwnerFingerprint {
			continue
		}
		if filter.VaultID != "" && holding.VaultID != filter.VaultID {
			continue
		}
		if filter.Status != "" && holding.Status != filter.Status {
			continue
		}
		out = append(out, holding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HoldingID < out[j].HoldingID })
	return out
}

func checkOwner(actor contracts.ActorRef, holding *contracts.VaultHolding) error {
	if actor.Type == contracts.ActorAdmin || actor.Type == contracts.ActorService {
		return nil
	}
	if !actor.Equal(holding.OwnerActor) {
		return contracts.Errorf(contracts.CodeForbidden, "holding %s is not owned by %s", holding.HoldingID, actor.Fingerprint()).
			WithReason(contracts.ReasonOwnerMismatch)
	}
	return nil
}

// ReleaseForCycle releases every holding reserved for the cycle. Used by
// terminal settlement failures.
func (l *Ledger) ReleaseForCycle(st *store.State, cycleID string) []*contracts.VaultHolding {
	released := make([]*contracts.VaultHolding, 0)
	ids := make([]string, 0)
	for id, holding := range st.VaultHoldings {
		if holding.Status == contracts.HoldingReserved && holding.SettlementCycleID == cycleID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		holding := st.VaultHoldings[id]
		holding.Status = contracts.HoldingReleased
		holding.ReservationID = ""
		holding.SettlementCycleID = ""
		released = append(released, holding)
	}
	return released
}

// Snapshot commits the current holding set (optionally one vault's) to a
// Merkle root and appends the snapshot to the custody journal, folding
// the journal's attestation chain forward.
func (l *Ledger) Snapshot(st *store.State, vaultID string) (*contracts.CustodySnapshot, error) {
	holdings := l.List(st, ListFilter{VaultID: vaultID})

	ids := make([]string, len(holdings))
	values := make([]any, len(holdings))
	for i, holding := range holdings {
		ids[i] = holding.HoldingID
		values[i] = holding
	}
	tree, err := merkle.BuildFromValues(ids, values)
	if err != nil {
		return nil, contracts.AsError(fmt.Errorf("custody tree: %w", err))
	}

	snap := &contracts.CustodySnapshot{
		SnapshotID:   "snap_" + uuid.New().String(),
		VaultID:      vaultID,
		RootHash:     tree.Root(),
		HoldingCount: len(holdings),
		Leaves:       make([]contracts.SnapshotLeaf, len(holdings)),
		TakenAt:      l.now().UTC(),
	}
	for i, id := range ids {
		proof, err := tree.Prove(id)
		if err != nil {
			return nil, contracts.AsError(err)
		}
		snap.Leaves[i] = contracts.SnapshotLeaf{HoldingID: id, LeafHash: proof.LeafHash}
	}

	st.AppendCustodySnapshot(snap)
	head := st.ChainHeadFor(store.JournalCustody)
	next, err := attest.NextHash(head.Head, snap)
	if err != nil {
		return nil, contracts.AsError(err)
	}
	st.SetChainHead(store.JournalCustody, next, head.Length+1)
	return snap, nil
}

// ProveInclusion rebuilds the snapshot's tree from its pinned leaves and
// returns the inclusion proof for one holding.
func (l *Ledger) ProveInclusion(st *store.State, snapshotID, holdingID string) (*contracts.InclusionProof, error) {
	snap, ok := st.CustodySnapshotByID(snapshotID)
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "snapshot %s not found", snapshotID)
	}
	leaves := make([]merkle.Leaf, len(snap.Leaves))
	for i, leaf := range snap.Leaves {
		leaves[i] = merkle.Leaf{ID: leaf.HoldingID, Hash: leaf.LeafHash}
	}
	tree := merkle.Build(leaves)
	if tree.Root() != snap.RootHash {
		return nil, contracts.NewError(contracts.CodeTampered, "snapshot leaves do not reproduce the recorded root")
	}
	proof, err := tree.Prove(holdingID)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeNotFound, "holding %s not in snapshot %s", holdingID, snapshotID)
	}
	return &contracts.InclusionProof{
		SnapshotID: snapshotID,
		HoldingID:  holdingID,
		LeafHash:   proof.LeafHash,
		LeafIndex:  proof.LeafIndex,
		RootHash:   snap.RootHash,
		Path:       proof.Path,
	}, nil
}

// VerifyInclusion checks a holding value against an inclusion proof and
// the snapshot root. Tampering the holding, the leaf hash, or any
// sibling fails the check.
func VerifyInclusion(holding *contracts.VaultHolding, proof *contracts.InclusionProof, rootHash string) bool {
	if holding == nil || proof == nil {
		return false
	}
	leafHash, err := merkle.LeafHash(holding.HoldingID, holding)
	if err != nil {
		return false
	}
	if leafHash != proof.LeafHash {
		return false
	}
	return merkle.VerifyProof(leafHash, proof.Path, rootHash)
}
