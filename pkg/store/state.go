// Package store persists the runtime state tree.
//
// State is a tree of keyed maps and append-only journal lists. Two
// backends expose the same interface: an in-memory tree snapshotted to a
// JSON file, and a SQL-backed variant with per-resource tables that
// hydrate into the same logical shape. A store has a single logical
// writer; reads may run concurrently.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/loopworks/rotor/pkg/contracts"
)

// CurrentSchemaVersion stamps new snapshots.
const CurrentSchemaVersion = "1.0.0"

// SupportedSchemaRange is the semver constraint a loaded snapshot must
// satisfy.
const SupportedSchemaRange = ">= 1.0.0, < 2.0.0"

// Journal names. Every journal carries an attestation chain and is
// exportable.
const (
	JournalReceipts    = "receipts"
	JournalEvents      = "events"
	JournalCustody     = "vault_custody_snapshots"
	JournalPolicyAudit = "partner_rollout_policy_audit"
	JournalUsage       = "partner_program_usage"
)

// ChainHead caches the attestation head of one journal so appends do not
// refold the whole list.
type ChainHead struct {
	Head   string `json:"head"`
	Length int    `json:"length"`
}

// Tenancy maps resource IDs to their owning partner.
type Tenancy struct {
	Proposals map[string]string `json:"proposals"`
	Cycles    map[string]string `json:"cycles"`
}

// State is the full persisted tree. Maps are keyed by the resource's
// primary ID; journal lists are append-only.
type State struct {
	SchemaVersion string `json:"schema_version"`

	Intents                   map[string]*contracts.SwapIntent         `json:"intents"`
	Proposals                 map[string]*contracts.CycleProposal      `json:"proposals"`
	Commits                   map[string]*contracts.Commit             `json:"commits"`
	Timelines                 map[string]*contracts.Timeline           `json:"timelines"`
	Receipts                  []*contracts.Receipt                     `json:"receipts"`
	VaultHoldings             map[string]*contracts.VaultHolding       `json:"vault_holdings"`
	VaultCustodySnapshots     []*contracts.CustodySnapshot             `json:"vault_custody_snapshots"`
	Events                    []*contracts.EventEnvelope               `json:"events"`
	Idempotency               map[string]*contracts.IdempotencyRecord  `json:"idempotency"`
	Delegations               map[string]*contracts.DelegationGrant    `json:"delegations"`
	PartnerProgram            map[string]*contracts.Program            `json:"partner_program"`
	PartnerProgramUsage       []*contracts.UsageRecord                 `json:"partner_program_usage"`
	PartnerRolloutPolicies    map[string]*contracts.RolloutPolicy      `json:"partner_rollout_policies"`
	PartnerRolloutPolicyAudit []*contracts.PolicyAuditEntry            `json:"partner_rollout_policy_audit"`
	ExportCheckpoints         map[string][]*contracts.ExportCheckpoint `json:"export_checkpoints"`
	Tenancy                   Tenancy                                  `json:"tenancy"`
	ChainHeads                map[string]ChainHead                     `json:"chain_heads"`

	eventIndex map[string]int
}

// NewState returns an empty tree at the current schema version.
func NewState() *State {
	s := &State{SchemaVersion: CurrentSchemaVersion}
	s.ensureMaps()
	return s
}

// ensureMaps replaces nil maps after JSON decoding or hydration.
func (s *State) ensureMaps() {
	if s.Intents == nil {
		s.Intents = make(map[string]*contracts.SwapIntent)
	}
	if s.Proposals == nil {
		s.Proposals = make(map[string]*contracts.CycleProposal)
	}
	if s.Commits == nil {
		s.Commits = make(map[string]*contracts.Commit)
	}
	if s.Timelines == nil {
		s.Timelines = make(map[string]*contracts.Timeline)
	}
	if s.VaultHoldings == nil {
		s.VaultHoldings = make(map[string]*contracts.VaultHolding)
	}
	if s.Idempotency == nil {
		s.Idempotency = make(map[string]*contracts.IdempotencyRecord)
	}
	if s.Delegations == nil {
		s.Delegations = make(map[string]*contracts.DelegationGrant)
	}
	if s.PartnerProgram == nil {
		s.PartnerProgram = make(map[string]*contracts.Program)
	}
	if s.PartnerRolloutPolicies == nil {
		s.PartnerRolloutPolicies = make(map[string]*contracts.RolloutPolicy)
	}
	if s.ExportCheckpoints == nil {
		s.ExportCheckpoints = make(map[string][]*contracts.ExportCheckpoint)
	}
	if s.Tenancy.Proposals == nil {
		s.Tenancy.Proposals = make(map[string]string)
	}
	if s.Tenancy.Cycles == nil {
		s.Tenancy.Cycles = make(map[string]string)
	}
	if s.ChainHeads == nil {
		s.ChainHeads = make(map[string]ChainHead)
	}
	s.reindex()
}

func (s *State) reindex() {
	s.eventIndex = make(map[string]int, len(s.Events))
	for i, e := range s.Events {
		s.eventIndex[e.EventID] = i
	}
}

// Clone deep-copies the tree via a JSON round trip. Every stored value is
// JSON-serializable, so the copy is exact.
func (s *State) Clone() (*State, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("store: clone marshal: %w", err)
	}
	clone := &State{}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, fmt.Errorf("store: clone unmarshal: %w", err)
	}
	clone.ensureMaps()
	return clone, nil
}

// AppendEvent appends an envelope unless its event ID was already seen.
// Returns false for duplicates. The journal doubles as the persistent
// dedup set: only appended envelopes count as seen.
func (s *State) AppendEvent(e *contracts.EventEnvelope) bool {
	if _, seen := s.eventIndex[e.EventID]; seen {
		return false
	}
	s.eventIndex[e.EventID] = len(s.Events)
	s.Events = append(s.Events, e)
	return true
}

// HasEvent reports whether an event ID has been recorded.
func (s *State) HasEvent(eventID string) bool {
	_, seen := s.eventIndex[eventID]
	return seen
}

// AppendReceipt appends to the receipts journal and returns the sequence.
func (s *State) AppendReceipt(r *contracts.Receipt) int {
	s.Receipts = append(s.Receipts, r)
	return len(s.Receipts)
}

// ReceiptByID scans the receipts journal for a receipt ID.
func (s *State) ReceiptByID(id string) (*contracts.Receipt, bool) {
	for _, r := range s.Receipts {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// ReceiptForCycle returns the terminal receipt of a cycle, if issued.
func (s *State) ReceiptForCycle(cycleID string) (*contracts.Receipt, bool) {
	for _, r := range s.Receipts {
		if r.CycleID == cycleID {
			return r, true
		}
	}
	return nil, false
}

// AppendCustodySnapshot appends to the custody snapshot journal.
func (s *State) AppendCustodySnapshot(snap *contracts.CustodySnapshot) int {
	s.VaultCustodySnapshots = append(s.VaultCustodySnapshots, snap)
	return len(s.VaultCustodySnapshots)
}

// CustodySnapshotByID scans the custody journal for a snapshot ID.
func (s *State) CustodySnapshotByID(id string) (*contracts.CustodySnapshot, bool) {
	for _, snap := range s.VaultCustodySnapshots {
		if snap.SnapshotID == id {
			return snap, true
		}
	}
	return nil, false
}

// AppendPolicyAudit stamps the next sequence and appends to the rollout
// policy audit journal.
func (s *State) AppendPolicyAudit(entry *contracts.PolicyAuditEntry) int {
	entry.Seq = len(s.PartnerRolloutPolicyAudit) + 1
	s.PartnerRolloutPolicyAudit = append(s.PartnerRolloutPolicyAudit, entry)
	return entry.Seq
}

// AppendUsage stamps the next sequence and appends a usage record.
func (s *State) AppendUsage(rec *contracts.UsageRecord) int {
	rec.Seq = len(s.PartnerProgramUsage) + 1
	s.PartnerProgramUsage = append(s.PartnerProgramUsage, rec)
	return rec.Seq
}

// JournalEntries returns a journal's entries as canonicalizable values in
// append order.
func (s *State) JournalEntries(journal string) ([]any, error) {
	switch journal {
	case JournalReceipts:
		out := make([]any, len(s.Receipts))
		for i, r := range s.Receipts {
			out[i] = r
		}
		return out, nil
	case JournalEvents:
		out := make([]any, len(s.Events))
		for i, e := range s.Events {
			out[i] = e
		}
		return out, nil
	case JournalCustody:
		out := make([]any, len(s.VaultCustodySnapshots))
		for i, snap := range s.VaultCustodySnapshots {
			out[i] = snap
		}
		return out, nil
	case JournalPolicyAudit:
		out := make([]any, len(s.PartnerRolloutPolicyAudit))
		for i, entry := range s.PartnerRolloutPolicyAudit {
			out[i] = entry
		}
		return out, nil
	case JournalUsage:
		out := make([]any, len(s.PartnerProgramUsage))
		for i, rec := range s.PartnerProgramUsage {
			out[i] = rec
		}
		return out, nil
	default:
		return nil, fmt.Errorf("store: unknown journal %q", journal)
	}
}

// ChainHeadFor returns the cached attestation head for a journal.
func (s *State) ChainHeadFor(journal string) ChainHead {
	return s.ChainHeads[journal]
}

// SetChainHead updates the cached attestation head for a journal.
func (s *State) SetChainHead(journal, head string, length int) {
	s.ChainHeads[journal] = ChainHead{Head: head, Length: length}
}

// AddCheckpoint persists a continuation row for an export kind.
func (s *State) AddCheckpoint(kind string, cp *contracts.ExportCheckpoint) {
	s.ExportCheckpoints[kind] = append(s.ExportCheckpoints[kind], cp)
}

// FindCheckpoint matches a resume triple against saved continuation rows
// for the kind. All three values must match one saved row.
func (s *State) FindCheckpoint(kind, cursorAfter, attestationAfter, checkpointAfter string) (*contracts.ExportCheckpoint, bool) {
	for _, cp := range s.ExportCheckpoints[kind] {
		if cp.CheckpointHash == checkpointAfter &&
			cp.NextCursor == cursorAfter &&
			cp.AttestationChainHash == attestationAfter {
			return cp, true
		}
	}
	return nil, false
}

// PartnerForProposal resolves a proposal's owning partner via the tenancy
// table, falling back to the proposal record itself.
func (s *State) PartnerForProposal(proposalID string) string {
	if pid, ok := s.Tenancy.Proposals[proposalID]; ok {
		return pid
	}
	if p, ok := s.Proposals[proposalID]; ok {
		return p.PartnerID
	}
	return ""
}

// PartnerForCycle resolves a cycle's owning partner via the tenancy
// table, falling back to the timeline record itself.
func (s *State) PartnerForCycle(cycleID string) string {
	if pid, ok := s.Tenancy.Cycles[cycleID]; ok {
		return pid
	}
	if t, ok := s.Timelines[cycleID]; ok {
		return t.PartnerID
	}
	return ""
}

// TagProposalTenancy records a proposal's owning partner.
func (s *State) TagProposalTenancy(proposalID, partnerID string) {
	if partnerID != "" {
		s.Tenancy.Proposals[proposalID] = partnerID
	}
}

// TagCycleTenancy records a cycle's owning partner.
func (s *State) TagCycleTenancy(cycleID, partnerID string) {
	if partnerID != "" {
		s.Tenancy.Cycles[cycleID] = partnerID
	}
}

// Counts summarizes row counts per top-level key, used by migration and
// diagnostics output.
func (s *State) Counts() map[string]int {
	return map[string]int{
		"intents":                      len(s.Intents),
		"proposals":                    len(s.Proposals),
		"commits":                      len(s.Commits),
		"timelines":                    len(s.Timelines),
		"receipts":                     len(s.Receipts),
		"vault_holdings":               len(s.VaultHoldings),
		"vault_custody_snapshots":      len(s.VaultCustodySnapshots),
		"events":                       len(s.Events),
		"idempotency":                  len(s.Idempotency),
		"delegations":                  len(s.Delegations),
		"partner_program":              len(s.PartnerProgram),
		"partner_program_usage":        len(s.PartnerProgramUsage),
		"partner_rollout_policies":     len(s.PartnerRolloutPolicies),
		"partner_rollout_policy_audit": len(s.PartnerRolloutPolicyAudit),
		"export_checkpoints":           len(s.ExportCheckpoints),
		"tenancy.proposals":            len(s.Tenancy.Proposals),
		"tenancy.cycles":               len(s.Tenancy.Cycles),
	}
}
