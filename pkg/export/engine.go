// Package export produces filtered, paginated, signed, chain-linked
// views of the append-only journals.
//
// Every page records the attestation interval it covers and a resumable
// checkpoint. Resuming requires the caller's (cursor_after,
// attestation_after, checkpoint_after) triple to match a saved checkpoint
// row; anything else is invalid_checkpoint. A finished payload is
// re-verified before it leaves the engine, so a signed export that does
// not verify is never emitted.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/loopworks/rotor/pkg/archive"
	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/store"
)

// Export kinds. Journal kinds map one to one onto store journals; the
// diagnostics kind is a summary view over the rollout policy state.
const (
	KindReceipts    = store.JournalReceipts
	KindEvents      = store.JournalEvents
	KindCustody     = store.JournalCustody
	KindPolicyAudit = store.JournalPolicyAudit
	KindUsage       = store.JournalUsage
	KindDiagnostics = "partner_rollout_policy_diagnostics"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Engine assembles and signs export payloads.
type Engine struct {
	keys *crypto.KeySet
	sink archive.Sink
	now  func() time.Time
	log  *slog.Logger
}

func NewEngine(keys *crypto.KeySet) *Engine {
	return &Engine{
		keys: keys,
		now:  time.Now,
		log:  slog.Default().With("component", "export"),
	}
}

// WithClock overrides the timestamp source. Useful in tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithArchive mirrors successful exports to a sink. Archive failures are
// logged and never fail the export.
func (e *Engine) WithArchive(sink archive.Sink) *Engine {
	e.sink = sink
	return e
}

// Run executes the export pipeline: filter, verify continuation, page,
// attest, sign, checkpoint. tenant scopes the view to one partner; an
// empty tenant sees everything. Run appends the new checkpoint to the
// state tree, so mutating-store semantics apply.
func (e *Engine) Run(ctx context.Context, st *store.State, tenant string, q contracts.ExportQuery) (*contracts.ExportPayload, error) {
	if q.Kind == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "export kind required")
	}
	if err := verifyContinuation(st, q); err != nil {
		return nil, err
	}

	var payload *contracts.ExportPayload
	var err error
	if q.Kind == KindDiagnostics {
		payload, err = e.buildDiagnostics(st, tenant, q)
	} else {
		payload, err = e.buildJournalPage(st, tenant, q)
	}
	if err != nil {
		return nil, err
	}

	if err := e.seal(st, q, payload); err != nil {
		return nil, err
	}
	e.archive(ctx, payload)
	return payload, nil
}

// verifyContinuation checks the resume triple against saved checkpoints.
// A fresh export (no continuation fields) always passes.
func verifyContinuation(st *store.State, q contracts.ExportQuery) error {
	if !q.Resuming() {
		return nil
	}
	if _, ok := st.FindCheckpoint(q.Kind, q.CursorAfter, q.AttestationAfter, q.CheckpointAfter); !ok {
		return contracts.NewError(contracts.CodeInvalidCheckpoint, "continuation does not match a saved checkpoint").
			WithReason(contracts.ReasonCheckpointMismatch).
			WithDetail("kind", q.Kind)
	}
	return nil
}

// RequireCheckpointContinuity rejects a non-resuming query once the kind
// has saved checkpoints. Used where an enforcement flag demands strict
// continuation, e.g. the rollout policy diagnostics export.
func RequireCheckpointContinuity(st *store.State, q contracts.ExportQuery) error {
	if q.Resuming() || len(st.ExportCheckpoints[q.Kind]) == 0 {
		return nil
	}
	return contracts.NewError(contracts.CodeInvalidCheckpoint, "export requires checkpoint continuation").
		WithReason(contracts.ReasonCheckpointMismatch).
		WithDetail("kind", q.Kind)
}

// journalEntry is one filtered row with its stable cursor.
type journalEntry struct {
	seq    int // 1-based position in the raw journal
	cursor string
	value  map[string]any
}

func (e *Engine) buildJournalPage(st *store.State, tenant string, q contracts.ExportQuery) (*contracts.ExportPayload, error) {
	raw, err := st.JournalEntries(q.Kind)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeValidation, "unknown export kind %q", q.Kind)
	}
	hashes, err := attest.Hashes(raw)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeInternal, "fold %s chain: %v", q.Kind, err)
	}
	hashAt := func(seq int) string {
		if seq <= 0 {
			return attest.Genesis
		}
		return hashes[seq-1]
	}

	filtered, err := filterJournal(st, q, tenant, raw)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	start := 0
	if q.CursorAfter != "" {
		start = sort.Search(len(filtered), func(i int) bool {
			return filtered[i].cursor > q.CursorAfter
		})
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[start:end]

	payload := &contracts.ExportPayload{
		Kind:          q.Kind,
		ExportedAt:    e.now().UTC(),
		Query:         queryContext(q),
		TotalFiltered: len(filtered),
	}
	if len(page) > 0 {
		payload.Entries = make([]map[string]any, len(page))
		for i, entry := range page {
			payload.Entries[i] = entry.value
		}
		payload.Attestation = contracts.AttestationBlock{
			AttestationAfter: hashAt(page[0].seq - 1),
			ChainHash:        hashAt(page[len(page)-1].seq),
		}
		if end < len(filtered) {
			payload.NextCursor = page[len(page)-1].cursor
		}
	} else {
		head := hashAt(len(raw))
		payload.Attestation = contracts.AttestationBlock{AttestationAfter: head, ChainHash: head}
	}
	return payload, nil
}

// buildDiagnostics summarizes rollout policy state per partner: counts by
// phase and the latest revision each partner reached. The attestation
// block covers the full policy audit journal backing the summary.
func (e *Engine) buildDiagnostics(st *store.State, tenant string, q contracts.ExportQuery) (*contracts.ExportPayload, error) {
	phases := map[string]int{}
	partners := map[string]any{}
	total := 0
	ids := make([]string, 0, len(st.PartnerRolloutPolicies))
	for id := range st.PartnerRolloutPolicies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if tenant != "" && id != tenant {
			continue
		}
		policy := st.PartnerRolloutPolicies[id]
		phases[string(policy.Phase)]++
		partners[id] = map[string]any{
			"phase":    string(policy.Phase),
			"revision": policy.Revision,
			"freeze":   policy.Freeze,
		}
		total++
	}

	raw, err := st.JournalEntries(store.JournalPolicyAudit)
	if err != nil {
		return nil, contracts.AsError(err)
	}
	head, err := attest.ChainHash(raw)
	if err != nil {
		return nil, contracts.Errorf(contracts.CodeInternal, "fold policy audit chain: %v", err)
	}

	return &contracts.ExportPayload{
		Kind:       q.Kind,
		ExportedAt: e.now().UTC(),
		Query:      queryContext(q),
		Summary: map[string]any{
			"phase_counts":  phases,
			"partners":      partners,
			"audit_entries": len(raw),
		},
		TotalFiltered: total,
		Attestation:   contracts.AttestationBlock{AttestationAfter: q.AttestationAfter, ChainHash: head},
	}, nil
}

// seal computes the export hash, signs, persists the checkpoint, and
// re-verifies the finished payload before it is released.
func (e *Engine) seal(st *store.State, q contracts.ExportQuery, payload *contracts.ExportPayload) error {
	cp := &contracts.ExportCheckpoint{
		CheckpointAfter:      q.CheckpointAfter,
		NextCursor:           payload.NextCursor,
		AttestationChainHash: payload.Attestation.ChainHash,
		QueryContext:         queryContext(q),
		ExportedAt:           payload.ExportedAt,
	}
	cpHash, err := canonicalize.Hash(cp)
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "hash checkpoint: %v", err)
	}
	cp.CheckpointHash = cpHash
	payload.Checkpoint = contracts.CheckpointBlock{
		CheckpointAfter: q.CheckpointAfter,
		CheckpointHash:  cpHash,
		ExportedAt:      payload.ExportedAt,
	}

	exportHash, err := canonicalize.Hash(payload.WithoutSeals())
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "hash export: %v", err)
	}
	payload.ExportHash = exportHash

	signer, err := e.keys.ActiveSigner()
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "export signing key: %v", err)
	}
	sig, err := crypto.SignPayload(signer, payload.WithoutSignature())
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "sign export: %v", err)
	}
	payload.Signature = &sig

	if err := Verify(payload, e.keys); err != nil {
		return contracts.Errorf(contracts.CodeInternal, "export failed self-verification: %v", err)
	}
	st.AddCheckpoint(q.Kind, cp)
	return nil
}

func (e *Engine) archive(ctx context.Context, payload *contracts.ExportPayload) {
	if e.sink == nil {
		return
	}
	data, err := canonicalize.Bytes(payload)
	if err != nil {
		e.log.Warn("archive encode failed", "kind", payload.Kind, "error", err.Error())
		return
	}
	key := fmt.Sprintf("exports/%s/%s.json", payload.Kind, payload.Checkpoint.CheckpointHash)
	url, err := e.sink.Put(ctx, key, data)
	if err != nil {
		e.log.Warn("archive write failed", "kind", payload.Kind, "key", key, "error", err.Error())
		return
	}
	e.log.Info("export archived", "kind", payload.Kind, "url", url)
}

func filterJournal(st *store.State, q contracts.ExportQuery, tenant string, raw []any) ([]journalEntry, error) {
	out := make([]journalEntry, 0, len(raw))
	for i, value := range raw {
		entry, err := toEntryMap(value)
		if err != nil {
			return nil, contracts.Errorf(contracts.CodeInternal, "encode %s entry %d: %v", q.Kind, i, err)
		}
		if tenant != "" && entryTenant(st, q.Kind, entry) != tenant {
			continue
		}
		if !matchesFilter(entry, q.Filter) {
			continue
		}
		seq := i + 1
		out = append(out, journalEntry{
			seq:    seq,
			cursor: fmt.Sprintf("%012d:%s", seq, entryID(q.Kind, entry, seq)),
			value:  entry,
		})
	}
	return out, nil
}

// entryTenant resolves the owning partner of one journal entry. Entries
// that resolve to no partner are visible only to unscoped callers.
func entryTenant(st *store.State, kind string, entry map[string]any) string {
	switch kind {
	case KindPolicyAudit, KindUsage:
		id, _ := entry["partner_id"].(string)
		return id
	case KindReceipts:
		cycleID, _ := entry["cycle_id"].(string)
		return st.PartnerForCycle(cycleID)
	case KindEvents:
		correlation, _ := entry["correlation_id"].(string)
		if partner := st.PartnerForCycle(correlation); partner != "" {
			return partner
		}
		return st.PartnerForProposal(correlation)
	default:
		return ""
	}
}

func entryID(kind string, entry map[string]any, seq int) string {
	for _, field := range []string{"id", "event_id", "snapshot_id"} {
		if id, ok := entry[field].(string); ok && id != "" {
			return id
		}
	}
	return fmt.Sprintf("seq_%d", seq)
}

// matchesFilter keeps entries whose top-level fields equal every filter
// value. Values compare after a JSON round trip so numeric types align.
func matchesFilter(entry map[string]any, filter map[string]any) bool {
	for field, want := range filter {
		got, ok := entry[field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, jsonNormalize(want)) {
			return false
		}
	}
	return true
}

func jsonNormalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func toEntryMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func queryContext(q contracts.ExportQuery) map[string]any {
	ctx := map[string]any{"kind": q.Kind}
	if len(q.Filter) > 0 {
		ctx["filter"] = jsonNormalize(q.Filter)
	}
	if q.Limit > 0 {
		ctx["limit"] = q.Limit
	}
	if q.CursorAfter != "" {
		ctx["cursor_after"] = q.CursorAfter
	}
	if q.AttestationAfter != "" {
		ctx["attestation_after"] = q.AttestationAfter
	}
	if q.CheckpointAfter != "" {
		ctx["checkpoint_after"] = q.CheckpointAfter
	}
	return ctx
}
