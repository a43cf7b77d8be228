package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopworks/rotor/pkg/archive"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/outbox"
	"github.com/loopworks/rotor/pkg/store"
)

var operator = contracts.ActorRef{Type: contracts.ActorAdmin, ID: "ops"}

type fixture struct {
	engine *Engine
	keys   *crypto.KeySet
	st     *store.State
	at     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys := crypto.NewKeySet()
	if _, err := keys.Generate("exp-key-1"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	f := &fixture{
		keys: keys,
		st:   store.NewState(),
		at:   time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(keys).WithClock(func() time.Time { return f.at })
	return f
}

// seedEvents appends n outbox events with distinct correlation IDs.
func (f *fixture) seedEvents(t *testing.T, n int) {
	t.Helper()
	ob := outbox.New(f.keys).WithClock(func() time.Time { return f.at })
	for i := 0; i < n; i++ {
		f.at = f.at.Add(time.Second)
		if _, _, err := ob.Append(f.st, operator, contracts.EventIntentPublished,
			string(rune('a'+i)), map[string]any{"n": i}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func (f *fixture) run(t *testing.T, tenant string, q contracts.ExportQuery) *contracts.ExportPayload {
	t.Helper()
	payload, err := f.engine.Run(context.Background(), f.st, tenant, q)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return payload
}

func requireCode(t *testing.T, err error, code contracts.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if got := contracts.AsError(err).Code; got != code {
		t.Fatalf("code = %s, want %s (%v)", got, code, err)
	}
}

func TestSealedPayloadVerifies(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 3)

	payload := f.run(t, "", contracts.ExportQuery{Kind: KindEvents})
	if payload.TotalFiltered != 3 || len(payload.Entries) != 3 {
		t.Fatalf("entries = %d of %d", len(payload.Entries), payload.TotalFiltered)
	}
	if payload.NextCursor != "" {
		t.Fatal("complete page must not set next_cursor")
	}
	if err := Verify(payload, f.keys); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	payload.Entries[1]["type"] = "forged"
	requireCode(t, Verify(payload, f.keys), contracts.CodeTampered)
}

func TestVerifyWithPublicKey(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 1)
	payload := f.run(t, "", contracts.ExportQuery{Kind: KindEvents})

	manifest, err := f.keys.Export(false)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	pem := manifest.Keys[0].PublicKeyPEM
	if err := VerifyWithPublicKey(payload, pem, "exp-key-1"); err != nil {
		t.Fatalf("VerifyWithPublicKey failed: %v", err)
	}
	requireCode(t, VerifyWithPublicKey(payload, pem, "other-key"), contracts.CodeSignatureInvalid)
}

func TestFilterSelectsMatchingEntries(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 4)

	payload := f.run(t, "", contracts.ExportQuery{
		Kind:   KindEvents,
		Filter: map[string]any{"correlation_id": "b"},
	})
	if payload.TotalFiltered != 1 {
		t.Fatalf("filtered = %d, want 1", payload.TotalFiltered)
	}
	if payload.Entries[0]["correlation_id"] != "b" {
		t.Fatalf("entry = %v", payload.Entries[0])
	}
}

func TestPagingAndCheckpointResume(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 5)

	first := f.run(t, "", contracts.ExportQuery{Kind: KindEvents, Limit: 2})
	if len(first.Entries) != 2 || first.NextCursor == "" {
		t.Fatalf("first page = %d entries, cursor %q", len(first.Entries), first.NextCursor)
	}

	resume := contracts.ExportQuery{
		Kind:             KindEvents,
		Limit:            2,
		CursorAfter:      first.NextCursor,
		AttestationAfter: first.Attestation.ChainHash,
		CheckpointAfter:  first.Checkpoint.CheckpointHash,
	}
	second := f.run(t, "", resume)
	if len(second.Entries) != 2 {
		t.Fatalf("second page = %d entries", len(second.Entries))
	}
	if second.Entries[0]["event_id"] == first.Entries[0]["event_id"] {
		t.Fatal("resume must not re-export the first page")
	}

	// Pages chain: the second attestation interval starts at the first's
	// head.
	if second.Attestation.AttestationAfter != first.Attestation.ChainHash {
		t.Fatalf("attestation_after = %s, want %s",
			second.Attestation.AttestationAfter, first.Attestation.ChainHash)
	}

	// Any drift in the triple invalidates the continuation.
	bad := resume
	bad.CheckpointAfter = "forged"
	_, err := f.engine.Run(context.Background(), f.st, "", bad)
	requireCode(t, err, contracts.CodeInvalidCheckpoint)
}

func TestEmptyPageExportsChainHead(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 2)

	payload := f.run(t, "", contracts.ExportQuery{
		Kind:   KindEvents,
		Filter: map[string]any{"correlation_id": "nope"},
	})
	if payload.TotalFiltered != 0 || len(payload.Entries) != 0 {
		t.Fatalf("filtered = %d", payload.TotalFiltered)
	}
	// An empty page still pins the journal head so the attestation
	// interval is well-defined.
	if payload.Attestation.ChainHash == "" {
		t.Fatal("empty page must pin the chain head")
	}
	if payload.Attestation.AttestationAfter != payload.Attestation.ChainHash {
		t.Fatal("empty interval must collapse to the head")
	}
}

func TestTenantScopedUsageExport(t *testing.T) {
	f := newFixture(t)
	f.st.AppendUsage(&contracts.UsageRecord{PartnerID: "p1", Metric: "exports", Quantity: 2, RecordedAt: f.at})
	f.st.AppendUsage(&contracts.UsageRecord{PartnerID: "p2", Metric: "exports", Quantity: 7, RecordedAt: f.at})

	payload := f.run(t, "p1", contracts.ExportQuery{Kind: KindUsage})
	if payload.TotalFiltered != 1 {
		t.Fatalf("filtered = %d, want 1", payload.TotalFiltered)
	}
	if payload.Entries[0]["partner_id"] != "p1" {
		t.Fatalf("entry = %v", payload.Entries[0])
	}

	unscoped := f.run(t, "", contracts.ExportQuery{Kind: KindUsage})
	if unscoped.TotalFiltered != 2 {
		t.Fatalf("unscoped filtered = %d, want 2", unscoped.TotalFiltered)
	}
}

func TestDiagnosticsSummary(t *testing.T) {
	f := newFixture(t)
	f.st.PartnerRolloutPolicies["p1"] = &contracts.RolloutPolicy{PartnerID: "p1", Phase: contracts.RolloutEnforced, Revision: 3}
	f.st.PartnerRolloutPolicies["p2"] = &contracts.RolloutPolicy{PartnerID: "p2", Phase: contracts.RolloutShadow, Revision: 1, Freeze: true}

	payload := f.run(t, "", contracts.ExportQuery{Kind: KindDiagnostics})
	if payload.TotalFiltered != 2 || len(payload.Entries) != 0 {
		t.Fatalf("summary covers %d partners, %d entries", payload.TotalFiltered, len(payload.Entries))
	}
	phases, _ := payload.Summary["phase_counts"].(map[string]int)
	if phases["enforced"] != 1 || phases["shadow"] != 1 {
		t.Fatalf("phase_counts = %v", payload.Summary["phase_counts"])
	}
	if err := Verify(payload, f.keys); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Once a checkpoint exists, strict continuity rejects fresh queries.
	if err := RequireCheckpointContinuity(f.st, contracts.ExportQuery{Kind: KindDiagnostics}); err == nil {
		t.Fatal("fresh query must be refused after a checkpoint exists")
	}
	resume := contracts.ExportQuery{
		Kind:             KindDiagnostics,
		AttestationAfter: payload.Attestation.ChainHash,
		CheckpointAfter:  payload.Checkpoint.CheckpointHash,
	}
	if err := RequireCheckpointContinuity(f.st, resume); err != nil {
		t.Fatalf("resuming query refused: %v", err)
	}
}

func TestArchiveMirrorsSealedExports(t *testing.T) {
	f := newFixture(t)
	f.seedEvents(t, 1)
	dir := t.TempDir()
	f.engine.WithArchive(archive.NewFSSink(dir))

	payload := f.run(t, "", contracts.ExportQuery{Kind: KindEvents})
	mirrored := filepath.Join(dir, "exports", KindEvents, payload.Checkpoint.CheckpointHash+".json")
	if _, err := os.Stat(mirrored); err != nil {
		t.Fatalf("mirrored object missing: %v", err)
	}
}
