package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/loopworks/rotor/pkg/auth"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/export"
)

// decodeExport pulls the sealed payload out of an operation result.
func decodeExport(t *testing.T, res contracts.Result) *contracts.ExportPayload {
	t.Helper()
	raw, err := json.Marshal(res.Body["export"])
	if err != nil {
		t.Fatalf("encode export body: %v", err)
	}
	var payload contracts.ExportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode export payload: %v", err)
	}
	return &payload
}

func TestReceiptsExportVerifyAndTamper(t *testing.T) {
	f := newFixture(t)
	f.completedCycle(t)

	res := f.exec(t, Request{
		Operation: "receipts.export",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
	})
	payload := decodeExport(t, res)
	if len(payload.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(payload.Entries))
	}
	if payload.Signature == nil || payload.ExportHash == "" {
		t.Fatal("payload must carry a seal")
	}
	if err := export.Verify(payload, f.keys); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Any post-signing mutation of the entries flips verification.
	tampered := *payload
	tampered.Entries = append([]map[string]any(nil), payload.Entries...)
	tampered.Entries[0] = map[string]any{"id": "rcpt_forged"}
	if !codeIs(export.Verify(&tampered, f.keys), contracts.CodeTampered) {
		t.Fatal("tampered entries must report tampered")
	}

	// Swapping the key ID leaves the hash intact but the signature dangling.
	reKeyed := *payload
	sig := *payload.Signature
	sig.KeyID = "ghost"
	reKeyed.Signature = &sig
	if !codeIs(export.Verify(&reKeyed, f.keys), contracts.CodeUnknownKeyID) {
		t.Fatal("unknown key id must be reported as such")
	}
}

func codeIs(err error, code contracts.Code) bool {
	return err != nil && contracts.AsError(err).Code == code
}

func TestEventsExportPagingAndCheckpoints(t *testing.T) {
	f := newFixture(t)
	f.publish(t, alice, "int_a", "asset_a", "asset_b")
	f.publish(t, bob, "int_b", "asset_b", "asset_a")
	f.publish(t, carol, "int_c", "asset_c", "asset_a")

	res := f.exec(t, Request{
		Operation: "events.export",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
		Body:      map[string]any{"limit": 1},
	})
	first := decodeExport(t, res)
	if len(first.Entries) != 1 || first.TotalFiltered != 3 {
		t.Fatalf("page = %d of %d, want 1 of 3", len(first.Entries), first.TotalFiltered)
	}
	if first.NextCursor == "" {
		t.Fatal("partial page must set next_cursor")
	}

	// The continuation triple from the payload resumes cleanly.
	res = f.exec(t, Request{
		Operation: "events.export",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
		Body: map[string]any{
			"limit":             1,
			"cursor_after":      first.NextCursor,
			"attestation_after": first.Attestation.ChainHash,
			"checkpoint_after":  first.Checkpoint.CheckpointHash,
		},
	})
	second := decodeExport(t, res)
	if len(second.Entries) != 1 {
		t.Fatalf("resumed page = %d entries", len(second.Entries))
	}
	if second.Entries[0]["event_id"] == first.Entries[0]["event_id"] {
		t.Fatal("resumed page must advance past the first entry")
	}
	if second.Attestation.AttestationAfter != first.Attestation.ChainHash {
		t.Fatal("resumed attestation must chain from the previous page")
	}

	// A continuation that matches no saved checkpoint is refused.
	res = f.execFail(t, Request{
		Operation: "events.export",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
		Body: map[string]any{
			"cursor_after":      first.NextCursor,
			"attestation_after": first.Attestation.ChainHash,
			"checkpoint_after":  "forged",
		},
	}, contracts.CodeInvalidCheckpoint)
	if res.ReasonCode() != contracts.ReasonCheckpointMismatch {
		t.Fatalf("reason = %s", res.ReasonCode())
	}

	res = f.exec(t, Request{
		Operation: "state.export_checkpoints.list",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
	})
	kinds, _ := res.Body["kinds"].([]string)
	if len(kinds) != 1 || kinds[0] != export.KindEvents {
		t.Fatalf("checkpoint kinds = %v", res.Body["kinds"])
	}
}

func TestVaultExportPartnerProgramGate(t *testing.T) {
	f := newFixture(t)
	t.Setenv(auth.EnvPartnerExportEnforce, "true")
	partner := contracts.ActorRef{Type: contracts.ActorPartner, ID: "p1"}
	vaultExport := Request{
		Operation: "vault.export",
		Actor:     partner,
		Scopes:    []string{contracts.ScopeExportRead},
	}

	res := f.execFail(t, vaultExport, contracts.CodeFeatureDisabled)
	if res.ReasonCode() != contracts.ReasonNotEnrolled {
		t.Fatalf("reason = %s", res.ReasonCode())
	}

	f.exec(t, Request{
		Operation: "partnerProgram.enroll",
		Actor:     admin,
		Scopes:    []string{contracts.ScopePartnerAdmin},
		Body:      map[string]any{"partner_id": "p1", "tier": "standard"},
	})
	upsert := func(phase string) {
		f.exec(t, Request{
			Operation: "partnerProgram.vault_export.rollout_policy.upsert",
			Actor:     admin,
			Scopes:    []string{contracts.ScopePartnerAdmin},
			Body:      map[string]any{"partner_id": "p1", "phase": phase},
		})
	}

	upsert(string(contracts.RolloutDisabled))
	f.execFail(t, vaultExport, contracts.CodeFeatureDisabled)

	upsert(string(contracts.RolloutEnforced))
	f.exec(t, vaultExport)

	// Unscoped operators bypass the gate entirely.
	f.exec(t, Request{
		Operation: "vault.export",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeExportRead},
	})
}

func TestRolloutPolicyFreeze(t *testing.T) {
	f := newFixture(t)
	t.Setenv(auth.EnvFreezeExportEnforce, "true")
	f.exec(t, Request{
		Operation: "partnerProgram.enroll",
		Actor:     admin,
		Scopes:    []string{contracts.ScopePartnerAdmin},
		Body:      map[string]any{"partner_id": "p1", "tier": "standard"},
	})
	upsert := func(freeze bool) contracts.Result {
		return f.svc.Execute(context.Background(), Request{
			Operation: "partnerProgram.vault_export.rollout_policy.upsert",
			Actor:     admin,
			Scopes:    []string{contracts.ScopePartnerAdmin},
			Body:      map[string]any{"partner_id": "p1", "phase": string(contracts.RolloutShadow), "freeze": freeze},
		})
	}

	res := upsert(true)
	if !res.OK {
		t.Fatalf("first upsert failed: %v", res.Body)
	}
	res = upsert(false)
	if res.ErrorCode() != string(contracts.CodePolicyFrozen) {
		t.Fatalf("code = %s, want policy_frozen", res.ErrorCode())
	}
	if res.ReasonCode() != contracts.ReasonFreezeActive {
		t.Fatalf("reason = %s", res.ReasonCode())
	}

	// With enforcement off the freeze flag is advisory and revisions move.
	t.Setenv(auth.EnvFreezeExportEnforce, "false")
	res = upsert(false)
	if !res.OK {
		t.Fatalf("upsert with enforcement off failed: %v", res.Body)
	}
	if rev := dig(t, res.Body, "policy", "revision").(float64); int(rev) != 2 {
		t.Fatalf("revision = %v, want 2", rev)
	}
}

func TestDiagnosticsExportCheckpointEnforcement(t *testing.T) {
	f := newFixture(t)
	t.Setenv(auth.EnvDiagnosticsCheckpointEnforce, "true")
	diag := func(body map[string]any) contracts.Result {
		return f.svc.Execute(context.Background(), Request{
			Operation: "partnerProgram.vault_export.rollout_policy.diagnostics_export",
			Actor:     admin,
			Scopes:    []string{contracts.ScopeExportRead},
			Body:      body,
		})
	}

	res := diag(nil)
	if !res.OK {
		t.Fatalf("first export failed: %v", res.Body)
	}
	first := decodeExport(t, res)

	// Once a checkpoint exists a fresh query is refused.
	res = diag(nil)
	if res.ErrorCode() != string(contracts.CodeInvalidCheckpoint) {
		t.Fatalf("code = %s, want invalid_checkpoint", res.ErrorCode())
	}

	res = diag(map[string]any{
		"cursor_after":      first.NextCursor,
		"attestation_after": first.Attestation.ChainHash,
		"checkpoint_after":  first.Checkpoint.CheckpointHash,
	})
	if !res.OK {
		t.Fatalf("resumed export failed: %v", res.Body)
	}
}
