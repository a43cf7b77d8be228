package service

import (
	"context"
	"testing"
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
)

var relay = contracts.ActorRef{Type: contracts.ActorService, ID: "relay"}

// issueGrant issues a delegation from alice to relay and returns
// (delegationID, token).
func (f *fixture) issueGrant(t *testing.T, delegationID, constraint string, scopes ...string) (string, string) {
	t.Helper()
	body := map[string]any{
		"delegation_id":   delegationID,
		"principal_actor": map[string]any{"type": "user", "id": "alice"},
		"delegate_actor":  map[string]any{"type": "service", "id": "relay"},
		"scopes":          scopes,
		"expires_at":      f.at.Add(time.Hour).Format(time.RFC3339),
	}
	if constraint != "" {
		body["constraint"] = constraint
	}
	res := f.exec(t, Request{
		Operation: "delegation.issue",
		Actor:     admin,
		Scopes:    []string{contracts.ScopeDelegationIssue},
		Body:      body,
	})
	return digString(t, res.Body, "grant", "delegation_id"), digString(t, res.Body, "token")
}

func (f *fixture) introspect(t *testing.T, token string) map[string]any {
	t.Helper()
	res := f.exec(t, Request{
		Operation: "delegation.introspect",
		Actor:     admin,
		Body:      map[string]any{"token": token},
	})
	return dig(t, res.Body, "introspection").(map[string]any)
}

func (f *fixture) relayCancel(t *testing.T, token, intentID string) contracts.Result {
	t.Helper()
	return f.svc.Execute(context.Background(), Request{
		Operation:       "intents.cancel",
		Actor:           relay,
		Scopes:          []string{contracts.ScopeIntentsWrite},
		DelegationToken: token,
		Body:            map[string]any{"intent_id": intentID},
	})
}

func TestDelegationLifecycleAcrossKeyRotation(t *testing.T) {
	f := newFixture(t)
	_, token := f.issueGrant(t, "dlg_relay_1", "", contracts.ScopeIntentsWrite)

	intro := f.introspect(t, token)
	if active, _ := intro["active"].(bool); !active {
		t.Fatalf("token inactive: %v", intro)
	}

	// The delegate cancels on the principal's behalf.
	f.publish(t, alice, "int_z1", "asset_a", "asset_b")
	if res := f.relayCancel(t, token, "int_z1"); !res.OK {
		t.Fatalf("delegated cancel failed: %v", res.Body)
	}

	// Rotation retires the signing key; outstanding tokens stay valid.
	f.exec(t, Request{
		Operation: "keys.rotate",
		Actor:     admin,
		Body:      map[string]any{"key_id": "svc-key-2"},
	})
	intro = f.introspect(t, token)
	if active, _ := intro["active"].(bool); !active {
		t.Fatalf("token inactive after rotation: %v", intro)
	}
	f.publish(t, alice, "int_z2", "asset_a", "asset_b")
	if res := f.relayCancel(t, token, "int_z2"); !res.OK {
		t.Fatalf("delegated cancel after rotation failed: %v", res.Body)
	}

	// Revoking the signing key kills every token it signed.
	f.exec(t, Request{
		Operation: "keys.revoke",
		Actor:     admin,
		Body:      map[string]any{"key_id": "svc-key-1"},
	})
	intro = f.introspect(t, token)
	if reason, _ := intro["reason"].(string); reason != string(contracts.IntrospectKeyRevoked) {
		t.Fatalf("reason = %v, want key_revoked", intro["reason"])
	}
	f.publish(t, alice, "int_z3", "asset_a", "asset_b")
	res := f.relayCancel(t, token, "int_z3")
	if res.ErrorCode() != string(contracts.CodeUnauthorized) {
		t.Fatalf("code = %s, want unauthorized", res.ErrorCode())
	}
}

func TestDelegationRevocation(t *testing.T) {
	f := newFixture(t)
	delegationID, token := f.issueGrant(t, "dlg_relay_2", "", contracts.ScopeIntentsWrite)

	// The principal revokes their own grant.
	f.exec(t, Request{
		Operation: "delegation.revoke",
		Actor:     alice,
		Scopes:    []string{contracts.ScopeDelegationIssue},
		Body:      map[string]any{"delegation_id": delegationID},
	})

	intro := f.introspect(t, token)
	if reason, _ := intro["reason"].(string); reason != string(contracts.IntrospectRevoked) {
		t.Fatalf("reason = %v, want revoked", intro["reason"])
	}

	f.publish(t, alice, "int_r1", "asset_a", "asset_b")
	res := f.relayCancel(t, token, "int_r1")
	if res.ErrorCode() != string(contracts.CodeUnauthorized) {
		t.Fatalf("code = %s, want unauthorized", res.ErrorCode())
	}
	if res.ReasonCode() != contracts.ReasonDelegationRevoked {
		t.Fatalf("reason = %s", res.ReasonCode())
	}
}

func TestDelegationExpiry(t *testing.T) {
	f := newFixture(t)
	_, token := f.issueGrant(t, "dlg_relay_3", "", contracts.ScopeIntentsWrite)

	f.advance(2 * time.Hour)
	intro := f.introspect(t, token)
	if reason, _ := intro["reason"].(string); reason != string(contracts.IntrospectExpired) {
		t.Fatalf("reason = %v, want expired", intro["reason"])
	}

	f.publish(t, alice, "int_e1", "asset_a", "asset_b")
	res := f.relayCancel(t, token, "int_e1")
	if res.ReasonCode() != contracts.ReasonDelegationExpired {
		t.Fatalf("reason = %s", res.ReasonCode())
	}
}

func TestDelegationConstraintGatesOperations(t *testing.T) {
	f := newFixture(t)
	_, token := f.issueGrant(t, "dlg_relay_4", `operation == "intents.cancel"`, contracts.ScopeIntentsWrite)

	f.publish(t, alice, "int_c1", "asset_a", "asset_b")
	if res := f.relayCancel(t, token, "int_c1"); !res.OK {
		t.Fatalf("constrained cancel failed: %v", res.Body)
	}

	// The same grant refuses any other operation.
	res := f.svc.Execute(context.Background(), Request{
		Operation:       "intents.publish",
		Actor:           relay,
		Scopes:          []string{contracts.ScopeIntentsWrite},
		DelegationToken: token,
		Body: map[string]any{
			"intent_id": "int_c2",
			"offer":     []any{map[string]any{"asset_id": "asset_a"}},
			"want":      map[string]any{"asset_id": "asset_b"},
		},
	})
	if res.ErrorCode() != string(contracts.CodeUnauthorized) {
		t.Fatalf("code = %s, want unauthorized", res.ErrorCode())
	}
	if res.ReasonCode() != contracts.ReasonConstraintFailed {
		t.Fatalf("reason = %s", res.ReasonCode())
	}
}

func TestDelegationScopeIntersection(t *testing.T) {
	f := newFixture(t)
	_, token := f.issueGrant(t, "dlg_relay_5", "", contracts.ScopeIntentsWrite)

	// The grant never covered cycles:accept; presenting it cannot widen
	// the delegate's authority.
	res := f.svc.Execute(context.Background(), Request{
		Operation:       "cycleProposals.list",
		Actor:           relay,
		Scopes:          []string{contracts.ScopeCyclesRead},
		DelegationToken: token,
	})
	if res.ErrorCode() != string(contracts.CodeForbidden) {
		t.Fatalf("code = %s, want forbidden", res.ErrorCode())
	}
	if res.ReasonCode() != contracts.ReasonInsufficientScope {
		t.Fatalf("reason = %s", res.ReasonCode())
	}
}

func TestThirdPartyCannotIssueOrRevoke(t *testing.T) {
	f := newFixture(t)

	// bob cannot mint a grant over alice's identity.
	res := f.svc.Execute(context.Background(), Request{
		Operation: "delegation.issue",
		Actor:     bob,
		Scopes:    []string{contracts.ScopeDelegationIssue},
		Body: map[string]any{
			"principal_actor": map[string]any{"type": "user", "id": "alice"},
			"delegate_actor":  map[string]any{"type": "service", "id": "relay"},
			"scopes":          []string{contracts.ScopeIntentsWrite},
			"expires_at":      f.at.Add(time.Hour).Format(time.RFC3339),
		},
	})
	if res.ErrorCode() != string(contracts.CodeForbidden) {
		t.Fatalf("issue code = %s, want forbidden", res.ErrorCode())
	}

	delegationID, _ := f.issueGrant(t, "dlg_relay_6", "", contracts.ScopeIntentsWrite)
	res = f.svc.Execute(context.Background(), Request{
		Operation: "delegation.revoke",
		Actor:     bob,
		Scopes:    []string{contracts.ScopeDelegationIssue},
		Body:      map[string]any{"delegation_id": delegationID},
	})
	if res.ErrorCode() != string(contracts.CodeForbidden) {
		t.Fatalf("revoke code = %s, want forbidden", res.ErrorCode())
	}
}
