package contracts

import "time"

// Well-known scopes. Operations declare the scopes they require; the auth
// resolver enforces them after delegation intersection.
const (
	ScopeIntentsWrite      = "intents:write"
	ScopeIntentsRead       = "intents:read"
	ScopeCyclesRead        = "read:cycles"
	ScopeCyclesAccept      = "cycles:accept"
	ScopeSettlementDeposit = "settlement:deposit"
	ScopeSettlementDrive   = "settlement:drive"
	ScopeVaultWrite        = "vault:write"
	ScopeVaultRead         = "vault:read"
	ScopeExportRead        = "export:read"
	ScopeEventsIngest      = "events:ingest"
	ScopeDelegationIssue   = "delegation:issue"
	ScopeKeysManage        = "keys:manage"
	ScopePartnerAdmin      = "partner:admin"
	ScopeAdmin             = "admin"
)

/// AuthContext is the resolved identity for one operation: the effective
// actor, its scopes after delegation intersection, the delegation grant if
// one was presented, the partner tenant the actor belongs to, and the
// operation clock.
type AuthContext struct {
	Actor         ActorRef         `json:"actor"`
	Scopes        map[string]bool  `json:"-"`
	Delegation    *DelegationGrant `json:"delegation,omitempty"`
	PartnerTenant string           `json:"partner_tenant,omitempty"`
	Now           time.Time        `json:"now"`
}

// HasScope reports whether the context carries the scope. The admin scope
// implies every other scope.
func (a *AuthContext) HasScope(scope string) bool {
	if a.Scopes == nil {
		return false
	}
	if a.Scopes[ScopeAdmin] {
		return true
	}
	return a.Scopes[scope]
}

// Elevated reports whether the actor is an admin or service principal.
func (a *AuthContext) Elevated() bool {
	return a.Actor.Type == ActorAdmin || a.Actor.Type == ActorService
}

// Delegated reports whether the context acts under a delegation grant.
func (a *AuthContext) Delegated() bool {
	return a.Delegation != nil
}
