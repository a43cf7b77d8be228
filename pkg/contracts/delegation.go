package contracts

import "time"

// DelegationGrant permits delegate_actor to act for principal_actor within
// the granted scopes and time bounds. Revocation sets RevokedAt; tokens
// referencing a revoked grant introspect as inactive.
type DelegationGrant struct {
	DelegationID   string     `json:"delegation_id"`
	PrincipalActor ActorRef   `json:"principal_actor"`
	DelegateActor  ActorRef   `json:"delegate_actor"`
	Scopes         []string   `json:"scopes"`
	NotBefore      time.Time  `json:"not_before"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      time.Time  `json:"revoked_at,omitempty"`
	Constraint     string     `json:"constraint,omitempty"` // optional CEL expression
	Signature      *Signature `json:"signature,omitempty"`
}

// Revoked reports whether the grant has been revoked.
func (g *DelegationGrant) Revoked() bool {
	return !g.RevokedAt.IsZero()
}

// WindowContains reports whether now falls inside [NotBefore, ExpiresAt].
func (g *DelegationGrant) WindowContains(now time.Time) bool {
	if now.Before(g.NotBefore) {
		return false
	}
	return g.ExpiresAt.IsZero() || now.Before(g.ExpiresAt)
}

// HasScope reports whether the grant covers the given scope.
func (g *DelegationGrant) HasScope(scope string) bool {
	for _, s := range g.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IntrospectionReason narrows why a token is (in)active.
type IntrospectionReason string

const (
	IntrospectOK           IntrospectionReason = "ok"
	IntrospectExpired      IntrospectionReason = "expired"
	IntrospectRevoked      IntrospectionReason = "revoked"
	IntrospectUnknownKeyID IntrospectionReason = "unknown_key_id"
	IntrospectKeyRevoked   IntrospectionReason = "key_revoked"
	IntrospectBadSignature IntrospectionReason = "bad_signature"
	IntrospectNotYetValid  IntrospectionReason = "not_yet_valid"
)

// Introspection is the result of examining a delegation token.
type Introspection struct {
	Active  bool                `json:"active"`
	Reason  IntrospectionReason `json:"reason"`
	Details map[string]any      `json:"details,omitempty"`
	Grant   *DelegationGrant    `json:"grant,omitempty"`
}
