// Package auth resolves request credentials into an authorization context
// and gates operations on scopes, delegation constraints, and partner
// tenancy.
//
// Authentication failures (malformed actor, bad delegation token) are
// hard failures. Authorization failures respect AUTHZ_ENFORCE: with the
// flag off, denials are logged as shadow decisions and the operation
// proceeds.
package auth

import (
	"log/slog"
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/delegation"
	"github.com/loopworks/rotor/pkg/store"
)

// Credentials is the transport-level identity material for one request.
type Credentials struct {
	Actor           contracts.ActorRef
	Scopes          []string
	DelegationToken string
}

// Resolver turns credentials into contexts and authorizes operations.
type Resolver struct {
	authority   *delegation.Authority
	constraints *delegation.ConstraintEvaluator
	log         *slog.Logger
}

func NewResolver(authority *delegation.Authority, constraints *delegation.ConstraintEvaluator) *Resolver {
	return &Resolver{
		authority:   authority,
		constraints: constraints,
		log:         slog.Default().With("component", "auth"),
	}
}

// Resolve authenticates the credentials. When a delegation token is
// presented, the effective actor becomes the delegate and the scope set
// intersects with the grant.
func (r *Resolver) Resolve(st *store.State, creds Credentials, now time.Time) (*contracts.AuthContext, error) {
	if !creds.Actor.Type.Valid() || creds.Actor.ID == "" {
		return nil, contracts.NewError(contracts.CodeUnauthorized, "actor header missing or malformed").
			WithReason(contracts.ReasonUnauthenticated)
	}

	auth := &contracts.AuthContext{
		Actor:  creds.Actor,
		Scopes: scopeSet(creds.Scopes),
		Now:    now,
	}
	// Admin and service principals act with the implied admin scope.
	if creds.Actor.Type == contracts.ActorAdmin || creds.Actor.Type == contracts.ActorService {
		auth.Scopes[contracts.ScopeAdmin] = true
	}
	if creds.Actor.Type == contracts.ActorPartner {
		auth.PartnerTenant = creds.Actor.ID
	}

	if creds.DelegationToken != "" {
		if err := r.applyDelegation(st, auth, creds, now); err != nil {
			return nil, err
		}
	}
	return auth, nil
}

func (r *Resolver) applyDelegation(st *store.State, auth *contracts.AuthContext, creds Credentials, now time.Time) error {
	intro := r.authority.Introspect(st, creds.DelegationToken, now)
	if !intro.Active {
		return delegationError(intro)
	}
	grant := intro.Grant

	auth.Actor = grant.DelegateActor
	auth.Delegation = grant
	auth.Scopes = intersectScopes(grant.Scopes, creds.Scopes)
	// The delegate operates inside the principal's tenancy, with the
	// grant's scopes only. No implied admin scope under delegation.
	auth.PartnerTenant = ""
	if grant.PrincipalActor.Type == contracts.ActorPartner {
		auth.PartnerTenant = grant.PrincipalActor.ID
	}
	return nil
}

func delegationError(intro *contracts.Introspection) error {
	var reason string
	switch intro.Reason {
	case contracts.IntrospectExpired:
		reason = contracts.ReasonDelegationExpired
	case contracts.IntrospectRevoked:
		reason = contracts.ReasonDelegationRevoked
	default:
		reason = contracts.ReasonInvalidDelegation
	}
	return contracts.NewError(contracts.CodeUnauthorized, "delegation token rejected").
		WithReason(reason).
		WithDetail("introspection", string(intro.Reason))
}

// Authorize gates one operation: tenancy first, then required scopes,
// then the grant constraint. resourcePartner is the owning partner of the
// touched resource, or empty for untenanted resources. resource feeds the
// constraint expression.
func (r *Resolver) Authorize(auth *contracts.AuthContext, policy Policy, operation string, required []string, resourcePartner string, resource map[string]any) error {
	if err := r.check(auth, operation, required, resourcePartner, resource); err != nil {
		if policy.AuthzEnforce {
			return err
		}
		r.log.Warn("authorization denial suppressed",
			"operation", operation,
			"actor", auth.Actor.Fingerprint(),
			"decision", "shadow",
			"error", err.Error())
	}
	return nil
}

func (r *Resolver) check(auth *contracts.AuthContext, operation string, required []string, resourcePartner string, resource map[string]any) error {
	if resourcePartner != "" && !tenancyAllows(auth, resourcePartner) {
		return contracts.Errorf(contracts.CodeTenancyForbidden, "resource belongs to partner %s", resourcePartner).
			WithDetail("partner_id", resourcePartner)
	}

	for _, scope := range required {
		if !auth.HasScope(scope) {
			return contracts.Errorf(contracts.CodeForbidden, "operation %s requires scope %s", operation, scope).
				WithReason(contracts.ReasonInsufficientScope).
				WithDetail("missing_scope", scope)
		}
	}

	if auth.Delegated() && auth.Delegation.Constraint != "" {
		allowed, err := r.constraints.Allow(auth.Delegation.Constraint, operation, resource, auth.Now)
		if err != nil || !allowed {
			coded := contracts.NewError(contracts.CodeUnauthorized, "delegation constraint rejected the operation").
				WithReason(contracts.ReasonConstraintFailed).
				WithDetail("delegation_id", auth.Delegation.DelegationID)
			if err != nil {
				coded = coded.WithDetail("error", err.Error())
			}
			return coded
		}
	}
	return nil
}

func tenancyAllows(auth *contracts.AuthContext, resourcePartner string) bool {
	if auth.PartnerTenant == resourcePartner {
		return true
	}
	if auth.Delegated() {
		// Delegated contexts carry only what the grant gave them.
		return auth.HasScope(contracts.ScopeAdmin)
	}
	return auth.Elevated() || auth.HasScope(contracts.ScopeAdmin)
}

func scopeSet(scopes []string) map[string]bool {
	set := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return set
}

func intersectScopes(granted, requested []string) map[string]bool {
	if len(requested) == 0 {
		return scopeSet(granted)
	}
	req := scopeSet(requested)
	out := make(map[string]bool)
	for _, s := range granted {
		if req[s] {
			out[s] = true
		}
	}
	return out
}
