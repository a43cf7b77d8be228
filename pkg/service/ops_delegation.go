package service

import (
	"time"

	"github.com/loopworks/rotor/pkg/contracts"
)

func (s *Service) opDelegationIssue(o *opContext) (map[string]any, error) {
	var params struct {
		DelegationID   string             `json:"delegation_id"`
		PrincipalActor contracts.ActorRef `json:"principal_actor"`
		DelegateActor  contracts.ActorRef `json:"delegate_actor"`
		Scopes         []string           `json:"scopes"`
		NotBefore      time.Time          `json:"not_before"`
		ExpiresAt      time.Time          `json:"expires_at"`
		Constraint     string             `json:"constraint"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := principalAllowed(o.auth, params.PrincipalActor); err != nil {
		return nil, err
	}

	grant := &contracts.DelegationGrant{
		DelegationID:   params.DelegationID,
		PrincipalActor: params.PrincipalActor,
		DelegateActor:  params.DelegateActor,
		Scopes:         params.Scopes,
		NotBefore:      params.NotBefore,
		ExpiresAt:      params.ExpiresAt,
		Constraint:     params.Constraint,
	}
	if grant.NotBefore.IsZero() {
		grant.NotBefore = o.now
	}

	// The signing key pin is re-read from the environment per operation.
	s.authority.WithSigningKey(o.policy.DelegationSigningKeyID)
	token, err := s.authority.Issue(o.st, grant)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventDelegationIssued, grant.DelegationID, map[string]any{
		"delegation_id": grant.DelegationID,
		"principal":     grant.PrincipalActor.Fingerprint(),
		"delegate":      grant.DelegateActor.Fingerprint(),
	}); err != nil {
		return nil, err
	}

	body, err := asBody("grant", grant)
	if err != nil {
		return nil, err
	}
	body["token"] = token
	return body, nil
}

func (s *Service) opDelegationIntrospect(o *opContext) (map[string]any, error) {
	var params struct {
		Token string `json:"token"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	introspection := s.authority.Introspect(o.st, params.Token, o.now)
	return asBody("introspection", introspection)
}

func (s *Service) opDelegationRevoke(o *opContext) (map[string]any, error) {
	var params struct {
		DelegationID string `json:"delegation_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	grant, ok := o.st.Delegations[params.DelegationID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "delegation %s not found", params.DelegationID)
	}
	if err := principalAllowed(o.auth, grant.PrincipalActor); err != nil {
		return nil, err
	}
	revoked, err := s.authority.Revoke(o.st, params.DelegationID, o.now)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventDelegationRevoked, revoked.DelegationID, map[string]any{
		"delegation_id": revoked.DelegationID,
	}); err != nil {
		return nil, err
	}
	return asBody("grant", revoked)
}

// principalAllowed admits the principal itself and elevated principals;
// nobody issues or revokes grants for a third party.
func principalAllowed(auth *contracts.AuthContext, principal contracts.ActorRef) error {
	if auth.Actor.Equal(principal) {
		return nil
	}
	if auth.Elevated() && !auth.Delegated() {
		return nil
	}
	return contracts.Errorf(contracts.CodeForbidden, "actor %s cannot manage delegations for %s",
		auth.Actor.Fingerprint(), principal.Fingerprint())
}
