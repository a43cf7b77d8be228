// Package delegation issues and introspects signed bearer tokens that let
// one actor operate on another's behalf within granted scopes.
//
// A token is an EdDSA JWT whose claims embed the full grant; the signing
// key is named in the kid header so introspection survives key rotation.
// The stored grant stays authoritative: revoking it flips every
// outstanding token for that grant to inactive.
package delegation

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/store"
)

const issuer = "rotor/delegation"

// Claims carries the grant inside the token alongside the registered
// time-bound claims the JWT layer validates.
type Claims struct {
	jwt.RegisteredClaims
	Grant contracts.DelegationGrant `json:"grant"`
}

// Authority signs grants into tokens and examines presented tokens.
type Authority struct {
	keys         *crypto.KeySet
	signingKeyID string
	now          func() time.Time
}

func NewAuthority(keys *crypto.KeySet) *Authority {
	return &Authority{keys: keys, now: time.Now}
}

// WithClock overrides the timestamp source. Useful in tests.
func (a *Authority) WithClock(now func() time.Time) *Authority {
	a.now = now
	return a
}

// WithSigningKey pins the key used for new tokens instead of the keyset's
// active key. Empty restores active-key selection.
func (a *Authority) WithSigningKey(keyID string) *Authority {
	a.signingKeyID = keyID
	return a
}

// Issue validates the grant, signs it, stores it in the delegations map,
// and returns the bearer token. The grant's DelegationID is assigned here
// when empty.
func (a *Authority) Issue(st *store.State, grant *contracts.DelegationGrant) (string, error) {
	if err := validateGrant(grant); err != nil {
		return "", err
	}
	if grant.DelegationID == "" {
		grant.DelegationID = "dlg_" + uuid.New().String()
	}
	if _, exists := st.Delegations[grant.DelegationID]; exists {
		return "", contracts.Errorf(contracts.CodeConflict, "delegation %s already exists", grant.DelegationID)
	}

	signer, err := a.signer()
	if err != nil {
		return "", contracts.Errorf(contracts.CodeInternal, "delegation signing key: %v", err)
	}
	sig, err := crypto.SignPayload(signer, grantForSigning(grant))
	if err != nil {
		return "", contracts.AsError(err)
	}
	grant.Signature = &sig

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        grant.DelegationID,
			Subject:   grant.DelegateActor.Fingerprint(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
		Grant: *grant,
	}
	if !grant.NotBefore.IsZero() {
		claims.NotBefore = jwt.NewNumericDate(grant.NotBefore)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = signer.KeyID()
	signed, err := token.SignedString(signer.Private())
	if err != nil {
		return "", contracts.Errorf(contracts.CodeInternal, "sign delegation token: %v", err)
	}

	st.Delegations[grant.DelegationID] = grant
	return signed, nil
}

func (a *Authority) signer() (*crypto.Ed25519Signer, error) {
	if a.signingKeyID != "" {
		return a.keys.SignerFor(a.signingKeyID)
	}
	return a.keys.ActiveSigner()
}

// Introspect examines a presented token against the keyset and the stored
// grant. It never returns an error: every failure mode maps to an
// inactive result with a stable reason.
func (a *Authority) Introspect(st *store.State, tokenString string, now time.Time) *contracts.Introspection {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, a.keyFunc,
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return inactive(reasonForParseError(err), map[string]any{"error": err.Error()})
	}
	if !token.Valid {
		return inactive(contracts.IntrospectBadSignature, nil)
	}

	stored, ok := st.Delegations[claims.Grant.DelegationID]
	if !ok {
		return inactive(contracts.IntrospectRevoked, map[string]any{
			"delegation_id": claims.Grant.DelegationID,
			"note":          "grant not on record",
		})
	}
	if stored.Revoked() {
		return inactive(contracts.IntrospectRevoked, map[string]any{
			"delegation_id": stored.DelegationID,
			"revoked_at":    stored.RevokedAt,
		})
	}
	// The stored grant's window is authoritative even if the token's
	// registered claims drifted.
	if now.Before(stored.NotBefore) {
		return inactive(contracts.IntrospectNotYetValid, nil)
	}
	if !stored.WindowContains(now) {
		return inactive(contracts.IntrospectExpired, nil)
	}

	return &contracts.Introspection{Active: true, Reason: contracts.IntrospectOK, Grant: stored}
}

func (a *Authority) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, crypto.ErrKeyNotFound
	}
	return a.keys.PublicKey(kid)
}

func reasonForParseError(err error) contracts.IntrospectionReason {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return contracts.IntrospectExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return contracts.IntrospectNotYetValid
	case errors.Is(err, crypto.ErrKeyRevoked):
		return contracts.IntrospectKeyRevoked
	case errors.Is(err, crypto.ErrKeyNotFound):
		return contracts.IntrospectUnknownKeyID
	default:
		return contracts.IntrospectBadSignature
	}
}

func inactive(reason contracts.IntrospectionReason, details map[string]any) *contracts.Introspection {
	return &contracts.Introspection{Active: false, Reason: reason, Details: details}
}

// Revoke stamps revoked_at on the stored grant. Revoking an already
// revoked grant keeps the original timestamp.
func (a *Authority) Revoke(st *store.State, delegationID string, now time.Time) (*contracts.DelegationGrant, error) {
	grant, ok := st.Delegations[delegationID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "delegation %s not found", delegationID)
	}
	if !grant.Revoked() {
		grant.RevokedAt = now.UTC()
	}
	return grant, nil
}

func validateGrant(grant *contracts.DelegationGrant) error {
	switch {
	case grant == nil:
		return contracts.NewError(contracts.CodeValidation, "grant required")
	case !grant.PrincipalActor.Type.Valid() || grant.PrincipalActor.ID == "":
		return contracts.NewError(contracts.CodeValidation, "principal_actor invalid")
	case !grant.DelegateActor.Type.Valid() || grant.DelegateActor.ID == "":
		return contracts.NewError(contracts.CodeValidation, "delegate_actor invalid")
	case len(grant.Scopes) == 0:
		return contracts.NewError(contracts.CodeValidation, "scopes must be non-empty")
	case grant.ExpiresAt.IsZero() || !grant.ExpiresAt.After(grant.NotBefore):
		return contracts.NewError(contracts.CodeValidation, "expires_at must follow not_before")
	case grant.PrincipalActor.Equal(grant.DelegateActor):
		return contracts.NewError(contracts.CodeValidation, "principal and delegate must differ")
	}
	return nil
}

// grantForSigning strips the signature block so the detached signature
// covers everything else.
func grantForSigning(grant *contracts.DelegationGrant) contracts.DelegationGrant {
	clone := *grant
	clone.Signature = nil
	return clone
}
