package crypto

import (
	"fmt"

	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/contracts"
)

// VerifyOutcome classifies a payload verification result.
type VerifyOutcome string

const (
	VerifyOK               VerifyOutcome = "ok"
	VerifyMissingSignature VerifyOutcome = "missing_signature"
	VerifyUnknownKey       VerifyOutcome = "unknown_key_id"
	VerifyKeyRevoked       VerifyOutcome = "key_revoked"
	VerifyBadSignature     VerifyOutcome = "bad_signature"
	VerifyPayloadShape     VerifyOutcome = "payload_shape"
)

// VerifyResult carries the outcome of a payload verification together
// with the key that was consulted.
type VerifyResult struct {
	Outcome VerifyOutcome `json:"outcome"`
	KeyID   string        `json:"key_id,omitempty"`
}

func (r VerifyResult) OK() bool { return r.Outcome == VerifyOK }

// SignPayload canonicalizes payload and signs the resulting bytes with
// the given signer. The payload must already have its signature block
// stripped; signing a payload that embeds its own signature would make
// the value unverifiable.
func SignPayload(signer Signer, payload any) (contracts.Signature, error) {
	msg, err := canonicalize.Bytes(payload)
	if err != nil {
		return contracts.Signature{}, fmt.Errorf("crypto: canonicalize payload: %w", err)
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return contracts.Signature{}, fmt.Errorf("crypto: sign payload: %w", err)
	}
	return contracts.Signature{
		KeyID: signer.KeyID(),
		Alg:   contracts.SigAlgEd25519,
		Sig:   sig,
	}, nil
}

// VerifyPayload checks sig against the canonical form of payload using
// the key set. The payload must be the signature-stripped object.
func VerifyPayload(ks *KeySet, payload any, sig *contracts.Signature) VerifyResult {
	if sig == nil || sig.Empty() {
		return VerifyResult{Outcome: VerifyMissingSignature}
	}
	msg, err := canonicalize.Bytes(payload)
	if err != nil {
		return VerifyResult{Outcome: VerifyPayloadShape, KeyID: sig.KeyID}
	}
	pub, err := ks.PublicKey(sig.KeyID)
	if err != nil {
		outcome := VerifyUnknownKey
		if status, serr := ks.Status(sig.KeyID); serr == nil && status == KeyRevoked {
			outcome = VerifyKeyRevoked
		}
		return VerifyResult{Outcome: outcome, KeyID: sig.KeyID}
	}
	if !Verify(pub, msg, sig.Sig) {
		return VerifyResult{Outcome: VerifyBadSignature, KeyID: sig.KeyID}
	}
	return VerifyResult{Outcome: VerifyOK, KeyID: sig.KeyID}
}
