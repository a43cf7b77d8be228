package export

import (
	"github.com/loopworks/rotor/pkg/canonicalize"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
)

// Verify checks an export payload against the current key set: the
// export hash must cover every field except the seals, and the signature
// must verify under a non-revoked key. Any mutation after signing flips
// the result.
func Verify(payload *contracts.ExportPayload, keys *crypto.KeySet) error {
	if err := checkHash(payload); err != nil {
		return err
	}
	result := crypto.VerifyPayload(keys, payload.WithoutSignature(), payload.Signature)
	return signatureError(result)
}

// VerifyWithPublicKey checks an export payload against a caller-supplied
// PEM key instead of the process key set. The payload's signature must
// name the given key ID.
func VerifyWithPublicKey(payload *contracts.ExportPayload, publicKeyPEM, keyID string) error {
	if err := checkHash(payload); err != nil {
		return err
	}
	pub, err := crypto.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return contracts.Errorf(contracts.CodeValidation, "bad public key: %v", err)
	}
	ks := crypto.NewKeySet()
	if err := ks.AddVerifier(keyID, pub, crypto.KeyActive); err != nil {
		return contracts.Errorf(contracts.CodeValidation, "register public key: %v", err)
	}
	if payload.Signature == nil || payload.Signature.KeyID != keyID {
		return contracts.NewError(contracts.CodeSignatureInvalid, "signature key does not match the supplied key id")
	}
	result := crypto.VerifyPayload(ks, payload.WithoutSignature(), payload.Signature)
	return signatureError(result)
}

func checkHash(payload *contracts.ExportPayload) error {
	if payload == nil {
		return contracts.NewError(contracts.CodeValidation, "nil export payload")
	}
	if payload.ExportHash == "" {
		return contracts.NewError(contracts.CodeTampered, "export hash missing")
	}
	computed, err := canonicalize.Hash(payload.WithoutSeals())
	if err != nil {
		return contracts.Errorf(contracts.CodeTampered, "export not canonicalizable: %v", err)
	}
	if computed != payload.ExportHash {
		return contracts.NewError(contracts.CodeTampered, "export hash does not match payload").
			WithDetail("computed", computed).
			WithDetail("recorded", payload.ExportHash)
	}
	return nil
}

func signatureError(result crypto.VerifyResult) error {
	switch result.Outcome {
	case crypto.VerifyOK:
		return nil
	case crypto.VerifyUnknownKey:
		return contracts.Errorf(contracts.CodeUnknownKeyID, "export signed by unknown key %s", result.KeyID)
	default:
		return contracts.NewError(contracts.CodeSignatureInvalid, "export signature does not verify").
			WithDetail("outcome", string(result.Outcome))
	}
}
