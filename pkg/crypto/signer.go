// Package crypto provides Ed25519 signing primitives for receipts,
// export bundles, and delegation tokens.
//
// Signatures travel as lowercase hex. The signed message is always the
// canonical form of the payload with its signature block removed, so a
// verifier can rebuild the exact bytes from the stored object.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signer signs raw message bytes and reports the key it signs with.
type Signer interface {
	// KeyID returns the identifier verifiers use to look up the public key.
	KeyID() string
	// Sign returns the signature over msg as lowercase hex.
	Sign(msg []byte) (string, error)
}

// Ed25519Signer signs with a single Ed25519 private key.
type Ed25519Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(keyID string, priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if keyID == "" {
		return nil, errors.New("crypto: key id required")
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: invalid private key size %d", len(priv))
	}
	return &Ed25519Signer{keyID: keyID, priv: priv}, nil
}

// GenerateSigner creates a fresh random keypair.
func GenerateSigner(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return NewEd25519Signer(keyID, priv)
}

// SignerFromSeed derives the keypair deterministically from a 32-byte seed.
func SignerFromSeed(keyID string, seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(keyID, ed25519.NewKeyFromSeed(seed))
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) Sign(msg []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, msg)), nil
}

// Public returns the signer's public key.
func (s *Ed25519Signer) Public() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Private exposes the underlying private key for keyset export.
func (s *Ed25519Signer) Private() ed25519.PrivateKey { return s.priv }

// Verify checks a hex signature against a public key.
func Verify(pub ed25519.PublicKey, msg []byte, sigHex string) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
