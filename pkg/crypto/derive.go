package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// derivationSalt domain-separates signing seeds from any other use of
// the same master secret.
const derivationSalt = "rotor:signing:seed:v1"

// MinMasterSeedLen is the shortest master secret accepted for derivation.
const MinMasterSeedLen = 32

// DeriveSeed expands a master secret into the Ed25519 seed for keyID.
// The same master and keyID always yield the same seed, so a process can
// rebuild its signing keys from configuration alone.
func DeriveSeed(master []byte, keyID string) ([]byte, error) {
	if len(master) < MinMasterSeedLen {
		return nil, fmt.Errorf("crypto: master seed must be at least %d bytes, got %d", MinMasterSeedLen, len(master))
	}
	if keyID == "" {
		return nil, errors.New("crypto: key id required for derivation")
	}
	reader := hkdf.New(sha256.New, master, []byte(derivationSalt), []byte(keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		return nil, fmt.Errorf("crypto: derive seed: %w", err)
	}
	return seed, nil
}

// DeriveSigner builds a deterministic signer for keyID from a master secret.
func DeriveSigner(master []byte, keyID string) (*Ed25519Signer, error) {
	seed, err := DeriveSeed(master, keyID)
	if err != nil {
		return nil, err
	}
	return SignerFromSeed(keyID, seed)
}
