package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	// KeyActive keys sign new payloads and verify old ones.
	KeyActive KeyStatus = "active"
	// KeyRetired keys no longer sign but still verify.
	KeyRetired KeyStatus = "retired"
	// KeyRevoked keys are refused for both signing and verification.
	KeyRevoked KeyStatus = "revoked"
)

func (s KeyStatus) Valid() bool {
	switch s {
	case KeyActive, KeyRetired, KeyRevoked:
		return true
	}
	return false
}

var (
	ErrKeyNotFound   = errors.New("crypto: key not found")
	ErrKeyRevoked    = errors.New("crypto: key revoked")
	ErrNoActiveKey   = errors.New("crypto: no active key")
	ErrDuplicateKey  = errors.New("crypto: duplicate key id")
	ErrNoPrivateHalf = errors.New("crypto: key has no private half")
)

type keyEntry struct {
	status    KeyStatus
	pub       ed25519.PublicKey
	priv      ed25519.PrivateKey // nil for verify-only entries
	createdAt time.Time
}

// KeySet holds the keys a process signs and verifies with. Exactly one
// key is active at a time; rotation retires the previous active key so
// existing signatures stay verifiable.
type KeySet struct {
	mu       sync.RWMutex
	activeID string
	keys     map[string]*keyEntry
	now      func() time.Time
}

// NewKeySet returns an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]*keyEntry), now: time.Now}
}

// WithClock overrides the timestamp source. Useful in tests.
func (ks *KeySet) WithClock(now func() time.Time) *KeySet {
	ks.now = now
	return ks
}

// Generate creates a fresh keypair under keyID and makes it active.
func (ks *KeySet) Generate(keyID string) (*Ed25519Signer, error) {
	signer, err := GenerateSigner(keyID)
	if err != nil {
		return nil, err
	}
	if err := ks.AddSigner(signer); err != nil {
		return nil, err
	}
	return signer, nil
}

// AddSigner registers a signing key and makes it the active key. Any
// previously active key is retired.
func (ks *KeySet) AddSigner(signer *Ed25519Signer) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[signer.KeyID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, signer.KeyID())
	}
	if prev, ok := ks.keys[ks.activeID]; ok && prev.status == KeyActive {
		prev.status = KeyRetired
	}
	ks.keys[signer.KeyID()] = &keyEntry{
		status:    KeyActive,
		pub:       signer.Public(),
		priv:      signer.Private(),
		createdAt: ks.now().UTC(),
	}
	ks.activeID = signer.KeyID()
	return nil
}

// AddVerifier registers a public key that can verify but never sign.
func (ks *KeySet) AddVerifier(keyID string, pub ed25519.PublicKey, status KeyStatus) error {
	if !status.Valid() {
		return fmt.Errorf("crypto: invalid key status %q", status)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("crypto: invalid public key size %d", len(pub))
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.keys[keyID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, keyID)
	}
	ks.keys[keyID] = &keyEntry{status: status, pub: pub, createdAt: ks.now().UTC()}
	return nil
}

// Rotate generates a new active key and retires the current one in a
// single step. Signatures made under the old key remain verifiable.
func (ks *KeySet) Rotate(newKeyID string) (*Ed25519Signer, error) {
	return ks.Generate(newKeyID)
}

// Revoke marks a key as compromised. Revoked keys fail verification.
func (ks *KeySet) Revoke(keyID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	entry, ok := ks.keys[keyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	entry.status = KeyRevoked
	if ks.activeID == keyID {
		ks.activeID = ""
	}
	return nil
}

// ActiveKeyID returns the identifier of the current signing key.
func (ks *KeySet) ActiveKeyID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.activeID
}

// ActiveSigner returns a Signer bound to the active key.
func (ks *KeySet) ActiveSigner() (*Ed25519Signer, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	entry, ok := ks.keys[ks.activeID]
	if !ok || entry.status != KeyActive {
		return nil, ErrNoActiveKey
	}
	if entry.priv == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateHalf, ks.activeID)
	}
	return &Ed25519Signer{keyID: ks.activeID, priv: entry.priv}, nil
}

// SignerFor returns a Signer bound to a specific key. Revoked keys and
// keys registered without a private half refuse.
func (ks *KeySet) SignerFor(keyID string) (*Ed25519Signer, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	entry, ok := ks.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	if entry.status == KeyRevoked {
		return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, keyID)
	}
	if entry.priv == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrivateHalf, keyID)
	}
	return &Ed25519Signer{keyID: keyID, priv: entry.priv}, nil
}

// PublicKey returns the verification key for keyID, refusing revoked keys.
func (ks *KeySet) PublicKey(keyID string) (ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	entry, ok := ks.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	if entry.status == KeyRevoked {
		return nil, fmt.Errorf("%w: %s", ErrKeyRevoked, keyID)
	}
	return entry.pub, nil
}

// Status reports a key's lifecycle state.
func (ks *KeySet) Status(keyID string) (KeyStatus, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	entry, ok := ks.keys[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return entry.status, nil
}

// KeyIDs lists registered key identifiers in sorted order.
func (ks *KeySet) KeyIDs() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	ids := make([]string, 0, len(ks.keys))
	for id := range ks.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KeyManifest is the portable JSON form of a KeySet.
type KeyManifest struct {
	ActiveKeyID string      `json:"active_key_id"`
	Keys        []KeyRecord `json:"keys"`
	ExportedAt  time.Time   `json:"exported_at"`
}

// KeyRecord describes one key in a manifest. PrivateKeyPEM is empty for
// verify-only exports.
type KeyRecord struct {
	KeyID         string    `json:"key_id"`
	Alg           string    `json:"alg"`
	Status        KeyStatus `json:"status"`
	PublicKeyPEM  string    `json:"public_key_pem"`
	PrivateKeyPEM string    `json:"private_key_pem,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Export serializes the key set. Private halves are included only when
// includePrivate is set; verification-side copies should never carry them.
func (ks *KeySet) Export(includePrivate bool) (*KeyManifest, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	manifest := &KeyManifest{ActiveKeyID: ks.activeID, ExportedAt: ks.now().UTC()}
	ids := make([]string, 0, len(ks.keys))
	for id := range ks.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := ks.keys[id]
		pubPEM, err := encodePublicPEM(entry.pub)
		if err != nil {
			return nil, fmt.Errorf("crypto: export %s: %w", id, err)
		}
		rec := KeyRecord{
			KeyID:        id,
			Alg:          "ed25519",
			Status:       entry.status,
			PublicKeyPEM: pubPEM,
			CreatedAt:    entry.createdAt,
		}
		if includePrivate && entry.priv != nil {
			privPEM, err := encodePrivatePEM(entry.priv)
			if err != nil {
				return nil, fmt.Errorf("crypto: export %s: %w", id, err)
			}
			rec.PrivateKeyPEM = privPEM
		}
		manifest.Keys = append(manifest.Keys, rec)
	}
	return manifest, nil
}

// LoadKeySet rebuilds a KeySet from a manifest.
func LoadKeySet(manifest *KeyManifest) (*KeySet, error) {
	if manifest == nil {
		return nil, errors.New("crypto: nil manifest")
	}
	ks := NewKeySet()
	for _, rec := range manifest.Keys {
		if rec.Alg != "ed25519" {
			return nil, fmt.Errorf("crypto: unsupported alg %q for key %s", rec.Alg, rec.KeyID)
		}
		if !rec.Status.Valid() {
			return nil, fmt.Errorf("crypto: invalid status %q for key %s", rec.Status, rec.KeyID)
		}
		pub, err := decodePublicPEM(rec.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("crypto: load %s: %w", rec.KeyID, err)
		}
		entry := &keyEntry{status: rec.Status, pub: pub, createdAt: rec.CreatedAt}
		if rec.PrivateKeyPEM != "" {
			priv, err := decodePrivatePEM(rec.PrivateKeyPEM)
			if err != nil {
				return nil, fmt.Errorf("crypto: load %s: %w", rec.KeyID, err)
			}
			entry.priv = priv
		}
		if _, ok := ks.keys[rec.KeyID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, rec.KeyID)
		}
		ks.keys[rec.KeyID] = entry
	}
	if manifest.ActiveKeyID != "" {
		entry, ok := ks.keys[manifest.ActiveKeyID]
		if !ok {
			return nil, fmt.Errorf("%w: active %s", ErrKeyNotFound, manifest.ActiveKeyID)
		}
		if entry.status != KeyActive {
			return nil, fmt.Errorf("crypto: active key %s has status %s", manifest.ActiveKeyID, entry.status)
		}
		ks.activeID = manifest.ActiveKeyID
	}
	return ks, nil
}

// ParsePublicKeyPEM decodes a PKIX-encoded Ed25519 public key. Callers
// use it to verify payloads against keys distributed out of band.
func ParsePublicKeyPEM(raw string) (ed25519.PublicKey, error) {
	return decodePublicPEM(raw)
}

func encodePublicPEM(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func encodePrivatePEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func decodePublicPEM(raw string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 public key: %T", key)
	}
	return pub, nil
}

func decodePrivatePEM(raw string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an ed25519 private key: %T", key)
	}
	return priv, nil
}
