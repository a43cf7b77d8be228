package contracts

// SigAlgEd25519 is the only signature algorithm the runtime emits.
const SigAlgEd25519 = "ed25519"

// Signature is the detached signature block embedded in signed objects.
// The signing input is always the canonical JSON of the object with the
// signature field removed.
type Signature struct {
	KeyID string `json:"key_id"`
	Alg   string `json:"alg"`
	Sig   string `json:"sig"`
}

// Empty reports whether the signature block is unset.
func (s *Signature) Empty() bool {
	return s == nil || s.Sig == ""
}
