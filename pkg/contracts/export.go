package contracts

import "time"

// ExportQuery selects and pages a journal export. The three *_after fields
// resume a previous export and must match a saved checkpoint together.
type ExportQuery struct {
	Kind             string         `json:"kind"`
	Filter           map[string]any `json:"filter,omitempty"`
	CursorAfter      string         `json:"cursor_after,omitempty"`
	AttestationAfter string         `json:"attestation_after,omitempty"`
	CheckpointAfter  string         `json:"checkpoint_after,omitempty"`
	Limit            int            `json:"limit,omitempty"`
}

// Resuming reports whether any continuation field is set.
func (q ExportQuery) Resuming() bool {
	return q.CursorAfter != "" || q.AttestationAfter != "" || q.CheckpointAfter != ""
}

// AttestationBlock records the chain interval an export covers.
type AttestationBlock struct {
	AttestationAfter string `json:"attestation_after,omitempty"`
	ChainHash        string `json:"chain_hash"`
}

// CheckpointBlock is the resumable continuation embedded in an export.
type CheckpointBlock struct {
	CheckpointAfter string    `json:"checkpoint_after,omitempty"`
	CheckpointHash  string    `json:"checkpoint_hash"`
	ExportedAt      time.Time `json:"exported_at"`
}

// ExportPayload is a filtered, signed, chain-linked view of a journal.
// ExportHash covers every field except the signature.
type ExportPayload struct {
	Kind          string           `json:"kind"`
	ExportedAt    time.Time        `json:"exported_at"`
	Query         map[string]any   `json:"query,omitempty"`
	Entries       []map[string]any `json:"entries,omitempty"`
	Summary       map[string]any   `json:"summary,omitempty"`
	TotalFiltered int              `json:"total_filtered"`
	NextCursor    string           `json:"next_cursor,omitempty"`
	Attestation   AttestationBlock `json:"attestation"`
	Checkpoint    CheckpointBlock  `json:"checkpoint"`
	ExportHash    string           `json:"export_hash,omitempty"`
	Signature     *Signature       `json:"signature,omitempty"`
}

// WithoutSignature returns a copy with the signature stripped.
func (p ExportPayload) WithoutSignature() ExportPayload {
	p.Signature = nil
	return p
}

// WithoutSeals returns a copy with both the hash and signature stripped,
// the exact value export_hash is computed over.
func (p ExportPayload) WithoutSeals() ExportPayload {
	p.ExportHash = ""
	p.Signature = nil
	return p
}

// ExportCheckpoint is the persisted continuation row for an export kind.
type ExportCheckpoint struct {
	CheckpointHash       string         `json:"checkpoint_hash"`
	CheckpointAfter      string         `json:"checkpoint_after,omitempty"`
	NextCursor           string         `json:"next_cursor,omitempty"`
	AttestationChainHash string         `json:"attestation_chain_hash,omitempty"`
	QueryContext         map[string]any `json:"query_context,omitempty"`
	ExportedAt           time.Time      `json:"exported_at"`
}
