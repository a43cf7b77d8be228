package contracts

import "time"

// ReceiptState is the terminal outcome a receipt attests to.
type ReceiptState string

const (
	ReceiptCompleted ReceiptState = "completed"
	ReceiptFailed    ReceiptState = "failed"
)

// Receipt is the signed terminal record of a cycle. Immutable after signing;
// the signature covers the canonical receipt minus the signature field.
type Receipt struct {
	ID           string         `json:"id"`
	CycleID      string         `json:"cycle_id"`
	FinalState   ReceiptState   `json:"final_state"`
	IntentIDs    []string       `json:"intent_ids"`
	AssetIDs     []string       `json:"asset_ids"`
	CreatedAt    time.Time      `json:"created_at"`
	Transparency map[string]any `json:"transparency,omitempty"`
	Signature    *Signature     `json:"signature,omitempty"`
}

// WithoutSignature returns a copy with the signature stripped, the exact
// value the signing input is canonicalized from.
func (r Receipt) WithoutSignature() Receipt {
	r.Signature = nil
	return r
}
