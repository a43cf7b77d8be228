package contracts

import "time"

// IntentStatus is the lifecycle state of a swap intent.
type IntentStatus string

const (
	IntentActive    IntentStatus = "active"
	IntentMatched   IntentStatus = "matched"
	IntentCancelled IntentStatus = "cancelled"
	IntentConsumed  IntentStatus = "consumed"
)

// Valid reports whether the status value is supported.
func (s IntentStatus) Valid() bool {
	switch s {
	case IntentActive, IntentMatched, IntentCancelled, IntentConsumed:
		return true
	default:
		return false
	}
}

// AssetRef names one tradable asset.
type AssetRef struct {
	AssetID string `json:"asset_id"`
	Kind    string `json:"kind,omitempty"`
}

// ValueBand bounds the acceptable counter-value of a swap, in integer
// value units from the asset-value table.
type ValueBand struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// Contains reports whether v falls inside the band. A zero band matches
// everything.
func (b ValueBand) Contains(v int64) bool {
	if b.Min == 0 && b.Max == 0 {
		return true
	}
	return v >= b.Min && (b.Max == 0 || v <= b.Max)
}

// SwapIntent is a published wish to trade the offered assets for a wanted
// asset. Intents are never deleted; they only change status.
type SwapIntent struct {
	ID        string       `json:"id"`
	Actor     ActorRef     `json:"actor"`
	Offer     []AssetRef   `json:"offer"`
	Want      AssetRef     `json:"want"`
	ValueBand ValueBand    `json:"value_band"`
	Status    IntentStatus `json:"status"`
	PartnerID string       `json:"partner_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// OffersAsset reports whether the intent offers the given asset.
func (i *SwapIntent) OffersAsset(assetID string) bool {
	for _, a := range i.Offer {
		if a.AssetID == assetID {
			return true
		}
	}
	return false
}

// Matchable reports whether the intent may participate in a new cycle.
func (i *SwapIntent) Matchable() bool {
	return i.Status == IntentActive
}
