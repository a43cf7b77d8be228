package contracts

import (
	"strings"
	"time"
)

// CycleLeg is one transfer in a cycle: from_actor gives asset_id (backed by
// intent_id) to to_actor.
type CycleLeg struct {
	FromActor ActorRef `json:"from_actor"`
	ToActor   ActorRef `json:"to_actor"`
	IntentID  string   `json:"intent_id"`
	AssetID   string   `json:"asset_id"`
}

// CycleProposal is a closed chain of legs discovered by the matcher or
// delivered by a partner webhook. Proposals are consumed by acceptance or
// expire at ExpiresAt.
type CycleProposal struct {
	ID           string     `json:"id"`
	Participants []ActorRef `json:"participants"`
	Legs         []CycleLeg `json:"legs"`
	Score        float64    `json:"score"`
	ExpiresAt    time.Time  `json:"expires_at"`
	PartnerID    string     `json:"partner_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CycleKey returns the rotation-normalized key of the participant ring:
// the lexicographically smallest rotation of the participant fingerprints,
// joined by ">". Two proposals over the same ring share a key regardless of
// which participant the enumeration started from.
func (p *CycleProposal) CycleKey() string {
	return CycleKeyOf(p.Participants)
}

// CycleKeyOf computes the rotation-normalized cycle key for a participant
// ring.
func CycleKeyOf(participants []ActorRef) string {
	n := len(participants)
	if n == 0 {
		return ""
	}
	ids := make([]string, n)
	for i, a := range participants {
		ids[i] = a.Fingerprint()
	}
	best := ""
	for s := 0; s < n; s++ {
		rotated := make([]string, 0, n)
		for i := 0; i < n; i++ {
			rotated = append(rotated, ids[(s+i)%n])
		}
		candidate := strings.Join(rotated, ">")
		if best == "" || candidate < best {
			best = candidate
		}
	}
	return best
}

// Expired reports whether the proposal window has closed at the given time.
func (p *CycleProposal) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// IntentIDs returns the intent IDs of all legs in leg order.
func (p *CycleProposal) IntentIDs() []string {
	out := make([]string, 0, len(p.Legs))
	for _, l := range p.Legs {
		out = append(out, l.IntentID)
	}
	return out
}

// AssetIDs returns the asset IDs of all legs in leg order.
func (p *CycleProposal) AssetIDs() []string {
	out := make([]string, 0, len(p.Legs))
	for _, l := range p.Legs {
		out = append(out, l.AssetID)
	}
	return out
}

// CommitPhase is the outcome of a proposal decision.
type CommitPhase string

const (
	CommitAccepted CommitPhase = "accepted"
	CommitRejected CommitPhase = "rejected"
)

// Commit records a partner's decision on a cycle proposal.
type Commit struct {
	ID            string      `json:"id"`
	ProposalID    string      `json:"proposal_id"`
	Phase         CommitPhase `json:"phase"`
	AcceptorActor ActorRef    `json:"acceptor_actor"`
	OccurredAt    time.Time   `json:"occurred_at"`
}
