package contracts

import "time"

// Event types emitted by the runtime.
const (
	EventIntentPublished   = "intent.published"
	EventIntentCancelled   = "intent.cancelled"
	EventProposalCreated   = "proposal.created"
	EventProposalAccepted  = "proposal.accepted"
	EventProposalRejected  = "proposal.rejected"
	EventTimelineState     = "settlement.state_changed"
	EventDepositConfirmed  = "settlement.deposit_confirmed"
	EventReceiptIssued     = "settlement.receipt_issued"
	EventHoldingDeposited  = "vault.holding_deposited"
	EventHoldingWithdrawn  = "vault.holding_withdrawn"
	EventCustodySnapshot   = "vault.custody_snapshot"
	EventDelegationIssued  = "delegation.issued"
	EventDelegationRevoked = "delegation.revoked"
	EventPolicyUpserted    = "partner.rollout_policy_upserted"
)

// EventEnvelope is a signed, append-only outbox entry. EventID is
// deterministic per domain event so replays and webhook re-deliveries
// deduplicate.
type EventEnvelope struct {
	EventID       string         `json:"event_id"`
	Type          string         `json:"type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Actor         ActorRef       `json:"actor"`
	Payload       map[string]any `json:"payload,omitempty"`
	Signature     *Signature     `json:"signature,omitempty"`
}

// WithoutSignature returns a copy with the signature stripped for
// canonical signing input.
func (e EventEnvelope) WithoutSignature() EventEnvelope {
	e.Signature = nil
	return e
}
