package contracts

import "time"

// ProgramStatus is the enrollment state of a partner program record.
type ProgramStatus string

const (
	ProgramActive    ProgramStatus = "active"
	ProgramSuspended ProgramStatus = "suspended"
)

func (s ProgramStatus) Valid() bool {
	return s == ProgramActive || s == ProgramSuspended
}

// Program is one partner's enrollment record.
type Program struct {
	PartnerID  string        `json:"partner_id"`
	Tier       string        `json:"tier"`
	Status     ProgramStatus `json:"status"`
	EnrolledAt time.Time     `json:"enrolled_at"`
}

// RolloutPhase controls how the vault-export rollout policy applies.
type RolloutPhase string

const (
	RolloutDisabled RolloutPhase = "disabled"
	RolloutShadow   RolloutPhase = "shadow"
	RolloutEnforced RolloutPhase = "enforced"
)

func (p RolloutPhase) Valid() bool {
	switch p {
	case RolloutDisabled, RolloutShadow, RolloutEnforced:
		return true
	}
	return false
}

// RolloutPolicy is a partner's vault-export rollout policy. Revision
// increments on every upsert; Freeze blocks further policy exports while
// the freeze enforcement flag is set.
type RolloutPolicy struct {
	PartnerID string       `json:"partner_id"`
	Phase     RolloutPhase `json:"phase"`
	Freeze    bool         `json:"freeze,omitempty"`
	Revision  int          `json:"revision"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PolicyAuditEntry is one append-only record in the rollout policy audit
// journal.
type PolicyAuditEntry struct {
	Seq        int            `json:"seq"`
	PartnerID  string         `json:"partner_id"`
	Action     string         `json:"action"`
	Actor      ActorRef       `json:"actor"`
	Policy     *RolloutPolicy `json:"policy,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// UsageRecord is one metered partner-program usage event.
type UsageRecord struct {
	Seq        int       `json:"seq"`
	PartnerID  string    `json:"partner_id"`
	Metric     string    `json:"metric"`
	Quantity   int64     `json:"quantity"`
	RecordedAt time.Time `json:"recorded_at"`
}
