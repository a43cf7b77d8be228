package contracts

import "time"

// TimelineState is the settlement state of a cycle.
type TimelineState string

const (
	StateInitial       TimelineState = "initial"
	StateEscrowPending TimelineState = "escrow.pending"
	StateEscrowReady   TimelineState = "escrow.ready"
	StateExecuting     TimelineState = "executing"
	StateCompleted     TimelineState = "completed"
	StateFailed        TimelineState = "failed"
	StateExpired       TimelineState = "expired"
)

// Valid reports whether the state value is supported.
func (s TimelineState) Valid() bool {
	switch s {
	case StateInitial, StateEscrowPending, StateEscrowReady,
		StateExecuting, StateCompleted, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state admits no further transitions.
func (s TimelineState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// LegStatus is the per-intent escrow status inside a timeline.
type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegDeposited LegStatus = "deposited"
	LegReleased  LegStatus = "released"
	LegFailed    LegStatus = "failed"
)

// TimelineLeg tracks one intent's escrow progress. VaultHoldingID is
// populated exactly while the leg is deposited or released.
type TimelineLeg struct {
	IntentID           string    `json:"intent_id"`
	FromActor          ActorRef  `json:"from_actor"`
	AssetID            string    `json:"asset_id"`
	Status             LegStatus `json:"status"`
	VaultHoldingID     string    `json:"vault_holding_id,omitempty"`
	VaultReservationID string    `json:"vault_reservation_id,omitempty"`
	DepositRef         string    `json:"deposit_ref,omitempty"`
	ConfirmedAt        time.Time `json:"confirmed_at,omitempty"`
}

// Timeline is the settlement state machine instance for one accepted cycle.
type Timeline struct {
	CycleID           string        `json:"cycle_id"`
	ProposalID        string        `json:"proposal_id"`
	State             TimelineState `json:"state"`
	Legs              []TimelineLeg `json:"legs"`
	DepositDeadlineAt time.Time     `json:"deposit_deadline_at,omitempty"`
	PartnerID         string        `json:"partner_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Leg returns the leg for an intent, or nil.
func (t *Timeline) Leg(intentID string) *TimelineLeg {
	for i := range t.Legs {
		if t.Legs[i].IntentID == intentID {
			return &t.Legs[i]
		}
	}
	return nil
}

// PendingLegs counts legs still awaiting deposit confirmation.
func (t *Timeline) PendingLegs() int {
	n := 0
	for i := range t.Legs {
		if t.Legs[i].Status == LegPending {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored instance.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Legs = make([]TimelineLeg, len(t.Legs))
	copy(clone.Legs, t.Legs)
	return &clone
}
