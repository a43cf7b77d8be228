// Package settlement drives accepted cycles through escrow to a signed
// terminal receipt.
//
// States move initial → escrow.pending → escrow.ready → executing →
// completed | failed | expired. Every transition is explicit; anything
// else fails invalid_state_transition, and terminal states reject all
// operations. Each transition appends outbox events in the order state
// change, deposit confirmation, terminal receipt.
package settlement

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/outbox"
	"github.com/loopworks/rotor/pkg/store"
	"github.com/loopworks/rotor/pkg/vault"
)

// DefaultDepositWindow is applied when start supplies no explicit window.
const DefaultDepositWindow = 24 * time.Hour

// engineActor stamps vault mutations the engine performs on behalf of a
// cycle rather than any single participant.
var engineActor = contracts.ActorRef{Type: contracts.ActorService, ID: "settlement"}

// Engine applies settlement transitions to the state tree. Methods run
// inside the store writer; persistence and idempotency wrap them one
// level up.
type Engine struct {
	keys   *crypto.KeySet
	vault  *vault.Ledger
	outbox *outbox.Outbox
	now    func() time.Time
	log    *slog.Logger
}

func NewEngine(keys *crypto.KeySet, ledger *vault.Ledger, ob *outbox.Outbox) *Engine {
	return &Engine{
		keys:   keys,
		vault:  ledger,
		outbox: ob,
		now:    time.Now,
		log:    slog.Default().With("component", "settlement"),
	}
}

// WithClock overrides the timestamp source. Useful in tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// InitTimeline creates the initial-state timeline for a freshly accepted
// proposal. The legs mirror the proposal's legs one to one.
func (e *Engine) InitTimeline(st *store.State, proposal *contracts.CycleProposal) (*contracts.Timeline, error) {
	cycleID := "cyc_" + uuid.New().String()
	if _, exists := st.Timelines[cycleID]; exists {
		return nil, contracts.Errorf(contracts.CodeConflict, "cycle %s already exists", cycleID)
	}
	now := e.now().UTC()
	timeline := &contracts.Timeline{
		CycleID:    cycleID,
		ProposalID: proposal.ID,
		State:      contracts.StateInitial,
		Legs:       make([]contracts.TimelineLeg, len(proposal.Legs)),
		PartnerID:  proposal.PartnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, leg := range proposal.Legs {
		timeline.Legs[i] = contracts.TimelineLeg{
			IntentID:  leg.IntentID,
			FromActor: leg.FromActor,
			AssetID:   leg.AssetID,
			Status:    contracts.LegPending,
		}
	}
	st.Timelines[cycleID] = timeline
	if proposal.PartnerID != "" {
		st.TagCycleTenancy(cycleID, proposal.PartnerID)
	}
	return timeline, nil
}

// Get returns one timeline.
func (e *Engine) Get(st *store.State, cycleID string) (*contracts.Timeline, error) {
	timeline, ok := st.Timelines[cycleID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "cycle %s not found", cycleID)
	}
	return timeline, nil
}

// Start opens the deposit window: initial → escrow.pending. The backing
// proposal must hold an accepted commit and must not have expired.
func (e *Engine) Start(st *store.State, auth *contracts.AuthContext, cycleID string, window time.Duration) (*contracts.Timeline, error) {
	timeline, err := e.at(st, cycleID, contracts.StateInitial, "start")
	if err != nil {
		return nil, err
	}
	commit, ok := st.Commits[timeline.ProposalID]
	if !ok || commit.Phase != contracts.CommitAccepted {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "proposal %s has no accepted commit", timeline.ProposalID)
	}
	proposal, ok := st.Proposals[timeline.ProposalID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "proposal %s not found", timeline.ProposalID)
	}
	now := e.now().UTC()
	if proposal.Expired(now) {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "proposal %s expired", proposal.ID).
			WithReason(contracts.ReasonProposalExpired)
	}
	if window <= 0 {
		window = DefaultDepositWindow
	}

	timeline.DepositDeadlineAt = now.Add(window)
	if err := e.transition(st, auth.Actor, timeline, contracts.StateEscrowPending); err != nil {
		return nil, err
	}
	return timeline, nil
}

// ConfirmDeposit records one leg's escrow deposit: the asset enters vault
// custody and is reserved for this cycle. The second return is false when
// the same (leg, deposit_ref) was already recorded and nothing changed.
func (e *Engine) ConfirmDeposit(st *store.State, auth *contracts.AuthContext, cycleID, intentID, depositRef string) (*contracts.Timeline, bool, error) {
	if depositRef == "" {
		return nil, false, contracts.NewError(contracts.CodeValidation, "deposit_ref required")
	}
	timeline, err := e.at(st, cycleID, contracts.StateEscrowPending, "deposit_confirmed")
	if err != nil {
		return nil, false, err
	}
	now := e.now().UTC()
	if !timeline.DepositDeadlineAt.IsZero() && !now.Before(timeline.DepositDeadlineAt) {
		return nil, false, contracts.Errorf(contracts.CodeInvalidState, "deposit window for cycle %s closed at %s", cycleID, timeline.DepositDeadlineAt.Format(time.RFC3339)).
			WithReason(contracts.ReasonDepositWindowExpired)
	}

	leg := timeline.Leg(intentID)
	if leg == nil {
		return nil, false, contracts.Errorf(contracts.CodeNotFound, "cycle %s has no leg for intent %s", cycleID, intentID)
	}
	if err := confirmerAllowed(auth, leg); err != nil {
		return nil, false, err
	}

	switch leg.Status {
	case contracts.LegDeposited:
		if leg.DepositRef == depositRef {
			return timeline, false, nil
		}
		return nil, false, contracts.Errorf(contracts.CodeConflict, "leg %s already confirmed with ref %s", intentID, leg.DepositRef).
			WithDetail("deposit_ref", leg.DepositRef)
	case contracts.LegPending:
		// confirmable
	default:
		return nil, false, contracts.Errorf(contracts.CodeInvalidState, "leg %s is %s", intentID, leg.Status)
	}

	holding, err := e.vault.Deposit(st, leg.FromActor, escrowVaultID(cycleID), leg.AssetID)
	if err != nil {
		return nil, false, err
	}
	reserved, err := e.vault.Reserve(st, leg.FromActor, holding.HoldingID, cycleID)
	if err != nil {
		return nil, false, err
	}

	leg.Status = contracts.LegDeposited
	leg.DepositRef = depositRef
	leg.ConfirmedAt = now
	leg.VaultHoldingID = holding.HoldingID
	leg.VaultReservationID = reserved.ReservationID
	timeline.UpdatedAt = now

	if timeline.PendingLegs() == 0 {
		if err := e.transition(st, auth.Actor, timeline, contracts.StateEscrowReady); err != nil {
			return nil, false, err
		}
	}
	if err := e.emit(st, auth.Actor, contracts.EventDepositConfirmed, cycleID, map[string]any{
		"cycle_id":    cycleID,
		"intent_id":   intentID,
		"deposit_ref": depositRef,
		"holding_id":  holding.HoldingID,
	}); err != nil {
		return nil, false, err
	}
	return timeline, true, nil
}

// ExpireDepositWindow closes an overdue deposit window: escrow.pending →
// expired, with a failed receipt and all reservations released.
func (e *Engine) ExpireDepositWindow(st *store.State, auth *contracts.AuthContext, cycleID string) (*contracts.Timeline, error) {
	timeline, err := e.at(st, cycleID, contracts.StateEscrowPending, "expire_deposit_window")
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	if timeline.DepositDeadlineAt.IsZero() || now.Before(timeline.DepositDeadlineAt) {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "deposit window for cycle %s still open until %s", cycleID, timeline.DepositDeadlineAt.Format(time.RFC3339))
	}

	e.vault.ReleaseForCycle(st, cycleID)
	for i := range timeline.Legs {
		if timeline.Legs[i].Status == contracts.LegDeposited {
			timeline.Legs[i].Status = contracts.LegFailed
		}
	}
	if err := e.transition(st, auth.Actor, timeline, contracts.StateExpired); err != nil {
		return nil, err
	}
	if err := e.issueReceipt(st, auth.Actor, timeline, contracts.ReceiptFailed, map[string]any{
		"reason_code": contracts.ReasonDepositWindowExpired,
	}); err != nil {
		return nil, err
	}
	return timeline, nil
}

// BeginExecution moves a fully escrowed cycle into execution.
func (e *Engine) BeginExecution(st *store.State, auth *contracts.AuthContext, cycleID string) (*contracts.Timeline, error) {
	timeline, err := e.at(st, cycleID, contracts.StateEscrowReady, "begin_execution")
	if err != nil {
		return nil, err
	}
	if err := e.transition(st, auth.Actor, timeline, contracts.StateExecuting); err != nil {
		return nil, err
	}
	return timeline, nil
}

// Complete finishes execution: every holding leaves custody toward its
// recipient, legs release, intents consume, and the completed receipt is
// signed and journaled.
func (e *Engine) Complete(st *store.State, auth *contracts.AuthContext, cycleID string) (*contracts.Timeline, error) {
	timeline, err := e.at(st, cycleID, contracts.StateExecuting, "complete")
	if err != nil {
		return nil, err
	}
	for i := range timeline.Legs {
		if err := e.releasableLeg(st, cycleID, &timeline.Legs[i]); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	for i := range timeline.Legs {
		leg := &timeline.Legs[i]
		if _, err := e.vault.Release(st, engineActor, leg.VaultHoldingID); err != nil {
			return nil, err
		}
		if _, err := e.vault.Withdraw(st, engineActor, leg.VaultHoldingID); err != nil {
			return nil, err
		}
		leg.Status = contracts.LegReleased
		if intent, ok := st.Intents[leg.IntentID]; ok {
			intent.Status = contracts.IntentConsumed
			intent.UpdatedAt = now
		}
	}

	if err := e.transition(st, auth.Actor, timeline, contracts.StateCompleted); err != nil {
		return nil, err
	}
	if err := e.issueReceipt(st, auth.Actor, timeline, contracts.ReceiptCompleted, nil); err != nil {
		return nil, err
	}
	return timeline, nil
}

// Fail aborts execution: reservations release back to their owners and
// the failed receipt is signed and journaled.
func (e *Engine) Fail(st *store.State, auth *contracts.AuthContext, cycleID, reason string) (*contracts.Timeline, error) {
	timeline, err := e.at(st, cycleID, contracts.StateExecuting, "fail")
	if err != nil {
		return nil, err
	}

	e.vault.ReleaseForCycle(st, cycleID)
	for i := range timeline.Legs {
		timeline.Legs[i].Status = contracts.LegFailed
	}
	if err := e.transition(st, auth.Actor, timeline, contracts.StateFailed); err != nil {
		return nil, err
	}
	transparency := map[string]any{}
	if reason != "" {
		transparency["reason"] = reason
	}
	if err := e.issueReceipt(st, auth.Actor, timeline, contracts.ReceiptFailed, transparency); err != nil {
		return nil, err
	}
	return timeline, nil
}

// at fetches the timeline and enforces the transition table's source
// state for the named operation.
func (e *Engine) at(st *store.State, cycleID string, want contracts.TimelineState, op string) (*contracts.Timeline, error) {
	timeline, err := e.Get(st, cycleID)
	if err != nil {
		return nil, err
	}
	if timeline.State.Terminal() {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "cycle %s is %s", cycleID, timeline.State).
			WithReason(contracts.ReasonTerminalState)
	}
	if timeline.State != want {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "%s requires state %s, cycle %s is %s", op, want, cycleID, timeline.State)
	}
	return timeline, nil
}

func (e *Engine) transition(st *store.State, actor contracts.ActorRef, timeline *contracts.Timeline, to contracts.TimelineState) error {
	from := timeline.State
	timeline.State = to
	timeline.UpdatedAt = e.now().UTC()
	e.log.Info("state changed", "cycle_id", timeline.CycleID, "from", string(from), "to", string(to))
	return e.emit(st, actor, contracts.EventTimelineState, timeline.CycleID, map[string]any{
		"cycle_id": timeline.CycleID,
		"from":     string(from),
		"to":       string(to),
	})
}

func (e *Engine) emit(st *store.State, actor contracts.ActorRef, eventType, correlationID string, payload map[string]any) error {
	_, _, err := e.outbox.Append(st, actor, eventType, correlationID, payload)
	return err
}

func (e *Engine) releasableLeg(st *store.State, cycleID string, leg *contracts.TimelineLeg) error {
	if leg.Status != contracts.LegDeposited || leg.VaultHoldingID == "" {
		return contracts.Errorf(contracts.CodeInvalidState, "leg %s is %s, not releasable", leg.IntentID, leg.Status)
	}
	holding, err := e.vault.Get(st, leg.VaultHoldingID)
	if err != nil {
		return err
	}
	if holding.Status != contracts.HoldingReserved || holding.SettlementCycleID != cycleID {
		return contracts.Errorf(contracts.CodeInvalidState, "holding %s is not reserved for cycle %s", holding.HoldingID, cycleID)
	}
	return nil
}

// confirmerAllowed enforces the per-leg rule: the leg's from_actor, a
// delegate holding settlement:deposit for that actor, or an elevated
// principal.
func confirmerAllowed(auth *contracts.AuthContext, leg *contracts.TimelineLeg) error {
	if auth.Actor.Equal(leg.FromActor) {
		return nil
	}
	if auth.Delegated() &&
		auth.HasScope(contracts.ScopeSettlementDeposit) &&
		auth.Delegation.PrincipalActor.Equal(leg.FromActor) {
		return nil
	}
	if auth.Elevated() && !auth.Delegated() {
		return nil
	}
	return contracts.Errorf(contracts.CodeForbidden, "actor %s cannot confirm the leg owned by %s",
		auth.Actor.Fingerprint(), leg.FromActor.Fingerprint())
}

func escrowVaultID(cycleID string) string {
	return "escrow_" + cycleID
}
