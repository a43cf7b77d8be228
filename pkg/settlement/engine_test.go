package settlement

import (
	"testing"
	"time"

	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/crypto"
	"github.com/loopworks/rotor/pkg/outbox"
	"github.com/loopworks/rotor/pkg/store"
	"github.com/loopworks/rotor/pkg/vault"
)

var (
	alice    = contracts.ActorRef{Type: contracts.ActorUser, ID: "alice"}
	bob      = contracts.ActorRef{Type: contracts.ActorUser, ID: "bob"}
	carol    = contracts.ActorRef{Type: contracts.ActorUser, ID: "carol"}
	operator = contracts.ActorRef{Type: contracts.ActorAdmin, ID: "ops"}
)

type fixture struct {
	engine *Engine
	keys   *crypto.KeySet
	ledger *vault.Ledger
	st     *store.State
	at     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keys := crypto.NewKeySet()
	if _, err := keys.Generate("settle-key-1"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	f := &fixture{
		keys: keys,
		st:   store.NewState(),
		at:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.at }
	f.ledger = vault.NewLedger().WithClock(now)
	ob := outbox.New(keys).WithClock(now)
	f.engine = NewEngine(keys, f.ledger, ob).WithClock(now)
	return f
}

func (f *fixture) advance(d time.Duration) { f.at = f.at.Add(d) }

// acceptedCycle seeds a three-party proposal with an accepted commit and
// matched intents, then creates its timeline.
func (f *fixture) acceptedCycle(t *testing.T) *contracts.Timeline {
	t.Helper()
	proposal := &contracts.CycleProposal{
		ID:           "prop_1",
		Participants: []contracts.ActorRef{alice, bob, carol},
		Legs: []contracts.CycleLeg{
			{FromActor: alice, ToActor: bob, IntentID: "int_a", AssetID: "asset_a"},
			{FromActor: bob, ToActor: carol, IntentID: "int_b", AssetID: "asset_b"},
			{FromActor: carol, ToActor: alice, IntentID: "int_c", AssetID: "asset_c"},
		},
		Score:     0.7,
		ExpiresAt: f.at.Add(time.Hour),
		CreatedAt: f.at,
	}
	f.st.Proposals[proposal.ID] = proposal
	f.st.Commits[proposal.ID] = &contracts.Commit{
		ID:            "cmt_1",
		ProposalID:    proposal.ID,
		Phase:         contracts.CommitAccepted,
		AcceptorActor: alice,
		OccurredAt:    f.at,
	}
	for _, leg := range proposal.Legs {
		f.st.Intents[leg.IntentID] = &contracts.SwapIntent{
			ID:        leg.IntentID,
			Actor:     leg.FromActor,
			Offer:     []contracts.AssetRef{{AssetID: leg.AssetID}},
			Status:    contracts.IntentMatched,
			CreatedAt: f.at,
			UpdatedAt: f.at,
		}
	}
	timeline, err := f.engine.InitTimeline(f.st, proposal)
	if err != nil {
		t.Fatalf("InitTimeline failed: %v", err)
	}
	return timeline
}

func authFor(actor contracts.ActorRef) *contracts.AuthContext {
	return &contracts.AuthContext{Actor: actor, Scopes: map[string]bool{}}
}

func requireCode(t *testing.T, err error, code contracts.Code, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	coded := contracts.AsError(err)
	if coded.Code != code {
		t.Fatalf("code = %s, want %s (%v)", coded.Code, code, err)
	}
	if reason != "" && coded.Details["reason_code"] != reason {
		t.Fatalf("reason_code = %v, want %s", coded.Details["reason_code"], reason)
	}
}

func eventTypes(st *store.State) []string {
	out := make([]string, len(st.Events))
	for i, env := range st.Events {
		out[i] = env.Type
	}
	return out
}

func TestInitTimeline(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	if timeline.State != contracts.StateInitial {
		t.Fatalf("state = %s, want initial", timeline.State)
	}
	if timeline.ProposalID != "prop_1" {
		t.Fatalf("proposal_id = %s", timeline.ProposalID)
	}
	if len(timeline.Legs) != 3 {
		t.Fatalf("legs = %d, want 3", len(timeline.Legs))
	}
	for i, want := range []string{"int_a", "int_b", "int_c"} {
		leg := timeline.Legs[i]
		if leg.IntentID != want || leg.Status != contracts.LegPending {
			t.Fatalf("leg %d = %+v", i, leg)
		}
	}
	if f.st.Timelines[timeline.CycleID] != timeline {
		t.Fatal("timeline not stored under its cycle ID")
	}
}

func TestStartOpensDepositWindow(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	got, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, 2*time.Hour)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got.State != contracts.StateEscrowPending {
		t.Fatalf("state = %s, want escrow.pending", got.State)
	}
	if want := f.at.Add(2 * time.Hour); !got.DepositDeadlineAt.Equal(want) {
		t.Fatalf("deadline = %s, want %s", got.DepositDeadlineAt, want)
	}
	if types := eventTypes(f.st); len(types) != 1 || types[0] != contracts.EventTimelineState {
		t.Fatalf("events = %v", types)
	}
}

func TestStartDefaultsDepositWindow(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	got, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, 0)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if want := f.at.Add(DefaultDepositWindow); !got.DepositDeadlineAt.Equal(want) {
		t.Fatalf("deadline = %s, want %s", got.DepositDeadlineAt, want)
	}
}

func TestStartRequiresAcceptedCommit(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	delete(f.st.Commits, timeline.ProposalID)
	_, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour)
	requireCode(t, err, contracts.CodeInvalidState, "")

	f.st.Commits[timeline.ProposalID] = &contracts.Commit{
		ID: "cmt_1", ProposalID: timeline.ProposalID, Phase: contracts.CommitRejected,
		AcceptorActor: alice, OccurredAt: f.at,
	}
	_, err = f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour)
	requireCode(t, err, contracts.CodeInvalidState, "")
}

func TestStartExpiredProposal(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	f.advance(2 * time.Hour)
	_, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour)
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonProposalExpired)
}

func TestConfirmDeposit(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	got, applied, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1")
	if err != nil || !applied {
		t.Fatalf("ConfirmDeposit = (%v, %v), want applied", err, applied)
	}
	if got.State != contracts.StateEscrowPending {
		t.Fatalf("state = %s, two legs still pending", got.State)
	}
	leg := got.Leg("int_a")
	if leg.Status != contracts.LegDeposited || leg.DepositRef != "txn-a-1" {
		t.Fatalf("leg = %+v", leg)
	}
	if leg.VaultHoldingID == "" || leg.VaultReservationID == "" {
		t.Fatalf("leg missing vault references: %+v", leg)
	}

	holding, err := f.ledger.Get(f.st, leg.VaultHoldingID)
	if err != nil {
		t.Fatalf("Get holding failed: %v", err)
	}
	if holding.Status != contracts.HoldingReserved || holding.SettlementCycleID != timeline.CycleID {
		t.Fatalf("holding = %+v, want reserved for %s", holding, timeline.CycleID)
	}
	if !holding.OwnerActor.Equal(alice) {
		t.Fatalf("holding owner = %+v, want alice", holding.OwnerActor)
	}

	types := eventTypes(f.st)
	if len(types) != 2 || types[1] != contracts.EventDepositConfirmed {
		t.Fatalf("events = %v", types)
	}
}

func TestConfirmDepositReplay(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1"); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	events := len(f.st.Events)
	holdings := len(f.st.VaultHoldings)

	got, applied, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if applied {
		t.Fatal("replay of the same (leg, ref) must be a no-op")
	}
	if got.Leg("int_a").Status != contracts.LegDeposited {
		t.Fatalf("leg = %+v", got.Leg("int_a"))
	}
	if len(f.st.Events) != events || len(f.st.VaultHoldings) != holdings {
		t.Fatal("replay must not append events or holdings")
	}
}

func TestConfirmDepositConflictingRef(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1"); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}

	_, _, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-2")
	requireCode(t, err, contracts.CodeConflict, "")
}

func TestConfirmDepositActorChecks(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Another participant cannot confirm alice's leg.
	_, _, err := f.engine.ConfirmDeposit(f.st, authFor(bob), timeline.CycleID, "int_a", "txn-a-1")
	requireCode(t, err, contracts.CodeForbidden, "")

	// A delegate of alice with the deposit scope can.
	relay := contracts.ActorRef{Type: contracts.ActorService, ID: "relay"}
	delegated := &contracts.AuthContext{
		Actor:      relay,
		Scopes:     map[string]bool{contracts.ScopeSettlementDeposit: true},
		Delegation: &contracts.DelegationGrant{PrincipalActor: alice, DelegateActor: relay},
	}
	if _, _, err := f.engine.ConfirmDeposit(f.st, delegated, timeline.CycleID, "int_a", "txn-a-1"); err != nil {
		t.Fatalf("delegated confirm failed: %v", err)
	}

	// The same delegate cannot confirm bob's leg: wrong principal.
	_, _, err = f.engine.ConfirmDeposit(f.st, delegated, timeline.CycleID, "int_b", "txn-b-1")
	requireCode(t, err, contracts.CodeForbidden, "")

	// A delegate without the deposit scope is refused even for its principal.
	bare := &contracts.AuthContext{
		Actor:      relay,
		Scopes:     map[string]bool{},
		Delegation: &contracts.DelegationGrant{PrincipalActor: bob, DelegateActor: relay},
	}
	_, _, err = f.engine.ConfirmDeposit(f.st, bare, timeline.CycleID, "int_b", "txn-b-1")
	requireCode(t, err, contracts.CodeForbidden, "")

	// Admins confirm any leg.
	if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(operator), timeline.CycleID, "int_b", "txn-b-1"); err != nil {
		t.Fatalf("admin confirm failed: %v", err)
	}
}

func TestConfirmAllLegsReachesEscrowReady(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	confirm := func(actor contracts.ActorRef, intentID, ref string) {
		t.Helper()
		if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(actor), timeline.CycleID, intentID, ref); err != nil {
			t.Fatalf("ConfirmDeposit %s failed: %v", intentID, err)
		}
	}
	confirm(alice, "int_a", "txn-a-1")
	confirm(bob, "int_b", "txn-b-1")
	if timeline.State != contracts.StateEscrowPending {
		t.Fatalf("state = %s before last leg", timeline.State)
	}
	confirm(carol, "int_c", "txn-c-1")

	if timeline.State != contracts.StateEscrowReady {
		t.Fatalf("state = %s, want escrow.ready", timeline.State)
	}

	// The last confirmation orders its state change before the deposit event.
	types := eventTypes(f.st)
	want := []string{
		contracts.EventTimelineState,    // start
		contracts.EventDepositConfirmed, // int_a
		contracts.EventDepositConfirmed, // int_b
		contracts.EventTimelineState,    // escrow.pending -> escrow.ready
		contracts.EventDepositConfirmed, // int_c
	}
	if len(types) != len(want) {
		t.Fatalf("events = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (%v)", i, types[i], want[i], types)
		}
	}
}

func TestConfirmDepositAfterDeadline(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Minute); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	f.advance(time.Minute)
	_, _, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1")
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonDepositWindowExpired)
}

func TestExpireDepositWindow(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Minute); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(alice), timeline.CycleID, "int_a", "txn-a-1"); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	holdingID := timeline.Leg("int_a").VaultHoldingID

	// Still open: refuse.
	_, err := f.engine.ExpireDepositWindow(f.st, authFor(operator), timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, "")

	f.advance(time.Minute)
	got, err := f.engine.ExpireDepositWindow(f.st, authFor(operator), timeline.CycleID)
	if err != nil {
		t.Fatalf("ExpireDepositWindow failed: %v", err)
	}
	if got.State != contracts.StateExpired {
		t.Fatalf("state = %s, want expired", got.State)
	}
	if got.Leg("int_a").Status != contracts.LegFailed {
		t.Fatalf("deposited leg = %+v, want failed", got.Leg("int_a"))
	}

	holding, err := f.ledger.Get(f.st, holdingID)
	if err != nil {
		t.Fatalf("Get holding failed: %v", err)
	}
	if holding.Status != contracts.HoldingReleased || holding.SettlementCycleID != "" {
		t.Fatalf("holding = %+v, want released", holding)
	}

	receipt, ok := f.st.ReceiptForCycle(timeline.CycleID)
	if !ok {
		t.Fatal("expiry must issue a receipt")
	}
	if receipt.FinalState != contracts.ReceiptFailed {
		t.Fatalf("final_state = %s, want failed", receipt.FinalState)
	}
	if got, _ := receipt.Transparency["reason_code"].(string); got != contracts.ReasonDepositWindowExpired {
		t.Fatalf("transparency = %v", receipt.Transparency)
	}
	if err := VerifyReceipt(f.keys, receipt); err != nil {
		t.Fatalf("VerifyReceipt failed: %v", err)
	}
}

func TestBeginExecution(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)

	// Wrong state first.
	_, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, "")

	f.driveToEscrowReady(t, timeline)
	got, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID)
	if err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}
	if got.State != contracts.StateExecuting {
		t.Fatalf("state = %s, want executing", got.State)
	}
}

func (f *fixture) driveToEscrowReady(t *testing.T, timeline *contracts.Timeline) {
	t.Helper()
	if _, err := f.engine.Start(f.st, authFor(operator), timeline.CycleID, time.Hour); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for _, c := range []struct {
		actor    contracts.ActorRef
		intentID string
		ref      string
	}{
		{alice, "int_a", "txn-a-1"},
		{bob, "int_b", "txn-b-1"},
		{carol, "int_c", "txn-c-1"},
	} {
		if _, _, err := f.engine.ConfirmDeposit(f.st, authFor(c.actor), timeline.CycleID, c.intentID, c.ref); err != nil {
			t.Fatalf("ConfirmDeposit %s failed: %v", c.intentID, err)
		}
	}
}

func TestCompleteHappyPath(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	f.driveToEscrowReady(t, timeline)
	if _, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}

	got, err := f.engine.Complete(f.st, authFor(operator), timeline.CycleID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got.State != contracts.StateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	for _, leg := range got.Legs {
		if leg.Status != contracts.LegReleased {
			t.Fatalf("leg = %+v, want released", leg)
		}
		holding, err := f.ledger.Get(f.st, leg.VaultHoldingID)
		if err != nil {
			t.Fatalf("Get holding failed: %v", err)
		}
		if holding.Status != contracts.HoldingWithdrawn || holding.WithdrawnAt.IsZero() {
			t.Fatalf("holding = %+v, want withdrawn", holding)
		}
	}
	for _, id := range []string{"int_a", "int_b", "int_c"} {
		if f.st.Intents[id].Status != contracts.IntentConsumed {
			t.Fatalf("intent %s = %s, want consumed", id, f.st.Intents[id].Status)
		}
	}

	receipt, ok := f.st.ReceiptForCycle(timeline.CycleID)
	if !ok {
		t.Fatal("completion must issue a receipt")
	}
	if receipt.ID != "receipt_"+timeline.CycleID {
		t.Fatalf("receipt ID = %s", receipt.ID)
	}
	if receipt.FinalState != contracts.ReceiptCompleted {
		t.Fatalf("final_state = %s", receipt.FinalState)
	}
	wantIntents := []string{"int_a", "int_b", "int_c"}
	wantAssets := []string{"asset_a", "asset_b", "asset_c"}
	for i := range wantIntents {
		if receipt.IntentIDs[i] != wantIntents[i] || receipt.AssetIDs[i] != wantAssets[i] {
			t.Fatalf("receipt ordering: %v / %v", receipt.IntentIDs, receipt.AssetIDs)
		}
	}
	if err := VerifyReceipt(f.keys, receipt); err != nil {
		t.Fatalf("VerifyReceipt failed: %v", err)
	}

	// Receipts journal chains from genesis.
	head := f.st.ChainHeadFor(store.JournalReceipts)
	if head.Length != 1 {
		t.Fatalf("receipts chain length = %d", head.Length)
	}
	entries, err := f.st.JournalEntries(store.JournalReceipts)
	if err != nil {
		t.Fatalf("JournalEntries failed: %v", err)
	}
	if ok, detail := attest.VerifyChain(entries, head.Head); !ok {
		t.Fatalf("receipts chain: %s", detail)
	}

	// Terminal receipt is the last event, after the state change.
	types := eventTypes(f.st)
	if types[len(types)-1] != contracts.EventReceiptIssued {
		t.Fatalf("events = %v", types)
	}
	if types[len(types)-2] != contracts.EventTimelineState {
		t.Fatalf("events = %v", types)
	}
}

func TestCompleteRequiresReservedHoldings(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	f.driveToEscrowReady(t, timeline)
	if _, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}

	// Force-release one reservation out from under the cycle.
	if _, err := f.ledger.Release(f.st, operator, timeline.Leg("int_b").VaultHoldingID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	_, err := f.engine.Complete(f.st, authFor(operator), timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, "")
	if timeline.State != contracts.StateExecuting {
		t.Fatalf("state = %s, failed completion must not transition", timeline.State)
	}
}

func TestFailReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	f.driveToEscrowReady(t, timeline)
	if _, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}

	got, err := f.engine.Fail(f.st, authFor(operator), timeline.CycleID, "counterparty default")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if got.State != contracts.StateFailed {
		t.Fatalf("state = %s, want failed", got.State)
	}
	for _, leg := range got.Legs {
		if leg.Status != contracts.LegFailed {
			t.Fatalf("leg = %+v, want failed", leg)
		}
		holding, err := f.ledger.Get(f.st, leg.VaultHoldingID)
		if err != nil {
			t.Fatalf("Get holding failed: %v", err)
		}
		if holding.Status != contracts.HoldingReleased {
			t.Fatalf("holding = %+v, want released", holding)
		}
	}

	receipt, ok := f.st.ReceiptForCycle(timeline.CycleID)
	if !ok {
		t.Fatal("failure must issue a receipt")
	}
	if receipt.FinalState != contracts.ReceiptFailed {
		t.Fatalf("final_state = %s", receipt.FinalState)
	}
	if got, _ := receipt.Transparency["reason"].(string); got != "counterparty default" {
		t.Fatalf("transparency = %v", receipt.Transparency)
	}

	// Intents return to the pool eligibility they had, not consumed.
	for _, id := range []string{"int_a", "int_b", "int_c"} {
		if f.st.Intents[id].Status != contracts.IntentMatched {
			t.Fatalf("intent %s = %s, want matched", id, f.st.Intents[id].Status)
		}
	}
}

func TestTerminalRejectsEverything(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	f.driveToEscrowReady(t, timeline)
	if _, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}
	if _, err := f.engine.Complete(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	auth := authFor(operator)
	_, err := f.engine.Start(f.st, auth, timeline.CycleID, time.Hour)
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
	_, _, err = f.engine.ConfirmDeposit(f.st, auth, timeline.CycleID, "int_a", "txn-x")
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
	_, err = f.engine.BeginExecution(f.st, auth, timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
	_, err = f.engine.Complete(f.st, auth, timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
	_, err = f.engine.Fail(f.st, auth, timeline.CycleID, "late")
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
	_, err = f.engine.ExpireDepositWindow(f.st, auth, timeline.CycleID)
	requireCode(t, err, contracts.CodeInvalidState, contracts.ReasonTerminalState)
}

func TestGetUnknownCycle(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Get(f.st, "cyc_missing")
	requireCode(t, err, contracts.CodeNotFound, "")
}

func TestVerifyReceiptRejectsTamper(t *testing.T) {
	f := newFixture(t)
	timeline := f.acceptedCycle(t)
	f.driveToEscrowReady(t, timeline)
	if _, err := f.engine.BeginExecution(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}
	if _, err := f.engine.Complete(f.st, authFor(operator), timeline.CycleID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	receipt, _ := f.st.ReceiptForCycle(timeline.CycleID)

	forged := *receipt
	forged.FinalState = contracts.ReceiptFailed
	err := VerifyReceipt(f.keys, &forged)
	requireCode(t, err, contracts.CodeSignatureInvalid, "")

	strangers := crypto.NewKeySet()
	if _, err := strangers.Generate("other-key-1"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	err = VerifyReceipt(strangers, receipt)
	requireCode(t, err, contracts.CodeUnknownKeyID, "")
}
