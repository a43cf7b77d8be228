// Package partner manages the partner program: enrollment records, the
// per-partner vault-export rollout policy with its audit journal, and
// metered usage.
//
// Rollout policy writes append to the partner_rollout_policy_audit
// journal and fold its attestation chain, so every policy change is
// tamper-evident and exportable.
package partner

import (
	"log/slog"
	"time"

	"github.com/loopworks/rotor/pkg/attest"
	"github.com/loopworks/rotor/pkg/auth"
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/store"
)

// Service applies partner-program mutations to the state tree.
type Service struct {
	now func() time.Time
	log *slog.Logger
}

func NewService() *Service {
	return &Service{
		now: time.Now,
		log: slog.Default().With("component", "partner"),
	}
}

// WithClock overrides the timestamp source. Useful in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enroll registers a partner in the program or reactivates a suspended
// record. Tier defaults to "standard".
func (s *Service) Enroll(st *store.State, partnerID, tier string) (*contracts.Program, error) {
	if partnerID == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "partner_id required")
	}
	if tier == "" {
		tier = "standard"
	}
	program, ok := st.PartnerProgram[partnerID]
	if !ok {
		program = &contracts.Program{
			PartnerID:  partnerID,
			Tier:       tier,
			Status:     contracts.ProgramActive,
			EnrolledAt: s.now().UTC(),
		}
		st.PartnerProgram[partnerID] = program
		s.log.Info("partner enrolled", "partner_id", partnerID, "tier", tier)
		return program, nil
	}
	program.Tier = tier
	program.Status = contracts.ProgramActive
	return program, nil
}

// Get returns one enrollment record.
func (s *Service) Get(st *store.State, partnerID string) (*contracts.Program, error) {
	program, ok := st.PartnerProgram[partnerID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "partner %s is not enrolled", partnerID)
	}
	return program, nil
}

// RequireEnrolled gates an operation on active enrollment. Callers check
// the relevant enforcement flag before invoking it.
func (s *Service) RequireEnrolled(st *store.State, partnerID string) error {
	program, ok := st.PartnerProgram[partnerID]
	if !ok || program.Status != contracts.ProgramActive {
		return contracts.Errorf(contracts.CodeFeatureDisabled, "partner %s is not enrolled in the program", partnerID).
			WithReason(contracts.ReasonNotEnrolled)
	}
	return nil
}

// RecordUsage appends one metered usage record and folds the usage
// journal chain.
func (s *Service) RecordUsage(st *store.State, partnerID, metric string, quantity int64) (*contracts.UsageRecord, error) {
	if partnerID == "" || metric == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "partner_id and metric required")
	}
	if quantity <= 0 {
		return nil, contracts.NewError(contracts.CodeValidation, "quantity must be positive")
	}
	if _, err := s.Get(st, partnerID); err != nil {
		return nil, err
	}
	rec := &contracts.UsageRecord{
		PartnerID:  partnerID,
		Metric:     metric,
		Quantity:   quantity,
		RecordedAt: s.now().UTC(),
	}
	st.AppendUsage(rec)
	if err := foldJournal(st, store.JournalUsage, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertRolloutPolicy writes a partner's vault-export rollout policy,
// bumping its revision and appending the audit entry. While the freeze
// enforcement flag is set, a frozen policy refuses further upserts.
func (s *Service) UpsertRolloutPolicy(st *store.State, actor contracts.ActorRef, policy auth.Policy, partnerID string, phase contracts.RolloutPhase, freeze bool) (*contracts.RolloutPolicy, error) {
	if partnerID == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "partner_id required")
	}
	if !phase.Valid() {
		return nil, contracts.Errorf(contracts.CodeValidation, "invalid rollout phase %q", phase)
	}

	existing := st.PartnerRolloutPolicies[partnerID]
	if existing != nil && existing.Freeze && policy.FreezeExportEnforce {
		return nil, contracts.Errorf(contracts.CodePolicyFrozen, "rollout policy for partner %s is frozen", partnerID).
			WithReason(contracts.ReasonFreezeActive).
			WithDetail("revision", existing.Revision)
	}

	now := s.now().UTC()
	next := &contracts.RolloutPolicy{
		PartnerID: partnerID,
		Phase:     phase,
		Freeze:    freeze,
		Revision:  1,
		UpdatedAt: now,
	}
	action := "create"
	if existing != nil {
		next.Revision = existing.Revision + 1
		action = "update"
	}
	st.PartnerRolloutPolicies[partnerID] = next

	entry := &contracts.PolicyAuditEntry{
		PartnerID:  partnerID,
		Action:     action,
		Actor:      actor,
		Policy:     next,
		OccurredAt: now,
	}
	st.AppendPolicyAudit(entry)
	if err := foldJournal(st, store.JournalPolicyAudit, entry); err != nil {
		return nil, err
	}
	s.log.Info("rollout policy upserted",
		"partner_id", partnerID, "phase", string(phase), "revision", next.Revision, "freeze", freeze)
	return next, nil
}

// GetRolloutPolicy returns one partner's rollout policy.
func (s *Service) GetRolloutPolicy(st *store.State, partnerID string) (*contracts.RolloutPolicy, error) {
	policy, ok := st.PartnerRolloutPolicies[partnerID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "partner %s has no rollout policy", partnerID)
	}
	return policy, nil
}

func foldJournal(st *store.State, journal string, entry any) error {
	head := st.ChainHeadFor(journal)
	next, err := attest.NextHash(head.Head, entry)
	if err != nil {
		return contracts.Errorf(contracts.CodeInternal, "fold %s chain: %v", journal, err)
	}
	st.SetChainHead(journal, next, head.Length+1)
	return nil
}
