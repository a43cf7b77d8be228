package service

import (
	"sort"

	"github.com/google/uuid"

	"github.com/loopworks/rotor/pkg/contracts"
)

func (s *Service) opProposalAccept(o *opContext) (map[string]any, error) {
	proposal, err := s.loadProposal(o)
	if err != nil {
		return nil, err
	}
	if err := acceptorAllowed(o.auth, proposal); err != nil {
		return nil, err
	}
	if existing, ok := o.st.Commits[proposal.ID]; ok {
		return nil, contracts.Errorf(contracts.CodeConflict, "proposal %s already %s", proposal.ID, existing.Phase)
	}
	if proposal.Expired(o.now) {
		return nil, contracts.Errorf(contracts.CodeInvalidState, "proposal %s expired", proposal.ID).
			WithReason(contracts.ReasonProposalExpired)
	}
	for _, intentID := range proposal.IntentIDs() {
		intent, ok := o.st.Intents[intentID]
		if !ok {
			return nil, contracts.Errorf(contracts.CodeNotFound, "intent %s behind proposal %s not found", intentID, proposal.ID)
		}
		if !intent.Matchable() {
			return nil, contracts.Errorf(contracts.CodeConflict, "intent %s is %s, no longer matchable", intentID, intent.Status)
		}
	}

	commit := &contracts.Commit{
		ID:            "cmt_" + uuid.New().String(),
		ProposalID:    proposal.ID,
		Phase:         contracts.CommitAccepted,
		AcceptorActor: o.auth.Actor,
		OccurredAt:    o.now,
	}
	o.st.Commits[proposal.ID] = commit
	for _, intentID := range proposal.IntentIDs() {
		intent := o.st.Intents[intentID]
		intent.Status = contracts.IntentMatched
		intent.UpdatedAt = o.now
	}

	timeline, err := s.settlement.InitTimeline(o.st, proposal)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventProposalAccepted, proposal.ID, map[string]any{
		"proposal_id": proposal.ID,
		"cycle_id":    timeline.CycleID,
	}); err != nil {
		return nil, err
	}

	body, err := asBody("commit", commit)
	if err != nil {
		return nil, err
	}
	tl, err := asBody("timeline", timeline)
	if err != nil {
		return nil, err
	}
	body["timeline"] = tl["timeline"]
	return body, nil
}

func (s *Service) opProposalReject(o *opContext) (map[string]any, error) {
	proposal, err := s.loadProposal(o)
	if err != nil {
		return nil, err
	}
	if err := acceptorAllowed(o.auth, proposal); err != nil {
		return nil, err
	}
	if existing, ok := o.st.Commits[proposal.ID]; ok {
		return nil, contracts.Errorf(contracts.CodeConflict, "proposal %s already %s", proposal.ID, existing.Phase)
	}

	commit := &contracts.Commit{
		ID:            "cmt_" + uuid.New().String(),
		ProposalID:    proposal.ID,
		Phase:         contracts.CommitRejected,
		AcceptorActor: o.auth.Actor,
		OccurredAt:    o.now,
	}
	o.st.Commits[proposal.ID] = commit
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventProposalRejected, proposal.ID, map[string]any{
		"proposal_id": proposal.ID,
	}); err != nil {
		return nil, err
	}
	return asBody("commit", commit)
}

func (s *Service) opProposalGet(o *opContext) (map[string]any, error) {
	proposal, err := s.loadProposal(o)
	if err != nil {
		return nil, err
	}
	body, err := asBody("proposal", proposal)
	if err != nil {
		return nil, err
	}
	body["expired"] = proposal.Expired(o.now)
	if commit, ok := o.st.Commits[proposal.ID]; ok {
		body["phase"] = string(commit.Phase)
	}
	return body, nil
}

func (s *Service) opProposalList(o *opContext) (map[string]any, error) {
	tenant := o.tenant()
	out := make([]*contracts.CycleProposal, 0)
	for _, proposal := range o.st.Proposals {
		if tenant != "" && o.st.PartnerForProposal(proposal.ID) != tenant {
			continue
		}
		out = append(out, proposal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	body, err := asBody("proposals", out)
	if err != nil {
		return nil, err
	}
	body["total"] = len(out)
	return body, nil
}

func (s *Service) opProposalIngestWebhook(o *opContext) (map[string]any, error) {
	var params struct {
		PartnerID string                  `json:"partner_id"`
		Proposal  contracts.CycleProposal `json:"proposal"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if err := o.authorizeResource(params.PartnerID, nil); err != nil {
		return nil, err
	}
	proposal := params.Proposal
	if len(proposal.Participants) != len(proposal.Legs) {
		return nil, contracts.NewError(contracts.CodeValidation, "participants and legs must pair one to one")
	}

	// Webhook deliveries retry; the proposal ID is the dedup key.
	if existing, ok := o.st.Proposals[proposal.ID]; ok {
		body, err := asBody("proposal", existing)
		if err != nil {
			return nil, err
		}
		body["ingested"] = false
		return body, nil
	}

	proposal.PartnerID = params.PartnerID
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = o.now
	}
	o.st.Proposals[proposal.ID] = &proposal
	o.st.TagProposalTenancy(proposal.ID, params.PartnerID)

	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventProposalCreated, proposal.ID, map[string]any{
		"proposal_id": proposal.ID,
		"partner_id":  params.PartnerID,
		"source":      "webhook",
	}); err != nil {
		return nil, err
	}
	body, err := asBody("proposal", &proposal)
	if err != nil {
		return nil, err
	}
	body["ingested"] = true
	return body, nil
}

func (s *Service) loadProposal(o *opContext) (*contracts.CycleProposal, error) {
	var params struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	proposal, ok := o.st.Proposals[params.ProposalID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "proposal %s not found", params.ProposalID)
	}
	if partner := o.st.PartnerForProposal(proposal.ID); partner != "" {
		if err := o.authorizeResource(partner, nil); err != nil {
			return nil, err
		}
	}
	return proposal, nil
}

// acceptorAllowed admits cycle participants, delegates of a participant,
// and elevated principals.
func acceptorAllowed(auth *contracts.AuthContext, proposal *contracts.CycleProposal) error {
	for _, participant := range proposal.Participants {
		if auth.Actor.Equal(participant) {
			return nil
		}
		if auth.Delegated() && auth.Delegation.PrincipalActor.Equal(participant) {
			return nil
		}
	}
	if auth.Elevated() && !auth.Delegated() {
		return nil
	}
	return contracts.Errorf(contracts.CodeForbidden, "actor %s is not a participant of proposal %s",
		auth.Actor.Fingerprint(), proposal.ID)
}
