package service

import (
	"sort"

	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/matching"
)

func (s *Service) opMatchingRun(o *opContext) (map[string]any, error) {
	var params struct {
		AssetValues map[string]int64 `json:"asset_values"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}

	pool := make([]*contracts.SwapIntent, 0, len(o.st.Intents))
	for _, intent := range o.st.Intents {
		if intent.Matchable() {
			pool = append(pool, intent)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	result, err := s.matcher.Run(matching.Input{
		Intents:     pool,
		AssetValues: params.AssetValues,
		Now:         o.now,
	})
	if err != nil {
		return nil, err
	}

	stored := make([]*contracts.CycleProposal, 0, len(result.Proposals))
	for _, proposal := range result.Proposals {
		// Re-running over an unchanged pool regenerates the same IDs;
		// existing proposals stay as they are.
		if _, exists := o.st.Proposals[proposal.ID]; exists {
			continue
		}
		proposal.PartnerID = sharedPartner(o.st.Intents, proposal)
		o.st.Proposals[proposal.ID] = proposal
		o.st.TagProposalTenancy(proposal.ID, proposal.PartnerID)
		stored = append(stored, proposal)

		if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventProposalCreated, proposal.ID, map[string]any{
			"proposal_id": proposal.ID,
			"cycle_key":   proposal.CycleKey(),
			"score":       proposal.Score,
		}); err != nil {
			return nil, err
		}
	}

	body, err := asBody("proposals", stored)
	if err != nil {
		return nil, err
	}
	body["considered"] = result.Considered
	body["selected"] = len(result.Proposals)
	body["timeout_reached"] = result.TimeoutReached
	body["cycle_cap_reached"] = result.CycleCapReached
	return body, nil
}

func (s *Service) opMatchingShadowRecords(o *opContext) (map[string]any, error) {
	return asBody("records", s.matcher.Records())
}

// sharedPartner assigns a proposal to a partner only when every
// participating intent belongs to that same partner.
func sharedPartner(intents map[string]*contracts.SwapIntent, proposal *contracts.CycleProposal) string {
	partner := ""
	for i, intentID := range proposal.IntentIDs() {
		intent, ok := intents[intentID]
		if !ok {
			return ""
		}
		if i == 0 {
			partner = intent.PartnerID
			continue
		}
		if intent.PartnerID != partner {
			return ""
		}
	}
	return partner
}
