package service

import (
	"sort"

	"github.com/google/uuid"

	"github.com/loopworks/rotor/pkg/contracts"
)

func (s *Service) opIntentsPublish(o *opContext) (map[string]any, error) {
	var params struct {
		IntentID  string               `json:"intent_id"`
		Offer     []contracts.AssetRef `json:"offer"`
		Want      contracts.AssetRef   `json:"want"`
		ValueBand contracts.ValueBand  `json:"value_band"`
		PartnerID string               `json:"partner_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	if params.PartnerID == "" {
		params.PartnerID = o.auth.PartnerTenant
	} else if err := o.authorizeResource(params.PartnerID, nil); err != nil {
		return nil, err
	}

	id := params.IntentID
	if id == "" {
		id = "int_" + uuid.New().String()
	}
	if _, exists := o.st.Intents[id]; exists {
		return nil, contracts.Errorf(contracts.CodeConflict, "intent %s already exists", id)
	}

	intent := &contracts.SwapIntent{
		ID:        id,
		Actor:     o.auth.Actor,
		Offer:     params.Offer,
		Want:      params.Want,
		ValueBand: params.ValueBand,
		Status:    contracts.IntentActive,
		PartnerID: params.PartnerID,
		CreatedAt: o.now,
		UpdatedAt: o.now,
	}
	o.st.Intents[id] = intent

	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventIntentPublished, id, map[string]any{
		"intent_id": id,
		"want":      intent.Want.AssetID,
	}); err != nil {
		return nil, err
	}
	return asBody("intent", intent)
}

func (s *Service) opIntentsCancel(o *opContext) (map[string]any, error) {
	var params struct {
		IntentID string `json:"intent_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	intent, ok := o.st.Intents[params.IntentID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "intent %s not found", params.IntentID)
	}
	if err := intentOwnerAllowed(o.auth, intent); err != nil {
		return nil, err
	}

	switch intent.Status {
	case contracts.IntentCancelled:
		return asBody("intent", intent)
	case contracts.IntentActive:
		// cancellable
	default:
		return nil, contracts.Errorf(contracts.CodeInvalidState, "intent %s is %s", intent.ID, intent.Status)
	}

	intent.Status = contracts.IntentCancelled
	intent.UpdatedAt = o.now
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventIntentCancelled, intent.ID, map[string]any{
		"intent_id": intent.ID,
	}); err != nil {
		return nil, err
	}
	return asBody("intent", intent)
}

func (s *Service) opIntentsGet(o *opContext) (map[string]any, error) {
	var params struct {
		IntentID string `json:"intent_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	intent, ok := o.st.Intents[params.IntentID]
	if !ok {
		return nil, contracts.Errorf(contracts.CodeNotFound, "intent %s not found", params.IntentID)
	}
	if intent.PartnerID != "" {
		if err := o.authorizeResource(intent.PartnerID, nil); err != nil {
			return nil, err
		}
	}
	return asBody("intent", intent)
}

func (s *Service) opIntentsList(o *opContext) (map[string]any, error) {
	var params struct {
		Status           string `json:"status"`
		ActorFingerprint string `json:"actor_fingerprint"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	tenant := o.tenant()

	out := make([]*contracts.SwapIntent, 0)
	for _, intent := range o.st.Intents {
		if params.Status != "" && string(intent.Status) != params.Status {
			continue
		}
		if params.ActorFingerprint != "" && intent.Actor.Fingerprint() != params.ActorFingerprint {
			continue
		}
		if tenant != "" && intent.PartnerID != tenant {
			continue
		}
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	body, err := asBody("intents", out)
	if err != nil {
		return nil, err
	}
	body["total"] = len(out)
	return body, nil
}

// intentOwnerAllowed mirrors the settlement leg rule: the publishing
// actor, a delegate for that actor, or an elevated principal.
func intentOwnerAllowed(auth *contracts.AuthContext, intent *contracts.SwapIntent) error {
	if auth.Actor.Equal(intent.Actor) {
		return nil
	}
	if auth.Delegated() && auth.Delegation.PrincipalActor.Equal(intent.Actor) {
		return nil
	}
	if auth.Elevated() && !auth.Delegated() {
		return nil
	}
	return contracts.Errorf(contracts.CodeForbidden, "actor %s does not own intent %s",
		auth.Actor.Fingerprint(), intent.ID)
}
