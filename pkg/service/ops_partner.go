package service

import (
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/export"
)

func (s *Service) opPartnerEnroll(o *opContext) (map[string]any, error) {
	var params struct {
		PartnerID string `json:"partner_id"`
		Tier      string `json:"tier"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	program, err := s.partners.Enroll(o.st, params.PartnerID, params.Tier)
	if err != nil {
		return nil, err
	}
	return asBody("program", program)
}

func (s *Service) opPartnerGet(o *opContext) (map[string]any, error) {
	partnerID, err := bindPartnerID(o)
	if err != nil {
		return nil, err
	}
	program, err := s.partners.Get(o.st, partnerID)
	if err != nil {
		return nil, err
	}
	return asBody("program", program)
}

func (s *Service) opRolloutPolicyUpsert(o *opContext) (map[string]any, error) {
	var params struct {
		PartnerID string `json:"partner_id"`
		Phase     string `json:"phase"`
		Freeze    bool   `json:"freeze"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	policy, err := s.partners.UpsertRolloutPolicy(o.st, o.auth.Actor, o.policy,
		params.PartnerID, contracts.RolloutPhase(params.Phase), params.Freeze)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventPolicyUpserted, params.PartnerID, map[string]any{
		"partner_id": params.PartnerID,
		"phase":      params.Phase,
		"revision":   policy.Revision,
	}); err != nil {
		return nil, err
	}
	return asBody("policy", policy)
}

func (s *Service) opRolloutPolicyGet(o *opContext) (map[string]any, error) {
	partnerID, err := bindPartnerID(o)
	if err != nil {
		return nil, err
	}
	policy, err := s.partners.GetRolloutPolicy(o.st, partnerID)
	if err != nil {
		return nil, err
	}
	return asBody("policy", policy)
}

func (s *Service) opRolloutAuditExport(o *opContext) (map[string]any, error) {
	return s.runExport(o, export.KindPolicyAudit)
}

// opRolloutDiagnosticsExport runs the summary-mode diagnostics export.
// While the checkpoint enforcement flag is set, a fresh export must
// resume from the saved continuation once one exists.
func (s *Service) opRolloutDiagnosticsExport(o *opContext) (map[string]any, error) {
	if o.policy.DiagnosticsCheckpointEnforce {
		q, err := bindExportQuery(o, export.KindDiagnostics)
		if err != nil {
			return nil, err
		}
		if err := export.RequireCheckpointContinuity(o.st, q); err != nil {
			return nil, err
		}
	}
	return s.runExport(o, export.KindDiagnostics)
}

func (s *Service) opUsageRecord(o *opContext) (map[string]any, error) {
	var params struct {
		PartnerID string `json:"partner_id"`
		Metric    string `json:"metric"`
		Quantity  int64  `json:"quantity"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	record, err := s.partners.RecordUsage(o.st, params.PartnerID, params.Metric, params.Quantity)
	if err != nil {
		return nil, err
	}
	return asBody("usage", record)
}

func (s *Service) opUsageExport(o *opContext) (map[string]any, error) {
	return s.runExport(o, export.KindUsage)
}

func bindPartnerID(o *opContext) (string, error) {
	var params struct {
		PartnerID string `json:"partner_id"`
	}
	if err := o.bind(&params); err != nil {
		return "", err
	}
	if err := o.authorizeResource(params.PartnerID, nil); err != nil {
		return "", err
	}
	return params.PartnerID, nil
}
