package service

import (
	"github.com/loopworks/rotor/pkg/contracts"
	"github.com/loopworks/rotor/pkg/export"
	"github.com/loopworks/rotor/pkg/vault"
)

func (s *Service) opVaultDeposit(o *opContext) (map[string]any, error) {
	var params struct {
		VaultID string `json:"vault_id"`
		AssetID string `json:"asset_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	holding, err := s.ledger.Deposit(o.st, o.auth.Actor, params.VaultID, params.AssetID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventHoldingDeposited, holding.HoldingID, map[string]any{
		"holding_id": holding.HoldingID,
		"vault_id":   params.VaultID,
		"asset_id":   params.AssetID,
	}); err != nil {
		return nil, err
	}
	return asBody("holding", holding)
}

func (s *Service) opVaultReserve(o *opContext) (map[string]any, error) {
	var params struct {
		HoldingID string `json:"holding_id"`
		CycleID   string `json:"cycle_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	holding, err := s.ledger.Reserve(o.st, o.auth.Actor, params.HoldingID, params.CycleID)
	if err != nil {
		return nil, err
	}
	return asBody("holding", holding)
}

func (s *Service) opVaultRelease(o *opContext) (map[string]any, error) {
	holdingID, err := bindHoldingID(o)
	if err != nil {
		return nil, err
	}
	holding, err := s.ledger.Release(o.st, o.auth.Actor, holdingID)
	if err != nil {
		return nil, err
	}
	return asBody("holding", holding)
}

func (s *Service) opVaultWithdraw(o *opContext) (map[string]any, error) {
	holdingID, err := bindHoldingID(o)
	if err != nil {
		return nil, err
	}
	holding, err := s.ledger.Withdraw(o.st, o.auth.Actor, holdingID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventHoldingWithdrawn, holding.HoldingID, map[string]any{
		"holding_id": holding.HoldingID,
	}); err != nil {
		return nil, err
	}
	return asBody("holding", holding)
}

func (s *Service) opVaultGet(o *opContext) (map[string]any, error) {
	holdingID, err := bindHoldingID(o)
	if err != nil {
		return nil, err
	}
	holding, err := s.ledger.Get(o.st, holdingID)
	if err != nil {
		return nil, err
	}
	return asBody("holding", holding)
}

func (s *Service) opVaultList(o *opContext) (map[string]any, error) {
	var params struct {
		VaultID          string `json:"vault_id"`
		OwnerFingerprint string `json:"owner_fingerprint"`
		Status           string `json:"status"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	holdings := s.ledger.List(o.st, vault.ListFilter{
		VaultID:          params.VaultID,
		OwnerFingerprint: params.OwnerFingerprint,
		Status:           contracts.HoldingStatus(params.Status),
	})
	body, err := asBody("holdings", holdings)
	if err != nil {
		return nil, err
	}
	body["total"] = len(holdings)
	return body, nil
}

func (s *Service) opVaultSnapshot(o *opContext) (map[string]any, error) {
	var params struct {
		VaultID string `json:"vault_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	snapshot, err := s.ledger.Snapshot(o.st, params.VaultID)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.outbox.Append(o.st, o.auth.Actor, contracts.EventCustodySnapshot, snapshot.SnapshotID, map[string]any{
		"snapshot_id": snapshot.SnapshotID,
		"vault_id":    params.VaultID,
		"root_hash":   snapshot.RootHash,
	}); err != nil {
		return nil, err
	}
	return asBody("snapshot", snapshot)
}

func (s *Service) opVaultProveInclusion(o *opContext) (map[string]any, error) {
	var params struct {
		SnapshotID string `json:"snapshot_id"`
		HoldingID  string `json:"holding_id"`
	}
	if err := o.bind(&params); err != nil {
		return nil, err
	}
	proof, err := s.ledger.ProveInclusion(o.st, params.SnapshotID, params.HoldingID)
	if err != nil {
		return nil, err
	}
	return asBody("proof", proof)
}

// opVaultExport exports the custody snapshot journal. While partner
// program enforcement is on, tenanted callers must be enrolled and not
// sit in a disabled rollout phase.
func (s *Service) opVaultExport(o *opContext) (map[string]any, error) {
	if tenant := o.tenant(); tenant != "" && o.policy.PartnerExportEnforce {
		if err := s.partners.RequireEnrolled(o.st, tenant); err != nil {
			return nil, err
		}
		if policy, ok := o.st.PartnerRolloutPolicies[tenant]; ok && policy.Phase == contracts.RolloutDisabled {
			return nil, contracts.Errorf(contracts.CodeFeatureDisabled, "vault export rollout is disabled for partner %s", tenant)
		}
	}
	return s.runExport(o, export.KindCustody)
}

func bindHoldingID(o *opContext) (string, error) {
	var params struct {
		HoldingID string `json:"holding_id"`
	}
	if err := o.bind(&params); err != nil {
		return "", err
	}
	return params.HoldingID, nil
}
