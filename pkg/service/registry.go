package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loopworks/rotor/pkg/contracts"
)

// HandlerFunc executes one operation against the resolved context and
// returns the response body.
type HandlerFunc func(*opContext) (map[string]any, error)

// OpSpec declares one operation: its scope requirements, whether it
// writes state, the compiled request schema, and the handler.
type OpSpec struct {
	ID             string
	RequiredScopes []string
	Mutating       bool
	Handler        HandlerFunc

	schema *jsonschema.Schema
}

// Validate checks the request body against the operation's schema.
func (op *OpSpec) Validate(body map[string]any) error {
	if op.schema == nil {
		return nil
	}
	if err := op.schema.Validate(map[string]any(body)); err != nil {
		return contracts.Errorf(contracts.CodeValidation, "body rejected for %s: %v", op.ID, err)
	}
	return nil
}

// Registry is the operation allowlist: anything not registered does not
// exist at the boundary.
type Registry struct {
	ops map[string]*OpSpec
}

// Get looks up one operation.
func (r *Registry) Get(id string) (*OpSpec, bool) {
	op, ok := r.ops[id]
	return op, ok
}

// Operations returns registered operation IDs, sorted.
func (r *Registry) Operations() []string {
	out := make([]string, 0, len(r.ops))
	for id := range r.ops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// register compiles the schema and installs the operation. Schemas are
// package constants, so a failure here is a programming error.
func (r *Registry) register(op *OpSpec, schema string) {
	if _, exists := r.ops[op.ID]; exists {
		panic(fmt.Sprintf("service: operation %s registered twice", op.ID))
	}
	if schema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://rotor.schemas.local/ops/%s.schema.json", op.ID)
		if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
			panic(fmt.Sprintf("service: schema for %s: %v", op.ID, err))
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			panic(fmt.Sprintf("service: schema for %s: %v", op.ID, err))
		}
		op.schema = compiled
	}
	r.ops[op.ID] = op
}

// buildRegistry wires every operation to its handler.
func buildRegistry(s *Service) *Registry {
	r := &Registry{ops: make(map[string]*OpSpec)}

	r.register(&OpSpec{
		ID:             "intents.publish",
		RequiredScopes: []string{contracts.ScopeIntentsWrite},
		Mutating:       true,
		Handler:        s.opIntentsPublish,
	}, schemaIntentsPublish)
	r.register(&OpSpec{
		ID:             "intents.cancel",
		RequiredScopes: []string{contracts.ScopeIntentsWrite},
		Mutating:       true,
		Handler:        s.opIntentsCancel,
	}, schemaIntentID)
	r.register(&OpSpec{
		ID:             "intents.get",
		RequiredScopes: []string{contracts.ScopeIntentsRead},
		Handler:        s.opIntentsGet,
	}, schemaIntentID)
	r.register(&OpSpec{
		ID:             "intents.list",
		RequiredScopes: []string{contracts.ScopeIntentsRead},
		Handler:        s.opIntentsList,
	}, schemaIntentsList)

	r.register(&OpSpec{
		ID:             "matching.run",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opMatchingRun,
	}, schemaMatchingRun)
	r.register(&OpSpec{
		ID:             "matching.shadowRecords",
		RequiredScopes: []string{contracts.ScopeAdmin},
		Handler:        s.opMatchingShadowRecords,
	}, "")

	r.register(&OpSpec{
		ID:             "cycleProposals.accept",
		RequiredScopes: []string{contracts.ScopeCyclesAccept},
		Mutating:       true,
		Handler:        s.opProposalAccept,
	}, schemaProposalID)
	r.register(&OpSpec{
		ID:             "cycleProposals.reject",
		RequiredScopes: []string{contracts.ScopeCyclesAccept},
		Mutating:       true,
		Handler:        s.opProposalReject,
	}, schemaProposalID)
	r.register(&OpSpec{
		ID:             "cycleProposals.get",
		RequiredScopes: []string{contracts.ScopeCyclesRead},
		Handler:        s.opProposalGet,
	}, schemaProposalID)
	r.register(&OpSpec{
		ID:             "cycleProposals.list",
		RequiredScopes: []string{contracts.ScopeCyclesRead},
		Handler:        s.opProposalList,
	}, "")
	r.register(&OpSpec{
		ID:             "cycleProposals.ingestWebhook",
		RequiredScopes: []string{contracts.ScopeEventsIngest},
		Mutating:       true,
		Handler:        s.opProposalIngestWebhook,
	}, schemaProposalIngest)

	r.register(&OpSpec{
		ID:             "settlement.start",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opSettlementStart,
	}, schemaSettlementStart)
	r.register(&OpSpec{
		ID:             "settlement.deposit_confirmed",
		RequiredScopes: []string{contracts.ScopeSettlementDeposit},
		Mutating:       true,
		Handler:        s.opSettlementDepositConfirmed,
	}, schemaSettlementDeposit)
	r.register(&OpSpec{
		ID:             "settlement.expire_deposit_window",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opSettlementExpire,
	}, schemaCycleID)
	r.register(&OpSpec{
		ID:             "settlement.begin_execution",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opSettlementBeginExecution,
	}, schemaCycleID)
	r.register(&OpSpec{
		ID:             "settlement.complete",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opSettlementComplete,
	}, schemaCycleID)
	r.register(&OpSpec{
		ID:             "settlement.fail",
		RequiredScopes: []string{contracts.ScopeSettlementDrive},
		Mutating:       true,
		Handler:        s.opSettlementFail,
	}, schemaSettlementFail)
	r.register(&OpSpec{
		ID:             "settlement.get",
		RequiredScopes: []string{contracts.ScopeCyclesRead},
		Handler:        s.opSettlementGet,
	}, schemaCycleID)

	r.register(&OpSpec{
		ID:             "vault.deposit",
		RequiredScopes: []string{contracts.ScopeVaultWrite},
		Mutating:       true,
		Handler:        s.opVaultDeposit,
	}, schemaVaultDeposit)
	r.register(&OpSpec{
		ID:             "vault.reserve",
		RequiredScopes: []string{contracts.ScopeVaultWrite},
		Mutating:       true,
		Handler:        s.opVaultReserve,
	}, schemaVaultReserve)
	r.register(&OpSpec{
		ID:             "vault.release",
		RequiredScopes: []string{contracts.ScopeVaultWrite},
		Mutating:       true,
		Handler:        s.opVaultRelease,
	}, schemaHoldingID)
	r.register(&OpSpec{
		ID:             "vault.withdraw",
		RequiredScopes: []string{contracts.ScopeVaultWrite},
		Mutating:       true,
		Handler:        s.opVaultWithdraw,
	}, schemaHoldingID)
	r.register(&OpSpec{
		ID:             "vault.get",
		RequiredScopes: []string{contracts.ScopeVaultRead},
		Handler:        s.opVaultGet,
	}, schemaHoldingID)
	r.register(&OpSpec{
		ID:             "vault.list",
		RequiredScopes: []string{contracts.ScopeVaultRead},
		Handler:        s.opVaultList,
	}, schemaVaultList)
	r.register(&OpSpec{
		ID:             "vault.snapshot",
		RequiredScopes: []string{contracts.ScopeVaultWrite},
		Mutating:       true,
		Handler:        s.opVaultSnapshot,
	}, schemaVaultSnapshot)
	r.register(&OpSpec{
		ID:             "vault.prove_inclusion",
		RequiredScopes: []string{contracts.ScopeVaultRead},
		Handler:        s.opVaultProveInclusion,
	}, schemaVaultProve)
	r.register(&OpSpec{
		ID:             "vault.export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opVaultExport,
	}, schemaExportQuery)

	r.register(&OpSpec{
		ID:             "receipts.get",
		RequiredScopes: []string{contracts.ScopeCyclesRead},
		Handler:        s.opReceiptsGet,
	}, schemaReceiptsGet)
	r.register(&OpSpec{
		ID:             "receipts.export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opReceiptsExport,
	}, schemaExportQuery)
	r.register(&OpSpec{
		ID:             "receipts.verify",
		RequiredScopes: []string{contracts.ScopeCyclesRead},
		Handler:        s.opReceiptsVerify,
	}, schemaReceiptsGet)

	r.register(&OpSpec{
		ID:             "events.export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opEventsExport,
	}, schemaExportQuery)
	r.register(&OpSpec{
		ID:             "events.ingest",
		RequiredScopes: []string{contracts.ScopeEventsIngest},
		Mutating:       true,
		Handler:        s.opEventsIngest,
	}, schemaEventsIngest)

	r.register(&OpSpec{
		ID:             "delegation.issue",
		RequiredScopes: []string{contracts.ScopeDelegationIssue},
		Mutating:       true,
		Handler:        s.opDelegationIssue,
	}, schemaDelegationIssue)
	r.register(&OpSpec{
		ID:      "delegation.introspect",
		Handler: s.opDelegationIntrospect,
	}, schemaDelegationToken)
	r.register(&OpSpec{
		ID:             "delegation.revoke",
		RequiredScopes: []string{contracts.ScopeDelegationIssue},
		Mutating:       true,
		Handler:        s.opDelegationRevoke,
	}, schemaDelegationRevoke)

	r.register(&OpSpec{
		ID:             "keys.rotate",
		RequiredScopes: []string{contracts.ScopeKeysManage},
		Handler:        s.opKeysRotate,
	}, schemaKeyID)
	r.register(&OpSpec{
		ID:             "keys.revoke",
		RequiredScopes: []string{contracts.ScopeKeysManage},
		Handler:        s.opKeysRevoke,
	}, schemaKeyID)
	r.register(&OpSpec{
		ID:             "keys.list",
		RequiredScopes: []string{contracts.ScopeKeysManage},
		Handler:        s.opKeysList,
	}, "")

	r.register(&OpSpec{
		ID:             "partnerProgram.enroll",
		RequiredScopes: []string{contracts.ScopePartnerAdmin},
		Mutating:       true,
		Handler:        s.opPartnerEnroll,
	}, schemaPartnerEnroll)
	r.register(&OpSpec{
		ID:      "partnerProgram.get",
		Handler: s.opPartnerGet,
	}, schemaPartnerID)
	r.register(&OpSpec{
		ID:             "partnerProgram.vault_export.rollout_policy.upsert",
		RequiredScopes: []string{contracts.ScopePartnerAdmin},
		Mutating:       true,
		Handler:        s.opRolloutPolicyUpsert,
	}, schemaRolloutUpsert)
	r.register(&OpSpec{
		ID:      "partnerProgram.vault_export.rollout_policy.get",
		Handler: s.opRolloutPolicyGet,
	}, schemaPartnerID)
	r.register(&OpSpec{
		ID:             "partnerProgram.vault_export.rollout_policy.audit_export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opRolloutAuditExport,
	}, schemaExportQuery)
	r.register(&OpSpec{
		ID:             "partnerProgram.vault_export.rollout_policy.diagnostics_export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opRolloutDiagnosticsExport,
	}, schemaExportQuery)
	r.register(&OpSpec{
		ID:             "partnerProgram.usage.record",
		RequiredScopes: []string{contracts.ScopePartnerAdmin},
		Mutating:       true,
		Handler:        s.opUsageRecord,
	}, schemaUsageRecord)
	r.register(&OpSpec{
		ID:             "partnerProgram.usage.export",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Mutating:       true,
		Handler:        s.opUsageExport,
	}, schemaExportQuery)

	r.register(&OpSpec{
		ID:             "state.export_checkpoints.list",
		RequiredScopes: []string{contracts.ScopeExportRead},
		Handler:        s.opCheckpointsList,
	}, schemaCheckpointsList)

	return r
}
