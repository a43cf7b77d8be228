package auth

import (
	"os"
	"strconv"
)

// Environment flags. Each one toggles enforcement at a single point, so
// operators can stage a rollout from shadow to enforced per concern.
const (
	EnvAuthzEnforce                 = "AUTHZ_ENFORCE"
	EnvPartnerExportEnforce         = "SETTLEMENT_VAULT_EXPORT_PARTNER_PROGRAM_ENFORCE"
	EnvFreezeExportEnforce          = "PARTNER_PROGRAM_ROLLOUT_POLICY_FREEZE_EXPORT_ENFORCE"
	EnvDiagnosticsCheckpointEnforce = "PARTNER_PROGRAM_ROLLOUT_POLICY_DIAGNOSTICS_EXPORT_CHECKPOINT_ENFORCE"
	EnvDelegationSigningKeyID       = "DELEGATION_TOKEN_SIGNING_ACTIVE_KEY_ID"
)

// Policy is the per-operation enforcement configuration. It is rebuilt
// from the environment on every operation so flag flips take effect
// without a restart.
type Policy struct {
	AuthzEnforce                 bool
	PartnerExportEnforce         bool
	FreezeExportEnforce          bool
	DiagnosticsCheckpointEnforce bool
	DelegationSigningKeyID       string
}

// PolicyFromEnv reads the flag family from the environment.
func PolicyFromEnv() Policy {
	return Policy{
		AuthzEnforce:                 envBool(EnvAuthzEnforce),
		PartnerExportEnforce:         envBool(EnvPartnerExportEnforce),
		FreezeExportEnforce:          envBool(EnvFreezeExportEnforce),
		DiagnosticsCheckpointEnforce: envBool(EnvDiagnosticsCheckpointEnforce),
		DelegationSigningKeyID:       os.Getenv(EnvDelegationSigningKeyID),
	}
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
