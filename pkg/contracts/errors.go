package contracts

import "fmt"

// Code is a stable error code. Codes are part of the external contract and
// never change meaning between versions.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeUnauthorized      Code = "unauthorized"
	CodeForbidden         Code = "forbidden"
	CodeTenancyForbidden  Code = "tenancy_forbidden"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeIdempotency       Code = "idempotency_conflict"
	CodeInvalidState      Code = "invalid_state_transition"
	CodeInvalidCheckpoint Code = "invalid_checkpoint"
	CodeTampered          Code = "tampered_payload"
	CodeQuotaExceeded     Code = "quota_exceeded"
	CodeFeatureDisabled   Code = "feature_disabled"
	CodeRateLimited       Code = "rate_limited"
	CodePolicyFrozen      Code = "policy_frozen"
	CodeMaintenance       Code = "maintenance_mode"
	CodeSignatureInvalid  Code = "signature_invalid"
	CodeUnknownKeyID      Code = "unknown_key_id"
	CodeUpstream          Code = "upstream_unavailable"
	CodeInternal          Code = "internal_error"
)

// Reason codes carried in details.reason_code to narrow an error's cause.
const (
	ReasonDepositWindowExpired = "deposit_window_expired"
	ReasonTerminalState        = "terminal_state"
	ReasonProposalExpired      = "proposal_expired"
	ReasonConstraintFailed     = "constraint_failed"
	ReasonPayloadHashMismatch  = "payload_hash_mismatch"
	ReasonCheckpointMismatch   = "checkpoint_mismatch"
	ReasonFreezeActive         = "freeze_active"
	ReasonNotEnrolled          = "partner_not_enrolled"
	ReasonAlreadyReserved      = "already_reserved"
	ReasonNotReserved          = "not_reserved"
	ReasonOwnerMismatch        = "owner_mismatch"
	ReasonUnauthenticated      = "unauthenticated"
	ReasonInvalidDelegation    = "invalid_delegation"
	ReasonDelegationExpired    = "delegation_expired"
	ReasonDelegationRevoked    = "delegation_revoked"
	ReasonInsufficientScope    = "insufficient_scope"
)

// Error is the coded failure every operation returns. It satisfies the
// error interface so internal call sites can wrap and inspect it.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a coded error without details.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithReason attaches a details.reason_code and returns the error.
func (e *Error) WithReason(reason string) *Error {
	return e.WithDetail("reason_code", reason)
}

// WithDetail attaches one details entry and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError extracts a *Error from err, or wraps err as internal_error so no
// raw message shape leaks across the boundary.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if coded, ok := err.(*Error); ok {
		return coded
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
