package contracts

// Result is the uniform response envelope: {ok:true, body} on success or
// {ok:false, body:{error}} on failure. Replayed marks idempotent replays.
type Result struct {
	OK       bool           `json:"ok"`
	Body     map[string]any `json:"body,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

// OkResult wraps a success body.
func OkResult(body map[string]any) Result {
	return Result{OK: true, Body: body}
}

// ErrResult wraps a coded error into the failure envelope.
func ErrResult(err *Error) Result {
	return Result{OK: false, Body: map[string]any{
		"error": map[string]any{
			"code":    string(err.Code),
			"message": err.Message,
			"details": err.Details,
		},
	}}
}

// ErrorCode digs the error code out of a failure envelope, or "".
func (r Result) ErrorCode() string {
	if r.OK {
		return ""
	}
	errBody, ok := r.Body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := errBody["code"].(string)
	return code
}

// ReasonCode digs details.reason_code out of a failure envelope, or "".
func (r Result) ReasonCode() string {
	if r.OK {
		return ""
	}
	errBody, ok := r.Body["error"].(map[string]any)
	if !ok {
		return ""
	}
	details, ok := errBody["details"].(map[string]any)
	if !ok {
		return ""
	}
	reason, _ := details["reason_code"].(string)
	return reason
}
