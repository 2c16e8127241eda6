package engine

import "errors"

// Structured error codes surfaced to callers instead of raw provider errors.
const (
	CodeAccountNotConnected  = "account_not_connected"
	CodeRepoMissing          = "repo_missing"
	CodeInvalidRepoReference = "invalid_repo_reference"
	CodePermissionDenied     = "permission_denied"
	CodeAccessRequired       = "access_required"
	CodeBranchCreateFailed   = "branch_create_failed"
	CodeCommitFailed         = "spec_or_scaffold_commit_failed"
	CodeDispatchFailed       = "workflow_dispatch_failed"
	CodeTaskAlreadyAssigned  = "task_already_assigned"
	CodeMaxConcurrentTasks   = "max_concurrent_tasks_reached"
	CodeInvalidTransition    = "invalid_column_transition"
)

// Error carries a structured code plus enough context for the caller to
// self-remediate, e.g. the current membership state and an invite URL on
// access_required.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) wrap(cause error) *Error {
	e.cause = cause
	return e
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the structured code from an error chain, or "" when the
// error is not an engine error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
