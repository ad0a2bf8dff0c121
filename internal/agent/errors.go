// internal/agent/errors.go
package agent

import "errors"

// ErrPlanningExhausted indicates the LLM collaborator cannot propose a
// further step for the task. It terminates the task as Failed, never as a
// crash.
var ErrPlanningExhausted = errors.New("planning exhausted: no further step available")

// ErrorCode classifies why a step or task failed. It is the step log's
// diagnostic vocabulary; the zero value means no error.
type ErrorCode string

const (
	CodeStoreUnavailable     ErrorCode = "store_unavailable"
	CodeDeviceUnreachable    ErrorCode = "device_unreachable"
	CodeCaptureTimeout       ErrorCode = "capture_timeout"
	CodeDispatchRejected     ErrorCode = "dispatch_rejected"
	CodePlanningExhausted    ErrorCode = "planning_exhausted"
	CodeVerificationFailed   ErrorCode = "verification_failed"
	CodeStepRetriesExhausted ErrorCode = "step_retries_exhausted"
	CodeTaskRetriesExhausted ErrorCode = "task_retries_exhausted"
	CodeCancelled            ErrorCode = "cancelled"
)
