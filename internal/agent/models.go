// internal/agent/models.go
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

// TaskRequest is one user-issued natural-language instruction. It is
// immutable once accepted by the agent.
type TaskRequest struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	DeviceID    string    `json:"device_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTaskRequest builds a request with a fresh task id.
func NewTaskRequest(instruction, deviceID string) TaskRequest {
	return TaskRequest{
		ID:          uuid.NewString(),
		Instruction: instruction,
		DeviceID:    deviceID,
		CreatedAt:   time.Now().UTC(),
	}
}

// StepStatus is the lifecycle of one step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepExecuted StepStatus = "executed"
	StepVerified StepStatus = "verified"
	StepFailed   StepStatus = "failed"
)

// Step is one atomic unit of execution within a task. Seeded steps carry the
// locator hint they were synthesized from; the concrete action is derived
// against the live screen at dispatch time.
type Step struct {
	Index       int                    `json:"index"`
	Description string                 `json:"description"`
	Action      device.Action          `json:"action"`
	Hint        *knowledge.LocatorHint `json:"hint,omitempty"`
	Status      StepStatus             `json:"status"`
	Retries     int                    `json:"retries"`
	Error       ErrorCode              `json:"error,omitempty"`
}

// PlanSource distinguishes where steps come from. The dispatch and
// verification logic is identical for both; only the source of the next step
// differs.
type PlanSource string

const (
	// PlanSeeded means the step sequence was synthesized upfront from
	// knowledge-document hints.
	PlanSeeded PlanSource = "seeded"
	// PlanIncremental means steps are requested from the LLM one at a time
	// against the live screen state.
	PlanIncremental PlanSource = "incremental"
)

// Verdict is the typed result of an LLM verification judgment. Ambiguous is
// handled exactly like NotMet so an uncertain model can never produce a
// false-positive completion.
type Verdict string

const (
	VerdictMet       Verdict = "met"
	VerdictNotMet    Verdict = "not_met"
	VerdictAmbiguous Verdict = "ambiguous"
)

// TaskStatus is the terminal status of one task.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskAborted   TaskStatus = "aborted"
)

// TaskOutcome is the terminal record of one task: final status plus the
// ordered log of every step that was attempted. Created exactly once, at loop
// termination.
type TaskOutcome struct {
	TaskID      string     `json:"task_id"`
	Instruction string     `json:"instruction"`
	DeviceID    string     `json:"device_id,omitempty"`
	Status      TaskStatus `json:"status"`
	PlanSource  PlanSource `json:"plan_source,omitempty"`
	Package     string     `json:"package,omitempty"`
	Steps       []Step     `json:"steps"`
	Summary     string     `json:"summary,omitempty"`
	Error       ErrorCode  `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// PlannedStep is the planner's answer to "what next". Done means the model
// judges the instruction already satisfied and no further step is needed.
type PlannedStep struct {
	Done        bool          `json:"done"`
	Description string        `json:"description"`
	Action      device.Action `json:"action"`
}
