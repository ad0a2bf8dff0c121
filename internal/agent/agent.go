// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

// DeviceSession is the slice of the device transport the task loop depends
// on. The session is exclusively owned by one task for its whole lifetime.
type DeviceSession interface {
	DeviceID() string
	CaptureState(ctx context.Context) (*schemas.ScreenState, error)
	Dispatch(ctx context.Context, action device.Action) error
	Close(ctx context.Context) error
}

// SessionOpener opens exclusive device sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, deviceID string) (DeviceSession, error)
}

// Resolver turns an instruction into an intent resolution.
type Resolver interface {
	Resolve(ctx context.Context, instruction string) (knowledge.Resolution, error)
}

// Agent runs the task-execution loop: resolve intent, plan steps, dispatch
// them against an exclusive device session, verify each effect, and retry or
// recover within configured budgets. One Run call is one sequential state
// machine; concurrency across tasks is the caller's concern and is bounded by
// the per-device session lock.
type Agent struct {
	sessions SessionOpener
	resolver Resolver
	planner  Planner
	cfg      config.AgentConfig
	logger   *zap.Logger
}

func New(sessions SessionOpener, resolver Resolver, planner Planner, cfg config.AgentConfig, logger *zap.Logger) *Agent {
	return &Agent{
		sessions: sessions,
		resolver: resolver,
		planner:  planner,
		cfg:      cfg,
		logger:   logger.Named("agent"),
	}
}

// Run executes one task to a terminal outcome. It never panics on
// collaborator failure: every ending is a TaskOutcome with the partial step
// log, including cancellation (Aborted) and transport loss (Failed).
func (a *Agent) Run(ctx context.Context, req TaskRequest) *TaskOutcome {
	outcome := &TaskOutcome{
		TaskID:      req.ID,
		Instruction: req.Instruction,
		DeviceID:    req.DeviceID,
		StartedAt:   time.Now().UTC(),
	}
	logger := a.logger.With(zap.String("task_id", req.ID))
	logger.Info("Task received", zap.String("instruction", req.Instruction))

	resolution, err := a.resolver.Resolve(ctx, req.Instruction)
	if err != nil {
		if ctx.Err() != nil {
			return a.finish(outcome, nil, TaskAborted, CodeCancelled, "cancelled during intent resolution")
		}
		// Resolution trouble degrades to ungrounded planning, never a crash.
		logger.Warn("Intent resolution failed, planning without knowledge", zap.Error(err))
		resolution = knowledge.Resolution{}
	}
	outcome.Package = resolution.Package

	session, err := a.sessions.OpenSession(ctx, req.DeviceID)
	if err != nil {
		if ctx.Err() != nil {
			return a.finish(outcome, nil, TaskAborted, CodeCancelled, "cancelled while waiting for the device")
		}
		return a.finish(outcome, nil, TaskFailed, CodeDeviceUnreachable, fmt.Sprintf("failed to open device session: %v", err))
	}
	// The lock must release even when the task ends by cancellation.
	defer session.Close(context.WithoutCancel(ctx))
	outcome.DeviceID = session.DeviceID()

	run := &taskRun{
		agent:      a,
		req:        req,
		session:    session,
		resolution: resolution,
		logger:     logger.With(zap.String("device_id", session.DeviceID())),
	}
	return run.execute(ctx, outcome)
}

func (a *Agent) finish(outcome *TaskOutcome, steps []*Step, status TaskStatus, code ErrorCode, summary string) *TaskOutcome {
	outcome.Status = status
	outcome.Error = code
	outcome.Summary = summary
	outcome.Steps = flattenSteps(steps, status == TaskAborted)
	outcome.FinishedAt = time.Now().UTC()
	a.logger.Info("Task finished",
		zap.String("task_id", outcome.TaskID),
		zap.String("status", string(status)),
		zap.Int("steps", len(outcome.Steps)),
	)
	return outcome
}

// flattenSteps copies the step log into the outcome. An aborted task records
// only the steps that reached a settled status before the cancellation point.
func flattenSteps(steps []*Step, abortedOnly bool) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		if abortedOnly && s.Status != StepVerified && s.Status != StepFailed {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// taskRun is the mutable state of one task's machine.
type taskRun struct {
	agent      *Agent
	req        TaskRequest
	session    DeviceSession
	resolution knowledge.Resolution
	logger     *zap.Logger

	source      PlanSource
	steps       []*Step
	idx         int
	taskRetries int
	seededDone  bool

	// screen is the last capture; fresh is cleared after every dispatch
	// cycle so a capture is never reused past its pre/post pair.
	screen *schemas.ScreenState
	fresh  bool
}

// stepResult is the verdict of one dispatch cycle.
type stepResult int

const (
	resultVerified stepResult = iota
	resultRetry
	resultFatal
	resultAborted
)

func (r *taskRun) execute(ctx context.Context, outcome *TaskOutcome) *TaskOutcome {
	if err := r.capture(ctx); err != nil {
		return r.terminal(ctx, outcome, err)
	}
	r.seedPlan()
	outcome.PlanSource = r.source

	for {
		// Cancellation is observed only here, at the iteration boundary,
		// never mid-gesture.
		if ctx.Err() != nil {
			return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
		}

		step, err := r.nextStep(ctx)
		if err != nil {
			return r.terminal(ctx, outcome, err)
		}
		if step == nil {
			return r.agent.finish(outcome, r.steps, TaskCompleted, "", "instruction satisfied")
		}

		result, code, cause := r.dispatchAndVerify(ctx, step)
		switch result {
		case resultVerified:
			step.Status = StepVerified
			step.Error = ""
			r.logger.Info("Step verified", zap.Int("index", step.Index), zap.String("step", step.Description))
			r.idx++
			r.fresh = false
		case resultRetry:
			if done := r.handleRetry(ctx, outcome, step, code, cause); done != nil {
				return done
			}
		case resultFatal:
			step.Status = StepFailed
			step.Error = code
			return r.agent.finish(outcome, r.steps, TaskFailed, code, cause)
		case resultAborted:
			return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
		}
	}
}

// terminal maps a planning or capture error onto the task's ending.
func (r *taskRun) terminal(ctx context.Context, outcome *TaskOutcome, err error) *TaskOutcome {
	switch {
	case ctx.Err() != nil:
		return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
	case errors.Is(err, ErrPlanningExhausted):
		return r.agent.finish(outcome, r.steps, TaskFailed, CodePlanningExhausted, err.Error())
	case errors.Is(err, device.ErrDeviceUnreachable):
		return r.agent.finish(outcome, r.steps, TaskFailed, CodeDeviceUnreachable, err.Error())
	case errors.Is(err, device.ErrCaptureTimeout):
		return r.agent.finish(outcome, r.steps, TaskFailed, CodeCaptureTimeout, err.Error())
	default:
		return r.agent.finish(outcome, r.steps, TaskFailed, CodePlanningExhausted, err.Error())
	}
}

// seedPlan builds the initial step sequence from the intent resolution. A
// grounded resolution whose package is not already foregrounded always starts
// with a launch-app step so gestures never land on the wrong app.
func (r *taskRun) seedPlan() {
	if r.resolution.Grounded() && r.screen.ForegroundPackage != r.resolution.Package {
		r.appendStep(&Step{
			Description: fmt.Sprintf("launch %s", r.resolution.Package),
			Action:      device.Action{Kind: device.KindLaunchApp, Package: r.resolution.Package},
			Status:      StepPending,
		})
	}

	if len(r.resolution.Hints) > 0 {
		r.source = PlanSeeded
		for i := range r.resolution.Hints {
			hint := r.resolution.Hints[i]
			r.appendStep(&Step{
				Description: hint.Description,
				Hint:        &hint,
				Status:      StepPending,
			})
		}
	} else {
		r.source = PlanIncremental
	}

	r.logger.Info("Plan seeded",
		zap.String("source", string(r.source)),
		zap.String("package", r.resolution.Package),
		zap.Int("steps", len(r.steps)),
	)
}

func (r *taskRun) appendStep(s *Step) {
	s.Index = len(r.steps)
	r.steps = append(r.steps, s)
}

// nextStep returns the step to dispatch, asking the planner for one when the
// sequence is exhausted. A nil step with nil error means the task is
// complete.
func (r *taskRun) nextStep(ctx context.Context) (*Step, error) {
	if r.idx < len(r.steps) {
		return r.steps[r.idx], nil
	}

	if r.source == PlanSeeded && !r.seededDone {
		r.seededDone = true
		done, err := r.seededCompletion(ctx)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		// The seeded plan verified but the instruction is judged unmet;
		// continue step-by-step from the live screen.
		r.logger.Info("Seeded plan finished without completion, continuing incrementally")
	}

	if len(r.steps) >= r.agent.cfg.MaxSteps {
		return nil, fmt.Errorf("step limit %d reached: %w", r.agent.cfg.MaxSteps, ErrPlanningExhausted)
	}

	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	planned, err := r.agent.planner.NextStep(ctx, r.req.Instruction, flattenSteps(r.steps, false), r.screen)
	if err != nil {
		return nil, err
	}
	if planned.Done {
		r.logger.Info("Planner judged the task complete", zap.String("reason", planned.Description))
		return nil, nil
	}

	step := &Step{Description: planned.Description, Action: planned.Action, Status: StepPending}
	r.appendStep(step)
	return step, nil
}

// seededCompletion decides whether a fully verified seeded plan ends the
// task. A trailing deterministic expectation is proof enough; otherwise the
// completion judge looks at the final screen.
func (r *taskRun) seededCompletion(ctx context.Context) (bool, error) {
	last := r.steps[len(r.steps)-1]
	if last.Hint != nil && last.Hint.Expect != nil {
		return true, nil
	}
	if err := r.ensureFresh(ctx); err != nil {
		return false, err
	}
	verdict, err := r.agent.planner.JudgeCompletion(ctx, r.req.Instruction, r.screen)
	if err != nil {
		if ctx.Err() != nil {
			return false, err
		}
		r.logger.Warn("Completion judgment failed, continuing incrementally", zap.Error(err))
		return false, nil
	}
	return verdict == VerdictMet, nil
}

// dispatchAndVerify runs one full StepDispatch/Verifying cycle for a step.
func (r *taskRun) dispatchAndVerify(ctx context.Context, step *Step) (stepResult, ErrorCode, string) {
	if err := r.ensureFresh(ctx); err != nil {
		return r.classify(ctx, err)
	}
	pre := r.screen

	if step.Action.Kind == "" {
		if err := r.deriveAction(ctx, step); err != nil {
			if errors.Is(err, ErrTargetNotResolved) {
				return resultRetry, CodeDispatchRejected, err.Error()
			}
			return r.classify(ctx, err)
		}
	}

	// Parameters are validated against the last capture before anything
	// touches the wire; out-of-bounds coordinates are an input error.
	if err := step.Action.Validate(pre.Bounds()); err != nil {
		return resultRetry, CodeDispatchRejected, err.Error()
	}

	r.logger.Debug("Dispatching step",
		zap.Int("index", step.Index),
		zap.String("kind", string(step.Action.Kind)),
		zap.String("step", step.Description),
	)
	if err := r.session.Dispatch(ctx, step.Action); err != nil {
		if device.IsDispatchRejected(err) {
			return resultRetry, CodeDispatchRejected, err.Error()
		}
		return r.classify(ctx, err)
	}
	step.Status = StepExecuted

	r.fresh = false
	if err := r.capture(ctx); err != nil {
		if errors.Is(err, device.ErrCaptureTimeout) {
			return resultRetry, CodeCaptureTimeout, err.Error()
		}
		return r.classify(ctx, err)
	}
	post := r.screen

	verdict, err := r.verify(ctx, step, pre, post)
	if err != nil {
		return r.classify(ctx, err)
	}
	if verdict == VerdictMet {
		return resultVerified, "", ""
	}
	return resultRetry, CodeVerificationFailed, fmt.Sprintf("step %d outcome not met", step.Index)
}

// classify maps an arbitrary cycle error onto a step result.
func (r *taskRun) classify(ctx context.Context, err error) (stepResult, ErrorCode, string) {
	switch {
	case ctx.Err() != nil:
		return resultAborted, CodeCancelled, err.Error()
	case errors.Is(err, device.ErrDeviceUnreachable):
		return resultFatal, CodeDeviceUnreachable, err.Error()
	case errors.Is(err, device.ErrCaptureTimeout):
		return resultRetry, CodeCaptureTimeout, err.Error()
	default:
		return resultRetry, CodeVerificationFailed, err.Error()
	}
}

// deriveAction grounds a hint step against the current screen: the hint's own
// matcher wins when it finds an element; otherwise the planner picks a target.
func (r *taskRun) deriveAction(ctx context.Context, step *Step) error {
	m := hintMatcher(*step.Hint)
	if m.Field != "" {
		if el := findElement(r.screen, m); el != nil {
			step.Action = device.Action{
				Kind: device.KindTap,
				X:    el.Bounds.CenterX(),
				Y:    el.Bounds.CenterY(),
			}
			return nil
		}
	}
	action, err := r.agent.planner.ResolveTarget(ctx, r.req.Instruction, *step.Hint, r.screen)
	if err != nil {
		return err
	}
	step.Action = action
	return nil
}

// verify decides whether the step's effect occurred. Deterministic checks
// (declared expectation, launch foregrounding) are preferred; everything else
// is an LLM judgment, with Ambiguous treated as NotMet.
func (r *taskRun) verify(ctx context.Context, step *Step, pre, post *schemas.ScreenState) (Verdict, error) {
	if step.Hint != nil && step.Hint.Expect != nil {
		if findElement(post, *step.Hint.Expect) != nil {
			return VerdictMet, nil
		}
		return VerdictNotMet, nil
	}

	if step.Action.Kind == device.KindLaunchApp {
		if post.ForegroundPackage == step.Action.Package {
			return VerdictMet, nil
		}
		return VerdictNotMet, nil
	}

	verdict, err := r.agent.planner.JudgeOutcome(ctx, r.req.Instruction, step.Description, pre, post)
	if err != nil {
		if ctx.Err() != nil {
			return VerdictAmbiguous, err
		}
		r.logger.Warn("Outcome judgment failed, treating as not met", zap.Error(err))
		return VerdictAmbiguous, nil
	}
	return verdict, nil
}

// handleRetry applies the step and task retry budgets. A non-nil return is
// the task's terminal outcome.
func (r *taskRun) handleRetry(ctx context.Context, outcome *TaskOutcome, step *Step, code ErrorCode, cause string) *TaskOutcome {
	step.Retries++
	step.Error = code
	step.Status = StepPending
	r.fresh = false
	if step.Hint != nil {
		// Re-derive the target from the next capture.
		step.Action = device.Action{}
	}

	if step.Retries <= r.agent.cfg.MaxStepRetries {
		r.logger.Info("Retrying step",
			zap.Int("index", step.Index),
			zap.Int("retry", step.Retries),
			zap.String("code", string(code)),
			zap.String("cause", cause),
		)
		return nil
	}

	// Step budget exhausted: spend one task-level retry on a recovery action
	// before attempting the same logical step again.
	r.taskRetries++
	if r.taskRetries > r.agent.cfg.MaxTaskRetries {
		step.Status = StepFailed
		step.Error = CodeTaskRetriesExhausted
		return r.agent.finish(outcome, r.steps, TaskFailed, CodeTaskRetriesExhausted,
			fmt.Sprintf("task retry budget exhausted at step %d: %s", step.Index, cause))
	}

	if done := r.recover(ctx, outcome, step, cause); done != nil {
		return done
	}
	step.Retries = 0
	return nil
}

// recover dispatches one corrective action (dismiss, back, scroll) sourced
// from the planner, falling back to a BACK key event when the planner cannot
// help. Only transport loss ends the task here.
func (r *taskRun) recover(ctx context.Context, outcome *TaskOutcome, step *Step, cause string) *TaskOutcome {
	r.logger.Info("Recovering stuck step",
		zap.Int("index", step.Index),
		zap.Int("task_retry", r.taskRetries),
		zap.String("cause", cause),
	)

	if err := r.ensureFresh(ctx); err != nil {
		result, code, msg := r.classify(ctx, err)
		if result == resultFatal {
			step.Status = StepFailed
			step.Error = code
			return r.agent.finish(outcome, r.steps, TaskFailed, code, msg)
		}
		if result == resultAborted {
			return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
		}
		return nil
	}

	failure := fmt.Sprintf("step %q failed repeatedly: %s", step.Description, cause)
	action, err := r.agent.planner.SuggestRecovery(ctx, r.req.Instruction, failure, r.screen)
	if err != nil {
		if ctx.Err() != nil {
			return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
		}
		r.logger.Warn("Recovery suggestion failed, falling back to BACK", zap.Error(err))
		action = device.Action{Kind: device.KindCustom, KeyCode: "BACK"}
	}

	if err := r.session.Dispatch(ctx, action); err != nil {
		if errors.Is(err, device.ErrDeviceUnreachable) {
			step.Status = StepFailed
			step.Error = CodeDeviceUnreachable
			return r.agent.finish(outcome, r.steps, TaskFailed, CodeDeviceUnreachable, err.Error())
		}
		if ctx.Err() != nil {
			return r.agent.finish(outcome, r.steps, TaskAborted, CodeCancelled, "task cancelled")
		}
		r.logger.Warn("Recovery action failed", zap.Error(err))
	}
	r.fresh = false
	return nil
}

// capture refreshes the screen state unconditionally.
func (r *taskRun) capture(ctx context.Context) error {
	state, err := r.session.CaptureState(ctx)
	if err != nil {
		return err
	}
	r.screen = state
	r.fresh = true
	return nil
}

// ensureFresh captures only when the last capture has already served a
// dispatch cycle.
func (r *taskRun) ensureFresh(ctx context.Context) error {
	if r.fresh {
		return nil
	}
	return r.capture(ctx)
}
