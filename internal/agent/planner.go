// internal/agent/planner.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrTargetNotResolved indicates the planner could not map a locator hint to
// a point on the current screen. The orchestrator retries the step against a
// fresh capture.
var ErrTargetNotResolved = errors.New("target element not resolved on current screen")

// Planner is the LLM-backed decision surface of the task loop: it grounds
// locator hints to screen coordinates, proposes the next step when no hints
// exist, judges step and task outcomes, and suggests recovery actions.
type Planner interface {
	ResolveTarget(ctx context.Context, instruction string, hint knowledge.LocatorHint, state *schemas.ScreenState) (device.Action, error)
	NextStep(ctx context.Context, instruction string, history []Step, state *schemas.ScreenState) (PlannedStep, error)
	JudgeOutcome(ctx context.Context, instruction, stepDescription string, pre, post *schemas.ScreenState) (Verdict, error)
	JudgeCompletion(ctx context.Context, instruction string, state *schemas.ScreenState) (Verdict, error)
	SuggestRecovery(ctx context.Context, instruction, failure string, state *schemas.ScreenState) (device.Action, error)
}

const resolveTargetSystemPrompt = `You are the GUI grounding module of a mobile-device automation agent.
You receive a task instruction, one step description, and the list of UI elements
currently on screen (with their center coordinates). Identify the single element
the step refers to.

Respond with ONLY a JSON object:
{"found": true, "x": <center x>, "y": <center y>, "element_index": <i>}
or {"found": false, "reason": "<why>"} when no element matches.`

const nextStepSystemPrompt = `You are the step planner of a mobile-device automation agent.
Given the task instruction, the steps already executed, and the current screen
elements, propose exactly ONE next action, or declare the task done.

Action kinds and their parameters:
- {"kind":"launch_app","package":"<pkg>"}
- {"kind":"tap","x":N,"y":N}
- {"kind":"long_press","x":N,"y":N}
- {"kind":"swipe","direction":"up|down|left|right"}
- {"kind":"type_text","text":"..."}
- {"kind":"wait","duration":2000000000}
- {"kind":"custom","key_code":"BACK|HOME|ENTER"}

Respond with ONLY a JSON object:
{"done": false, "description": "<what this step does>", "action": {...}}
or {"done": true, "description": "<why the task is complete>"}.`

const judgeOutcomeSystemPrompt = `You are the verification module of a mobile-device automation agent.
Compare the screen elements before and after one action and decide whether the
step's intended effect occurred. Be conservative: if the evidence is unclear,
answer "ambiguous".

Respond with ONLY a JSON object: {"verdict": "met" | "not_met" | "ambiguous", "reason": "<short>"}.`

const judgeCompletionSystemPrompt = `You are the completion judge of a mobile-device automation agent.
Given the task instruction and the current screen elements, decide whether the
instruction is already fully satisfied. Be conservative: if the evidence is
unclear, answer "ambiguous".

Respond with ONLY a JSON object: {"verdict": "met" | "not_met" | "ambiguous", "reason": "<short>"}.`

const suggestRecoverySystemPrompt = `You are the recovery module of a mobile-device automation agent.
A step kept failing; the loop needs one corrective action (for example dismiss a
dialog, go back, or scroll) before the step is attempted again. Use the same
action vocabulary as the planner.

Respond with ONLY a JSON object: {"description": "<what this does>", "action": {...}}.`

// LLMPlanner implements Planner over the tiered LLM client. Grounding and
// judgment calls ride the fast tier; open-ended planning and recovery use the
// powerful one.
type LLMPlanner struct {
	llm     schemas.LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewLLMPlanner(llm schemas.LLMClient, timeout time.Duration, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{llm: llm, timeout: timeout, logger: logger.Named("planner")}
}

func (p *LLMPlanner) generate(ctx context.Context, tier schemas.ModelTier, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		Tier:         tier,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
}

func (p *LLMPlanner) ResolveTarget(ctx context.Context, instruction string, hint knowledge.LocatorHint, state *schemas.ScreenState) (device.Action, error) {
	user := fmt.Sprintf("Task: %s\nStep: %s\nScreen (%dx%d) elements:\n%s",
		instruction, hint.Description, state.ScreenWidth, state.ScreenHeight, renderElements(state))

	raw, err := p.generate(ctx, schemas.TierFast, resolveTargetSystemPrompt, user)
	if err != nil {
		return device.Action{}, fmt.Errorf("target grounding call failed: %w", err)
	}

	var resp struct {
		Found  bool   `json:"found"`
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Reason string `json:"reason"`
	}
	if err := decodeJSONResponse(raw, &resp); err != nil {
		return device.Action{}, err
	}
	if !resp.Found {
		p.logger.Debug("Planner found no target element", zap.String("step", hint.Description), zap.String("reason", resp.Reason))
		return device.Action{}, ErrTargetNotResolved
	}
	return device.Action{Kind: device.KindTap, X: resp.X, Y: resp.Y}, nil
}

func (p *LLMPlanner) NextStep(ctx context.Context, instruction string, history []Step, state *schemas.ScreenState) (PlannedStep, error) {
	var sb strings.Builder
	for _, s := range history {
		fmt.Fprintf(&sb, "- [%s] %s\n", s.Status, s.Description)
	}
	if sb.Len() == 0 {
		sb.WriteString("(none yet)\n")
	}
	user := fmt.Sprintf("Task: %s\nExecuted steps:\n%sForeground package: %s\nScreen (%dx%d) elements:\n%s",
		instruction, sb.String(), state.ForegroundPackage, state.ScreenWidth, state.ScreenHeight, renderElements(state))

	raw, err := p.generate(ctx, schemas.TierPowerful, nextStepSystemPrompt, user)
	if err != nil {
		return PlannedStep{}, fmt.Errorf("step planning call failed: %w", err)
	}

	var step PlannedStep
	if err := decodeJSONResponse(raw, &step); err != nil {
		return PlannedStep{}, err
	}
	if !step.Done && step.Action.Kind == "" {
		return PlannedStep{}, ErrPlanningExhausted
	}
	return step, nil
}

func (p *LLMPlanner) JudgeOutcome(ctx context.Context, instruction, stepDescription string, pre, post *schemas.ScreenState) (Verdict, error) {
	user := fmt.Sprintf("Task: %s\nStep just executed: %s\nElements BEFORE:\n%s\nElements AFTER:\n%s\nForeground after: %s",
		instruction, stepDescription, renderElements(pre), renderElements(post), post.ForegroundPackage)
	return p.judge(ctx, judgeOutcomeSystemPrompt, user)
}

func (p *LLMPlanner) JudgeCompletion(ctx context.Context, instruction string, state *schemas.ScreenState) (Verdict, error) {
	user := fmt.Sprintf("Task: %s\nForeground package: %s\nCurrent elements:\n%s",
		instruction, state.ForegroundPackage, renderElements(state))
	return p.judge(ctx, judgeCompletionSystemPrompt, user)
}

func (p *LLMPlanner) judge(ctx context.Context, system, user string) (Verdict, error) {
	raw, err := p.generate(ctx, schemas.TierFast, system, user)
	if err != nil {
		return VerdictAmbiguous, fmt.Errorf("judgment call failed: %w", err)
	}

	var resp struct {
		Verdict string `json:"verdict"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSONResponse(raw, &resp); err != nil {
		return VerdictAmbiguous, err
	}

	switch Verdict(strings.ToLower(resp.Verdict)) {
	case VerdictMet:
		return VerdictMet, nil
	case VerdictNotMet:
		return VerdictNotMet, nil
	default:
		p.logger.Debug("Ambiguous judgment", zap.String("reason", resp.Reason))
		return VerdictAmbiguous, nil
	}
}

func (p *LLMPlanner) SuggestRecovery(ctx context.Context, instruction, failure string, state *schemas.ScreenState) (device.Action, error) {
	user := fmt.Sprintf("Task: %s\nFailure: %s\nForeground package: %s\nCurrent elements:\n%s",
		instruction, failure, state.ForegroundPackage, renderElements(state))

	raw, err := p.generate(ctx, schemas.TierPowerful, suggestRecoverySystemPrompt, user)
	if err != nil {
		return device.Action{}, fmt.Errorf("recovery call failed: %w", err)
	}

	var resp struct {
		Description string        `json:"description"`
		Action      device.Action `json:"action"`
	}
	if err := decodeJSONResponse(raw, &resp); err != nil {
		return device.Action{}, err
	}
	if resp.Action.Kind == "" {
		return device.Action{}, fmt.Errorf("recovery response carried no action")
	}
	return resp.Action, nil
}

// elementView is the compact shape elements take inside prompts.
type elementView struct {
	Index      int    `json:"i"`
	Class      string `json:"class,omitempty"`
	Text       string `json:"text,omitempty"`
	Label      string `json:"label,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Clickable  bool   `json:"clickable,omitempty"`
	CenterX    int    `json:"cx"`
	CenterY    int    `json:"cy"`
}

func renderElements(state *schemas.ScreenState) string {
	if state == nil || len(state.Elements) == 0 {
		return "(no elements captured)"
	}
	views := make([]elementView, len(state.Elements))
	for i, el := range state.Elements {
		views[i] = elementView{
			Index:      i,
			Class:      el.Class,
			Text:       el.Text,
			Label:      el.Label,
			ResourceID: el.ResourceID,
			Clickable:  el.Clickable,
			CenterX:    el.Bounds.CenterX(),
			CenterY:    el.Bounds.CenterY(),
		}
	}
	out, err := json.MarshalToString(views)
	if err != nil {
		return "(element encoding failed)"
	}
	return out
}

var jsonBlockRegex = regexp.MustCompile(`(?s)\{.*\}`)

// decodeJSONResponse pulls the first JSON object out of an LLM reply and
// decodes it, repairing common model-emitted malformations (trailing commas,
// unquoted keys, fenced code blocks) before giving up.
func decodeJSONResponse(raw string, v interface{}) error {
	block := jsonBlockRegex.FindString(raw)
	if block == "" {
		return fmt.Errorf("no JSON object in model response: %q", truncate(raw, 200))
	}
	if err := json.UnmarshalFromString(block, v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(block)
	if err != nil {
		return fmt.Errorf("unparseable model response: %q", truncate(raw, 200))
	}
	if err := json.UnmarshalFromString(repaired, v); err != nil {
		return fmt.Errorf("unparseable model response after repair: %q", truncate(raw, 200))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
