package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
)

// -- testify mocks for the planner and resolver --

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, instruction string) (knowledge.Resolution, error) {
	args := m.Called(ctx, instruction)
	res, _ := args.Get(0).(knowledge.Resolution)
	return res, args.Error(1)
}

type mockPlanner struct{ mock.Mock }

func (m *mockPlanner) ResolveTarget(ctx context.Context, instruction string, hint knowledge.LocatorHint, state *schemas.ScreenState) (device.Action, error) {
	args := m.Called(ctx, instruction, hint, state)
	action, _ := args.Get(0).(device.Action)
	return action, args.Error(1)
}

func (m *mockPlanner) NextStep(ctx context.Context, instruction string, history []Step, state *schemas.ScreenState) (PlannedStep, error) {
	args := m.Called(ctx, instruction, history, state)
	step, _ := args.Get(0).(PlannedStep)
	return step, args.Error(1)
}

func (m *mockPlanner) JudgeOutcome(ctx context.Context, instruction, stepDescription string, pre, post *schemas.ScreenState) (Verdict, error) {
	args := m.Called(ctx, instruction, stepDescription, pre, post)
	verdict, _ := args.Get(0).(Verdict)
	return verdict, args.Error(1)
}

func (m *mockPlanner) JudgeCompletion(ctx context.Context, instruction string, state *schemas.ScreenState) (Verdict, error) {
	args := m.Called(ctx, instruction, state)
	verdict, _ := args.Get(0).(Verdict)
	return verdict, args.Error(1)
}

func (m *mockPlanner) SuggestRecovery(ctx context.Context, instruction, failure string, state *schemas.ScreenState) (device.Action, error) {
	args := m.Called(ctx, instruction, failure, state)
	action, _ := args.Get(0).(device.Action)
	return action, args.Error(1)
}

// -- scripted device session fake --

// fakeSession replays a scripted sequence of captures and records every
// dispatched action. Optional hooks inject per-call failures.
type fakeSession struct {
	deviceID string
	captures []*schemas.ScreenState
	captureN int

	dispatched []device.Action
	closed     int

	captureErr  func(call int) error
	dispatchErr func(call int, a device.Action) error
	onDispatch  func(call int, a device.Action)
}

func (f *fakeSession) DeviceID() string { return f.deviceID }

func (f *fakeSession) CaptureState(ctx context.Context) (*schemas.ScreenState, error) {
	call := f.captureN
	f.captureN++
	if f.captureErr != nil {
		if err := f.captureErr(call); err != nil {
			return nil, err
		}
	}
	if len(f.captures) == 0 {
		return &schemas.ScreenState{ScreenWidth: 1080, ScreenHeight: 1920}, nil
	}
	if call >= len(f.captures) {
		return f.captures[len(f.captures)-1], nil
	}
	return f.captures[call], nil
}

func (f *fakeSession) Dispatch(ctx context.Context, a device.Action) error {
	call := len(f.dispatched)
	if f.onDispatch != nil {
		f.onDispatch(call, a)
	}
	if f.dispatchErr != nil {
		if err := f.dispatchErr(call, a); err != nil {
			return err
		}
	}
	f.dispatched = append(f.dispatched, a)
	return nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.closed++
	return nil
}

type fakeOpener struct {
	session *fakeSession
	err     error
}

func (f *fakeOpener) OpenSession(ctx context.Context, deviceID string) (DeviceSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.session.deviceID = deviceID
	return f.session, nil
}

// -- screen state builders --

func screenWith(pkg string, labels ...string) *schemas.ScreenState {
	state := &schemas.ScreenState{
		ForegroundPackage: pkg,
		ScreenWidth:       1080,
		ScreenHeight:      1920,
	}
	for i, text := range labels {
		state.Elements = append(state.Elements, schemas.UIElement{
			Class:     "android.widget.TextView",
			Text:      text,
			Clickable: true,
			Bounds:    schemas.Rect{X: 100, Y: 200 + i*100, Width: 400, Height: 80},
		})
	}
	return state
}
