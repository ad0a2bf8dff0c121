package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

func TestActionValidate(t *testing.T) {
	screen := schemas.Rect{X: 0, Y: 0, Width: 1080, Height: 1920}

	tests := []struct {
		name     string
		action   Action
		rejected bool
	}{
		{name: "tap in bounds", action: Action{Kind: KindTap, X: 540, Y: 960}},
		{name: "tap out of bounds", action: Action{Kind: KindTap, X: 2000, Y: 100}, rejected: true},
		{name: "tap negative", action: Action{Kind: KindTap, X: -1, Y: 10}, rejected: true},
		{name: "long press in bounds", action: Action{Kind: KindLongPress, X: 10, Y: 10}},
		{name: "directional swipe", action: Action{Kind: KindSwipe, Direction: SwipeUp}},
		{name: "bad swipe direction", action: Action{Kind: KindSwipe, Direction: "diagonal"}, rejected: true},
		{name: "coordinate swipe", action: Action{Kind: KindSwipe, X: 100, Y: 100, ToX: 100, ToY: 800}},
		{name: "coordinate swipe exits screen", action: Action{Kind: KindSwipe, X: 100, Y: 100, ToX: 100, ToY: 5000}, rejected: true},
		{name: "type text", action: Action{Kind: KindTypeText, Text: "hello"}},
		{name: "empty text", action: Action{Kind: KindTypeText}, rejected: true},
		{name: "launch app", action: Action{Kind: KindLaunchApp, Package: "com.example"}},
		{name: "launch without package", action: Action{Kind: KindLaunchApp}, rejected: true},
		{name: "known keycode", action: Action{Kind: KindCustom, KeyCode: "BACK"}},
		{name: "unknown keycode", action: Action{Kind: KindCustom, KeyCode: "FLIP"}, rejected: true},
		{name: "wait", action: Action{Kind: KindWait}},
		{name: "screenshot check", action: Action{Kind: KindScreenshotCheck}},
		{name: "unknown kind", action: Action{Kind: "teleport"}, rejected: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate(screen)
			if tc.rejected {
				require.Error(t, err)
				assert.True(t, IsDispatchRejected(err), "expected a dispatch rejection, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsDispatchRejected(t *testing.T) {
	assert.True(t, IsDispatchRejected(rejectedf("nope")))
	assert.False(t, IsDispatchRejected(ErrDeviceUnreachable))
	assert.False(t, IsDispatchRejected(nil))
}
