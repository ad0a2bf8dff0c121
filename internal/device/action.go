// internal/device/action.go
package device

import (
	"time"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
)

// ActionKind is an enumeration of the atomic input operations the transport
// can perform against a device.
type ActionKind string

const (
	KindLaunchApp       ActionKind = "launch_app"       // Start an application by package name.
	KindTap             ActionKind = "tap"              // Single tap at a point.
	KindLongPress       ActionKind = "long_press"       // Press and hold at a point.
	KindSwipe           ActionKind = "swipe"            // Swipe between two points or in a direction.
	KindTypeText        ActionKind = "type_text"        // Inject text into the focused field.
	KindWait            ActionKind = "wait"             // Pause for a duration.
	KindScreenshotCheck ActionKind = "screenshot_check" // No input event; capture-and-verify only.
	KindCustom          ActionKind = "custom"           // Raw key-event injection (BACK, HOME, ...).
)

// SwipeDirection names the four directional swipes whose endpoints are
// computed from the physical screen bounds at dispatch time.
type SwipeDirection string

const (
	SwipeUp    SwipeDirection = "up"
	SwipeDown  SwipeDirection = "down"
	SwipeLeft  SwipeDirection = "left"
	SwipeRight SwipeDirection = "right"
)

// keycodeMap translates the supported logical buttons into Android keycodes.
var keycodeMap = map[string]string{
	"BACK":        "KEYCODE_BACK",
	"HOME":        "KEYCODE_HOME",
	"ENTER":       "KEYCODE_ENTER",
	"VOLUME_UP":   "KEYCODE_VOLUME_UP",
	"VOLUME_DOWN": "KEYCODE_VOLUME_DOWN",
	"DPAD_CENTER": "KEYCODE_DPAD_CENTER",
	"DPAD_UP":     "KEYCODE_DPAD_UP",
	"DPAD_DOWN":   "KEYCODE_DPAD_DOWN",
	"DPAD_LEFT":   "KEYCODE_DPAD_LEFT",
	"DPAD_RIGHT":  "KEYCODE_DPAD_RIGHT",
}

// Action is one concrete input operation. The Kind discriminates which fields
// are meaningful; Validate enforces the per-kind requirements so malformed
// actions are rejected before they reach the wire.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Point actions (tap, long_press) and the origin of a swipe.
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// Swipe destination, when given as explicit coordinates.
	ToX int `json:"to_x,omitempty"`
	ToY int `json:"to_y,omitempty"`

	// Direction-based swipe; endpoints are derived from the screen bounds.
	Direction SwipeDirection `json:"direction,omitempty"`

	// Hold/gesture/wait duration. Zero picks the kind's default.
	Duration time.Duration `json:"duration,omitempty"`

	// Payload for type_text.
	Text string `json:"text,omitempty"`

	// Target package for launch_app.
	Package string `json:"package,omitempty"`

	// Logical button name for custom key-event injection.
	KeyCode string `json:"key_code,omitempty"`
}

// Validate checks the action's parameters against the most recently captured
// screen bounds. Violations are reported as DispatchRejectedError so the
// caller can re-derive the action rather than abort the task.
func (a Action) Validate(bounds schemas.Rect) error {
	switch a.Kind {
	case KindTap, KindLongPress:
		if !bounds.Contains(a.X, a.Y) {
			return rejectedf("point (%d,%d) outside screen bounds %dx%d", a.X, a.Y, bounds.Width, bounds.Height)
		}
	case KindSwipe:
		if a.Direction != "" {
			switch a.Direction {
			case SwipeUp, SwipeDown, SwipeLeft, SwipeRight:
			default:
				return rejectedf("unsupported swipe direction %q", a.Direction)
			}
			return nil
		}
		if !bounds.Contains(a.X, a.Y) || !bounds.Contains(a.ToX, a.ToY) {
			return rejectedf("swipe (%d,%d)->(%d,%d) outside screen bounds %dx%d", a.X, a.Y, a.ToX, a.ToY, bounds.Width, bounds.Height)
		}
	case KindTypeText:
		if a.Text == "" {
			return rejectedf("type_text requires a non-empty payload")
		}
	case KindLaunchApp:
		if a.Package == "" {
			return rejectedf("launch_app requires a package name")
		}
	case KindCustom:
		if _, ok := keycodeMap[a.KeyCode]; !ok {
			return rejectedf("unsupported key code %q", a.KeyCode)
		}
	case KindWait, KindScreenshotCheck:
		// No parameters to validate.
	default:
		return rejectedf("unknown action kind %q", a.Kind)
	}
	return nil
}
