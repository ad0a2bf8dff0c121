// internal/device/session.go
package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/api/schemas"
	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// clipperPackage is the clipboard helper service used for non-ASCII text
// injection; "input text" only handles the ASCII range.
const clipperPackage = "ca.zgrs.clipper"

var screenSizeRegex = regexp.MustCompile(`(\d+)x(\d+)`)

// Session is an exclusive, task-scoped handle to one device. It is created by
// Controller.OpenSession, which acquires the per-device lock, and the lock is
// held until Close releases it. A Session is owned by a single task loop and
// is not safe for concurrent use.
type Session struct {
	deviceID string
	cfg      config.DeviceConfig
	logger   *zap.Logger
	run      Runner
	release  func()

	closeOnce sync.Once
	closed    atomic.Bool

	// Cached physical screen size; queried once per session.
	screenW int
	screenH int

	clipperChecked bool
	clipperPresent bool
}

// DeviceID returns the serial of the device this session owns.
func (s *Session) DeviceID() string { return s.deviceID }

// Close releases the transport resources and the per-device lock. It is
// idempotent: the second and later calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.release()
		s.logger.Info("Device session closed")
	})
	return nil
}

// CaptureState captures the current UI hierarchy (and optionally a raster
// screenshot). It is side-effect free and may be called repeatedly. Stalled
// captures are retried with exponential backoff, bounded by the configured
// attempt count; exhaustion surfaces ErrCaptureTimeout.
func (s *Session) CaptureState(ctx context.Context) (*schemas.ScreenState, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}

	width, height, err := s.screenSize(ctx)
	if err != nil {
		return nil, err
	}

	var raw []byte
	operation := func() error {
		out, err := s.run(ctx, "-s", s.deviceID, "exec-out", "uiautomator", "dump", "/dev/tty")
		if err != nil {
			if errors.Is(err, ErrDeviceUnreachable) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				s.logger.Warn("UI capture stalled, retrying", zap.Error(err))
				return fmt.Errorf("%v: %w", err, ErrCaptureTimeout)
			}
			return err
		}
		raw = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	if s.cfg.CaptureBackoff > 0 {
		bo.InitialInterval = s.cfg.CaptureBackoff
	}
	attempts := s.cfg.CaptureMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("capture failed on device %s: %w", s.deviceID, err)
	}

	xmlDump, err := extractHierarchyXML(string(raw))
	if err != nil {
		return nil, fmt.Errorf("capture failed on device %s: %w", s.deviceID, err)
	}

	elements, foreground, err := parseUITree(xmlDump)
	if err != nil {
		return nil, fmt.Errorf("capture failed on device %s: %w", s.deviceID, err)
	}

	state := &schemas.ScreenState{
		Elements:          elements,
		ForegroundPackage: foreground,
		ScreenWidth:       width,
		ScreenHeight:      height,
		CapturedAt:        time.Now().UTC(),
	}

	if s.cfg.Screenshot {
		if png, err := s.run(ctx, "-s", s.deviceID, "exec-out", "screencap", "-p"); err != nil {
			// A missing snapshot degrades verification quality but is not fatal.
			s.logger.Warn("Screenshot capture failed", zap.Error(err))
		} else {
			state.Screenshot = png
		}
	}

	return state, nil
}

// Dispatch performs one input operation. A nil return means the event was
// sent, not that the app responded as expected; verification is the caller's
// concern.
func (s *Session) Dispatch(ctx context.Context, action Action) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	switch action.Kind {
	case KindLaunchApp:
		return s.launchApp(ctx, action.Package)
	case KindTap:
		return s.shell(ctx, "input", "tap", itoa(action.X), itoa(action.Y))
	case KindLongPress:
		dur := action.Duration
		if dur <= 0 {
			dur = 500 * time.Millisecond
		}
		ms := itoa(int(dur.Milliseconds()))
		x, y := itoa(action.X), itoa(action.Y)
		return s.shell(ctx, "input", "touchscreen", "swipe", x, y, x, y, ms)
	case KindSwipe:
		return s.swipe(ctx, action)
	case KindTypeText:
		return s.typeText(ctx, action.Text)
	case KindWait:
		return s.wait(ctx, action.Duration)
	case KindScreenshotCheck:
		// Verification-only step; the capture happens in the verify phase.
		return nil
	case KindCustom:
		keycode, ok := keycodeMap[action.KeyCode]
		if !ok {
			return rejectedf("unsupported key code %q", action.KeyCode)
		}
		return s.shell(ctx, "input", "keyevent", keycode)
	default:
		return rejectedf("unknown action kind %q", action.Kind)
	}
}

// shell runs one "adb -s <id> shell ..." invocation.
func (s *Session) shell(ctx context.Context, args ...string) error {
	full := append([]string{"-s", s.deviceID, "shell"}, args...)
	_, err := s.run(ctx, full...)
	return err
}

// shellOut runs a shell invocation and returns its output.
func (s *Session) shellOut(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-s", s.deviceID, "shell"}, args...)
	out, err := s.run(ctx, full...)
	return string(out), err
}

// screenSize reads and caches the physical display dimensions.
func (s *Session) screenSize(ctx context.Context) (int, int, error) {
	if s.screenW > 0 && s.screenH > 0 {
		return s.screenW, s.screenH, nil
	}
	out, err := s.shellOut(ctx, "wm", "size")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read screen size: %w", err)
	}
	m := screenSizeRegex.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, fmt.Errorf("unexpected wm size output %q", strings.TrimSpace(out))
	}
	s.screenW, _ = strconv.Atoi(m[1])
	s.screenH, _ = strconv.Atoi(m[2])
	return s.screenW, s.screenH, nil
}

// swipe performs either an explicit coordinate swipe or a directional one
// computed from the screen bounds (80/20 travel across the axis).
func (s *Session) swipe(ctx context.Context, action Action) error {
	dur := action.Duration
	if dur <= 0 {
		dur = time.Second
	}
	ms := itoa(int(dur.Milliseconds()))

	x0, y0, x1, y1 := action.X, action.Y, action.ToX, action.ToY
	if action.Direction != "" {
		w, h, err := s.screenSize(ctx)
		if err != nil {
			return err
		}
		switch action.Direction {
		case SwipeUp:
			x0, x1 = w/2, w/2
			y0, y1 = h*80/100, h*20/100
		case SwipeDown:
			x0, x1 = w/2, w/2
			y0, y1 = h*20/100, h*80/100
		case SwipeLeft:
			x0, x1 = w*80/100, w*20/100
			y0, y1 = h/2, h/2
		case SwipeRight:
			x0, x1 = w*20/100, w*80/100
			y0, y1 = h/2, h/2
		default:
			return rejectedf("unsupported swipe direction %q", action.Direction)
		}
	}

	return s.shell(ctx, "input", "swipe", itoa(x0), itoa(y0), itoa(x1), itoa(y1), ms)
}

// typeText injects text. ASCII goes through "input text"; anything else falls
// back to the clipper clipboard service when the device has it installed.
func (s *Session) typeText(ctx context.Context, text string) error {
	if text == "" {
		return rejectedf("type_text requires a non-empty payload")
	}

	if isASCII(text) {
		escaped := strings.ReplaceAll(text, " ", "\\ ")
		return s.shell(ctx, "input", "text", escaped)
	}

	present, err := s.hasClipper(ctx)
	if err != nil {
		return err
	}
	if !present {
		return rejectedf("non-ASCII text requires the %s helper, which is not installed", clipperPackage)
	}

	if err := s.shell(ctx, "am", "startservice", clipperPackage+"/.ClipboardService"); err != nil {
		return err
	}
	if err := s.shell(ctx, "am", "broadcast", "-a", "clipper.set", "-e", "text", fmt.Sprintf("%q", text)); err != nil {
		return err
	}
	return s.shell(ctx, "input", "keyevent", "KEYCODE_PASTE")
}

// hasClipper lazily checks for the clipboard helper and caches the answer.
func (s *Session) hasClipper(ctx context.Context) (bool, error) {
	if s.clipperChecked {
		return s.clipperPresent, nil
	}
	out, err := s.shellOut(ctx, "pm", "list", "packages", clipperPackage)
	if err != nil {
		return false, err
	}
	s.clipperChecked = true
	s.clipperPresent = strings.Contains(out, "package:"+clipperPackage)
	return s.clipperPresent, nil
}

// wait pauses without touching the device, honouring cancellation.
func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launchApp starts an application by package name. Resolution order follows
// the platform's quirks: resolve-activity on modern builds, a launcher
// activity scan on older ROMs, and a monkey invocation as the last resort.
func (s *Session) launchApp(ctx context.Context, pkg string) error {
	if pkg == "" {
		return rejectedf("launch_app requires a package name")
	}

	// Component names ("pkg/.Activity") can be started directly.
	if strings.Contains(pkg, "/") {
		return s.shell(ctx, "am", "start", "--user", "0", "-n", pkg)
	}

	installed, err := s.shellOut(ctx, "pm", "list", "packages", pkg)
	if err != nil {
		return err
	}
	if !containsPackage(installed, pkg) {
		return rejectedf("package %s is not installed on device %s", pkg, s.deviceID)
	}

	if component := s.resolveLauncherActivity(ctx, pkg); component != "" {
		s.logger.Debug("Launching resolved component", zap.String("component", component))
		return s.shell(ctx, "am", "start", "--user", "0", "-n", component)
	}

	// Last resort: monkey can raise the launcher intent without a component.
	s.logger.Debug("Falling back to monkey launch", zap.String("package", pkg))
	return s.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
}

// resolveLauncherActivity finds the package's main launcher component, trying
// the brief resolver first and a full activity scan second.
func (s *Session) resolveLauncherActivity(ctx context.Context, pkg string) string {
	out, err := s.shellOut(ctx, "cmd", "package", "resolve-activity", "--brief",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER", pkg)
	if err == nil {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if strings.Contains(line, "/") && !strings.HasPrefix(strings.ToLower(line), "no activity") {
				return line
			}
		}
	}

	out, err = s.shellOut(ctx, "cmd", "package", "query-activities",
		"-a", "android.intent.action.MAIN",
		"-c", "android.intent.category.LAUNCHER")
	if err != nil {
		return ""
	}

	var currentPkg string
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "packageName="), strings.HasPrefix(line, "package="):
			currentPkg = line[strings.Index(line, "=")+1:]
		case (strings.HasPrefix(line, "name=") || strings.HasPrefix(line, "name:")) && currentPkg == pkg:
			sep := "="
			if !strings.Contains(line, "=") {
				sep = ":"
			}
			name := strings.TrimSpace(line[strings.Index(line, sep)+1:])
			if strings.Contains(name, "/") {
				return name
			}
			return pkg + "/" + name
		}
	}
	return ""
}

// containsPackage reports whether "pm list packages" output names pkg exactly.
func containsPackage(out, pkg string) bool {
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

func itoa(v int) string { return strconv.Itoa(v) }
