package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// fakeRunner scripts adb invocations for tests. Each call is matched against
// the joined argument string; unmatched calls fall through to the default.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	scripts map[string]func() ([]byte, error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{scripts: make(map[string]func() ([]byte, error))}
}

func (f *fakeRunner) on(args string, out string, err error) {
	f.scripts[args] = func() ([]byte, error) { return []byte(out), err }
}

func (f *fakeRunner) onFunc(args string, fn func() ([]byte, error)) {
	f.scripts[args] = fn
}

func (f *fakeRunner) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.Join(args, " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	fn := f.scripts[key]
	f.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return []byte("ok"), nil
}

func (f *fakeRunner) callCount(args string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == args {
			n++
		}
	}
	return n
}

func testController(t *testing.T, fr *fakeRunner) *Controller {
	t.Helper()
	c := NewController(config.DeviceConfig{
		ADBPath:            "adb",
		CommandTimeout:     5 * time.Second,
		SessionOpenTimeout: time.Second,
		CaptureMaxAttempts: 3,
		CaptureBackoff:     time.Millisecond,
	}, zaptest.NewLogger(t))
	c.run = fr.run
	return c
}

func TestListDevices(t *testing.T) {
	fr := newFakeRunner()
	fr.on("devices", "List of devices attached\nemulator-5554\tdevice\nFA79K1A00075\tdevice\ndead00beef\toffline\n\n", nil)

	c := testController(t, fr)
	ids, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"emulator-5554", "FA79K1A00075"}, ids)
}

func TestListDevicesEmptyIsNotAnError(t *testing.T) {
	fr := newFakeRunner()
	fr.on("devices", "List of devices attached\n\n", nil)

	c := testController(t, fr)
	ids, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpenSessionProbeFailure(t *testing.T) {
	fr := newFakeRunner()
	fr.on("-s gone shell echo ok", "", fmt.Errorf("adb: %w", ErrDeviceUnreachable))

	c := testController(t, fr)
	_, err := c.OpenSession(context.Background(), "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceUnreachable)

	// The lock must have been released: a healthy retry succeeds immediately.
	fr.on("-s gone shell echo ok", "ok", nil)
	s, err := c.OpenSession(context.Background(), "gone")
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))
}

func TestOpenSessionSerializesPerDevice(t *testing.T) {
	fr := newFakeRunner()
	c := testController(t, fr)

	first, err := c.OpenSession(context.Background(), "emulator-5554")
	require.NoError(t, err)

	// A second caller for the same device blocks until the first closes.
	acquired := make(chan *Session, 1)
	go func() {
		s, err := c.OpenSession(context.Background(), "emulator-5554")
		if err == nil {
			acquired <- s
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second session acquired while the first was still open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Close(context.Background()))

	select {
	case s := <-acquired:
		require.NoError(t, s.Close(context.Background()))
	case <-time.After(2 * time.Second):
		t.Fatal("second session never acquired after the first closed")
	}
}

func TestOpenSessionWaitHonoursCancellation(t *testing.T) {
	fr := newFakeRunner()
	c := testController(t, fr)

	first, err := c.OpenSession(context.Background(), "emulator-5554")
	require.NoError(t, err)
	defer first.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.OpenSession(ctx, "emulator-5554")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenSessionDistinctDevicesDoNotBlock(t *testing.T) {
	fr := newFakeRunner()
	c := testController(t, fr)

	a, err := c.OpenSession(context.Background(), "device-a")
	require.NoError(t, err)
	b, err := c.OpenSession(context.Background(), "device-b")
	require.NoError(t, err)

	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))
}

func TestClassifyADBError(t *testing.T) {
	err := classifyADBError([]string{"shell", "echo"}, errors.New("exit status 1"), "error: device offline")
	assert.ErrorIs(t, err, ErrDeviceUnreachable)

	err = classifyADBError([]string{"shell", "echo"}, errors.New("exit status 1"), "something else broke")
	assert.NotErrorIs(t, err, ErrDeviceUnreachable)
}
