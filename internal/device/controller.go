// internal/device/controller.go
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot-cli/internal/config"
)

// Runner executes one adb invocation and returns its combined stdout. It is a
// seam for tests; production controllers shell out to the configured binary.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Controller wraps the adb transport. It enumerates devices and opens
// exclusive sessions; the per-device lock it hands to each session is the
// serialization point for tasks that target the same device.
type Controller struct {
	cfg    config.DeviceConfig
	logger *zap.Logger
	run    Runner

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewController creates a controller that shells out to the configured adb binary.
func NewController(cfg config.DeviceConfig, logger *zap.Logger) *Controller {
	c := &Controller{
		cfg:    cfg,
		logger: logger.Named("device"),
		locks:  make(map[string]chan struct{}),
	}
	c.run = c.adbRun
	return c
}

// adbRun executes one adb command with the configured per-invocation timeout.
func (c *Controller) adbRun(ctx context.Context, args ...string) ([]byte, error) {
	runCtx := ctx
	if c.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.cfg.ADBPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("adb %s: %w", strings.Join(args, " "), context.DeadlineExceeded)
		}
		return nil, classifyADBError(args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// classifyADBError maps transport-level failures onto the typed error
// vocabulary the orchestrator understands.
func classifyADBError(args []string, err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "offline"),
		strings.Contains(lower, "no devices"),
		strings.Contains(lower, "device unauthorized"):
		return fmt.Errorf("adb %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr), ErrDeviceUnreachable)
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("adb binary not found: %w", err)
	default:
		return fmt.Errorf("adb %s failed: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr), err)
	}
}

// ListDevices enumerates the serial numbers of connected devices. An empty
// result is valid and not an error.
func (c *Controller) ListDevices(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var ids []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			ids = append(ids, fields[0])
		}
	}
	return ids, nil
}

// OpenSession acquires exclusive ownership of the device and verifies contact
// within the configured bound. A second caller for the same device blocks here
// until the first session is closed; cancellation of ctx abandons the wait.
func (c *Controller) OpenSession(ctx context.Context, deviceID string) (*Session, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id must not be empty")
	}

	lock := c.lockFor(deviceID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for device %s: %w", deviceID, ctx.Err())
	}

	release := func() { <-lock }

	probeCtx := ctx
	if c.cfg.SessionOpenTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, c.cfg.SessionOpenTimeout)
		defer cancel()
	}
	if _, err := c.run(probeCtx, "-s", deviceID, "shell", "echo", "ok"); err != nil {
		release()
		return nil, fmt.Errorf("failed to contact device %s: %v: %w", deviceID, err, ErrDeviceUnreachable)
	}

	c.logger.Info("Device session opened", zap.String("device_id", deviceID))
	return &Session{
		deviceID: deviceID,
		cfg:      c.cfg,
		logger:   c.logger.With(zap.String("device_id", deviceID)),
		run:      c.run,
		release:  release,
	}, nil
}

// lockFor returns the buffered-channel lock guarding one device.
func (c *Controller) lockFor(deviceID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[deviceID]
	if !ok {
		lock = make(chan struct{}, 1)
		c.locks[deviceID] = lock
	}
	return lock
}
