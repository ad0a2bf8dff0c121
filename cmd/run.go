// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot-cli/internal/agent"
	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/knowledge"
	"github.com/xkilldash9x/droidpilot-cli/internal/llmclient"
	"github.com/xkilldash9x/droidpilot-cli/internal/observability"
)

var (
	flagDevice string
	flagOutput string
)

var runCmd = &cobra.Command{
	Use:   "run [instruction...]",
	Short: "Execute one task per natural-language instruction against a device",
	Long: `Each instruction becomes one task: intent is resolved against the knowledge
store, steps are planned and dispatched over adb, and every step is verified
before the next one runs. Instructions run concurrently; tasks that target the
same device are serialized by the device session lock.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTasks,
}

func init() {
	runCmd.Flags().StringVarP(&flagDevice, "device", "d", "", "device serial (defaults to the first connected device)")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "write the task outcome log to this file as JSON")
	rootCmd.AddCommand(runCmd)
}

// adbSessions adapts the device controller to the agent's session contract.
type adbSessions struct {
	controller *device.Controller
}

func (s adbSessions) OpenSession(ctx context.Context, deviceID string) (agent.DeviceSession, error) {
	return s.controller.OpenSession(ctx, deviceID)
}

func runTasks(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm, err := llmclient.NewClient(cfg.Agent, logger)
	if err != nil {
		return fmt.Errorf("failed to build LLM client: %w", err)
	}
	defer llm.Close()

	var searcher knowledge.Searcher
	if store, err := knowledge.NewStore(cfg.Knowledge, logger); err != nil {
		logger.Warn("Knowledge store unavailable, tasks will plan without knowledge", zap.Error(err))
		searcher = knowledge.UnavailableStore{}
	} else {
		searcher = store
	}

	controller := device.NewController(cfg.Device, logger)
	deviceID, err := pickDevice(ctx, controller)
	if err != nil {
		return err
	}

	assistant := knowledge.NewAssistant(searcher, llm, cfg.Knowledge, logger)
	planner := agent.NewLLMPlanner(llm, cfg.Agent.LLMTimeout, logger)
	pilot := agent.New(adbSessions{controller: controller}, assistant, planner, cfg.Agent, logger)

	outcomes := make([]*agent.TaskOutcome, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, instruction := range args {
		i, instruction := i, instruction
		g.Go(func() error {
			outcomes[i] = pilot.Run(gctx, agent.NewTaskRequest(instruction, deviceID))
			return nil
		})
	}
	// Task failures are reported through outcomes, never as group errors.
	_ = g.Wait()

	if flagOutput != "" {
		if err := writeOutcomes(flagOutput, outcomes); err != nil {
			return err
		}
	}

	failed := 0
	for _, o := range outcomes {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%d steps) %s\n", o.Status, o.Instruction, len(o.Steps), o.Summary)
		if o.Status != agent.TaskCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(outcomes))
	}
	return nil
}

// pickDevice resolves the target device: the --device flag when given,
// otherwise the first enumerated device.
func pickDevice(ctx context.Context, controller *device.Controller) (string, error) {
	if flagDevice != "" {
		return flagDevice, nil
	}
	ids, err := controller.ListDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no connected devices; plug one in or pass --device")
	}
	return ids[0], nil
}

func writeOutcomes(path string, outcomes []*agent.TaskOutcome) error {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write outcome log: %w", err)
	}
	return nil
}
