// -- cmd/devices.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot-cli/internal/device"
	"github.com/xkilldash9x/droidpilot-cli/internal/observability"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		controller := device.NewController(cfg.Device, observability.GetLogger())
		ids, err := controller.ListDevices(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no connected devices")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
