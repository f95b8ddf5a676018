package commands

import (
	"fmt"
	"strconv"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/device"
	"github.com/spf13/cobra"
)

func newDeviceCmd() *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Talk to the duckyPad directly",
	}

	var format string
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show model, serial number and firmware version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(s *device.Session) error {
				info := s.Info()
				switch format {
				case "json":
					return jsonOut(cmd.OutOrStdout(), info)
				case "table":
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Model:    %s\n", info.Model)
					fmt.Fprintf(out, "Serial:   %s\n", info.Serial)
					_, err := fmt.Fprintf(out, "Firmware: %s\n", info.Firmware)
					return err
				default:
					return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
				}
			})
		},
	}
	infoCmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table or json)")

	switchCmd := &cobra.Command{
		Use:   "switch PROFILE",
		Short: "Switch to a profile once",
		Example: `  # Show profile 3
  duckypad-daemon device switch 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid profile: %s", args[0])
			}
			return withSession(cmd, func(s *device.Session) error {
				if err := s.SwitchProfile(config.ProfileID(n)); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %d\n", n)
				return err
			})
		},
	}

	deviceCmd.AddCommand(infoCmd, switchCmd)
	return deviceCmd
}

// withSession connects once, without waiting for an absent device
func withSession(cmd *cobra.Command, fn func(*device.Session) error) error {
	if err := hidBackend.init(); err != nil {
		return fmt.Errorf("failed to initialize HID: %w", err)
	}
	defer hidBackend.exit()

	session := device.NewSession(hidBackend.opener(), device.Options{})
	if err := session.Connect(runContext(cmd)); err != nil {
		return err
	}
	defer session.Close()

	return fn(session)
}
