package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/bryanchriswhite/duckypad-daemon/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// windowReport is the output of the window command
type windowReport struct {
	Window  config.WindowInfo `json:"window"`
	Profile *config.ProfileID `json:"profile"`
}

func newWindowCmd(v *viper.Viper) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show the focused window and the profile it selects",
		Long: `Poll the window collector once and print what the daemon would see,
along with the profile the current rules select for it. Use this to write
rule patterns.`,
		Example: `  # Focus the window you care about within 3 seconds
  sleep 3; duckypad-daemon window

  # JSON output
  duckypad-daemon window --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v)

			provider, err := window.New(window.Options{Script: s.WindowScript, ScriptTimeout: s.ScriptTimeout})
			if err != nil {
				return err
			}
			defer provider.Close()

			ctx, cancel := context.WithTimeout(runContext(cmd), s.ScriptTimeout+s.ScriptTimeout/2)
			defer cancel()
			info, err := provider.Poll(ctx)
			if err != nil {
				return err
			}

			report := windowReport{Window: info}
			rules, err := currentRules(v)
			if err != nil {
				return err
			}
			if profile, ok := rules.Match(info); ok {
				report.Profile = &profile
			}

			switch format {
			case "json":
				return jsonOut(cmd.OutOrStdout(), report)
			case "table":
				return printWindow(cmd.OutOrStdout(), provider.Name(), report)
			default:
				return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table or json)")
	return cmd
}

// currentRules reads the rules without creating a missing file
func currentRules(v *viper.Viper) (config.RuleSet, error) {
	path, err := rulesPath(v)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg.Rules, nil
}

func printWindow(out io.Writer, collector string, r windowReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Collector:\t%s\n", collector)
	fmt.Fprintf(w, "App name:\t%s\n", r.Window.AppName)
	fmt.Fprintf(w, "Title:\t%s\n", r.Window.Title)
	fmt.Fprintf(w, "Process name:\t%s\n", r.Window.ProcessName)
	if r.Window.ProcessID != 0 {
		fmt.Fprintf(w, "PID:\t%d\n", r.Window.ProcessID)
	}
	if r.Window.WindowID != "" {
		fmt.Fprintf(w, "Window ID:\t%s\n", r.Window.WindowID)
	}
	if p := r.Window.Position; p != nil {
		fmt.Fprintf(w, "Geometry:\t%gx%g at (%g, %g)\n", p.W, p.H, p.X, p.Y)
	}
	if r.Profile != nil {
		fmt.Fprintf(w, "Profile:\t%d\n", *r.Profile)
	} else {
		fmt.Fprintf(w, "Profile:\tno matching rule\n")
	}
	return w.Flush()
}
