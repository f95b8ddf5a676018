package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/bryanchriswhite/duckypad-daemon/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newRulesCmd(v *viper.Viper) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage profile switching rules",
		Long: `View and edit the rules file.

Rules are tried in order and the first enabled rule whose non-empty patterns
are all contained in the focused window's attributes wins. Patterns are
case-sensitive substrings; an empty pattern matches anything, so a rule with
only empty patterns is a catch-all and belongs at the end.

Editing commands always write the current schema. A running daemon picks the
change up on its own.`,
	}

	rulesCmd.AddCommand(
		newRulesShowCmd(v),
		newRulesPathCmd(v),
		newRulesCheckCmd(v),
		newRulesAddCmd(v),
		newRulesRemoveCmd(v),
		newRulesToggleCmd(v, "enable", true),
		newRulesToggleCmd(v, "disable", false),
	)
	return rulesCmd
}

// openRules opens the resolved rules file, creating the default if needed
func openRules(v *viper.Viper) (*config.Store, error) {
	path, err := rulesPath(v)
	if err != nil {
		return nil, err
	}
	return config.Open(path)
}

func newRulesShowCmd(v *viper.Viper) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the rules in effect",
		Example: `  # Numbered table (default)
  duckypad-daemon rules show

  # As YAML, JSON or TOML
  duckypad-daemon rules show --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRules(v)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), store.Config(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json, yaml or toml)")
	return cmd
}

func writeConfig(w io.Writer, cfg *config.Config, format string) error {
	switch format {
	case "table":
		return printRulesTable(w, cfg.Rules)
	case "json":
		data, err := config.Encode(cfg)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return err
		}
		return encoder.Close()
	case "toml":
		return toml.NewEncoder(w).Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table', 'json', 'yaml' or 'toml')", format)
	}
}

func printRulesTable(out io.Writer, rules config.RuleSet) error {
	if len(rules) == 0 {
		_, err := fmt.Fprintln(out, "No rules configured")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tAPP\tTITLE\tPROCESS\tPROFILE\tENABLED")
	fmt.Fprintln(w, "-\t---\t-----\t-------\t-------\t-------")

	for i, r := range rules {
		enabled := "Yes"
		if !r.Enabled {
			enabled = "No"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			i, orAny(r.AppName), orAny(r.Title), orAny(r.ProcessPattern()), r.SwitchTo, enabled)
	}
	return w.Flush()
}

func orAny(pattern string) string {
	if pattern == "" {
		return "*"
	}
	return strconv.Quote(pattern)
}

func newRulesPathCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the rules file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := rulesPath(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

func newRulesCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check [FILE]",
		Short: "Validate a rules file",
		Long:  `Parse a rules file without creating or changing it and report its schema.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error
			if len(args) == 1 {
				path = args[0]
			} else if path, err = rulesPath(v); err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			enabled := 0
			for _, r := range cfg.Rules {
				if r.Enabled {
					enabled++
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (schema %s, %d rules, %d enabled)\n",
				cfg.Path, cfg.Schema, len(cfg.Rules), enabled)
			return err
		},
	}
}

func newRulesAddCmd(v *viper.Viper) *cobra.Command {
	var (
		app      string
		title    string
		process  string
		switchTo uint32
		disabled bool
		position int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Example: `  # Profile 2 for VS Code
  duckypad-daemon rules add --app code --switch-to 2

  # Profile 3 for Firefox windows with "YouTube" in the title, tried first
  duckypad-daemon rules add --process firefox --title YouTube --switch-to 3 --position 0

  # Catch-all fallback to profile 1
  duckypad-daemon rules add --switch-to 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := config.Rule{
				AppName:  app,
				Title:    title,
				Enabled:  !disabled,
				SwitchTo: config.ProfileID(switchTo),
			}
			if cmd.Flags().Changed("process") {
				rule.ProcessName = &process
			}

			store, err := openRules(v)
			if err != nil {
				return err
			}

			var index int
			err = store.Update(func(cfg *config.Config) error {
				index = position
				if index < 0 || index > len(cfg.Rules) {
					index = len(cfg.Rules)
				}
				cfg.Rules = append(cfg.Rules, config.Rule{})
				copy(cfg.Rules[index+1:], cfg.Rules[index:])
				cfg.Rules[index] = rule
				return nil
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added rule %d: %s\n", index, rule)
			return err
		},
	}

	cmd.Flags().StringVar(&app, "app", "", "app name pattern")
	cmd.Flags().StringVar(&title, "title", "", "window title pattern")
	cmd.Flags().StringVar(&process, "process", "", "process name pattern")
	cmd.Flags().Uint32Var(&switchTo, "switch-to", 0, "profile to switch to")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the rule disabled")
	cmd.Flags().IntVar(&position, "position", -1, "insert at this index (default appends)")
	_ = cmd.MarkFlagRequired("switch-to")
	return cmd
}

// parseIndex validates a rule index argument against the rule count
func parseIndex(arg string, count int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid rule index: %s", arg)
	}
	if i < 0 || i >= count {
		return 0, fmt.Errorf("rule index %d out of range (have %d rules)", i, count)
	}
	return i, nil
}

func newRulesRemoveCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove INDEX",
		Short: "Remove a rule",
		Long:  `Remove the rule at INDEX as listed by "rules show".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRules(v)
			if err != nil {
				return err
			}

			var removed config.Rule
			err = store.Update(func(cfg *config.Config) error {
				i, err := parseIndex(args[0], len(cfg.Rules))
				if err != nil {
					return err
				}
				removed = cfg.Rules[i]
				cfg.Rules = append(cfg.Rules[:i], cfg.Rules[i+1:]...)
				return nil
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed rule %s: %s\n", args[0], removed)
			return err
		},
	}
}

func newRulesToggleCmd(v *viper.Viper, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " INDEX",
		Short: fmt.Sprintf("%s a rule", capitalize(verb)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openRules(v)
			if err != nil {
				return err
			}

			var rule config.Rule
			err = store.Update(func(cfg *config.Config) error {
				i, err := parseIndex(args[0], len(cfg.Rules))
				if err != nil {
					return err
				}
				cfg.Rules[i].Enabled = enabled
				rule = cfg.Rules[i]
				return nil
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Rule %s: %s\n", args[0], rule)
			return err
		},
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

// jsonOut writes v as indented JSON
func jsonOut(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
