package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/grove/am"
	"github.com/teranos/grove/errors"
)

func newAmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "am",
		Short: "Show and validate configuration",
		Long: `am - grove configuration ("I am")

Configuration cascade (later overrides earlier):
  1. Built-in defaults
  2. /etc/grove/am.toml
  3. ~/.grove/am.toml
  4. ~/.grove/am_overrides.toml (written by "grove jobs toggle --persist")
  5. ./am.toml (searches up directories)
  6. GROVE_* environment variables

Examples:
  grove am show
  grove am show --format json
  grove am get scheduler.alignment
  grove am where`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runAmShow,
	}
	show.Flags().String("format", "toml", "Output format: toml, json, yaml")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Get one value by dotted key (e.g. scoring.streak_bonus)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intro, err := am.GetConfigIntrospection()
			if err != nil {
				return err
			}
			for _, s := range intro.Settings {
				if s.Key == args[0] {
					fmt.Fprintln(cmd.OutOrStdout(), s.Value)
					return nil
				}
			}
			return errors.NewNotFoundError("configuration key %q", args[0])
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// loading validates
			if _, err := loadConfig(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}

	where := &cobra.Command{
		Use:   "where",
		Short: "Show which files and variables supplied each setting",
		Args:  cobra.NoArgs,
		RunE:  runAmWhere,
	}

	cmd.AddCommand(show, get, validate, where)
	return cmd
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	masked := *cfg
	if masked.Integrity.Secret != "" {
		masked.Integrity.Secret = "********"
	}

	format, _ := cmd.Flags().GetString("format")
	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(masked, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(masked)
	case "toml":
		data, err = toml.Marshal(masked)
	default:
		return errors.NewInvalidRequestError("unsupported format %q (supported: toml, json, yaml)", format)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to marshal config to %s", format)
	}

	out := cmd.OutOrStdout()
	if format != "json" {
		fmt.Fprintln(out, "# grove configuration")
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Files checked:")
	for _, path := range am.CandidateFiles() {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "loaded"
		}
		fmt.Fprintf(out, "  [%s] %s\n", state, path)
	}
	fmt.Fprintln(out)

	counts := intro.CountBySource()
	sources := make([]string, 0, len(counts))
	for src := range counts {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	fmt.Fprintln(out, "Settings by source:")
	for _, src := range sources {
		fmt.Fprintf(out, "  %-12s %d\n", src, counts[am.ConfigSource(src)])
	}
	fmt.Fprintln(out)

	rows := [][]string{{"KEY", "VALUE", "SOURCE"}}
	for _, s := range intro.Settings {
		if s.Source == am.SourceDefault {
			continue
		}
		origin := string(s.Source)
		if s.SourcePath != "" {
			origin = s.SourcePath
		}
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), origin})
	}
	if len(rows) == 1 {
		fmt.Fprintln(out, "All settings are defaults")
		return nil
	}
	return renderTable(out, rows)
}
