package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/config"
	"github.com/yourorg/brokerctl/internal/render"
)

func newConfigCmd(globals *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage profile settings",
	}

	cmd.AddCommand(newConfigSetCmd(globals))
	cmd.AddCommand(newConfigShowCmd(globals))

	return cmd
}

func newConfigSetCmd(globals *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Store a setting in the active profile",
		Long:      "Stores a setting in the active profile. An empty value clears it.",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveSetting(globals.profile, args[0], args[1]); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Saved %s for profile %q\n", args[0], globals.profile); err != nil {
				return fmt.Errorf("write confirmation: %w", err)
			}
			return nil
		},
	}
}

func newConfigShowCmd(globals *globalOptions) *cobra.Command {
	format := string(render.FormatYAML)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings for the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := render.ParseFormat(format, render.FormatYAML, render.FormatJSON)
			if err != nil {
				return err
			}
			profile, err := config.LoadProfile(globals.profile)
			if err != nil {
				return err
			}
			return render.Structured(cmd.OutOrStdout(), f, profile)
		},
	}

	cmd.Flags().StringVar(&format, "format", format, "Output format: yaml|json")

	return cmd
}
