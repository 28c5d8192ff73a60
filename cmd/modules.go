package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/catalog"
	"github.com/yourorg/brokerctl/internal/render"
)

func newModulesCmd(globals *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect the classifier modules brokerctl can deploy",
	}

	cmd.AddCommand(newModulesListCmd(globals))

	return cmd
}

func newModulesListCmd(_ *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the known modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			modules := catalog.All()
			if f != render.FormatTable {
				return render.Structured(cmd.OutOrStdout(), f, modules)
			}

			rows := make([][]string, 0, len(modules))
			for _, m := range modules {
				rows = append(rows, []string{
					m.Name,
					m.Classifier,
					m.TopicBase,
					m.Table,
					strconv.Itoa(m.Schema.Len()),
					m.Description,
				})
			}
			headers := []string{"NAME", "CLASSIFIER", "TOPIC", "TABLE", "COLUMNS", "DESCRIPTION"}
			if err := render.Table(cmd.OutOrStdout(), headers, rows); err != nil {
				return fmt.Errorf("render table: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(render.FormatTable), "Output format: table|json|yaml")

	return cmd
}
