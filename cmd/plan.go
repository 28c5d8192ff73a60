package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/render"
)

type planOptions struct {
	target targetOptions
	deploy deployFlags
	action string
	format string
}

func newPlanCmd(globals *globalOptions) *cobra.Command {
	opts := &planOptions{
		action: string(deploy.ActionSetup),
		format: string(render.FormatTable),
	}

	cmd := &cobra.Command{
		Use:   "plan <module>",
		Short: "Show the gcloud and bq commands setup or teardown would run",
		Long: `Prints the steps of a setup or teardown plan without running anything.
--format script emits an executable bash script with the same steps.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(globals),
	}

	opts.target.addFlags(cmd)
	opts.deploy.addFlags(cmd)
	cmd.Flags().StringVar(&opts.action, "action", opts.action, "Plan to show: setup|teardown")
	cmd.Flags().StringVar(&opts.format, "format", opts.format, "Output format: table|json|yaml|script")

	return cmd
}

func (opts *planOptions) run(globals *globalOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(opts.format,
			render.FormatTable, render.FormatJSON, render.FormatYAML, render.FormatScript)
		if err != nil {
			return err
		}
		tgt, err := opts.target.resolve(globals, args[0])
		if err != nil {
			return err
		}
		action := deploy.Action(strings.ToLower(strings.TrimSpace(opts.action)))
		plan, err := buildPlan(action, tgt, opts.deploy.options(tgt.profile))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case render.FormatScript:
			return render.Script(out, plan)
		case render.FormatTable:
			if err := render.PlanTable(out, plan); err != nil {
				return fmt.Errorf("render table: %w", err)
			}
			return nil
		default:
			return render.Structured(out, format, plan)
		}
	}
}
