package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/render"
)

type runOptions struct {
	target targetOptions
	deploy deployFlags
	format string
}

func newRunCmd(globals *globalOptions) *cobra.Command {
	opts := &runOptions{format: string(render.FormatTable)}

	cmd := &cobra.Command{
		Use:   "run <module> [testid] [survey] [teardown] [trigger-topic] [trigger-topic-project]",
		Short: "Set up or tear down a module using positional arguments",
		Long: `Positional form for existing deployment scripts. teardown is True or False
(default False). Omitted arguments fall back to the profile and the defaults.
Teardown runs without a confirmation prompt; production is still refused.`,
		Example: `  brokerctl run supernnova mytest elasticc False elasticc-loop elasticc-challenge
  brokerctl run microlia mytest elasticc True`,
		Args: cobra.RangeArgs(1, 6),
		RunE: opts.run(globals),
	}

	opts.deploy.addFlags(cmd)
	cmd.Flags().StringVar(&opts.target.schemaFile, "schema-file", "", "BigQuery schema JSON overriding the module's built-in table schema")
	cmd.Flags().StringVar(&opts.format, "format", opts.format, "Output format: table|json|yaml")

	return cmd
}

func (opts *runOptions) run(globals *globalOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(opts.format)
		if err != nil {
			return err
		}

		action := opts.applyArgs(args)
		tgt, err := opts.target.resolve(globals, args[0])
		if err != nil {
			return err
		}
		plan, err := buildPlan(action, tgt, opts.deploy.options(tgt.profile))
		if err != nil {
			return err
		}
		return executePlan(cmd, globals, plan, format, opts.deploy.metricsFile)
	}
}

// applyArgs copies the positional arguments into the target and returns the action.
func (opts *runOptions) applyArgs(args []string) deploy.Action {
	arg := func(n int) string {
		if n < len(args) {
			return strings.TrimSpace(args[n])
		}
		return ""
	}
	opts.target.testid = firstNonEmpty(arg(1), defaultTestID)
	opts.target.survey = arg(2)
	opts.target.triggerTopic = arg(4)
	opts.target.triggerTopicProject = arg(5)

	if strings.EqualFold(arg(3), "true") {
		return deploy.ActionTeardown
	}
	return deploy.ActionSetup
}
