package cmd

import (
	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/render"
)

type setupOptions struct {
	target targetOptions
	deploy deployFlags
	format string
}

func newSetupCmd(globals *globalOptions) *cobra.Command {
	opts := &setupOptions{format: string(render.FormatTable)}

	cmd := &cobra.Command{
		Use:   "setup <module>",
		Short: "Create the BigQuery table, Pub/Sub topics and Cloud Run service for a module",
		Long: `Creates the resources a classifier module needs, in order: BigQuery dataset
and table, output topic, dead-letter topic, Artifact Registry repository,
container image, Cloud Run service, invoker binding and the push subscription
that triggers the service. Resources that already exist are left in place.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(globals),
	}

	opts.target.addFlags(cmd)
	opts.deploy.addFlags(cmd)
	cmd.Flags().StringVar(&opts.format, "format", opts.format, "Output format: table|json|yaml")

	return cmd
}

func (opts *setupOptions) run(globals *globalOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		tgt, err := opts.target.resolve(globals, args[0])
		if err != nil {
			return err
		}
		plan, err := deploy.PlanSetup(tgt.names, tgt.module, opts.deploy.options(tgt.profile))
		if err != nil {
			return err
		}
		return executePlan(cmd, globals, plan, format, opts.deploy.metricsFile)
	}
}
