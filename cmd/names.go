package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yourorg/brokerctl/internal/naming"
	"github.com/yourorg/brokerctl/internal/render"
)

type namesOptions struct {
	target targetOptions
	format string
}

func newNamesCmd(globals *globalOptions) *cobra.Command {
	opts := &namesOptions{format: string(render.FormatTable)}

	cmd := &cobra.Command{
		Use:   "names <module>",
		Short: "Print the resource names a module deployment uses",
		Args:  cobra.ExactArgs(1),
		RunE:  opts.run(globals),
	}

	opts.target.addFlags(cmd)
	cmd.Flags().StringVar(&opts.format, "format", opts.format, "Output format: table|json|yaml")

	return cmd
}

func (opts *namesOptions) run(globals *globalOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		tgt, err := opts.target.resolve(globals, args[0])
		if err != nil {
			return err
		}

		if format != render.FormatTable {
			return render.Structured(cmd.OutOrStdout(), format, tgt.names)
		}
		if err := render.Table(cmd.OutOrStdout(), []string{"RESOURCE", "NAME"}, namesRows(tgt.names)); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
		return nil
	}
}

func namesRows(n naming.Names) [][]string {
	rows := [][]string{
		{"project", n.Project},
		{"region", n.Region},
		{"survey", n.Survey},
		{"testid", n.TestID},
		{"production", strconv.FormatBool(n.Production)},
		{"service", n.Service},
		{"image", n.Image},
		{"repository", n.Repository},
		{"trigger topic", n.TriggerTopic},
		{"trigger topic project", n.TriggerTopicProject},
		{"trigger subscription", n.TriggerSubscription},
		{"dead-letter topic", n.DeadLetterTopic},
		{"invoker account", n.InvokerAccount},
	}
	if n.OutputTopic != "" {
		rows = append(rows, []string{"output topic", n.OutputTopic})
	}
	if n.Table != "" {
		rows = append(rows, []string{"dataset", n.Dataset}, []string{"table", n.TableID()})
	}
	return rows
}
