package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/render"
)

type teardownOptions struct {
	target targetOptions
	deploy deployFlags
	format string
	yes    bool
}

func newTeardownCmd(globals *globalOptions) *cobra.Command {
	opts := &teardownOptions{format: string(render.FormatTable)}

	cmd := &cobra.Command{
		Use:   "teardown <module>",
		Short: "Delete a test deployment of a module",
		Long: `Deletes the trigger subscription and Cloud Run service, then the output
topic and BigQuery table. --include-shared also removes the dataset,
dead-letter topic and repository. Production (testid False) is refused.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(globals),
	}

	opts.target.addFlags(cmd)
	opts.deploy.addFlags(cmd)
	cmd.Flags().StringVar(&opts.format, "format", opts.format, "Output format: table|json|yaml")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Skip the interactive confirmation")

	return cmd
}

func (opts *teardownOptions) run(globals *globalOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		tgt, err := opts.target.resolve(globals, args[0])
		if err != nil {
			return err
		}
		plan, err := deploy.PlanTeardown(tgt.names, tgt.module, opts.deploy.options(tgt.profile))
		if err != nil {
			return err
		}

		if !opts.yes && !globals.dryRun {
			if err := confirmTeardown(cmd, plan); err != nil {
				return err
			}
		}
		return executePlan(cmd, globals, plan, format, opts.deploy.metricsFile)
	}
}

// confirmTeardown asks the user to type the testid before anything is deleted.
func confirmTeardown(cmd *cobra.Command, plan deploy.Plan) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return errors.New("teardown needs confirmation: pass --yes when stdin is not a terminal")
	}
	return promptConfirmation(cmd.OutOrStdout(), f, plan)
}

func promptConfirmation(w io.Writer, r io.Reader, plan deploy.Plan) error {
	if _, err := fmt.Fprintf(w, "About to delete %d resources for %s (testid %s) in %s:\n",
		len(plan.Steps), plan.Module, plan.Names.TestID, plan.Names.Project); err != nil {
		return fmt.Errorf("prompt confirmation: %w", err)
	}
	for _, step := range plan.Steps {
		if _, err := fmt.Fprintf(w, "  - %s\n", step.Name); err != nil {
			return fmt.Errorf("prompt confirmation: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "Type the testid to continue: "); err != nil {
		return fmt.Errorf("prompt confirmation: %w", err)
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != plan.Names.TestID {
		return errors.New("teardown cancelled")
	}
	return nil
}
