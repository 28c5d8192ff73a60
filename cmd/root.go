package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/brokerctl/internal/config"
)

type globalOptions struct {
	profile   string
	project   string
	region    string
	logFormat string
	dryRun    bool
	verbose   bool

	logger *zap.Logger
}

var globals = &globalOptions{
	profile:   config.DefaultProfile,
	logFormat: logFormatJSON,
}

var rootCmd = newRootCmd(globals)

// Execute runs the command hierarchy. An interrupt cancels in-flight gcloud calls.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("execute command: %w", err)
	}
	return nil
}

func newRootCmd(globals *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "Provision and tear down the broker's classifier modules on Google Cloud",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(globals.verbose, globals.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			globals.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if globals.logger != nil {
				_ = globals.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&globals.profile, "profile", globals.profile, "Config profile to use")
	flags.StringVar(&globals.project, "project", "", "Google Cloud project (overrides the profile and "+config.ProjectEnv+")")
	flags.StringVar(&globals.region, "region", "", "Cloud Run and Artifact Registry region (overrides the profile)")
	flags.BoolVar(&globals.dryRun, "dry-run", false, "Print the commands instead of running them")
	flags.BoolVarP(&globals.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&globals.logFormat, "log-format", globals.logFormat, "Log encoding: json|console")

	root.SetErr(os.Stderr)
	root.SetOut(os.Stdout)

	root.AddCommand(newAuthCmd(globals))
	root.AddCommand(newConfigCmd(globals))
	root.AddCommand(newModulesCmd(globals))
	root.AddCommand(newNamesCmd(globals))
	root.AddCommand(newPlanCmd(globals))
	root.AddCommand(newSetupCmd(globals))
	root.AddCommand(newTeardownCmd(globals))
	root.AddCommand(newRunCmd(globals))

	return root
}

// log returns the command logger, or a no-op logger before PersistentPreRunE has run.
func (g *globalOptions) log() *zap.Logger {
	if g.logger == nil {
		return zap.NewNop()
	}
	return g.logger
}
