package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/brokerctl/internal/bqschema"
	"github.com/yourorg/brokerctl/internal/catalog"
	"github.com/yourorg/brokerctl/internal/config"
	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/naming"
	"github.com/yourorg/brokerctl/internal/render"
)

const defaultTestID = "test"

// targetOptions selects which deployment of a module a command acts on.
type targetOptions struct {
	testid              string
	survey              string
	triggerTopic        string
	triggerTopicProject string
	schemaFile          string
}

type target struct {
	profile config.Profile
	module  catalog.Module
	names   naming.Names
}

func (t *targetOptions) addFlags(cmd *cobra.Command) {
	if t.testid == "" {
		t.testid = defaultTestID
	}
	flags := cmd.Flags()
	flags.StringVar(&t.testid, "testid", t.testid, `Test id appended to resource names; "False" targets production`)
	flags.StringVar(&t.survey, "survey", "", "Survey name (defaults to the profile, then the module default)")
	flags.StringVar(&t.triggerTopic, "trigger-topic", "", "Pub/Sub topic that triggers the module (default {survey}-alerts[-{testid}])")
	flags.StringVar(&t.triggerTopicProject, "trigger-topic-project", "", "Project owning the trigger topic (defaults to --project)")
	flags.StringVar(&t.schemaFile, "schema-file", "", "BigQuery schema JSON overriding the module's built-in table schema")
}

func (t *targetOptions) resolve(globals *globalOptions, moduleName string) (target, error) {
	profile, err := config.LoadProfile(globals.profile)
	if err != nil {
		return target{}, fmt.Errorf("load profile: %w", err)
	}
	if globals.project != "" {
		profile.Project = globals.project
	}
	if globals.region != "" {
		profile.Region = globals.region
	}

	module, err := catalog.Lookup(moduleName)
	if err != nil {
		return target{}, err
	}
	if t.schemaFile != "" {
		schema, err := bqschema.Load(t.schemaFile)
		if err != nil {
			return target{}, err
		}
		module = module.WithSchema(schema)
	}

	survey := firstNonEmpty(t.survey, profile.Survey, module.DefaultSurvey)
	names, err := naming.Resolve(naming.Input{
		Project:             profile.Project,
		Region:              profile.Region,
		Survey:              strings.ToLower(survey),
		TestID:              t.testid,
		Module:              module.Name,
		TopicBase:           module.TopicBase,
		Table:               module.Table,
		TriggerTopic:        t.triggerTopic,
		TriggerTopicProject: firstNonEmpty(t.triggerTopicProject, profile.TriggerTopicProject),
		InvokerAccount:      profile.InvokerServiceAccount,
	})
	if err != nil {
		return target{}, fmt.Errorf("resolve names: %w", err)
	}
	return target{profile: profile, module: module, names: names}, nil
}

// deployFlags tunes plan construction.
type deployFlags struct {
	source              string
	workDir             string
	metricsFile         string
	maxDeliveryAttempts int
	skipBuild           bool
	includeShared       bool
}

func (d *deployFlags) addFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&d.source, "source", ".", "Directory holding the module's Dockerfile")
	flags.StringVar(&d.workDir, "work-dir", filepath.Join(os.TempDir(), "brokerctl"), "Directory for generated schema files")
	flags.StringVar(&d.metricsFile, "metrics-file", "", "Write step metrics here for the node_exporter textfile collector")
	flags.IntVar(&d.maxDeliveryAttempts, "max-delivery-attempts", 0, "Dead-letter threshold for the trigger subscription (default 5)")
	flags.BoolVar(&d.skipBuild, "skip-build", false, "Deploy the existing image without running Cloud Build")
	flags.BoolVar(&d.includeShared, "include-shared", false, "Also delete the dataset, dead-letter topic and repository on teardown")
}

func (d *deployFlags) options(profile config.Profile) deploy.Options {
	return deploy.Options{
		SourceDir:           d.source,
		WorkDir:             d.workDir,
		BigQueryLocation:    profile.BigQueryLocation,
		MaxDeliveryAttempts: d.maxDeliveryAttempts,
		SkipBuild:           d.skipBuild,
		IncludeShared:       d.includeShared,
	}
}

func buildPlan(action deploy.Action, tgt target, opts deploy.Options) (deploy.Plan, error) {
	switch action {
	case deploy.ActionSetup:
		return deploy.PlanSetup(tgt.names, tgt.module, opts)
	case deploy.ActionTeardown:
		return deploy.PlanTeardown(tgt.names, tgt.module, opts)
	default:
		return deploy.Plan{}, fmt.Errorf("unknown action %q (expected setup or teardown)", action)
	}
}

// executePlan runs plan and renders the report. The report is rendered even when a step fails.
func executePlan(cmd *cobra.Command, globals *globalOptions, plan deploy.Plan, format render.Format, metricsFile string) error {
	runner, cleanup, err := buildRunner(globals)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := globals.log().With(zap.String("profile", globals.profile), zap.Bool("dry_run", globals.dryRun))
	executor := deploy.NewExecutor(runner, logger)
	if globals.dryRun {
		executor.WithFileWriter(func(string, []byte) error { return nil })
	}

	report, execErr := executor.Execute(cmd.Context(), plan)
	if err := renderReport(cmd, report, format); err != nil {
		return err
	}
	if metricsFile != "" && !globals.dryRun {
		metrics := deploy.NewMetrics()
		metrics.Observe(report)
		if err := metrics.WriteTextfile(metricsFile); err != nil {
			logger.Warn("metrics not written", zap.String("path", metricsFile), zap.Error(err))
		}
	}
	if execErr != nil {
		return fmt.Errorf("%s %s: %w", plan.Action, plan.Module, execErr)
	}
	return nil
}

func renderReport(cmd *cobra.Command, report deploy.Report, format render.Format) error {
	out := cmd.OutOrStdout()
	if format == render.FormatTable {
		if err := render.ReportTable(out, report); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
		return nil
	}
	if err := render.Structured(out, format, report); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
