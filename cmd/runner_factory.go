package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/yourorg/brokerctl/internal/config"
	"github.com/yourorg/brokerctl/internal/gcloud"
)

// dryRunURLSuffix stands in for the Cloud Run URL when nothing is deployed.
const dryRunURLSuffix = "-dry-run.a.run.app"

var runnerFactory = defaultRunnerFactory

// defaultRunnerFactory returns the runner for the profile and a cleanup func.
// A stored access token is written to a private temp file for gcloud to read.
func defaultRunnerFactory(globals *globalOptions) (gcloud.Runner, func(), error) {
	if globals.dryRun {
		return newDryRunRunner(), func() {}, nil
	}

	token, ok, err := config.LoadToken(globals.profile)
	if err != nil {
		return nil, nil, fmt.Errorf("load auth: %w", err)
	}
	if !ok {
		return gcloud.NewExecRunner(gcloud.ExecConfig{}), func() {}, nil
	}

	f, err := os.CreateTemp("", "brokerctl-token-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create token file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(token); err != nil {
		_ = f.Close()
		cleanup()
		return nil, nil, fmt.Errorf("write token file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("close token file: %w", err)
	}

	globals.log().Debug("using stored access token", zap.String("profile", globals.profile))
	return gcloud.NewExecRunner(gcloud.ExecConfig{AccessTokenFile: f.Name()}), cleanup, nil
}

// newDryRunRunner records commands and answers service URL lookups with a placeholder.
func newDryRunRunner() *gcloud.RecordingRunner {
	return &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if cmd.Tool == gcloud.ToolGcloud && len(cmd.Args) > 3 &&
			cmd.Args[0] == "run" && cmd.Args[1] == "services" && cmd.Args[2] == "describe" {
			return "https://" + cmd.Args[3] + dryRunURLSuffix, nil
		}
		return "", nil
	}}
}

func buildRunner(globals *globalOptions) (gcloud.Runner, func(), error) {
	return runnerFactory(globals)
}
