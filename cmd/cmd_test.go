package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/yourorg/brokerctl/internal/config"
	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/gcloud"
	"github.com/yourorg/brokerctl/internal/naming"
)

const testProject = "my-broker-project"

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.ProjectEnv, "")
	for _, key := range config.Keys() {
		t.Setenv(config.EnvVar(key), "")
	}
}

func useRunner(t *testing.T, runner gcloud.Runner) {
	t.Helper()
	orig := runnerFactory
	runnerFactory = func(*globalOptions) (gcloud.Runner, func(), error) {
		return runner, func() {}, nil
	}
	t.Cleanup(func() { runnerFactory = orig })
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	g := &globalOptions{profile: config.DefaultProfile, logFormat: logFormatJSON}
	root := newRootCmd(g)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func urlRunner() *gcloud.RecordingRunner {
	return &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if len(cmd.Args) > 2 && cmd.Args[0] == "run" && cmd.Args[2] == "describe" {
			return "https://svc-abc.a.run.app", nil
		}
		return "", nil
	}}
}

func TestNamesJSON(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "names", "supernnova", "--project", testProject, "--testid", "mytest", "--format", "json")
	if err != nil {
		t.Fatalf("names returned error: %v", err)
	}
	var names naming.Names
	if err := json.Unmarshal([]byte(out), &names); err != nil {
		t.Fatalf("decode names: %v\n%s", err, out)
	}
	if names.Dataset != "elasticc_alerts_mytest" {
		t.Fatalf("Dataset = %q", names.Dataset)
	}
	if names.OutputTopic != "elasticc-SuperNNova-mytest" {
		t.Fatalf("OutputTopic = %q", names.OutputTopic)
	}
	if names.Service != "elasticc-supernnova-mytest" {
		t.Fatalf("Service = %q", names.Service)
	}
}

func TestNamesUsesProjectFallback(t *testing.T) {
	setupEnv(t)
	t.Setenv(config.ProjectEnv, "fallback-project")

	out, err := runCLI(t, "names", "microlia", "--format", "yaml")
	if err != nil {
		t.Fatalf("names returned error: %v", err)
	}
	if !strings.Contains(out, "project: fallback-project") {
		t.Fatalf("expected fallback project in output:\n%s", out)
	}
}

func TestNamesRequiresProject(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "names", "supernnova")
	if err == nil || !strings.Contains(err.Error(), "project is required") {
		t.Fatalf("expected missing project error, got %v", err)
	}
}

func TestRunSetupPositional(t *testing.T) {
	setupEnv(t)
	runner := urlRunner()
	useRunner(t, runner)

	_, err := runCLI(t, "run", "supernnova", "mytest", "elasticc", "False", "elasticc-loop", "elasticc-challenge",
		"--project", testProject, "--skip-build", "--work-dir", t.TempDir())
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	cmds := runner.Commands()
	if len(cmds) == 0 {
		t.Fatalf("no commands recorded")
	}
	last := strings.Join(cmds[len(cmds)-1].Args, " ")
	for _, want := range []string{
		"elasticc-supernnova-trigger-mytest",
		"--topic=elasticc-loop",
		"--topic-project=elasticc-challenge",
		"--push-endpoint=https://svc-abc.a.run.app/",
	} {
		if !strings.Contains(last, want) {
			t.Fatalf("trigger subscription missing %q: %s", want, last)
		}
	}
}

func TestRunTeardownRefusesProduction(t *testing.T) {
	setupEnv(t)
	runner := urlRunner()
	useRunner(t, runner)

	_, err := runCLI(t, "run", "supernnova", "False", "elasticc", "True", "--project", testProject)
	if !errors.Is(err, deploy.ErrProductionTeardown) {
		t.Fatalf("expected ErrProductionTeardown, got %v", err)
	}
	if len(runner.Commands()) != 0 {
		t.Fatalf("no commands should run for a refused teardown")
	}
}

func TestTeardownNeedsConfirmation(t *testing.T) {
	setupEnv(t)
	runner := urlRunner()
	useRunner(t, runner)

	_, err := runCLI(t, "teardown", "microlia", "--project", testProject, "--testid", "mytest")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("expected confirmation error, got %v", err)
	}
	if len(runner.Commands()) != 0 {
		t.Fatalf("nothing should run without confirmation")
	}

	out, err := runCLI(t, "teardown", "microlia", "--project", testProject, "--testid", "mytest", "--yes")
	if err != nil {
		t.Fatalf("teardown returned error: %v", err)
	}
	if !strings.Contains(out, "delete Cloud Run service elasticc-microlia-mytest") {
		t.Fatalf("report missing service deletion:\n%s", out)
	}
}

func TestPlanScript(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "plan", "supernnova", "--project", testProject, "--testid", "mytest",
		"--action", "teardown", "--format", "script", "--include-shared")
	if err != nil {
		t.Fatalf("plan returned error: %v", err)
	}
	for _, want := range []string{"set -euo pipefail", "# stage 2", "bq --project_id=my-broker-project rm -r -f -d"} {
		if !strings.Contains(out, want) {
			t.Fatalf("script missing %q:\n%s", want, out)
		}
	}
}

func TestPlanRejectsUnknownAction(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "plan", "supernnova", "--project", testProject, "--action", "rebuild")
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	setupEnv(t)

	if _, err := runCLI(t, "config", "set", "project", testProject); err != nil {
		t.Fatalf("config set returned error: %v", err)
	}
	if _, err := runCLI(t, "config", "set", "survey", "lsst"); err != nil {
		t.Fatalf("config set returned error: %v", err)
	}

	out, err := runCLI(t, "config", "show", "--format", "json")
	if err != nil {
		t.Fatalf("config show returned error: %v", err)
	}
	var profile config.Profile
	if err := json.Unmarshal([]byte(out), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Project != testProject || profile.Survey != "lsst" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	out, err = runCLI(t, "names", "supernnova", "--format", "json")
	if err != nil {
		t.Fatalf("names returned error: %v", err)
	}
	if !strings.Contains(out, `"dataset": "lsst_alerts_test"`) {
		t.Fatalf("profile survey and default testid not applied:\n%s", out)
	}
}

func TestAuthLoginLogout(t *testing.T) {
	setupEnv(t)
	keyring.MockInit()

	if _, err := runCLI(t, "auth", "login", "--token", "ya29.example"); err != nil {
		t.Fatalf("auth login returned error: %v", err)
	}
	tok, ok, err := config.LoadToken(config.DefaultProfile)
	if err != nil || !ok || tok != "ya29.example" {
		t.Fatalf("LoadToken = %q, %v, %v", tok, ok, err)
	}

	if _, err := runCLI(t, "auth", "logout"); err != nil {
		t.Fatalf("auth logout returned error: %v", err)
	}
	if _, ok, _ := config.LoadToken(config.DefaultProfile); ok {
		t.Fatalf("token should be removed")
	}
}

func TestModulesList(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "modules", "list")
	if err != nil {
		t.Fatalf("modules list returned error: %v", err)
	}
	for _, name := range []string{"filtering", "microlia", "supernnova"} {
		if !strings.Contains(out, name) {
			t.Fatalf("modules list missing %s:\n%s", name, out)
		}
	}
}

func TestApplyArgsDefaults(t *testing.T) {
	opts := &runOptions{}
	if action := opts.applyArgs([]string{"supernnova"}); action != deploy.ActionSetup {
		t.Fatalf("action = %s, want setup", action)
	}
	if opts.target.testid != defaultTestID {
		t.Fatalf("testid = %q, want default", opts.target.testid)
	}

	opts = &runOptions{}
	if action := opts.applyArgs([]string{"microlia", "t2", "elasticc", "TRUE"}); action != deploy.ActionTeardown {
		t.Fatalf("action = %s, want teardown", action)
	}
	if opts.target.testid != "t2" || opts.target.survey != "elasticc" {
		t.Fatalf("unexpected target: %+v", opts.target)
	}
}

func TestPromptConfirmation(t *testing.T) {
	plan := deploy.Plan{
		Module: "supernnova",
		Names:  naming.Names{TestID: "mytest", Project: testProject},
		Steps:  []deploy.Step{{Name: "delete Cloud Run service elasticc-supernnova-mytest"}},
	}

	var out bytes.Buffer
	if err := promptConfirmation(&out, strings.NewReader("mytest\n"), plan); err != nil {
		t.Fatalf("matching testid should confirm: %v", err)
	}
	if !strings.Contains(out.String(), "delete Cloud Run service") {
		t.Fatalf("prompt should list the steps:\n%s", out.String())
	}
	if err := promptConfirmation(&out, strings.NewReader("other\n"), plan); err == nil {
		t.Fatalf("mismatched testid should cancel")
	}
}

func TestDryRunRunnerAnswersServiceURL(t *testing.T) {
	runner := newDryRunRunner()
	out, err := runner.Run(context.Background(), gcloud.ServiceURL(testProject, "us-central1", "elasticc-supernnova-t1"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if out != "https://elasticc-supernnova-t1"+dryRunURLSuffix {
		t.Fatalf("unexpected URL %q", out)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := newLogger(false, "xml", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown log format")
	}
	var buf bytes.Buffer
	logger, err := newLogger(true, logFormatConsole, &buf)
	if err != nil {
		t.Fatalf("newLogger returned error: %v", err)
	}
	logger.Debug("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("debug output missing: %q", buf.String())
	}
}

func TestSetupWritesMetricsFile(t *testing.T) {
	setupEnv(t)
	useRunner(t, urlRunner())

	path := filepath.Join(t.TempDir(), "brokerctl.prom")
	_, err := runCLI(t, "setup", "filtering", "--project", testProject, "--testid", "mytest",
		"--skip-build", "--metrics-file", path, "--format", "json")
	if err != nil {
		t.Fatalf("setup returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	if !strings.Contains(string(data), `brokerctl_steps_total{action="setup",module="filtering",outcome="done"}`) {
		t.Fatalf("metrics file missing step counter:\n%s", data)
	}
}
