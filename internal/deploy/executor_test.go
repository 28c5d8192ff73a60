package deploy_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yourorg/brokerctl/internal/deploy"
	"github.com/yourorg/brokerctl/internal/gcloud"
)

const fakeURL = "https://elasticc-supernnova-mytest-abc123-uc.a.run.app"

type fileSink struct {
	mu    sync.Mutex
	files map[string]string
}

func newFileSink() *fileSink { return &fileSink{files: map[string]string{}} }

func (s *fileSink) write(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = string(data)
	return nil
}

func isServiceDescribe(cmd gcloud.Command) bool {
	return cmd.Tool == gcloud.ToolGcloud && len(cmd.Args) > 3 &&
		cmd.Args[0] == "run" && cmd.Args[1] == "services" && cmd.Args[2] == "describe"
}

func newExecutor(runner gcloud.Runner, sink *fileSink) *deploy.Executor {
	exec := deploy.NewExecutor(runner, nil)
	exec.WithFileWriter(sink.write)
	return exec
}

func TestExecuteSetupSubstitutesServiceURL(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanSetup(names, module, deploy.Options{WorkDir: "/work", SkipBuild: true})
	if err != nil {
		t.Fatalf("PlanSetup returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if isServiceDescribe(cmd) {
			return fakeURL, nil
		}
		return "", nil
	}}
	sink := newFileSink()

	report, err := newExecutor(runner, sink).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Failed() {
		t.Fatalf("report should not be failed: %+v", report.Steps)
	}
	if report.RunID == "" {
		t.Fatalf("expected run id")
	}
	if report.Outputs[deploy.ServiceURLVar] != fakeURL {
		t.Fatalf("outputs = %v", report.Outputs)
	}

	cmds := runner.Commands()
	if len(cmds) != len(plan.Steps) {
		t.Fatalf("ran %d commands, want %d", len(cmds), len(plan.Steps))
	}
	last := cmds[len(cmds)-1].String()
	if !strings.Contains(last, "--push-endpoint="+fakeURL+"/") {
		t.Fatalf("push endpoint not substituted: %s", last)
	}
	if strings.Contains(last, "${") {
		t.Fatalf("placeholder left in command: %s", last)
	}

	if len(sink.files) != 1 {
		t.Fatalf("expected one schema file, got %v", sink.files)
	}
}

func TestExecuteSetupToleratesAlreadyExists(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanSetup(names, module, deploy.Options{SkipBuild: true})
	if err != nil {
		t.Fatalf("PlanSetup returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if isServiceDescribe(cmd) {
			return fakeURL, nil
		}
		if cmd.Tool == gcloud.ToolBQ {
			return "", &gcloud.CommandError{Tool: "bq", ExitCode: 1, Stderr: "BigQuery error in mk operation: Dataset 'p:d' already exists."}
		}
		return "", nil
	}}

	report, err := newExecutor(runner, newFileSink()).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if report.Steps[0].Outcome != deploy.OutcomeTolerated || report.Steps[1].Outcome != deploy.OutcomeTolerated {
		t.Fatalf("bq steps should be tolerated: %+v", report.Steps[:2])
	}
}

func TestExecuteSetupStopsAtFirstFailure(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanSetup(names, module, deploy.Options{SkipBuild: true})
	if err != nil {
		t.Fatalf("PlanSetup returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if len(cmd.Args) > 1 && cmd.Args[0] == "run" && cmd.Args[1] == "deploy" {
			return "", &gcloud.CommandError{Tool: "gcloud", ExitCode: 1, Stderr: "ERROR: (gcloud.run.deploy) PERMISSION_DENIED: nope"}
		}
		return "", nil
	}}

	report, err := newExecutor(runner, newFileSink()).Execute(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "deploy Cloud Run service") {
		t.Fatalf("error should name the failed step: %v", err)
	}

	failedAt := -1
	for i, res := range report.Steps {
		if res.Outcome == deploy.OutcomeFailed {
			failedAt = i
			break
		}
	}
	if failedAt < 0 {
		t.Fatalf("no failed step in report")
	}
	for _, res := range report.Steps[failedAt+1:] {
		if res.Outcome != deploy.OutcomeSkipped {
			t.Fatalf("step %q after failure = %s, want skipped", res.Name, res.Outcome)
		}
	}
	if got := len(runner.Commands()); got != failedAt+1 {
		t.Fatalf("ran %d commands, want %d", got, failedAt+1)
	}
}

func TestExecuteSetupFailsOnEmptyServiceURL(t *testing.T) {
	names, module := resolve(t, "filtering", "mytest")
	plan, err := deploy.PlanSetup(names, module, deploy.Options{SkipBuild: true})
	if err != nil {
		t.Fatalf("PlanSetup returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{}
	report, err := newExecutor(runner, newFileSink()).Execute(context.Background(), plan)
	if err == nil || !strings.Contains(err.Error(), deploy.ServiceURLVar) {
		t.Fatalf("expected empty URL failure, got %v", err)
	}
	if !report.Failed() {
		t.Fatalf("report should be failed")
	}
}

func TestExecuteTeardownToleratesNotFound(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanTeardown(names, module, deploy.Options{IncludeShared: true})
	if err != nil {
		t.Fatalf("PlanTeardown returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{Handler: func(gcloud.Command) (string, error) {
		return "", &gcloud.CommandError{Tool: "gcloud", ExitCode: 1, Stderr: "ERROR: NOT_FOUND: Resource not found"}
	}}

	report, err := newExecutor(runner, newFileSink()).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	for _, res := range report.Steps {
		if res.Outcome != deploy.OutcomeTolerated {
			t.Fatalf("step %q = %s, want tolerated", res.Name, res.Outcome)
		}
	}
}

func TestExecuteTeardownToleratesMissingService(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanTeardown(names, module, deploy.Options{})
	if err != nil {
		t.Fatalf("PlanTeardown returned error: %v", err)
	}

	runner := &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		if len(cmd.Args) > 2 && cmd.Args[0] == "run" && cmd.Args[2] == "delete" {
			return "", &gcloud.CommandError{
				Tool:     "gcloud",
				ExitCode: 1,
				Stderr:   "ERROR: (gcloud.run.services.delete) Service [elasticc-supernnova-mytest] could not be found.",
			}
		}
		return "", nil
	}}

	report, err := newExecutor(runner, newFileSink()).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	found := false
	for _, res := range report.Steps {
		if strings.HasPrefix(res.Name, "delete Cloud Run service") {
			found = true
			if res.Outcome != deploy.OutcomeTolerated {
				t.Fatalf("missing service step = %s, want tolerated", res.Outcome)
			}
		}
	}
	if !found {
		t.Fatalf("service delete step not in report")
	}
}

func TestExecuteTeardownAggregatesFailures(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanTeardown(names, module, deploy.Options{})
	if err != nil {
		t.Fatalf("PlanTeardown returned error: %v", err)
	}

	var (
		mu    sync.Mutex
		order []string
	)
	denied := &gcloud.CommandError{Tool: "gcloud", ExitCode: 1, Stderr: "ERROR: PERMISSION_DENIED: caller lacks permission"}
	runner := &gcloud.RecordingRunner{Handler: func(cmd gcloud.Command) (string, error) {
		mu.Lock()
		order = append(order, cmd.String())
		mu.Unlock()
		if cmd.Tool == gcloud.ToolGcloud && cmd.Args[0] == "run" {
			return "", denied
		}
		if cmd.Tool == gcloud.ToolGcloud && cmd.Args[1] == "topics" {
			return "", denied
		}
		return "", nil
	}}

	exec := newExecutor(runner, newFileSink())
	exec.WithConcurrency(1)
	report, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "delete Cloud Run service") || !strings.Contains(msg, "delete output topic") {
		t.Fatalf("aggregated error missing failures: %v", msg)
	}

	// Later stages still run after an earlier stage fails, and only after it.
	if len(order) != len(plan.Steps) {
		t.Fatalf("ran %d commands, want %d", len(order), len(plan.Steps))
	}
	for _, cmd := range order[:2] {
		if !strings.Contains(cmd, "subscriptions delete") && !strings.Contains(cmd, "services delete") {
			t.Fatalf("stage 1 command ran before stage 0 finished: %v", order)
		}
	}
	for _, res := range report.Steps {
		if res.Outcome == deploy.OutcomeSkipped {
			t.Fatalf("step %q skipped", res.Name)
		}
	}
}

func TestExecuteTeardownHonoursCancellation(t *testing.T) {
	names, module := resolve(t, "supernnova", "mytest")
	plan, err := deploy.PlanTeardown(names, module, deploy.Options{})
	if err != nil {
		t.Fatalf("PlanTeardown returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &gcloud.RecordingRunner{}
	report, err := newExecutor(runner, newFileSink()).Execute(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(runner.Commands()) != 0 {
		t.Fatalf("no commands should run after cancellation")
	}
	for _, res := range report.Steps {
		if res.Outcome != deploy.OutcomeSkipped {
			t.Fatalf("step %q = %s, want skipped", res.Name, res.Outcome)
		}
	}
}

func TestExecuteRejectsUnknownAction(t *testing.T) {
	_, err := deploy.NewExecutor(&gcloud.RecordingRunner{}, nil).Execute(context.Background(), deploy.Plan{Action: "rebuild"})
	if err == nil {
		t.Fatalf("expected error for unknown action")
	}
}
