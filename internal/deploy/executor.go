package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/brokerctl/internal/gcloud"
)

const (
	defaultConcurrency = 3

	dirPermissions  = 0o700
	filePermissions = 0o600
)

// Outcome records what happened to a step.
type Outcome string

// Step outcomes.
const (
	OutcomeDone      Outcome = "done"
	OutcomeTolerated Outcome = "tolerated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	Command  string        `json:"command" yaml:"command"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Output   string        `json:"output,omitempty" yaml:"output,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Stage    int           `json:"stage" yaml:"stage"`
}

// Report summarizes a plan execution.
type Report struct {
	Started time.Time         `json:"started" yaml:"started"`
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	RunID   string            `json:"run_id" yaml:"run_id"`
	Action  Action            `json:"action" yaml:"action"`
	Module  string            `json:"module" yaml:"module"`
	Steps   []StepResult      `json:"steps" yaml:"steps"`
}

// Failed reports whether any step failed.
func (r Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Executor runs plans against a gcloud.Runner.
type Executor struct {
	runner      gcloud.Runner
	logger      *zap.Logger
	writeFile   func(path string, data []byte) error
	now         func() time.Time
	newID       func() string
	concurrency int
}

// NewExecutor constructs an Executor. A nil logger disables logging.
func NewExecutor(runner gcloud.Runner, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:      runner,
		logger:      logger,
		writeFile:   writeFile,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
		concurrency: defaultConcurrency,
	}
}

// WithConcurrency bounds how many teardown steps run at once within a stage.
func (e *Executor) WithConcurrency(n int) {
	if n > 0 {
		e.concurrency = n
	}
}

// WithFileWriter replaces how step files are written (dry runs skip the disk).
func (e *Executor) WithFileWriter(fn func(path string, data []byte) error) {
	if fn != nil {
		e.writeFile = fn
	}
}

// Execute runs plan. Setup steps run in order and stop at the first failure.
// Teardown stages run in order; steps inside a stage run concurrently and
// failures are collected so independent resources are still removed.
func (e *Executor) Execute(ctx context.Context, plan Plan) (Report, error) {
	report := Report{
		RunID:   e.newID(),
		Action:  plan.Action,
		Module:  plan.Module,
		Started: e.now().UTC(),
		Outputs: map[string]string{},
		Steps:   make([]StepResult, len(plan.Steps)),
	}
	log := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("action", string(plan.Action)),
		zap.String("module", plan.Module),
	)
	log.Info("executing plan", zap.Int("steps", len(plan.Steps)), zap.String("testid", plan.Names.TestID))

	var err error
	switch plan.Action {
	case ActionSetup:
		err = e.runSequential(ctx, log, plan, &report)
	case ActionTeardown:
		err = e.runStaged(ctx, log, plan, &report)
	default:
		return report, fmt.Errorf("unknown plan action %q", plan.Action)
	}

	if err != nil {
		log.Error("plan failed", zap.Error(err))
		return report, err
	}
	log.Info("plan complete")
	return report, nil
}

func (e *Executor) runSequential(ctx context.Context, log *zap.Logger, plan Plan, report *Report) error {
	for i, step := range plan.Steps {
		res := e.runStep(ctx, log, step, report.Outputs)
		if step.Output != "" && res.Outcome == OutcomeDone && res.Output == "" {
			res.Outcome = OutcomeFailed
			res.Error = fmt.Sprintf("command produced no value for %s", step.Output)
		}
		report.Steps[i] = res
		if res.Outcome != OutcomeFailed {
			if step.Output != "" {
				report.Outputs[step.Output] = res.Output
			}
			continue
		}

		for j := i + 1; j < len(plan.Steps); j++ {
			report.Steps[j] = skippedResult(plan.Steps[j])
		}
		return fmt.Errorf("%s: %s", step.Name, res.Error)
	}
	return nil
}

func (e *Executor) runStaged(ctx context.Context, log *zap.Logger, plan Plan, report *Report) error {
	var errs []error
	for _, stage := range plan.Stages() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.skipRemaining(plan, report, stage)
			return errors.Join(append(errs, fmt.Errorf("teardown: %w", ctxErr))...)
		}

		sem := make(chan struct{}, e.concurrency)
		var g errgroup.Group
		for i := range plan.Steps {
			if plan.Steps[i].Stage != stage {
				continue
			}
			idx := i
			report.Steps[idx] = skippedResult(plan.Steps[idx])
			g.Go(func() error {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				defer func() { <-sem }()

				report.Steps[idx] = e.runStep(ctx, log, plan.Steps[idx], nil)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.skipRemaining(plan, report, stage+1)
			return errors.Join(append(errs, fmt.Errorf("teardown stage %d: %w", stage, err))...)
		}

		for i := range plan.Steps {
			res := report.Steps[i]
			if plan.Steps[i].Stage == stage && res.Outcome == OutcomeFailed {
				errs = append(errs, fmt.Errorf("%s: %s", res.Name, res.Error))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) skipRemaining(plan Plan, report *Report, fromStage int) {
	for i, step := range plan.Steps {
		if step.Stage >= fromStage {
			report.Steps[i] = skippedResult(step)
		}
	}
}

func skippedResult(step Step) StepResult {
	return StepResult{
		Name:    step.Name,
		Command: step.Command.String(),
		Stage:   step.Stage,
		Outcome: OutcomeSkipped,
	}
}

func (e *Executor) runStep(ctx context.Context, log *zap.Logger, step Step, vars map[string]string) StepResult {
	cmd := step.Command.Expand(vars)
	res := StepResult{
		Name:    step.Name,
		Command: cmd.String(),
		Stage:   step.Stage,
	}
	start := e.now()

	if step.File != nil {
		if err := e.writeFile(step.File.Path, []byte(step.File.Content)); err != nil {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			log.Error("write step file", zap.String("step", step.Name), zap.Error(err))
			res.Duration = e.now().Sub(start)
			return res
		}
	}

	log.Debug("running command", zap.String("step", step.Name), zap.String("command", res.Command))
	out, err := e.runner.Run(ctx, cmd)
	res.Duration = e.now().Sub(start)

	switch {
	case err == nil:
		res.Outcome = OutcomeDone
		res.Output = out
		log.Info("step done", zap.String("step", step.Name), zap.Duration("duration", res.Duration))
	case step.Tolerate != "" && gcloud.ReasonOf(err) == step.Tolerate:
		res.Outcome = OutcomeTolerated
		log.Warn("step tolerated", zap.String("step", step.Name), zap.String("reason", string(step.Tolerate)))
	default:
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		log.Error("step failed", zap.String("step", step.Name), zap.Error(err))
	}
	return res
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
