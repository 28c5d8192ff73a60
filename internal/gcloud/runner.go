package gcloud

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries          = 4
	defaultBackoffInitialDelay = 2 * time.Second

	limiterRatePerSecond = 2
	limiterBurstTokens   = 4

	backoffFactor       = 2.0
	maxBackoffDelay     = 60 * time.Second
	jitterLowerBound    = 0.8
	jitterUpperBound    = 1.2
	float64MantissaBits = 53

	accessTokenFileEnv = "CLOUDSDK_AUTH_ACCESS_TOKEN_FILE"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecConfig configures an ExecRunner.
type ExecConfig struct {
	// AccessTokenFile is handed to gcloud so it authenticates with a stored token.
	AccessTokenFile string
	Env             []string
	BackoffBase     time.Duration
	MaxRetries      int
}

// ExecFunc runs a single process. It exists so tests can avoid spawning gcloud.
type ExecFunc func(ctx context.Context, name string, args, env []string) (stdout, stderr []byte, exitCode int, err error)

// ExecRunner runs gcloud and bq as subprocesses, pacing and retrying transient failures.
type ExecRunner struct {
	limiter *rate.Limiter
	exec    ExecFunc
	jitter  func() float64
	sleep   func(context.Context, time.Duration) error
	cfg     ExecConfig
}

// NewExecRunner constructs an ExecRunner with production-safe defaults.
func NewExecRunner(cfg ExecConfig) *ExecRunner {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffInitialDelay
	}
	return &ExecRunner{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(limiterRatePerSecond), limiterBurstTokens),
		exec:    runProcess,
		sleep:   sleepContext,
		jitter:  func() float64 { return randomFloat64(jitterLowerBound, jitterUpperBound) },
	}
}

// Run executes cmd, retrying transient failures with exponential backoff.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if cmd.Tool != ToolGcloud && cmd.Tool != ToolBQ {
		return "", fmt.Errorf("unsupported tool %q", cmd.Tool)
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}

		out, err := r.runOnce(ctx, cmd)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("run %s: %w", cmd.Tool, ctxErr)
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
		if attempt < r.cfg.MaxRetries {
			if err := r.backoff(ctx, attempt); err != nil {
				return "", fmt.Errorf("run %s: %w", cmd.Tool, err)
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("exhausted retries after %d attempts", r.cfg.MaxRetries+1)
	}
	return "", lastErr
}

func (r *ExecRunner) runOnce(ctx context.Context, cmd Command) (string, error) {
	stdout, stderr, code, err := r.exec(ctx, cmd.Tool, cmd.Args, r.environ(cmd.Tool))
	if err != nil {
		return "", fmt.Errorf("start %s: %w", cmd.Tool, err)
	}
	if code != 0 {
		return "", &CommandError{
			Tool:     cmd.Tool,
			Args:     cmd.Args,
			ExitCode: code,
			Stderr:   string(stderr),
		}
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (r *ExecRunner) environ(tool string) []string {
	env := append([]string{}, r.cfg.Env...)
	if tool == ToolGcloud && r.cfg.AccessTokenFile != "" {
		env = append(env, accessTokenFileEnv+"="+r.cfg.AccessTokenFile)
	}
	return env
}

func (r *ExecRunner) backoff(ctx context.Context, attempt int) error {
	delay := float64(r.cfg.BackoffBase) * math.Pow(backoffFactor, float64(attempt)) * r.jitter()
	backoff := time.Duration(delay)
	if backoff > maxBackoffDelay {
		backoff = maxBackoffDelay
	}
	return r.sleep(ctx, backoff)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithLimiter allows overriding the rate limiter (used by tests).
func (r *ExecRunner) WithLimiter(l *rate.Limiter) {
	if l != nil {
		r.limiter = l
	}
}

// WithSleeper injects a sleep function (tests may stub to avoid waiting).
// The context is still checked once the sleeper returns.
func (r *ExecRunner) WithSleeper(s func(time.Duration)) {
	if s != nil {
		r.sleep = func(ctx context.Context, d time.Duration) error {
			s(d)
			return ctx.Err()
		}
	}
}

// WithJitter injects a custom jitter provider.
func (r *ExecRunner) WithJitter(j func() float64) {
	if j != nil {
		r.jitter = j
	}
}

// WithExec replaces process execution.
func (r *ExecRunner) WithExec(fn ExecFunc) {
	if fn != nil {
		r.exec = fn
	}
}

func runProcess(ctx context.Context, name string, args, env []string) ([]byte, []byte, int, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("locate %s: %w", name, err)
	}

	proc := exec.CommandContext(ctx, path, args...) // #nosec G204 -- tool is restricted to gcloud or bq
	proc.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, 0, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

func randomFloat64(min, max float64) float64 {
	if max <= min {
		return min
	}
	diff := max - min
	limit := int64(1 << float64MantissaBits)
	n, err := rand.Int(rand.Reader, big.NewInt(limit))
	if err != nil {
		return min
	}
	fraction := float64(n.Int64()) / float64(limit)
	return min + diff*fraction
}

// RecordingRunner records commands instead of running them. It backs --dry-run.
type RecordingRunner struct {
	// Handler produces the output for a command; nil returns empty output.
	Handler  func(Command) (string, error)
	commands []Command
	mu       sync.Mutex
}

// Run records cmd and returns the handler's output.
func (r *RecordingRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("run %s: %w", cmd.Tool, err)
	}
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Handler == nil {
		return "", nil
	}
	return r.Handler(cmd)
}

// Commands returns the recorded commands in call order.
func (r *RecordingRunner) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}
