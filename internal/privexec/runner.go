package privexec

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GK-Developers/GK-Healter/internal/errors"
)

const (
	// DefaultTimeout bounds every external command
	DefaultTimeout = 60 * time.Second
	// DefaultEscalator is prefixed to privileged commands when not running as root
	DefaultEscalator = "pkexec"

	// pkexec exits 126 when the user dismisses the dialog, 127 when not authorized
	exitAuthDismissed = 126
	exitNotAuthorized = 127

	maxOutputInError = 512
)

// Executor runs one external command to completion
type Executor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSExecutor runs commands with os/exec
type OSExecutor struct{}

// Execute runs name with args and returns combined output
func (OSExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

// Options configure a Runner
type Options struct {
	Catalog  Catalog
	Executor Executor
	Timeout  time.Duration
	// Escalator wraps privileged commands when Euid is not 0
	Escalator string
	// Policy declares which actions may be escalated. Ignored when running as root.
	Policy       *Policy
	PolicyPrefix string
	// Euid overrides os.Geteuid, for tests
	Euid   *int
	Logger *zap.Logger
}

// Runner executes privileged actions and read-only queries. It holds no
// mutable state and may be shared by concurrent cleanup and audit runs.
type Runner struct {
	catalog   Catalog
	exec      Executor
	timeout   time.Duration
	escalator string
	escalate  bool
	allowed   map[Action]bool
	logger    *zap.Logger
}

// NewRunner creates a runner. When escalation is needed, actions missing
// from the policy are logged and refused for the lifetime of the runner.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		catalog:   opts.Catalog,
		exec:      opts.Executor,
		timeout:   opts.Timeout,
		escalator: opts.Escalator,
		allowed:   map[Action]bool{},
		logger:    opts.Logger,
	}
	if r.exec == nil {
		r.exec = OSExecutor{}
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.escalator == "" {
		r.escalator = DefaultEscalator
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}

	euid := os.Geteuid()
	if opts.Euid != nil {
		euid = *opts.Euid
	}
	r.escalate = euid != 0

	prefix := opts.PolicyPrefix
	if prefix == "" {
		prefix = DefaultPolicyPrefix
	}
	for _, a := range Actions() {
		if opts.Policy.Declares(prefix, a) {
			r.allowed[a] = true
		} else if r.escalate {
			r.logger.Warn("privileged action has no policy entry, escalation refused",
				zap.String("action", string(a)),
				zap.String("policy_id", prefix+string(a)))
		}
	}

	return r
}

// Catalog returns the command templates the runner uses
func (r *Runner) Catalog() Catalog {
	return r.catalog
}

// Check returns nil when action can be executed, otherwise a
// ToolUnavailable or PermissionDenied error explaining why not.
func (r *Runner) Check(action Action) error {
	if !r.catalog.Has(action) {
		return errors.Newf(errors.KindToolUnavailable, string(action), "no command template for the detected distribution")
	}
	if r.escalate && !r.allowed[action] {
		return errors.Newf(errors.KindPermissionDenied, string(action), "no policy entry for %s", action)
	}
	return nil
}

// Available reports whether action has a template and may be executed
func (r *Runner) Available(action Action) bool {
	return r.Check(action) == nil
}

// Run executes a privileged action. The command runs to completion or to
// its own timeout even if ctx is cancelled meanwhile.
func (r *Runner) Run(ctx context.Context, action Action, packages ...string) ([]byte, error) {
	op := string(action)

	if err := r.Check(action); err != nil {
		return nil, err
	}
	argv, err := r.catalog.Command(action, packages...)
	if err != nil {
		return nil, errors.New(errors.KindExecutionFailed, op, err)
	}
	if r.escalate {
		argv = append([]string{r.escalator}, argv...)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	return r.execute(runCtx, op, argv, r.escalate)
}

// Query runs an unprivileged, read-only command under the runner timeout.
// Unlike Run it stops early when ctx is cancelled.
func (r *Runner) Query(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.Newf(errors.KindToolUnavailable, "query", "empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.execute(runCtx, argv[0], argv, false)
}

func (r *Runner) execute(ctx context.Context, op string, argv []string, escalated bool) ([]byte, error) {
	start := time.Now()
	out, err := r.exec.Execute(ctx, argv[0], argv[1:]...)
	elapsed := time.Since(start)

	if err == nil && ctx.Err() == nil {
		r.logger.Debug("command finished",
			zap.String("op", op),
			zap.Strings("argv", argv),
			zap.Duration("duration", elapsed))
		return out, nil
	}

	classified := r.classify(ctx, op, err, out, escalated)
	r.logger.Warn("command failed",
		zap.String("op", op),
		zap.Strings("argv", argv),
		zap.Duration("duration", elapsed),
		zap.String("kind", string(errors.KindOf(classified))),
		zap.Error(classified))
	return out, classified
}

func (r *Runner) classify(ctx context.Context, op string, err error, out []byte, escalated bool) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Newf(errors.KindTimeout, op, "timed out after %s", r.timeout)
	}
	if stderrors.Is(ctx.Err(), context.Canceled) {
		return errors.New(errors.KindCancelled, op, ctx.Err())
	}
	if err == nil {
		return errors.Newf(errors.KindExecutionFailed, op, "command interrupted")
	}
	if stderrors.Is(err, exec.ErrNotFound) {
		return errors.New(errors.KindToolUnavailable, op, err)
	}
	if stderrors.Is(err, os.ErrPermission) {
		return errors.New(errors.KindPermissionDenied, op, err)
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if escalated && (code == exitAuthDismissed || code == exitNotAuthorized) {
			return errors.Newf(errors.KindPermissionDenied, op, "authorization refused (exit code %d)", code)
		}
		return errors.Newf(errors.KindExecutionFailed, op, "exit code %d: %s", code, trimOutput(out))
	}

	return errors.New(errors.KindExecutionFailed, op, fmt.Errorf("%w: %s", err, trimOutput(out)))
}

func trimOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputInError {
		s = "..." + s[len(s)-maxOutputInError:]
	}
	return s
}
