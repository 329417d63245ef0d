package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/danmuck/execctl/internal/hostio"
	"github.com/rs/zerolog"
)

// DefaultSearchPath resolves bare executable names when neither the request
// nor the executor names a search path.
const DefaultSearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Request is one command to run through the host IO capability.
type Request struct {
	Role    Role
	Command string
	Dir     string
	Env     map[string]string
	// Path overrides the executor search path for bare names.
	Path    string
	Timeout time.Duration
	// Returns lists accepted exit codes; empty means {0}.
	Returns  []int
	Retries  int
	TrySleep time.Duration
}

// Observer receives one call per attempt.
type Observer interface {
	ObserveCommand(role Role, failure FailureKind, elapsed time.Duration)
}

// Sleeper waits d between retry attempts or returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs command lines under a deadline and applies the exit-code
// acceptance policy. It holds no per-invocation state and may be shared by
// concurrent reconciliations.
type Executor struct {
	io         hostio.IO
	log        zerolog.Logger
	searchPath string
	observer   Observer
	sleep      Sleeper
}

type Option func(*Executor)

func WithSearchPath(path string) Option {
	return func(e *Executor) {
		if strings.TrimSpace(path) != "" {
			e.searchPath = path
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

func New(io hostio.IO, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		io:         io,
		log:        logger.With().Str("component", "command").Logger(),
		searchPath: DefaultSearchPath,
		sleep:      contextSleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs req, retrying failed attempts up to req.Retries times. The
// reported result is the last attempt's.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if req.Role == "" {
		req.Role = RolePrimary
	}
	limit := 1 + max(req.Retries, 0)

	var res Result
	for attempt := 1; ; attempt++ {
		res = e.attempt(ctx, req)
		res.Attempts = attempt
		if res.Succeeded() || !res.Failure.retryable() || attempt >= limit {
			return res
		}
		e.log.Warn().
			Str("command", req.Command).
			Int("attempt", attempt).
			Int("remaining", limit-attempt).
			Dur("try_sleep", req.TrySleep).
			Str("failure", res.Failure.String()).
			Msg("command failed, retrying")
		if err := e.sleep(ctx, req.TrySleep); err != nil {
			return res
		}
	}
}

func (e *Executor) attempt(ctx context.Context, req Request) Result {
	start := time.Now()
	res := e.run(ctx, req)
	res.Duration = time.Since(start)

	if e.observer != nil {
		e.observer.ObserveCommand(req.Role, res.Failure, res.Duration)
	}

	event := e.log.Debug()
	if !res.Succeeded() {
		event = e.log.Info()
	}
	event.
		Str("role", string(req.Role)).
		Str("command", req.Command).
		Str("executable", res.Executable).
		Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Str("failure", res.Failure.String()).
		Dur("duration", res.Duration).
		Msg("command finished")
	return res
}

func (e *Executor) run(ctx context.Context, req Request) Result {
	res := Result{Command: req.Command, ExitCode: -1}

	args, err := Split(req.Command)
	if err != nil {
		res.Failure = FailureInvalidCommand
		res.Diagnostic = err.Error()
		return res
	}

	exe, ok := e.Resolve(args[0], req.Dir, req.Path)
	if !ok {
		res.Failure = FailureMissingExecutable
		res.Diagnostic = fmt.Sprintf("executable %q not found", args[0])
		return res
	}
	res.Executable = exe

	out, err := e.io.Run(ctx, hostio.Invocation{
		Executable: exe,
		Args:       args[1:],
		Dir:        req.Dir,
		Env:        maps.Clone(req.Env),
		Timeout:    req.Timeout,
	})
	res.ExitCode = out.ExitCode
	res.Stdout = out.Stdout
	res.Stderr = out.Stderr
	res.TimedOut = out.TimedOut

	switch {
	case err != nil:
		res.Failure = FailureStart
		res.Diagnostic = err.Error()
		if errors.Is(err, hostio.ErrStart) {
			res.Diagnostic = fmt.Sprintf("cannot start %q: %v", exe, err)
		}
	case out.TimedOut:
		res.Failure = FailureTimeout
		res.Diagnostic = fmt.Sprintf("killed after exceeding timeout %s", req.Timeout)
	case out.Cancelled:
		res.Failure = FailureCancelled
		res.Diagnostic = "killed because the reconciliation was cancelled"
		if err := ctx.Err(); err != nil {
			res.Diagnostic += ": " + err.Error()
		}
	case !accepts(req.Returns, out.ExitCode):
		res.Failure = FailureUnacceptedExitCode
		res.Diagnostic = fmt.Sprintf("exit code %d not in accepted set %v", out.ExitCode, acceptedSet(req.Returns))
	}
	return res
}

// Resolve maps the first token of a command line to an executable path
// using only the IO capability. Names containing a slash are checked as
// given (relative to dir when set); bare names are searched in path, or the
// executor search path when path is empty.
func (e *Executor) Resolve(name, dir, path string) (string, bool) {
	if name == "" {
		return "", false
	}
	if strings.Contains(name, "/") {
		candidate := name
		if !filepath.IsAbs(candidate) && dir != "" {
			candidate = filepath.Join(dir, candidate)
		}
		return candidate, e.io.FileExists(candidate)
	}

	if strings.TrimSpace(path) == "" {
		path = e.searchPath
	}
	for _, entry := range filepath.SplitList(path) {
		if entry == "" {
			continue
		}
		candidate := filepath.Join(entry, name)
		if e.io.FileExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func accepts(returns []int, code int) bool {
	if len(returns) == 0 {
		return code == 0
	}
	return slices.Contains(returns, code)
}

func acceptedSet(returns []int) []int {
	if len(returns) == 0 {
		return []int{0}
	}
	return returns
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
