package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/execctl/internal/command"
	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/resource"
	"github.com/rs/zerolog"
)

// Veto names the guard that forced a skip.
type Veto string

const (
	VetoNone    Veto = ""
	VetoCreates Veto = "creates"
	VetoUnless  Veto = "unless"
	VetoOnlyif  Veto = "onlyif"
)

// Decision is the AND of all guards. When ShouldRun is false, Veto and
// Reason explain which guard vetoed and why.
type Decision struct {
	ShouldRun bool
	Veto      Veto
	Reason    string
	// Failure is set when the vetoing guard could not produce a clean exit
	// status (unresolvable executable, start failure, timeout).
	Failure command.FailureKind
}

// Evaluator decides whether the primary command needs to run.
type Evaluator struct {
	io   hostio.IO
	exec *command.Executor
	log  zerolog.Logger
}

func New(io hostio.IO, exec *command.Executor, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		io:   io,
		exec: exec,
		log:  logger.With().Str("component", "guard").Logger(),
	}
}

// Evaluate checks creates, unless and onlyif in that order and stops at the
// first veto. Guard commands are assumed side-effect free, are never
// retried, and never produce an error: anything that prevents a clean exit
// status counts as not satisfied.
func (g *Evaluator) Evaluate(ctx context.Context, run resource.Run) Decision {
	if path := strings.TrimSpace(run.Creates); path != "" {
		if g.io.FileExists(path) {
			return Decision{Veto: VetoCreates, Reason: fmt.Sprintf("%s already exists", path)}
		}
	}

	if strings.TrimSpace(run.Unless) != "" {
		res := g.runGuard(ctx, run, run.Unless)
		if !cleanExit(res) {
			return g.unresolved(run, VetoUnless, res)
		}
		if res.ExitCode == 0 {
			return Decision{Veto: VetoUnless, Reason: "unless command exited 0"}
		}
	}

	if strings.TrimSpace(run.Onlyif) != "" {
		res := g.runGuard(ctx, run, run.Onlyif)
		if !cleanExit(res) {
			return g.unresolved(run, VetoOnlyif, res)
		}
		if res.ExitCode != 0 {
			return Decision{Veto: VetoOnlyif, Reason: fmt.Sprintf("onlyif command exited %d", res.ExitCode)}
		}
	}

	return Decision{ShouldRun: true}
}

func (g *Evaluator) runGuard(ctx context.Context, run resource.Run, line string) command.Result {
	return g.exec.Execute(ctx, command.Request{
		Role:    command.RoleGuard,
		Command: line,
		Dir:     run.Cwd,
		Env:     run.Environment,
		Path:    run.Path,
		Timeout: run.TimeoutDuration(),
	})
}

// cleanExit reports whether the guard process ran to completion on its own.
func cleanExit(res command.Result) bool {
	return res.Failure.Spawned() && !res.TimedOut && res.Failure != command.FailureCancelled
}

func (g *Evaluator) unresolved(run resource.Run, veto Veto, res command.Result) Decision {
	failure := command.FailureGuardResolution
	switch {
	case res.TimedOut:
		failure = command.FailureTimeout
	case res.Failure == command.FailureCancelled:
		failure = command.FailureCancelled
	}
	g.log.Warn().
		Str("resource", run.ID()).
		Str("guard", string(veto)).
		Str("command", res.Command).
		Str("failure", failure.String()).
		Str("cause", res.Failure.String()).
		Str("detail", res.Diagnostic).
		Msg("guard not satisfied")
	return Decision{
		Veto:    veto,
		Reason:  fmt.Sprintf("%s guard not satisfied: %s", veto, res.Diagnostic),
		Failure: failure,
	}
}
