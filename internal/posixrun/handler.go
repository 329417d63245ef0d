package posixrun

import (
	"context"
	"time"

	"github.com/danmuck/execctl/internal/command"
	"github.com/danmuck/execctl/internal/guard"
	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/report"
	"github.com/danmuck/execctl/internal/resource"
	"github.com/rs/zerolog"
)

// Name is the provider name registered for exec::Run.
const Name = "posix"

// Mode selects the lifecycle action of a reconciliation pass.
type Mode string

const (
	ModeApply  Mode = "direct_apply"
	ModeReload Mode = "reload"
)

func (m Mode) Valid() bool {
	return m == ModeApply || m == ModeReload
}

// ReconcileObserver receives one call per reconciliation pass.
type ReconcileObserver interface {
	ObserveReconcile(kind, mode, state string, elapsed time.Duration)
}

// Handler converges exec::Run resources on POSIX hosts. It executes the
// command only when the guards say the desired state is not yet reached.
type Handler struct {
	guards   *guard.Evaluator
	exec     *command.Executor
	reporter *report.Reporter
	log      zerolog.Logger
	observer ReconcileObserver
}

// Deps are the collaborators injected by the registry.
type Deps struct {
	IO         hostio.IO
	Logger     zerolog.Logger
	SearchPath string
	Commands   command.Observer
	Reconciles ReconcileObserver
	Sleeper    command.Sleeper
}

func New(deps Deps) *Handler {
	log := deps.Logger.With().Str("kind", resource.Kind).Str("provider", Name).Logger()
	opts := []command.Option{command.WithSearchPath(deps.SearchPath), command.WithSleeper(deps.Sleeper)}
	if deps.Commands != nil {
		opts = append(opts, command.WithObserver(deps.Commands))
	}
	exec := command.New(deps.IO, log, opts...)
	return &Handler{
		guards:   guard.New(deps.IO, exec, log),
		exec:     exec,
		reporter: report.New(log),
		log:      log,
		observer: deps.Reconciles,
	}
}

// Available is the platform probe used when binding providers to a host.
func Available(io hostio.IO) bool {
	return hostio.Available(io)
}

func (h *Handler) Name() string {
	return Name
}

// CanReload is always true: reload is a supported lifecycle action.
func (h *Handler) CanReload() bool {
	return true
}

// Apply runs one reconciliation pass for run in the given mode.
func (h *Handler) Apply(ctx context.Context, run resource.Run, mode Mode) report.Status {
	start := time.Now()
	status := h.apply(ctx, run, mode)
	elapsed := time.Since(start)

	if h.observer != nil {
		h.observer.ObserveReconcile(resource.Kind, string(mode), string(status.State), elapsed)
	}
	event := h.log.Info()
	if status.State == report.StateFailed {
		event = h.log.Error()
	}
	event.
		Str("resource", run.ID()).
		Str("mode", string(mode)).
		Str("state", string(status.State)).
		Str("failure", status.Failure.String()).
		Dur("duration", elapsed).
		Msg("reconciled")
	return status
}

func (h *Handler) apply(ctx context.Context, run resource.Run, mode Mode) report.Status {
	// reload_only resources are inert under direct apply, whatever else
	// they declare.
	if mode == ModeApply && run.ReloadOnly {
		return h.reporter.ReportSkip("reload_only resource is not applied directly")
	}
	if err := run.Validate(); err != nil {
		return h.reporter.ReportInvalid(err)
	}

	switch mode {
	case ModeApply:
		return h.converge(ctx, run, run.Command)
	case ModeReload:
		return h.converge(ctx, run, run.ReloadCommand())
	default:
		return report.Status{
			State:      report.StateFailed,
			Diagnostic: "unknown reconciliation mode " + string(mode),
			Failure:    command.FailureInvalidCommand,
		}
	}
}

func (h *Handler) converge(ctx context.Context, run resource.Run, line string) report.Status {
	run = run.WithDefaults()

	decision := h.guards.Evaluate(ctx, run)
	if !decision.ShouldRun {
		h.log.Debug().
			Str("resource", run.ID()).
			Str("veto", string(decision.Veto)).
			Str("reason", decision.Reason).
			Msg("guard vetoed execution")
		return h.reporter.ReportSkip(decision.Reason)
	}

	h.log.Info().Str("resource", run.ID()).Str("command", line).Msg("executing command")
	res := h.exec.Execute(ctx, command.Request{
		Role:     command.RolePrimary,
		Command:  line,
		Dir:      run.Cwd,
		Env:      run.Environment,
		Path:     run.Path,
		Timeout:  run.TimeoutDuration(),
		Returns:  run.Returns,
		Retries:  run.Retries,
		TrySleep: run.TrySleepDuration(),
	})
	return h.reporter.Report(true, &res)
}
