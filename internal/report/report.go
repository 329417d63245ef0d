package report

import (
	"fmt"
	"strings"

	"github.com/danmuck/execctl/internal/command"
	"github.com/rs/zerolog"
)

// MaxExcerpt bounds how much of a captured stream lands in a diagnostic.
const MaxExcerpt = 4096

// State is the reconciliation outcome vocabulary shared with the
// orchestrator.
type State string

const (
	StateNoChange State = "no_change"
	StateChanged  State = "changed"
	StateFailed   State = "failed"
)

// Status is produced once per reconciliation pass.
type Status struct {
	State      State
	Diagnostic string
	// Failure is the tag of the failed invocation; FailureNone otherwise.
	Failure command.FailureKind
	// Result is nil when no primary command was attempted.
	Result *command.Result
}

// ResourceState maps onto the orchestrator's deploy state.
func (s Status) ResourceState() string {
	if s.State == StateFailed {
		return "failed"
	}
	return "deployed"
}

// Change maps onto the orchestrator's change marker. A failed pass
// reports no change.
func (s Status) Change() string {
	if s.State == StateChanged {
		return "updated"
	}
	return "nochange"
}

// Reporter assembles statuses. It never re-invokes anything.
type Reporter struct {
	log zerolog.Logger
}

func New(logger zerolog.Logger) *Reporter {
	return &Reporter{log: logger.With().Str("component", "report").Logger()}
}

// Report maps the guard decision and the execution result to a status.
// res is ignored when shouldRun is false.
func (r *Reporter) Report(shouldRun bool, res *command.Result) Status {
	if !shouldRun {
		return Status{State: StateNoChange, Diagnostic: "guard vetoed execution"}
	}
	if res == nil {
		return Status{
			State:      StateFailed,
			Diagnostic: "command was not executed",
		}
	}

	if res.Succeeded() {
		status := Status{
			State:      StateChanged,
			Diagnostic: changedDiagnostic(res),
			Result:     res,
		}
		r.log.Debug().Str("command", res.Command).Int("exit_code", res.ExitCode).Msg("changed")
		return status
	}

	status := Status{
		State:      StateFailed,
		Diagnostic: failedDiagnostic(res),
		Failure:    res.Failure,
		Result:     res,
	}
	r.log.Debug().Str("command", res.Command).Str("failure", res.Failure.String()).Msg("failed")
	return status
}

// ReportSkip is Report(false, nil) with the guard's reason kept.
func (r *Reporter) ReportSkip(reason string) Status {
	status := r.Report(false, nil)
	if strings.TrimSpace(reason) != "" {
		status.Diagnostic = reason
	}
	return status
}

// ReportInvalid reports a descriptor that could not be acted upon.
func (r *Reporter) ReportInvalid(err error) Status {
	return Status{
		State:      StateFailed,
		Diagnostic: err.Error(),
		Failure:    command.FailureInvalidCommand,
	}
}

func changedDiagnostic(res *command.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q exited %d", res.Command, res.ExitCode)
	if res.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", res.Attempts)
	}
	if out := Excerpt(res.Stdout); out != "" {
		b.WriteString("\nstdout:\n")
		b.WriteString(out)
	}
	return b.String()
}

func failedDiagnostic(res *command.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed (%s): exit_code=%d timed_out=%t",
		res.Command, res.Failure, res.ExitCode, res.TimedOut)
	if res.Attempts > 1 {
		fmt.Fprintf(&b, " attempts=%d", res.Attempts)
	}
	if res.Diagnostic != "" {
		b.WriteString("\n")
		b.WriteString(res.Diagnostic)
	}
	if errOut := Excerpt(res.Stderr); errOut != "" {
		b.WriteString("\nstderr:\n")
		b.WriteString(errOut)
	}
	return b.String()
}

// Excerpt keeps the tail of a stream, where failures usually report.
func Excerpt(stream []byte) string {
	text := strings.TrimSpace(string(stream))
	if len(text) <= MaxExcerpt {
		return text
	}
	return "..." + text[len(text)-MaxExcerpt:]
}
