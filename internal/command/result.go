package command

import "time"

// Role distinguishes guard invocations from the primary command.
type Role string

const (
	RolePrimary Role = "primary"
	RoleGuard   Role = "guard"
)

// FailureKind tags why an invocation did not succeed. Callers branch on
// the tag; execution failures are never returned as Go errors.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureGuardResolution    FailureKind = "guard_resolution_failure"
	FailureTimeout            FailureKind = "execution_timeout"
	FailureUnacceptedExitCode FailureKind = "unaccepted_exit_code"
	FailureMissingExecutable  FailureKind = "missing_executable"
	FailureInvalidCommand     FailureKind = "invalid_command"
	FailureStart              FailureKind = "start_failure"
	FailureCancelled          FailureKind = "cancelled"
)

// Spawned reports whether a process was started for this kind of failure.
func (k FailureKind) Spawned() bool {
	switch k {
	case FailureMissingExecutable, FailureInvalidCommand, FailureStart, FailureGuardResolution:
		return false
	default:
		return true
	}
}

func (k FailureKind) retryable() bool {
	switch k {
	case FailureTimeout, FailureUnacceptedExitCode, FailureStart:
		return true
	default:
		return false
	}
}

func (k FailureKind) String() string {
	if k == FailureNone {
		return "none"
	}
	return string(k)
}

// Result is created once per invocation and consumed by the caller.
type Result struct {
	Command    string
	Executable string
	ExitCode   int
	Stdout     []byte
	Stderr     []byte
	TimedOut   bool
	Failure    FailureKind
	// Diagnostic explains a failure in one line; empty on success.
	Diagnostic string
	Attempts   int
	Duration   time.Duration
}

func (r Result) Succeeded() bool {
	return r.Failure == FailureNone
}
