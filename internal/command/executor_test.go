package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/testutil/fakeio"
	"github.com/danmuck/execctl/internal/testutil/testlog"
)

type recordingObserver struct {
	roles    []Role
	failures []FailureKind
}

func (o *recordingObserver) ObserveCommand(role Role, failure FailureKind, _ time.Duration) {
	o.roles = append(o.roles, role)
	o.failures = append(o.failures, failure)
}

func noSleep(sleeps *[]time.Duration) Sleeper {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

func TestExecuteSuccessPassesInvocation(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Handle("/usr/bin/touch", func(_ context.Context, inv hostio.Invocation) (hostio.Output, error) {
		return hostio.Output{ExitCode: 0, Stdout: []byte("ok\n")}, nil
	})
	e := New(io, log)

	res := e.Execute(context.Background(), Request{
		Command: "/usr/bin/touch 'a file'",
		Dir:     "/srv",
		Env:     map[string]string{"X": "1"},
		Timeout: time.Second,
	})
	if !res.Succeeded() || res.ExitCode != 0 || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	runs := io.Runs()
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	inv := runs[0]
	if inv.Executable != "/usr/bin/touch" || len(inv.Args) != 1 || inv.Args[0] != "a file" {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
	if inv.Dir != "/srv" || inv.Env["X"] != "1" || inv.Timeout != time.Second {
		t.Fatalf("invocation lost request fields: %+v", inv)
	}
}

func TestExecuteResolvesBareNamesOnSearchPath(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Exit("/opt/tools/bin/deploy", 0)
	e := New(io, log, WithSearchPath("/usr/bin:/opt/tools/bin"))

	res := e.Execute(context.Background(), Request{Command: "deploy --now"})
	if !res.Succeeded() || res.Executable != "/opt/tools/bin/deploy" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = e.Execute(context.Background(), Request{Command: "deploy", Path: "/elsewhere"})
	if res.Failure != FailureMissingExecutable {
		t.Fatalf("request path must override executor path, got %+v", res)
	}
}

func TestExecuteRelativeExecutableUsesDir(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Exit("/srv/app/bin/run", 0)
	e := New(io, log)
	exe, ok := e.Resolve("./bin/run", "/srv/app", "")
	if !ok || exe != "/srv/app/bin/run" {
		t.Fatalf("unexpected resolution: %q %v", exe, ok)
	}
}

func TestExecuteMissingExecutableDoesNotSpawn(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New()
	e := New(io, log)

	res := e.Execute(context.Background(), Request{Command: "/nope/missing arg", Retries: 3})
	if res.Failure != FailureMissingExecutable || res.Failure.Spawned() {
		t.Fatalf("expected missing executable, got %+v", res)
	}
	if len(io.Runs()) != 0 {
		t.Fatalf("missing executable must not spawn")
	}
	if res.Attempts != 1 {
		t.Fatalf("missing executable must not be retried, attempts=%d", res.Attempts)
	}
}

func TestExecuteInvalidCommand(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New()
	res := New(io, log).Execute(context.Background(), Request{Command: "ls | wc -l"})
	if res.Failure != FailureInvalidCommand || res.Diagnostic == "" {
		t.Fatalf("expected invalid command, got %+v", res)
	}
	if io.Calls() != 0 {
		t.Fatalf("invalid command must not touch the host")
	}
}

func TestExecuteAcceptsConfiguredReturns(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Exit("/bin/job", 3)
	e := New(io, log)

	res := e.Execute(context.Background(), Request{Command: "/bin/job", Returns: []int{0, 3, 5}})
	if !res.Succeeded() || res.ExitCode != 3 {
		t.Fatalf("expected exit 3 accepted, got %+v", res)
	}

	res = e.Execute(context.Background(), Request{Command: "/bin/job"})
	if res.Failure != FailureUnacceptedExitCode || res.ExitCode != 3 {
		t.Fatalf("expected default returns to reject 3, got %+v", res)
	}
}

func TestExecuteTimeoutAlwaysFails(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Handle("/bin/sleep", func(_ context.Context, inv hostio.Invocation) (hostio.Output, error) {
		return hostio.Output{ExitCode: 0, TimedOut: true}, nil
	})
	res := New(io, log).Execute(context.Background(), Request{
		Command: "/bin/sleep 0.1",
		Timeout: 10 * time.Millisecond,
		Returns: []int{0, -1},
	})
	if res.Failure != FailureTimeout || !res.TimedOut {
		t.Fatalf("timeout must fail regardless of returns, got %+v", res)
	}
}

func TestExecuteCancelledIsNotTimeoutOrRetried(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Hang("/bin/sleep")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := New(io, log).Execute(ctx, Request{Command: "/bin/sleep 5", Retries: 3})
	if res.Failure != FailureCancelled || res.TimedOut {
		t.Fatalf("expected cancelled, got %+v", res)
	}
	if res.Attempts != 1 || io.RunsOf("/bin/sleep") != 1 {
		t.Fatalf("cancellation must not be retried, got %d attempts", res.Attempts)
	}
}

func TestExecuteHangingCommandTimesOut(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Hang("/bin/sleep")
	res := New(io, log).Execute(context.Background(), Request{Command: "/bin/sleep 5", Timeout: 10 * time.Millisecond})
	if res.Failure != FailureTimeout || !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestExecuteStartFailure(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Handle("/bin/true", func(context.Context, hostio.Invocation) (hostio.Output, error) {
		return hostio.Output{ExitCode: -1}, hostio.ErrStart
	})
	res := New(io, log).Execute(context.Background(), Request{Command: "/bin/true"})
	if res.Failure != FailureStart || res.Failure.Spawned() {
		t.Fatalf("expected start failure, got %+v", res)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Sequence("/bin/flaky", 1, 1, 0)
	var sleeps []time.Duration
	obs := &recordingObserver{}
	e := New(io, log, WithSleeper(noSleep(&sleeps)), WithObserver(obs))

	res := e.Execute(context.Background(), Request{
		Command:  "/bin/flaky",
		Retries:  5,
		TrySleep: 250 * time.Millisecond,
	})
	if !res.Succeeded() || res.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", res)
	}
	if len(sleeps) != 2 || sleeps[0] != 250*time.Millisecond {
		t.Fatalf("unexpected sleeps: %v", sleeps)
	}
	if len(obs.failures) != 3 || obs.failures[2] != FailureNone || obs.roles[0] != RolePrimary {
		t.Fatalf("unexpected observations: %+v", obs)
	}
}

func TestExecuteRetriesReportLastAttempt(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Sequence("/bin/flaky", 1, 2, 4)
	var sleeps []time.Duration
	e := New(io, log, WithSleeper(noSleep(&sleeps)))

	res := e.Execute(context.Background(), Request{Command: "/bin/flaky", Retries: 2})
	if res.Succeeded() || res.ExitCode != 4 || res.Attempts != 3 {
		t.Fatalf("expected last attempt result, got %+v", res)
	}
	if io.RunsOf("/bin/flaky") != 3 {
		t.Fatalf("expected 3 runs, got %d", io.RunsOf("/bin/flaky"))
	}
}

func TestExecuteRetryStopsOnCancelledSleep(t *testing.T) {
	log := testlog.Start(t)
	io := fakeio.New().Exit("/bin/false", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(io, log).Execute(ctx, Request{Command: "/bin/false", Retries: 10, TrySleep: time.Hour})
	if res.Attempts != 1 {
		t.Fatalf("cancelled context must stop retries, attempts=%d", res.Attempts)
	}
}

func TestContextSleep(t *testing.T) {
	if err := contextSleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected sleep error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := contextSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
