//go:build unix

package hostio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Bounds how long Wait keeps draining pipes held open by orphaned
// descendants after the process group has been killed.
const waitDelay = 2 * time.Second

// Local executes on the machine the agent runs on.
type Local struct{}

var _ IO = Local{}

func (Local) FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Run spawns inv in its own process group. When inv.Timeout or ctx expires
// the whole group is killed with SIGKILL; there is no graceful shutdown
// signal.
func (Local) Run(ctx context.Context, inv Invocation) (Output, error) {
	runCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	cmd := exec.Command(inv.Executable, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = OverlayEnv(os.Environ(), inv.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("%w: %v", ErrStart, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	killed := false
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		killed = true
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		waitErr = <-done
	}

	out := Output{
		ExitCode: exitCode(cmd, waitErr),
		Stdout:   cloneBytes(stdout.Bytes()),
		Stderr:   cloneBytes(stderr.Bytes()),
	}
	if killed {
		out.ExitCode = -1
		out.TimedOut = deadlineHit(ctx, runCtx, inv.Timeout)
		out.Cancelled = !out.TimedOut
	}
	return out, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
