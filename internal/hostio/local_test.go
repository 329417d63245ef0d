//go:build unix

package hostio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := Local{}
	if !l.FileExists(path) {
		t.Fatalf("expected %s to exist", path)
	}
	if l.FileExists(filepath.Join(dir, "absent")) {
		t.Fatalf("expected absent file to be reported missing")
	}
	if l.FileExists("") {
		t.Fatalf("empty path must not exist")
	}
}

func TestLocalRunCapturesOutputAndExitCode(t *testing.T) {
	out, err := Local{}.Run(context.Background(), Invocation{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo out; echo err >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ExitCode != 3 || out.TimedOut {
		t.Fatalf("unexpected outcome: code=%d timed_out=%v", out.ExitCode, out.TimedOut)
	}
	if strings.TrimSpace(string(out.Stdout)) != "out" || strings.TrimSpace(string(out.Stderr)) != "err" {
		t.Fatalf("unexpected streams: stdout=%q stderr=%q", out.Stdout, out.Stderr)
	}
}

func TestLocalRunUsesDirAndOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EXECCTL_INHERITED", "kept")
	out, err := Local{}.Run(context.Background(), Invocation{
		Executable: "/bin/sh",
		Args:       []string{"-c", `pwd; echo "$EXECCTL_INHERITED $X"`},
		Dir:        dir,
		Env:        map[string]string{"X": "1"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out.Stdout)), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected output: %q", out.Stdout)
	}
	wantDir, _ := filepath.EvalSymlinks(dir)
	gotDir, _ := filepath.EvalSymlinks(lines[0])
	if gotDir != wantDir {
		t.Fatalf("unexpected cwd: want %q got %q", wantDir, gotDir)
	}
	if lines[1] != "kept 1" {
		t.Fatalf("unexpected env view: %q", lines[1])
	}
}

func TestLocalRunKillsOnDeadline(t *testing.T) {
	start := time.Now()
	out, err := Local{}.Run(context.Background(), Invocation{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo started; sleep 5"},
		Timeout:    100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.TimedOut || out.Cancelled || out.ExitCode != -1 {
		t.Fatalf("expected timeout, got code=%d timed_out=%v cancelled=%v", out.ExitCode, out.TimedOut, out.Cancelled)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("process group was not killed promptly: %v", elapsed)
	}
	if !strings.Contains(string(out.Stdout), "started") {
		t.Fatalf("expected partial output to be collected, got %q", out.Stdout)
	}
}

func TestLocalRunParentCancelIsNotTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Minute} {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		out, err := Local{}.Run(ctx, Invocation{
			Executable: "/bin/sleep",
			Args:       []string{"5"},
			Timeout:    timeout,
		})
		cancel()
		if err != nil {
			t.Fatalf("timeout=%v: run: %v", timeout, err)
		}
		if out.TimedOut || !out.Cancelled || out.ExitCode != -1 {
			t.Fatalf("timeout=%v: expected cancellation, got code=%d timed_out=%v cancelled=%v",
				timeout, out.ExitCode, out.TimedOut, out.Cancelled)
		}
		if elapsed := time.Since(start); elapsed > 3*time.Second {
			t.Fatalf("timeout=%v: process not killed on cancel: %v", timeout, elapsed)
		}
	}
}

func TestLocalRunStartFailure(t *testing.T) {
	_, err := Local{}.Run(context.Background(), Invocation{
		Executable: "/bin/true",
		Dir:        filepath.Join(t.TempDir(), "missing"),
	})
	if !errors.Is(err, ErrStart) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
}
