package hostio

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ProbePath is the baseline POSIX utility a host must provide before the
// posix exec handler may be bound to it.
const ProbePath = "/bin/true"

// ErrStart reports that a resolved executable could not be started.
var ErrStart = errors.New("hostio: start failed")

// IO is the host capability consumed by the exec handler. The handler never
// touches the filesystem or spawns processes except through it.
type IO interface {
	FileExists(path string) bool
	// Run blocks until the process exits or inv.Timeout expires. It returns
	// a non-nil error only when the process could not be started.
	Run(ctx context.Context, inv Invocation) (Output, error)
}

// Invocation is one process spawn request.
type Invocation struct {
	Executable string
	Args       []string
	Dir        string
	// Env is overlaid onto the environment the host process inherits.
	Env     map[string]string
	Timeout time.Duration
}

// Output is the raw process outcome. ExitCode is -1 when the process was
// killed or never reported a status. TimedOut is set only when inv.Timeout
// expired; a kill caused by the caller's context is reported as Cancelled.
type Output struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	TimedOut  bool
	Cancelled bool
}

// deadlineHit reports whether runCtx ended because the invocation's own
// timeout expired rather than because parent was cancelled or hit its own
// deadline.
func deadlineHit(parent, runCtx context.Context, timeout time.Duration) bool {
	return timeout > 0 && parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

// Available reports whether the host offers the baseline POSIX toolset.
func Available(io IO) bool {
	if io == nil {
		return false
	}
	return io.FileExists(ProbePath)
}

// OverlayEnv returns base with every overlay entry set. Overlay keys win,
// keys absent from overlay are inherited unchanged. Overlay keys are applied
// in sorted order so the result is deterministic.
func OverlayEnv(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overlay[key]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for _, key := range sortedKeys(overlay) {
		out = append(out, key+"="+overlay[key])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneBytes(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
