//go:build !unix

package hostio

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

// Local is unsupported off unix; FileExists still works so probes fail
// cleanly instead of binding a handler that cannot run.
type Local struct{}

var _ IO = Local{}

func (Local) FileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func (Local) Run(context.Context, Invocation) (Output, error) {
	return Output{ExitCode: -1}, fmt.Errorf("%w: local execution unsupported on %s", ErrStart, runtime.GOOS)
}
