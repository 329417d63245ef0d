package fakeio

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/execctl/internal/hostio"
)

// Script answers one Run call for a registered executable.
type Script func(ctx context.Context, inv hostio.Invocation) (hostio.Output, error)

// IO is an in-memory hostio.IO that records every call. Executables must be
// registered with Handle or Exit; anything else fails to start.
type IO struct {
	mu      sync.Mutex
	files   map[string]bool
	scripts map[string]Script
	runs    []hostio.Invocation
	checks  []string
}

var _ hostio.IO = (*IO)(nil)

func New() *IO {
	return &IO{
		files:   make(map[string]bool),
		scripts: make(map[string]Script),
	}
}

// AddFile marks paths as existing.
func (f *IO) AddFile(paths ...string) *IO {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		f.files[p] = true
	}
	return f
}

// Handle registers exe as an existing file answered by fn.
func (f *IO) Handle(exe string, fn Script) *IO {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[exe] = true
	f.scripts[exe] = fn
	return f
}

// Exit registers exe as always exiting with code.
func (f *IO) Exit(exe string, code int) *IO {
	return f.Handle(exe, func(context.Context, hostio.Invocation) (hostio.Output, error) {
		return hostio.Output{ExitCode: code}, nil
	})
}

// Sequence registers exe as exiting with codes in order, repeating the last.
func (f *IO) Sequence(exe string, codes ...int) *IO {
	var mu sync.Mutex
	i := 0
	return f.Handle(exe, func(context.Context, hostio.Invocation) (hostio.Output, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[min(i, len(codes)-1)]
		i++
		return hostio.Output{ExitCode: code}, nil
	})
}

// Hang registers exe as running until its timeout expires or ctx is
// cancelled, whichever comes first.
func (f *IO) Hang(exe string) *IO {
	return f.Handle(exe, func(ctx context.Context, inv hostio.Invocation) (hostio.Output, error) {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if inv.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		}
		defer cancel()
		<-runCtx.Done()
		timedOut := inv.Timeout > 0 && ctx.Err() == nil
		return hostio.Output{
			ExitCode:  -1,
			Stderr:    []byte("killed\n"),
			TimedOut:  timedOut,
			Cancelled: !timedOut,
		}, nil
	})
}

func (f *IO) FileExists(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, path)
	return f.files[path]
}

func (f *IO) Run(ctx context.Context, inv hostio.Invocation) (hostio.Output, error) {
	f.mu.Lock()
	f.runs = append(f.runs, inv)
	fn, ok := f.scripts[inv.Executable]
	f.mu.Unlock()

	if !ok {
		return hostio.Output{ExitCode: -1}, fmt.Errorf("%w: no script for %s", hostio.ErrStart, inv.Executable)
	}
	return fn(ctx, inv)
}

// Runs returns every recorded Run invocation in order.
func (f *IO) Runs() []hostio.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.runs)
}

// RunsOf counts Run calls for exe.
func (f *IO) RunsOf(exe string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, inv := range f.runs {
		if inv.Executable == exe {
			n++
		}
	}
	return n
}

// FileChecks returns every path passed to FileExists.
func (f *IO) FileChecks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.checks)
}

// Calls is the total number of capability calls.
func (f *IO) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs) + len(f.checks)
}
