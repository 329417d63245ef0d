// Package resource declares the exec::Run descriptor and its TOML manifest.
package resource

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"
)

// Kind is the resource-kind identifier handled by the exec handlers.
const Kind = "exec::Run"

var ErrInvalidResource = errors.New("resource: invalid exec::Run")

// Run is the desired "run this command" resource. It is immutable for the
// duration of a reconciliation pass.
type Run struct {
	// Name is an optional manifest handle; it is not part of the identity.
	Name string `toml:"name"`
	Host string `toml:"host"`

	Command     string            `toml:"command"`
	Creates     string            `toml:"creates"`
	Cwd         string            `toml:"cwd"`
	Environment map[string]string `toml:"environment"`
	// Path is a colon-separated search path for bare executable names.
	Path string `toml:"path"`

	User  string `toml:"user"`
	Group string `toml:"group"`
	Umask string `toml:"umask"`

	Onlyif     string `toml:"onlyif"`
	Unless     string `toml:"unless"`
	Reload     string `toml:"reload"`
	ReloadOnly bool   `toml:"reload_only"`

	Returns []int `toml:"returns"`
	// Timeout and TrySleep are seconds; zero Timeout waits forever.
	Timeout  float64 `toml:"timeout"`
	Retries  int     `toml:"retries"`
	TrySleep float64 `toml:"try_sleep"`
}

// ID follows the orchestrator's id format with command as id attribute.
func (r Run) ID() string {
	return fmt.Sprintf("%s[%s,command=%s]", Kind, r.Host, r.Command)
}

// Handle is the manifest name when set, otherwise the id.
func (r Run) Handle() string {
	if strings.TrimSpace(r.Name) != "" {
		return strings.TrimSpace(r.Name)
	}
	return r.ID()
}

// WithDefaults returns a copy with an explicit accepted-exit-code set.
func (r Run) WithDefaults() Run {
	if len(r.Returns) == 0 {
		r.Returns = []int{0}
	} else {
		r.Returns = slices.Clone(r.Returns)
	}
	return r
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return wrapInvalid("missing command")
	}
	if r.Timeout < 0 {
		return wrapInvalid("timeout must not be negative")
	}
	if r.Retries < 0 {
		return wrapInvalid("retries must not be negative")
	}
	if r.TrySleep < 0 {
		return wrapInvalid("try_sleep must not be negative")
	}
	if r.Umask != "" {
		v, err := strconv.ParseUint(r.Umask, 8, 32)
		if err != nil || v > 0o777 {
			return wrapInvalid(fmt.Sprintf("umask %q is not an octal mode", r.Umask))
		}
	}
	for key := range r.Environment {
		if key == "" || strings.ContainsAny(key, "=\x00") {
			return wrapInvalid(fmt.Sprintf("invalid environment key %q", key))
		}
	}
	return nil
}

func (r Run) TimeoutDuration() time.Duration {
	return seconds(r.Timeout)
}

func (r Run) TrySleepDuration() time.Duration {
	return seconds(r.TrySleep)
}

// ReloadCommand is the command used when a reload is triggered.
func (r Run) ReloadCommand() string {
	if strings.TrimSpace(r.Reload) != "" {
		return r.Reload
	}
	return r.Command
}

// InShell wraps script in an sh -c invocation so pipelines, redirection
// and expansion are handled by a real shell.
func InShell(script string) string {
	quoted, err := syntax.Quote(script, syntax.LangPOSIX)
	if err != nil {
		// Quote only refuses input no POSIX shell can represent (NUL bytes).
		quoted = "'" + strings.ReplaceAll(script, "'", `'"'"'`) + "'"
	}
	return "sh -c " + quoted
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func wrapInvalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidResource, reason)
}
