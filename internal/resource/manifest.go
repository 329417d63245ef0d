package resource

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
)

var ErrDuplicateName = errors.New("resource: duplicate name")

// Manifest is the desired state for one host: an ordered list of exec::Run
// resources.
type Manifest struct {
	Host string
	Runs []Run
}

type fileManifest struct {
	Host string    `toml:"host"`
	Run  []fileRun `toml:"run"`
}

// fileRun mirrors Run; numeric fields are decoded separately so an integer
// timeout such as `timeout = 5` is accepted as well as `timeout = 0.5`.
type fileRun struct {
	Run
	Timeout  any `toml:"timeout"`
	TrySleep any `toml:"try_sleep"`
}

// LoadManifest reads a TOML manifest from disk.
func LoadManifest(path string) (Manifest, error) {
	var raw fileManifest
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest (%s): %w", path, err)
	}
	return buildManifest(raw, meta)
}

// DecodeManifest reads a TOML manifest from r.
func DecodeManifest(r io.Reader) (Manifest, error) {
	var raw fileManifest
	meta, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return buildManifest(raw, meta)
}

func buildManifest(raw fileManifest, meta toml.MetaData) (Manifest, error) {
	out := Manifest{
		Host: strings.TrimSpace(raw.Host),
		Runs: make([]Run, 0, len(raw.Run)),
	}

	var result *multierror.Error
	seen := make(map[string]int, len(raw.Run))
	for i, entry := range raw.Run {
		run := entry.Run
		if strings.TrimSpace(run.Host) == "" {
			run.Host = out.Host
		}

		var err error
		if run.Timeout, err = seconds64(entry.Timeout); err != nil {
			result = multierror.Append(result, fmt.Errorf("run[%d] timeout: %w", i, err))
			continue
		}
		if run.TrySleep, err = seconds64(entry.TrySleep); err != nil {
			result = multierror.Append(result, fmt.Errorf("run[%d] try_sleep: %w", i, err))
			continue
		}
		if meta.IsDefined("run", "returns") && entry.Returns != nil && len(entry.Returns) == 0 {
			result = multierror.Append(result, fmt.Errorf("run[%d]: %w: returns must not be empty", i, ErrInvalidResource))
			continue
		}

		run = run.WithDefaults()
		if err := run.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("run[%d]: %w", i, err))
			continue
		}

		handle := run.Handle()
		if prev, ok := seen[handle]; ok {
			result = multierror.Append(result, fmt.Errorf("run[%d]: %w: %q already used by entry %d", i, ErrDuplicateName, handle, prev))
			continue
		}
		seen[handle] = i
		out.Runs = append(out.Runs, run)
	}

	if err := result.ErrorOrNil(); err != nil {
		return Manifest{}, err
	}
	return out, nil
}

// Find returns the run addressed by handle (manifest name or id).
func (m Manifest) Find(handle string) (Run, bool) {
	handle = strings.TrimSpace(handle)
	for _, run := range m.Runs {
		if run.Handle() == handle || run.ID() == handle {
			return run, true
		}
	}
	return Run{}, false
}

func seconds64(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number of seconds, got %T", v)
	}
}
