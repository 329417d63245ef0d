// Package registry maps resource kinds to the handler provider available
// on a host. The table is closed: it is built once and sealed before binding.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/posixrun"
	"github.com/danmuck/execctl/internal/report"
	"github.com/danmuck/execctl/internal/resource"
)

var (
	ErrKindExists      = errors.New("registry: provider already registered for kind")
	ErrInvalidProvider = errors.New("registry: invalid provider")
	ErrInvalidKind     = errors.New("registry: invalid resource kind")
	ErrNoProvider      = errors.New("registry: no available provider for kind")
	ErrSealed          = errors.New("registry: table is sealed")
	ErrNoHostIO        = errors.New("registry: host io is required")
)

// Handler is what a bound provider exposes to the agent.
type Handler interface {
	Name() string
	CanReload() bool
	Apply(ctx context.Context, run resource.Run, mode posixrun.Mode) report.Status
}

// Provider pairs a platform predicate with a handler constructor.
type Provider struct {
	Name      string
	Available func(io hostio.IO) bool
	New       func(deps posixrun.Deps) Handler
}

// Table maps resource kinds to providers in preference order. It is
// built once at startup and sealed before binding.
type Table struct {
	kinds  map[string][]Provider
	sealed bool
}

func NewTable() *Table {
	return &Table{kinds: make(map[string][]Provider)}
}

// DefaultTable is the closed set of handlers shipped with execctl.
func DefaultTable() *Table {
	t := NewTable()
	_ = t.Register(resource.Kind, Provider{
		Name:      posixrun.Name,
		Available: posixrun.Available,
		New: func(deps posixrun.Deps) Handler {
			return posixrun.New(deps)
		},
	})
	t.Seal()
	return t
}

// Register appends p to the candidates for kind.
func (t *Table) Register(kind string, p Provider) error {
	if t.sealed {
		return ErrSealed
	}
	if !isValidKind(kind) {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err := validateProvider(p); err != nil {
		return err
	}
	for _, existing := range t.kinds[kind] {
		if existing.Name == p.Name {
			return fmt.Errorf("%w: %s/%s", ErrKindExists, kind, p.Name)
		}
	}
	t.kinds[kind] = append(t.kinds[kind], p)
	return nil
}

// Seal forbids further registration.
func (t *Table) Seal() {
	t.sealed = true
}

// Kinds returns registered kinds in sorted order.
func (t *Table) Kinds() []string {
	kinds := make([]string, 0, len(t.kinds))
	for k := range t.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Bind resolves every kind against io once: the first provider whose
// predicate holds wins. The resulting bindings never probe again.
func (t *Table) Bind(io hostio.IO, deps posixrun.Deps) (*Bindings, error) {
	if io == nil {
		return nil, ErrNoHostIO
	}
	t.Seal()
	deps.IO = io
	b := &Bindings{handlers: make(map[string]Handler, len(t.kinds))}
	for _, kind := range t.Kinds() {
		for _, p := range t.kinds[kind] {
			if p.Available(io) {
				b.handlers[kind] = p.New(deps)
				break
			}
		}
		if _, ok := b.handlers[kind]; !ok {
			b.unresolved = append(b.unresolved, kind)
		}
	}
	return b, nil
}

// Bindings is the per-host dispatch decision.
type Bindings struct {
	handlers   map[string]Handler
	unresolved []string
}

// HandlerInfo is deterministic listing metadata.
type HandlerInfo struct {
	Kind      string `json:"kind"`
	Provider  string `json:"provider"`
	CanReload bool   `json:"can_reload"`
	Available bool   `json:"available"`
}

func (b *Bindings) Handler(kind string) (Handler, error) {
	h, ok := b.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, kind)
	}
	return h, nil
}

// Unresolved lists kinds with no provider available on this host.
func (b *Bindings) Unresolved() []string {
	return append([]string(nil), b.unresolved...)
}

func (b *Bindings) List() []HandlerInfo {
	list := make([]HandlerInfo, 0, len(b.handlers)+len(b.unresolved))
	for kind, h := range b.handlers {
		list = append(list, HandlerInfo{Kind: kind, Provider: h.Name(), CanReload: h.CanReload(), Available: true})
	}
	for _, kind := range b.unresolved {
		list = append(list, HandlerInfo{Kind: kind})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Kind < list[j].Kind
	})
	return list
}

func validateProvider(p Provider) error {
	name := strings.TrimSpace(p.Name)
	if name == "" || name != p.Name {
		return fmt.Errorf("%w: name %q", ErrInvalidProvider, p.Name)
	}
	if p.Available == nil || p.New == nil {
		return fmt.Errorf("%w: %s requires predicate and constructor", ErrInvalidProvider, p.Name)
	}
	return nil
}

// isValidKind accepts "namespace::Name": a lower-case module path and an
// identifier, both non-empty.
func isValidKind(kind string) bool {
	ns, name, ok := strings.Cut(kind, "::")
	if !ok || ns == "" || name == "" || strings.Contains(name, "::") {
		return false
	}
	for i := 0; i < len(ns); i++ {
		c := ns[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		if !(isLower || isDigit || c == '_') {
			return false
		}
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !(isAlpha || isDigit || c == '_') {
			return false
		}
		if i == 0 && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
