package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/execctl/internal/config"
	"github.com/danmuck/execctl/internal/hostio"
	"github.com/danmuck/execctl/internal/observability"
	"github.com/danmuck/execctl/internal/posixrun"
	"github.com/danmuck/execctl/internal/registry"
	"github.com/danmuck/execctl/internal/report"
	"github.com/danmuck/execctl/internal/resource"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

var (
	ErrResourceNotFound = errors.New("agent: resource not found")
	ErrInvalidMode      = errors.New("agent: invalid reconciliation mode")
)

// Outcome is the result of one resource in a reconciliation pass.
type Outcome struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Mode          string        `json:"mode"`
	State         string        `json:"state"`
	ResourceState string        `json:"resource_state"`
	Change        string        `json:"change"`
	Failure       string        `json:"failure,omitempty"`
	Diagnostic    string        `json:"diagnostic,omitempty"`
	Duration      time.Duration `json:"duration"`
}

func (o Outcome) Failed() bool {
	return o.State == string(report.StateFailed)
}

// Service drives reconciliation of one manifest against one host and
// exposes it over HTTP.
type Service struct {
	cfg      config.AgentConfig
	log      zerolog.Logger
	manifest resource.Manifest
	bindings *registry.Bindings
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	router   *gin.Engine
	appeared time.Time

	// passes are sequential; one resource at a time.
	mu sync.Mutex
}

type Option func(*options)

type options struct {
	table   *registry.Table
	sleeper func(context.Context, time.Duration) error
}

// WithTable replaces the default handler table.
func WithTable(t *registry.Table) Option {
	return func(o *options) { o.table = t }
}

// WithSleeper replaces the retry back-off sleep.
func WithSleeper(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleeper = fn }
}

func New(cfg config.AgentConfig, manifest resource.Manifest, io hostio.IO, logger zerolog.Logger, opts ...Option) (*Service, error) {
	o := options{table: registry.DefaultTable()}
	for _, opt := range opts {
		opt(&o)
	}

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("agent metrics: %w", err)
	}

	log := logger.With().Str("agent", cfg.Name).Logger()
	bindings, err := o.table.Bind(io, posixrun.Deps{
		Logger:     log,
		SearchPath: cfg.SearchPath,
		Commands:   metrics,
		Reconciles: metrics,
		Sleeper:    o.sleeper,
	})
	if err != nil {
		return nil, err
	}
	for _, kind := range bindings.Unresolved() {
		log.Warn().Str("kind", kind).Msg("no provider available on this host")
	}

	s := &Service{
		cfg:      cfg,
		log:      log,
		manifest: manifest,
		bindings: bindings,
		metrics:  metrics,
		gatherer: reg,
		appeared: time.Now(),
	}
	s.router = s.newRouter()
	return s, nil
}

// ParseMode maps user input to a reconciliation mode; empty means apply.
func ParseMode(raw string) (posixrun.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "apply", string(posixrun.ModeApply):
		return posixrun.ModeApply, nil
	case string(posixrun.ModeReload):
		return posixrun.ModeReload, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

func (s *Service) Manifest() resource.Manifest {
	return s.manifest
}

func (s *Service) Handlers() []registry.HandlerInfo {
	return s.bindings.List()
}

// Reconcile runs one pass over every resource in manifest order.
func (s *Service) Reconcile(ctx context.Context, mode posixrun.Mode) []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	outcomes := make([]Outcome, 0, len(s.manifest.Runs))
	for _, run := range s.manifest.Runs {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, s.abandoned(run, mode, err))
			continue
		}
		outcomes = append(outcomes, s.reconcile(ctx, run, mode))
	}

	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	s.log.Info().
		Str("mode", string(mode)).
		Int("resources", len(outcomes)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("reconciliation pass complete")
	return outcomes
}

// ApplyOne reconciles a single resource addressed by name or id.
func (s *Service) ApplyOne(ctx context.Context, handle string, mode posixrun.Mode) (Outcome, error) {
	run, ok := s.manifest.Find(handle)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrResourceNotFound, handle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile(ctx, run, mode), nil
}

func (s *Service) reconcile(ctx context.Context, run resource.Run, mode posixrun.Mode) Outcome {
	start := time.Now()
	h, err := s.bindings.Handler(resource.Kind)
	if err != nil {
		s.log.Error().Err(err).Str("resource", run.ID()).Msg("resource kind not bound")
		status := report.Status{State: report.StateFailed, Diagnostic: err.Error()}
		return newOutcome(run, mode, status, time.Since(start))
	}
	status := h.Apply(ctx, run, mode)
	return newOutcome(run, mode, status, time.Since(start))
}

func (s *Service) abandoned(run resource.Run, mode posixrun.Mode, err error) Outcome {
	status := report.Status{
		State:      report.StateFailed,
		Diagnostic: "reconciliation cancelled: " + err.Error(),
	}
	return newOutcome(run, mode, status, 0)
}

func newOutcome(run resource.Run, mode posixrun.Mode, status report.Status, elapsed time.Duration) Outcome {
	o := Outcome{
		ID:            run.ID(),
		Name:          run.Handle(),
		Kind:          resource.Kind,
		Mode:          string(mode),
		State:         string(status.State),
		ResourceState: status.ResourceState(),
		Change:        status.Change(),
		Diagnostic:    status.Diagnostic,
		Duration:      elapsed,
	}
	if status.Failure != "" {
		o.Failure = status.Failure.String()
	}
	return o
}

// Router exposes the admin surface for embedding and tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Run serves the admin surface until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("admin surface listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("admin surface shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("agent shutdown: %w", err)
	}
	return nil
}
