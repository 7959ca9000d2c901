package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrUnknownJob is returned by RunNow for names never added to the scheduler.
var ErrUnknownJob = errors.New("unknown job")

// Spec declares one scheduled job.
type Spec struct {
	Name string
	// Cron is a standard 5-field expression evaluated in the scheduler location.
	Cron string
	// Lane serialises jobs: two jobs in the same lane never run concurrently, and a job
	// triggered while its lane is busy waits for the running one to finish.
	Lane       string
	StaleAfter time.Duration
	Fn         Func
}

// SchedulerConfig tunes the cron runner.
type SchedulerConfig struct {
	Location    *time.Location
	MaxAttempts int
	// RunTimeout bounds a whole job invocation including retries; zero disables the bound.
	RunTimeout time.Duration
	// Wrap decorates every job function at run time, including the ones passed to RunNowWith.
	Wrap func(job string, fn Func) Func
}

// Scheduler fires registered jobs on cron triggers through the Registry's retry wrapper.
type Scheduler struct {
	cron     *cron.Cron
	registry *Registry
	logger   *zap.Logger
	cfg      SchedulerConfig

	mu    sync.Mutex
	lanes map[string]chan struct{}
	specs map[string]Spec
}

// NewScheduler constructs a Scheduler bound to registry.
func NewScheduler(registry *Registry, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if registry == nil {
		panic("job registry is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:     c,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		lanes:    make(map[string]chan struct{}),
		specs:    make(map[string]Spec),
	}
}

// Add registers spec with the registry and, when spec.Cron is set, with the cron runner.
func (s *Scheduler) Add(spec Spec) error {
	if spec.Name == "" {
		return errors.New("job name is required")
	}
	if spec.Fn == nil {
		return fmt.Errorf("job %s: fn is required", spec.Name)
	}
	if spec.Cron != "" {
		if _, err := cron.ParseStandard(spec.Cron); err != nil {
			return fmt.Errorf("parse cron for job %s (%q): %w", spec.Name, spec.Cron, err)
		}
	}

	s.mu.Lock()
	if _, exists := s.specs[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job %s already registered", spec.Name)
	}
	s.specs[spec.Name] = spec
	if spec.Lane != "" {
		if _, ok := s.lanes[spec.Lane]; !ok {
			s.lanes[spec.Lane] = make(chan struct{}, 1)
		}
	}
	s.mu.Unlock()

	s.registry.Register(spec.Name, spec.StaleAfter)

	if spec.Cron == "" {
		return nil
	}

	_, err := s.cron.AddFunc(spec.Cron, func() {
		_ = s.run(context.Background(), spec)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", spec.Name, spec.Cron, err)
	}

	s.logger.Info("job scheduled",
		zap.String("job", spec.Name),
		zap.String("cron", spec.Cron),
		zap.String("lane", spec.Lane),
		zap.String("location", s.cfg.Location.String()),
	)
	return nil
}

// RunNow executes a registered job immediately with the same lane and retry semantics as a cron tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Outcome, error) {
	s.mu.Lock()
	spec, ok := s.specs[name]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, spec), nil
}

// RunNowWith runs fn under a registered job's name, lane and retry policy. It serves parameterised
// manual triggers that must share history and ordering with the scheduled job.
func (s *Scheduler) RunNowWith(ctx context.Context, name string, fn Func) (Outcome, error) {
	if fn == nil {
		return Outcome{}, fmt.Errorf("job %s: fn is required", name)
	}
	s.mu.Lock()
	spec, ok := s.specs[name]
	s.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	spec.Fn = fn
	return s.run(ctx, spec), nil
}

// Registry exposes the backing registry for health queries.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

func (s *Scheduler) run(ctx context.Context, spec Spec) Outcome {
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	release, err := s.acquireLane(ctx, spec.Lane)
	if err != nil {
		s.logger.Warn("job lane wait aborted", zap.String("job", spec.Name), zap.String("lane", spec.Lane), zap.Error(err))
		return Outcome{Job: spec.Name, Err: err}
	}
	defer release()

	fn := spec.Fn
	if s.cfg.Wrap != nil {
		fn = s.cfg.Wrap(spec.Name, fn)
	}
	return s.registry.RunWithRetry(ctx, spec.Name, fn, s.cfg.MaxAttempts)
}

func (s *Scheduler) acquireLane(ctx context.Context, lane string) (func(), error) {
	if lane == "" {
		return func() {}, nil
	}

	s.mu.Lock()
	sem := s.lanes[lane]
	s.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start begins firing cron triggers in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts new triggers and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
