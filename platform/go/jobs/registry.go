package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is used when RunWithRetry receives a non-positive attempt count.
const DefaultMaxAttempts = 3

// AlertAfterConsecutiveFailures is the failure streak that raises an operator alert.
const AlertAfterConsecutiveFailures = 2

// Func is a unit of scheduled work. The returned value is kept as the run result.
type Func func(ctx context.Context) (any, error)

// Outcome is the result of a single RunWithRetry invocation.
type Outcome struct {
	Job      string
	Success  bool
	Attempts int
	Result   any
	Err      error
}

// Observer receives job lifecycle notifications (metrics). Implementations must be cheap.
type Observer interface {
	JobFinished(job string, success bool, attempts int, consecutiveFailures int)
}

// State is the tracked history of one named job.
type State struct {
	Name                string
	LastRun             *time.Time
	LastSuccess         *time.Time
	LastError           *string
	ConsecutiveFailures int
	TotalRuns           int
	StaleAfter          time.Duration
}

// RegistryConfig tunes retry and staleness behaviour.
type RegistryConfig struct {
	// BaseDelay is the wait after the first failed attempt; it doubles per attempt (2^attempt seconds by default).
	BaseDelay time.Duration
	// StaleAfter is the default age of the last success after which a job is reported as warning.
	StaleAfter time.Duration
	// AlertTimeout bounds a single alert delivery.
	AlertTimeout time.Duration
	Now          func() time.Time
}

// Registry owns per-job run history. It is created once per process and injected where needed.
type Registry struct {
	mu       sync.Mutex
	jobs     map[string]*State
	cfg      RegistryConfig
	logger   *zap.Logger
	alerter  Alerter
	observer Observer
}

// NewRegistry constructs a Registry. alerter and observer may be nil.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger, alerter Alerter, observer Observer) *Registry {
	if logger == nil {
		panic("logger is required")
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 74 * time.Hour
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		jobs:     make(map[string]*State),
		cfg:      cfg,
		logger:   logger,
		alerter:  alerter,
		observer: observer,
	}
}

// Register declares a job so it shows up in health reports before its first run.
// A zero staleAfter uses the registry default.
func (r *Registry) Register(name string, staleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.stateLocked(name)
	if staleAfter > 0 {
		st.StaleAfter = staleAfter
	}
}

func (r *Registry) stateLocked(name string) *State {
	st, ok := r.jobs[name]
	if !ok {
		st = &State{Name: name, StaleAfter: r.cfg.StaleAfter}
		r.jobs[name] = st
	}
	return st
}

// RunWithRetry executes fn up to maxAttempts times with exponential backoff between attempts.
// It never returns an error itself; failure is reported through the Outcome.
func (r *Registry) RunWithRetry(ctx context.Context, name string, fn Func, maxAttempts int) Outcome {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	logger := r.logger.With(zap.String("job", name))

	started := r.cfg.Now().UTC()
	r.mu.Lock()
	st := r.stateLocked(name)
	st.LastRun = &started
	st.TotalRuns++
	r.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.BaseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = r.cfg.BaseDelay << maxAttempts
	policy.MaxElapsedTime = 0

	var (
		attempts int
		result   any
	)
	operation := func() error {
		attempts++
		out, err := fn(ctx)
		if err != nil {
			return err
		}
		result = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("job attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx),
		notify,
	)

	outcome := Outcome{Job: name, Attempts: attempts}
	if err == nil {
		outcome.Success = true
		outcome.Result = result
		r.recordSuccess(name, attempts)
		logger.Info("job succeeded", zap.Int("attempts", attempts))
		return outcome
	}

	outcome.Err = fmt.Errorf("job %s failed after %d attempt(s): %w", name, attempts, err)
	failures := r.recordFailure(name, attempts, err)
	logger.Error("job failed, retries exhausted",
		zap.Int("attempts", attempts),
		zap.Int("consecutive_failures", failures),
		zap.Error(err),
	)

	if failures >= AlertAfterConsecutiveFailures {
		r.raiseAlert(name, failures, err)
	}
	return outcome
}

func (r *Registry) recordSuccess(name string, attempts int) {
	now := r.cfg.Now().UTC()

	r.mu.Lock()
	st := r.stateLocked(name)
	st.LastSuccess = &now
	st.LastError = nil
	st.ConsecutiveFailures = 0
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.JobFinished(name, true, attempts, 0)
	}
}

func (r *Registry) recordFailure(name string, attempts int, err error) int {
	msg := err.Error()

	r.mu.Lock()
	st := r.stateLocked(name)
	st.ConsecutiveFailures++
	st.LastError = &msg
	failures := st.ConsecutiveFailures
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.JobFinished(name, false, attempts, failures)
	}
	return failures
}

// raiseAlert delivers an operator alert. Delivery problems are logged and swallowed.
func (r *Registry) raiseAlert(name string, failures int, cause error) {
	if r.alerter == nil {
		return
	}
	logger := r.logger.With(zap.String("job", name))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("alert delivery panicked", zap.Any("panic", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AlertTimeout)
	defer cancel()

	alert := Alert{
		Job:                 name,
		ConsecutiveFailures: failures,
		LastError:           cause.Error(),
		RaisedAt:            r.cfg.Now().UTC(),
	}
	if err := r.alerter.Alert(ctx, alert); err != nil {
		logger.Error("deliver operator alert", zap.Error(err))
	}
}

// Snapshot returns a copy of one job's state.
func (r *Registry) Snapshot(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.jobs[name]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Health classifications.
type Health string

const (
	Healthy  Health = "healthy"
	Warning  Health = "warning"
	Critical Health = "critical"
)

// JobHealth describes one job in a HealthReport.
type JobHealth struct {
	Name                string     `json:"name"`
	Status              Health     `json:"status"`
	LastRun             *time.Time `json:"lastRun,omitempty"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           *string    `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	SinceLastSuccess    *string    `json:"sinceLastSuccess,omitempty"`
}

// HealthReport summarises every registered job.
type HealthReport struct {
	Status      Health      `json:"status"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Jobs        []JobHealth `json:"jobs"`
}

// Health classifies every known job by failure streak and time since last success.
func (r *Registry) Health() HealthReport {
	now := r.cfg.Now().UTC()

	r.mu.Lock()
	states := make([]State, 0, len(r.jobs))
	for _, st := range r.jobs {
		states = append(states, *st)
	}
	r.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })

	report := HealthReport{Status: Healthy, GeneratedAt: now, Jobs: make([]JobHealth, 0, len(states))}
	for _, st := range states {
		jh := JobHealth{
			Name:                st.Name,
			LastRun:             st.LastRun,
			LastSuccess:         st.LastSuccess,
			LastError:           st.LastError,
			ConsecutiveFailures: st.ConsecutiveFailures,
			Status:              classify(st, now),
		}
		if st.LastSuccess != nil {
			since := now.Sub(*st.LastSuccess).Round(time.Second).String()
			jh.SinceLastSuccess = &since
		}
		report.Jobs = append(report.Jobs, jh)
		report.Status = worst(report.Status, jh.Status)
	}
	return report
}

func classify(st State, now time.Time) Health {
	switch {
	case st.ConsecutiveFailures >= AlertAfterConsecutiveFailures:
		return Critical
	case st.LastSuccess != nil && now.Sub(*st.LastSuccess) > 2*st.StaleAfter:
		return Critical
	case st.ConsecutiveFailures > 0:
		return Warning
	case st.LastSuccess != nil && now.Sub(*st.LastSuccess) > st.StaleAfter:
		return Warning
	case st.LastSuccess == nil && st.LastRun != nil:
		return Warning
	default:
		return Healthy
	}
}

func worst(a, b Health) Health {
	rank := map[Health]int{Healthy: 0, Warning: 1, Critical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// ErrPermanent marks an error that should not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so RunWithRetry stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(fmt.Errorf("%w: %w", ErrPermanent, err))
}
