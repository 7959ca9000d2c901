package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/platform/go/bizcal"
	"github.com/zenGate-Global/palmyra-campus/platform/go/metrics"
	"github.com/zenGate-Global/palmyra-campus/platform/go/tenant"
)

// BranchRepository lists the tenants the engine iterates.
type BranchRepository interface {
	ListActiveBranches(ctx context.Context) ([]Branch, error)
	GetBranch(ctx context.Context, id uuid.UUID) (Branch, error)
}

// StudentRepository reads students and applies status transitions.
type StudentRepository interface {
	ListActiveStudents(ctx context.Context, branchID uuid.UUID) ([]Student, error)
	GetStudent(ctx context.Context, id uuid.UUID) (Student, error)
	// ApplyTransition sets t.To and appends t.Entry only if the stored status still equals t.From.
	// Both writes happen atomically. applied is false when the status no longer matched.
	ApplyTransition(ctx context.Context, t Transition) (applied bool, err error)
}

// AttendanceReader finds the most recent present-equivalent attendance date for a person in a branch.
// found is false when no such record exists; that is not an error.
type AttendanceReader interface {
	LastPresentDate(ctx context.Context, branchID uuid.UUID, key PersonKey) (date time.Time, found bool, err error)
}

// ActorRepository resolves the per-branch automated actor, creating it on first use.
type ActorRepository interface {
	ResolveAutomatedActor(ctx context.Context, branchID uuid.UUID) (Actor, error)
}

// NoticeRepository persists notice records; delivery happens elsewhere.
type NoticeRepository interface {
	CreateNotice(ctx context.Context, n Notice) (Notice, error)
}

// Deps bundles the collaborators of the engine.
type Deps struct {
	Branches   BranchRepository
	Students   StudentRepository
	Attendance AttendanceReader
	Actors     ActorRepository
	Notices    NoticeRepository
}

// Config tunes the engine. Zero values select defaults.
type Config struct {
	Policy Policy
	// Locations resolves branch timezones for "today"; nil resolves everything to UTC.
	Locations *tenant.Locations
	// TenantConcurrency > 1 processes that many branches in parallel.
	TenantConcurrency int
	// ItemTimeout bounds each per-student evaluation; zero disables it.
	ItemTimeout time.Duration
	Now         func() time.Time
}

// Service runs the inactivity sweep, the at-risk notifier, the reactivation hook and diagnostics.
type Service struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// New constructs a Service with required dependencies. collectors may be nil.
func New(deps Deps, cfg Config, logger *zap.Logger, collectors *metrics.Collectors) *Service {
	if deps.Branches == nil {
		panic("inactivity branch repository is required")
	}
	if deps.Students == nil {
		panic("inactivity student repository is required")
	}
	if deps.Attendance == nil {
		panic("inactivity attendance reader is required")
	}
	if deps.Actors == nil {
		panic("inactivity actor repository is required")
	}
	if deps.Notices == nil {
		panic("inactivity notice repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Policy.ThresholdDays <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.TenantConcurrency <= 0 {
		cfg.TenantConcurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{deps: deps, cfg: cfg, logger: logger, metrics: collectors}
}

// Policy returns the active policy.
func (s *Service) Policy() Policy {
	return s.cfg.Policy
}

func (s *Service) now() time.Time {
	return s.cfg.Now()
}

// today resolves the current date in the branch timezone, at midnight.
func (s *Service) today(b Branch) time.Time {
	return bizcal.Today(s.now(), s.cfg.Locations.Resolve(b.Timezone))
}

func (s *Service) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ItemTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ItemTimeout)
}

// lookback wraps the attendance reader with the per-item timeout.
func (s *Service) lookback(ctx context.Context, st Student) (*time.Time, error) {
	ictx, cancel := s.itemContext(ctx)
	defer cancel()

	date, found, err := s.deps.Attendance.LastPresentDate(ictx, st.BranchID, KeyFor(st))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &date, nil
}

func (s *Service) apply(ctx context.Context, t Transition) (bool, error) {
	ictx, cancel := s.itemContext(ctx)
	defer cancel()
	return s.deps.Students.ApplyTransition(ictx, t)
}
