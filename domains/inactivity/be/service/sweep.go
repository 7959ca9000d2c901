package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunSweep deactivates every active student whose absence reached the threshold, across all active
// branches. Per-branch and per-student failures are isolated in the report; only failing to list
// branches, or cancellation, returns an error.
func (s *Service) RunSweep(ctx context.Context) (SweepReport, error) {
	started := s.now()
	report := SweepReport{StartedAt: started.UTC(), PerBranch: []BranchSweepReport{}, Errors: []ItemError{}}

	branches, err := s.deps.Branches.ListActiveBranches(ctx)
	if err != nil {
		return report, fmt.Errorf("list active branches: %w", err)
	}

	parts := make([]BranchSweepReport, len(branches))
	err = s.forEachBranch(ctx, branches, func(ctx context.Context, i int, b Branch) {
		parts[i] = s.sweepBranch(ctx, b)
	}, func(i int, b Branch, cause error) {
		s.metrics.ItemError("sweep", failureStage(cause))
		parts[i] = BranchSweepReport{
			BranchID: b.ID, BranchName: b.Name, Failed: true,
			Errors: []ItemError{branchError(b.ID, failureStage(cause), cause)},
		}
	})

	for _, part := range parts {
		report.merge(part)
	}
	report.DurationMs = s.now().Sub(started).Milliseconds()

	s.logger.Info("inactivity sweep finished",
		zap.Int("branches", len(branches)),
		zap.Int("checked", report.TotalStudentsChecked),
		zap.Int("marked_inactive", report.TotalMarkedInactive),
		zap.Int("skipped_no_history", report.TotalSkippedNoHistory),
		zap.Int("conflicts", report.TotalConflicts),
		zap.Int("errors", len(report.Errors)),
		zap.Int64("duration_ms", report.DurationMs),
	)

	if err != nil {
		return report, fmt.Errorf("inactivity sweep interrupted: %w", err)
	}
	return report, nil
}

// forEachBranch calls fn for every branch, sequentially or with bounded parallelism. Each branch owns
// its slot in the caller's result slice. Branches not started before ctx ends are passed to skipped.
func (s *Service) forEachBranch(
	ctx context.Context,
	branches []Branch,
	fn func(ctx context.Context, i int, b Branch),
	skipped func(i int, b Branch, cause error),
) error {
	if s.cfg.TenantConcurrency <= 1 {
		for i, b := range branches {
			if err := ctx.Err(); err != nil {
				for j := i; j < len(branches); j++ {
					skipped(j, branches[j], err)
				}
				return err
			}
			s.guardBranch(ctx, i, b, fn, skipped)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.TenantConcurrency)
	for i, b := range branches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				skipped(i, b, err)
				return nil
			}
			s.guardBranch(ctx, i, b, fn, skipped)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// guardBranch converts a panic inside one branch into a branch failure.
func (s *Service) guardBranch(
	ctx context.Context,
	i int,
	b Branch,
	fn func(ctx context.Context, i int, b Branch),
	failed func(i int, b Branch, cause error),
) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("branch processing panicked", zap.String("branch_id", b.ID.String()), zap.Any("panic", r))
			failed(i, b, &branchPanic{value: r})
		}
	}()
	fn(ctx, i, b)
}

type branchPanic struct{ value any }

func (p *branchPanic) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func failureStage(cause error) string {
	var p *branchPanic
	if errors.As(cause, &p) {
		return StageBranchPanic
	}
	return StageCancelled
}

func (s *Service) sweepBranch(ctx context.Context, b Branch) BranchSweepReport {
	rep := BranchSweepReport{BranchID: b.ID, BranchName: b.Name}
	logger := s.logger.With(zap.String("branch_id", b.ID.String()))

	actor, err := s.deps.Actors.ResolveAutomatedActor(ctx, b.ID)
	if err != nil {
		logger.Error("resolve automated actor", zap.Error(err))
		s.metrics.ItemError("sweep", StageResolveActor)
		rep.Failed = true
		rep.Errors = append(rep.Errors, branchError(b.ID, StageResolveActor, err))
		return rep
	}

	students, err := s.deps.Students.ListActiveStudents(ctx, b.ID)
	if err != nil {
		logger.Error("list active students", zap.Error(err))
		s.metrics.ItemError("sweep", StageListStudents)
		rep.Failed = true
		rep.Errors = append(rep.Errors, branchError(b.ID, StageListStudents, err))
		return rep
	}

	today := s.today(b)
	for _, st := range students {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, branchError(b.ID, StageCancelled, err))
			break
		}
		s.sweepStudent(ctx, logger, &rep, st, actor, today)
	}

	s.metrics.SweepBranch(b.ID.String(), rep.StudentsChecked, rep.MarkedInactive, rep.SkippedNoHistory)
	logger.Debug("branch swept",
		zap.Int("students", len(students)),
		zap.Int("marked_inactive", rep.MarkedInactive),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep
}

func (s *Service) sweepStudent(
	ctx context.Context,
	logger *zap.Logger,
	rep *BranchSweepReport,
	st Student,
	actor Actor,
	today time.Time,
) {
	log := logger.With(zap.String("student_id", st.ID.String()))

	lastPresent, err := s.lookback(ctx, st)
	if err != nil {
		log.Warn("attendance lookback failed", zap.Error(err))
		s.metrics.ItemError("sweep", StageLookback)
		rep.Errors = append(rep.Errors, studentError(st.BranchID, st.ID, StageLookback, err))
		return
	}

	d := s.cfg.Policy.Decide(st, lastPresent, today, actor, s.now())
	switch d.Outcome {
	case OutcomeIneligible:
		return
	case OutcomeNoHistory:
		rep.SkippedNoHistory++
		return
	}

	rep.StudentsChecked++
	if d.Transition == nil {
		return
	}

	applied, err := s.apply(ctx, *d.Transition)
	if err != nil {
		log.Warn("apply deactivation failed", zap.Error(err))
		s.metrics.ItemError("sweep", StageApply)
		rep.Errors = append(rep.Errors, studentError(st.BranchID, st.ID, StageApply, err))
		return
	}
	if !applied {
		log.Info("student status changed concurrently, deactivation skipped")
		rep.Conflicts++
		return
	}

	rep.MarkedInactive++
	rep.Deactivated = append(rep.Deactivated, st.ID)
	log.Info("student deactivated by policy", zap.Int("days_absent", d.DaysAbsent))
}
