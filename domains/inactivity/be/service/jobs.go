package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
)

// Scheduled job names. Both share one lane so the notifier never overlaps a sweep.
const (
	JobSweep  = "inactivity-sweep"
	JobNotify = "inactivity-notify"
	JobLane   = "inactivity"
)

// Schedule configures the cron triggers of the inactivity jobs. An empty expression registers the job
// for manual runs only.
type Schedule struct {
	SweepCron  string
	NotifyCron string
	StaleAfter time.Duration
}

// JobSpecs returns the sweep and notifier jobs, sweep first.
func (s *Service) JobSpecs(schedule Schedule) []jobs.Spec {
	return []jobs.Spec{
		{Name: JobSweep, Cron: schedule.SweepCron, Lane: JobLane, StaleAfter: schedule.StaleAfter, Fn: s.SweepJob()},
		{Name: JobNotify, Cron: schedule.NotifyCron, Lane: JobLane, StaleAfter: schedule.StaleAfter, Fn: s.NotifyJob(nil)},
	}
}

// SweepJob adapts RunSweep to the job runner. The result is the SweepReport.
func (s *Service) SweepJob() jobs.Func {
	return func(ctx context.Context) (any, error) {
		report, err := s.RunSweep(ctx)
		if err != nil {
			return nil, err
		}
		return report, nil
	}
}

// NotifyJob adapts NotifyAtRisk to the job runner. Scope errors are not retried.
func (s *Service) NotifyJob(branchID *uuid.UUID) jobs.Func {
	return func(ctx context.Context) (any, error) {
		report, err := s.NotifyAtRisk(ctx, branchID)
		if err != nil {
			if errors.Is(err, ErrBranchNotFound) || errors.Is(err, ErrBranchInactive) {
				return nil, jobs.Permanent(err)
			}
			return nil, err
		}
		return report, nil
	}
}

// CheckNotifyScope reports whether branchID can be used as a notification filter.
func (s *Service) CheckNotifyScope(ctx context.Context, branchID uuid.UUID) error {
	_, err := s.branchesInScope(ctx, &branchID)
	return err
}
