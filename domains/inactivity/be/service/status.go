package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const recentHistoryLimit = 5

// GetStudentInactivityStatus reports how the policy currently sees one student. It never writes.
func (s *Service) GetStudentInactivityStatus(ctx context.Context, id uuid.UUID) (StatusReport, error) {
	st, err := s.deps.Students.GetStudent(ctx, id)
	if err != nil {
		return StatusReport{}, fmt.Errorf("load student %s: %w", id, err)
	}

	b, err := s.deps.Branches.GetBranch(ctx, st.BranchID)
	switch {
	case errors.Is(err, ErrBranchNotFound):
		b = Branch{ID: st.BranchID}
	case err != nil:
		return StatusReport{}, fmt.Errorf("load branch %s: %w", st.BranchID, err)
	}

	lastPresent, err := s.lookback(ctx, st)
	if err != nil {
		return StatusReport{}, fmt.Errorf("attendance lookback for %s: %w", id, err)
	}

	today := s.today(b)
	policy := s.cfg.Policy
	report := StatusReport{
		StudentID:             st.ID,
		BranchID:              st.BranchID,
		AdmissionNo:           st.AdmissionNo,
		Status:                st.Status,
		Today:                 today.Format(time.DateOnly),
		NeverAttended:         lastPresent == nil,
		Threshold:             policy.ThresholdDays,
		WarningStartDays:      policy.WarningStartDays,
		AutomatedDeactivation: lastChangeIsPolicyDeactivation(st.StatusHistory),
		RecentHistory:         recentHistory(st.StatusHistory, recentHistoryLimit),
	}

	// Evaluate as if active so diagnostics show the absence of inactive students too.
	probe := st
	probe.Status = StatusActive
	d := policy.Decide(probe, lastPresent, today, Actor{}, s.now())
	if d.LastPresent != nil {
		on := d.LastPresent.Format(time.DateOnly)
		report.LastPresentOn = &on
	}
	report.DaysAbsent = d.DaysAbsent

	if st.Status != StatusActive {
		return report, nil
	}
	switch d.Outcome {
	case OutcomeDeactivate:
		zero := 0
		report.WillBeDeactivated = true
		report.DaysUntilDeactivation = &zero
	case OutcomeAtRisk:
		remaining := d.DaysRemaining
		on := d.DeactivationOn.Format(time.DateOnly)
		report.AtRisk = true
		report.DaysUntilDeactivation = &remaining
		report.DeactivationOn = &on
	case OutcomeOK:
		remaining := d.DaysRemaining
		report.DaysUntilDeactivation = &remaining
	}
	return report, nil
}

func lastChangeIsPolicyDeactivation(history []StatusChange) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	return last.NewStatus == StatusInactiveByPolicy && last.Automated
}

// recentHistory returns up to limit trailing entries, oldest first, as a copy.
func recentHistory(history []StatusChange, limit int) []StatusChange {
	start := 0
	if len(history) > limit {
		start = len(history) - limit
	}
	out := make([]StatusChange, len(history)-start)
	copy(out, history[start:])
	return out
}
