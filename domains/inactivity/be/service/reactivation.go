package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttendanceRecorded describes an attendance write reported by the ingestion pipeline.
type AttendanceRecorded struct {
	StudentID uuid.UUID
	BranchID  uuid.UUID
	// ActingUserID is the human who recorded the attendance, when known. Without it the branch's
	// automated actor is stamped on the reactivation.
	ActingUserID *uuid.UUID
	CalendarDate time.Time
	// Presence may be empty when the caller already filtered to present-equivalent records.
	Presence PresenceState
}

// OnAttendanceRecorded reactivates a student previously deactivated by policy. It is safe to call
// after every attendance write; the common case returns a no-op after a single read.
func (s *Service) OnAttendanceRecorded(ctx context.Context, evt AttendanceRecorded) (ReactivationResult, error) {
	result := ReactivationResult{StudentID: evt.StudentID, Outcome: ReactivationNoOp}

	if evt.Presence != "" && !evt.Presence.CountsAsPresent() {
		s.metrics.Reactivation(string(ReactivationNoOp))
		return result, nil
	}

	st, err := s.deps.Students.GetStudent(ctx, evt.StudentID)
	if err != nil {
		s.metrics.Reactivation("error")
		return result, fmt.Errorf("load student %s: %w", evt.StudentID, err)
	}
	if evt.BranchID != uuid.Nil && st.BranchID != evt.BranchID {
		s.metrics.Reactivation("error")
		return result, fmt.Errorf("student %s in branch %s: %w", evt.StudentID, evt.BranchID, ErrStudentNotFound)
	}

	result.PreviousStatus = st.Status
	result.Status = st.Status
	if st.Status != StatusInactiveByPolicy {
		s.metrics.Reactivation(string(ReactivationNoOp))
		return result, nil
	}

	actor, err := s.reactivationActor(ctx, st.BranchID, evt.ActingUserID)
	if err != nil {
		s.metrics.Reactivation("error")
		return result, fmt.Errorf("resolve automated actor for branch %s: %w", st.BranchID, err)
	}

	t, ok := s.cfg.Policy.Reactivate(st, Trigger{CalendarDate: evt.CalendarDate, Presence: evt.Presence}, actor, s.now())
	if !ok {
		s.metrics.Reactivation(string(ReactivationNoOp))
		return result, nil
	}

	applied, err := s.deps.Students.ApplyTransition(ctx, t)
	if err != nil {
		s.metrics.Reactivation("error")
		return result, fmt.Errorf("reactivate student %s: %w", st.ID, err)
	}

	logger := s.logger.With(zap.String("branch_id", st.BranchID.String()), zap.String("student_id", st.ID.String()))
	if !applied {
		logger.Info("student status changed concurrently, reactivation skipped")
		s.metrics.Reactivation(string(ReactivationConflict))
		result.Outcome = ReactivationConflict
		return result, nil
	}

	s.metrics.Reactivation(string(ReactivationApplied))
	logger.Info("student reactivated after attendance", zap.Bool("automated_actor", actor.Automated))

	by := actor.ID
	result.Outcome = ReactivationApplied
	result.Status = StatusActive
	result.ChangedBy = &by
	return result, nil
}

func (s *Service) reactivationActor(ctx context.Context, branchID uuid.UUID, acting *uuid.UUID) (Actor, error) {
	if acting != nil && *acting != uuid.Nil {
		return Actor{ID: *acting, BranchID: branchID}, nil
	}
	return s.deps.Actors.ResolveAutomatedActor(ctx, branchID)
}
