package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// noticeKey identifies one warning episode within a run.
type noticeKey struct {
	branchID  uuid.UUID
	recipient uuid.UUID
	category  string
	expiresOn string
}

type branchNotices struct {
	atRisk  int
	sent    int
	failed  int
	details []NoticeDetail
	errors  []ItemError
}

// NotifyAtRisk creates one inactivity warning per active student inside the warning band. A nil
// branchID scans every active branch. Duplicate warnings within one run are suppressed; earlier runs
// are not consulted.
func (s *Service) NotifyAtRisk(ctx context.Context, branchID *uuid.UUID) (NotificationReport, error) {
	started := s.now()
	report := NotificationReport{StartedAt: started.UTC(), Details: []NoticeDetail{}, Errors: []ItemError{}}

	branches, err := s.branchesInScope(ctx, branchID)
	if err != nil {
		return report, err
	}

	parts := make([]branchNotices, len(branches))
	err = s.forEachBranch(ctx, branches, func(ctx context.Context, i int, b Branch) {
		parts[i] = s.notifyBranch(ctx, b)
	}, func(i int, b Branch, cause error) {
		s.metrics.ItemError("notify", failureStage(cause))
		parts[i] = branchNotices{errors: []ItemError{branchError(b.ID, failureStage(cause), cause)}}
	})

	report.BranchesScanned = len(branches)
	for _, part := range parts {
		report.AtRiskFound += part.atRisk
		report.NotificationsSent += part.sent
		report.NotificationsFailed += part.failed
		report.Details = append(report.Details, part.details...)
		report.Errors = append(report.Errors, part.errors...)
	}
	report.DurationMs = s.now().Sub(started).Milliseconds()

	s.logger.Info("at-risk notification run finished",
		zap.Int("branches", len(branches)),
		zap.Int("at_risk", report.AtRiskFound),
		zap.Int("sent", report.NotificationsSent),
		zap.Int("failed", report.NotificationsFailed),
		zap.Int64("duration_ms", report.DurationMs),
	)

	if err != nil {
		return report, fmt.Errorf("at-risk notification run interrupted: %w", err)
	}
	return report, nil
}

func (s *Service) branchesInScope(ctx context.Context, branchID *uuid.UUID) ([]Branch, error) {
	if branchID == nil {
		branches, err := s.deps.Branches.ListActiveBranches(ctx)
		if err != nil {
			return nil, fmt.Errorf("list active branches: %w", err)
		}
		return branches, nil
	}

	b, err := s.deps.Branches.GetBranch(ctx, *branchID)
	if err != nil {
		return nil, fmt.Errorf("get branch %s: %w", *branchID, err)
	}
	if !b.Active {
		return nil, fmt.Errorf("branch %s: %w", *branchID, ErrBranchInactive)
	}
	return []Branch{b}, nil
}

func (s *Service) notifyBranch(ctx context.Context, b Branch) branchNotices {
	var out branchNotices
	logger := s.logger.With(zap.String("branch_id", b.ID.String()))

	actor, err := s.deps.Actors.ResolveAutomatedActor(ctx, b.ID)
	if err != nil {
		logger.Error("resolve automated actor", zap.Error(err))
		s.metrics.ItemError("notify", StageResolveActor)
		out.errors = append(out.errors, branchError(b.ID, StageResolveActor, err))
		return out
	}

	students, err := s.deps.Students.ListActiveStudents(ctx, b.ID)
	if err != nil {
		logger.Error("list active students", zap.Error(err))
		s.metrics.ItemError("notify", StageListStudents)
		out.errors = append(out.errors, branchError(b.ID, StageListStudents, err))
		return out
	}

	today := s.today(b)
	seen := make(map[noticeKey]struct{})
	for _, st := range students {
		if err := ctx.Err(); err != nil {
			out.errors = append(out.errors, branchError(b.ID, StageCancelled, err))
			break
		}
		s.notifyStudent(ctx, logger, &out, seen, st, actor, today)
	}
	return out
}

func (s *Service) notifyStudent(
	ctx context.Context,
	logger *zap.Logger,
	out *branchNotices,
	seen map[noticeKey]struct{},
	st Student,
	actor Actor,
	today time.Time,
) {
	log := logger.With(zap.String("student_id", st.ID.String()))

	lastPresent, err := s.lookback(ctx, st)
	if err != nil {
		log.Warn("attendance lookback failed", zap.Error(err))
		s.metrics.ItemError("notify", StageLookback)
		out.errors = append(out.errors, studentError(st.BranchID, st.ID, StageLookback, err))
		return
	}

	d := s.cfg.Policy.Decide(st, lastPresent, today, actor, s.now())
	if d.Outcome != OutcomeAtRisk {
		return
	}
	out.atRisk++

	detail := NoticeDetail{
		BranchID:       st.BranchID,
		StudentID:      st.ID,
		AdmissionNo:    st.AdmissionNo,
		DaysAbsent:     d.DaysAbsent,
		DaysRemaining:  d.DaysRemaining,
		DeactivationOn: d.DeactivationOn.Format(time.DateOnly),
	}

	fail := func(stage string, err error) {
		log.Warn("inactivity warning not created", zap.String("stage", stage), zap.Error(err))
		s.metrics.ItemError("notify", stage)
		s.metrics.Notice(false)
		out.failed++
		detail.Outcome = NoticeFailed
		detail.Error = err.Error()
		out.details = append(out.details, detail)
		out.errors = append(out.errors, studentError(st.BranchID, st.ID, stage, err))
	}

	if st.UserID == nil || *st.UserID == uuid.Nil {
		fail(StageRecipient, ErrNoLinkedPerson)
		return
	}

	key := noticeKey{
		branchID:  st.BranchID,
		recipient: *st.UserID,
		category:  NoticeCategoryInactivityWarning,
		expiresOn: detail.DeactivationOn,
	}
	if _, dup := seen[key]; dup {
		detail.Outcome = NoticeDuplicate
		out.details = append(out.details, detail)
		return
	}

	notice := s.buildNotice(st, d, actor)
	ictx, cancel := s.itemContext(ctx)
	created, err := s.deps.Notices.CreateNotice(ictx, notice)
	cancel()
	if err != nil {
		fail(StageCreateNotice, err)
		return
	}

	seen[key] = struct{}{}
	s.metrics.Notice(true)
	out.sent++
	id := created.ID
	detail.NoticeID = &id
	detail.Outcome = NoticeSent
	out.details = append(out.details, detail)
	log.Info("inactivity warning created", zap.Int("days_absent", d.DaysAbsent), zap.Int("days_remaining", d.DaysRemaining))
}

func (s *Service) buildNotice(st Student, d Decision, actor Actor) Notice {
	lastPresent := ""
	if d.LastPresent != nil {
		lastPresent = d.LastPresent.Format(time.DateOnly)
	}
	deactivationOn := d.DeactivationOn.Format(time.DateOnly)

	return Notice{
		ID:              uuid.New(),
		BranchID:        st.BranchID,
		RecipientUserID: *st.UserID,
		StudentID:       st.ID,
		Category:        NoticeCategoryInactivityWarning,
		Title:           "Attendance warning",
		Message: fmt.Sprintf(
			"No attendance has been recorded for %d school days. Enrolment will be set to inactive after %d more school days without attendance (on %s).",
			d.DaysAbsent, d.DaysRemaining, deactivationOn,
		),
		ExpiresAt: d.DeactivationOn,
		Payload: NoticePayload{
			DaysAbsent:     d.DaysAbsent,
			Threshold:      s.cfg.Policy.ThresholdDays,
			DaysRemaining:  d.DaysRemaining,
			LastPresentOn:  lastPresent,
			DeactivationOn: deactivationOn,
		},
		CreatedBy: actor.ID,
		CreatedAt: s.now().UTC(),
	}
}
