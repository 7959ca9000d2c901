package service

import (
	"time"

	"github.com/google/uuid"
)

// Stage names where a per-item failure happened.
const (
	StageResolveActor = "resolve_actor"
	StageListStudents = "list_students"
	StageLookback     = "lookback"
	StageApply        = "apply_transition"
	StageCreateNotice = "create_notice"
	StageRecipient    = "resolve_recipient"
	StageBranchPanic  = "branch_panic"
	StageCancelled    = "cancelled"
)

// ItemError is one isolated failure captured in a run report. StudentID is nil for branch-level failures.
type ItemError struct {
	BranchID  uuid.UUID  `json:"branchId"`
	StudentID *uuid.UUID `json:"studentId,omitempty"`
	Stage     string     `json:"stage"`
	Message   string     `json:"message"`
}

func branchError(branchID uuid.UUID, stage string, err error) ItemError {
	return ItemError{BranchID: branchID, Stage: stage, Message: err.Error()}
}

func studentError(branchID, studentID uuid.UUID, stage string, err error) ItemError {
	id := studentID
	return ItemError{BranchID: branchID, StudentID: &id, Stage: stage, Message: err.Error()}
}

// BranchSweepReport is the partial report of one branch.
type BranchSweepReport struct {
	BranchID         uuid.UUID   `json:"branchId"`
	BranchName       string      `json:"branchName"`
	StudentsChecked  int         `json:"studentsChecked"`
	MarkedInactive   int         `json:"markedInactive"`
	SkippedNoHistory int         `json:"skippedNoHistory"`
	Conflicts        int         `json:"conflicts"`
	Deactivated      []uuid.UUID `json:"deactivated,omitempty"`
	Failed           bool        `json:"failed"`
	Errors           []ItemError `json:"errors,omitempty"`
}

// SweepReport aggregates one inactivity sweep across all active branches.
type SweepReport struct {
	StartedAt             time.Time           `json:"startedAt"`
	DurationMs            int64               `json:"durationMs"`
	TotalStudentsChecked  int                 `json:"totalStudentsChecked"`
	TotalMarkedInactive   int                 `json:"totalMarkedInactive"`
	TotalSkippedNoHistory int                 `json:"totalSkippedNoHistory"`
	TotalConflicts        int                 `json:"totalConflicts"`
	PerBranch             []BranchSweepReport `json:"perBranch"`
	Errors                []ItemError         `json:"errors"`
}

func (r *SweepReport) merge(b BranchSweepReport) {
	r.TotalStudentsChecked += b.StudentsChecked
	r.TotalMarkedInactive += b.MarkedInactive
	r.TotalSkippedNoHistory += b.SkippedNoHistory
	r.TotalConflicts += b.Conflicts
	r.Errors = append(r.Errors, b.Errors...)
	r.PerBranch = append(r.PerBranch, b)
}

// NoticeOutcome is the per-student result of the at-risk notifier.
type NoticeOutcome string

const (
	NoticeSent      NoticeOutcome = "sent"
	NoticeFailed    NoticeOutcome = "failed"
	NoticeDuplicate NoticeOutcome = "duplicate"
)

// NoticeDetail describes one at-risk student handled by a notifier run.
type NoticeDetail struct {
	BranchID       uuid.UUID     `json:"branchId"`
	StudentID      uuid.UUID     `json:"studentId"`
	AdmissionNo    string        `json:"admissionNo"`
	DaysAbsent     int           `json:"daysAbsent"`
	DaysRemaining  int           `json:"daysRemaining"`
	DeactivationOn string        `json:"deactivationOn"`
	Outcome        NoticeOutcome `json:"outcome"`
	NoticeID       *uuid.UUID    `json:"noticeId,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// NotificationReport aggregates one at-risk notifier run.
type NotificationReport struct {
	StartedAt           time.Time      `json:"startedAt"`
	DurationMs          int64          `json:"durationMs"`
	BranchesScanned     int            `json:"branchesScanned"`
	AtRiskFound         int            `json:"atRiskFound"`
	NotificationsSent   int            `json:"notificationsSent"`
	NotificationsFailed int            `json:"notificationsFailed"`
	Details             []NoticeDetail `json:"details"`
	Errors              []ItemError    `json:"errors"`
}

// ReactivationOutcome classifies an auto-reactivation hook call.
type ReactivationOutcome string

const (
	ReactivationApplied ReactivationOutcome = "reactivated"
	// ReactivationNoOp: the student was not deactivated by policy, or the record does not count as presence.
	ReactivationNoOp ReactivationOutcome = "noop"
	// ReactivationConflict: the status changed between the read and the conditional write.
	ReactivationConflict ReactivationOutcome = "conflict"
)

// ReactivationResult is returned by OnAttendanceRecorded.
type ReactivationResult struct {
	StudentID      uuid.UUID           `json:"studentId"`
	Outcome        ReactivationOutcome `json:"outcome"`
	PreviousStatus LifecycleStatus     `json:"previousStatus"`
	Status         LifecycleStatus     `json:"status"`
	ChangedBy      *uuid.UUID          `json:"changedBy,omitempty"`
}

// StatusReport is the read-only inactivity diagnostic for one student.
type StatusReport struct {
	StudentID             uuid.UUID       `json:"studentId"`
	BranchID              uuid.UUID       `json:"branchId"`
	AdmissionNo           string          `json:"admissionNo"`
	Status                LifecycleStatus `json:"status"`
	Today                 string          `json:"today"`
	LastPresentOn         *string         `json:"lastPresentOn,omitempty"`
	NeverAttended         bool            `json:"neverAttended"`
	DaysAbsent            int             `json:"daysAbsent"`
	Threshold             int             `json:"threshold"`
	WarningStartDays      int             `json:"warningStartDays"`
	DaysUntilDeactivation *int            `json:"daysUntilDeactivation,omitempty"`
	DeactivationOn        *string         `json:"deactivationOn,omitempty"`
	AtRisk                bool            `json:"atRisk"`
	WillBeDeactivated     bool            `json:"willBeDeactivated"`
	AutomatedDeactivation bool            `json:"automatedDeactivation"`
	RecentHistory         []StatusChange  `json:"recentHistory"`
}
