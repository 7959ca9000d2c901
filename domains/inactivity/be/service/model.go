package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the service layer.
var (
	ErrStudentNotFound = errors.New("student not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrBranchInactive  = errors.New("branch is not active")
	ErrNoLinkedPerson  = errors.New("student has no linked user account")
)

// LifecycleStatus is the enrolment state of a student.
type LifecycleStatus string

const (
	StatusActive           LifecycleStatus = "active"
	StatusInactive         LifecycleStatus = "inactive"
	StatusSuspended        LifecycleStatus = "suspended"
	StatusDropped          LifecycleStatus = "dropped"
	StatusGraduated        LifecycleStatus = "graduated"
	StatusTransferred      LifecycleStatus = "transferred"
	StatusDeceased         LifecycleStatus = "deceased"
	StatusInactiveByPolicy LifecycleStatus = "inactive_by_policy"
)

// Valid reports whether s is a known status.
func (s LifecycleStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusDropped, StatusGraduated,
		StatusTransferred, StatusDeceased, StatusInactiveByPolicy:
		return true
	default:
		return false
	}
}

// PresenceState is the per-day attendance outcome recorded by ingestion.
type PresenceState string

const (
	PresencePresent        PresenceState = "present"
	PresenceLate           PresenceState = "late"
	PresenceHalfDay        PresenceState = "half_day"
	PresenceAbsent         PresenceState = "absent"
	PresenceEarlyDeparture PresenceState = "early_departure"
)

// PresentEquivalent lists the states meaning the student was physically on site.
var PresentEquivalent = []PresenceState{PresencePresent, PresenceLate, PresenceHalfDay}

// CountsAsPresent reports whether p is one of PresentEquivalent.
func (p PresenceState) CountsAsPresent() bool {
	for _, s := range PresentEquivalent {
		if p == s {
			return true
		}
	}
	return false
}

// Valid reports whether p is a known presence state.
func (p PresenceState) Valid() bool {
	switch p {
	case PresencePresent, PresenceLate, PresenceHalfDay, PresenceAbsent, PresenceEarlyDeparture:
		return true
	default:
		return false
	}
}

// Branch is a tenant (one school branch).
type Branch struct {
	ID       uuid.UUID
	Name     string
	Active   bool
	Timezone string
}

// StatusChange is one append-only audit entry of a student's status history.
type StatusChange struct {
	PreviousStatus LifecycleStatus `json:"previousStatus"`
	NewStatus      LifecycleStatus `json:"newStatus"`
	ChangedBy      uuid.UUID       `json:"changedBy"`
	ChangedAt      time.Time       `json:"changedAt"`
	Reason         string          `json:"reason"`
	Automated      bool            `json:"automated"`
}

// Student is the slice of the student entity the engine reads and writes.
type Student struct {
	ID            uuid.UUID
	BranchID      uuid.UUID
	UserID        *uuid.UUID
	AdmissionNo   string
	Status        LifecycleStatus
	StatusHistory []StatusChange
}

// PersonKey holds the identifiers attendance may be recorded under; at least one is set.
type PersonKey struct {
	UserID    *uuid.UUID
	StudentID *uuid.UUID
}

// KeyFor builds the attendance lookup key for a student.
func KeyFor(s Student) PersonKey {
	id := s.ID
	return PersonKey{UserID: s.UserID, StudentID: &id}
}

// Empty reports whether no identifier is present.
func (k PersonKey) Empty() bool {
	return (k.UserID == nil || *k.UserID == uuid.Nil) && (k.StudentID == nil || *k.StudentID == uuid.Nil)
}

// Actor is the identity stamped as ChangedBy on a transition.
type Actor struct {
	ID        uuid.UUID
	BranchID  uuid.UUID
	Automated bool
}

// NoticeCategoryInactivityWarning is the category of at-risk notices.
const NoticeCategoryInactivityWarning = "inactivity_warning"

// Notice is a notification record addressed to one user.
type Notice struct {
	ID              uuid.UUID
	BranchID        uuid.UUID
	RecipientUserID uuid.UUID
	StudentID       uuid.UUID
	Category        string
	Title           string
	Message         string
	ExpiresAt       time.Time
	Payload         NoticePayload
	CreatedBy       uuid.UUID
	CreatedAt       time.Time
}

// NoticePayload is the structured body of an inactivity warning.
type NoticePayload struct {
	DaysAbsent     int    `json:"daysAbsent"`
	Threshold      int    `json:"threshold"`
	DaysRemaining  int    `json:"daysRemaining"`
	LastPresentOn  string `json:"lastPresentOn"`
	DeactivationOn string `json:"deactivationOn"`
}
