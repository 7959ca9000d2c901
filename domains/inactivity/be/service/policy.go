package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-campus/platform/go/bizcal"
)

// Default policy values, in business days.
const (
	DefaultThresholdDays = 10
)

// Policy holds the deactivation threshold and the start of the warning band.
type Policy struct {
	ThresholdDays    int
	WarningStartDays int
}

// NewPolicy validates the thresholds. warningStart <= 0 selects floor(threshold/2).
func NewPolicy(threshold, warningStart int) (Policy, error) {
	if threshold <= 0 {
		return Policy{}, fmt.Errorf("deactivation threshold must be positive, got %d", threshold)
	}
	if warningStart <= 0 {
		warningStart = threshold / 2
	}
	if warningStart >= threshold {
		return Policy{}, fmt.Errorf("warning band start (%d) must be below threshold (%d)", warningStart, threshold)
	}
	return Policy{ThresholdDays: threshold, WarningStartDays: warningStart}, nil
}

// DefaultPolicy returns the 10/5 business-day policy.
func DefaultPolicy() Policy {
	p, _ := NewPolicy(DefaultThresholdDays, 0)
	return p
}

// Outcome classifies a Decision.
type Outcome string

const (
	// OutcomeIneligible: the student is not active; the engine never touches it.
	OutcomeIneligible Outcome = "ineligible"
	// OutcomeNoHistory: no present-equivalent record exists; skipped, not deactivated.
	OutcomeNoHistory  Outcome = "no_history"
	OutcomeOK         Outcome = "ok"
	OutcomeAtRisk     Outcome = "at_risk"
	OutcomeDeactivate Outcome = "deactivate"
)

// Transition is one status change to apply atomically: set To only if the stored status is still From,
// and append Entry to the history in the same write.
type Transition struct {
	StudentID uuid.UUID
	BranchID  uuid.UUID
	From      LifecycleStatus
	To        LifecycleStatus
	Entry     StatusChange
}

// Decision is the evaluation of one student against the policy.
type Decision struct {
	Outcome       Outcome
	DaysAbsent    int
	LastPresent   *time.Time
	DaysRemaining int
	// DeactivationOn is the business day the student reaches the threshold; zero unless at risk.
	DeactivationOn time.Time
	Transition     *Transition
}

// Decide evaluates a student. today must already be resolved in the branch timezone; at stamps the
// history entry when a deactivation results.
func (p Policy) Decide(s Student, lastPresent *time.Time, today time.Time, by Actor, at time.Time) Decision {
	if s.Status != StatusActive {
		return Decision{Outcome: OutcomeIneligible}
	}
	if lastPresent == nil {
		return Decision{Outcome: OutcomeNoHistory}
	}

	today = bizcal.Midnight(today)
	last := bizcal.Midnight(*lastPresent)
	days := bizcal.CountBusinessDaysBetween(last, today)

	d := Decision{DaysAbsent: days, LastPresent: &last}
	switch {
	case days >= p.ThresholdDays:
		d.Outcome = OutcomeDeactivate
		d.Transition = &Transition{
			StudentID: s.ID,
			BranchID:  s.BranchID,
			From:      StatusActive,
			To:        StatusInactiveByPolicy,
			Entry: StatusChange{
				PreviousStatus: StatusActive,
				NewStatus:      StatusInactiveByPolicy,
				ChangedBy:      by.ID,
				ChangedAt:      at.UTC(),
				Automated:      true,
				Reason: fmt.Sprintf(
					"Automatically deactivated: no attendance for %d business days (threshold %d). Last present on %s.",
					days, p.ThresholdDays, last.Format(time.DateOnly),
				),
			},
		}
	case days >= p.WarningStartDays:
		d.Outcome = OutcomeAtRisk
		d.DaysRemaining = p.ThresholdDays - days
		d.DeactivationOn = bizcal.AddBusinessDays(today, d.DaysRemaining)
	default:
		d.Outcome = OutcomeOK
		d.DaysRemaining = p.ThresholdDays - days
	}
	return d
}

// Trigger describes the attendance event that prompted a reactivation.
type Trigger struct {
	CalendarDate time.Time
	Presence     PresenceState
}

// Reactivate returns the reactivating transition, or false when the student was not deactivated by policy.
// Absence length plays no part: any single qualifying record is enough.
func (p Policy) Reactivate(s Student, trigger Trigger, by Actor, at time.Time) (Transition, bool) {
	if s.Status != StatusInactiveByPolicy {
		return Transition{}, false
	}

	reason := "Automatically reactivated: new attendance recorded"
	if !trigger.CalendarDate.IsZero() {
		reason += " on " + trigger.CalendarDate.Format(time.DateOnly)
	}
	if trigger.Presence != "" {
		reason += " (" + string(trigger.Presence) + ")"
	}
	reason += "."

	return Transition{
		StudentID: s.ID,
		BranchID:  s.BranchID,
		From:      StatusInactiveByPolicy,
		To:        StatusActive,
		Entry: StatusChange{
			PreviousStatus: StatusInactiveByPolicy,
			NewStatus:      StatusActive,
			ChangedBy:      by.ID,
			ChangedAt:      at.UTC(),
			Reason:         reason,
			Automated:      by.Automated,
		},
	}, true
}
