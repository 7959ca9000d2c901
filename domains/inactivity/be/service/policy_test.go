package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewPolicy(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(10, 0)
	require.NoError(t, err)
	require.Equal(t, Policy{ThresholdDays: 10, WarningStartDays: 5}, p)

	p, err = NewPolicy(7, 0)
	require.NoError(t, err)
	require.Equal(t, 3, p.WarningStartDays)

	p, err = NewPolicy(15, 12)
	require.NoError(t, err)
	require.Equal(t, 12, p.WarningStartDays)

	_, err = NewPolicy(0, 0)
	require.Error(t, err)

	_, err = NewPolicy(10, 10)
	require.Error(t, err)

	require.Equal(t, Policy{ThresholdDays: 10, WarningStartDays: 5}, DefaultPolicy())
}

func TestDecide(t *testing.T) {
	t.Parallel()

	// Monday.
	today := date(2024, 1, 22)
	at := time.Date(2024, 1, 22, 6, 0, 0, 0, time.UTC)
	actor := Actor{ID: uuid.New(), Automated: true}
	policy := DefaultPolicy()

	ptr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name          string
		status        LifecycleStatus
		lastPresent   *time.Time
		wantOutcome   Outcome
		wantDays      int
		wantRemaining int
		wantOn        time.Time
	}{
		{name: "exactly threshold", status: StatusActive, lastPresent: ptr(date(2024, 1, 8)), wantOutcome: OutcomeDeactivate, wantDays: 10},
		{name: "well past threshold", status: StatusActive, lastPresent: ptr(date(2023, 11, 1)), wantOutcome: OutcomeDeactivate, wantDays: 58},
		{name: "one below threshold", status: StatusActive, lastPresent: ptr(date(2024, 1, 9)), wantOutcome: OutcomeAtRisk, wantDays: 9, wantRemaining: 1, wantOn: date(2024, 1, 23)},
		{name: "warning band start", status: StatusActive, lastPresent: ptr(date(2024, 1, 15)), wantOutcome: OutcomeAtRisk, wantDays: 5, wantRemaining: 5, wantOn: date(2024, 1, 29)},
		{name: "below warning band", status: StatusActive, lastPresent: ptr(date(2024, 1, 16)), wantOutcome: OutcomeOK, wantDays: 4, wantRemaining: 6},
		{name: "present today", status: StatusActive, lastPresent: ptr(today), wantOutcome: OutcomeOK, wantDays: 0, wantRemaining: 10},
		{name: "time of day ignored", status: StatusActive, lastPresent: ptr(time.Date(2024, 1, 8, 23, 59, 0, 0, time.UTC)), wantOutcome: OutcomeDeactivate, wantDays: 10},
		{name: "never attended", status: StatusActive, lastPresent: nil, wantOutcome: OutcomeNoHistory},
		{name: "suspended is never touched", status: StatusSuspended, lastPresent: ptr(date(2023, 12, 1)), wantOutcome: OutcomeIneligible},
		{name: "already inactive by policy", status: StatusInactiveByPolicy, lastPresent: ptr(date(2023, 12, 1)), wantOutcome: OutcomeIneligible},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := Student{ID: uuid.New(), BranchID: uuid.New(), Status: tc.status}
			d := policy.Decide(s, tc.lastPresent, today, actor, at)

			require.Equal(t, tc.wantOutcome, d.Outcome)
			require.Equal(t, tc.wantDays, d.DaysAbsent)
			require.Equal(t, tc.wantRemaining, d.DaysRemaining)
			if !tc.wantOn.IsZero() {
				require.True(t, tc.wantOn.Equal(d.DeactivationOn), "deactivation on %s", d.DeactivationOn)
			}

			if tc.wantOutcome != OutcomeDeactivate {
				require.Nil(t, d.Transition)
				return
			}
			require.NotNil(t, d.Transition)
			require.Equal(t, s.ID, d.Transition.StudentID)
			require.Equal(t, StatusActive, d.Transition.From)
			require.Equal(t, StatusInactiveByPolicy, d.Transition.To)
			require.Equal(t, actor.ID, d.Transition.Entry.ChangedBy)
			require.True(t, d.Transition.Entry.Automated)
			require.Equal(t, at, d.Transition.Entry.ChangedAt)
			require.Contains(t, d.Transition.Entry.Reason, "threshold 10")
			require.Contains(t, d.Transition.Entry.Reason, tc.lastPresent.Format(time.DateOnly))
		})
	}
}

func TestDecideUsesInjectedThreshold(t *testing.T) {
	t.Parallel()

	policy, err := NewPolicy(3, 0)
	require.NoError(t, err)

	s := Student{ID: uuid.New(), Status: StatusActive}
	last := date(2024, 1, 17)
	d := policy.Decide(s, &last, date(2024, 1, 22), Actor{}, time.Now())

	require.Equal(t, OutcomeDeactivate, d.Outcome)
	require.Equal(t, 3, d.DaysAbsent)
}

func TestReactivate(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	actor := Actor{ID: uuid.New(), Automated: true}
	at := time.Date(2024, 1, 23, 7, 45, 0, 0, time.UTC)
	trigger := Trigger{CalendarDate: date(2024, 1, 23), Presence: PresenceLate}

	for _, status := range []LifecycleStatus{StatusActive, StatusSuspended, StatusInactive, StatusGraduated} {
		_, ok := policy.Reactivate(Student{ID: uuid.New(), Status: status}, trigger, actor, at)
		require.False(t, ok, status)
	}

	s := Student{ID: uuid.New(), BranchID: uuid.New(), Status: StatusInactiveByPolicy}
	tr, ok := policy.Reactivate(s, trigger, actor, at)
	require.True(t, ok)
	require.Equal(t, StatusInactiveByPolicy, tr.From)
	require.Equal(t, StatusActive, tr.To)
	require.Equal(t, s.BranchID, tr.BranchID)
	require.Equal(t, actor.ID, tr.Entry.ChangedBy)
	require.Equal(t, "Automatically reactivated: new attendance recorded on 2024-01-23 (late).", tr.Entry.Reason)

	human := Actor{ID: uuid.New()}
	tr, ok = policy.Reactivate(s, Trigger{}, human, at)
	require.True(t, ok)
	require.False(t, tr.Entry.Automated)
	require.Equal(t, "Automatically reactivated: new attendance recorded.", tr.Entry.Reason)
}

func TestPresenceAndKeys(t *testing.T) {
	t.Parallel()

	require.True(t, PresencePresent.CountsAsPresent())
	require.True(t, PresenceLate.CountsAsPresent())
	require.True(t, PresenceHalfDay.CountsAsPresent())
	require.False(t, PresenceAbsent.CountsAsPresent())
	require.False(t, PresenceEarlyDeparture.CountsAsPresent())
	require.True(t, PresenceEarlyDeparture.Valid())
	require.False(t, PresenceState("excused").Valid())

	require.True(t, PersonKey{}.Empty())
	nilID := uuid.Nil
	require.True(t, PersonKey{UserID: &nilID}.Empty())

	s := Student{ID: uuid.New()}
	key := KeyFor(s)
	require.False(t, key.Empty())
	require.Nil(t, key.UserID)
	require.Equal(t, s.ID, *key.StudentID)

	require.True(t, StatusInactiveByPolicy.Valid())
	require.False(t, LifecycleStatus("paused").Valid())
}

func TestRecentHistory(t *testing.T) {
	t.Parallel()

	history := make([]StatusChange, 7)
	for i := range history {
		history[i] = StatusChange{Reason: string(rune('a' + i))}
	}

	got := recentHistory(history, 5)
	require.Len(t, got, 5)
	require.Equal(t, "c", got[0].Reason)
	require.Equal(t, "g", got[4].Reason)

	got[0].Reason = "changed"
	require.Equal(t, "c", history[2].Reason)

	require.Empty(t, recentHistory(nil, 5))
}
