package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
)

func TestPostgresRepositoryIntegration(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping inactivity repository integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("campus"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: connString, StatementTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { persistence.ClosePool(pool) })

	require.NoError(t, persistence.ApplySchema(ctx, pool))
	// Applying twice is harmless.
	require.NoError(t, persistence.ApplySchema(ctx, pool))

	db := persistence.NewDB(pool)
	r, err := NewPostgresRepository(db)
	require.NoError(t, err)

	branches, err := persistence.NewBranchStore(db)
	require.NoError(t, err)
	students, err := persistence.NewStudentStore(db)
	require.NoError(t, err)
	attendance, err := persistence.NewAttendanceStore(db)
	require.NoError(t, err)
	actors, err := persistence.NewActorStore(db)
	require.NoError(t, err)
	notices, err := persistence.NewNoticeStore(db)
	require.NoError(t, err)

	branchID := uuid.New()
	_, err = branches.Upsert(ctx, persistence.BranchRecord{BranchID: branchID, Name: "North Campus", IsActive: true, Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	_, err = branches.Upsert(ctx, persistence.BranchRecord{BranchID: uuid.New(), Name: "Closed Campus", IsActive: false})
	require.NoError(t, err)

	userID := uuid.New()
	_, err = actors.CreateUser(ctx, persistence.ActorRecord{UserID: userID, BranchID: &branchID, Email: "siti@example.com", FullName: "Siti"})
	require.NoError(t, err)

	dueID, atRiskID, neverID := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, students.Insert(ctx, persistence.StudentRecord{StudentID: dueID, BranchID: branchID, UserID: &userID, AdmissionNo: "N-001", LifecycleStatus: "active"}))
	require.NoError(t, students.Insert(ctx, persistence.StudentRecord{StudentID: atRiskID, BranchID: branchID, AdmissionNo: "N-002", LifecycleStatus: "active"}))
	require.NoError(t, students.Insert(ctx, persistence.StudentRecord{StudentID: neverID, BranchID: branchID, AdmissionNo: "N-003", LifecycleStatus: "suspended"}))

	// The due student is matched through the user id, the at-risk one through the student id.
	require.NoError(t, attendance.Record(ctx, persistence.AttendanceRow{BranchID: branchID, UserID: &userID, CalendarDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), PresenceState: "late"}))
	require.NoError(t, attendance.Record(ctx, persistence.AttendanceRow{BranchID: branchID, UserID: &userID, CalendarDate: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), PresenceState: "absent"}))
	require.NoError(t, attendance.Record(ctx, persistence.AttendanceRow{BranchID: branchID, StudentID: &atRiskID, CalendarDate: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), PresenceState: "present"}))
	// Re-recording the same day replaces the presence state.
	require.NoError(t, attendance.Record(ctx, persistence.AttendanceRow{BranchID: branchID, StudentID: &atRiskID, CalendarDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), PresenceState: "present"}))
	require.NoError(t, attendance.Record(ctx, persistence.AttendanceRow{BranchID: branchID, StudentID: &atRiskID, CalendarDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), PresenceState: "absent"}))

	t.Run("branches", func(t *testing.T) {
		active, err := r.ListActiveBranches(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "Asia/Jakarta", active[0].Timezone)

		_, err = r.GetBranch(ctx, uuid.New())
		require.ErrorIs(t, err, service.ErrBranchNotFound)
	})

	t.Run("lookback", func(t *testing.T) {
		due, err := r.GetStudent(ctx, dueID)
		require.NoError(t, err)
		last, found, err := r.LastPresentDate(ctx, branchID, service.KeyFor(due))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "2024-01-08", last.Format(time.DateOnly))

		atRisk, err := r.GetStudent(ctx, atRiskID)
		require.NoError(t, err)
		last, found, err = r.LastPresentDate(ctx, branchID, service.KeyFor(atRisk))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "2024-01-12", last.Format(time.DateOnly))

		never, err := r.GetStudent(ctx, neverID)
		require.NoError(t, err)
		_, found, err = r.LastPresentDate(ctx, branchID, service.KeyFor(never))
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("automated actor is created once", func(t *testing.T) {
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			ids = map[uuid.UUID]struct{}{}
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				actor, err := r.ResolveAutomatedActor(ctx, branchID)
				if err != nil {
					return
				}
				mu.Lock()
				ids[actor.ID] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Len(t, ids, 1)
	})

	t.Run("sweep, notify and reactivate end to end", func(t *testing.T) {
		svc := service.New(r.Deps(), service.Config{
			Now: func() time.Time { return time.Date(2024, 1, 22, 1, 0, 0, 0, time.UTC) },
		}, zaptest.NewLogger(t), nil)

		report, err := svc.RunSweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.TotalMarkedInactive)
		require.Equal(t, 2, report.TotalStudentsChecked)

		again, err := svc.RunSweep(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, again.TotalMarkedInactive)

		due, err := r.GetStudent(ctx, dueID)
		require.NoError(t, err)
		require.Equal(t, service.StatusInactiveByPolicy, due.Status)
		require.Len(t, due.StatusHistory, 1)
		require.Contains(t, due.StatusHistory[0].Reason, "2024-01-08")

		notified, err := svc.NotifyAtRisk(ctx, &branchID)
		require.NoError(t, err)
		require.Equal(t, 1, notified.AtRiskFound)
		// The at-risk student has no linked account.
		require.Equal(t, 1, notified.NotificationsFailed)

		result, err := svc.OnAttendanceRecorded(ctx, service.AttendanceRecorded{StudentID: dueID, BranchID: branchID, Presence: service.PresencePresent})
		require.NoError(t, err)
		require.Equal(t, service.ReactivationApplied, result.Outcome)

		due, err = r.GetStudent(ctx, dueID)
		require.NoError(t, err)
		require.Equal(t, service.StatusActive, due.Status)
		require.Len(t, due.StatusHistory, 2)
		require.Equal(t, due.StatusHistory[0].ChangedBy, due.StatusHistory[1].ChangedBy)
	})

	t.Run("conditional write reports stale status", func(t *testing.T) {
		applied, err := r.ApplyTransition(ctx, service.Transition{
			StudentID: neverID,
			From:      service.StatusActive,
			To:        service.StatusInactiveByPolicy,
			Entry:     service.StatusChange{PreviousStatus: service.StatusActive, NewStatus: service.StatusInactiveByPolicy, ChangedBy: uuid.New(), ChangedAt: time.Now()},
		})
		require.NoError(t, err)
		require.False(t, applied)

		suspended, err := r.GetStudent(ctx, neverID)
		require.NoError(t, err)
		require.Equal(t, service.StatusSuspended, suspended.Status)
		require.Empty(t, suspended.StatusHistory)

		_, err = r.ApplyTransition(ctx, service.Transition{StudentID: uuid.New(), From: service.StatusActive, To: service.StatusInactiveByPolicy})
		require.ErrorIs(t, err, service.ErrStudentNotFound)
	})

	t.Run("notices", func(t *testing.T) {
		created, err := r.CreateNotice(ctx, service.Notice{
			BranchID:        branchID,
			RecipientUserID: userID,
			StudentID:       dueID,
			Category:        service.NoticeCategoryInactivityWarning,
			Title:           "Attendance warning",
			Message:         "test",
			ExpiresAt:       time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC),
			Payload:         service.NoticePayload{DaysAbsent: 8, Threshold: 10, DaysRemaining: 2},
		})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, created.ID)

		rows, err := notices.ListForStudent(ctx, dueID, service.NoticeCategoryInactivityWarning)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.JSONEq(t, `{"daysAbsent":8,"threshold":10,"daysRemaining":2,"lastPresentOn":"","deactivationOn":""}`, string(rows[0].Payload))
	})
}
