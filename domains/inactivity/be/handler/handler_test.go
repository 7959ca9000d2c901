package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/repo"
	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	"github.com/zenGate-Global/palmyra-campus/platform/go/requesttrace"
)

type mockService struct {
	checkScopeFn func(ctx context.Context, branchID uuid.UUID) error
	notifyJobFn  func(branchID *uuid.UUID) jobs.Func
	attendanceFn func(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error)
	statusFn     func(ctx context.Context, id uuid.UUID) (service.StatusReport, error)
}

func (m *mockService) CheckNotifyScope(ctx context.Context, branchID uuid.UUID) error {
	if m.checkScopeFn == nil {
		panic("checkScopeFn not configured")
	}
	return m.checkScopeFn(ctx, branchID)
}

func (m *mockService) NotifyJob(branchID *uuid.UUID) jobs.Func {
	if m.notifyJobFn == nil {
		panic("notifyJobFn not configured")
	}
	return m.notifyJobFn(branchID)
}

func (m *mockService) OnAttendanceRecorded(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error) {
	if m.attendanceFn == nil {
		panic("attendanceFn not configured")
	}
	return m.attendanceFn(ctx, evt)
}

func (m *mockService) GetStudentInactivityStatus(ctx context.Context, id uuid.UUID) (service.StatusReport, error) {
	if m.statusFn == nil {
		panic("statusFn not configured")
	}
	return m.statusFn(ctx, id)
}

type stubRunner struct {
	outcome jobs.Outcome
	err     error
	ran     []string
}

func (s *stubRunner) RunNow(_ context.Context, name string) (jobs.Outcome, error) {
	s.ran = append(s.ran, name)
	return s.outcome, s.err
}

func (s *stubRunner) RunNowWith(ctx context.Context, name string, fn jobs.Func) (jobs.Outcome, error) {
	s.ran = append(s.ran, name+"*")
	if s.err != nil {
		return jobs.Outcome{}, s.err
	}
	result, err := fn(ctx)
	return jobs.Outcome{Job: name, Success: err == nil, Attempts: 1, Result: result, Err: err}, nil
}

type stubHealth jobs.HealthReport

func (s stubHealth) Health() jobs.HealthReport { return jobs.HealthReport(s) }

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountTriggers(r)
	h.MountQueries(r)
	h.MountHealth(r)
	return r
}

func serve(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestNewPanicsWithoutDependencies(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	require.Panics(t, func() { New(nil, &stubRunner{}, stubHealth{}, logger) })
	require.Panics(t, func() { New(&mockService{}, nil, stubHealth{}, logger) })
	require.Panics(t, func() { New(&mockService{}, &stubRunner{}, nil, logger) })
	require.Panics(t, func() { New(&mockService{}, &stubRunner{}, stubHealth{}, nil) })
}

// endToEnd wires the real service, memory repository and scheduler behind the router.
type endToEnd struct {
	repo      *repo.MemoryRepository
	scheduler *jobs.Scheduler
	router    http.Handler
	branch    service.Branch
}

func newEndToEnd(t *testing.T) *endToEnd {
	t.Helper()

	r := repo.NewMemoryRepository()
	svc := service.New(r.Deps(), service.Config{
		Now: func() time.Time { return time.Date(2024, 1, 22, 6, 0, 0, 0, time.UTC) },
	}, zaptest.NewLogger(t), nil)

	logger := zaptest.NewLogger(t)
	registry := jobs.NewRegistry(jobs.RegistryConfig{BaseDelay: time.Millisecond}, logger, nil, nil)
	scheduler := jobs.NewScheduler(registry, logger, jobs.SchedulerConfig{MaxAttempts: 2})
	for _, spec := range svc.JobSpecs(service.Schedule{}) {
		require.NoError(t, scheduler.Add(spec))
	}

	b := service.Branch{ID: uuid.New(), Name: "north", Active: true}
	r.PutBranch(b)

	return &endToEnd{repo: r, scheduler: scheduler, router: newRouter(New(svc, scheduler, registry, logger)), branch: b}
}

func (e *endToEnd) student(lastPresent time.Time) service.Student {
	userID := uuid.New()
	s := service.Student{ID: uuid.New(), BranchID: e.branch.ID, UserID: &userID, AdmissionNo: "N-" + lastPresent.Format("0102"), Status: service.StatusActive}
	e.repo.PutStudent(s)
	e.repo.RecordAttendance(repo.AttendanceRecord{BranchID: e.branch.ID, UserID: &userID, CalendarDate: lastPresent, Presence: service.PresencePresent})
	return s
}

func TestSweepNotifyAndReactivateOverHTTP(t *testing.T) {
	t.Parallel()

	e := newEndToEnd(t)
	due := e.student(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	warned := e.student(time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC))

	rec := serve(t, e.router, httptest.NewRequest(http.MethodPost, "/inactivity/sweeps", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sweep struct {
		Job      string              `json:"job"`
		Attempts int                 `json:"attempts"`
		Report   service.SweepReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sweep))
	require.Equal(t, service.JobSweep, sweep.Job)
	require.Equal(t, 1, sweep.Report.TotalMarkedInactive)
	require.Equal(t, []uuid.UUID{due.ID}, sweep.Report.PerBranch[0].Deactivated)

	rec = serve(t, e.router, httptest.NewRequest(http.MethodPost, "/inactivity/notifications?branchId="+e.branch.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var notify struct {
		Report service.NotificationReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notify))
	require.Equal(t, 1, notify.Report.NotificationsSent)
	require.Equal(t, warned.ID, notify.Report.Details[0].StudentID)

	st, ok := e.scheduler.Registry().Snapshot(service.JobNotify)
	require.True(t, ok)
	require.Equal(t, 1, st.TotalRuns)

	rec = serve(t, e.router, httptest.NewRequest(http.MethodGet, "/inactivity/students/"+due.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status service.StatusReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, service.StatusInactiveByPolicy, status.Status)
	require.True(t, status.AutomatedDeactivation)

	staff := uuid.New()
	body := bytes.NewBufferString(`{"branchId":"` + e.branch.ID.String() + `","calendarDate":"2024-01-22","presence":"late"}`)
	req := httptest.NewRequest(http.MethodPost, "/inactivity/students/"+due.ID.String()+"/attendance-recorded", body)
	req = req.WithContext(requesttrace.IntoContext(req.Context(), requesttrace.AuditInfo{ActorKind: requesttrace.ActorKindUser, UserID: &staff}))
	rec = serve(t, e.router, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result service.ReactivationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, service.ReactivationApplied, result.Outcome)
	require.Equal(t, staff, *result.ChangedBy)

	rec = serve(t, e.router, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health jobs.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Len(t, health.Jobs, 2)
}

func TestNotificationsScopeErrors(t *testing.T) {
	t.Parallel()

	e := newEndToEnd(t)
	closed := service.Branch{ID: uuid.New(), Name: "closed"}
	e.repo.PutBranch(closed)

	rec := serve(t, e.router, httptest.NewRequest(http.MethodPost, "/inactivity/notifications?branchId=nope", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, problemTypeValidation, decodeProblem(t, rec).Type)

	rec = serve(t, e.router, httptest.NewRequest(http.MethodPost, "/inactivity/notifications?branchId="+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, e.router, httptest.NewRequest(http.MethodPost, "/inactivity/notifications?branchId="+closed.ID.String(), nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Rejected filters never reach the job history.
	st, ok := e.scheduler.Registry().Snapshot(service.JobNotify)
	require.True(t, ok)
	require.Zero(t, st.TotalRuns)
}

func TestJobFailureIsReportedAsBadGateway(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{outcome: jobs.Outcome{Job: service.JobSweep, Attempts: 3, Err: errors.New("db down")}}
	h := New(&mockService{}, runner, stubHealth{}, zaptest.NewLogger(t))

	rec := serve(t, newRouter(h), httptest.NewRequest(http.MethodPost, "/inactivity/sweeps", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	problem := decodeProblem(t, rec)
	require.Equal(t, problemTypeJobFailed, problem.Type)
	require.Contains(t, problem.Detail, "3 attempt(s)")
	require.NotContains(t, rec.Body.String(), "db down")
	require.Equal(t, []string{service.JobSweep}, runner.ran)

	runner = &stubRunner{err: jobs.ErrUnknownJob}
	h = New(&mockService{}, runner, stubHealth{}, zaptest.NewLogger(t))
	rec = serve(t, newRouter(h), httptest.NewRequest(http.MethodPost, "/inactivity/notifications", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttendanceRecordedMapping(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		attendanceFn: func(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error) {
			return service.ReactivationResult{}, service.ErrStudentNotFound
		},
	}
	router := newRouter(New(svc, &stubRunner{}, stubHealth{}, zaptest.NewLogger(t)))
	branch := uuid.NewString()

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "bad student id", path: "/inactivity/students/x/attendance-recorded", body: `{}`, want: http.StatusBadRequest},
		{name: "not json", path: "/inactivity/students/" + uuid.NewString() + "/attendance-recorded", body: `nope`, want: http.StatusBadRequest},
		{name: "bad branch", path: "/inactivity/students/" + uuid.NewString() + "/attendance-recorded", body: `{"branchId":"x","presence":"present"}`, want: http.StatusBadRequest},
		{name: "impossible date", path: "/inactivity/students/" + uuid.NewString() + "/attendance-recorded", body: `{"branchId":"` + branch + `","presence":"present","calendarDate":"2024-13-45"}`, want: http.StatusBadRequest},
		{name: "oversized body", path: "/inactivity/students/" + uuid.NewString() + "/attendance-recorded", body: `{"branchId":"` + branch + `","presence":"present","calendarDate":"` + strings.Repeat("9", maxBodyBytes) + `"}`, want: http.StatusRequestEntityTooLarge},
		{name: "unknown student", path: "/inactivity/students/" + uuid.NewString() + "/attendance-recorded", body: `{"branchId":"` + branch + `","presence":"present"}`, want: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, router, httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(tc.body)))
			require.Equal(t, tc.want, rec.Code)
			decodeProblem(t, rec)
		})
	}
}

func TestAttendanceRecordedWithoutUserUsesSystemActor(t *testing.T) {
	t.Parallel()

	var got service.AttendanceRecorded
	svc := &mockService{
		attendanceFn: func(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error) {
			got = evt
			return service.ReactivationResult{StudentID: evt.StudentID, Outcome: service.ReactivationNoOp}, nil
		},
	}
	router := newRouter(New(svc, &stubRunner{}, stubHealth{}, zaptest.NewLogger(t)))

	studentID, branchID := uuid.New(), uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/inactivity/students/"+studentID.String()+"/attendance-recorded",
		bytes.NewBufferString(`{"branchId":"`+branchID.String()+`","presence":"half_day","calendarDate":"2024-01-22"}`))
	req = req.WithContext(requesttrace.IntoContext(req.Context(), requesttrace.System("req-1")))

	rec := serve(t, router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, studentID, got.StudentID)
	require.Equal(t, branchID, got.BranchID)
	require.Equal(t, service.PresenceHalfDay, got.Presence)
	require.Equal(t, "2024-01-22", got.CalendarDate.Format(time.DateOnly))
	require.Nil(t, got.ActingUserID)
}

func TestStudentStatusErrors(t *testing.T) {
	t.Parallel()

	svc := &mockService{
		statusFn: func(ctx context.Context, id uuid.UUID) (service.StatusReport, error) {
			return service.StatusReport{}, errors.New("connection reset")
		},
	}
	router := newRouter(New(svc, &stubRunner{}, stubHealth{}, zaptest.NewLogger(t)))

	rec := serve(t, router, httptest.NewRequest(http.MethodGet, "/inactivity/students/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, problemTypeInternal, decodeProblem(t, rec).Type)
	require.NotContains(t, rec.Body.String(), "connection reset")
}

func TestJobsHealthCritical(t *testing.T) {
	t.Parallel()

	health := stubHealth{Status: jobs.Critical, Jobs: []jobs.JobHealth{{Name: service.JobSweep, Status: jobs.Critical, ConsecutiveFailures: 2}}}
	router := newRouter(New(&mockService{}, &stubRunner{}, health, zaptest.NewLogger(t)))

	rec := serve(t, router, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"consecutiveFailures":2`)
}
