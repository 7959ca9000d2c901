package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	"github.com/zenGate-Global/palmyra-campus/platform/go/requesttrace"
)

const (
	problemTypeValidation = "https://campus.zengate.global/problems/validation-error"
	problemTypeNotFound   = "https://campus.zengate.global/problems/not-found"
	problemTypeConflict   = "https://campus.zengate.global/problems/conflict"
	problemTypeJobFailed  = "https://campus.zengate.global/problems/job-failed"
	problemTypeInternal   = "https://campus.zengate.global/problems/internal-error"
)

type operation string

const (
	sweepOperation      operation = "inactivitySweep"
	notifyOperation     operation = "inactivityNotify"
	attendanceOperation operation = "inactivityAttendanceRecorded"
	statusOperation     operation = "inactivityStatus"
)

// Inactivity is the slice of the inactivity service the HTTP surface needs.
type Inactivity interface {
	CheckNotifyScope(ctx context.Context, branchID uuid.UUID) error
	NotifyJob(branchID *uuid.UUID) jobs.Func
	OnAttendanceRecorded(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error)
	GetStudentInactivityStatus(ctx context.Context, id uuid.UUID) (service.StatusReport, error)
}

// JobRunner triggers registered jobs with scheduler semantics.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (jobs.Outcome, error)
	RunNowWith(ctx context.Context, name string, fn jobs.Func) (jobs.Outcome, error)
}

// HealthSource reports job health.
type HealthSource interface {
	Health() jobs.HealthReport
}

// Handler exposes manual triggers and diagnostics for the inactivity engine.
type Handler struct {
	svc    Inactivity
	runner JobRunner
	health HealthSource
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Inactivity, runner JobRunner, health HealthSource, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("inactivity service is required")
	}
	if runner == nil {
		panic("job runner is required")
	}
	if health == nil {
		panic("job health source is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Handler{svc: svc, runner: runner, health: health, logger: logger}
}

// MountTriggers registers the endpoints that run jobs or change state. Runs outlive the request
// context, so these routes must not sit behind a request timeout.
func (h *Handler) MountTriggers(r chi.Router) {
	r.Post("/inactivity/sweeps", h.RunSweep)
	r.Post("/inactivity/notifications", h.RunNotifications)
	r.Post("/inactivity/students/{studentId}/attendance-recorded", h.AttendanceRecorded)
}

// MountQueries registers the read-only endpoints.
func (h *Handler) MountQueries(r chi.Router) {
	r.Get("/inactivity/students/{studentId}", h.StudentStatus)
}

// MountHealth registers the job health endpoint.
func (h *Handler) MountHealth(r chi.Router) {
	r.Get("/jobs/health", h.JobsHealth)
}

// JobRunResponse wraps the report of a manually triggered job.
type JobRunResponse struct {
	Job      string `json:"job"`
	Attempts int    `json:"attempts"`
	Report   any    `json:"report"`
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	out, err := h.runner.RunNow(ctx, service.JobSweep)
	h.writeOutcome(w, r, sweepOperation, out, err)
}

func (h *Handler) RunNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	raw := r.URL.Query().Get("branchId")
	if raw == "" {
		out, err := h.runner.RunNow(ctx, service.JobNotify)
		h.writeOutcome(w, r, notifyOperation, out, err)
		return
	}

	branchID, err := uuid.Parse(raw)
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, h.buildProblem("Validation failed", "branchId must be a UUID", problemTypeValidation, http.StatusBadRequest))
		return
	}
	if err := h.svc.CheckNotifyScope(r.Context(), branchID); err != nil {
		h.writeError(w, r, err, notifyOperation)
		return
	}

	out, err := h.runner.RunNowWith(ctx, service.JobNotify, h.svc.NotifyJob(&branchID))
	h.writeOutcome(w, r, notifyOperation, out, err)
}

// maxBodyBytes caps trigger request bodies.
const maxBodyBytes = 64 << 10

// AttendanceRecordedRequest is the body of the attendance-recorded trigger. Shape and formats are
// enforced by the request validator; the handler only maps it onto the domain event.
type AttendanceRecordedRequest struct {
	BranchID     string `json:"branchId"`
	CalendarDate string `json:"calendarDate,omitempty"`
	Presence     string `json:"presence"`
}

func (h *Handler) AttendanceRecorded(w http.ResponseWriter, r *http.Request) {
	studentID, ok := h.studentID(w, r)
	if !ok {
		return
	}

	var body AttendanceRecordedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeProblem(w, http.StatusRequestEntityTooLarge, h.buildProblem("Request too large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), problemTypeValidation, http.StatusRequestEntityTooLarge))
			return
		}
		h.writeProblem(w, http.StatusBadRequest, h.buildProblem("Invalid request body", "request body must be JSON", problemTypeValidation, http.StatusBadRequest))
		return
	}

	evt, err := toAttendanceEvent(studentID, body)
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, h.buildProblem("Validation failed", err.Error(), problemTypeValidation, http.StatusBadRequest))
		return
	}
	evt.ActingUserID = requesttrace.FromContextOrAnonymous(r.Context()).ActingUser()

	result, err := h.svc.OnAttendanceRecorded(r.Context(), evt)
	if err != nil {
		h.writeError(w, r, err, attendanceOperation)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) StudentStatus(w http.ResponseWriter, r *http.Request) {
	studentID, ok := h.studentID(w, r)
	if !ok {
		return
	}

	report, err := h.svc.GetStudentInactivityStatus(r.Context(), studentID)
	if err != nil {
		h.writeError(w, r, err, statusOperation)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// JobsHealth answers 503 when any job is critical so probes can alert on it.
func (h *Handler) JobsHealth(w http.ResponseWriter, _ *http.Request) {
	report := h.health.Health()
	status := http.StatusOK
	if report.Status == jobs.Critical {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func toAttendanceEvent(studentID uuid.UUID, body AttendanceRecordedRequest) (service.AttendanceRecorded, error) {
	branchID, err := uuid.Parse(body.BranchID)
	if err != nil {
		return service.AttendanceRecorded{}, errors.New("branchId must be a UUID")
	}

	evt := service.AttendanceRecorded{StudentID: studentID, BranchID: branchID, Presence: service.PresenceState(body.Presence)}
	if body.CalendarDate != "" {
		on, err := time.Parse(time.DateOnly, body.CalendarDate)
		if err != nil {
			return service.AttendanceRecorded{}, fmt.Errorf("calendarDate %q is not a calendar date", body.CalendarDate)
		}
		evt.CalendarDate = on
	}
	return evt, nil
}

func (h *Handler) studentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "studentId"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, h.buildProblem("Validation failed", "studentId must be a UUID", problemTypeValidation, http.StatusBadRequest))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, op operation, out jobs.Outcome, err error) {
	if err != nil {
		h.writeError(w, r, err, op)
		return
	}
	if !out.Success {
		if errors.Is(out.Err, service.ErrBranchNotFound) || errors.Is(out.Err, service.ErrBranchInactive) {
			h.writeError(w, r, out.Err, op)
			return
		}
		h.loggerFrom(r.Context()).Error("manual job run failed",
			zap.String("operation", string(op)),
			zap.String("job", out.Job),
			zap.Int("attempts", out.Attempts),
			zap.Error(out.Err),
		)
		detail := fmt.Sprintf("job %s failed after %d attempt(s)", out.Job, out.Attempts)
		h.writeProblem(w, http.StatusBadGateway, h.buildProblem("Job failed", detail, problemTypeJobFailed, http.StatusBadGateway))
		return
	}

	writeJSON(w, http.StatusOK, JobRunResponse{Job: out.Job, Attempts: out.Attempts, Report: out.Result})
}
