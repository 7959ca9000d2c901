package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
)

// PostgresRepository implements the inactivity ports on top of the shared persistence stores.
type PostgresRepository struct {
	branches   *persistence.BranchStore
	students   *persistence.StudentStore
	attendance *persistence.AttendanceStore
	actors     *persistence.ActorStore
	notices    *persistence.NoticeStore
}

var (
	_ service.BranchRepository  = (*PostgresRepository)(nil)
	_ service.StudentRepository = (*PostgresRepository)(nil)
	_ service.AttendanceReader  = (*PostgresRepository)(nil)
	_ service.ActorRepository   = (*PostgresRepository)(nil)
	_ service.NoticeRepository  = (*PostgresRepository)(nil)
)

// NewPostgresRepository builds every store over db.
func NewPostgresRepository(db *persistence.DB) (*PostgresRepository, error) {
	if db == nil {
		panic("inactivity repository requires db")
	}

	branches, err := persistence.NewBranchStore(db)
	if err != nil {
		return nil, err
	}
	students, err := persistence.NewStudentStore(db)
	if err != nil {
		return nil, err
	}
	attendance, err := persistence.NewAttendanceStore(db)
	if err != nil {
		return nil, err
	}
	actors, err := persistence.NewActorStore(db)
	if err != nil {
		return nil, err
	}
	notices, err := persistence.NewNoticeStore(db)
	if err != nil {
		return nil, err
	}

	return &PostgresRepository{
		branches:   branches,
		students:   students,
		attendance: attendance,
		actors:     actors,
		notices:    notices,
	}, nil
}

// Deps returns service dependencies all served by r.
func (r *PostgresRepository) Deps() service.Deps {
	return service.Deps{Branches: r, Students: r, Attendance: r, Actors: r, Notices: r}
}

func (r *PostgresRepository) ListActiveBranches(ctx context.Context) ([]service.Branch, error) {
	rows, err := r.branches.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.Branch, 0, len(rows))
	for _, rec := range rows {
		out = append(out, toServiceBranch(rec))
	}
	return out, nil
}

func (r *PostgresRepository) GetBranch(ctx context.Context, id uuid.UUID) (service.Branch, error) {
	rec, err := r.branches.Get(ctx, id)
	if err != nil {
		return service.Branch{}, mapNotFound(err, service.ErrBranchNotFound)
	}
	return toServiceBranch(rec), nil
}

func (r *PostgresRepository) ListActiveStudents(ctx context.Context, branchID uuid.UUID) ([]service.Student, error) {
	rows, err := r.students.ListByStatus(ctx, branchID, string(service.StatusActive))
	if err != nil {
		return nil, err
	}
	out := make([]service.Student, 0, len(rows))
	for _, rec := range rows {
		out = append(out, toServiceStudent(rec))
	}
	return out, nil
}

func (r *PostgresRepository) GetStudent(ctx context.Context, id uuid.UUID) (service.Student, error) {
	rec, err := r.students.Get(ctx, id)
	if err != nil {
		return service.Student{}, mapNotFound(err, service.ErrStudentNotFound)
	}
	return toServiceStudent(rec), nil
}

func (r *PostgresRepository) ApplyTransition(ctx context.Context, t service.Transition) (bool, error) {
	applied, err := r.students.CompareAndSetStatus(ctx, t.StudentID, string(t.From), string(t.To), persistence.StatusHistoryRecord{
		PreviousStatus: string(t.Entry.PreviousStatus),
		NewStatus:      string(t.Entry.NewStatus),
		ChangedBy:      t.Entry.ChangedBy,
		ChangedAt:      t.Entry.ChangedAt,
		Reason:         t.Entry.Reason,
		Automated:      t.Entry.Automated,
	})
	if err != nil || applied {
		return applied, err
	}

	exists, err := r.students.Exists(ctx, t.StudentID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, service.ErrStudentNotFound
	}
	return false, nil
}

func (r *PostgresRepository) LastPresentDate(ctx context.Context, branchID uuid.UUID, key service.PersonKey) (time.Time, bool, error) {
	if key.Empty() {
		return time.Time{}, false, nil
	}
	states := make([]string, 0, len(service.PresentEquivalent))
	for _, p := range service.PresentEquivalent {
		states = append(states, string(p))
	}
	return r.attendance.LastDate(ctx, branchID, key.UserID, key.StudentID, states)
}

func (r *PostgresRepository) ResolveAutomatedActor(ctx context.Context, branchID uuid.UUID) (service.Actor, error) {
	rec, err := r.actors.ResolveAutomated(ctx, branchID)
	if err != nil {
		return service.Actor{}, err
	}
	return service.Actor{ID: rec.UserID, BranchID: branchID, Automated: true}, nil
}

func (r *PostgresRepository) CreateNotice(ctx context.Context, n service.Notice) (service.Notice, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return service.Notice{}, fmt.Errorf("encode notice payload: %w", err)
	}

	rec, err := r.notices.Create(ctx, persistence.NoticeRecord{
		NoticeID:        n.ID,
		BranchID:        n.BranchID,
		RecipientUserID: n.RecipientUserID,
		StudentID:       n.StudentID,
		Category:        n.Category,
		Title:           n.Title,
		Message:         n.Message,
		ExpiresAt:       n.ExpiresAt,
		Payload:         payload,
		CreatedBy:       n.CreatedBy,
		CreatedAt:       n.CreatedAt,
	})
	if err != nil {
		return service.Notice{}, err
	}

	n.ID = rec.NoticeID
	n.CreatedAt = rec.CreatedAt
	return n, nil
}

func toServiceBranch(rec persistence.BranchRecord) service.Branch {
	return service.Branch{ID: rec.BranchID, Name: rec.Name, Active: rec.IsActive, Timezone: rec.Timezone}
}

func toServiceStudent(rec persistence.StudentRecord) service.Student {
	history := make([]service.StatusChange, 0, len(rec.History))
	for _, h := range rec.History {
		history = append(history, service.StatusChange{
			PreviousStatus: service.LifecycleStatus(h.PreviousStatus),
			NewStatus:      service.LifecycleStatus(h.NewStatus),
			ChangedBy:      h.ChangedBy,
			ChangedAt:      h.ChangedAt,
			Reason:         h.Reason,
			Automated:      h.Automated,
		})
	}
	return service.Student{
		ID:            rec.StudentID,
		BranchID:      rec.BranchID,
		UserID:        rec.UserID,
		AdmissionNo:   rec.AdmissionNo,
		Status:        service.LifecycleStatus(rec.LifecycleStatus),
		StatusHistory: history,
	}
}

func mapNotFound(err, target error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return target
	}
	return err
}
