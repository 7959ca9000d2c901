package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	StudentsTable      = "students"
	StatusHistoryTable = "student_status_history"
)

// StudentRecord represents a row in the students table plus its ordered status history.
type StudentRecord struct {
	StudentID       uuid.UUID
	BranchID        uuid.UUID
	UserID          *uuid.UUID
	AdmissionNo     string
	LifecycleStatus string
	UpdatedAt       time.Time
	History         []StatusHistoryRecord
}

// StatusHistoryRecord represents a row in student_status_history.
type StatusHistoryRecord struct {
	PreviousStatus string
	NewStatus      string
	ChangedBy      uuid.UUID
	ChangedAt      time.Time
	Reason         string
	Automated      bool
}

// StudentStore exposes persistence helpers for students and their status history.
type StudentStore struct {
	db *DB
}

// NewStudentStore returns a store bound to db.
func NewStudentStore(db *DB) (*StudentStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &StudentStore{db: db}, nil
}

// ListByStatus returns the students of a branch in the given status, without history.
func (s *StudentStore) ListByStatus(ctx context.Context, branchID uuid.UUID, status string) ([]StudentRecord, error) {
	rows, err := s.db.Pool().Query(ctx, fmt.Sprintf(`
        SELECT student_id, branch_id, user_id, admission_no, lifecycle_status, updated_at
        FROM %s
        WHERE branch_id = $1 AND lifecycle_status = $2
        ORDER BY admission_no, student_id
    `, StudentsTable), branchID, status)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	students := make([]StudentRecord, 0)
	for rows.Next() {
		rec, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

// Get returns a student with its full status history, oldest entry first.
func (s *StudentStore) Get(ctx context.Context, id uuid.UUID) (StudentRecord, error) {
	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        SELECT student_id, branch_id, user_id, admission_no, lifecycle_status, updated_at
        FROM %s
        WHERE student_id = $1
    `, StudentsTable), id)

	rec, err := scanStudent(row)
	if err != nil {
		return StudentRecord{}, notFound(err)
	}

	rows, err := s.db.Pool().Query(ctx, fmt.Sprintf(`
        SELECT previous_status, new_status, changed_by, changed_at, reason, automated
        FROM %s
        WHERE student_id = $1
        ORDER BY seq
    `, StatusHistoryTable), id)
	if err != nil {
		return StudentRecord{}, fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	rec.History = make([]StatusHistoryRecord, 0)
	for rows.Next() {
		var h StatusHistoryRecord
		if err := rows.Scan(&h.PreviousStatus, &h.NewStatus, &h.ChangedBy, &h.ChangedAt, &h.Reason, &h.Automated); err != nil {
			return StudentRecord{}, fmt.Errorf("scan status history: %w", err)
		}
		rec.History = append(rec.History, h)
	}
	if err := rows.Err(); err != nil {
		return StudentRecord{}, fmt.Errorf("iterate status history: %w", err)
	}
	return rec, nil
}

// Insert creates a student row. History entries on rec are ignored.
func (s *StudentStore) Insert(ctx context.Context, rec StudentRecord) error {
	if rec.StudentID == uuid.Nil || rec.BranchID == uuid.Nil {
		return errors.New("student and branch ids are required")
	}
	_, err := s.db.Pool().Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (student_id, branch_id, user_id, admission_no, lifecycle_status)
        VALUES ($1, $2, $3, $4, $5)
    `, StudentsTable), rec.StudentID, rec.BranchID, rec.UserID, rec.AdmissionNo, rec.LifecycleStatus)
	if err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// CompareAndSetStatus moves a student from one status to another and appends entry, in one
// transaction. It returns false, without writing, when the stored status is not from.
func (s *StudentStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to string, entry StatusHistoryRecord) (bool, error) {
	applied := false
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
            UPDATE %s
            SET lifecycle_status = $3, updated_at = NOW()
            WHERE student_id = $1 AND lifecycle_status = $2
        `, StudentsTable), id, from, to)
		if err != nil {
			return fmt.Errorf("update student status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf(`
            INSERT INTO %s (student_id, previous_status, new_status, changed_by, changed_at, reason, automated)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
        `, StatusHistoryTable), id, entry.PreviousStatus, entry.NewStatus, entry.ChangedBy, entry.ChangedAt, entry.Reason, entry.Automated); err != nil {
			return fmt.Errorf("append status history: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Exists reports whether a student row exists.
func (s *StudentStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE student_id = $1)`, StudentsTable), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check student: %w", err)
	}
	return exists, nil
}

func scanStudent(row pgx.Row) (StudentRecord, error) {
	var rec StudentRecord
	if err := row.Scan(&rec.StudentID, &rec.BranchID, &rec.UserID, &rec.AdmissionNo, &rec.LifecycleStatus, &rec.UpdatedAt); err != nil {
		return StudentRecord{}, err
	}
	return rec, nil
}
