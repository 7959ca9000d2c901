package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const AttendanceTable = "attendance_records"

// AttendanceRow is one normalised attendance record as written by ingestion.
type AttendanceRow struct {
	AttendanceID  uuid.UUID
	BranchID      uuid.UUID
	UserID        *uuid.UUID
	StudentID     *uuid.UUID
	CalendarDate  time.Time
	PresenceState string
	RecordedAt    time.Time
}

// AttendanceStore reads attendance records. Writes exist for ingestion tooling and tests.
type AttendanceStore struct {
	db *DB
}

// NewAttendanceStore returns a store bound to db.
func NewAttendanceStore(db *DB) (*AttendanceStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &AttendanceStore{db: db}, nil
}

// LastDate returns the most recent calendar date recorded in branchID for a person matched by either
// identifier, restricted to states. found is false when nothing matches.
func (s *AttendanceStore) LastDate(ctx context.Context, branchID uuid.UUID, userID, studentID *uuid.UUID, states []string) (time.Time, bool, error) {
	if userID == nil && studentID == nil {
		return time.Time{}, false, nil
	}

	var last *time.Time
	err := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        SELECT MAX(calendar_date)
        FROM %s
        WHERE branch_id = $1
          AND presence_state = ANY($2)
          AND (student_id = $3 OR user_id = $4)
    `, AttendanceTable), branchID, states, studentID, userID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("attendance lookback: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// Record stores an attendance row, replacing the presence state of an existing row for the same day.
func (s *AttendanceStore) Record(ctx context.Context, row AttendanceRow) error {
	if row.UserID == nil && row.StudentID == nil {
		return errors.New("attendance requires a user or student id")
	}
	if row.AttendanceID == uuid.Nil {
		row.AttendanceID = uuid.New()
	}
	if row.RecordedAt.IsZero() {
		row.RecordedAt = time.Now().UTC()
	}

	conflict := "(branch_id, student_id, calendar_date) WHERE student_id IS NOT NULL"
	if row.StudentID == nil {
		conflict = "(branch_id, user_id, calendar_date) WHERE student_id IS NULL"
	}

	_, err := s.db.Pool().Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (attendance_id, branch_id, user_id, student_id, calendar_date, presence_state, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT %s DO UPDATE
            SET presence_state = EXCLUDED.presence_state, recorded_at = EXCLUDED.recorded_at
    `, AttendanceTable, conflict),
		row.AttendanceID, row.BranchID, row.UserID, row.StudentID,
		dateOnly(row.CalendarDate), row.PresenceState, row.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record attendance: %w", err)
	}
	return nil
}

// dateOnly drops the time of day so DATE columns store the civil date of t.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
