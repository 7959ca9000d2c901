package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const NoticesTable = "notices"

// NoticeRecord represents a row in the notices table. Payload is stored as JSONB.
type NoticeRecord struct {
	NoticeID        uuid.UUID
	BranchID        uuid.UUID
	RecipientUserID uuid.UUID
	StudentID       uuid.UUID
	Category        string
	Title           string
	Message         string
	ExpiresAt       time.Time
	Payload         json.RawMessage
	CreatedBy       uuid.UUID
	CreatedAt       time.Time
}

// NoticeStore persists notices. Delivery is handled by a separate consumer of the table.
type NoticeStore struct {
	db *DB
}

// NewNoticeStore returns a store bound to db.
func NewNoticeStore(db *DB) (*NoticeStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &NoticeStore{db: db}, nil
}

// Create inserts a notice and returns the stored row.
func (s *NoticeStore) Create(ctx context.Context, rec NoticeRecord) (NoticeRecord, error) {
	if rec.NoticeID == uuid.Nil {
		rec.NoticeID = uuid.New()
	}
	if len(rec.Payload) == 0 {
		rec.Payload = json.RawMessage(`{}`)
	}

	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (notice_id, branch_id, recipient_user_id, student_id, category, title, message, expires_at, payload, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING notice_id, branch_id, recipient_user_id, student_id, category, title, message, expires_at, payload, created_by, created_at
    `, NoticesTable),
		rec.NoticeID, rec.BranchID, rec.RecipientUserID, rec.StudentID, rec.Category,
		rec.Title, rec.Message, rec.ExpiresAt, []byte(rec.Payload), rec.CreatedBy, createdAt(rec.CreatedAt),
	)
	return scanNotice(row)
}

// ListForStudent returns the notices about a student, newest first.
func (s *NoticeStore) ListForStudent(ctx context.Context, studentID uuid.UUID, category string) ([]NoticeRecord, error) {
	rows, err := s.db.Pool().Query(ctx, fmt.Sprintf(`
        SELECT notice_id, branch_id, recipient_user_id, student_id, category, title, message, expires_at, payload, created_by, created_at
        FROM %s
        WHERE student_id = $1 AND category = $2
        ORDER BY created_at DESC
    `, NoticesTable), studentID, category)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	notices := make([]NoticeRecord, 0)
	for rows.Next() {
		rec, err := scanNotice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notice: %w", err)
		}
		notices = append(notices, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notices: %w", err)
	}
	return notices, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func scanNotice(row pgx.Row) (NoticeRecord, error) {
	var (
		rec     NoticeRecord
		payload []byte
	)
	if err := row.Scan(&rec.NoticeID, &rec.BranchID, &rec.RecipientUserID, &rec.StudentID, &rec.Category,
		&rec.Title, &rec.Message, &rec.ExpiresAt, &payload, &rec.CreatedBy, &rec.CreatedAt); err != nil {
		return NoticeRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}
