package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const UsersTable = "users"

// ActorRecord represents a row in the users table.
type ActorRecord struct {
	UserID      uuid.UUID
	BranchID    *uuid.UUID
	Email       string
	FullName    string
	IsAutomated bool
	CreatedAt   time.Time
}

// ActorStore resolves the identities stamped on automated status changes.
type ActorStore struct {
	db *DB
}

// NewActorStore returns a store bound to db.
func NewActorStore(db *DB) (*ActorStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &ActorStore{db: db}, nil
}

// ResolveAutomated returns the automated actor of branchID, creating it on first use. Concurrent
// callers converge on a single row through the partial unique index on automated users.
func (s *ActorStore) ResolveAutomated(ctx context.Context, branchID uuid.UUID) (ActorRecord, error) {
	if branchID == uuid.Nil {
		return ActorRecord{}, errors.New("branch id is required")
	}

	rec, err := s.getAutomated(ctx, branchID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ActorRecord{}, err
	}

	short := branchID.String()[:8]
	if _, err := s.db.Pool().Exec(ctx, fmt.Sprintf(`
        INSERT INTO %s (user_id, branch_id, email, full_name, is_automated)
        VALUES ($1, $2, $3, $4, TRUE)
        ON CONFLICT (branch_id) WHERE is_automated DO NOTHING
    `, UsersTable),
		uuid.New(), branchID,
		fmt.Sprintf("automation+%s@system.invalid", short),
		"Attendance Automation",
	); err != nil {
		return ActorRecord{}, fmt.Errorf("create automated actor: %w", err)
	}

	return s.getAutomated(ctx, branchID)
}

func (s *ActorStore) getAutomated(ctx context.Context, branchID uuid.UUID) (ActorRecord, error) {
	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        SELECT user_id, branch_id, email, full_name, is_automated, created_at
        FROM %s
        WHERE branch_id = $1 AND is_automated
    `, UsersTable), branchID)

	rec, err := scanActor(row)
	if err != nil {
		return ActorRecord{}, notFound(err)
	}
	return rec, nil
}

// CreateUser inserts a human account, used when seeding students with a linked user.
func (s *ActorStore) CreateUser(ctx context.Context, rec ActorRecord) (ActorRecord, error) {
	if rec.UserID == uuid.Nil {
		return ActorRecord{}, errors.New("user id is required")
	}

	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (user_id, branch_id, email, full_name, is_automated)
        VALUES ($1, $2, $3, $4, FALSE)
        RETURNING user_id, branch_id, email, full_name, is_automated, created_at
    `, UsersTable), rec.UserID, rec.BranchID, rec.Email, rec.FullName)

	out, err := scanActor(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ActorRecord{}, fmt.Errorf("user %s already exists", rec.UserID)
		}
		return ActorRecord{}, err
	}
	return out, nil
}

func scanActor(row pgx.Row) (ActorRecord, error) {
	var rec ActorRecord
	if err := row.Scan(&rec.UserID, &rec.BranchID, &rec.Email, &rec.FullName, &rec.IsAutomated, &rec.CreatedAt); err != nil {
		return ActorRecord{}, err
	}
	return rec, nil
}
