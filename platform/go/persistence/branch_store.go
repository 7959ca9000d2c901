package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const BranchesTable = "branches"

// BranchRecord represents a row in the branches table.
type BranchRecord struct {
	BranchID  uuid.UUID
	Name      string
	IsActive  bool
	Timezone  string
	CreatedAt time.Time
}

// BranchStore exposes persistence helpers for the branches table.
type BranchStore struct {
	db *DB
}

// NewBranchStore returns a store bound to db.
func NewBranchStore(db *DB) (*BranchStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &BranchStore{db: db}, nil
}

// ListActive returns active branches ordered by name.
func (s *BranchStore) ListActive(ctx context.Context) ([]BranchRecord, error) {
	rows, err := s.db.Pool().Query(ctx, fmt.Sprintf(`
        SELECT branch_id, name, is_active, timezone, created_at
        FROM %s
        WHERE is_active
        ORDER BY name, branch_id
    `, BranchesTable))
	if err != nil {
		return nil, fmt.Errorf("list active branches: %w", err)
	}
	defer rows.Close()

	branches := make([]BranchRecord, 0)
	for rows.Next() {
		rec, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}
	return branches, nil
}

// Get returns one branch regardless of its status.
func (s *BranchStore) Get(ctx context.Context, id uuid.UUID) (BranchRecord, error) {
	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        SELECT branch_id, name, is_active, timezone, created_at
        FROM %s
        WHERE branch_id = $1
    `, BranchesTable), id)

	rec, err := scanBranch(row)
	if err != nil {
		return BranchRecord{}, notFound(err)
	}
	return rec, nil
}

// Upsert inserts a branch or updates its name, status and timezone.
func (s *BranchStore) Upsert(ctx context.Context, rec BranchRecord) (BranchRecord, error) {
	if rec.BranchID == uuid.Nil {
		return BranchRecord{}, errors.New("branch id is required")
	}

	row := s.db.Pool().QueryRow(ctx, fmt.Sprintf(`
        INSERT INTO %s (branch_id, name, is_active, timezone)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (branch_id) DO UPDATE
            SET name = EXCLUDED.name, is_active = EXCLUDED.is_active, timezone = EXCLUDED.timezone
        RETURNING branch_id, name, is_active, timezone, created_at
    `, BranchesTable), rec.BranchID, strings.TrimSpace(rec.Name), rec.IsActive, strings.TrimSpace(rec.Timezone))

	return scanBranch(row)
}

func scanBranch(row pgx.Row) (BranchRecord, error) {
	var rec BranchRecord
	if err := row.Scan(&rec.BranchID, &rec.Name, &rec.IsActive, &rec.Timezone, &rec.CreatedAt); err != nil {
		return BranchRecord{}, err
	}
	return rec, nil
}
