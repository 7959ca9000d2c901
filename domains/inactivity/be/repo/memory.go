package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/bizcal"
)

// AttendanceRecord is a normalised attendance row as stored by the memory repository.
type AttendanceRecord struct {
	BranchID     uuid.UUID
	UserID       *uuid.UUID
	StudentID    *uuid.UUID
	CalendarDate time.Time
	Presence     service.PresenceState
}

// MemoryRepository is a thread-safe in-memory implementation of every inactivity port,
// suitable for tests, the CLI dry runs and local development.
type MemoryRepository struct {
	mu         sync.RWMutex
	branches   map[uuid.UUID]service.Branch
	students   map[uuid.UUID]service.Student
	attendance []AttendanceRecord
	actors     map[uuid.UUID]service.Actor
	notices    []service.Notice

	// injected failures, keyed by branch or student id
	failListStudents map[uuid.UUID]error
	failLookback     map[uuid.UUID]error
	failNotice       map[uuid.UUID]error
	failActor        map[uuid.UUID]error
}

var (
	_ service.BranchRepository  = (*MemoryRepository)(nil)
	_ service.StudentRepository = (*MemoryRepository)(nil)
	_ service.AttendanceReader  = (*MemoryRepository)(nil)
	_ service.ActorRepository   = (*MemoryRepository)(nil)
	_ service.NoticeRepository  = (*MemoryRepository)(nil)
)

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		branches:         make(map[uuid.UUID]service.Branch),
		students:         make(map[uuid.UUID]service.Student),
		actors:           make(map[uuid.UUID]service.Actor),
		failListStudents: make(map[uuid.UUID]error),
		failLookback:     make(map[uuid.UUID]error),
		failNotice:       make(map[uuid.UUID]error),
		failActor:        make(map[uuid.UUID]error),
	}
}

// Deps returns service dependencies all served by r.
func (r *MemoryRepository) Deps() service.Deps {
	return service.Deps{Branches: r, Students: r, Attendance: r, Actors: r, Notices: r}
}

// PutBranch inserts or replaces a branch.
func (r *MemoryRepository) PutBranch(b service.Branch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[b.ID] = b
}

// PutStudent inserts or replaces a student.
func (r *MemoryRepository) PutStudent(s service.Student) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.StatusHistory = append([]service.StatusChange(nil), s.StatusHistory...)
	r.students[s.ID] = s
}

// RecordAttendance stores a record, replacing any record for the same branch, person and date.
func (r *MemoryRepository) RecordAttendance(rec AttendanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.CalendarDate = bizcal.Midnight(rec.CalendarDate)
	for i, existing := range r.attendance {
		if existing.BranchID == rec.BranchID && samePerson(existing, rec) &&
			existing.CalendarDate.Equal(rec.CalendarDate) {
			r.attendance[i] = rec
			return
		}
	}
	r.attendance = append(r.attendance, rec)
}

// FailListStudents makes ListActiveStudents fail for branchID.
func (r *MemoryRepository) FailListStudents(branchID uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failListStudents[branchID] = err
}

// FailLookback makes LastPresentDate fail for studentID.
func (r *MemoryRepository) FailLookback(studentID uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failLookback[studentID] = err
}

// FailNotice makes CreateNotice fail for notices about studentID.
func (r *MemoryRepository) FailNotice(studentID uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNotice[studentID] = err
}

// FailActor makes ResolveAutomatedActor fail for branchID.
func (r *MemoryRepository) FailActor(branchID uuid.UUID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failActor[branchID] = err
}

// Notices returns a copy of every created notice.
func (r *MemoryRepository) Notices() []service.Notice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]service.Notice(nil), r.notices...)
}

func (r *MemoryRepository) ListActiveBranches(ctx context.Context) ([]service.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]service.Branch, 0, len(r.branches))
	for _, b := range r.branches {
		if b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetBranch(ctx context.Context, id uuid.UUID) (service.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.branches[id]
	if !ok {
		return service.Branch{}, service.ErrBranchNotFound
	}
	return b, nil
}

func (r *MemoryRepository) ListActiveStudents(ctx context.Context, branchID uuid.UUID) ([]service.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.failListStudents[branchID]; err != nil {
		return nil, err
	}

	out := make([]service.Student, 0)
	for _, s := range r.students {
		if s.BranchID == branchID && s.Status == service.StatusActive {
			out = append(out, cloneStudent(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionNo < out[j].AdmissionNo })
	return out, nil
}

func (r *MemoryRepository) GetStudent(ctx context.Context, id uuid.UUID) (service.Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.students[id]
	if !ok {
		return service.Student{}, service.ErrStudentNotFound
	}
	return cloneStudent(s), nil
}

// ApplyTransition is a compare-and-set on the status under the write lock.
func (r *MemoryRepository) ApplyTransition(ctx context.Context, t service.Transition) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.students[t.StudentID]
	if !ok {
		return false, service.ErrStudentNotFound
	}
	if s.Status != t.From {
		return false, nil
	}

	s.Status = t.To
	s.StatusHistory = append(append([]service.StatusChange(nil), s.StatusHistory...), t.Entry)
	r.students[s.ID] = s
	return true, nil
}

func (r *MemoryRepository) LastPresentDate(ctx context.Context, branchID uuid.UUID, key service.PersonKey) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if key.StudentID != nil {
		if err := r.failLookback[*key.StudentID]; err != nil {
			return time.Time{}, false, err
		}
	}
	if key.Empty() {
		return time.Time{}, false, nil
	}

	var (
		latest time.Time
		found  bool
	)
	for _, rec := range r.attendance {
		if rec.BranchID != branchID || !rec.Presence.CountsAsPresent() || !matches(rec, key) {
			continue
		}
		if !found || rec.CalendarDate.After(latest) {
			latest = rec.CalendarDate
			found = true
		}
	}
	return latest, found, nil
}

func (r *MemoryRepository) ResolveAutomatedActor(ctx context.Context, branchID uuid.UUID) (service.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failActor[branchID]; err != nil {
		return service.Actor{}, err
	}
	if actor, ok := r.actors[branchID]; ok {
		return actor, nil
	}
	actor := service.Actor{ID: uuid.New(), BranchID: branchID, Automated: true}
	r.actors[branchID] = actor
	return actor, nil
}

func (r *MemoryRepository) CreateNotice(ctx context.Context, n service.Notice) (service.Notice, error) {
	if err := ctx.Err(); err != nil {
		return service.Notice{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.failNotice[n.StudentID]; err != nil {
		return service.Notice{}, err
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	r.notices = append(r.notices, n)
	return n, nil
}

func matches(rec AttendanceRecord, key service.PersonKey) bool {
	if key.UserID != nil && rec.UserID != nil && *key.UserID == *rec.UserID {
		return true
	}
	return key.StudentID != nil && rec.StudentID != nil && *key.StudentID == *rec.StudentID
}

func samePerson(a, b AttendanceRecord) bool {
	if a.UserID != nil && b.UserID != nil {
		return *a.UserID == *b.UserID
	}
	if a.StudentID != nil && b.StudentID != nil {
		return *a.StudentID == *b.StudentID
	}
	return false
}

func cloneStudent(s service.Student) service.Student {
	s.StatusHistory = append([]service.StatusChange(nil), s.StatusHistory...)
	return s
}
