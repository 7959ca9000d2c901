// Package queue carries attendance-recorded events from the ingestion pipeline to the worker
// that runs the auto-reactivation hook.
package queue

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// AttendanceRecorded is published after ingestion persists an attendance record for a student.
type AttendanceRecorded struct {
	StudentID    uuid.UUID  `json:"studentId"`
	BranchID     uuid.UUID  `json:"branchId"`
	CalendarDate string     `json:"calendarDate"`
	Presence     string     `json:"presence"`
	ActingUserID *uuid.UUID `json:"actingUserId,omitempty"`
	RecordedAt   time.Time  `json:"recordedAt"`
	// Attempts counts redeliveries after transient handling failures.
	Attempts int `json:"attempts,omitempty"`
}

// Queue is the abstraction over the queue backends.
type Queue interface {
	Publish(ctx context.Context, evt AttendanceRecorded) error
	Consume(ctx context.Context) (<-chan AttendanceRecorded, error)
}

// InMemory is a channel-backed queue for local runs and tests.
type InMemory struct {
	ch chan AttendanceRecorded
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{ch: make(chan AttendanceRecorded, size)}
}

// Publish enqueues an event, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, evt AttendanceRecorded) error {
	select {
	case q.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume streams events until ctx is cancelled.
func (q *InMemory) Consume(ctx context.Context) (<-chan AttendanceRecorded, error) {
	out := make(chan AttendanceRecorded)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-q.ch:
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ErrMalformed is reported for payloads that cannot be decoded.
var ErrMalformed = errors.New("malformed attendance event")

// RedisQueue is a Redis list-backed queue (LPUSH on publish, BRPOP on consume).
type RedisQueue struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	onError func(error)
}

// NewRedisQueue builds a queue on key; onError receives decode and transport errors and may be nil.
func NewRedisQueue(client *redis.Client, key string, onError func(error)) *RedisQueue {
	if client == nil {
		panic("redis client is required")
	}
	if key == "" {
		key = "attendance:recorded"
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &RedisQueue{client: client, key: key, timeout: 5 * time.Second, onError: onError}
}

// Publish enqueues an event.
func (q *RedisQueue) Publish(ctx context.Context, evt AttendanceRecorded) error {
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams events using BRPOP until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan AttendanceRecorded, error) {
	out := make(chan AttendanceRecorded)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.onError(fmt.Errorf("brpop %s: %w", q.key, err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			evt, err := Decode([]byte(res[1]))
			if err != nil {
				q.onError(err)
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Encode serialises an event for the wire.
func Encode(evt AttendanceRecorded) ([]byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode attendance event: %w", err)
	}
	return payload, nil
}

//go:embed attendance_recorded.schema.json
var eventSchemaJSON []byte

const eventSchemaURL = "memory://schemas/attendance-recorded.json"

var eventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, bytes.NewReader(eventSchemaJSON)); err != nil {
		panic(fmt.Sprintf("register attendance event schema: %v", err))
	}
	schema, err := compiler.Compile(eventSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile attendance event schema: %v", err))
	}
	return schema
}

// Decode parses a wire payload and validates it against the attendance event schema.
func Decode(payload []byte) (AttendanceRecorded, error) {
	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return AttendanceRecorded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := eventSchema.Validate(document); err != nil {
		return AttendanceRecorded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var evt AttendanceRecorded
	if err := json.Unmarshal(payload, &evt); err != nil {
		return AttendanceRecorded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if evt.StudentID == uuid.Nil || evt.BranchID == uuid.Nil {
		return AttendanceRecorded{}, fmt.Errorf("%w: student and branch ids are required", ErrMalformed)
	}
	return evt, nil
}
