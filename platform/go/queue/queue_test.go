package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	first := AttendanceRecorded{StudentID: uuid.New(), BranchID: uuid.New(), Presence: "present"}
	second := AttendanceRecorded{StudentID: uuid.New(), BranchID: uuid.New(), Presence: "late"}
	require.NoError(t, q.Publish(ctx, first))
	require.NoError(t, q.Publish(ctx, second))

	events, err := q.Consume(ctx)
	require.NoError(t, err)

	require.Equal(t, first, <-events)
	require.Equal(t, second, <-events)

	cancel()
	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestInMemoryPublishHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), AttendanceRecorded{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Publish(ctx, AttendanceRecorded{}), context.DeadlineExceeded)
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	actor := uuid.New()
	evt := AttendanceRecorded{
		StudentID:    uuid.New(),
		BranchID:     uuid.New(),
		CalendarDate: "2024-01-08",
		Presence:     "half_day",
		ActingUserID: &actor,
		RecordedAt:   time.Date(2024, 1, 8, 7, 30, 0, 0, time.UTC),
	}

	payload, err := Encode(evt)
	require.NoError(t, err)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	require.Equal(t, evt.StudentID, decoded.StudentID)
	require.Equal(t, actor, *decoded.ActingUserID)
	require.True(t, evt.RecordedAt.Equal(decoded.RecordedAt))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte("checkin|abc"))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`{"studentId":"` + uuid.NewString() + `"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeValidatesAgainstSchema(t *testing.T) {
	t.Parallel()

	student, branch := uuid.NewString(), uuid.NewString()

	evt, err := Decode([]byte(`{"studentId":"` + student + `","branchId":"` + branch + `","presence":"late","attempts":2}`))
	require.NoError(t, err)
	require.Equal(t, 2, evt.Attempts)
	require.Equal(t, "late", evt.Presence)

	rejected := map[string]string{
		"unknown presence":  `{"studentId":"` + student + `","branchId":"` + branch + `","presence":"excused"}`,
		"missing presence":  `{"studentId":"` + student + `","branchId":"` + branch + `"}`,
		"bad branch":        `{"studentId":"` + student + `","branchId":"north","presence":"present"}`,
		"bad date":          `{"studentId":"` + student + `","branchId":"` + branch + `","presence":"present","calendarDate":"08/01/2024"}`,
		"negative attempts": `{"studentId":"` + student + `","branchId":"` + branch + `","presence":"present","attempts":-1}`,
	}
	for name, payload := range rejected {
		_, err := Decode([]byte(payload))
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestRedisConsumeStopsPromptlyAfterTransportErrors(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 8)
	q := NewRedisQueue(client, "attendance:test", func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	events, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("no transport error reported")
	}
	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consumer kept backing off after cancel")
	}
}
