// Package consumer feeds attendance-recorded events from the queue into the auto-reactivation hook.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/queue"
)

// Hook is the reactivation entry point.
type Hook interface {
	OnAttendanceRecorded(ctx context.Context, evt service.AttendanceRecorded) (service.ReactivationResult, error)
}

// Config tunes the consumer.
type Config struct {
	// Workers handling events in parallel. Events for one student may then be handled out of order,
	// which the hook tolerates through its conditional write.
	Workers int
	// HandleTimeout bounds one hook call.
	HandleTimeout time.Duration
	// MaxRedeliveries bounds how often an event that failed transiently is put back on the queue.
	MaxRedeliveries int
	// DeadLetter receives events that used up their redeliveries. Nil drops them after logging.
	DeadLetter Publisher
}

// Publisher accepts attendance events; queue.Queue implementations satisfy it.
type Publisher interface {
	Publish(ctx context.Context, evt queue.AttendanceRecorded) error
}

const (
	defaultMaxRedeliveries = 3
	requeueTimeout         = 5 * time.Second
)

// Consumer drains a queue.Queue and invokes the hook for present-equivalent records.
type Consumer struct {
	hook   Hook
	queue  queue.Queue
	cfg    Config
	logger *zap.Logger
}

// New constructs a Consumer.
func New(hook Hook, q queue.Queue, cfg Config, logger *zap.Logger) *Consumer {
	if hook == nil {
		panic("reactivation hook is required")
	}
	if q == nil {
		panic("queue is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 15 * time.Second
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = defaultMaxRedeliveries
	}
	return &Consumer{hook: hook, queue: q, cfg: cfg, logger: logger}
}

// Run consumes until ctx is cancelled. Handling errors are logged and never stop the loop; events that
// failed for a transient reason are requeued, then dead-lettered.
func (c *Consumer) Run(ctx context.Context) error {
	events, err := c.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume attendance events: %w", err)
	}

	c.logger.Info("attendance consumer started", zap.Int("workers", c.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for evt := range events {
				c.process(ctx, evt)
			}
		}()
	}
	wg.Wait()

	c.logger.Info("attendance consumer stopped")
	return nil
}

// Handle processes a single event. Non-present records are acknowledged without calling the hook.
func (c *Consumer) Handle(ctx context.Context, msg queue.AttendanceRecorded) (service.ReactivationResult, error) {
	logger := c.logger.With(
		zap.String("student_id", msg.StudentID.String()),
		zap.String("branch_id", msg.BranchID.String()),
		zap.String("presence", msg.Presence),
	)

	evt, err := toEvent(msg)
	if err != nil {
		logger.Warn("dropping attendance event", zap.Error(err))
		return service.ReactivationResult{}, err
	}
	if !evt.Presence.CountsAsPresent() {
		return service.ReactivationResult{StudentID: evt.StudentID, Outcome: service.ReactivationNoOp}, nil
	}

	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandleTimeout)
	defer cancel()

	result, err := c.hook.OnAttendanceRecorded(hctx, evt)
	switch {
	case errors.Is(err, service.ErrStudentNotFound):
		logger.Warn("attendance event for unknown student", zap.Error(err))
		return result, err
	case err != nil:
		logger.Error("reactivation hook failed", zap.Error(err))
		return result, err
	}

	if result.Outcome != service.ReactivationNoOp {
		logger.Info("reactivation hook handled event", zap.String("outcome", string(result.Outcome)))
	}
	return result, nil
}

func (c *Consumer) process(ctx context.Context, msg queue.AttendanceRecorded) {
	_, err := c.Handle(ctx, msg)
	if !retryable(err) {
		return
	}
	c.redeliver(ctx, msg, err)
}

// retryable reports whether a later attempt could succeed. Unknown students and malformed events
// never will.
func retryable(err error) bool {
	return err != nil && !errors.Is(err, service.ErrStudentNotFound) && !errors.Is(err, queue.ErrMalformed)
}

// redeliver puts msg back on the queue, or on the dead letter once its redeliveries are used up.
// It runs detached from ctx so events interrupted by shutdown are not lost.
func (c *Consumer) redeliver(ctx context.Context, msg queue.AttendanceRecorded, cause error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	logger := c.logger.With(
		zap.String("student_id", msg.StudentID.String()),
		zap.Int("attempts", msg.Attempts),
		zap.NamedError("cause", cause),
	)

	if msg.Attempts < c.cfg.MaxRedeliveries {
		next := msg
		next.Attempts++
		err := c.queue.Publish(pctx, next)
		if err == nil {
			logger.Warn("attendance event requeued")
			return
		}
		logger.Error("requeue attendance event", zap.Error(err))
	}

	if c.cfg.DeadLetter == nil {
		logger.Error("attendance event dropped")
		return
	}
	if err := c.cfg.DeadLetter.Publish(pctx, msg); err != nil {
		logger.Error("dead-letter attendance event", zap.Error(err))
		return
	}
	logger.Warn("attendance event dead-lettered")
}

func toEvent(msg queue.AttendanceRecorded) (service.AttendanceRecorded, error) {
	presence := service.PresenceState(msg.Presence)
	if !presence.Valid() {
		return service.AttendanceRecorded{}, fmt.Errorf("%w: unknown presence %q", queue.ErrMalformed, msg.Presence)
	}

	evt := service.AttendanceRecorded{
		StudentID:    msg.StudentID,
		BranchID:     msg.BranchID,
		ActingUserID: msg.ActingUserID,
		Presence:     presence,
	}
	if msg.CalendarDate != "" {
		on, err := time.Parse(time.DateOnly, msg.CalendarDate)
		if err != nil {
			return service.AttendanceRecorded{}, fmt.Errorf("%w: calendar date %q", queue.ErrMalformed, msg.CalendarDate)
		}
		evt.CalendarDate = on
	}
	return evt, nil
}
