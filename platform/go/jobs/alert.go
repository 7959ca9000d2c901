package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Alert is raised when a job keeps failing across scheduled invocations.
type Alert struct {
	Job                 string    `json:"job"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError"`
	RaisedAt            time.Time `json:"raisedAt"`
}

// Alerter delivers operator alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// LogAlerter writes alerts to the structured log only.
type LogAlerter struct {
	logger *zap.Logger
}

// NewLogAlerter constructs a LogAlerter.
func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		panic("logger is required")
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(_ context.Context, alert Alert) error {
	a.logger.Error("operator alert: job failing repeatedly",
		zap.String("job", alert.Job),
		zap.Int("consecutive_failures", alert.ConsecutiveFailures),
		zap.String("last_error", alert.LastError),
		zap.Time("raised_at", alert.RaisedAt),
	)
	return nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisAlerter publishes alerts as JSON on a Redis pub/sub channel consumed by the ops tooling.
type RedisAlerter struct {
	client  publisher
	channel string
}

// NewRedisAlerter constructs a RedisAlerter; an empty channel defaults to "ops:alerts".
func NewRedisAlerter(client publisher, channel string) *RedisAlerter {
	if client == nil {
		panic("redis client is required")
	}
	if channel == "" {
		channel = "ops:alerts"
	}
	return &RedisAlerter{client: client, channel: channel}
}

func (a *RedisAlerter) Alert(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := a.client.Publish(ctx, a.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert on %s: %w", a.channel, err)
	}
	return nil
}

// MultiAlerter fans an alert out to every sink and joins their errors.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
