// Package config holds the environment configuration shared by the inactivity binaries.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-campus/platform/go/tenant"
)

// Database configures the Postgres pool.
type Database struct {
	URL              string        `env:"DATABASE_URL,required"`
	MaxConns         int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	StatementTimeout time.Duration `env:"DATABASE_STATEMENT_TIMEOUT" envDefault:"30s"`
}

// PoolConfig converts d for persistence.NewPool.
func (d Database) PoolConfig(application string) persistence.PoolConfig {
	return persistence.PoolConfig{
		ConnString:       d.URL,
		MaxConns:         d.MaxConns,
		StatementTimeout: d.StatementTimeout,
		ApplicationName:  application,
	}
}

// Redis configures the queue and alert client. An empty Addr disables Redis.
type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Engine configures the inactivity policy and sweep execution.
type Engine struct {
	ThresholdDays     int           `env:"INACTIVITY_THRESHOLD_DAYS" envDefault:"10"`
	WarningStartDays  int           `env:"INACTIVITY_WARNING_START_DAYS" envDefault:"0"`
	DefaultTimezone   string        `env:"DEFAULT_TIMEZONE" envDefault:"UTC"`
	TimezoneCacheTTL  time.Duration `env:"TIMEZONE_CACHE_TTL" envDefault:"1h"`
	TenantConcurrency int           `env:"SWEEP_TENANT_CONCURRENCY" envDefault:"1"`
	ItemTimeout       time.Duration `env:"SWEEP_ITEM_TIMEOUT" envDefault:"15s"`
}

// ServiceConfig validates e and builds the service configuration.
func (e Engine) ServiceConfig() (service.Config, error) {
	policy, err := service.NewPolicy(e.ThresholdDays, e.WarningStartDays)
	if err != nil {
		return service.Config{}, err
	}

	fallback, err := tenant.ParseLocation(e.DefaultTimezone)
	if err != nil {
		return service.Config{}, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}

	return service.Config{
		Policy:            policy,
		Locations:         tenant.NewLocations(fallback, e.TimezoneCacheTTL),
		TenantConcurrency: e.TenantConcurrency,
		ItemTimeout:       e.ItemTimeout,
	}, nil
}

// Jobs configures the scheduler, the retry wrapper and operator alerts.
type Jobs struct {
	SweepCron         string        `env:"SWEEP_CRON" envDefault:"0 6 * * 1-5"`
	NotifyCron        string        `env:"NOTIFY_CRON" envDefault:"30 6 * * 1-5"`
	SchedulerTimezone string        `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`
	MaxAttempts       int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay         time.Duration `env:"JOB_BASE_DELAY" envDefault:"2s"`
	StaleAfter        time.Duration `env:"JOB_STALE_AFTER" envDefault:"74h"`
	RunTimeout        time.Duration `env:"JOB_RUN_TIMEOUT" envDefault:"30m"`
	AlertTimeout      time.Duration `env:"ALERT_TIMEOUT" envDefault:"5s"`
	AlertChannel      string        `env:"ALERT_CHANNEL" envDefault:"ops:alerts"`
}

// Registry returns the job registry configuration.
func (j Jobs) Registry() jobs.RegistryConfig {
	return jobs.RegistryConfig{BaseDelay: j.BaseDelay, StaleAfter: j.StaleAfter, AlertTimeout: j.AlertTimeout}
}

// Scheduler returns the scheduler configuration.
func (j Jobs) Scheduler() (jobs.SchedulerConfig, error) {
	loc, err := tenant.ParseLocation(j.SchedulerTimezone)
	if err != nil {
		return jobs.SchedulerConfig{}, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err)
	}
	return jobs.SchedulerConfig{Location: loc, MaxAttempts: j.MaxAttempts, RunTimeout: j.RunTimeout}, nil
}

// Schedule returns the cron expressions of the inactivity jobs.
func (j Jobs) Schedule() service.Schedule {
	return service.Schedule{SweepCron: j.SweepCron, NotifyCron: j.NotifyCron, StaleAfter: j.StaleAfter}
}

// Queue configures the attendance-recorded queue.
type Queue struct {
	Backend string `env:"QUEUE_BACKEND" envDefault:"redis"` // redis | memory
	Key     string `env:"QUEUE_KEY" envDefault:"attendance:recorded"`
	Size    int    `env:"QUEUE_MEMORY_SIZE" envDefault:"256"`
}

// Archive configures where job run reports are kept. Backend "none" disables archiving.
type Archive struct {
	Backend  string        `env:"REPORT_ARCHIVE_BACKEND" envDefault:"none"` // none | gcs | local
	Bucket   string        `env:"REPORT_ARCHIVE_BUCKET"`                    // required when backend is gcs
	Prefix   string        `env:"REPORT_ARCHIVE_PREFIX"`
	LocalDir string        `env:"REPORT_ARCHIVE_DIR" envDefault:"./.data/reports"` // used when backend is local
	Timeout  time.Duration `env:"REPORT_ARCHIVE_TIMEOUT" envDefault:"30s"`         // bounds one report write
}

// Parse fills cfg from the process environment.
func Parse[T any]() (T, error) {
	return env.ParseAs[T]()
}

// ParseFrom fills cfg from an explicit environment map.
func ParseFrom[T any](environment map[string]string) (T, error) {
	return env.ParseAsWithOptions[T](env.Options{Environment: environment})
}
