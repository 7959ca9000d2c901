package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

type all struct {
	Database Database
	Redis    Redis
	Engine   Engine
	Jobs     Jobs
	Queue    Queue
	Archive  Archive
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseFrom[all](map[string]string{"DATABASE_URL": "postgres://localhost/campus"})
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Engine.ThresholdDays)
	require.Equal(t, "0 6 * * 1-5", cfg.Jobs.SweepCron)
	require.Equal(t, "30 6 * * 1-5", cfg.Jobs.NotifyCron)
	require.Equal(t, 74*time.Hour, cfg.Jobs.StaleAfter)
	require.Equal(t, "redis", cfg.Queue.Backend)
	require.Equal(t, "attendance:recorded", cfg.Queue.Key)
	require.Equal(t, "none", cfg.Archive.Backend)
	require.Equal(t, 30*time.Second, cfg.Archive.Timeout)

	svc, err := cfg.Engine.ServiceConfig()
	require.NoError(t, err)
	require.Equal(t, 10, svc.Policy.ThresholdDays)
	require.Equal(t, 5, svc.Policy.WarningStartDays)
	require.Equal(t, time.UTC, svc.Locations.Fallback())

	pool := cfg.Database.PoolConfig("campus-api")
	require.Equal(t, "campus-api", pool.ApplicationName)
	require.Equal(t, 30*time.Second, pool.StatementTimeout)
}

func TestDatabaseURLIsRequired(t *testing.T) {
	t.Parallel()

	_, err := ParseFrom[all](map[string]string{})
	require.Error(t, err)
}

func TestOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := ParseFrom[all](map[string]string{
		"DATABASE_URL":                  "postgres://localhost/campus",
		"INACTIVITY_THRESHOLD_DAYS":     "15",
		"INACTIVITY_WARNING_START_DAYS": "12",
		"DEFAULT_TIMEZONE":              "Asia/Jakarta",
		"SCHEDULER_TIMEZONE":            "Asia/Jakarta",
		"JOB_MAX_ATTEMPTS":              "5",
	})
	require.NoError(t, err)

	svc, err := cfg.Engine.ServiceConfig()
	require.NoError(t, err)
	require.Equal(t, 12, svc.Policy.WarningStartDays)
	require.Equal(t, "Asia/Jakarta", svc.Locations.Fallback().String())

	sched, err := cfg.Jobs.Scheduler()
	require.NoError(t, err)
	require.Equal(t, 5, sched.MaxAttempts)
	require.Equal(t, "Asia/Jakarta", sched.Location.String())
}

func TestInvalidEngineSettings(t *testing.T) {
	t.Parallel()

	_, err := Engine{ThresholdDays: 5, WarningStartDays: 5, DefaultTimezone: "UTC"}.ServiceConfig()
	require.Error(t, err)

	_, err = Engine{ThresholdDays: 10, DefaultTimezone: "Mars/Olympus"}.ServiceConfig()
	require.Error(t, err)

	_, err = Jobs{SchedulerTimezone: "Nowhere/Else"}.Scheduler()
	require.Error(t, err)
}
