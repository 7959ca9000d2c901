package inactivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/config"
	inactivityrepo "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/repo"
	inactivityservice "github.com/zenGate-Global/palmyra-campus/domains/inactivity/be/service"
	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
	platformlogging "github.com/zenGate-Global/palmyra-campus/platform/go/logging"
	"github.com/zenGate-Global/palmyra-campus/platform/go/persistence"
	"github.com/zenGate-Global/palmyra-campus/platform/go/queue"
	"github.com/zenGate-Global/palmyra-campus/platform/go/requesttrace"
)

// Command groups the inactivity engine operations. Engine and retry settings come from the same
// environment variables the API reads (INACTIVITY_THRESHOLD_DAYS, JOB_MAX_ATTEMPTS, ...).
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inactivity",
		Short: "Run and inspect the student inactivity engine",
	}

	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	cmd.PersistentFlags().String("log-level", "warn", "log level for engine output on stderr")
	_ = cmd.MarkPersistentFlagRequired("database-url")

	cmd.AddCommand(sweepCommand())
	cmd.AddCommand(notifyCommand())
	cmd.AddCommand(statusCommand())
	cmd.AddCommand(attendanceRecordedCommand())
	return cmd
}

type engine struct {
	svc      *inactivityservice.Service
	registry *jobs.Registry
	jobs     config.Jobs
	logger   *zap.Logger
	cleanup  func()
}

func newEngine(ctx context.Context, cmd *cobra.Command) (*engine, error) {
	databaseURL, err := cmd.Flags().GetString("database-url")
	if err != nil {
		return nil, err
	}
	level, _ := cmd.Flags().GetString("log-level")

	engineCfg, err := config.Parse[config.Engine]()
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	jobsCfg, err := config.Parse[config.Jobs]()
	if err != nil {
		return nil, fmt.Errorf("load jobs config: %w", err)
	}
	svcCfg, err := engineCfg.ServiceConfig()
	if err != nil {
		return nil, err
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "campus-cli",
		Level:     level,
		Console:   true,
		Output:    os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ApplicationName: "campus-cli"})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}

	repo, err := inactivityrepo.NewPostgresRepository(persistence.NewDB(pool))
	if err != nil {
		persistence.ClosePool(pool)
		return nil, fmt.Errorf("init inactivity repository: %w", err)
	}

	registry := jobs.NewRegistry(jobsCfg.Registry(), logger, jobs.NewLogAlerter(logger), nil)

	return &engine{
		svc:      inactivityservice.New(repo.Deps(), svcCfg, logger, nil),
		registry: registry,
		jobs:     jobsCfg,
		logger:   logger,
		cleanup: func() {
			persistence.ClosePool(pool)
			_ = logger.Sync()
		},
	}, nil
}

// run executes fn through the retry wrapper and prints its report.
func (e *engine) run(ctx context.Context, out io.Writer, name string, fn jobs.Func) error {
	outcome := e.registry.RunWithRetry(ctx, name, fn, e.jobs.MaxAttempts)
	if outcome.Result != nil {
		if err := printJSON(out, outcome.Result); err != nil {
			return err
		}
	}
	if !outcome.Success {
		return fmt.Errorf("%s failed after %d attempt(s): %w", name, outcome.Attempts, outcome.Err)
	}
	return nil
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate active students past the inactivity threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System("cli-inactivity-sweep"))

			e, err := newEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			return e.run(ctx, cmd.OutOrStdout(), inactivityservice.JobSweep, e.svc.SweepJob())
		},
	}
}

func notifyCommand() *cobra.Command {
	var branchInput string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Warn students approaching the inactivity threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := requesttrace.IntoContext(cmd.Context(), requesttrace.System("cli-inactivity-notify"))

			branchID, err := parseOptionalUUID(branchInput, "branch")
			if err != nil {
				return err
			}

			e, err := newEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			if branchID != nil {
				if err := e.svc.CheckNotifyScope(ctx, *branchID); err != nil {
					return err
				}
			}
			return e.run(ctx, cmd.OutOrStdout(), inactivityservice.JobNotify, e.svc.NotifyJob(branchID))
		},
	}

	cmd.Flags().StringVar(&branchInput, "branch", "", "Restrict the run to one active branch ID")
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <student-id>",
		Short: "Show how the inactivity policy currently sees a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid student id: %w", err)
			}

			ctx := cmd.Context()
			e, err := newEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			report, err := e.svc.GetStudentInactivityStatus(ctx, studentID)
			if err != nil {
				if errors.Is(err, inactivityservice.ErrStudentNotFound) {
					return fmt.Errorf("student %s not found", studentID)
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func attendanceRecordedCommand() *cobra.Command {
	var (
		branchInput string
		dateInput   string
		presence    string
		redisAddr   string
		queueKey    string
	)

	cmd := &cobra.Command{
		Use:   "attendance-recorded <student-id>",
		Short: "Run the reactivation hook for a recorded attendance, or enqueue it for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid student id: %w", err)
			}
			branchID, err := uuid.Parse(strings.TrimSpace(branchInput))
			if err != nil {
				return fmt.Errorf("invalid branch id: %w", err)
			}
			if _, err := time.Parse(time.DateOnly, dateInput); err != nil {
				return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", dateInput)
			}
			state := inactivityservice.PresenceState(presence)
			if !state.Valid() {
				return fmt.Errorf("invalid presence %q", presence)
			}

			ctx := cmd.Context()
			msg := queue.AttendanceRecorded{
				StudentID:    studentID,
				BranchID:     branchID,
				CalendarDate: dateInput,
				Presence:     presence,
				RecordedAt:   time.Now().UTC(),
			}

			if strings.TrimSpace(redisAddr) != "" {
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer client.Close()

				if err := queue.NewRedisQueue(client, queueKey, nil).Publish(ctx, msg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued attendance event for student %s on %s\n", studentID, queueKey)
				return nil
			}

			e, err := newEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.cleanup()

			on, _ := time.Parse(time.DateOnly, dateInput)
			result, err := e.svc.OnAttendanceRecorded(ctx, inactivityservice.AttendanceRecorded{
				StudentID:    studentID,
				BranchID:     branchID,
				CalendarDate: on,
				Presence:     state,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&branchInput, "branch", "", "Branch ID of the attendance record")
	cmd.Flags().StringVar(&dateInput, "date", time.Now().UTC().Format(time.DateOnly), "Calendar date of the record (YYYY-MM-DD)")
	cmd.Flags().StringVar(&presence, "presence", string(inactivityservice.PresencePresent), "Presence state of the record")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Publish to the worker queue at this Redis address instead of running the hook")
	cmd.Flags().StringVar(&queueKey, "queue-key", "attendance:recorded", "Redis list key used with --redis-addr")
	_ = cmd.MarkFlagRequired("branch")

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseOptionalUUID(value, field string) (*uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid %s id: %w", field, err)
	}
	return &id, nil
}
