// Package storage archives job run reports as JSON objects, on GCS or on the local filesystem.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-campus/platform/go/jobs"
)

// Archive stores immutable blobs under a key.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) error
	// Check verifies the archive is reachable and writable enough to start.
	Check(ctx context.Context) error
}

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines the deployment prefix and a logical key into a bucket/path pair.
//   - bucket must come from deployment configuration.
//   - prefix is the environment prefix, e.g. "prod/" or "dev"; a missing trailing slash is added.
//   - logicalKey is relative, e.g. "jobs/inactivity-sweep/2024-01-22/060000.123.json".
func ResolveObjectLocation(bucket, prefix, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(logicalKey), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}

	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return ObjectLocation{Bucket: bucket, FullPath: prefix + key}, nil
}

// ReportKey returns the logical key of a job report finished at t (UTC).
func ReportKey(job string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("jobs/%s/%s/%s.json", job, t.Format(time.DateOnly), t.Format("150405.000"))
}

// ReportEnvelope is the archived document.
type ReportEnvelope struct {
	Job        string    `json:"job"`
	FinishedAt time.Time `json:"finishedAt"`
	Report     any       `json:"report"`
}

// DefaultArchiveTimeout bounds one report write when no timeout is configured.
const DefaultArchiveTimeout = 30 * time.Second

// Archiver writes successful job results to an Archive.
type Archiver struct {
	archive Archive
	timeout time.Duration
	logger  *zap.Logger
}

// NewArchiver returns an Archiver over archive. A nil archive yields a nil Archiver, whose Wrap
// leaves jobs untouched.
func NewArchiver(archive Archive, timeout time.Duration, logger *zap.Logger) *Archiver {
	if archive == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultArchiveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{archive: archive, timeout: timeout, logger: logger}
}

// Wrap returns fn with its successful result written to the archive. Archive failures are logged
// and never fail the job. The write outlives the job context but not the archive timeout.
func (a *Archiver) Wrap(job string, fn jobs.Func) jobs.Func {
	if a == nil {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		result, err := fn(ctx)
		if err != nil {
			return result, err
		}

		finished := time.Now().UTC()
		body, encErr := json.Marshal(ReportEnvelope{Job: job, FinishedAt: finished, Report: result})
		if encErr != nil {
			a.logger.Warn("encode job report", zap.String("job", job), zap.Error(encErr))
			return result, nil
		}

		putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		key := ReportKey(job, finished)
		if putErr := a.archive.Put(putCtx, key, body); putErr != nil {
			a.logger.Warn("archive job report", zap.String("job", job), zap.String("key", key), zap.Error(putErr))
			return result, nil
		}
		a.logger.Debug("job report archived", zap.String("job", job), zap.String("key", key))
		return result, nil
	}
}
