package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// Job names.
const (
	JobArchiveLockSweep = "archive_lock_sweep"
	JobMappingSweep     = "mapping_sweep"
	JobLogTrim          = "log_trim"
	JobLogExport        = "log_export"
)

// LogExporter writes a batch of audit log entries to cold storage.
// *s3blob.Archiver satisfies it.
type LogExporter interface {
	ExportLogs(ctx context.Context, entries []domain.StreamingLog, at time.Time) (string, error)
}

// Schedules holds the cron spec of each job. Empty specs disable a job.
type Schedules struct {
	ArchiveLockSweep string
	MappingSweep     string
	LogTrim          string
	LogExport        string
}

// Jobs are the housekeeping tasks. Nil stores disable the jobs that need
// them.
type Jobs struct {
	ArchiveLocks   domain.ArchiveLockStore
	Mappings       domain.SignalMappingStore
	Logs           domain.StreamingLogStore
	Exporter       LogExporter
	ArchiveLockTTL time.Duration
	MappingLockTTL time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Register adds every job with a configured schedule and a backing store.
func Register(s *Scheduler, sched Schedules, j Jobs) error {
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	if j.Now == nil {
		j.Now = func() time.Time { return time.Now().UTC() }
	}
	var jobs []Job
	if j.ArchiveLocks != nil {
		jobs = append(jobs, Job{Name: JobArchiveLockSweep, Spec: sched.ArchiveLockSweep, Run: j.SweepArchiveLocks})
	}
	if j.Mappings != nil {
		jobs = append(jobs, Job{Name: JobMappingSweep, Spec: sched.MappingSweep, Run: j.SweepMappings})
	}
	if j.Logs != nil {
		jobs = append(jobs, Job{Name: JobLogTrim, Spec: sched.LogTrim, Run: j.TrimLogs})
		if j.Exporter != nil {
			jobs = append(jobs, Job{Name: JobLogExport, Spec: sched.LogExport, Run: j.ExportLogs})
		}
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// SweepArchiveLocks deletes archive locks older than ArchiveLockTTL.
func (j Jobs) SweepArchiveLocks(ctx context.Context) error {
	n, err := j.ArchiveLocks.SweepStale(ctx, j.ArchiveLockTTL)
	if err != nil {
		return fmt.Errorf("maintenance: sweep archive locks: %w", err)
	}
	if n > 0 {
		j.Logger.InfoContext(ctx, "swept stale archive locks", slog.Int64("deleted", n))
	}
	return nil
}

// SweepMappings fails signal mappings stuck in processing longer than
// MappingLockTTL, so the next delivery of the position can reclaim them.
func (j Jobs) SweepMappings(ctx context.Context) error {
	n, err := j.Mappings.SweepStale(ctx, j.MappingLockTTL)
	if err != nil {
		return fmt.Errorf("maintenance: sweep mappings: %w", err)
	}
	if n > 0 {
		j.Logger.WarnContext(ctx, "failed stale processing mappings", slog.Int64("count", n))
	}
	return nil
}

// TrimLogs enforces the audit log retention cap.
func (j Jobs) TrimLogs(ctx context.Context) error {
	n, err := j.Logs.TrimOldest(ctx, domain.MaxStreamingLogs)
	if err != nil {
		return fmt.Errorf("maintenance: trim logs: %w", err)
	}
	if n > 0 {
		j.Logger.InfoContext(ctx, "trimmed streaming logs", slog.Int64("deleted", n))
	}
	return nil
}

// ExportLogs copies the retained audit log to cold storage.
func (j Jobs) ExportLogs(ctx context.Context) error {
	entries, err := j.Logs.List(ctx, domain.ListOpts{Limit: domain.MaxStreamingLogs})
	if err != nil {
		return fmt.Errorf("maintenance: list logs: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	path, err := j.Exporter.ExportLogs(ctx, entries, j.Now())
	if err != nil {
		return fmt.Errorf("maintenance: export logs: %w", err)
	}
	j.Logger.InfoContext(ctx, "exported streaming logs", slog.String("path", path), slog.Int("entries", len(entries)))
	return nil
}
