package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"dbinventory/internal/classify"
	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/syncer"
)

const schedulerActor = "scheduler"

// SyncRunner is the part of the orchestrator the sync job drives.
type SyncRunner interface {
	SyncAllActive(ctx context.Context, actor string, so ...syncer.SyncOptions) (string, error)
	Wait(ctx context.Context, sessionID string) (*core.SyncSession, error)
}

type Classifier interface {
	Classify(ctx context.Context, scope classify.Scope, actor string) (*core.ClassificationBatch, error)
}

// SyncAccounts syncs every active instance, waits for the session and then
// classifies all accounts. A nil classifier skips classification.
func SyncAccounts(runner SyncRunner, classifier Classifier) Action {
	return func(ctx context.Context, _ core.ScheduledJob) error {
		id, err := runner.SyncAllActive(ctx, schedulerActor, syncer.SyncOptions{Kind: core.SyncScheduledTask})
		if err != nil {
			return err
		}
		sess, err := runner.Wait(ctx, id)
		if err != nil {
			return err
		}
		if classifier != nil {
			if _, err := classifier.Classify(ctx, classify.Scope{}, schedulerActor); err != nil {
				return fmt.Errorf("classify after sync %s: %w", id, err)
			}
		}
		if sess.Status == core.SessionFailed {
			return fmt.Errorf("sync session %s: %d of %d instances failed", sess.ID, sess.FailedInstances, sess.TotalInstances)
		}
		return nil
	}
}

type SessionPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type LockReaper interface {
	ReapExpired(ctx context.Context) (int64, error)
}

// CleanupLogs deletes finished sessions and audit rows older than the
// retention window and reaps expired locks.
func CleanupLogs(sessions SessionPurger, audit core.AuditRepository, locks LockReaper, retention time.Duration, now func() time.Time) Action {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, _ core.ScheduledJob) error {
		cutoff := now().Add(-retention)
		n, err := sessions.PurgeBefore(ctx, cutoff)
		if err != nil {
			return core.E(core.CodePersist, "cleanup.sessions", err)
		}
		var audits int64
		if audit != nil {
			if audits, err = audit.DeleteBefore(cutoff); err != nil {
				return core.E(core.CodePersist, "cleanup.audit", err)
			}
		}
		if _, err := locks.ReapExpired(ctx); err != nil {
			return err
		}
		log := logger.With("scheduler")
		log.Info().Int64("sessions", n).Int64("audit_rows", audits).Time("cutoff", cutoff).Msg("old logs removed")
		return nil
	}
}

// Snippet hands a job's snippet to shell -c. The snippet is opaque to the
// scheduler; an empty shell disables snippet jobs.
func Snippet(shell string, timeout time.Duration) Action {
	return func(ctx context.Context, job core.ScheduledJob) error {
		if shell == "" {
			return fmt.Errorf("snippet jobs are disabled; set schedule.snippet_shell")
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, shell, "-c", job.Snippet)
		cmd.Stdout = &out
		cmd.Stderr = &out
		err := cmd.Run()
		output := out.String()
		if len(output) > 4096 {
			output = output[:4096] + "..."
		}
		log := logger.With("scheduler")
		log.Debug().Str("job", job.ID).Str("output", output).Msg("snippet output")
		if err != nil {
			return fmt.Errorf("snippet %s: %w: %s", job.ID, err, output)
		}
		return nil
	}
}
