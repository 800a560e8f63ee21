package scheduler

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"dbinventory/internal/classify"
	"dbinventory/internal/core"
	"dbinventory/internal/data"
	"dbinventory/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) (*Scheduler, *data.JobRepo) {
	t.Helper()
	db, err := data.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := data.NewJobRepo(db)
	s := New(repo)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, repo
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newScheduler(t)
	s.RegisterAction("noop", func(context.Context, core.ScheduledJob) error { return nil })

	_, err := s.Register(ctx, core.ScheduledJob{Name: "x", Trigger: "every day", Action: "noop"})
	assert.True(t, core.IsCode(err, core.CodeValidation))

	_, err = s.Register(ctx, core.ScheduledJob{Name: "x", Trigger: "@hourly", Action: "missing"})
	assert.True(t, core.IsCode(err, core.CodeValidation))

	_, err = s.Register(ctx, core.ScheduledJob{ID: "Bad Id", Trigger: "@hourly", Action: "noop"})
	assert.True(t, core.IsCode(err, core.CodeValidation))

	s.RegisterAction(ActionSnippet, Snippet("", 0))
	_, err = s.Register(ctx, core.ScheduledJob{Name: "empty", Trigger: "@hourly", Action: ActionSnippet})
	assert.True(t, core.IsCode(err, core.CodeValidation))

	j, err := s.Register(ctx, core.ScheduledJob{Name: "Hourly Noop", Trigger: "*/5 * * * *", Action: "noop"})
	require.NoError(t, err)
	assert.Equal(t, "hourly_noop", j.ID)
}

func TestRunNowRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	s, repo := newScheduler(t)
	var calls atomic.Int32
	s.RegisterAction("flaky", func(context.Context, core.ScheduledJob) error {
		if calls.Add(1) == 1 {
			return errors.New("boom")
		}
		return nil
	})
	_, err := s.Register(ctx, core.ScheduledJob{ID: "flaky", Trigger: "@daily", Action: "flaky", Paused: true})
	require.NoError(t, err)

	assert.EqualError(t, s.RunNow(ctx, "flaky"), "boom")
	j, err := repo.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, "failed", j.LastStatus)
	assert.Equal(t, "boom", j.LastError)
	require.NotNil(t, j.LastRunAt)

	require.NoError(t, s.RunNow(ctx, "flaky"))
	j, err = repo.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, "success", j.LastStatus)

	assert.ErrorIs(t, s.RunNow(ctx, "nope"), core.ErrNotFound)
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, _ := newScheduler(t)
	release := make(chan struct{})
	started := make(chan struct{})
	s.RegisterAction("slow", func(context.Context, core.ScheduledJob) error {
		close(started)
		<-release
		return nil
	})
	_, err := s.Register(ctx, core.ScheduledJob{ID: "slow", Trigger: "@daily", Action: "slow"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(ctx, "slow") }()
	<-started
	assert.ErrorIs(t, s.RunNow(ctx, "slow"), ErrJobRunning)

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Running)

	close(release)
	require.NoError(t, <-done)
}

func TestRunAfterStopIsRejected(t *testing.T) {
	ctx := context.Background()
	s, repo := newScheduler(t)
	var calls atomic.Int32
	s.RegisterAction("noop", func(context.Context, core.ScheduledJob) error {
		calls.Add(1)
		return nil
	})
	_, err := s.Register(ctx, core.ScheduledJob{ID: "noop", Trigger: "@daily", Action: "noop"})
	require.NoError(t, err)

	require.NoError(t, s.Stop(ctx))
	err = s.RunNow(ctx, "noop")
	assert.ErrorIs(t, err, ErrStopped)
	assert.True(t, core.IsCode(err, core.CodeCancelled))
	assert.Zero(t, calls.Load())

	j, err := repo.Get(ctx, "noop")
	require.NoError(t, err)
	assert.Nil(t, j.LastRunAt)
}

func TestPauseResumeAndBuiltins(t *testing.T) {
	ctx := context.Background()
	s, repo := newScheduler(t)
	s.RegisterAction(JobSyncAccounts, func(context.Context, core.ScheduledJob) error { return nil })
	s.RegisterAction(JobCleanupLogs, func(context.Context, core.ScheduledJob) error { return nil })
	require.NoError(t, s.EnsureBuiltin(ctx, JobSyncAccounts, "Sync accounts", "0 */6 * * *"))
	require.NoError(t, s.EnsureBuiltin(ctx, JobCleanupLogs, "Clean up logs", "30 3 * * *"))
	s.Start()

	require.NoError(t, s.Pause(ctx, JobSyncAccounts))
	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	byID := map[string]JobInfo{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	assert.True(t, byID[JobSyncAccounts].Paused)
	assert.Nil(t, byID[JobSyncAccounts].NextRun)
	assert.NotNil(t, byID[JobCleanupLogs].NextRun)

	// restart keeps the operator's pause but takes the new trigger
	require.NoError(t, s.EnsureBuiltin(ctx, JobSyncAccounts, "Sync accounts", "@hourly"))
	j, err := repo.Get(ctx, JobSyncAccounts)
	require.NoError(t, err)
	assert.True(t, j.Paused)
	assert.Equal(t, "@hourly", j.Trigger)

	require.NoError(t, s.Resume(ctx, JobSyncAccounts))
	jobs, err = s.List(ctx)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.False(t, j.Paused)
		assert.NotNil(t, j.NextRun, j.ID)
	}

	assert.True(t, core.IsCode(s.Remove(ctx, JobCleanupLogs), core.CodeValidation))
	_, err = s.Register(ctx, core.ScheduledJob{ID: JobCleanupLogs, Trigger: "@daily", Action: JobCleanupLogs})
	assert.True(t, core.IsCode(err, core.CodeValidation))
	assert.ErrorIs(t, s.Pause(ctx, "ghost"), core.ErrNotFound)
}

func TestLoadSchedulesPersistedJobs(t *testing.T) {
	ctx := context.Background()
	s, repo := newScheduler(t)
	require.NoError(t, repo.Save(ctx, &core.ScheduledJob{ID: "known", Name: "known", Trigger: "@every 1s", Action: "tick"}))
	require.NoError(t, repo.Save(ctx, &core.ScheduledJob{ID: "orphan", Name: "orphan", Trigger: "@daily", Action: "gone"}))

	ticks := make(chan struct{}, 4)
	s.RegisterAction("tick", func(context.Context, core.ScheduledJob) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, s.Load(ctx))
	s.Start()

	select {
	case <-ticks:
	case <-time.After(3 * time.Second):
		t.Fatal("persisted job never fired")
	}
	jobs, err := s.List(ctx)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.ID == "orphan" {
			assert.Nil(t, j.NextRun)
		}
	}
}

type fakeRunner struct {
	status core.SessionStatus
	opts   []syncer.SyncOptions
}

func (f *fakeRunner) SyncAllActive(_ context.Context, _ string, so ...syncer.SyncOptions) (string, error) {
	f.opts = so
	return "sess-1", nil
}

func (f *fakeRunner) Wait(context.Context, string) (*core.SyncSession, error) {
	return &core.SyncSession{ID: "sess-1", Status: f.status, TotalInstances: 2, FailedInstances: 1}, nil
}

type fakeClassifier struct{ scopes []classify.Scope }

func (f *fakeClassifier) Classify(_ context.Context, scope classify.Scope, _ string) (*core.ClassificationBatch, error) {
	f.scopes = append(f.scopes, scope)
	return &core.ClassificationBatch{}, nil
}

func TestSyncAccountsAction(t *testing.T) {
	runner := &fakeRunner{status: core.SessionCompleted}
	cls := &fakeClassifier{}
	require.NoError(t, SyncAccounts(runner, cls)(context.Background(), core.ScheduledJob{}))
	require.Len(t, runner.opts, 1)
	assert.Equal(t, core.SyncScheduledTask, runner.opts[0].Kind)
	assert.Equal(t, []classify.Scope{{}}, cls.scopes)

	runner.status = core.SessionFailed
	err := SyncAccounts(runner, nil)(context.Background(), core.ScheduledJob{})
	assert.ErrorContains(t, err, "1 of 2 instances failed")
}

type fakePurger struct{ cutoff time.Time }

func (f *fakePurger) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

type fakeReaper struct{ calls int }

func (f *fakeReaper) ReapExpired(context.Context) (int64, error) {
	f.calls++
	return 0, nil
}

func TestCleanupLogsAction(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	purger, reaper := &fakePurger{}, &fakeReaper{}
	act := CleanupLogs(purger, nil, reaper, 30*24*time.Hour, func() time.Time { return now })
	require.NoError(t, act(context.Background(), core.ScheduledJob{}))
	assert.Equal(t, now.AddDate(0, 0, -30), purger.cutoff)
	assert.Equal(t, 1, reaper.calls)
}

func TestSnippetAction(t *testing.T) {
	err := Snippet("", 0)(context.Background(), core.ScheduledJob{ID: "x", Snippet: "true"})
	assert.ErrorContains(t, err, "disabled")

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no shell available")
	}
	require.NoError(t, Snippet(sh, time.Second)(context.Background(), core.ScheduledJob{ID: "ok", Snippet: "echo hi"}))
	err = Snippet(sh, time.Second)(context.Background(), core.ScheduledJob{ID: "bad", Snippet: "echo nope; exit 3"})
	assert.ErrorContains(t, err, "nope")
}
