package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Action is the work behind a job. It receives the job as stored.
type Action func(ctx context.Context, job core.ScheduledJob) error

// Job ids of the built-in jobs, also used as their action names.
const (
	JobSyncAccounts = "sync_accounts"
	JobCleanupLogs  = "cleanup_logs"
	ActionSnippet   = "snippet"
)

var ErrJobRunning = errors.New("job is already running")

// ErrStopped is returned for runs requested after Stop.
var ErrStopped = core.Errorf(core.CodeCancelled, "scheduler.run", "scheduler is stopping")

// JobInfo is a job with its next fire time, when scheduled.
type JobInfo struct {
	core.ScheduledJob
	NextRun *time.Time `json:"next_run,omitempty"`
	Running bool       `json:"running"`
}

// Scheduler keeps persisted jobs on a cron clock.
type Scheduler struct {
	cron    *cron.Cron
	jobs    core.JobRepository
	actions map[string]Action

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]bool

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	now  func() time.Time
	log  zerolog.Logger
}

func New(jobs core.JobRepository) *Scheduler {
	log := logger.With("scheduler")
	base, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger{log}), cron.WithChain(cron.Recover(cronLogger{log}))),
		jobs:    jobs,
		actions: make(map[string]Action),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		base:    base,
		stop:    stop,
		now:     time.Now,
		log:     log,
	}
}

// RegisterAction makes an action available to jobs by name.
func (s *Scheduler) RegisterAction(name string, a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = a
}

// ValidateTrigger accepts five-field cron specs and descriptors such as
// "@hourly" or "@every 15m".
func ValidateTrigger(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return core.Errorf(core.CodeValidation, "job.trigger", "invalid trigger %q: %v", spec, err)
	}
	return nil
}

func (s *Scheduler) check(j *core.ScheduledJob) error {
	if j.ID == "" {
		j.ID = core.Slugify(j.Name)
	}
	if j.ID == "" || j.ID != core.Slugify(j.ID) {
		return core.Errorf(core.CodeValidation, "job.register", "job id %q must be lowercase letters, digits and underscores", j.ID)
	}
	if j.Name == "" {
		j.Name = j.ID
	}
	if err := ValidateTrigger(j.Trigger); err != nil {
		return err
	}
	s.mu.Lock()
	_, known := s.actions[j.Action]
	s.mu.Unlock()
	if !known {
		return core.Errorf(core.CodeValidation, "job.register", "unknown action %q", j.Action)
	}
	if j.Action == ActionSnippet && strings.TrimSpace(j.Snippet) == "" {
		return core.Errorf(core.CodeValidation, "job.register", "snippet job %s has no snippet", j.ID)
	}
	return nil
}

// Register stores a user job and schedules it unless paused. An existing
// user job with the same id is replaced.
func (s *Scheduler) Register(ctx context.Context, j core.ScheduledJob) (*core.ScheduledJob, error) {
	if err := s.check(&j); err != nil {
		return nil, err
	}
	if cur, err := s.jobs.Get(ctx, j.ID); err == nil && cur.IsBuiltin {
		return nil, core.Errorf(core.CodeValidation, "job.register", "%s is a built-in job", j.ID)
	} else if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	j.IsBuiltin = false
	if err := s.jobs.Save(ctx, &j); err != nil {
		return nil, core.E(core.CodePersist, "job.register", err)
	}
	if err := s.reschedule(j); err != nil {
		return nil, err
	}
	s.log.Info().Str("job", j.ID).Str("trigger", j.Trigger).Str("action", j.Action).Msg("job registered")
	return &j, nil
}

// EnsureBuiltin installs or refreshes a built-in job. The trigger follows
// configuration; a paused flag set by an operator survives restarts.
func (s *Scheduler) EnsureBuiltin(ctx context.Context, id, name, trigger string) error {
	j := core.ScheduledJob{ID: id, Name: name, Trigger: trigger, Action: id, IsBuiltin: true}
	if err := s.check(&j); err != nil {
		return err
	}
	if cur, err := s.jobs.Get(ctx, id); err == nil {
		j.Paused = cur.Paused
		j.CreatedAt = cur.CreatedAt
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if err := s.jobs.Save(ctx, &j); err != nil {
		return core.E(core.CodePersist, "job.builtin", err)
	}
	return s.reschedule(j)
}

// Load schedules every persisted job. Jobs whose action is not registered
// in this process are skipped.
func (s *Scheduler) Load(ctx context.Context) error {
	all, err := s.jobs.GetAll(ctx)
	if err != nil {
		return core.E(core.CodePersist, "job.load", err)
	}
	for _, j := range all {
		if err := s.check(&j); err != nil {
			s.log.Warn().Err(err).Str("job", j.ID).Msg("persisted job skipped")
			continue
		}
		if err := s.reschedule(j); err != nil {
			s.log.Warn().Err(err).Str("job", j.ID).Msg("persisted job skipped")
		}
	}
	return nil
}

func (s *Scheduler) reschedule(j core.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[j.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, j.ID)
	}
	if j.Paused {
		return nil
	}
	jobID := j.ID
	entry, err := s.cron.AddFunc(j.Trigger, func() {
		if err := s.run(s.base, jobID); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Warn().Err(err).Str("job", jobID).Msg("scheduled run failed")
		}
	})
	if err != nil {
		return core.Errorf(core.CodeValidation, "job.schedule", "invalid trigger %q: %v", j.Trigger, err)
	}
	s.entries[j.ID] = entry
	return nil
}

func (s *Scheduler) Pause(ctx context.Context, id string) error {
	if err := s.jobs.SetPaused(ctx, id, true); err != nil {
		return err
	}
	s.mu.Lock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.log.Info().Str("job", id).Msg("job paused")
	return nil
}

func (s *Scheduler) Resume(ctx context.Context, id string) error {
	if err := s.jobs.SetPaused(ctx, id, false); err != nil {
		return err
	}
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reschedule(*j); err != nil {
		return err
	}
	s.log.Info().Str("job", id).Msg("job resumed")
	return nil
}

// Remove deletes a user job.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.IsBuiltin {
		return core.Errorf(core.CodeValidation, "job.remove", "%s is a built-in job; pause it instead", id)
	}
	s.mu.Lock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.jobs.Delete(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]JobInfo, error) {
	all, err := s.jobs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, len(all))
	for i, j := range all {
		out[i] = JobInfo{ScheduledJob: j, Running: s.running[j.ID]}
		if entry, ok := s.entries[j.ID]; ok {
			if next := s.cron.Entry(entry).Next; !next.IsZero() {
				out[i].NextRun = &next
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].IsBuiltin != out[b].IsBuiltin {
			return out[a].IsBuiltin
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// RunNow runs a job immediately, paused or not, and waits for it.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	if _, err := s.jobs.Get(ctx, id); err != nil {
		return err
	}
	return s.run(ctx, id)
}

// run executes one job. Overlapping runs of the same job are skipped.
func (s *Scheduler) run(ctx context.Context, id string) error {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.base.Err() != nil {
		s.mu.Unlock()
		return ErrStopped
	}
	action, ok := s.actions[j.Action]
	if s.running[id] {
		s.mu.Unlock()
		s.log.Warn().Str("job", id).Msg("previous run still active, skipping")
		metrics.SchedulerJobRuns.WithLabelValues(id, "skipped").Inc()
		return ErrJobRunning
	}
	s.running[id] = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	if !ok {
		return fmt.Errorf("job %s: action %q is not registered", id, j.Action)
	}
	start := s.now()
	s.log.Info().Str("job", id).Msg("job started")
	runErr := action(ctx, *j)

	status, msg := "success", ""
	if runErr != nil {
		status, msg = "failed", runErr.Error()
	}
	metrics.SchedulerJobRuns.WithLabelValues(id, status).Inc()
	if err := s.jobs.RecordRun(context.WithoutCancel(ctx), id, start, status, msg); err != nil {
		s.log.Error().Err(err).Str("job", id).Msg("failed to record job run")
	}
	ev := s.log.Info()
	if runErr != nil {
		ev = s.log.Warn().Err(runErr)
	}
	ev.Str("job", id).Dur("took", s.now().Sub(start)).Msg("job finished")
	return runErr
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts the clock, cancels running jobs and waits for them.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	// taken with mu so no run can pass the stopped check and Add after Wait starts
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the scheduler until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// cronLogger routes cron's own logging to zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
