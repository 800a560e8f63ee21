package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dbinventory/internal/collector"
	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"
	"dbinventory/internal/service"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Connector opens a fresh connection for one instance sync.
type Connector interface {
	Open(ctx context.Context, inst core.Instance, t service.Timeouts) (*service.Connection, error)
}

// Collector reads a snapshot through an open connection.
type Collector interface {
	Collect(ctx context.Context, q collector.Queryer, inst core.Instance) (*collector.Snapshot, error)
}

// InstanceSource resolves sync targets.
type InstanceSource interface {
	GetByID(ctx context.Context, id int64) (*core.Instance, error)
	ListActive(ctx context.Context) ([]core.Instance, error)
}

// Options are the orchestrator defaults. SyncOptions override them per
// session; zero fields fall back.
type Options struct {
	PoolSize       int
	BatchSize      int
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	LockTTL        time.Duration
	Delay          time.Duration
}

type SyncOptions struct {
	Kind     core.SyncKind
	Category core.SyncCategory
	Options
}

func (o Options) merge(over Options) Options {
	if over.PoolSize > 0 {
		o.PoolSize = over.PoolSize
	}
	if over.BatchSize > 0 {
		o.BatchSize = over.BatchSize
	}
	if over.ConnectTimeout > 0 {
		o.ConnectTimeout = over.ConnectTimeout
	}
	if over.QueryTimeout > 0 {
		o.QueryTimeout = over.QueryTimeout
	}
	if over.LockTTL > 0 {
		o.LockTTL = over.LockTTL
	}
	if over.Delay > 0 {
		o.Delay = over.Delay
	}
	return o
}

func DefaultOptions() Options {
	return Options{
		PoolSize:       8,
		BatchSize:      DefaultBatchSize,
		ConnectTimeout: 30 * time.Second,
		QueryTimeout:   120 * time.Second,
		LockTTL:        DefaultLockTTL,
		Delay:          100 * time.Millisecond,
	}
}

type activeSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator runs sync sessions in the background. Each instance goes
// through lock, connect, collect, diff, apply and release in order; instances
// of one session run concurrently up to the pool size.
type Orchestrator struct {
	instances InstanceSource
	sessions  *SessionManager
	locks     *LockRegistry
	connector Connector
	collector Collector
	differ    *Differ
	persister *Persister
	opts      Options

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*activeSession
	log    zerolog.Logger
}

type Deps struct {
	Instances InstanceSource
	Sessions  *SessionManager
	Locks     *LockRegistry
	Connector Connector
	Collector Collector
	Differ    *Differ
	Persister *Persister
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		instances: d.Instances,
		sessions:  d.Sessions,
		locks:     d.Locks,
		connector: d.Connector,
		collector: d.Collector,
		differ:    d.Differ,
		persister: d.Persister,
		opts:      DefaultOptions().merge(opts),
		base:      base,
		stop:      stop,
		active:    make(map[string]*activeSession),
		log:       logger.With("syncer"),
	}
}

// SyncOne syncs a single instance and returns the session id.
func (o *Orchestrator) SyncOne(ctx context.Context, instanceID int64, actor string, so ...SyncOptions) (string, error) {
	opts := pick(so, core.SyncManualSingle)
	inst, err := o.resolve(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return o.start(ctx, []core.Instance{*inst}, actor, opts)
}

// SyncMany syncs the listed instances in one session.
func (o *Orchestrator) SyncMany(ctx context.Context, instanceIDs []int64, actor string, so ...SyncOptions) (string, error) {
	opts := pick(so, core.SyncManualBatch)
	if len(instanceIDs) == 0 {
		return "", core.Errorf(core.CodeValidation, "sync.many", "no instances given")
	}
	seen := make(map[int64]bool, len(instanceIDs))
	targets := make([]core.Instance, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		inst, err := o.resolve(ctx, id)
		if err != nil {
			return "", err
		}
		targets = append(targets, *inst)
	}
	return o.start(ctx, targets, actor, opts)
}

// SyncAllActive syncs every active instance. An empty fleet yields a session
// that completes with no records.
func (o *Orchestrator) SyncAllActive(ctx context.Context, actor string, so ...SyncOptions) (string, error) {
	opts := pick(so, core.SyncManualTask)
	targets, err := o.instances.ListActive(ctx)
	if err != nil {
		return "", core.E(core.CodePersist, "sync.all", err)
	}
	return o.start(ctx, targets, actor, opts)
}

func pick(so []SyncOptions, kind core.SyncKind) SyncOptions {
	var opts SyncOptions
	if len(so) > 0 {
		opts = so[0]
	}
	if opts.Kind == "" {
		opts.Kind = kind
	}
	if opts.Category == "" {
		opts.Category = core.CategoryAccount
	}
	return opts
}

func (o *Orchestrator) resolve(ctx context.Context, id int64) (*core.Instance, error) {
	inst, err := o.instances.GetByID(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, core.Errorf(core.CodeValidation, "sync.resolve", "instance %d does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	if inst.DeletedAt != nil || !inst.IsActive {
		return nil, core.Errorf(core.CodeValidation, "sync.resolve", "instance %s is not active", inst.Name)
	}
	return inst, nil
}

func (o *Orchestrator) start(ctx context.Context, targets []core.Instance, actor string, so SyncOptions) (string, error) {
	if err := o.base.Err(); err != nil {
		return "", core.Errorf(core.CodeCancelled, "sync.start", "orchestrator is shutting down")
	}
	sess, records, err := o.sessions.Start(ctx, so.Kind, so.Category, actor, targets)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(o.base)
	as := &activeSession{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.active[sess.ID] = as
	o.mu.Unlock()

	o.log.Info().
		Str("session_id", sess.ID).
		Str("kind", string(sess.Kind)).
		Str("actor", actor).
		Int("instances", len(targets)).
		Msg("sync session started")

	opts := o.opts.merge(so.Options)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(as.done)
		defer cancel()
		o.run(runCtx, sess, records, targets, opts)
		o.mu.Lock()
		delete(o.active, sess.ID)
		o.mu.Unlock()
	}()
	return sess.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, sess *core.SyncSession, records []core.SyncRecord, targets []core.Instance, opts Options) {
	log := o.log.With().Str("session_id", sess.ID).Logger()

	pool := opts.PoolSize
	if pool > len(targets) {
		pool = len(targets)
	}
	var g errgroup.Group
	if pool > 0 {
		g.SetLimit(pool)
	}
	for i := range targets {
		if i > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.Delay):
			}
		}
		inst, rec := targets[i], records[i]
		g.Go(func() error {
			o.syncInstance(ctx, sess.ID, inst, &rec, opts)
			return nil
		})
	}
	_ = g.Wait()

	final, err := o.sessions.Close(context.WithoutCancel(ctx), sess.ID)
	if err != nil {
		log.Error().Err(err).Msg("failed to close sync session")
		return
	}
	log.Info().
		Str("status", string(final.Status)).
		Int("total", final.TotalInstances).
		Int("successful", final.SuccessfulInstances).
		Int("failed", final.FailedInstances).
		Int("cancelled", final.CancelledInstances).
		Msg("sync session finished")
}

// cancelled reports whether the session was cancelled here or by another
// process sharing the store.
func (o *Orchestrator) cancelled(ctx context.Context, sessionID string) bool {
	if ctx.Err() != nil {
		return true
	}
	c, err := o.sessions.IsCancelled(ctx, sessionID)
	return err == nil && c
}

func (o *Orchestrator) syncInstance(ctx context.Context, sessionID string, inst core.Instance, rec *core.SyncRecord, opts Options) {
	store := context.WithoutCancel(ctx)
	start := time.Now()
	log := o.log.With().Str("session_id", sessionID).Int64("instance_id", inst.ID).Str("instance", inst.Name).Logger()

	finish := func(status core.RecordStatus, err error) {
		outcome := "completed"
		if err != nil {
			code := core.CodeOf(err)
			rec.ErrorCode = code
			rec.ErrorMessage = code.Reason() + ": " + err.Error()
			outcome = code.Reason()
		}
		if status == core.RecordCancelled {
			outcome = "cancelled"
		}
		rec.Details.DurationMs = time.Since(start).Milliseconds()
		if ferr := o.sessions.Finish(store, rec, status); ferr != nil {
			log.Error().Err(ferr).Msg("failed to record instance outcome")
		}
		metrics.SyncInstancesTotal.WithLabelValues(outcome).Inc()
		metrics.SyncInstanceDuration.WithLabelValues(string(inst.Vendor), outcome).Observe(time.Since(start).Seconds())
		ev := log.Info()
		if status == core.RecordFailed {
			ev = log.Warn().Err(err)
		}
		ev.Str("outcome", outcome).Int("synced", rec.Synced).Int("created", rec.Created).
			Int("updated", rec.Updated).Int("deleted", rec.Deleted).Msg("instance sync finished")
	}
	cancelledErr := func() error { return core.Errorf(core.CodeCancelled, "sync.instance", "session cancelled") }
	// holdLock renews the instance lock before each stage that depends on it.
	holdLock := func(stage string) bool {
		ok, err := o.locks.Extend(store, inst.ID, sessionID, opts.LockTTL)
		if err != nil {
			finish(core.RecordFailed, err)
			return false
		}
		if !ok {
			finish(core.RecordFailed, core.Errorf(core.CodeLocked, "sync.lock", "instance lock lost before %s", stage))
			return false
		}
		return true
	}

	if o.cancelled(ctx, sessionID) {
		finish(core.RecordCancelled, cancelledErr())
		return
	}
	if err := o.sessions.Running(store, rec); err != nil {
		log.Error().Err(err).Msg("failed to mark record running")
	}

	ok, err := o.locks.Acquire(store, inst.ID, sessionID, opts.LockTTL)
	if err != nil {
		finish(core.RecordFailed, err)
		return
	}
	if !ok {
		holder := "another session"
		if l, _ := o.locks.Holder(store, inst.ID); l != nil {
			holder = "session " + l.SessionID
		}
		finish(core.RecordFailed, core.Errorf(core.CodeLocked, "sync.lock", "instance is being synced by %s", holder))
		return
	}
	defer func() {
		if _, err := o.locks.Release(store, inst.ID, sessionID); err != nil {
			log.Error().Err(err).Msg("failed to release instance lock")
		}
	}()

	conn, err := o.connector.Open(ctx, inst, service.Timeouts{Connect: opts.ConnectTimeout, Query: opts.QueryTimeout})
	if err != nil {
		if o.cancelled(ctx, sessionID) {
			finish(core.RecordCancelled, cancelledErr())
			return
		}
		finish(core.RecordFailed, asCode(err, core.CodeConnect))
		return
	}
	defer conn.Close()

	if o.cancelled(ctx, sessionID) {
		finish(core.RecordCancelled, cancelledErr())
		return
	}
	if !holdLock("collect") {
		return
	}
	snap, err := o.collector.Collect(ctx, conn, inst)
	if err != nil {
		if core.IsCode(err, core.CodeCancelled) || o.cancelled(ctx, sessionID) {
			finish(core.RecordCancelled, cancelledErr())
			return
		}
		finish(core.RecordFailed, asCode(err, core.CodeCollect))
		return
	}

	changes, err := o.differ.Diff(store, inst.ID, snap.Records)
	if err != nil {
		finish(core.RecordFailed, asCode(err, core.CodeInternal))
		return
	}

	if o.cancelled(ctx, sessionID) {
		finish(core.RecordCancelled, cancelledErr())
		return
	}
	if !holdLock("apply") {
		return
	}
	res, err := o.persister.Apply(store, inst, changes, opts.BatchSize)
	rec.Created, rec.Updated, rec.Deleted = res.Counts.Created, res.Counts.Updated, res.Counts.Deleted
	rec.Synced = res.Counts.Synced()
	rec.Details.Unchanged = res.Counts.Unchanged
	rec.Details.RecordErrors = res.Errors
	rec.Details.FailedBatches = res.FailedBatches
	rec.Details.Partial = snap.Partial
	if err != nil {
		finish(core.RecordFailed, asCode(err, core.CodePersist))
		return
	}
	if len(snap.Partial) > 0 {
		cats := make([]string, 0, len(snap.Partial))
		for c := range snap.Partial {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		rec.ErrorCode = core.CodeCollectPartial
		rec.ErrorMessage = fmt.Sprintf("permission categories unavailable: %s", strings.Join(cats, ", "))
	}
	finish(core.RecordCompleted, nil)
}

// asCode keeps a coded error as is and tags anything else with code.
func asCode(err error, code core.Code) error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	return core.E(code, "sync.instance", err)
}

// CancelSession marks a running session cancelled. Workers stop at their
// next checkpoint; batches already applied stay applied.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID, actor string) (bool, error) {
	ok, err := o.sessions.Cancel(ctx, sessionID)
	if err != nil || !ok {
		return false, err
	}
	o.mu.Lock()
	as := o.active[sessionID]
	o.mu.Unlock()
	if as != nil {
		as.cancel()
	}
	o.log.Info().Str("session_id", sessionID).Str("actor", actor).Msg("sync session cancelled")
	return true, nil
}

// Wait blocks until the session is terminal and returns it.
func (o *Orchestrator) Wait(ctx context.Context, sessionID string) (*core.SyncSession, error) {
	o.mu.Lock()
	as := o.active[sessionID]
	o.mu.Unlock()
	if as != nil {
		select {
		case <-as.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for {
		s, _, err := o.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		// an operator cancel makes the row terminal while workers drain
		if s.Status.Terminal() && !o.isActive(sessionID) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (o *Orchestrator) isActive(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[sessionID]
	return ok
}

// Session returns a session with its records.
func (o *Orchestrator) Session(ctx context.Context, id string) (*core.SyncSession, []core.SyncRecord, error) {
	return o.sessions.Get(ctx, id)
}

func (o *Orchestrator) Sessions(ctx context.Context, f core.SessionFilter) ([]core.SyncSession, error) {
	return o.sessions.List(ctx, f)
}

// Shutdown cancels running sessions and waits for their workers.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
