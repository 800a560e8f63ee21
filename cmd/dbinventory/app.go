package main

import (
	"context"
	"database/sql"
	"fmt"

	"dbinventory/internal/classify"
	"dbinventory/internal/collector"
	"dbinventory/internal/config"
	"dbinventory/internal/data"
	"dbinventory/internal/logger"
	"dbinventory/internal/scheduler"
	"dbinventory/internal/service"
	"dbinventory/internal/syncer"
)

// app holds every component wired from configuration. Both the server and
// the one-shot commands build it the same way.
type app struct {
	cfg *config.Config
	db  *sql.DB

	auth      *service.AuthService
	registry  *service.Registry
	audit     *data.AuditRepo
	sessions  *syncer.SessionManager
	locks     *syncer.LockRegistry
	orch      *syncer.Orchestrator
	rules     *classify.RuleStore
	engine    *classify.Engine
	scheduler *scheduler.Scheduler
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w (check .env or %s)", err, config.KeyEnvVar)
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Dir: cfg.Log.Dir}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := data.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	a := &app{cfg: cfg, db: db}
	if err := a.wire(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	crypto, err := service.NewEncryptionService(cfg.Key)
	if err != nil {
		return fmt.Errorf("init crypto: %w", err)
	}
	filters, err := config.LoadFilterRules(cfg.Filters.RulesPath)
	if err != nil {
		return err
	}

	instances := data.NewInstanceRepo(a.db)
	accounts := data.NewAccountRepo(a.db)
	a.auth = service.NewAuthService(data.NewUserRepo(a.db), data.NewApiKeyRepo(a.db))
	a.registry = service.NewRegistry(instances, data.NewCredentialRepo(a.db), crypto)
	a.audit = data.NewAuditRepo(a.db)
	a.sessions = syncer.NewSessionManager(data.NewSessionRepo(a.db))
	a.locks = syncer.NewLockRegistry(data.NewLockRepo(a.db))

	connector := service.NewConnector(a.registry, service.BreakerSettings{
		Failures: cfg.Sync.BreakerFailures,
		Cooldown: cfg.Sync.BreakerCooldown(),
	}, cfg.Sync.PostgresSSLMode)
	a.orch = syncer.NewOrchestrator(syncer.Deps{
		Instances: instances,
		Sessions:  a.sessions,
		Locks:     a.locks,
		Connector: connector,
		Collector: collector.New(collector.Options{Filters: filters, QueryTimeout: cfg.Sync.QueryTimeout()}),
		Differ:    syncer.NewDiffer(accounts),
		Persister: syncer.NewPersister(accounts),
	}, syncer.Options{
		PoolSize:       cfg.Sync.WorkerPoolSize,
		BatchSize:      cfg.Sync.BatchSize,
		ConnectTimeout: cfg.Sync.ConnectTimeout(),
		QueryTimeout:   cfg.Sync.QueryTimeout(),
		LockTTL:        cfg.Sync.LockTTL(),
		Delay:          cfg.Sync.BetweenInstancesDelay(),
	})

	a.rules = classify.NewRuleStore(data.NewClassificationRepo(a.db))
	if err := a.rules.Seed(ctx); err != nil {
		return fmt.Errorf("seed classifications: %w", err)
	}
	a.engine = classify.NewEngine(a.rules, accounts, data.NewAssignmentRepo(a.db), a.sessions, classify.Options{
		PollInterval: cfg.Classify.WaitPoll(),
		WaitTimeout:  cfg.Classify.WaitTimeout(),
	})

	a.scheduler = scheduler.New(data.NewJobRepo(a.db))
	a.scheduler.RegisterAction(scheduler.JobSyncAccounts, scheduler.SyncAccounts(a.orch, a.engine))
	a.scheduler.RegisterAction(scheduler.JobCleanupLogs, scheduler.CleanupLogs(a.sessions, a.audit, a.locks,
		cfg.Schedule.LogRetention(), nil))
	if cfg.Schedule.SnippetShell != "" {
		a.scheduler.RegisterAction(scheduler.ActionSnippet, scheduler.Snippet(cfg.Schedule.SnippetShell, cfg.Schedule.SnippetTimeout()))
	}
	if err := a.scheduler.EnsureBuiltin(ctx, scheduler.JobSyncAccounts, "Sync accounts", cfg.Schedule.SyncAccounts); err != nil {
		return fmt.Errorf("install %s job: %w", scheduler.JobSyncAccounts, err)
	}
	if err := a.scheduler.EnsureBuiltin(ctx, scheduler.JobCleanupLogs, "Clean up logs", cfg.Schedule.CleanupLogs); err != nil {
		return fmt.Errorf("install %s job: %w", scheduler.JobCleanupLogs, err)
	}
	return nil
}

// Close stops background sessions started by one-shot commands and closes
// the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Sync.ConnectTimeout())
	defer cancel()
	_ = a.orch.Shutdown(ctx)
	a.db.Close()
	logger.Close()
}
