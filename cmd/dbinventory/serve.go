package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbinventory/internal/api"
	"dbinventory/internal/logger"
	"dbinventory/internal/supervisor"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func runServer(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := logger.With("server")

	if ok, err := a.auth.HasUsers(); err == nil && !ok {
		log.Warn().Msg("no operators yet; create one with: dbinventory user create -u <name>")
	}
	if err := a.scheduler.Load(ctx); err != nil {
		return fmt.Errorf("load scheduled jobs: %w", err)
	}

	h := api.NewHandler(api.Deps{
		Auth:            a.auth,
		Registry:        a.registry,
		Orchestrator:    a.orch,
		Locks:           a.locks,
		Engine:          a.engine,
		Rules:           a.rules,
		Scheduler:       a.scheduler,
		Audit:           a.audit,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPService(srv, 10*time.Second))
	tree.AddJobService(supervisor.Runner{Name: "scheduler", Run: a.scheduler.Serve})
	tree.AddJobService(supervisor.Every("lock-reaper", time.Minute, func(ctx context.Context) error {
		n, err := a.locks.ReapExpired(ctx)
		if n > 0 {
			log.Info().Int64("locks", n).Msg("expired instance locks reaped")
		}
		return err
	}))
	tree.AddJobService(supervisor.OnShutdown("sync-orchestrator", a.orch, 30*time.Second))

	log.Info().Int("port", a.cfg.Server.Port).Str("version", Version).Msg("dbinventory starting")
	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			log.Warn().Str("service", u.Name).Msg("service did not stop in time")
		}
	}
	log.Info().Msg("server stopped")
	return err
}
