package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pidFileName     = "xmem.pid"
	pruneInterval   = time.Hour
	shutdownTimeout = 5 * time.Second
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and HTTP API until interrupted",
		Long: `Run the control loop on the configured interval, serve the HTTP API and
Prometheus metrics, and journal every pipeline run. SIGUSR1 requests an
immediate optimization; SIGINT or SIGTERM shut down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(opts, wireOptions{journal: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return runDaemon(cmd.Context(), a)
		},
	}
}

func runDaemon(parent context.Context, a *app) error {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath := filepath.Join(cfg.DataDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := engine.NewScheduler(a.engine, engine.SchedulerConfig{
		Interval: cfg.Scheduler.Interval,
		Periodic: cfg.Scheduler.PeriodicOptimization,
	})
	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	if cfg.Server.Enabled {
		httpServer := &http.Server{
			Addr: cfg.Server.Addr,
			Handler: server.New(server.Config{
				Engine:    a.engine,
				Scheduler: sched,
				DB:        a.db,
				Logger:    a.log,
				Version:   Version,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info("http api listening", zap.String("addr", cfg.Server.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(sctx)
		})
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-usr1:
				if !sched.Trigger() {
					a.log.Info("optimization not queued", zap.String("scheduler", sched.State().String()))
				}
			}
		}
	})

	if a.db != nil && cfg.Journal.Retention > 0 {
		g.Go(func() error {
			pruneJournal(gctx, a)
			return nil
		})
	}

	a.log.Info("xmem started",
		zap.Int("pid", os.Getpid()),
		zap.Duration("interval", cfg.Scheduler.Interval),
		zap.String("source", a.source.Name()),
		zap.String("effector", cfg.Effector.Mode),
		zap.String("data_dir", cfg.DataDir))

	err := g.Wait()
	a.log.Info("xmem stopped")
	return err
}

// pruneJournal drops runs older than the retention window, once at start
// and then hourly.
func pruneJournal(ctx context.Context, a *app) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().Add(-a.cfg.Journal.Retention)
		n, err := a.db.PruneRuns(ctx, cutoff)
		switch {
		case err != nil && ctx.Err() == nil:
			a.log.Warn("journal prune failed", zap.Error(err))
		case n > 0:
			a.log.Info("journal pruned", zap.Int64("runs", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
