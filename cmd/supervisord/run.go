package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cybergis/compute-supervisor/internal/config"
	"github.com/cybergis/compute-supervisor/internal/connpool"
	"github.com/cybergis/compute-supervisor/internal/credential"
	"github.com/cybergis/compute-supervisor/internal/events"
	"github.com/cybergis/compute-supervisor/internal/globus"
	"github.com/cybergis/compute-supervisor/internal/httpapi"
	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/cybergis/compute-supervisor/internal/maintenance"
	"github.com/cybergis/compute-supervisor/internal/queue"
	"github.com/cybergis/compute-supervisor/internal/resultcache"
	"github.com/cybergis/compute-supervisor/internal/scheduler"
	"github.com/cybergis/compute-supervisor/internal/secretstore"
	"github.com/cybergis/compute-supervisor/internal/shell"
	"github.com/cybergis/compute-supervisor/internal/staging"
	"github.com/cybergis/compute-supervisor/internal/store"
	"github.com/cybergis/compute-supervisor/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the supervisor: admission scheduler plus HTTP submission boundary",
	RunE:  runSupervisor,
}

func init() {
	runCmd.Flags().String("config", "supervisor.yaml", "Path to the cluster configuration file")
	runCmd.Flags().String("addr", ":8080", "HTTP listen address")
	runCmd.Flags().Bool("sqlite", false, "Use a local SQLite store instead of MySQL (for local trials)")
	runCmd.Flags().String("sqlite-path", "supervisor.db", "SQLite database path, used with --sqlite")
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")
	useSQLite, _ := cmd.Flags().GetBool("sqlite")
	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := openStore(cfg, useSQLite, sqlitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	secrets := secretstore.NewRedisStore(redisClient)
	resultCache := resultcache.NewRedisCache(redisClient)
	pool := connpool.New(func() shell.Session { return shell.New() })
	globusClient := globus.New(globus.Config{
		ClientID:     cfg.GlobusClientID,
		ClientSecret: cfg.GlobusClientSecret,
		TokenURL:     cfg.GlobusTokenURL,
		TransferAPI:  cfg.GlobusTransferAPI,
	})
	stagingEngine := staging.New(st, globusClient)
	emitter := events.New(st)
	credGuard := credential.New(secrets, func() shell.Session { return shell.New() })

	order := make([]string, 0, len(cfg.HPCs))
	queues := make(map[string]queue.Queue, len(cfg.HPCs))
	hydrator := storeHydrator{st}
	for name := range cfg.HPCs {
		order = append(order, name)
		queues[name] = queue.NewRedisQueue(redisClient, name, hydrator)
	}

	resolver := &configResolver{cfg: cfg, store: st}
	sched := scheduler.New(
		scheduler.Config{
			TickPeriod:       cfg.QueueConsumePeriod,
			MaintainTick:     cfg.MaintainTick,
			ShutdownDeadline: cfg.ShutdownDeadline,
		},
		order, cfg.HPCs, queues, st, pool, stagingEngine, emitter, secrets, resultCache, resolver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	sweeper, err := maintenance.New()
	if err != nil {
		return fmt.Errorf("build maintenance sweeper: %w", err)
	}
	if err := sweeper.RegisterCredentialSweep(5*time.Minute, st, secrets, order, 15*time.Minute); err != nil {
		return fmt.Errorf("register credential sweep: %w", err)
	}
	sweeper.Start()

	router := httpapi.NewRouter(httpapi.RouterConfig{Store: st, Scheduler: sched, Guard: credGuard, HPCs: cfg.HPCs})
	httpServer := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("listening on %s", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error(err.Error())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(fmt.Sprintf("http server shutdown: %v", err))
	}

	if err := sweeper.Stop(); err != nil {
		log.Error(err.Error())
	}

	cancel()
	sched.Destroy()

	log.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, useSQLite bool, sqlitePath string) (store.Store, error) {
	if useSQLite {
		return store.NewSQLite(sqlitePath)
	}
	return store.NewMySQL(cfg.MySQL.DSN)
}

// storeHydrator adapts store.Store to queue.Hydrator, translating a
// missing row into (nil, nil) so Pop can skip it silently.
type storeHydrator struct{ st store.Store }

func (h storeHydrator) HydrateJob(ctx context.Context, jobID string) (*types.Job, error) {
	job, err := h.st.GetJob(jobID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return job, err
}
