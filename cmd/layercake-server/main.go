// Command layercake-server is the thin operable entry point around the
// plan DAG subsystem: it wires a configured entity store, event bus and
// DAG executor together and exposes serve/migrate/replay verbs. serve
// starts the executor and event bus and blocks until interrupted, ready
// for a transport layer to be attached in front of it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kataras/golog"
	"github.com/spf13/cobra"

	"github.com/layercake/layercake/pkg/config"
	"github.com/layercake/layercake/pkg/eventbus"
	"github.com/layercake/layercake/pkg/executor"
	"github.com/layercake/layercake/pkg/graphdata"
	lclog "github.com/layercake/layercake/pkg/log"
	"github.com/layercake/layercake/pkg/nodeexec"
	"github.com/layercake/layercake/pkg/render"
	"github.com/layercake/layercake/pkg/store"
	"github.com/layercake/layercake/pkg/store/badger"
	"github.com/layercake/layercake/pkg/store/memory"
	"github.com/layercake/layercake/pkg/store/postgres"
	"github.com/layercake/layercake/pkg/store/redis"
	"github.com/layercake/layercake/pkg/store/sqlite"
)

var (
	version    = "0.1.0"
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "layercake-server",
		Short: "Layercake plan DAG engine",
		Long: `layercake-server wires the entity store, DAG executor and event bus
and exposes serve/migrate/replay verbs. HTTP/GraphQL/WebSocket framing
and authentication are expected to sit in front of this process.`,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (overrides LAYERCAKE_* env vars)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("layercake-server v%s\n", version)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the executor and event bus",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Open the configured store, creating its schema if absent",
		RunE:  runMigrate,
	}
	rootCmd.AddCommand(migrateCmd)

	replayCmd := &cobra.Command{
		Use:   "replay [graph-data-id]",
		Short: "Replay the edit journal for a computed graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	rootCmd.AddCommand(replayCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) lclog.Logger {
	g := golog.New()
	l := lclog.NewGologLogger(g)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		l.SetLevel(lclog.LevelDebug)
	case "warn":
		l.SetLevel(lclog.LevelWarn)
	case "error":
		l.SetLevel(lclog.LevelError)
	default:
		l.SetLevel(lclog.LevelInfo)
	}
	return l
}

// openStore constructs the entity store named by cfg.Backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	case config.BackendRedis:
		return redis.New(redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix}), nil
	case config.BackendBadger:
		return badger.Open(cfg.BadgerDir)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}
	defer st.Close()
	fmt.Printf("%s store ready (schema created if absent)\n", cfg.Backend)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}
	defer st.Close()

	bus := eventbus.New(cfg.EventBusCapacity, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go bus.Run(ctx)

	gdSvc := graphdata.New(st, logger)
	nc := &nodeexec.Context{Ctx: ctx, Store: st, GraphData: gdSvc, Renderer: render.New(), RootPath: cfg.ImportExportRoot}
	exec := executor.New(st, bus, nc, logger)
	_ = exec // the executor is driven by ExecutePlan calls from the (out-of-scope) transport layer

	logger.Info("layercake-server listening (backend=%s, worker_pool_size=%d)", cfg.Backend, cfg.WorkerPoolSize)
	<-ctx.Done()
	logger.Info("shutting down")
	<-bus.Done()
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Backend, err)
	}
	defer st.Close()

	var graphID int64
	if _, err := fmt.Sscanf(args[0], "%d", &graphID); err != nil {
		return fmt.Errorf("invalid graph-data id %q: %w", args[0], err)
	}

	svc := graphdata.New(st, logger)
	gd, err := svc.ReplayEdits(cmd.Context(), graphID)
	if err != nil {
		return fmt.Errorf("replaying graph %d: %w", graphID, err)
	}
	fmt.Printf("replayed graph %d: pending=%v last_replay_at=%s\n", gd.ID, gd.HasPendingEdits, gd.LastReplayAt)
	return nil
}
