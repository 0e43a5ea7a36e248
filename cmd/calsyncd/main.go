package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata" // feeds reference IANA timezones the host may lack

	"github.com/urfave/cli/v2"

	"calsync/internal/config"
	"calsync/internal/fetcher"
	"calsync/internal/scheduler"
	"calsync/internal/storage"
	"calsync/internal/sync"
	"calsync/internal/transform"
)

func main() {
	app := &cli.App{
		Name:  "calsyncd",
		Usage: "calendar feed synchronization daemon",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the periodic sync daemon",
				Action: runDaemon,
			},
			{
				Name:  "sync",
				Usage: "run one sync round, or one source with --source",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "source", Usage: "sync only this source id"},
				},
				Action: runSync,
			},
			{
				Name:  "dryrun",
				Usage: "execute a transformation program against a sample event",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "program", Usage: "path to the program file", Required: true},
				},
				Action: runDryRun,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *slog.Logger, *storage.SQLite, *sync.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}
	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	f := fetcher.New(&http.Client{Timeout: cfg.HTTPTimeout})
	f.SetMaxBodyBytes(cfg.MaxBodyBytes)
	engine := sync.New(store, f, log)

	return cfg, log, store, engine, nil
}

func runDaemon(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, store, engine, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	log.Info("starting sync daemon", "schedule", cfg.SyncSchedule)
	sched := scheduler.New(engine, cfg.SyncSchedule, log)
	if err := sched.Run(ctx); err != nil {
		return err
	}
	log.Info("daemon stopped")
	return nil
}

func runSync(c *cli.Context) error {
	ctx := context.Background()
	_, log, store, engine, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if id := c.Int64("source"); id != 0 {
		changed, err := engine.SyncOne(ctx, id)
		if err != nil {
			return fmt.Errorf("sync source %d: %w", id, err)
		}
		log.Info("source synced", "source_id", id, "changed", changed)
		return nil
	}

	results, err := engine.SyncAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("sync round finished with failures")
		}
	}
	return nil
}

func runDryRun(c *cli.Context) error {
	program, err := os.ReadFile(c.String("program"))
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	ev, skip, err := transform.DryRun(string(program), time.Now())
	if err != nil {
		return fmt.Errorf("dry run: %w", err)
	}

	out := struct {
		Skip  bool `json:"skip"`
		Event any  `json:"event"`
	}{Skip: skip, Event: ev}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
