package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deusflow/mynews/internal/app"
	"github.com/deusflow/mynews/internal/config"
	"github.com/deusflow/mynews/internal/logger"
)

const usage = `usage: mynews [-config file] <command> [args]

commands:
  run                   fetch on a schedule until interrupted (default)
  once                  run a single batch
  backfill [-limit N]   compute missing embeddings
  recheck [-limit N]    re-run redundancy detection over recent items
  purge                 delete items past the retention window
  stats [-day DATE]     print daily stats as JSON
  index-backfill [-days N]  push recent vectors into the vector index
`

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $MYNEWS_CONFIG)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cmd, args := "run", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("❌ Startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := run(ctx, a, cfg, cmd, args); err != nil {
		logger.Error("❌ Command failed", "command", cmd, "error", err)
		a.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, cfg *config.Config, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum items to process")
	days := fs.Int("days", 0, "how many days back")
	day := fs.String("day", "", "day as YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hk := a.Housekeeper()
	switch cmd {
	case "run":
		if cfg.Monitoring.Enabled {
			srv := startMonitoringServer(cfg.Monitoring.Addr, a, cfg.Location())
			defer shutdown(srv)
		}
		return a.Run(ctx)
	case "once":
		n, err := a.RunOnce(ctx)
		logger.Info("✅ Batch finished", "created", n)
		return err
	case "backfill":
		n, err := hk.BackfillEmbeddings(ctx, *limit)
		logger.Info("✅ Backfill finished", "embedded", n)
		return err
	case "recheck":
		n, err := hk.RecheckRedundancy(ctx, *limit)
		logger.Info("✅ Recheck finished", "marked", n)
		return err
	case "purge":
		n, err := hk.Purge(ctx)
		logger.Info("✅ Purge finished", "deleted", n)
		return err
	case "index-backfill":
		n, err := hk.IndexBackfill(ctx, *days)
		logger.Info("✅ Index backfill finished", "indexed", n)
		return err
	case "stats":
		when := time.Now()
		if *day != "" {
			d, err := time.ParseInLocation("2006-01-02", *day, cfg.Location())
			if err != nil {
				return fmt.Errorf("invalid -day: %w", err)
			}
			when = d
		}
		st, err := hk.DailyStats(ctx, when)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func startMonitoringServer(addr string, a *app.App, loc *time.Location) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.NewRouter(a.DailyStats, loc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("📈 Monitoring server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Monitoring server error", "error", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("❌ Monitoring server shutdown", "error", err)
	}
}
