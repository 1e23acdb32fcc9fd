package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"statical/internal/aggregate"
	"statical/internal/config"
	"statical/internal/ics"
	appLog "statical/internal/log"
	"statical/internal/model"
	"statical/internal/scheduler"
	"statical/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	once       bool
	out        string
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnvFile(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		os.Exit(1)
	}
	if lvl := config.LogLevel(); lvl != "" {
		appLog.SetLevel(appLog.ParseLevel(lvl))
	}
	defer appLog.Sync()

	appLog.Info("statical starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := scheduler.Validate(conf.RefreshCron); err != nil {
		appLog.Error("invalid refresh schedule", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"backfill_days", conf.BackfillDays,
		"horizon_days", conf.HorizonDays,
		"workers", conf.Workers,
		"source_count", len(conf.Sources),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	service, err := newService(conf)
	if err != nil {
		appLog.Error("failed to build sources", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runOnce(ctx, service, flags.out); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	// Initial refresh; the server starts even if it fails and the next
	// scheduled run retries.
	if _, err := service.Refresh(ctx); err != nil {
		appLog.Error("initial refresh failed", err)
	}

	sched := scheduler.New(conf.RefreshCron, conf.Location(), scheduler.RefreshFunc(func(ctx context.Context) error {
		_, err := service.Refresh(ctx)
		return err
	}))
	go func() {
		if err := sched.Start(ctx); err != nil {
			appLog.Error("scheduler failed", err)
			cancel()
		}
	}()

	srv := web.NewServer(conf, service)
	if err := srv.ListenAndServe(ctx); err != nil {
		appLog.Error("http server failed", err)
		cancel()
	}

	// Give the scheduler time to finish a running job.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("statical exiting")
}

func newService(conf *config.Config) (*aggregate.Service, error) {
	fetcher := ics.NewFetcher(conf.CacheDir, conf.RunTimeout())
	sources, err := aggregate.SourcesFromConfig(conf, fetcher)
	if err != nil {
		return nil, err
	}
	runner := aggregate.NewRunner(aggregate.OptionsFromConfig(conf))
	window := func(now time.Time) model.TimeRange {
		return model.NewTimeRange(conf.Window(now))
	}
	return aggregate.NewService(runner, sources, window, conf.RunTimeout()), nil
}

// runOnce performs a single aggregation and writes the view model as JSON to
// out, or to stdout when out is empty.
func runOnce(ctx context.Context, service *aggregate.Service, out string) error {
	res, err := service.Refresh(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(web.BuildView(res), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	appLog.Info("view written", "path", out, "days", len(res.Index.Days()), "warnings", len(res.Warnings))
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/statical/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Path to .env file with STATICAL_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one aggregation, write the view and exit")
	flag.StringVar(&cfg.out, "out", "", "Output file for -once (default stdout)")

	flag.Parse()

	return cfg
}
