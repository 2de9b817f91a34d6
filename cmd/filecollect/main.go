package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/filecollect/internal/collect"
	"github.com/snarg/filecollect/internal/config"
	"github.com/snarg/filecollect/internal/instancemgr"
	"github.com/snarg/filecollect/internal/metrics"
	"github.com/snarg/filecollect/internal/statusapi"
	"github.com/snarg/filecollect/internal/taskmgr"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.ListenAddr, "listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.ProfileDir, "profile-dir", "", "Directory of task profile JSON files (overrides PROFILE_DIR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("filecollect starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, loadErrs := collect.LoadProfilesFromDir(cfg.ProfileDir)
	for _, e := range loadErrs {
		log.Warn().Err(e).Msg("skipping malformed task profile")
	}
	if len(profiles) == 0 {
		log.Warn().Str("profile_dir", cfg.ProfileDir).Msg("no task profiles loaded, agent will idle")
	}

	mgr := taskmgr.New()
	mgr.OnFinish(func(action collect.TaskAction) {
		taskID := ""
		if action.Profile != nil {
			taskID = action.Profile.TaskID
		}
		log.Info().Str("task_id", taskID).Msg("task submitted terminal action")
	})

	var (
		tasksMu sync.Mutex
		tasks   []*collect.Task
	)

	var wg sync.WaitGroup
	for _, profile := range profiles {
		taskLog := log.With().Str("task_id", profile.TaskID).Logger()
		if err := profile.Validate(); err != nil {
			taskLog.Error().Err(err).Msg("invalid task profile, skipping")
			continue
		}

		task := collect.New(profile, mgr, cfg.DefaultTimeZone, taskLog)

		queueSize := profile.FileMaxNum
		instances := instancemgr.New(profile.TaskID, queueSize, taskLog)
		if err := task.Init(ctx, instances); err != nil {
			taskLog.Error().Err(err).Msg("task init failed, skipping")
			continue
		}

		tasksMu.Lock()
		tasks = append(tasks, task)
		tasksMu.Unlock()

		wg.Add(1)
		go func(t *collect.Task) {
			defer wg.Done()
			t.Run(ctx)
		}(task)

		taskLog.Info().Strs("patterns", profile.Patterns()).Bool("retry", profile.TaskRetry).Msg("task started")
	}

	snapshotSource := func() []collect.TaskSnapshot {
		tasksMu.Lock()
		defer tasksMu.Unlock()
		snaps := make([]collect.TaskSnapshot, 0, len(tasks))
		for _, t := range tasks {
			snaps = append(snaps, t.Snapshot())
		}
		return snaps
	}

	statsSource := func() []metrics.TaskStats {
		tasksMu.Lock()
		defer tasksMu.Unlock()
		stats := make([]metrics.TaskStats, 0, len(tasks))
		for _, t := range tasks {
			stats = append(stats, t)
		}
		return stats
	}
	prometheus.MustRegister(metrics.NewCollector(statsSource))

	httpLog := log.With().Str("component", "http").Logger()
	srv := statusapi.NewServer(statusapi.ServerOptions{
		ListenAddr: cfg.ListenAddr,
		StartTime:  startTime,
		Tasks:      snapshotSource,
		Log:        httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Int("tasks", len(tasks)).
		Msg("filecollect ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("status api server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasksMu.Lock()
	for _, t := range tasks {
		t.Destroy(shutdownCtx)
	}
	tasksMu.Unlock()
	wg.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status api shutdown error")
	}

	log.Info().Msg("filecollect stopped")
}
