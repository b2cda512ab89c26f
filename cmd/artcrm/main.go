package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artcrm/internal/calendar"
	"artcrm/internal/config"
	"artcrm/internal/ics"
	"artcrm/internal/jobs"
	appLog "artcrm/internal/log"
	"artcrm/internal/schedule"
	"artcrm/internal/store"
	"artcrm/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	once       bool
	migrate    bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envPath); err != nil {
		appLog.Error("failed to load .env", err, "path", flags.envPath)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := conf.ApplyEnv(os.LookupEnv); err != nil {
		appLog.Error("invalid environment override", err)
		os.Exit(1)
	}

	// CLI --listen overrides config file and environment if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if conf.RolloverCron != "" {
		if err := jobs.ValidateSchedule(conf.RolloverCron); err != nil {
			appLog.Error("invalid rollover_cron", err, "rollover_cron", conf.RolloverCron)
			os.Exit(1)
		}
	}

	level, _ := appLog.ParseLevel(conf.LogLevel)
	appLog.SetLevel(level)
	appLog.Info("artcrm starting", "version", version)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database_path", conf.DatabasePath,
		"rollover_cron", conf.RolloverCron,
		"default_pattern_name", conf.DefaultPatternName,
		"max_occurrences_per_event", conf.MaxOccurrencesPerEvent,
		"expand_workers", conf.ExpandWorkers,
		"basic_auth", conf.BasicAuth != nil,
		"once", flags.once,
		"migrate", flags.migrate,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("artcrm exited with error", err)
		os.Exit(1)
	}
	appLog.Info("artcrm exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	db, err := store.Open(conf.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		return err
	}
	if flags.migrate {
		return nil
	}

	svc, err := newService(ctx, db, conf, loc)
	if err != nil {
		return err
	}

	rollover := jobs.NewRollover(svc, loc, nil)
	if flags.once {
		_, err := rollover.RunOnce(ctx)
		return err
	}
	if conf.RolloverCron != "" {
		if err := rollover.Start(conf.RolloverCron); err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			rollover.Stop(stopCtx)
		}()
	}

	srv := web.NewServer(conf, svc, ics.NewFetcher(nil))
	return srv.Run(ctx)
}

// newService wires the repositories, resolver and calendar service, and
// seeds the default pattern.
func newService(ctx context.Context, db *sql.DB, conf *config.Config, loc *time.Location) (*calendar.Service, error) {
	patterns := store.NewPatternRepository(db)
	months := store.NewMonthScheduleRepository(db, loc)
	resolver := schedule.NewResolver(patterns, months, conf.DefaultPatternName)

	if _, err := resolver.EnsureDefaultPattern(ctx); err != nil {
		return nil, err
	}

	return calendar.NewService(calendar.Stores{
		Users:     store.NewUserRepository(db, loc),
		Events:    store.NewEventRepository(db, loc),
		Overrides: store.NewOverrideRepository(db, loc),
		Patterns:  patterns,
		Days:      months,
	}, resolver, calendar.Options{
		Location:               loc,
		MaxOccurrencesPerEvent: conf.MaxOccurrencesPerEvent,
		Workers:                conf.ExpandWorkers,
	}), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./artcrm.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional .env file with ARTCRM_* overrides")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one month rollover and exit")
	flag.BoolVar(&cfg.migrate, "migrate", false, "Apply database migrations and exit")

	flag.Parse()

	return cfg
}
