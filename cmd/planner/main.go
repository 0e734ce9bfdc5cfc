package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"dayplanner/internal/capture"
	"dayplanner/internal/config"
	"dayplanner/internal/drag"
	"dayplanner/internal/ics"
	appLog "dayplanner/internal/log"
	"dayplanner/internal/metrics"
	"dayplanner/internal/notify"
	"dayplanner/internal/planner"
	"dayplanner/internal/reminder"
	"dayplanner/internal/store"
	"dayplanner/internal/store/postgres"
	"dayplanner/internal/timecoord"
	"dayplanner/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	snapshot   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("dayplanner starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"horizon_days", conf.HorizonDays,
		"ics_count", len(conf.ICS),
		"postgres", conf.Postgres != nil,
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("dayplanner failed", err)
		os.Exit(1)
	}
	appLog.Info("dayplanner exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	loc := conf.Location()

	events, closeEvents, err := openEventStore(ctx, conf)
	if err != nil {
		return err
	}
	defer closeEvents()

	spool, err := notify.OpenSpool(conf.SpoolPath)
	if err != nil {
		return fmt.Errorf("open reminder spool: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := metrics.NewPrometheusSink(reg)

	scheduler := reminder.New(reminder.Config{
		HorizonDays: conf.HorizonDays,
		Snooze:      time.Duration(conf.SnoozeMinutes) * time.Minute,
		Location:    loc,
	}, spool, events, sink)
	scheduler.Listen(spool)

	spool.OnDelivered(func(d notify.Delivery) {
		sink.ReminderDelivered()
		appLog.Info("reminder delivered",
			"id", d.Record.NotificationID,
			"event_id", d.Record.EventID,
			"title", d.Record.Content.Title,
			"trigger", d.Record.TriggerInstant.Format(time.RFC3339),
		)
	})

	feeds := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		feeds = append(feeds, ics.Source{ID: c.ID, URL: c.URL})
	}

	svc := planner.New(planner.Options{
		Events:    events,
		Settings:  store.NewSettingsFile(conf.SettingsPath),
		Backend:   spool,
		Reminders: scheduler,
		Deliverer: spool,
		Fetcher:   ics.NewFetcher(conf.CacheDir, nil),
		Feeds:     feeds,
		Drag: drag.Config{
			Scale:       timecoord.Scale{PixelsPerHour: conf.PixelsPerHour},
			ThresholdPx: conf.DragThresholdPx,
			SnapMinutes: conf.SnapMinutes,
		},
		Metrics:  sink,
		Location: loc,
	})

	// A failed refresh is not fatal; the cron job retries.
	if summary, err := svc.Refresh(ctx); err != nil {
		appLog.Error("initial refresh failed", err,
			"registered", summary.Registered, "failed", summary.Failed)
	}
	if flags.once {
		return nil
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(conf.ReconcileCron, func() {
		if _, err := svc.Refresh(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconcile: %w", err)
	}
	if _, err := c.AddFunc(conf.DeliverCron, func() {
		if _, err := spool.DeliverDue(time.Now()); err != nil {
			appLog.Error("reminder delivery failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule delivery: %w", err)
	}

	var gatherer prometheus.Gatherer
	if conf.Metrics {
		gatherer = reg
	}
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, svc, gatherer).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind before serving so a snapshot never races the listener.
	ln, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		<-c.Stop().Done()
		return fmt.Errorf("listen %s: %w", conf.Listen, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if flags.snapshot != "" {
		err := snapshot(ctx, conf, flags.snapshot)
		shutdown(srv)
		return err
	}

	c.Start()
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-serveErr:
		if err != nil {
			<-c.Stop().Done()
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Let an in-flight reconcile finish before the stores close.
	<-c.Stop().Done()
	shutdown(srv)
	return nil
}

func openEventStore(ctx context.Context, conf *config.Config) (store.EventStore, func(), error) {
	if conf.Postgres == nil {
		appLog.Info("using yaml event store", "path", conf.EventsPath)
		return store.NewEventFile(conf.EventsPath), func() {}, nil
	}
	pg, err := postgres.Connect(ctx, conf.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	appLog.Info("using postgres event store")
	return pg, pg.Close, nil
}

func snapshot(ctx context.Context, conf *config.Config, path string) error {
	opts := capture.Options{
		BaseURL: "http://" + loopback(conf.Listen),
		Width:   conf.Snapshot.Width,
		Height:  conf.Snapshot.Height,
	}
	if conf.BasicAuth != nil {
		opts.Username = conf.BasicAuth.Username
		opts.Password = conf.BasicAuth.Password
	}
	if err := capture.WriteDayPNG(ctx, opts, path); err != nil {
		return err
	}
	appLog.Info("snapshot written", "path", path)
	return nil
}

// loopback turns a listen address such as ":8080" into one a local
// browser can dial.
func loopback(listen string) string {
	if len(listen) > 0 && listen[0] == ':' {
		return "127.0.0.1" + listen
	}
	return listen
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLog.Error("http server shutdown failed", err)
	}
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Sync feeds and reconcile reminders once, then exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of today's timeline to this path and exit")

	flag.Parse()

	return cfg
}
