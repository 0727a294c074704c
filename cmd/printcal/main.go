package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"printcal/internal/agenda"
	"printcal/internal/config"
	"printcal/internal/job"
	appLog "printcal/internal/log"
	"printcal/internal/web"
)

const version = "1.0.0"

// flagConfig holds CLI flag values; they override the loaded config.
type flagConfig struct {
	configPath string
	once       bool
	date       string
	output     string
	format     string
	listen     string
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fatal("failed to load config", err, "config_path", flags.configPath)
	}
	applyFlags(conf, flags)

	level, _ := appLog.ParseLevel(conf.LogLevel)
	appLog.SetLevel(level)
	appLog.Info("printcal starting", "version", version)

	var day *agenda.Date
	if flags.date != "" {
		d, err := agenda.ParseDate(flags.date)
		if err != nil {
			return fatal("invalid -date", fmt.Errorf("%w: %v", config.ErrInvalidConfig, err))
		}
		day = &d
	}

	j, err := job.New(job.Options{Config: conf, Day: day})
	if err != nil {
		return fatal("invalid configuration", err, "config_path", flags.configPath)
	}

	appLog.Info("effective config",
		"title", conf.Title,
		"timezone", conf.Timezone,
		"feeds", len(conf.Sources()),
		"strategy", conf.Strategy,
		"format", conf.Render.Format,
		"delivery", conf.Delivery.Method,
		"schedule", conf.Schedule,
		"listen", conf.Listen,
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

	if flags.once || conf.Schedule == "" {
		sum, err := j.Run(ctx)
		fmt.Println(sum.Line(err))
		if err != nil {
			return 1
		}
		return 0
	}

	return runScheduled(ctx, j, conf)
}

// runScheduled runs the job on conf.Schedule until ctx is cancelled. Runs
// never overlap; a tick that fires while the previous run is still busy is
// skipped.
func runScheduled(ctx context.Context, j *job.Job, conf *config.Config) int {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(j.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(conf.Schedule, func() {
		sum, err := j.Run(ctx)
		fmt.Println(sum.Line(err))
	}); err != nil {
		return fatal("invalid schedule", fmt.Errorf("%w: %v", config.ErrInvalidConfig, err), "schedule", conf.Schedule)
	}

	if conf.Listen != "" {
		srv := web.NewServer(j, conf.BasicAuth)
		go func() {
			if err := srv.Serve(ctx, conf.Listen); err != nil {
				appLog.Error("HTTP server stopped", err, "listen", conf.Listen)
			}
		}()
	}

	c.Start()
	appLog.Info("scheduler started", "schedule", conf.Schedule, "timezone", j.Location().String())

	<-ctx.Done()

	// Wait for a run in progress to finish before exiting.
	<-c.Stop().Done()
	appLog.Info("printcal exiting")
	return 0
}

func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.output != "" {
		conf.Delivery.Method = config.MethodFile
		conf.Delivery.OutputPath = flags.output
	}
	if flags.format != "" {
		// Re-derive the default output name for the new extension.
		if conf.Delivery.OutputPath == "agenda-{date}."+conf.Render.Format {
			conf.Delivery.OutputPath = ""
		}
		conf.Render.Format = strings.ToLower(flags.format)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
}

// fatal logs a run-aborting error, prints the terminal summary line and
// returns the exit code.
func fatal(msg string, err error, kv ...any) int {
	appLog.Error(msg, err, kv...)
	kind := "error"
	switch {
	case errors.Is(err, config.ErrConfigurationMissing):
		kind = "configuration missing"
	case errors.Is(err, config.ErrInvalidConfig):
		kind = "invalid configuration"
	}
	fmt.Printf("printcal: FAILED (%s): %v\n", kind, err)
	return 1
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", os.Getenv("PRINTCAL_CONFIG"), "Path to YAML config file (empty: defaults and environment only)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render+deliver cycle and exit, even if a schedule is configured")
	flag.StringVar(&cfg.date, "date", "", "Agenda date YYYY-MM-DD (default: today in the configured timezone)")
	flag.StringVar(&cfg.output, "output", "", "Write the document to this path instead of the configured delivery")
	flag.StringVar(&cfg.format, "format", "", "Output format: pdf or html (overrides config)")
	flag.StringVar(&cfg.listen, "listen", "", "Preview HTTP listen address in scheduled mode (overrides config)")

	flag.Parse()

	return cfg
}

// cronLogger routes robfig/cron's logging into the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
