// Command emulator simulates a fleet of IoT sensors publishing telemetry to a
// message queue. Sensors whose type matches the fault-injection type send a
// deliberately broken payload instead of JSON.
//
// Usage example: emulator --config config.json --listen :9100
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Uranury/IotGo-emulator/config"
	"github.com/Uranury/IotGo-emulator/emulator"
	"github.com/Uranury/IotGo-emulator/logger"
	"github.com/Uranury/IotGo-emulator/monitor"
	"github.com/Uranury/IotGo-emulator/queue"
	"github.com/Uranury/IotGo-emulator/sink"
)

const closeGrace = 250 * time.Millisecond

var examples = `  emulator
  emulator --config ./config.json
  emulator -c sensors.yaml --listen :9100 --log-level debug`

type options struct {
	configPath string
	listenAddr string
	logLevel   string
	logFormat  string
	logFile    string
	envLoaded  bool
}

func main() {
	// .env only fills variables that are not already set.
	envErr := godotenv.Load()
	if err := newCommand(envErr == nil).Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand(envLoaded bool) *cobra.Command {
	opts := &options{envLoaded: envLoaded}
	c := &cobra.Command{
		Use:           "emulator",
		Short:         "IoT sensor emulator",
		Long:          "Simulates IoT sensors that periodically publish readings to a message queue.",
		Example:       examples,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := c.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.json", "Path to the configuration file (json, yaml or toml).")
	f.StringVar(&opts.listenAddr, "listen", getEnv("MONITOR_ADDR", ""), "Address of the monitor HTTP server; empty disables it.")
	f.StringVar(&opts.logLevel, "log-level", getEnv("LOG_LEVEL", logger.DefaultLogLevel), "Log level: debug, info, warn or error.")
	f.StringVar(&opts.logFormat, "log-format", getEnv("LOG_FORMAT", logger.DefaultLogFormat), "Log format: console or json.")
	f.StringVar(&opts.logFile, "log-file", getEnv("LOG_FILE", ""), "Also write logs to this file, rotated.")
	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func run(parent context.Context, opts *options) error {
	log, err := logger.New(&logger.Config{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		File:   logger.FileConfig{Filename: opts.logFile},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: configure logger: %v\n", err)
		return err
	}
	defer func() { _ = log.Sync() }()

	if !opts.envLoaded {
		log.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("failed to load config", zap.String("path", opts.configPath), zap.Error(err))
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender, err := queue.New(ctx, cfg.QueueURL, queue.Options{
		Region:      cfg.Region,
		EndpointURL: cfg.EndpointURL,
		Logger:      log.Named("queue"),
	})
	if err != nil {
		log.Error("failed to create queue sender", zap.String("queue_url", cfg.QueueURL), zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	poolOpts := []emulator.Option{
		emulator.WithLogger(log.Named("sensor")),
		emulator.WithMetrics(emulator.NewMetrics(reg)),
	}

	if cfg.Influx != nil {
		mirror := sink.NewInflux(cfg.Influx, log.Named("influx"))
		defer mirror.Close()
		poolOpts = append(poolOpts, emulator.WithRecorder(mirror))
		log.Info("mirroring readings to influxdb", zap.String("url", cfg.Influx.URL), zap.String("bucket", cfg.Influx.Bucket))
	}

	g, gctx := errgroup.WithContext(ctx)

	if opts.listenAddr != "" {
		hub := monitor.NewHub(log.Named("monitor"))
		poolOpts = append(poolOpts, emulator.WithRecorder(hub))
		srv := monitor.NewServer(opts.listenAddr, cfg, hub, reg, log.Named("monitor"))
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return srv.Run(gctx) })
	}

	pool := emulator.NewPool(cfg, sender, poolOpts...)
	g.Go(func() error { return pool.Run(gctx) })
	defer func() {
		// The sender is only closed when no send is in flight anymore.
		select {
		case <-pool.Done():
			_ = sender.Close()
		case <-time.After(closeGrace):
			log.Warn("exiting with sends in flight")
		}
	}()

	if err := g.Wait(); err != nil {
		log.Error("emulator stopped with error", zap.Error(err))
		return err
	}
	log.Info("simulation stopped by user")
	return nil
}
