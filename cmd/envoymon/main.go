package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/envoymon/internal/config"
	"codeberg.org/mutker/envoymon/internal/coordinator"
	"codeberg.org/mutker/envoymon/internal/diagnostics"
	"codeberg.org/mutker/envoymon/internal/envoy"
	"codeberg.org/mutker/envoymon/internal/logger"
	"codeberg.org/mutker/envoymon/internal/metrics"
	"codeberg.org/mutker/envoymon/internal/pid"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	client, err := envoy.NewClient(envoy.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize gateway client")
	}

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write PID file")
	}

	if err := run(client); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}

	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}

func run(client *envoy.Client) error {
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics
	if cfg.MetricsDB != "" {
		metricsCfg.DBPath = cfg.MetricsDB
	}

	collector, err := metrics.NewService(metricsCfg, logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close metrics collector")
		}
	}()

	coord, err := coordinator.New(coordinator.Config{
		Fetcher: client,
		Period:  time.Duration(cfg.Interval) * time.Second,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	})
	if err != nil {
		return err
	}

	coord.Subscribe(metrics.NewRecorder(collector))
	coord.Subscribe(&statusLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel, coord)

	if err := coord.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	coord.Stop()

	return nil
}

func handleSignals(ctx context.Context, cancel context.CancelFunc, coord *coordinator.Coordinator) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			if sig == syscall.SIGUSR1 {
				dumpDiagnostics(coord)
				continue
			}

			logger.Info().Msg("Received termination signal.")
			cancel()

			return
		}
	}
}

// dumpDiagnostics writes a redacted diagnostics report to stderr on SIGUSR1.
func dumpDiagnostics(coord *coordinator.Coordinator) {
	report := diagnostics.Build(cfg, coord.Status())
	data, err := report.JSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to render diagnostics")
		return
	}

	fmt.Fprintln(os.Stderr, string(data))
}

// statusLogger logs each successful poll cycle. One consolidated line per
// snapshot when verbose, plus a line per published metric when debugging.
type statusLogger struct{}

func (*statusLogger) OnSnapshot(snapshot *envoy.Snapshot) {
	if !cfg.Debug && !cfg.Verbose {
		return
	}

	event := logger.Info().Event
	for _, desc := range envoy.Descriptors() {
		value, ok := desc.Read(snapshot)
		if !ok {
			continue
		}

		if number, isNumber := value.Number(); isNumber {
			event.Float64(string(desc.Key), number)
			continue
		}
		event.Str(string(desc.Key), value.String())
	}
	event.Msg("")
}

func (*statusLogger) OnMetric(key envoy.Key, value envoy.Value) {
	if !cfg.Debug {
		return
	}

	logger.Debug().Str("metric", string(key)).Str("value", value.String()).Msg("")
}
