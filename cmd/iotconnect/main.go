// Package main is the entry point for iotconnect, a tool that builds a
// broker connection configuration from a YAML file and optionally dials it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath   string
	logLevel     string
	logFormat    string
	metricsAddr  string
	otlpEndpoint string
	dialTimeout  time.Duration
	dialRetries  int
	dial         bool
	watch        bool
	showVersion  bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger, err := initLogger(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, logger); err != nil {
		logger.Error("iotconnect failed", observability.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}

// parseFlags parses command line flags. Environment variables supply the
// defaults.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("iotconnect", flag.ContinueOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("IOTCONNECT_CONFIG_PATH", "configs/device.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("IOTCONNECT_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("IOTCONNECT_LOG_FORMAT", "json"),
		"Log format (json, console)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", getEnvOrDefault("IOTCONNECT_METRICS_ADDR", ""),
		"Address for the Prometheus metrics endpoint; empty disables it")
	fs.StringVar(&f.otlpEndpoint, "otlp-endpoint", getEnvOrDefault("IOTCONNECT_OTLP_ENDPOINT", ""),
		"OTLP gRPC endpoint for traces; empty disables export")
	fs.DurationVar(&f.dialTimeout, "timeout", getEnvDuration("IOTCONNECT_DIAL_TIMEOUT", 10*time.Second),
		"Timeout for a single dial attempt")
	fs.IntVar(&f.dialRetries, "retries", getEnvInt("IOTCONNECT_DIAL_RETRIES", 3),
		"Dial retries after the first attempt")
	fs.BoolVar(&f.dial, "dial", getEnvBool("IOTCONNECT_DIAL", false),
		"Dial the broker and complete the TLS or WebSocket handshake")
	fs.BoolVar(&f.watch, "watch", getEnvBool("IOTCONNECT_WATCH", false),
		"Rebuild when the configuration or certificate files change")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if f.dialTimeout <= 0 {
		fmt.Fprintln(fs.Output(), "-timeout must be positive")
		return cliFlags{}, errInvalidFlag
	}
	return f, nil
}

var errInvalidFlag = errors.New("invalid flag value")

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "iotconnect version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger and installs it globally.
func initLogger(flags cliFlags) (observability.Logger, error) {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		return nil, err
	}

	observability.SetGlobalLogger(logger)
	return logger, nil
}

// run builds the connection configuration, dials it when asked, and keeps
// rebuilding on file changes in watch mode until ctx is done.
func run(ctx context.Context, flags cliFlags, logger observability.Logger) error {
	logger.Info("starting iotconnect",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	app, err := newApplication(flags, logger)
	if err != nil {
		return err
	}
	defer app.shutdown()

	if err := app.loadConfig(); err != nil {
		return err
	}

	if err := app.apply(ctx); err != nil {
		return err
	}

	if !flags.watch {
		return nil
	}

	if err := app.startWatchers(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("received shutdown signal")
	return nil
}
