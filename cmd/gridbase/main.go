// Package main implements the gridbase server binary. It opens the
// database, runs the maintenance scheduler and serves the gRPC health
// endpoint until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gridbase/gridbase/internal/app"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		grpcAddr    string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC health endpoint address")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gridbase - tables, fields, rows and trash on SQLite\n\n")
		fmt.Fprintf(os.Stderr, "Usage: gridbase [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  GRIDBASE_DATA_DIR                Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  GRIDBASE_TRASH_RETENTION_HOURS   Hours before trash is purged\n")
		fmt.Fprintf(os.Stderr, "  GRIDBASE_DATA_SYNC_INTERVAL      Minimum age of a data sync before refresh\n")
		fmt.Fprintf(os.Stderr, "  GRIDBASE_GRPC_ADDR               gRPC health endpoint address\n")
		fmt.Fprintf(os.Stderr, "  GRIDBASE_STORAGE_TYPE            Storage type (local, s3)\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("gridbase version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, grpcAddr, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(os.Stderr, cfg.LogLevel)
	log := logging.For("main")

	application, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start application")
	}
	log.WithField("version", version).Info("gridbase running")

	if err := application.Wait(ctx); err != nil {
		log.WithError(err).Error("shutdown error")
		os.Exit(1)
	}
	log.Info("gridbase stopped")
}

// loadConfig applies, in increasing priority, defaults or the config file,
// the environment and the command line flags.
func loadConfig(configFile, dataDir, grpcAddr, logLevel string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if grpcAddr != "" {
		cfg.GRPC.Addr = grpcAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}
