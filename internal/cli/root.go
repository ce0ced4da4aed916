// Package cli implements the nexus command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hupe1980/nexus"
	"github.com/hupe1980/nexus/config"
	nexusprom "github.com/hupe1980/nexus/metrics/prometheus"
)

type globalFlags struct {
	dataDir        string
	floor          int
	shardSize      int
	decay          float64
	remote         bool
	backend        string
	bucket         string
	prefix         string
	endpoint       string
	region         string
	logLevel       string
	logJSON        bool
	metricsFile    string
	forceRestore   bool
	mirrorParallel int
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	flags    globalFlags
	cfg      config.Config
	registry *prometheus.Registry
}

// NewRootCommand returns the nexus command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "nexus",
		Short:        "Merge, persist and pack the entity registry",
		SilenceUsage: true,
		Long: `nexus merges harvested entity records into a sharded registry,
persists it locally and to an optional remote store, and packs the result
into a searchable artifact.

Configuration is read from NEXUS_* environment variables; flags override.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return a.writeMetrics()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.dataDir, "data-dir", config.DefaultDataDir, "registry data directory")
	f.IntVar(&a.flags.floor, "floor", config.DefaultRegistryFloor, "minimum trusted baseline size")
	f.IntVar(&a.flags.shardSize, "shard-size", config.DefaultShardSize, "entities per registry shard")
	f.Float64Var(&a.flags.decay, "decay", config.DefaultDecay, "score decay for entities not seen in a pass")
	f.BoolVar(&a.flags.remote, "remote", false, "mirror the registry to the remote store")
	f.BoolVar(&a.flags.forceRestore, "force-restore", false, "load the baseline from the remote store only")
	f.StringVar(&a.flags.backend, "backend", "", "remote backend (s3, minio, local)")
	f.StringVar(&a.flags.bucket, "bucket", "", "remote bucket")
	f.StringVar(&a.flags.prefix, "prefix", config.DefaultRemotePrefix, "remote key prefix")
	f.StringVar(&a.flags.endpoint, "endpoint", "", "remote endpoint, or directory for the local backend")
	f.StringVar(&a.flags.region, "region", "", "remote region")
	f.IntVar(&a.flags.mirrorParallel, "mirror-concurrency", config.DefaultMirrorConcurrency, "parallel remote shard uploads")
	f.StringVar(&a.flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.BoolVar(&a.flags.logJSON, "log-json", false, "emit JSON logs")
	f.StringVar(&a.flags.metricsFile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newAggregateCommand(a),
		newPackCommand(a),
		newVerifyCommand(a),
		newPublishCommand(a),
		newSearchCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) configure(cmd *cobra.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("data-dir") {
		cfg.DataDir = a.flags.dataDir
	}
	if f.Changed("floor") {
		cfg.RegistryFloor = a.flags.floor
	}
	if f.Changed("shard-size") {
		cfg.ShardSize = a.flags.shardSize
	}
	if f.Changed("decay") {
		cfg.Decay = a.flags.decay
	}
	if f.Changed("remote") {
		cfg.Remote.Enabled = a.flags.remote
	}
	if f.Changed("force-restore") {
		cfg.Remote.ForceRestore = a.flags.forceRestore
	}
	if f.Changed("backend") {
		cfg.Remote.Backend = strings.ToLower(a.flags.backend)
	}
	if f.Changed("bucket") {
		cfg.Remote.Bucket = a.flags.bucket
	}
	if f.Changed("prefix") {
		cfg.Remote.Prefix = a.flags.prefix
	}
	if f.Changed("endpoint") {
		cfg.Remote.Endpoint = a.flags.endpoint
	}
	if f.Changed("region") {
		cfg.Remote.Region = a.flags.region
	}
	if f.Changed("mirror-concurrency") {
		cfg.Remote.MirrorConcurrency = a.flags.mirrorParallel
	}
	if cfg.RemoteEnabled() && cfg.Remote.Backend == config.BackendNone {
		cfg.Remote.Backend = config.BackendS3
	}
	a.cfg = cfg
	return nil
}

func (a *app) logger() (*nexus.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.flags.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", a.flags.logLevel)
	}
	if a.flags.logJSON {
		return nexus.NewJSONLogger(level), nil
	}
	return nexus.NewTextLogger(level), nil
}

// open opens the pipeline with logging and, when requested, metrics.
func (a *app) open(ctx context.Context) (*nexus.Nexus, error) {
	log, err := a.logger()
	if err != nil {
		return nil, err
	}
	opts := []nexus.Option{nexus.WithLogger(log)}
	if a.flags.metricsFile != "" {
		a.registry = prometheus.NewRegistry()
		obs, err := nexusprom.NewObserver(a.registry)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nexus.WithMetricsObserver(obs))
	}
	return nexus.Open(ctx, a.cfg, opts...)
}

func (a *app) writeMetrics() error {
	if a.registry == nil || a.flags.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.flags.metricsFile, a.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
