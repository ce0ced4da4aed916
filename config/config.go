// Package config holds the run configuration of a nexus pipeline.
//
// A Config is an explicit value handed to constructors. FromEnv reads the
// NEXUS_* environment; callers may override any field before Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Remote backend names.
const (
	BackendNone  = ""
	BackendS3    = "s3"
	BackendMinIO = "minio"
	BackendLocal = "local"
)

// Defaults.
const (
	DefaultDataDir            = "data"
	DefaultPackDir            = "dist"
	DefaultRegistryFloor      = 85_000
	DefaultShardSize          = 25_000
	DefaultRemotePrefix       = "meta/backup/"
	DefaultMirrorConcurrency  = 1
	DefaultDecay              = 0.95
	DefaultBundleThreshold    = 50 * 1024
	DefaultBundleMaxShardSize = 256 << 20
	DefaultBundleMaxShards    = 64
)

// Remote configures the remote object store.
type Remote struct {
	Enabled bool
	Backend string
	Bucket  string
	Prefix  string
	// Endpoint is the S3-compatible endpoint for minio, or the directory
	// for the local backend.
	Endpoint string
	Region   string
	// RateLimit caps remote operations per second. Zero is unlimited.
	RateLimit float64
	// Bandwidth caps transferred bytes per second. Zero is unlimited.
	Bandwidth int64
	// MirrorConcurrency bounds parallel shard uploads.
	MirrorConcurrency int
	// ForceRestore makes loads skip local sources.
	ForceRestore bool
}

// Bundle configures the packer's bundle shards.
type Bundle struct {
	Threshold     int
	MaxShardBytes int64
	MaxShards     int
}

// Config is the full run configuration.
type Config struct {
	DataDir       string
	PackDir       string
	RegistryFloor int
	ShardSize     int
	Decay         float64
	Remote        Remote
	Bundle        Bundle
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		DataDir:       DefaultDataDir,
		PackDir:       DefaultPackDir,
		RegistryFloor: DefaultRegistryFloor,
		ShardSize:     DefaultShardSize,
		Decay:         DefaultDecay,
		Remote: Remote{
			Prefix:            DefaultRemotePrefix,
			MirrorConcurrency: DefaultMirrorConcurrency,
		},
		Bundle: Bundle{
			Threshold:     DefaultBundleThreshold,
			MaxShardBytes: DefaultBundleMaxShardSize,
			MaxShards:     DefaultBundleMaxShards,
		},
	}
}

// FromEnv returns Default overlaid with the NEXUS_* environment.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := env{lookup: lookup}

	e.strVar("NEXUS_DATA_DIR", &c.DataDir)
	e.strVar("NEXUS_PACK_DIR", &c.PackDir)
	e.intVar("NEXUS_REGISTRY_FLOOR", &c.RegistryFloor)
	e.intVar("NEXUS_SHARD_SIZE", &c.ShardSize)
	e.floatVar("NEXUS_DECAY", &c.Decay)

	e.boolVar("NEXUS_ENABLE_REMOTE_BACKUP", &c.Remote.Enabled)
	e.boolVar("NEXUS_FORCE_REMOTE_RESTORE", &c.Remote.ForceRestore)
	e.strVar("NEXUS_REMOTE_BACKEND", &c.Remote.Backend)
	e.strVar("NEXUS_REMOTE_BUCKET", &c.Remote.Bucket)
	e.strVar("NEXUS_REMOTE_PREFIX", &c.Remote.Prefix)
	e.strVar("NEXUS_REMOTE_ENDPOINT", &c.Remote.Endpoint)
	e.strVar("NEXUS_REMOTE_REGION", &c.Remote.Region)
	e.floatVar("NEXUS_REMOTE_RATE_LIMIT", &c.Remote.RateLimit)
	e.int64Var("NEXUS_REMOTE_BANDWIDTH", &c.Remote.Bandwidth)
	e.intVar("NEXUS_MIRROR_CONCURRENCY", &c.Remote.MirrorConcurrency)

	e.intVar("NEXUS_BUNDLE_THRESHOLD", &c.Bundle.Threshold)
	e.int64Var("NEXUS_BUNDLE_MAX_SHARD_BYTES", &c.Bundle.MaxShardBytes)
	e.intVar("NEXUS_BUNDLE_MAX_SHARDS", &c.Bundle.MaxShards)

	c.Remote.Backend = strings.ToLower(strings.TrimSpace(c.Remote.Backend))
	if c.Remote.Enabled && c.Remote.Backend == BackendNone {
		c.Remote.Backend = BackendS3
	}
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("config: data dir is empty"))
	}
	if c.ShardSize <= 0 {
		errs = append(errs, fmt.Errorf("config: shard size must be positive, got %d", c.ShardSize))
	}
	if c.RegistryFloor < 0 {
		errs = append(errs, fmt.Errorf("config: registry floor must not be negative, got %d", c.RegistryFloor))
	}
	if c.Decay <= 0 || c.Decay > 1 {
		errs = append(errs, fmt.Errorf("config: decay must be in (0,1], got %g", c.Decay))
	}
	if c.Bundle.Threshold < 0 {
		errs = append(errs, fmt.Errorf("config: bundle threshold must not be negative, got %d", c.Bundle.Threshold))
	}
	if c.Bundle.MaxShardBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: bundle shard size must be positive, got %d", c.Bundle.MaxShardBytes))
	}
	if c.Bundle.MaxShards <= 0 {
		errs = append(errs, fmt.Errorf("config: bundle shard count must be positive, got %d", c.Bundle.MaxShards))
	}
	if c.Remote.MirrorConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("config: mirror concurrency must be positive, got %d", c.Remote.MirrorConcurrency))
	}
	if c.Remote.RateLimit < 0 || c.Remote.Bandwidth < 0 {
		errs = append(errs, errors.New("config: remote limits must not be negative"))
	}
	if c.Remote.Enabled || c.Remote.ForceRestore {
		switch c.Remote.Backend {
		case BackendS3, BackendMinIO:
			if c.Remote.Bucket == "" {
				errs = append(errs, fmt.Errorf("config: %s backend needs a bucket", c.Remote.Backend))
			}
			if c.Remote.Backend == BackendMinIO && c.Remote.Endpoint == "" {
				errs = append(errs, errors.New("config: minio backend needs an endpoint"))
			}
		case BackendLocal:
			if c.Remote.Endpoint == "" {
				errs = append(errs, errors.New("config: local backend needs an endpoint directory"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown remote backend %q", c.Remote.Backend))
		}
	}
	return errors.Join(errs...)
}

// RemoteEnabled reports whether a remote store must be opened.
func (c Config) RemoteEnabled() bool {
	return c.Remote.Enabled || c.Remote.ForceRestore
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *env) strVar(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *env) boolVar(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}

func (e *env) intVar(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *env) int64Var(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *env) floatVar(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = f
}
