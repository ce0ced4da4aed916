package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := fromLookup(lookup(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	require.NoError(t, c.Validate())
	assert.False(t, c.RemoteEnabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := fromLookup(lookup(map[string]string{
		"NEXUS_DATA_DIR":               "/var/nexus",
		"NEXUS_REGISTRY_FLOOR":         "10",
		"NEXUS_SHARD_SIZE":             "500",
		"NEXUS_DECAY":                  "0.5",
		"NEXUS_ENABLE_REMOTE_BACKUP":   "true",
		"NEXUS_REMOTE_BACKEND":         " MinIO ",
		"NEXUS_REMOTE_BUCKET":          "registry",
		"NEXUS_REMOTE_ENDPOINT":        "r2.example.com",
		"NEXUS_REMOTE_PREFIX":          "backup/",
		"NEXUS_REMOTE_RATE_LIMIT":      "25",
		"NEXUS_REMOTE_BANDWIDTH":       "1048576",
		"NEXUS_MIRROR_CONCURRENCY":     "4",
		"NEXUS_BUNDLE_THRESHOLD":       "1024",
		"NEXUS_BUNDLE_MAX_SHARD_BYTES": "4096",
		"NEXUS_BUNDLE_MAX_SHARDS":      "2",
		"NEXUS_PACK_DIR":               "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/var/nexus", c.DataDir)
	assert.Equal(t, DefaultPackDir, c.PackDir)
	assert.Equal(t, 10, c.RegistryFloor)
	assert.Equal(t, 500, c.ShardSize)
	assert.Equal(t, 0.5, c.Decay)
	assert.Equal(t, Remote{
		Enabled:           true,
		Backend:           BackendMinIO,
		Bucket:            "registry",
		Prefix:            "backup/",
		Endpoint:          "r2.example.com",
		RateLimit:         25,
		Bandwidth:         1 << 20,
		MirrorConcurrency: 4,
	}, c.Remote)
	assert.Equal(t, Bundle{Threshold: 1024, MaxShardBytes: 4096, MaxShards: 2}, c.Bundle)
	require.NoError(t, c.Validate())
}

func TestFromEnv_RemoteDefaultsToS3(t *testing.T) {
	c, err := fromLookup(lookup(map[string]string{
		"NEXUS_ENABLE_REMOTE_BACKUP": "1",
		"NEXUS_REMOTE_BUCKET":        "b",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendS3, c.Remote.Backend)
	assert.NoError(t, c.Validate())
}

func TestFromEnv_ParseErrors(t *testing.T) {
	_, err := fromLookup(lookup(map[string]string{
		"NEXUS_SHARD_SIZE":           "many",
		"NEXUS_ENABLE_REMOTE_BACKUP": "perhaps",
	}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "NEXUS_SHARD_SIZE")
	assert.ErrorContains(t, err, "NEXUS_ENABLE_REMOTE_BACKUP")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero shard size", func(c *Config) { c.ShardSize = 0 }, "shard size"},
		{"negative floor", func(c *Config) { c.RegistryFloor = -1 }, "floor"},
		{"decay above one", func(c *Config) { c.Decay = 1.5 }, "decay"},
		{"zero decay", func(c *Config) { c.Decay = 0 }, "decay"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data dir"},
		{"zero mirror concurrency", func(c *Config) { c.Remote.MirrorConcurrency = 0 }, "mirror concurrency"},
		{"zero bundle shards", func(c *Config) { c.Bundle.MaxShards = 0 }, "bundle shard count"},
		{"s3 without bucket", func(c *Config) { c.Remote.Enabled = true; c.Remote.Backend = BackendS3 }, "bucket"},
		{"minio without endpoint", func(c *Config) {
			c.Remote.Enabled = true
			c.Remote.Backend = BackendMinIO
			c.Remote.Bucket = "b"
		}, "endpoint"},
		{"unknown backend", func(c *Config) { c.Remote.ForceRestore = true; c.Remote.Backend = "ftp" }, "unknown remote backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
