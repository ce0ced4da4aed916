package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NEXUS_ENABLE_REMOTE_BACKUP", "false")
	t.Setenv("NEXUS_FORCE_REMOTE_RESTORE", "false")

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeUpdates(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "updates.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"id":"hf-model--org--alpha","name":"alpha vision","description":"image model"}`+"\n"+
			`{"id":"hf-model--org--beta","name":"beta speech","description":"audio model"}`+"\n"+
			`{"id":"gh-tool--org--gamma","name":"gamma","description":"a tool"}`+"\n"), 0o644))
	return path
}

func TestAggregatePackVerifySearch(t *testing.T) {
	data := t.TempDir()
	dist := filepath.Join(t.TempDir(), "dist")
	global := []string{"--data-dir", data, "--floor", "0", "--log-level", "error"}

	out, err := run(t, append(global, "aggregate", writeUpdates(t))...)
	require.NoError(t, err)
	assert.Contains(t, out, "new:       3")
	assert.Contains(t, out, "registry:  3 entities")

	out, err = run(t, append(global, "pack", "--out", dist)...)
	require.NoError(t, err)
	assert.Contains(t, out, "packed 3 entities")

	out, err = run(t, append(global, "verify", dist)...)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	out, err = run(t, append(global, "search", "--dir", dist, "alpha")...)
	require.NoError(t, err)
	assert.Contains(t, out, "hf-model--org--alpha")
	assert.NotContains(t, out, "hf-model--org--beta")
}

func TestVerify_Corrupt(t *testing.T) {
	data := t.TempDir()
	dist := filepath.Join(t.TempDir(), "dist")
	global := []string{"--data-dir", data, "--floor", "0", "--log-level", "error"}

	_, err := run(t, append(global, "aggregate", writeUpdates(t))...)
	require.NoError(t, err)
	_, err = run(t, append(global, "pack", "--out", dist)...)
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dist, "content.db"), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("garbage"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = run(t, append(global, "verify", dist)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content.db is corrupt")
}

func TestBelowFloorFails(t *testing.T) {
	_, err := run(t, "--data-dir", t.TempDir(), "--floor", "10", "--log-level", "error", "aggregate", writeUpdates(t))
	assert.Error(t, err)
}

func TestMetricsTextfile(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "nexus.prom")
	_, err := run(t, "--data-dir", t.TempDir(), "--floor", "0", "--log-level", "error",
		"--metrics-textfile", metrics, "aggregate", writeUpdates(t))
	require.NoError(t, err)

	b, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(b), "nexus_operation_duration_seconds")
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--data-dir", t.TempDir(), "--log-level", "loud", "aggregate")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestPublish_NoRemote(t *testing.T) {
	_, err := run(t, "--data-dir", t.TempDir(), "--log-level", "error", "publish", t.TempDir())
	assert.ErrorContains(t, err, "no remote store")
}
