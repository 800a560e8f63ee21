package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dbinventory/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadFrom_Defaults(t *testing.T) {
	t.Setenv(KeyEnvVar, testKey)

	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Sync.WorkerPoolSize)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, "0 */6 * * *", cfg.Schedule.SyncAccounts)
	assert.Equal(t, 300, cfg.Sync.InstanceLockTTLSec)
	assert.Equal(t, int64(100), cfg.Sync.BetweenInstancesDelay().Milliseconds())
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
sync:
  batch_size: 250
  worker_pool_size: 4
`), 0600))

	t.Setenv(KeyEnvVar, testKey)
	t.Setenv("SYNC_BATCH_SIZE", "50")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 4, cfg.Sync.WorkerPoolSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFrom_Invalid(t *testing.T) {
	t.Setenv(KeyEnvVar, testKey)
	t.Setenv("SYNC_WORKER_POOL_SIZE", "0")

	_, err := LoadFrom("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WorkerPoolSize")
}

func TestLoadFrom_ShortKey(t *testing.T) {
	t.Setenv(KeyEnvVar, "short")
	_, err := LoadFrom("")
	require.Error(t, err)
}

func TestSaveKeyToEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9000\nDBINVENTORY_KEY=old\n"), 0600))

	require.NoError(t, saveKeyToEnv(path, "new-key"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PORT=9000\nDBINVENTORY_KEY=new-key\n", string(data))
}

func TestSaveKeyToEnv_UTF16(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	var utf16le []byte
	utf16le = append(utf16le, 0xff, 0xfe)
	for _, r := range "PORT=1234\n" {
		utf16le = append(utf16le, byte(r), 0)
	}
	require.NoError(t, os.WriteFile(path, utf16le, 0600))

	require.NoError(t, saveKeyToEnv(path, "k"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "PORT=1234\n"))
	assert.Contains(t, string(data), "DBINVENTORY_KEY=k")
}

func TestLoadFilterRules(t *testing.T) {
	rules, err := LoadFilterRules("")
	require.NoError(t, err)
	assert.Contains(t, rules[core.VendorPostgreSQL].ExcludePatterns, "pg_%")

	dir := t.TempDir()
	path := filepath.Join(dir, "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mysql:
  exclude_users: [monitor]
  exclude_patterns: ["svc_%"]
`), 0600))

	rules, err = LoadFilterRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"monitor"}, rules[core.VendorMySQL].ExcludeUsers)
	assert.Equal(t, []string{"svc_%"}, rules[core.VendorMySQL].ExcludePatterns)
	assert.Contains(t, rules[core.VendorOracle].ExcludeUsers, "XDB")

	require.NoError(t, os.WriteFile(path, []byte("db2:\n  exclude_users: [x]\n"), 0600))
	_, err = LoadFilterRules(path)
	assert.Error(t, err)
}
