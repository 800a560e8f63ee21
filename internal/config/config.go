package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	KeyEnvVar        = "DBINVENTORY_KEY"
	ConfigPathEnvVar = "CONFIG_PATH"
)

type Config struct {
	Key      string         `koanf:"key" validate:"min=32"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Sync     SyncConfig     `koanf:"sync"`
	Filters  FilterConfig   `koanf:"filters"`
	Classify ClassifyConfig `koanf:"classify"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port            int `koanf:"port" validate:"min=1,max=65535"`
	RateLimitPerMin int `koanf:"rate_limit_per_min" validate:"min=0"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type SyncConfig struct {
	WorkerPoolSize          int    `koanf:"worker_pool_size" validate:"min=1,max=256"`
	BatchSize               int    `koanf:"batch_size" validate:"min=1,max=10000"`
	ConnectTimeoutSec       int    `koanf:"connect_timeout_sec" validate:"min=1"`
	QueryTimeoutSec         int    `koanf:"query_timeout_sec" validate:"min=1"`
	InstanceLockTTLSec      int    `koanf:"instance_lock_ttl_sec" validate:"min=1"`
	BetweenInstancesDelayMs int    `koanf:"between_instances_delay_ms" validate:"min=0"`
	PostgresSSLMode         string `koanf:"postgres_sslmode" validate:"oneof=disable require verify-ca verify-full"`
	BreakerFailures         int    `koanf:"breaker_failures" validate:"min=1"`
	BreakerCooldownSec      int    `koanf:"breaker_cooldown_sec" validate:"min=1"`
}

func (s SyncConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSec) * time.Second
}

func (s SyncConfig) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSec) * time.Second
}

func (s SyncConfig) LockTTL() time.Duration {
	return time.Duration(s.InstanceLockTTLSec) * time.Second
}

func (s SyncConfig) BetweenInstancesDelay() time.Duration {
	return time.Duration(s.BetweenInstancesDelayMs) * time.Millisecond
}

func (s SyncConfig) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSec) * time.Second
}

type FilterConfig struct {
	RulesPath string `koanf:"rules_path"`
}

type ClassifyConfig struct {
	WaitPollMs     int `koanf:"wait_poll_ms" validate:"min=10"`
	WaitTimeoutSec int `koanf:"wait_timeout_sec" validate:"min=1"`
}

func (c ClassifyConfig) WaitPoll() time.Duration {
	return time.Duration(c.WaitPollMs) * time.Millisecond
}

func (c ClassifyConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSec) * time.Second
}

type ScheduleConfig struct {
	SyncAccounts     string `koanf:"sync_accounts" validate:"required"`
	CleanupLogs      string `koanf:"cleanup_logs" validate:"required"`
	LogRetentionDays int    `koanf:"log_retention_days" validate:"min=1"`
	// SnippetShell runs user job snippets, e.g. "/bin/sh". Empty disables them.
	SnippetShell      string `koanf:"snippet_shell"`
	SnippetTimeoutSec int    `koanf:"snippet_timeout_sec" validate:"min=1"`
}

func (s ScheduleConfig) LogRetention() time.Duration {
	return time.Duration(s.LogRetentionDays) * 24 * time.Hour
}

func (s ScheduleConfig) SnippetTimeout() time.Duration {
	return time.Duration(s.SnippetTimeoutSec) * time.Second
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Dir    string `koanf:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080, RateLimitPerMin: 60},
		Database: DatabaseConfig{Path: "dbinventory.db"},
		Sync: SyncConfig{
			WorkerPoolSize:          8,
			BatchSize:               100,
			ConnectTimeoutSec:       30,
			QueryTimeoutSec:         120,
			InstanceLockTTLSec:      300,
			BetweenInstancesDelayMs: 100,
			PostgresSSLMode:         "disable",
			BreakerFailures:         5,
			BreakerCooldownSec:      60,
		},
		Classify: ClassifyConfig{WaitPollMs: 500, WaitTimeoutSec: 600},
		Schedule: ScheduleConfig{SyncAccounts: "0 */6 * * *", CleanupLogs: "30 3 * * *", LogRetentionDays: 30, SnippetTimeoutSec: 300},
		Log:      LogConfig{Level: "info", Format: "json", Dir: "logs"},
	}
}

var envMappings = map[string]string{
	"dbinventory_key":                 "key",
	"port":                            "server.port",
	"api_rate_limit_per_min":          "server.rate_limit_per_min",
	"db_path":                         "database.path",
	"sync_worker_pool_size":           "sync.worker_pool_size",
	"sync_batch_size":                 "sync.batch_size",
	"sync_connect_timeout_sec":        "sync.connect_timeout_sec",
	"sync_query_timeout_sec":          "sync.query_timeout_sec",
	"sync_instance_lock_ttl_sec":      "sync.instance_lock_ttl_sec",
	"sync_between_instances_delay_ms": "sync.between_instances_delay_ms",
	"sync_postgres_sslmode":           "sync.postgres_sslmode",
	"sync_breaker_failures":           "sync.breaker_failures",
	"sync_breaker_cooldown_sec":       "sync.breaker_cooldown_sec",
	"account_filter_rules_path":       "filters.rules_path",
	"classify_wait_poll_ms":           "classify.wait_poll_ms",
	"classify_wait_timeout_sec":       "classify.wait_timeout_sec",
	"schedule_sync_accounts":          "schedule.sync_accounts",
	"schedule_cleanup_logs":           "schedule.cleanup_logs",
	"log_retention_days":              "schedule.log_retention_days",
	"schedule_snippet_shell":          "schedule.snippet_shell",
	"schedule_snippet_timeout_sec":    "schedule.snippet_timeout_sec",
	"log_level":                       "log.level",
	"log_format":                      "log.format",
	"log_dir":                         "log.dir",
}

// envTransform maps known environment variables to koanf paths and drops
// everything else.
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load reads .env, then layers defaults, the optional YAML file at
// CONFIG_PATH and the environment. A missing master key is generated and
// saved to .env.
func Load() (*Config, error) {
	// Try loading .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	if len(os.Getenv(KeyEnvVar)) < 32 {
		fmt.Println(KeyEnvVar + " not found or too short. Generating a new secure key...")
		newKey, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		if err := saveKeyToEnv(".env", newKey); err != nil {
			fmt.Printf("Warning: Failed to save generated key to .env: %v\n", err)
		} else {
			fmt.Println("New " + KeyEnvVar + " saved to .env file.")
		}
		os.Setenv(KeyEnvVar, newKey)
	}
	return LoadFrom(os.Getenv(ConfigPathEnvVar))
}

// LoadFrom builds the configuration without touching .env.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// base64 keeps the key printable; 32 bytes encode to 44 characters
	return base64.StdEncoding.EncodeToString(b), nil
}

// saveKeyToEnv writes or replaces the key line in the env file. Files saved
// as UTF-16LE by Windows editors are rewritten as UTF-8.
func saveKeyToEnv(filename, key string) error {
	line := KeyEnvVar + "=" + key
	content, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return os.WriteFile(filename, []byte(line+"\nPORT=8080\n"), 0600)
	} else if err != nil {
		return err
	}

	lines := strings.Split(decodeEnvFile(content), "\n")
	found := false
	out := make([]string, 0, len(lines)+1)
	for _, l := range lines {
		trimmed := strings.TrimSpace(strings.ReplaceAll(l, "\x00", ""))
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, KeyEnvVar+"=") {
			trimmed = line
			found = true
		}
		out = append(out, trimmed)
	}
	if !found {
		out = append(out, line)
	}
	return os.WriteFile(filename, []byte(strings.Join(out, "\n")+"\n"), 0600)
}

func decodeEnvFile(content []byte) string {
	hasBOM := len(content) >= 2 && content[0] == 0xff && content[1] == 0xfe
	nulls := 0
	for _, b := range content {
		if b == 0 {
			nulls++
		}
	}
	implicit := !hasBOM && len(content) > 10 && float64(nulls)/float64(len(content)) > 0.3
	if !hasBOM && !implicit {
		return string(content)
	}

	data := content
	if hasBOM {
		data = content[2:]
	}
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	u16s := make([]uint16, len(data)/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(data[i*2:])
	}
	return string(utf16.Decode(u16s))
}
