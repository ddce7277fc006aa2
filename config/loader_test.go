// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 0, cfg.Runtime.MaxHops)
	assert.Equal(t, "default", cfg.Runtime.ThreadID)
	assert.Equal(t, 30*time.Second, cfg.Runtime.BreakerRecovery)

	assert.Equal(t, "sqlite", cfg.Checkpoint.Type)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Database.Driver)
	assert.Equal(t, "checkpoints.db", cfg.Checkpoint.Database.DSN())
	assert.Equal(t, "rheo:checkpoint:", cfg.Checkpoint.Redis.KeyPrefix)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "rheo", cfg.Metrics.Namespace)
	assert.False(t, cfg.Telemetry.Enabled)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "rheo.yaml")

	yamlContent := `
runtime:
  max_hops: 25
  run_timeout: 90s
  thread_id: "review-42"

checkpoint:
  type: redis
  redis:
    addr: "redis.example.com:6379"
    db: 2

log:
  level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Runtime.MaxHops)
	assert.Equal(t, 90*time.Second, cfg.Runtime.RunTimeout)
	assert.Equal(t, "review-42", cfg.Runtime.ThreadID)
	assert.Equal(t, "redis", cfg.Checkpoint.Type)
	assert.Equal(t, "redis.example.com:6379", cfg.Checkpoint.Redis.Addr)
	assert.Equal(t, 2, cfg.Checkpoint.Redis.DB)
	// untouched keys keep defaults
	assert.Equal(t, "rheo:checkpoint:", cfg.Checkpoint.Redis.KeyPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_ExpandsEnvInYAML(t *testing.T) {
	t.Setenv("REDIS_SECRET", "s3cret")
	configPath := filepath.Join(t.TempDir(), "rheo.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
checkpoint:
  type: redis
  redis:
    addr: "localhost:6379"
    password: "${REDIS_SECRET}"
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Checkpoint.Redis.Password)
}

func TestLoader_Strict(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "rheo.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("runtime:\n  max_hopz: 3\n"), 0o600))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	_, err = NewLoader().WithConfigPath(configPath).WithStrict().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_hopz")
}

func TestLoader_EmptyFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(configPath, nil, 0o600))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Type)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Checkpoint.Type)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("runtime: [oops"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RHEO_RUNTIME_MAX_HOPS", "7")
	t.Setenv("RHEO_RUNTIME_RUN_TIMEOUT", "2m")
	t.Setenv("RHEO_CHECKPOINT_TYPE", "file")
	t.Setenv("RHEO_CHECKPOINT_BASE_DIR", "/var/lib/rheo")
	t.Setenv("RHEO_CHECKPOINT_DATABASE_AUTO_MIGRATE", "false")
	t.Setenv("RHEO_LOG_OUTPUT_PATHS", "stdout, /tmp/rheo.log")
	t.Setenv("RHEO_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("RHEO_METRICS_ADDR", ":9464")
	t.Setenv("RHEO_CHECKPOINT_REDIS_TLS", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Runtime.MaxHops)
	assert.Equal(t, 2*time.Minute, cfg.Runtime.RunTimeout)
	assert.Equal(t, "file", cfg.Checkpoint.Type)
	assert.Equal(t, "/var/lib/rheo", cfg.Checkpoint.BaseDir)
	assert.False(t, cfg.Checkpoint.Database.AutoMigrate)
	assert.Equal(t, []string{"stdout", "/tmp/rheo.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.True(t, cfg.Checkpoint.Redis.TLS)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("WF_LOG_LEVEL", "warn")

	cfg, err := NewLoader().WithEnvPrefix("WF").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("RHEO_RUNTIME_MAX_HOPS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RHEO_RUNTIME_MAX_HOPS")
}

func TestLoader_Validators(t *testing.T) {
	sentinel := errors.New("nope")

	_, err := NewLoader().WithValidator(func(*Config) error { return sentinel }).Load()
	assert.ErrorIs(t, err, sentinel)

	_, err = NewLoader().WithValidator((*Config).Validate).Load()
	assert.NoError(t, err)
}

// --- 校验测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative hops", func(c *Config) { c.Runtime.MaxHops = -1 }, "max_hops"},
		{"negative timeout", func(c *Config) { c.Runtime.RunTimeout = -time.Second }, "run_timeout"},
		{"negative breaker failures", func(c *Config) { c.Runtime.BreakerFailures = -1 }, "breaker_failures"},
		{"unknown store", func(c *Config) { c.Checkpoint.Type = "etcd" }, "etcd"},
		{"file without dir", func(c *Config) { c.Checkpoint.Type = "file"; c.Checkpoint.BaseDir = "" }, "base_dir"},
		{"redis without addr", func(c *Config) { c.Checkpoint.Type = "redis"; c.Checkpoint.Redis.Addr = "" }, "redis.addr"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "loud"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"cert without key", func(c *Config) { c.Metrics.TLSCertFile = "cert.pem" }, "tls_key_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "rheo", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=rheo sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "rheo"}
	assert.Equal(t, "u:p@tcp(db:3306)/rheo?parseTime=true", my.DSN())

	url := DatabaseConfig{Driver: "postgres", URL: "postgres://x"}
	assert.Equal(t, "postgres://x", url.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}
