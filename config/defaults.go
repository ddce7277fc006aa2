// =============================================================================
// 📦 rheo 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Runtime:    DefaultRuntimeConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Log:        DefaultLogConfig(),
		Metrics:    DefaultMetricsConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultRuntimeConfig 返回默认运行配置
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MaxHops:    0,
		RunTimeout: 0,
		ThreadID:   "default",

		BreakerFailures: 0,
		BreakerRecovery: 30 * time.Second,
	}
}

// DefaultCheckpointConfig 返回默认检查点配置
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Type:     "sqlite",
		BaseDir:  ".rheo/checkpoints",
		Database: DefaultDatabaseConfig(),
		Redis:    DefaultRedisConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "rheo:checkpoint:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "checkpoints.db",
		SSLMode:         "disable",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "rheo",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "rheo",
		SampleRate:   0.1,
	}
}
