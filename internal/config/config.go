// Package config 提供服务配置的加载与校验
// 加载顺序：默认值 -> YAML 文件 -> SESSIONHUB_* 环境变量
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	corelog "sessionhub-core/internal/core/log"

	"gopkg.in/yaml.v3"
)

// Config 服务配置根结构
type Config struct {
	NodeID   string         `yaml:"node_id"`
	Log      corelog.Config `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Session  SessionConfig  `yaml:"session"`
	Recovery RecoveryConfig `yaml:"recovery"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig Redis 配置（主存储 + 消息代理）
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// PostgresConfig PostgreSQL 配置（备用存储）
// DSN 为空时禁用备用存储，主存储故障直接降级为匿名处理
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl"`            // 会话有效期
	StoreTimeout time.Duration `yaml:"store_timeout"`  // 单次主存储操作超时
	CacheSize    int           `yaml:"cache_size"`     // 本地热缓存条目上限
	CacheTTL     time.Duration `yaml:"cache_ttl"`      // 本地热缓存 TTL
}

// RecoveryConfig 连接恢复配置
type RecoveryConfig struct {
	MaxReconnectAttempts    int           `yaml:"max_reconnect_attempts"`
	ReconnectTimeout        time.Duration `yaml:"reconnect_timeout"`
	ActivityTimeout         time.Duration `yaml:"activity_timeout"`
	CleanupInterval         time.Duration `yaml:"cleanup_interval"`
	StaleConnectionTimeout  time.Duration `yaml:"stale_connection_timeout"`
	EnableTransportFallback bool          `yaml:"enable_transport_fallback"`
	FallbackTransports      []string      `yaml:"fallback_transports"`
	FallbackTimeout         time.Duration `yaml:"fallback_timeout"`
	SuspensionThreshold     time.Duration `yaml:"suspension_threshold"`
	PollingModeTimeout      time.Duration `yaml:"polling_mode_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		NodeID: "node-1",
		Log: corelog.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		HTTP: HTTPConfig{
			Listen:          ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Session: SessionConfig{
			TTL:          24 * time.Hour,
			StoreTimeout: 2 * time.Second,
			CacheSize:    4096,
			CacheTTL:     5 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxReconnectAttempts:    10,
			ReconnectTimeout:        300 * time.Second,
			ActivityTimeout:         600 * time.Second,
			CleanupInterval:         300 * time.Second,
			StaleConnectionTimeout:  1800 * time.Second,
			EnableTransportFallback: true,
			FallbackTransports:      []string{"polling"},
			FallbackTimeout:         30 * time.Second,
			SuspensionThreshold:     120 * time.Second,
			PollingModeTimeout:      600 * time.Second,
		},
	}
}

// Load 加载配置文件并应用环境变量覆盖
// path 为空或文件不存在时仅使用默认值 + 环境变量
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file failed: %w", err)
			}
			corelog.Warnf("Config: file %s not found, using defaults", path)
		} else {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("parse config file failed: %w", err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides 应用 SESSIONHUB_* 环境变量覆盖
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SESSIONHUB_NODE_ID"); v != "" {
		config.NodeID = v
	}
	if v := os.Getenv("SESSIONHUB_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("SESSIONHUB_HTTP_LISTEN"); v != "" {
		config.HTTP.Listen = v
	}
	if v := os.Getenv("SESSIONHUB_REDIS_ADDR"); v != "" {
		config.Redis.Addr = v
	}
	if v := os.Getenv("SESSIONHUB_REDIS_PASSWORD"); v != "" {
		config.Redis.Password = v
	}
	if v := os.Getenv("SESSIONHUB_POSTGRES_DSN"); v != "" {
		config.Postgres.DSN = v
	}
	if v := os.Getenv("SESSIONHUB_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Recovery.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("SESSIONHUB_SUSPENSION_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Recovery.SuspensionThreshold = d
		}
	}
	if v := os.Getenv("SESSIONHUB_ENABLE_TRANSPORT_FALLBACK"); v != "" {
		config.Recovery.EnableTransportFallback = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate 校验配置有效性
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	r := &c.Recovery
	if r.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("recovery.max_reconnect_attempts must be positive")
	}
	if r.CleanupInterval <= 0 {
		return fmt.Errorf("recovery.cleanup_interval must be positive")
	}
	if r.SuspensionThreshold <= 0 {
		return fmt.Errorf("recovery.suspension_threshold must be positive")
	}
	if r.StaleConnectionTimeout < r.ActivityTimeout {
		return fmt.Errorf("recovery.stale_connection_timeout must be >= activity_timeout")
	}
	if r.EnableTransportFallback && len(r.FallbackTransports) == 0 {
		return fmt.Errorf("recovery.fallback_transports required when fallback enabled")
	}
	return nil
}
