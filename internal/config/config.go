package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the full application configuration, assembled from
// environment variables.
type Config struct {
	Environment string
	Segmenter   SegmenterConfig
	Manager     ManagerConfig
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Auth        AuthConfig
	Monitoring  MonitoringConfig
}

// SegmenterConfig carries every tunable the segmentation core reads.
type SegmenterConfig struct {
	MaxHours                float64
	MaxSpeed                float64
	ReportedSpeedMultiplier float64
	NoiseDist               float64
	NoiseTime               time.Duration
	PenaltySpeed            float64
	BufferNM                float64
	IdentConfirm            int
	IdentWindow             time.Duration
	IdentCap                int
	SegmentField            string
	CollectMatchStats       bool
}

// ManagerConfig controls the per-ssvid worker pool.
type ManagerConfig struct {
	IdleTimeout time.Duration
	QueueSize   int
}

// ServerConfig configures the HTTP/WebSocket status API.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig configures snapshot persistence.
type RedisConfig struct {
	URL              string
	Password         string
	DB               int
	SnapshotTTL      time.Duration
	SnapshotInterval time.Duration
}

// MQTTConfig configures AIS message ingestion.
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	TopicPrefix  string
}

// MySQLConfig configures the retired-segment archive.
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// AuthConfig configures the admin API's JWT verification.
type AuthConfig struct {
	JWTSecret string
}

// MonitoringConfig controls Prometheus exposition.
type MonitoringConfig struct {
	MetricsEnabled bool
	MetricsPort    string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Segmenter: SegmenterConfig{
			MaxHours:                getFloat("MAX_HOURS", 24),
			MaxSpeed:                getFloat("MAX_SPEED", 30),
			ReportedSpeedMultiplier: getFloat("REPORTED_SPEED_MULTIPLIER", 1.1),
			NoiseDist:               getFloat("NOISE_DIST", 0.1),
			NoiseTime:               getDuration("NOISE_TIME", 5*time.Minute),
			PenaltySpeed:            getFloat("PENALTY_SPEED", 12),
			BufferNM:                getFloat("BUFFER_NM", 1.0),
			IdentConfirm:            getInt("IDENT_CONFIRM", 2),
			IdentWindow:             getDuration("IDENT_WINDOW", 15*time.Minute),
			IdentCap:                getInt("IDENT_CAP", 32),
			SegmentField:            getEnv("SEGMENT_FIELD", "segment"),
			CollectMatchStats:       getBool("COLLECT_MATCH_STATS", false),
		},
		Manager: ManagerConfig{
			IdleTimeout: getDuration("MANAGER_IDLE_TIMEOUT", 30*time.Minute),
			QueueSize:   getInt("MANAGER_QUEUE_SIZE", 256),
		},
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8090"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:              getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:         getEnv("REDIS_PASSWORD", ""),
			DB:               getInt("REDIS_DB", 0),
			SnapshotTTL:      getDuration("REDIS_SNAPSHOT_TTL", 48*time.Hour),
			SnapshotInterval: getDuration("REDIS_SNAPSHOT_INTERVAL", 30*time.Second),
		},
		MQTT: MQTTConfig{
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "aissegment"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			TopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "ais/+/messages"),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 100),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks internal consistency of tunables that would otherwise
// fail in confusing ways deep inside the segmenter or its collaborators.
func (c *Config) Validate() error {
	if c.Segmenter.MaxHours <= 0 {
		return fmt.Errorf("MAX_HOURS must be positive")
	}
	if c.Segmenter.IdentConfirm <= 0 {
		return fmt.Errorf("IDENT_CONFIRM must be positive")
	}
	if c.Segmenter.IdentCap <= 0 {
		return fmt.Errorf("IDENT_CAP must be positive")
	}
	if c.Segmenter.SegmentField == "" {
		return fmt.Errorf("SEGMENT_FIELD must not be empty")
	}
	if c.Manager.QueueSize <= 0 {
		return fmt.Errorf("MANAGER_QUEUE_SIZE must be positive")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

// Helper functions for reading environment variables.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel returns the configured log level.
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat returns the configured log format.
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment reports whether APP_ENV is "development".
func IsDevelopment() bool {
	return getEnv("APP_ENV", "production") == "development"
}

// IsProduction reports whether APP_ENV is "production".
func IsProduction() bool {
	return getEnv("APP_ENV", "production") == "production"
}
