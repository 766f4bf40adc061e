package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type AppConfig struct {
	// Addr is the listen address for the HTTP server.
	Addr string `mapstructure:"addr"`
	// BaseURL is the public address short URLs are composed from.
	BaseURL string `mapstructure:"base_url"`
	// GeoTimeout bounds the enrichment lookup per click, e.g. "300ms".
	GeoTimeout string `mapstructure:"geo_timeout"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

// Addr returns the listen address with a default.
func (c AppConfig) ListenAddr() string {
	if c.Addr == "" {
		return ":8080"
	}
	return c.Addr
}

// PublicBaseURL returns the base URL with a default derived from the
// listen address.
func (c AppConfig) PublicBaseURL() string {
	if c.BaseURL == "" {
		return "http://localhost:8080"
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// GeoLookupTimeout parses GeoTimeout, defaulting to 300ms.
func (c AppConfig) GeoLookupTimeout() time.Duration {
	if c.GeoTimeout == "" {
		return 300 * time.Millisecond
	}
	d, err := time.ParseDuration(c.GeoTimeout)
	if err != nil || d <= 0 {
		return 300 * time.Millisecond
	}
	return d
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.addr", "APP_ADDR")
	v.BindEnv("app.base_url", "APP_BASE_URL")
	v.BindEnv("app.geo_timeout", "APP_GEO_TIMEOUT")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")
	v.BindEnv("postgres.max_conns", "PG_MAX_CONNS")
	v.BindEnv("postgres.min_conns", "PG_MIN_CONNS")
	v.BindEnv("postgres.max_conn_lifetime", "PG_MAX_CONN_LIFETIME")
	v.BindEnv("postgres.max_conn_idle_time", "PG_MAX_CONN_IDLE_TIME")
	v.BindEnv("postgres.health_check_period", "PG_HEALTH_CHECK_PERIOD")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
}
