package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "boardroom.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "BOARDROOM_PORT")
	setString(&cfg.Server.CORSOrigin, "BOARDROOM_CORS_ORIGIN")
	setDuration(&cfg.Server.WriteTimeout, "BOARDROOM_WRITE_TIMEOUT")
	setString(&cfg.Server.IdempotencyBucket, "BOARDROOM_IDEMPOTENCY_BUCKET")
	setString(&cfg.Store.Backend, "BOARDROOM_STORE")
	setInt(&cfg.Store.PageSize, "BOARDROOM_STORE_PAGE_SIZE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "BOARDROOM_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "BOARDROOM_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "BOARDROOM_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "BOARDROOM_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "BOARDROOM_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "BOARDROOM_NATS_STREAM")
	setString(&cfg.Logging.Level, "BOARDROOM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BOARDROOM_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "BOARDROOM_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "BOARDROOM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BOARDROOM_BREAKER_TIMEOUT")

	// Cache
	setBool(&cfg.Cache.Enabled, "BOARDROOM_CACHE_ENABLED")
	setInt64(&cfg.Cache.L1MaxSizeMB, "BOARDROOM_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "BOARDROOM_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "BOARDROOM_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "BOARDROOM_CACHE_L2_TTL")

	// Scoring
	setInt(&cfg.Scoring.MaxParallel, "BOARDROOM_SCORING_MAX_PARALLEL")
	setDuration(&cfg.Scoring.TaskTimeout, "BOARDROOM_SCORING_TASK_TIMEOUT")
	setDuration(&cfg.Scoring.RoundTimeout, "BOARDROOM_SCORING_ROUND_TIMEOUT")

	// Policy
	setString(&cfg.Policy.Default, "BOARDROOM_POLICY_DEFAULT")
	setString(&cfg.Policy.CustomDir, "BOARDROOM_POLICY_DIR")

	// Orchestrator
	setBool(&cfg.Orchestrator.AutoStart, "BOARDROOM_AUTO_START")
	setString(&cfg.Orchestrator.AgentID, "BOARDROOM_AGENT_ID")

	// MCP
	setBool(&cfg.MCP.Enabled, "BOARDROOM_MCP_ENABLED")
	setString(&cfg.MCP.Port, "BOARDROOM_MCP_PORT")
	setString(&cfg.MCP.APIKey, "BOARDROOM_MCP_API_KEY")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "BOARDROOM_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "BOARDROOM_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "BOARDROOM_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "BOARDROOM_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "BOARDROOM_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend %q must be postgres or memory", cfg.Store.Backend)
	}
	if cfg.Store.PageSize < 1 {
		return errors.New("store.page_size must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Scoring.MaxParallel < 1 {
		return errors.New("scoring.max_parallel must be >= 1")
	}
	if cfg.Scoring.TaskTimeout <= 0 {
		return errors.New("scoring.task_timeout must be > 0")
	}
	if cfg.Scoring.RoundTimeout < cfg.Scoring.TaskTimeout {
		return errors.New("scoring.round_timeout must be >= scoring.task_timeout")
	}
	if cfg.Policy.Default == "" {
		return errors.New("policy.default is required")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0,1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
