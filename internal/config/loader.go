package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "responder.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from trusted config
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
	setString(&cfg.Server.Port, "RESPONDER_PORT")
	setString(&cfg.Server.CORSOrigin, "RESPONDER_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "RESPONDER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "RESPONDER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "RESPONDER_LOG_ASYNC")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "RESPONDER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "RESPONDER_PG_MIN_CONNS")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Backend.BaseURL, "RESPONDER_BACKEND_URL")
	setDuration(&cfg.Backend.Timeout, "RESPONDER_BACKEND_TIMEOUT")
	setInt(&cfg.Backend.MaxRetries, "RESPONDER_BACKEND_MAX_RETRIES")
	setDuration(&cfg.Backend.RetryBase, "RESPONDER_BACKEND_RETRY_BASE")
	setDuration(&cfg.Backend.CacheTTL, "RESPONDER_BACKEND_CACHE_TTL")
	setDuration(&cfg.Enrich.LookupTimeout, "RESPONDER_ENRICH_TIMEOUT")
	setFloat64(&cfg.Priority.CriticalThreshold, "RESPONDER_PRIORITY_CRITICAL")
	setFloat64(&cfg.Priority.HighThreshold, "RESPONDER_PRIORITY_HIGH")
	setFloat64(&cfg.Priority.MediumThreshold, "RESPONDER_PRIORITY_MEDIUM")
	setDuration(&cfg.Dispatch.ToolTimeout, "RESPONDER_DISPATCH_TOOL_TIMEOUT")
	setInt(&cfg.Dispatch.MaxAttempts, "RESPONDER_DISPATCH_MAX_ATTEMPTS")
	setDuration(&cfg.Dispatch.RetryBase, "RESPONDER_DISPATCH_RETRY_BASE")
	setInt(&cfg.Breaker.MaxFailures, "RESPONDER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Cooldown, "RESPONDER_BREAKER_COOLDOWN")
	setInt(&cfg.Agent.MaxConcurrent, "RESPONDER_AGENT_MAX_CONCURRENT")
	setDuration(&cfg.Agent.StageTimeout, "RESPONDER_AGENT_STAGE_TIMEOUT")
	setDuration(&cfg.Agent.Retention, "RESPONDER_AGENT_RETENTION")
	setString(&cfg.Agent.SweepSchedule, "RESPONDER_AGENT_SWEEP_SCHEDULE")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate rejects configurations the engine cannot run with.
func validate(cfg *Config) error {
	p := cfg.Priority
	sum := p.PopulationWeight + p.GeographyWeight + p.EvacuationWeight + p.TimeWeight
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("priority weights must sum to 1.0, got %.3f", sum)
	}
	if !(p.CriticalThreshold > p.HighThreshold && p.HighThreshold > p.MediumThreshold) {
		return errors.New("priority thresholds must be strictly decreasing")
	}
	if cfg.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch max_attempts must be at least 1")
	}
	if cfg.Agent.MaxConcurrent < 1 {
		return errors.New("agent max_concurrent must be at least 1")
	}
	for level, channels := range cfg.Dispatch.Channels {
		if len(channels) == 0 {
			return fmt.Errorf("dispatch channels for level %q must not be empty", level)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
