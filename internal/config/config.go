// Package config provides hierarchical configuration loading for the
// responder service. Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the orchestration engine.
type Config struct {
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Backend   Backend   `yaml:"backend"`
	Enrich    Enrich    `yaml:"enrich"`
	Priority  Priority  `yaml:"priority"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	Breaker   Breaker   `yaml:"breaker"`
	Agent     Agent     `yaml:"agent"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Postgres holds the workflow archive connection configuration.
// An empty DSN disables archival (degraded capability).
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the audit stream configuration. An empty URL disables auditing.
type NATS struct {
	URL string `yaml:"url"`
}

// Backend holds the disaster data source client configuration.
type Backend struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base"`
	CacheTTL   time.Duration `yaml:"cache_ttl"` // last-known-good retention
}

// Enrich bounds the context-enrichment collaborator calls.
type Enrich struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// KindScale holds the per-disaster-kind normalization inputs used by the
// prioritizer. Scales are configuration, never hard-coded per call.
type KindScale struct {
	// Multiplier scales the weighted score for this kind (0..1].
	Multiplier float64 `yaml:"multiplier"`
	// TimeCriticality is the kind's baseline urgency contribution (0..1).
	TimeCriticality float64 `yaml:"time_criticality"`
}

// Priority holds the weighted-scoring configuration.
type Priority struct {
	PopulationWeight float64 `yaml:"population_weight"`
	GeographyWeight  float64 `yaml:"geography_weight"`
	EvacuationWeight float64 `yaml:"evacuation_weight"`
	TimeWeight       float64 `yaml:"time_weight"`

	CriticalThreshold float64 `yaml:"critical_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`

	// Scales keys are disaster kinds; unknown kinds fall back to "other".
	Scales map[string]KindScale `yaml:"scales"`
}

// ToolConfig binds one delivery channel to a registered provider.
type ToolConfig struct {
	Provider string            `yaml:"provider"`
	Config   map[string]string `yaml:"config"`
}

// Dispatch holds tool selection and retry configuration.
type Dispatch struct {
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// Channels maps a priority level to its ordered channel preference list.
	Channels map[string][]string `yaml:"channels"`
	// Tools maps a channel name to the provider that serves it.
	Tools map[string]ToolConfig `yaml:"tools"`
}

// Breaker holds the per-collaborator skip-window configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// Agent holds workflow registry and concurrency configuration.
type Agent struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`
	Retention     time.Duration `yaml:"retention"`      // terminal record retention
	SweepSchedule string        `yaml:"sweep_schedule"` // cron spec for the retention sweep
	HistoryPerID  int           `yaml:"history_per_id"` // monitoring history entries kept per id
}

// Telemetry holds the OTLP metrics exporter configuration.
// An empty endpoint leaves metrics local/no-op.
type Telemetry struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "responder-core",
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		Backend: Backend{
			BaseURL:    "http://localhost:9000",
			Timeout:    5 * time.Second,
			MaxRetries: 3,
			RetryBase:  500 * time.Millisecond,
			CacheTTL:   time.Hour,
		},
		Enrich: Enrich{
			LookupTimeout: 5 * time.Second,
		},
		Priority: Priority{
			PopulationWeight:  0.40,
			GeographyWeight:   0.25,
			EvacuationWeight:  0.20,
			TimeWeight:        0.15,
			CriticalThreshold: 0.85,
			HighThreshold:     0.65,
			MediumThreshold:   0.35,
			Scales: map[string]KindScale{
				"fire":       {Multiplier: 0.90, TimeCriticality: 0.9},
				"chemical":   {Multiplier: 0.85, TimeCriticality: 0.8},
				"earthquake": {Multiplier: 0.80, TimeCriticality: 0.7},
				"flood":      {Multiplier: 0.75, TimeCriticality: 0.6},
				"cyclone":    {Multiplier: 0.70, TimeCriticality: 0.6},
				"storm":      {Multiplier: 0.65, TimeCriticality: 0.5},
				"other":      {Multiplier: 0.75, TimeCriticality: 0.5},
			},
		},
		Dispatch: Dispatch{
			ToolTimeout:   10 * time.Second,
			MaxAttempts:   3,
			RetryBase:     500 * time.Millisecond,
			RetryMaxDelay: 30 * time.Second,
			Channels: map[string][]string{
				"critical": {"voice", "sms", "push"},
				"high":     {"sms", "push"},
				"medium":   {"push"},
				"low":      {"email"},
			},
			Tools: map[string]ToolConfig{
				"voice": {Provider: "log"},
				"sms":   {Provider: "log"},
				"push":  {Provider: "log"},
				"email": {Provider: "log"},
			},
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Cooldown:    30 * time.Second,
		},
		Agent: Agent{
			MaxConcurrent: 8,
			StageTimeout:  30 * time.Second,
			Retention:     24 * time.Hour,
			SweepSchedule: "@every 1h",
			HistoryPerID:  50,
		},
	}
}
