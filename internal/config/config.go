// Package config provides hierarchical configuration loading for QueryForge.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the QueryForge worker service.
type Config struct {
	Server   Server   `yaml:"server"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	Monitor  Monitor  `yaml:"monitor"`
	Cache    Cache    `yaml:"cache"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Postgres holds the task accounting store configuration.
// An empty DSN disables accounting entirely.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds exchange transport configuration. An empty URL selects the
// in-process exchange (single-node mode).
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Monitor holds hang-detection configuration for the task manager's
// background monitor. WaitingTimeout applies to tasks that have made no
// progress at all; RunningTimeout to tasks stalled mid-run.
type Monitor struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	WaitingTimeout time.Duration `yaml:"waiting_timeout"`
	RunningTimeout time.Duration `yaml:"running_timeout"`
}

// Cache holds the in-process plan fragment cache configuration.
type Cache struct {
	PlanCacheMB int64 `yaml:"plan_cache_mb"`
}

// Metrics holds OpenTelemetry export configuration. An empty endpoint
// disables the OTLP exporter.
type Metrics struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8090",
			CORSOrigin: "*",
		},
		Postgres: Postgres{
			DSN:             "",
			MaxConns:        8,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			URL: "",
		},
		Logging: Logging{
			Level:   "info",
			Service: "queryforge",
		},
		Monitor: Monitor{
			CheckInterval:  10 * time.Second,
			WaitingTimeout: time.Minute,
			RunningTimeout: 10 * time.Minute,
		},
		Cache: Cache{
			PlanCacheMB: 64,
		},
		Metrics: Metrics{
			OTLPEndpoint: "",
		},
	}
}
