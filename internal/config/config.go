// Package config loads every subsystem's settings through the same
// DefaultConfig -> LoadFromFile -> LoadFromEnv layering: a Go literal of
// sane defaults, optionally overridden by a JSON file, optionally
// overridden again by EDGEFAAS_* environment variables. Route and function
// tables are a separate, YAML-driven load path since they are data, not
// daemon settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edgefaas/edgefaas/internal/domain"
	"gopkg.in/yaml.v3"
)

// AuthConfig holds the Gateway's AuthN settings: the static /auth
// credential, JWT issuance/verification, and the API-key gate.
type AuthConfig struct {
	User        string       `json:"user"`
	Pass        string       `json:"pass"`
	APIKey      string       `json:"api_key"`
	JWT         JWTConfig    `json:"jwt"`
	PublicPaths []string     `json:"public_paths"`
}

// JWTConfig configures token issuance and verification.
type JWTConfig struct {
	Algorithm string        `json:"algorithm"` // HS256, RS256
	Secret    string        `json:"secret"`
	TTL       time.Duration `json:"ttl"`
	Issuer    string        `json:"issuer"`
}

// CacheConfig sizes the HostCache and its optional Redis L2 tier.
type CacheConfig struct {
	TTL       time.Duration `json:"ttl"`
	Size      int           `json:"size"`
	RedisAddr string        `json:"redis_addr"` // empty disables the L2 tier
}

// PoolConfig sizes the per-function ContainerPool defaults.
type PoolConfig struct {
	Max             int           `json:"max"`
	Min             int           `json:"min"`
	AcquireTimeout  time.Duration `json:"acquire_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
}

// BreakerConfig sets the default per-function circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryWindow   time.Duration `json:"recovery_window"`
}

// JanitorConfig tunes the HeartbeatJanitor's loop.
type JanitorConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	GracePeriod       time.Duration `json:"grace_period"`
}

// OrchestratorConfig points the Gateway at the Orchestrator service.
type OrchestratorConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// DockerConfig tunes the Orchestrator's own container backend. It is only
// consumed by cmd/orchestratord; the Gateway never touches Docker directly.
type DockerConfig struct {
	ImagePrefix   string        `json:"image_prefix"`
	Network       string        `json:"network"`
	PortRangeMin  int           `json:"port_range_min"`
	PortRangeMax  int           `json:"port_range_max"`
	MemoryLimitMB int64         `json:"memory_limit_mb"`
	CPULimit      float64       `json:"cpu_limit"`
	ReadyTimeout  time.Duration `json:"ready_timeout"`
	StopTimeout   time.Duration `json:"stop_timeout"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	ServiceName string  `json:"service_name"`
	SampleRate  float64 `json:"sample_rate"`
}

// LoggingConfig holds structured operational logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// DaemonConfig holds per-binary HTTP listener settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"`
}

// Config is the Gateway/Orchestrator daemons' top-level settings object.
// Route and function tables are loaded separately via LoadRoutesFile /
// LoadFunctionsFile since they are immutable data, not daemon settings.
type Config struct {
	Daemon       DaemonConfig       `json:"daemon"`
	Auth         AuthConfig         `json:"auth"`
	Cache        CacheConfig        `json:"cache"`
	Pool         PoolConfig         `json:"pool"`
	Breaker      BreakerConfig      `json:"breaker"`
	Janitor      JanitorConfig      `json:"janitor"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Docker       DockerConfig       `json:"docker"`
	Tracing      TracingConfig      `json:"tracing"`
	Logging      LoggingConfig      `json:"logging"`

	RoutesFile    string `json:"routes_file"`
	FunctionsFile string `json:"functions_file"`
}

// DefaultConfig returns a Config with the defaults named in the
// environment-variable reference table.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{HTTPAddr: ":8080"},
		Auth: AuthConfig{
			JWT:         JWTConfig{Algorithm: "HS256", TTL: time.Hour},
			PublicPaths: []string{"/health", "/auth", "/metrics", "/metrics.json"},
		},
		Cache: CacheConfig{TTL: 5 * time.Minute, Size: 1024},
		Pool: PoolConfig{
			Max:            10,
			Min:            0,
			AcquireTimeout: 10 * time.Second,
			IdleTimeout:    5 * time.Minute,
		},
		Breaker: BreakerConfig{FailureThreshold: 5, RecoveryWindow: 30 * time.Second},
		Janitor: JanitorConfig{HeartbeatInterval: 30 * time.Second, GracePeriod: 60 * time.Second},
		Orchestrator: OrchestratorConfig{
			URL:     "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
		Docker: DockerConfig{
			ImagePrefix:   "edgefaas-runtime",
			PortRangeMin:  22000,
			PortRangeMax:  32000,
			MemoryLimitMB: 256,
			CPULimit:      1.0,
			ReadyTimeout:  10 * time.Second,
			StopTimeout:   5 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "edgefaas",
			SampleRate:  1.0,
		},
		Logging:       LoggingConfig{Level: "info", Format: "text"},
		RoutesFile:    "routes.yaml",
		FunctionsFile: "functions.yaml",
	}
}

// LoadFromFile overlays a JSON config file onto DefaultConfig's values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies EDGEFAAS_* environment variable overrides in place.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EDGEFAAS_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}

	if v := os.Getenv("EDGEFAAS_AUTH_USER"); v != "" {
		cfg.Auth.User = v
	}
	if v := os.Getenv("EDGEFAAS_AUTH_PASS"); v != "" {
		cfg.Auth.Pass = v
	}
	if v := os.Getenv("EDGEFAAS_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("EDGEFAAS_JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}
	if v := os.Getenv("EDGEFAAS_JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.JWT.TTL = d
		}
	}

	if v := os.Getenv("EDGEFAAS_ROUTES_FILE"); v != "" {
		cfg.RoutesFile = v
	}
	if v := os.Getenv("EDGEFAAS_FUNCTIONS_FILE"); v != "" {
		cfg.FunctionsFile = v
	}
	if v := os.Getenv("EDGEFAAS_ORCHESTRATOR_URL"); v != "" {
		cfg.Orchestrator.URL = v
	}

	if v := os.Getenv("EDGEFAAS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("EDGEFAAS_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Size = n
		}
	}
	if v := os.Getenv("EDGEFAAS_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}

	if v := os.Getenv("EDGEFAAS_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Max = n
		}
	}
	if v := os.Getenv("EDGEFAAS_POOL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Min = n
		}
	}
	if v := os.Getenv("EDGEFAAS_POOL_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.AcquireTimeout = d
		}
	}
	if v := os.Getenv("EDGEFAAS_POOL_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.IdleTimeout = d
		}
	}

	if v := os.Getenv("EDGEFAAS_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("EDGEFAAS_BREAKER_RECOVERY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Breaker.RecoveryWindow = d
		}
	}

	if v := os.Getenv("EDGEFAAS_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Janitor.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("EDGEFAAS_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Janitor.GracePeriod = d
		}
	}

	if v := os.Getenv("EDGEFAAS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EDGEFAAS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("EDGEFAAS_OTEL_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("EDGEFAAS_OTEL_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}

	if v := os.Getenv("EDGEFAAS_DOCKER_IMAGE_PREFIX"); v != "" {
		cfg.Docker.ImagePrefix = v
	}
	if v := os.Getenv("EDGEFAAS_DOCKER_NETWORK"); v != "" {
		cfg.Docker.Network = v
	}
	if v := os.Getenv("EDGEFAAS_DOCKER_MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Docker.MemoryLimitMB = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

// routeFile / functionFile are the YAML wire shapes for the route table and
// function registry files named in Config.RoutesFile/FunctionsFile.
type routeFile struct {
	Routes []domain.Route `yaml:"routes"`
}

type functionFile struct {
	Defaults struct {
		Environment map[string]string `yaml:"environment"`
	} `yaml:"defaults"`
	Functions []domain.FunctionConfig `yaml:"functions"`
}

// LoadRoutesFile parses a YAML route table into a domain.Table, preserving
// file order for the table's first-match-wins semantics.
func LoadRoutesFile(path string) (*domain.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf routeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse routes file %s: %w", path, err)
	}
	return domain.NewTable(rf.Routes), nil
}

// LoadFunctionsFile parses a YAML function registry into a domain.Registry.
func LoadFunctionsFile(path string) (*domain.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ff functionFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("config: parse functions file %s: %w", path, err)
	}
	return domain.NewRegistry(ff.Defaults.Environment, ff.Functions), nil
}
