// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/secrets"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. BBSGRAPH_SYNC_BATCH_SIZE.
const EnvPrefix = "BBSGRAPH"

// Config is the top-level bbsgraph configuration.
type Config struct {
	Source    SourceConfig              `mapstructure:"source"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`
	Sync      SyncConfig                `mapstructure:"sync"`
	Inference InferenceConfig           `mapstructure:"inference"`
	Lease     LeaseConfig               `mapstructure:"lease"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Server    ServerConfig              `mapstructure:"server"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry"`
}

// SourceConfig points at the forum archive that sync reads.
type SourceConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// StorageConfig selects the knowledge store backend and its location.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	DataDir          string `mapstructure:"data_dir"`
	VectorDimensions int    `mapstructure:"vector_dimensions"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig names the "provider/model" references used per task.
type ModelsConfig struct {
	Generation string   `mapstructure:"generation"`
	Failover   []string `mapstructure:"failover"`
	Embedding  string   `mapstructure:"embedding"`
	Inference  string   `mapstructure:"inference"`
}

// SyncConfig controls the archive to graph synchronization.
type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	SequentialWindow int           `mapstructure:"sequential_window"`
	Interval         time.Duration `mapstructure:"interval"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	ReadAttempts     int           `mapstructure:"read_attempts"`
}

// InferenceConfig controls reply relationship inference.
type InferenceConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Anchors       bool          `mapstructure:"anchors"`
	ChunkSize     int           `mapstructure:"chunk_size"`
	ContextWindow int           `mapstructure:"context_window"`
	MaxPostChars  int           `mapstructure:"max_post_chars"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	AcceptExpr    string        `mapstructure:"accept_expr"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker around the inference model.
type BreakerConfig struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	MinRequests      uint32        `mapstructure:"min_requests"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// LeaseConfig selects where the sync lease lives.
type LeaseConfig struct {
	Backend       string   `mapstructure:"backend"`
	RedisURL      string   `mapstructure:"redis_url"`
	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	Prefix        string   `mapstructure:"prefix"`
}

// RetrievalConfig tunes the question answering workflow.
type RetrievalConfig struct {
	TopK          int            `mapstructure:"top_k"`
	TokenBudget   int            `mapstructure:"token_budget"`
	MaxHops       int            `mapstructure:"max_hops"`
	MaxNodes      int            `mapstructure:"max_nodes"`
	PreferReplies bool           `mapstructure:"prefer_replies"`
	Temperature   float32        `mapstructure:"temperature"`
	MaxTokens     int            `mapstructure:"max_tokens"`
	Timeouts      TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig bounds each external call of a question.
type TimeoutsConfig struct {
	Embed      time.Duration `mapstructure:"embed"`
	Vector     time.Duration `mapstructure:"vector"`
	Graph      time.Duration `mapstructure:"graph"`
	Generation time.Duration `mapstructure:"generation"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen            string   `mapstructure:"listen"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
	MaxQuestionLength int      `mapstructure:"max_question_length"`
	// RateLimit is questions per second per client IP; zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// LoggingConfig controls the default slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls OpenTelemetry export. An empty endpoint keeps
// tracing in-process.
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// SetDefaults registers every default on v. Durations are strings so the
// generated config file stays readable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.driver", "sqlite3")
	v.SetDefault("source.dsn", "")
	v.SetDefault("source.table", "res")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.vector_dimensions", 1536)

	// Provider keys must have defaults so that env overrides such as
	// BBSGRAPH_PROVIDERS_OPENAI_API_KEY are picked up by Unmarshal.
	v.SetDefault("providers.openai.api_key", "env://OPENAI_API_KEY")
	v.SetDefault("providers.openai.endpoint", "")
	v.SetDefault("providers.anthropic.api_key", "env://ANTHROPIC_API_KEY")
	v.SetDefault("providers.anthropic.endpoint", "")
	v.SetDefault("providers.google.api_key", "env://GEMINI_API_KEY")
	v.SetDefault("providers.google.endpoint", "")

	v.SetDefault("models.generation", "openai/gpt-4o-mini")
	v.SetDefault("models.failover", []string{})
	v.SetDefault("models.embedding", "openai/text-embedding-3-small")
	v.SetDefault("models.inference", "openai/gpt-4o-mini")

	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.sequential_window", 20)
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.lease_ttl", "10m")
	v.SetDefault("sync.read_attempts", 3)

	v.SetDefault("inference.enabled", true)
	v.SetDefault("inference.anchors", true)
	v.SetDefault("inference.chunk_size", 20)
	v.SetDefault("inference.context_window", 50)
	v.SetDefault("inference.max_post_chars", inference.DefaultMaxPostChars)
	v.SetDefault("inference.min_confidence", inference.DefaultMinConfidence)
	v.SetDefault("inference.accept_expr", "")
	v.SetDefault("inference.max_attempts", 3)
	v.SetDefault("inference.breaker.failure_threshold", 0.8)
	v.SetDefault("inference.breaker.min_requests", 5)
	v.SetDefault("inference.breaker.timeout", "1m")

	v.SetDefault("lease.backend", "store")
	v.SetDefault("lease.redis_url", "")
	v.SetDefault("lease.etcd_endpoints", []string{})
	v.SetDefault("lease.prefix", "bbsgraph/lease/")

	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.token_budget", 6000)
	v.SetDefault("retrieval.max_hops", 3)
	v.SetDefault("retrieval.max_nodes", 50)
	v.SetDefault("retrieval.prefer_replies", true)
	v.SetDefault("retrieval.temperature", 0.2)
	v.SetDefault("retrieval.max_tokens", 1024)
	v.SetDefault("retrieval.timeouts.embed", "15s")
	v.SetDefault("retrieval.timeouts.vector", "5s")
	v.SetDefault("retrieval.timeouts.graph", "10s")
	v.SetDefault("retrieval.timeouts.generation", "2m")

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.max_question_length", 2000)
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.rate_burst", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.service_name", "bbsgraph")
}

// SetupEnv binds BBSGRAPH_* environment variables to config keys.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads each existing file into the process environment.
// Variables that are already set win over the files.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "loading %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// ReadFile reads path into v, or searches the standard locations for
// bbsgraph.yaml when path is empty. A missing file is fine when searching.
// Returns the file used, or "" when none was found.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
		return v.ConfigFileUsed(), nil
	}

	// SetConfigType is omitted: with it, viper also tries the bare name,
	// which collides with a ./bbsgraph binary.
	v.SetConfigName("bbsgraph")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bbsgraph")
	v.AddConfigPath("/etc/bbsgraph")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "reading config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Load reads configuration from path (or the standard locations) with
// BBSGRAPH_ environment overrides. Secret references are resolved through
// keys, which may be nil when no keyring is available.
func Load(path string, keys secrets.Store) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if _, err := ReadFile(v, path); err != nil {
		return nil, err
	}
	secrets.ResolveViper(v, keys)

	return FromViper(v)
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateSource()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateModels()...)
	errs = append(errs, c.validateSync()...)
	errs = append(errs, c.validateInference()...)
	errs = append(errs, c.validateLease()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateTelemetry()...)

	return errs
}

func invalid(format string, args ...any) error {
	return sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateSource() []error {
	var errs []error

	validDrivers := map[string]bool{"postgres": true, "sqlite3": true}
	if !validDrivers[c.Source.Driver] {
		errs = append(errs, invalid("source.driver must be one of [postgres, sqlite3], got %q", c.Source.Driver))
	}
	if c.Source.Table == "" {
		errs = append(errs, invalid("source.table must not be empty"))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, invalid("storage.backend must be one of [sqlite], got %q", c.Storage.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, invalid("storage.data_dir must not be empty"))
	}
	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, invalid("storage.vector_dimensions must be greater than 0, got %d", c.Storage.VectorDimensions))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	errs = append(errs, c.validateModelRef("models.generation", c.Models.Generation, true)...)
	errs = append(errs, c.validateModelRef("models.embedding", c.Models.Embedding, true)...)
	errs = append(errs, c.validateModelRef("models.inference", c.Models.Inference, false)...)
	for i, model := range c.Models.Failover {
		errs = append(errs, c.validateModelRef("models.failover["+strconv.Itoa(i)+"]", model, true)...)
	}

	return errs
}

func (c *Config) validateModelRef(key, model string, required bool) []error {
	if model == "" {
		if required {
			return []error{invalid("%s must not be empty", key)}
		}
		return nil
	}
	if !strings.Contains(model, "/") {
		return []error{invalid("%s must be in \"provider/model\" format, got %q", key, model)}
	}
	// A nil map means no providers section exists at all, which is valid
	// for commands that never call a model.
	if c.Providers != nil {
		providerName := providerFromModel(model)
		if _, ok := c.Providers[providerName]; !ok {
			return []error{invalid("%s %q references provider %q which is not configured", key, model, providerName)}
		}
	}
	return nil
}

func (c *Config) validateSync() []error {
	var errs []error

	if c.Sync.BatchSize <= 0 {
		errs = append(errs, invalid("sync.batch_size must be greater than 0, got %d", c.Sync.BatchSize))
	}
	if c.Sync.SequentialWindow < 0 {
		errs = append(errs, invalid("sync.sequential_window must not be negative, got %d", c.Sync.SequentialWindow))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, invalid("sync.interval must be positive, got %s", c.Sync.Interval))
	}
	if c.Sync.LeaseTTL <= 0 {
		errs = append(errs, invalid("sync.lease_ttl must be positive, got %s", c.Sync.LeaseTTL))
	}
	if c.Sync.ReadAttempts <= 0 {
		errs = append(errs, invalid("sync.read_attempts must be greater than 0, got %d", c.Sync.ReadAttempts))
	}

	return errs
}

func (c *Config) validateInference() []error {
	var errs []error

	if c.Inference.ChunkSize <= 0 {
		errs = append(errs, invalid("inference.chunk_size must be greater than 0, got %d", c.Inference.ChunkSize))
	}
	if c.Inference.ContextWindow < 0 {
		errs = append(errs, invalid("inference.context_window must not be negative, got %d", c.Inference.ContextWindow))
	}
	if c.Inference.MaxAttempts <= 0 {
		errs = append(errs, invalid("inference.max_attempts must be greater than 0, got %d", c.Inference.MaxAttempts))
	}
	if c.Inference.Enabled && c.Models.Inference == "" {
		errs = append(errs, invalid("models.inference must be set when inference.enabled is true"))
	}
	if th := c.Inference.Breaker.FailureThreshold; th <= 0 || th > 1 {
		errs = append(errs, invalid("inference.breaker.failure_threshold must be within (0, 1], got %g", th))
	}
	if _, err := inference.NewPolicy(c.Inference.MinConfidence, c.Inference.AcceptExpr); err != nil {
		errs = append(errs, invalid("inference.min_confidence/accept_expr: %w", err))
	}

	return errs
}

func (c *Config) validateLease() []error {
	var errs []error

	switch c.Lease.Backend {
	case "store":
	case "redis":
		if c.Lease.RedisURL == "" {
			errs = append(errs, invalid("lease.redis_url must be set for the redis backend"))
		}
	case "etcd":
		if len(c.Lease.EtcdEndpoints) == 0 {
			errs = append(errs, invalid("lease.etcd_endpoints must be set for the etcd backend"))
		}
	default:
		errs = append(errs, invalid("lease.backend must be one of [store, redis, etcd], got %q", c.Lease.Backend))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error
	r := c.Retrieval

	if r.TopK <= 0 {
		errs = append(errs, invalid("retrieval.top_k must be greater than 0, got %d", r.TopK))
	}
	if r.TokenBudget <= 0 {
		errs = append(errs, invalid("retrieval.token_budget must be greater than 0, got %d", r.TokenBudget))
	}
	if r.MaxHops < 0 {
		errs = append(errs, invalid("retrieval.max_hops must not be negative, got %d", r.MaxHops))
	}
	if r.MaxNodes <= 0 {
		errs = append(errs, invalid("retrieval.max_nodes must be greater than 0, got %d", r.MaxNodes))
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, invalid("retrieval.temperature must be within [0, 2], got %g", r.Temperature))
	}
	if r.MaxTokens < 0 {
		errs = append(errs, invalid("retrieval.max_tokens must not be negative, got %d", r.MaxTokens))
	}
	for name, d := range map[string]time.Duration{
		"embed":      r.Timeouts.Embed,
		"vector":     r.Timeouts.Vector,
		"graph":      r.Timeouts.Graph,
		"generation": r.Timeouts.Generation,
	} {
		if d < 0 {
			errs = append(errs, invalid("retrieval.timeouts.%s must not be negative, got %s", name, d))
		}
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Server.Listen)
		if err != nil {
			errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
		} else if port, err := strconv.Atoi(portStr); err != nil {
			errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
		} else if port < 1 || port > 65535 {
			errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %d", port))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, invalid("server.rate_limit must not be negative, got %g", c.Server.RateLimit))
	} else if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		errs = append(errs, invalid("server.rate_burst must be greater than 0 when server.rate_limit is set, got %d", c.Server.RateBurst))
	}
	if c.Server.MaxQuestionLength <= 0 {
		errs = append(errs, invalid("server.max_question_length must be greater than 0, got %d", c.Server.MaxQuestionLength))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, invalid("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}

	return errs
}

func (c *Config) validateTelemetry() []error {
	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		return []error{invalid("telemetry.sample_rate must be within [0, 1], got %g", r)}
	}
	return nil
}

// providerFromModel extracts the provider prefix from a "provider/model" string.
func providerFromModel(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}
