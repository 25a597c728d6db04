package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main recall configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Database path, defaults to <data_dir>/recall.db
	DBPath string `json:"db_path" mapstructure:"db_path"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Embedding provider
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`

	Retrieval     RetrievalConfig     `json:"retrieval" mapstructure:"retrieval"`
	Consolidation ConsolidationConfig `json:"consolidation" mapstructure:"consolidation"`
	Decay         DecayConfig         `json:"decay" mapstructure:"decay"`
	Reinforcement ReinforcementConfig `json:"reinforcement" mapstructure:"reinforcement"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 0 keeps all
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider  string `json:"provider" mapstructure:"provider"` // openai, hash
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	Model     string `json:"model" mapstructure:"model"`
	Dimension int    `json:"dimension" mapstructure:"dimension"`
	TimeoutMs int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	CacheSize int    `json:"cache_size" mapstructure:"cache_size"`
}

// RetrievalConfig tunes the hybrid retriever
type RetrievalConfig struct {
	K              int `json:"k" mapstructure:"k"`
	CandidateDepth int `json:"candidate_depth" mapstructure:"candidate_depth"`
	RRFK           int `json:"rrf_k" mapstructure:"rrf_k"`
	TimeoutMs      int `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// ConsolidationConfig tunes merge detection
type ConsolidationConfig struct {
	MergeThreshold float64 `json:"merge_threshold" mapstructure:"merge_threshold"`
	CandidateLimit int     `json:"candidate_limit" mapstructure:"candidate_limit"`
}

// DecayConfig controls the periodic decay job
type DecayConfig struct {
	Enabled          bool   `json:"enabled" mapstructure:"enabled"`
	Schedule         string `json:"schedule" mapstructure:"schedule"`
	PeriodDays       int    `json:"period_days" mapstructure:"period_days"`
	CleanupAfterDays int    `json:"cleanup_after_days" mapstructure:"cleanup_after_days"`
	BatchSize        int    `json:"batch_size" mapstructure:"batch_size"`
	RunTimeoutMs     int    `json:"run_timeout_ms" mapstructure:"run_timeout_ms"`
}

// ReinforcementConfig sizes the asynchronous reinforcement queue
type ReinforcementConfig struct {
	Workers    int `json:"workers" mapstructure:"workers"`
	QueueSize  int `json:"queue_size" mapstructure:"queue_size"`
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	File       string `json:"file" mapstructure:"file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // 0 keeps every rotated file
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"` // fraction of root traces recorded
	Exporter    string  `json:"exporter" mapstructure:"exporter"`         // none or log
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Audit: AuditConfig{
			MaxSize:  50,
			Compress: true,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			TimeoutMs: 8000,
			CacheSize: 1024,
		},
		Retrieval: RetrievalConfig{
			K:              5,
			CandidateDepth: 20,
			RRFK:           60,
			TimeoutMs:      8000,
		},
		Consolidation: ConsolidationConfig{
			MergeThreshold: 0.80,
			CandidateLimit: 5,
		},
		Decay: DecayConfig{
			Enabled:          true,
			Schedule:         "@every 6h",
			PeriodDays:       30,
			CleanupAfterDays: 90,
			BatchSize:        500,
			RunTimeoutMs:     600000,
		},
		Reinforcement: ReinforcementConfig{
			Workers:    2,
			QueueSize:  256,
			MaxRetries: 5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "recall",
			SampleRatio: 1.0,
			Exporter:    "none",
		},
	}
}

// EmbeddingTimeout returns the embedding call timeout
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Embedding.TimeoutMs) * time.Millisecond
}

// SearchTimeout returns the per-branch search timeout
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Retrieval.TimeoutMs) * time.Millisecond
}

// DecayRunTimeout returns the maximum duration of one decay run
func (c *Config) DecayRunTimeout() time.Duration {
	return time.Duration(c.Decay.RunTimeoutMs) * time.Millisecond
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Embedding.APIKey != "" {
		masked.Embedding.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding api_key is required for the openai provider")
		}
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding model is required for the openai provider")
		}
	case "hash":
	default:
		return fmt.Errorf("invalid embedding provider %q (must be: openai, hash)", c.Embedding.Provider)
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	if c.Consolidation.MergeThreshold <= 0 || c.Consolidation.MergeThreshold > 1 {
		return fmt.Errorf("consolidation merge_threshold must be in (0, 1], got %g", c.Consolidation.MergeThreshold)
	}

	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.CandidateDepth < c.Retrieval.K {
		return fmt.Errorf("retrieval candidate_depth (%d) must be at least k (%d)", c.Retrieval.CandidateDepth, c.Retrieval.K)
	}

	if c.Decay.Enabled && c.Decay.Schedule == "" {
		return fmt.Errorf("decay schedule is required when decay is enabled")
	}

	if c.Audit.MaxSize < 0 || c.Audit.MaxBackups < 0 {
		return fmt.Errorf("audit max_size and max_backups must not be negative")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be in [0, 1], got %g", c.Tracing.SampleRatio)
	}

	return nil
}
