package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/harun/recall/pkg/decay"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if provider != "openai" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}

// ValidateProvider validates the embedding provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"openai", "hash"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid embedding provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateThreshold validates a similarity threshold
func (v *Validator) ValidateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("merge threshold must be in (0, 1], got %g", threshold)
	}
	if threshold < 0.5 {
		return fmt.Errorf("merge threshold %g would merge unrelated facts (minimum 0.5)", threshold)
	}
	return nil
}

// ValidateSchedule validates a decay cron expression
func (v *Validator) ValidateSchedule(schedule string) error {
	return decay.ValidateSchedule(schedule)
}

// ValidateListen validates a host:port listen address
func (v *Validator) ValidateListen(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateTracing validates the sampler ratio and exporter name
func (v *Validator) ValidateTracing(cfg TracingConfig) error {
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %g", cfg.SampleRatio)
	}
	switch cfg.Exporter {
	case "", "none", "log":
		return nil
	}
	return fmt.Errorf("invalid tracing exporter: %s (must be one of: none, log)", cfg.Exporter)
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Embedding.Provider); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateAPIKey(cfg.Embedding.APIKey, cfg.Embedding.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Embedding.Dimension <= 0 {
		errors = append(errors, fmt.Errorf("embedding.dimension must be positive"))
	}
	if cfg.Embedding.TimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("embedding.timeout_ms must be >= 0"))
	}
	if cfg.Embedding.CacheSize < 0 {
		errors = append(errors, fmt.Errorf("embedding.cache_size must be >= 0"))
	}

	if cfg.Retrieval.K <= 0 {
		errors = append(errors, fmt.Errorf("retrieval.k must be positive"))
	}
	if cfg.Retrieval.CandidateDepth < cfg.Retrieval.K {
		errors = append(errors, fmt.Errorf("retrieval.candidate_depth must be >= retrieval.k"))
	}
	if cfg.Retrieval.RRFK <= 0 {
		errors = append(errors, fmt.Errorf("retrieval.rrf_k must be positive"))
	}

	if err := v.ValidateThreshold(cfg.Consolidation.MergeThreshold); err != nil {
		errors = append(errors, err)
	}

	if cfg.Decay.Enabled {
		if err := v.ValidateSchedule(cfg.Decay.Schedule); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Decay.PeriodDays <= 0 {
		errors = append(errors, fmt.Errorf("decay.period_days must be positive"))
	}
	if cfg.Decay.CleanupAfterDays < cfg.Decay.PeriodDays {
		errors = append(errors, fmt.Errorf("decay.cleanup_after_days must be >= decay.period_days"))
	}

	if cfg.Reinforcement.Workers <= 0 {
		errors = append(errors, fmt.Errorf("reinforcement.workers must be positive"))
	}
	if cfg.Reinforcement.QueueSize < 0 {
		errors = append(errors, fmt.Errorf("reinforcement.queue_size must be >= 0"))
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateListen(cfg.Metrics.Listen); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Tracing.Enabled {
		if err := v.ValidateTracing(cfg.Tracing); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
