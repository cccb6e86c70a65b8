// Package config provides the configuration structure for the
// reflection-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                        string `toml:"url"`
	ReflectionStreamName       string `toml:"reflection_stream_name"`
	ReflectionConsumerName     string `toml:"reflection_consumer_name"`
	ReflectionRequestedSubject string `toml:"reflection_requested_subject"`
	FeelingsBucket             string `toml:"feelings_bucket"`
	SubscribersBucket          string `toml:"subscribers_bucket"`
	ArtifactObjectStoreBucket  string `toml:"artifact_object_store_bucket"`
}

// LLMConfig holds the completion capability settings. The API key comes
// from the environment, not from the document.
type LLMConfig struct {
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	MaxTokens      int    `toml:"max_tokens"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SpeechConfig holds the speech synthesis persona and delivery style.
type SpeechConfig struct {
	BaseURL         string  `toml:"base_url"`
	VoiceID         string  `toml:"voice_id"`
	ModelID         string  `toml:"model_id"`
	Stability       float64 `toml:"stability"`
	SimilarityBoost float64 `toml:"similarity_boost"`
	Style           float64 `toml:"style"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

// ReferenceConfig holds the daily reference text source.
type ReferenceConfig struct {
	URL            string `toml:"url"`
	Selector       string `toml:"selector"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AudioConfig holds the backing bed and export settings.
type AudioConfig struct {
	BedPath     string `toml:"bed_path"`
	BitrateKbps int    `toml:"bitrate_kbps"`
}

// ArtifactsConfig holds retrieval link settings.
type ArtifactsConfig struct {
	PublicBaseURL string `toml:"public_base_url"`
	LinkTTLHours  int    `toml:"link_ttl_hours"`
}

// SMTPConfig holds the notifier's mail settings. The password comes from
// the environment.
type SMTPConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Username     string `toml:"username"`
	FromAddress  string `toml:"from_address"`
	AdminAddress string `toml:"admin_address"`
}

// PipelineConfig holds the worker execution knobs.
type PipelineConfig struct {
	LookbackDays          int `toml:"lookback_days"`
	Workers               int `toml:"workers"`
	ItemTimeoutSeconds    int `toml:"item_timeout_seconds"`
	RetryAttempts         int `toml:"retry_attempts"`
	RetryDelaySeconds     int `toml:"retry_delay_seconds"`
	RateLimitDelaySeconds int `toml:"rate_limit_delay_seconds"`
	MaxDeliver            int `toml:"max_deliver"`
}

// ScheduleConfig holds the cron expressions, evaluated in Timezone.
type ScheduleConfig struct {
	Timezone    string `toml:"timezone"`
	MorningCron string `toml:"morning_cron"`
	EveningCron string `toml:"evening_cron"`
	CheckInCron string `toml:"check_in_cron"`
	ReportCron  string `toml:"report_cron"`
}

// HTTPConfig holds the artifact/journal listener settings.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	LLM       LLMConfig       `toml:"llm"`
	Speech    SpeechConfig    `toml:"speech"`
	Reference ReferenceConfig `toml:"reference"`
	Audio     AudioConfig     `toml:"audio"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	SMTP      SMTPConfig      `toml:"smtp"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	HTTP      HTTPConfig      `toml:"http"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load loads the configuration for the reflection-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills in the values the document may omit. These mirror the
// product defaults: a 365-day lookback, 24-hour links, a three-minute item
// budget, and three retry attempts.
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.LookbackDays == 0 {
		cfg.Pipeline.LookbackDays = 365
	}

	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}

	if cfg.Pipeline.ItemTimeoutSeconds == 0 {
		cfg.Pipeline.ItemTimeoutSeconds = 180
	}

	if cfg.Pipeline.RetryAttempts == 0 {
		cfg.Pipeline.RetryAttempts = 3
	}

	if cfg.Pipeline.RetryDelaySeconds == 0 {
		cfg.Pipeline.RetryDelaySeconds = 2
	}

	if cfg.Pipeline.RateLimitDelaySeconds == 0 {
		cfg.Pipeline.RateLimitDelaySeconds = 15
	}

	if cfg.Pipeline.MaxDeliver == 0 {
		cfg.Pipeline.MaxDeliver = 5
	}

	if cfg.Artifacts.LinkTTLHours == 0 {
		cfg.Artifacts.LinkTTLHours = 24
	}
}
