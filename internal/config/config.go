// Package config loads pipeline configuration from environment variables,
// with an optional YAML file mode for deployments that mount a config map.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig identifies the service and its monitoring endpoint.
type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// STTConfig configures the recognition backend.
type STTConfig struct {
	Provider       string        `yaml:"provider"` // google, mock
	LanguageCode   string        `yaml:"language_code"`
	Task           string        `yaml:"task"`
	SampleRateHz   int           `yaml:"sample_rate_hz"`
	InterimResults bool          `yaml:"interim_results"`
	AudioEncoding  string        `yaml:"audio_encoding"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// KafkaConfig configures the durable message stream.
type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	TopicTranscripts string   `yaml:"topic_transcripts"`
	TopicSpeakers    string   `yaml:"topic_speakers"`
}

// PipelineConfig configures audio processing and publication.
type PipelineConfig struct {
	TargetSampleRateHz int           `yaml:"target_sample_rate_hz"`
	PublishTimeout     time.Duration `yaml:"publish_timeout"`
	CommandBuffer      int           `yaml:"command_buffer"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:   envOrDefault("SERVICE_PRINCIPAL", "svc-meet-transcription"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			Task:           envOrDefault("STT_TASK", "transcribe"),
			SampleRateHz:   envInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults: envBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			ConnectTimeout: envDuration("STT_CONNECT_TIMEOUT", 10*time.Second),
			ReconnectDelay: envDuration("STT_RECONNECT_DELAY", time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:          envBool("KAFKA_ENABLED", false),
			Brokers:          envList("KAFKA_BROKERS", nil),
			TopicTranscripts: envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", "meeting.transcripts"),
			TopicSpeakers:    envOrDefault("KAFKA_TOPIC_SPEAKERS", "meeting.speakers"),
		},
		Pipeline: PipelineConfig{
			TargetSampleRateHz: envInt("PIPELINE_TARGET_SAMPLE_RATE_HZ", 16000),
			PublishTimeout:     envDuration("PIPELINE_PUBLISH_TIMEOUT", 5*time.Second),
			CommandBuffer:      envInt("PIPELINE_COMMAND_BUFFER", 256),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

// LoadFile reads configuration from a YAML file and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Load() // file values override env/defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration section by section.
func (c *Config) Validate() error {
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka config: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}
	return nil
}

// Validate validates the STT section.
func (s *STTConfig) Validate() error {
	switch s.Provider {
	case "google", "mock":
	default:
		return fmt.Errorf("provider must be 'google' or 'mock', got %q", s.Provider)
	}
	if err := ValidateLanguage(s.LanguageCode); err != nil {
		return err
	}
	if _, err := NormalizeTask(s.Task); err != nil {
		return err
	}
	if s.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %d", s.SampleRateHz)
	}
	return nil
}

// Validate validates the Kafka section.
func (k *KafkaConfig) Validate() error {
	if k.Enabled && len(k.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// Validate validates the pipeline section.
func (p *PipelineConfig) Validate() error {
	if p.TargetSampleRateHz <= 0 {
		return fmt.Errorf("target_sample_rate_hz must be positive, got %d", p.TargetSampleRateHz)
	}
	if p.CommandBuffer < 1 {
		return fmt.Errorf("command_buffer must be at least 1, got %d", p.CommandBuffer)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
