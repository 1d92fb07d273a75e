package config

import (
	"fmt"
	"strings"
	"time"

	"smmswarm/internal/logging"
)

// Config is the complete runtime configuration of the assistant.
type Config struct {
	LLM           LLMConfig           `mapstructure:"llm" yaml:"llm"`
	Session       SessionConfig       `mapstructure:"session" yaml:"session"`
	Chat          ChatConfig          `mapstructure:"chat" yaml:"chat"`
	Images        ImagesConfig        `mapstructure:"images" yaml:"images"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// LLMConfig configures the model invocation gateway.
type LLMConfig struct {
	Provider           string         `mapstructure:"provider" yaml:"provider"` // openai, ollama
	BaseURL            string         `mapstructure:"base_url" yaml:"base_url"`
	APIKey             string         `mapstructure:"api_key" yaml:"api_key"`
	LightModel         string         `mapstructure:"light_model" yaml:"light_model"`
	HardModel          string         `mapstructure:"hard_model" yaml:"hard_model"`
	ImageModel         string         `mapstructure:"image_model" yaml:"image_model"`
	FallbackImageModel string         `mapstructure:"fallback_image_model" yaml:"fallback_image_model"`
	ImageQuality       string         `mapstructure:"image_quality" yaml:"image_quality"`
	ImageBaseURL       string         `mapstructure:"image_base_url" yaml:"image_base_url"`
	Timeout            time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Retries            int            `mapstructure:"retries" yaml:"retries"`
	Backoff            time.Duration  `mapstructure:"backoff" yaml:"backoff"`
	MinOutputTokens    int            `mapstructure:"min_output_tokens" yaml:"min_output_tokens"`
	MaxOutputTokens    int            `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	RetryFloorTokens   int            `mapstructure:"retry_floor_tokens" yaml:"retry_floor_tokens"`
	TaskBudgets        map[string]int `mapstructure:"task_budgets" yaml:"task_budgets"`
	UserRateLimitRPS   float64        `mapstructure:"user_rate_limit_rps" yaml:"user_rate_limit_rps"`
	UserRateLimitBurst int            `mapstructure:"user_rate_limit_burst" yaml:"user_rate_limit_burst"`
}

// SessionConfig configures clarification sessions and their storage.
type SessionConfig struct {
	Backend          string        `mapstructure:"backend" yaml:"backend"` // memory, redis
	TTL              time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxQuestions     int           `mapstructure:"max_questions" yaml:"max_questions"`
	RedisAddr        string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB          int           `mapstructure:"redis_db" yaml:"redis_db"`
	RedisKeyPrefix   string        `mapstructure:"redis_key_prefix" yaml:"redis_key_prefix"`
}

// ChatConfig configures the conversational assistant.
type ChatConfig struct {
	HistoryLimit    int  `mapstructure:"history_limit" yaml:"history_limit"`
	ScopeClassifier bool `mapstructure:"scope_classifier" yaml:"scope_classifier"` // ask the model about borderline messages
	Shorten         bool `mapstructure:"shorten" yaml:"shorten"`
}

// ImagesConfig configures the composition pipeline and image storage.
type ImagesConfig struct {
	Storage       string        `mapstructure:"storage" yaml:"storage"` // fs, minio
	Root          string        `mapstructure:"root" yaml:"root"`
	MaxVariants   int           `mapstructure:"max_variants" yaml:"max_variants"`
	CacheSize     int           `mapstructure:"cache_size" yaml:"cache_size"`
	IndexSize     int           `mapstructure:"index_size" yaml:"index_size"`
	IndexTTL      time.Duration `mapstructure:"index_ttl" yaml:"index_ttl"`
	MinioEndpoint string        `mapstructure:"minio_endpoint" yaml:"minio_endpoint"`
	MinioBucket   string        `mapstructure:"minio_bucket" yaml:"minio_bucket"`
	MinioAccess   string        `mapstructure:"minio_access_key" yaml:"minio_access_key"`
	MinioSecret   string        `mapstructure:"minio_secret_key" yaml:"minio_secret_key"`
	MinioSecure   bool          `mapstructure:"minio_secure" yaml:"minio_secure"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	EnableCORS   bool          `mapstructure:"enable_cors" yaml:"enable_cors"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging logging.Config `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
}

// Default returns a configuration that runs against the public OpenAI API
// with in-memory sessions and filesystem image storage.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:           "openai",
			BaseURL:            "https://api.openai.com/v1",
			LightModel:         "gpt-4o-mini",
			HardModel:          "gpt-5-mini",
			ImageModel:         "gpt-image-1",
			FallbackImageModel: "dall-e-3",
			ImageQuality:       "auto",
			Timeout:            60 * time.Second,
			Retries:            2,
			Backoff:            800 * time.Millisecond,
			MinOutputTokens:    256,
			MaxOutputTokens:    8000,
			RetryFloorTokens:   2400,
			TaskBudgets:        DefaultTaskBudgets(),
			UserRateLimitRPS:   2,
			UserRateLimitBurst: 5,
		},
		Session: SessionConfig{
			Backend:        "memory",
			TTL:            2 * time.Hour,
			MaxQuestions:   6,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "smm:session:",
		},
		Chat: ChatConfig{
			HistoryLimit:    20,
			ScopeClassifier: true,
			Shorten:         true,
		},
		Images: ImagesConfig{
			Storage:     "fs",
			Root:        "./data/images",
			MaxVariants: 3,
			CacheSize:   128,
			IndexSize:   4096,
			IndexTTL:    24 * time.Hour,
			MinioBucket: "smm-images",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			EnableCORS:   true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			Logging: logging.Config{Level: "info", Format: "text"},
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{
				Exporter:     "otlp",
				OTLPEndpoint: "localhost:4318",
				SampleRate:   1.0,
				ServiceName:  "smmswarm",
			},
		},
	}
}

// DefaultTaskBudgets are the output-token budgets used when a caller does not
// pass one explicitly.
func DefaultTaskBudgets() map[string]int {
	return map[string]int{
		"default":     1200,
		"router":      400,
		"clarify":     300,
		"qc":          320,
		"image_brief": 700,
		"strategy":    2200,
		"content":     2000,
		"analytics":   1600,
		"promo":       1600,
		"trends":      1600,
		"assistant":   1200,
		"facts":       500,
		"summary":     400,
		"scope":       200,
		"qc_shorten":  700,
	}
}

// Validate rejects configurations the services cannot run with.
func (c Config) Validate() error {
	var problems []string
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of openai, ollama", c.LLM.Provider))
	}
	if c.LLM.LightModel == "" || c.LLM.HardModel == "" {
		problems = append(problems, "llm.light_model and llm.hard_model are required")
	}
	if c.LLM.MinOutputTokens <= 0 || c.LLM.MaxOutputTokens < c.LLM.MinOutputTokens {
		problems = append(problems, "llm output token range must satisfy 0 < min <= max")
	}
	if c.LLM.Retries < 0 {
		problems = append(problems, "llm.retries must be >= 0")
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("session.backend %q is not one of memory, redis", c.Session.Backend))
	}
	if c.Session.MaxQuestions < 0 {
		problems = append(problems, "session.max_questions must be >= 0")
	}
	if c.Chat.HistoryLimit < 0 {
		problems = append(problems, "chat.history_limit must be >= 0")
	}
	switch c.Images.Storage {
	case "fs", "minio":
	default:
		problems = append(problems, fmt.Sprintf("images.storage %q is not one of fs, minio", c.Images.Storage))
	}
	if c.Images.MaxVariants < 1 {
		problems = append(problems, "images.max_variants must be >= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
