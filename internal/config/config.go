package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	MaxWorkers     = 16
	MaxRetryBudget = 20
)

// Config хранит настройки мигратора: БД, HTTP, пул воркеров и коллабораторов.
type Config struct {
	DatabaseURL     string `json:"database_url" yaml:"database_url" env:"DATABASE_URL"`
	HTTPAddr        string `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR"`
	Workers         int    `json:"workers" yaml:"workers" env:"WORKERS"`
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MaxPosts        int    `json:"max_posts" yaml:"max_posts" env:"MAX_POSTS"`
	DuePollSchedule string `json:"due_poll_schedule" yaml:"due_poll_schedule" env:"DUE_POLL_SCHEDULE"`

	Rewrite RewriteConfig `json:"rewrite" yaml:"rewrite"`
	Extract ExtractConfig `json:"extract" yaml:"extract"`
	Publish PublishConfig `json:"publish" yaml:"publish"`
}

// RewriteConfig описывает провайдера AI-переписывания.
type RewriteConfig struct {
	Provider          string `json:"provider" yaml:"provider" env:"REWRITE_PROVIDER"`
	Model             string `json:"model" yaml:"model" env:"REWRITE_MODEL"`
	BaseURL           string `json:"base_url" yaml:"base_url" env:"REWRITE_BASE_URL"`
	APIKey            string `json:"api_key" yaml:"api_key" env:"REWRITE_API_KEY"`
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute" env:"REWRITE_REQUESTS_PER_MINUTE"`

	GeminiAPIKey    string `json:"-" yaml:"-" env:"GEMINI_API_KEY"`
	OpenAIAPIKey    string `json:"-" yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `json:"-" yaml:"-" env:"ANTHROPIC_API_KEY"`
}

// Key возвращает ключ провайдера: явный api_key или переменную окружения провайдера.
func (r RewriteConfig) Key() string {
	if r.APIKey != "" {
		return r.APIKey
	}
	switch r.Provider {
	case ProviderGemini:
		return r.GeminiAPIKey
	case ProviderOpenAI:
		return r.OpenAIAPIKey
	case ProviderAnthropic:
		return r.AnthropicAPIKey
	}
	return ""
}

type ExtractConfig struct {
	UserAgent      string `json:"user_agent" yaml:"user_agent" env:"EXTRACT_USER_AGENT"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"EXTRACT_TIMEOUT_SECONDS"`
}

func (e ExtractConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type PublishConfig struct {
	ImageTimeoutSeconds int `json:"image_timeout_seconds" yaml:"image_timeout_seconds" env:"PUBLISH_IMAGE_TIMEOUT_SECONDS"`
	MaxImages           int `json:"max_images" yaml:"max_images" env:"PUBLISH_MAX_IMAGES"`
}

func (p PublishConfig) ImageTimeout() time.Duration {
	return time.Duration(p.ImageTimeoutSeconds) * time.Second
}

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		Workers:         2,
		MaxAttempts:     3,
		MaxPosts:        10,
		DuePollSchedule: "* * * * *",
		Rewrite: RewriteConfig{
			Provider:          ProviderGemini,
			Model:             "gemini-2.0-flash-exp",
			RequestsPerMinute: 15,
		},
		Extract: ExtractConfig{
			UserAgent:      "Mozilla/5.0 (compatible; blog-migrator/1.0)",
			TimeoutSeconds: 30,
		},
		Publish: PublishConfig{
			ImageTimeoutSeconds: 10,
			MaxImages:           5,
		},
	}
}

// Validate проверяет границы пула, число попыток, cron-выражение и провайдера.
func (cfg *Config) Validate() error {
	if cfg.DatabaseURL == "" {
		return errors.New("database url is required")
	}
	if cfg.Workers < 1 || cfg.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d", MaxWorkers)
	}
	if cfg.MaxAttempts < 1 || cfg.MaxAttempts > MaxRetryBudget {
		return fmt.Errorf("max attempts must be between 1 and %d", MaxRetryBudget)
	}
	if cfg.MaxPosts < 1 {
		return errors.New("max posts must be at least 1")
	}
	if _, err := cron.ParseStandard(cfg.DuePollSchedule); err != nil {
		return fmt.Errorf("invalid due poll schedule %q: %w", cfg.DuePollSchedule, err)
	}
	switch cfg.Rewrite.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown rewrite provider: %s", cfg.Rewrite.Provider)
	}
	if cfg.Rewrite.RequestsPerMinute < 0 {
		return errors.New("requests per minute must not be negative")
	}
	if cfg.Publish.MaxImages < 0 || cfg.Publish.MaxImages > 5 {
		return errors.New("max images must be between 0 and 5")
	}
	return nil
}

// LoadConfig читает JSON или YAML (по расширению) поверх значений по умолчанию
// и применяет переменные окружения. Пустой path означает только окружение.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv подгружает .env-файлы, отсутствующие пропускаются.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
