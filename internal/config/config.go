package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	CacheDir           string           `json:"cache_dir"`
	DBPath             string           `json:"db_path"`
	Debug              bool             `json:"debug"`
	MaxCharsPerDoc     int              `json:"max_chars_per_doc"`
	PromptTemplatePath string           `json:"prompt_template_path"`
	ResponseFormat     string           `json:"response_format"`
	LogConfig          logger.LogConfig `json:"log_config"`
	AWS                AWSConfig        `json:"aws"`
	Model              ModelConfig      `json:"model"`
	OCR                OCRConfig        `json:"ocr"`
	Schedule           ScheduleConfig   `json:"schedule"`
}

type AWSConfig struct {
	Region string `json:"region"`
}

type ModelConfig struct {
	Provider       string      `json:"provider"`
	ModelID        string      `json:"model_id"`
	MaxRetries     int         `json:"max_retries"`
	MaxTokensFloor int         `json:"max_tokens_floor"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Data           interface{} `json:"data"`
}

type OCRConfig struct {
	BucketPrefix        string `json:"bucket_prefix"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
}

type ScheduleConfig struct {
	CacheCleanupSpec string `json:"cache_cleanup_spec"`
	CacheMaxAgeHours int    `json:"cache_max_age_hours"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "policy_cache"
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	if cfg.PromptTemplatePath == "" {
		return nil, fmt.Errorf("prompt_template_path is required")
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = "json"
	}
	if cfg.ResponseFormat != "json" && cfg.ResponseFormat != "text" {
		return nil, fmt.Errorf("response_format must be json or text")
	}
	if cfg.MaxCharsPerDoc < 0 {
		return nil, fmt.Errorf("max_chars_per_doc must be >= 0")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "bedrock"
	}
	if cfg.Model.ModelID == "" {
		return nil, fmt.Errorf("model.model_id is required")
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 10
	}
	if cfg.Model.MaxTokensFloor == 0 {
		cfg.Model.MaxTokensFloor = 5000
	}
	if cfg.Model.TimeoutSeconds == 0 {
		cfg.Model.TimeoutSeconds = 600
	}
	if cfg.OCR.BucketPrefix == "" {
		cfg.OCR.BucketPrefix = "poleval-ocr"
	}
	if cfg.OCR.PollIntervalSeconds == 0 {
		cfg.OCR.PollIntervalSeconds = 5
	}
	if cfg.OCR.TimeoutSeconds == 0 {
		cfg.OCR.TimeoutSeconds = 300
	}
	if cfg.Schedule.CacheCleanupSpec == "" {
		cfg.Schedule.CacheCleanupSpec = "0 * * * *"
	}
	if cfg.Schedule.CacheMaxAgeHours == 0 {
		cfg.Schedule.CacheMaxAgeHours = 24
	}
	return &cfg, nil
}
