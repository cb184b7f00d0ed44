// Package config resolves runtime configuration from an optional YAML file
// and environment overrides, in that order, with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config stores the full runtime configuration.
type Config struct {
	ASR     ASRConfig     `yaml:"asr"`
	Session SessionConfig `yaml:"session"`
	Rewrite RewriteConfig `yaml:"rewrite"`
	History HistoryConfig `yaml:"history"`
}

type ASRConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AppKey     string `yaml:"app_key"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`

	UserID         string `yaml:"user_id"`
	Model          string `yaml:"model"`
	EnableITN      bool   `yaml:"enable_itn"`
	EnablePunc     bool   `yaml:"enable_punc"`
	EnableDDC      bool   `yaml:"enable_ddc"`
	ShowUtterances bool   `yaml:"show_utterances"`

	SampleRate int `yaml:"sample_rate"`
	Bits       int `yaml:"bits"`
	Channels   int `yaml:"channels"`

	FlushIntervalMs int `yaml:"flush_interval_ms"`
	DialTimeoutMs   int `yaml:"dial_timeout_ms"`
}

type SessionConfig struct {
	AutoSaveHistory bool `yaml:"auto_save_history"`
	MaxHistorySize  int  `yaml:"max_history_size"`
	FinalWaitMs     int  `yaml:"final_wait_ms"`
	PollIntervalMs  int  `yaml:"poll_interval_ms"`
}

type RewriteConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutMs   int     `yaml:"timeout_ms"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

func defaults() Config {
	return Config{
		ASR: ASRConfig{
			Endpoint:        "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel",
			Model:           "bigmodel",
			EnableITN:       true,
			EnablePunc:      true,
			EnableDDC:       true,
			ShowUtterances:  true,
			SampleRate:      16000,
			Bits:            16,
			Channels:        1,
			FlushIntervalMs: 200,
			DialTimeoutMs:   10000,
		},
		Session: SessionConfig{
			AutoSaveHistory: true,
			MaxHistorySize:  50,
			FinalWaitMs:     5000,
			PollIntervalMs:  100,
		},
		Rewrite: RewriteConfig{
			Temperature: 0.3,
			MaxTokens:   4096,
			TimeoutMs:   30000,
		},
	}
}

// Load resolves configuration. path may be empty or point at a missing
// file; both fall back to defaults before environment overrides apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.ASR.SampleRate <= 0 {
		cfg.ASR.SampleRate = 16000
	}
	if cfg.ASR.Bits <= 0 {
		cfg.ASR.Bits = 16
	}
	if cfg.ASR.Channels <= 0 {
		cfg.ASR.Channels = 1
	}
	if cfg.ASR.FlushIntervalMs <= 0 {
		cfg.ASR.FlushIntervalMs = 200
	}
	if cfg.Session.MaxHistorySize <= 0 {
		cfg.Session.MaxHistorySize = 50
	}
	if cfg.Session.FinalWaitMs <= 0 {
		cfg.Session.FinalWaitMs = 5000
	}
	if cfg.Session.PollIntervalMs <= 0 {
		cfg.Session.PollIntervalMs = 100
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ASR.Endpoint = envOrDefault("MURMUR_ASR_ENDPOINT", cfg.ASR.Endpoint)
	cfg.ASR.AppKey = envOrDefault("MURMUR_ASR_APP_KEY", cfg.ASR.AppKey)
	cfg.ASR.AccessKey = envOrDefault("MURMUR_ASR_ACCESS_KEY", cfg.ASR.AccessKey)
	cfg.ASR.ResourceID = envOrDefault("MURMUR_ASR_RESOURCE_ID", cfg.ASR.ResourceID)
	cfg.ASR.UserID = envOrDefault("MURMUR_ASR_USER_ID", cfg.ASR.UserID)
	cfg.ASR.Model = envOrDefault("MURMUR_ASR_MODEL", cfg.ASR.Model)
	cfg.ASR.SampleRate = envOrDefaultInt("MURMUR_ASR_SAMPLE_RATE", cfg.ASR.SampleRate)
	cfg.ASR.Channels = envOrDefaultInt("MURMUR_ASR_CHANNELS", cfg.ASR.Channels)
	cfg.ASR.FlushIntervalMs = envOrDefaultInt("MURMUR_ASR_FLUSH_INTERVAL_MS", cfg.ASR.FlushIntervalMs)

	cfg.Session.AutoSaveHistory = envOrDefaultBool("MURMUR_AUTO_SAVE_HISTORY", cfg.Session.AutoSaveHistory)
	cfg.Session.MaxHistorySize = envOrDefaultInt("MURMUR_MAX_HISTORY_SIZE", cfg.Session.MaxHistorySize)
	cfg.Session.FinalWaitMs = envOrDefaultInt("MURMUR_FINAL_WAIT_MS", cfg.Session.FinalWaitMs)

	cfg.Rewrite.BaseURL = envOrDefault("MURMUR_REWRITE_BASE_URL", cfg.Rewrite.BaseURL)
	cfg.Rewrite.APIKey = envOrDefault("MURMUR_REWRITE_API_KEY", cfg.Rewrite.APIKey)
	cfg.Rewrite.Model = envOrDefault("MURMUR_REWRITE_MODEL", cfg.Rewrite.Model)

	cfg.History.Path = envOrDefault("MURMUR_HISTORY_PATH", cfg.History.Path)
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
