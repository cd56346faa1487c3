// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consultant

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the consultant service configuration. Values come from
// defaults, then an optional YAML file (CONSULTANT_CONFIG_FILE), then
// environment variables, strongest last.
type Config struct {
	Port      string `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
	DBPath    string `yaml:"db_path"`

	WeaviateURL string `yaml:"weaviate_url"`

	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`

	// AcceptThreshold is the minimum relevance an audio resource must
	// exceed to be surfaced in a chat answer.
	AcceptThreshold float64 `yaml:"accept_threshold"`

	// ResolveTopK is how many vector candidates the resolver inspects.
	ResolveTopK int `yaml:"resolve_top_k"`

	SessionCacheSize int           `yaml:"session_cache_size"`
	SessionIdleTTL   time.Duration `yaml:"session_idle_ttl"`

	// TurnBufferSize bounds the write-behind history buffer.
	TurnBufferSize int `yaml:"turn_buffer_size"`

	// ExternalCallTimeout is the per-call deadline applied to LLM,
	// transcription, and vector store round trips.
	ExternalCallTimeout time.Duration `yaml:"external_call_timeout"`

	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:             "12410",
		UploadDir:        "uploads",
		DBPath:           "data/consultaudio.db",
		AcceptThreshold:  0.3,
		ResolveTopK:      5,
		SessionCacheSize: 256,
		SessionIdleTTL:   30 * time.Minute,
		TurnBufferSize:   64,

		ExternalCallTimeout: 60 * time.Second,
	}
}

// LoadConfig builds the effective configuration.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONSULTANT_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "CONSULTANT_PORT")
	setString(&c.UploadDir, "UPLOAD_DIR")
	setString(&c.DBPath, "CONSULTANT_DB_PATH")
	setString(&c.WeaviateURL, "WEAVIATE_SERVICE_URL")
	setString(&c.ChatModel, "OPENAI_CHAT_MODEL")
	setString(&c.EmbedModel, "OPENAI_EMBED_MODEL")
	setString(&c.LogDir, "CONSULTANT_LOG_DIR")
	setFloat(&c.AcceptThreshold, "ACCEPT_THRESHOLD")
	setInt(&c.ResolveTopK, "RESOLVE_TOP_K")
	setInt(&c.SessionCacheSize, "SESSION_CACHE_SIZE")
	setInt(&c.TurnBufferSize, "TURN_BUFFER_SIZE")
	setDuration(&c.SessionIdleTTL, "SESSION_IDLE_TTL")
	setDuration(&c.ExternalCallTimeout, "EXTERNAL_CALL_TIMEOUT")
}

func (c *Config) validate() error {
	if c.AcceptThreshold < 0 || c.AcceptThreshold >= 1 {
		return fmt.Errorf("accept_threshold must be in [0, 1), got %v", c.AcceptThreshold)
	}
	if c.SessionCacheSize < 1 {
		return fmt.Errorf("session_cache_size must be positive, got %d", c.SessionCacheSize)
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("session_idle_ttl must be positive, got %v", c.SessionIdleTTL)
	}
	if c.ExternalCallTimeout <= 0 {
		return fmt.Errorf("external_call_timeout must be positive, got %v", c.ExternalCallTimeout)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
