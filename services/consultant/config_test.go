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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "12410", cfg.Port)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.InDelta(t, 0.3, cfg.AcceptThreshold, 1e-9)
	assert.Equal(t, 256, cfg.SessionCacheSize)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 60*time.Second, cfg.ExternalCallTimeout)
}

func TestLoadConfig_ExternalCallTimeout(t *testing.T) {
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "90s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.ExternalCallTimeout)
}

func TestLoadConfig_RejectsNonPositiveTimeout(t *testing.T) {
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "-1s")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_call_timeout")
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: \"9000\"\naccept_threshold: 0.5\nsession_cache_size: 32\n"), 0o644))
	t.Setenv("CONSULTANT_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.InDelta(t, 0.5, cfg.AcceptThreshold, 1e-9)
	assert.Equal(t, 32, cfg.SessionCacheSize)
	assert.Equal(t, "uploads", cfg.UploadDir, "unset keys keep their defaults")
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"9000\"\n"), 0o644))
	t.Setenv("CONSULTANT_CONFIG_FILE", path)
	t.Setenv("CONSULTANT_PORT", "9100")
	t.Setenv("ACCEPT_THRESHOLD", "0.45")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port)
	assert.InDelta(t, 0.45, cfg.AcceptThreshold, 1e-9)
}

func TestLoadConfig_RejectsBadThreshold(t *testing.T) {
	t.Setenv("ACCEPT_THRESHOLD", "1.5")
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accept_threshold")
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	t.Setenv("CONSULTANT_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}
