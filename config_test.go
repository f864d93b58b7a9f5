package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FOLIO_API_KEY", "env-key")
	t.Setenv("FOLIO_STORAGE_PATH", "")

	config := LoadConfig()

	assert.Equal(t, "8080", config.API.Port)
	assert.Equal(t, "env-key", config.API.Key)
	assert.Equal(t, "./storage", config.Storage.Path)
	assert.Equal(t, int64(50*1024*1024), config.Storage.MaxUploadSize)
	assert.Equal(t, time.Hour, time.Duration(config.Storage.SessionTTL))
	assert.Equal(t, 4, config.Mirror.Concurrency)
}

func TestLoadConfigFromFile(t *testing.T) {
	configYAML := `
storage:
  path: /data/assets
  database: /data/folio.db
  max_upload_size: 1048576
  session_ttl: "30m"
  reap_interval: "5m"
api:
  port: "9090"
  key: "file-key"
logo:
  google_api_key: "g-key"
  google_cx: "g-cx"
  timeout: "5s"
mirror:
  enabled: true
  bucket: folio-backup
  region: eu-west-1
  concurrency: 2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("FOLIO_API_KEY", "")
	t.Setenv("FOLIO_PORT", "")
	t.Setenv("FOLIO_STORAGE_PATH", "")
	t.Setenv("GOOGLE_SEARCH_API_KEY", "")

	config := LoadConfig()

	assert.Equal(t, "/data/assets", config.Storage.Path)
	assert.Equal(t, int64(1048576), config.Storage.MaxUploadSize)
	assert.Equal(t, 30*time.Minute, time.Duration(config.Storage.SessionTTL))
	assert.Equal(t, 5*time.Minute, time.Duration(config.Storage.ReapInterval))
	assert.Equal(t, "9090", config.API.Port)
	assert.Equal(t, "file-key", config.API.Key)
	assert.Equal(t, "g-key", config.Logo.GoogleAPIKey)
	assert.Equal(t, 5*time.Second, time.Duration(config.Logo.Timeout))
	assert.True(t, config.Mirror.Enabled)
	assert.Equal(t, "folio-backup", config.Mirror.Bucket)
	assert.Equal(t, "eu-west-1", config.Mirror.Region)
	assert.Equal(t, 2, config.Mirror.Concurrency)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configYAML := `
api:
  port: "9090"
  key: "file-key"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("FOLIO_API_KEY", "env-wins")
	t.Setenv("FOLIO_PORT", "7070")
	t.Setenv("GOOGLE_SEARCH_API_KEY", "env-g-key")

	config := LoadConfig()

	assert.Equal(t, "env-wins", config.API.Key)
	assert.Equal(t, "7070", config.API.Port)
	assert.Equal(t, "env-g-key", config.Logo.GoogleAPIKey)
}
