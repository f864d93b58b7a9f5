package main

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// duration lets yaml configs use "30m" style values.
type duration time.Duration

func (d *duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

type StorageConfig struct {
	Path          string   `yaml:"path"`
	Database      string   `yaml:"database"`
	MaxUploadSize int64    `yaml:"max_upload_size"`
	SessionTTL    duration `yaml:"session_ttl"`
	ReapInterval  duration `yaml:"reap_interval"`
}

type APIConfig struct {
	Port string `yaml:"port"`
	Key  string `yaml:"key"`
}

type LogoConfig struct {
	GoogleAPIKey string   `yaml:"google_api_key"`
	GoogleCX     string   `yaml:"google_cx"`
	Timeout      duration `yaml:"timeout"`
}

type MirrorConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Concurrency int    `yaml:"concurrency"`
}

type Config struct {
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Logo    LogoConfig    `yaml:"logo"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

func LoadConfig() *Config {
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Failed to read config file, using defaults: %v", err)
	} else if err := yaml.Unmarshal(data, config); err != nil {
		log.Printf("Failed to parse config file, using defaults: %v", err)
		config = defaultConfig()
	}

	applyEnvOverrides(config)

	if config.API.Key == "" {
		log.Fatal("API key must be set via FOLIO_API_KEY environment variable or config file")
	}

	// Log only a fingerprint of the key, never the key itself
	hasher := sha256.New()
	hasher.Write([]byte(config.API.Key))
	log.Printf("API key configured (hash prefix: %s...)", hex.EncodeToString(hasher.Sum(nil)[:8]))

	if config.Storage.MaxUploadSize <= 0 {
		config.Storage.MaxUploadSize = defaultConfig().Storage.MaxUploadSize
	}
	if config.Storage.SessionTTL <= 0 {
		config.Storage.SessionTTL = defaultConfig().Storage.SessionTTL
	}
	if config.Storage.ReapInterval <= 0 {
		config.Storage.ReapInterval = defaultConfig().Storage.ReapInterval
	}
	if config.Mirror.Concurrency <= 0 {
		config.Mirror.Concurrency = defaultConfig().Mirror.Concurrency
	}

	return config
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FOLIO_API_KEY"); v != "" {
		config.API.Key = v
	}
	if v := os.Getenv("FOLIO_PORT"); v != "" {
		config.API.Port = v
	}
	if v := os.Getenv("FOLIO_STORAGE_PATH"); v != "" {
		config.Storage.Path = v
	}
	if v := os.Getenv("GOOGLE_SEARCH_API_KEY"); v != "" {
		config.Logo.GoogleAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SEARCH_CX"); v != "" {
		config.Logo.GoogleCX = v
	}
	if v := os.Getenv("MIRROR_ACCESS_KEY"); v != "" {
		config.Mirror.AccessKey = v
	}
	if v := os.Getenv("MIRROR_SECRET_KEY"); v != "" {
		config.Mirror.SecretKey = v
	}
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:          "./storage",
			Database:      "./folio.db",
			MaxUploadSize: 50 * 1024 * 1024, // 50MB assembled
			SessionTTL:    duration(time.Hour),
			ReapInterval:  duration(10 * time.Minute),
		},
		API: APIConfig{
			Port: "8080",
		},
		Logo: LogoConfig{
			Timeout: duration(15 * time.Second),
		},
		Mirror: MirrorConfig{
			Region:      "us-east-1",
			Concurrency: 4,
		},
	}
}
