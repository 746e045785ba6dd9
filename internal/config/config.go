// Package config provides configuration loading and structs for the IntelliLearn client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvAPIURL  = "INTELLILEARN_API_URL"
	EnvUserID  = "INTELLILEARN_USER_ID"
	EnvTopicID = "INTELLILEARN_TOPIC_ID"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	Upload    UploadConfig    `yaml:"upload"`
	Store     StoreConfig     `yaml:"store"`
	Watch     WatchConfig     `yaml:"watch"`
	DevServer DevServerConfig `yaml:"devserver"`
}

// APIConfig points at the RAG backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig holds the identities every upload needs. They are opaque strings
// supplied by the identity provider.
type SessionConfig struct {
	UserID  string `yaml:"user_id"`
	TopicID string `yaml:"topic_id"`
}

// UploadConfig holds polling and concurrency settings.
type UploadConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Concurrency     int           `yaml:"concurrency"`
}

// StoreConfig holds the local key-value store used for preferences and chat history.
type StoreConfig struct {
	Path           string `yaml:"path"`
	ChatHistoryKey string `yaml:"chat_history_key"`
}

// WatchConfig holds directory watch settings for auto-upload.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// DevServerConfig configures the local development backend.
type DevServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	DatabasePath string        `yaml:"database_path"`
	IndexPath    string        `yaml:"index_path"`
	UploadDir    string        `yaml:"upload_dir"`
	StageDelay   time.Duration `yaml:"stage_delay"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	Workers      int           `yaml:"workers"`
	// MaxUploadSize caps one uploaded file, e.g. "100MB" (binary units).
	MaxUploadSize string `yaml:"max_upload_size"`
}

// DefaultMaxUploadBytes applies when MaxUploadSize is empty or invalid.
const DefaultMaxUploadBytes int64 = 100 << 20

// MaxUploadBytes parses MaxUploadSize.
func (d *DevServerConfig) MaxUploadBytes() int64 {
	if d.MaxUploadSize == "" {
		return DefaultMaxUploadBytes
	}
	n, err := units.RAMInBytes(d.MaxUploadSize)
	if err != nil || n <= 0 {
		return DefaultMaxUploadBytes
	}
	return n
}

// Addr returns host:port.
func (d *DevServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	finish(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		finish(cfg, filepath.Dir(path))
		return cfg, nil
	}
	return cfg, err
}

func finish(cfg *Config, configDir string) {
	ApplyDefaults(cfg)
	ApplyEnv(cfg)
	cfg.Store.Path = expandPath(cfg.Store.Path, configDir)
	cfg.DevServer.DatabasePath = expandPath(cfg.DevServer.DatabasePath, configDir)
	cfg.DevServer.IndexPath = expandPath(cfg.DevServer.IndexPath, configDir)
	cfg.DevServer.UploadDir = expandPath(cfg.DevServer.UploadDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
}

// ApplyEnv overrides the API URL and session identities from the environment.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUserID)); v != "" {
		cfg.Session.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTopicID)); v != "" {
		cfg.Session.TopicID = v
	}
}

// Save writes the config to path. Used for persisting the selected topic and watch directories.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
