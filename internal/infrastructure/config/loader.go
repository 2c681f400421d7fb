package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvRemoteURL    = "LEADLINE_REMOTE_URL"
	EnvRemoteAPIKey = "LEADLINE_REMOTE_API_KEY"
	EnvLogLevel     = "LEADLINE_LOG_LEVEL"
	EnvAgentID      = "LEADLINE_AGENT_ID"
	EnvSpoolPath    = "LEADLINE_TELEPHONY_SPOOL"
)

// Loader handles loading configuration from files and the environment.
type Loader struct {
	configDir string
}

// NewLoader creates a new configuration loader.
// If configDir is empty, it defaults to $XDG_CONFIG_HOME/leadline.
func NewLoader(configDir string) *Loader {
	if configDir == "" {
		configDir = filepath.Join(xdg.ConfigHome, "leadline")
	}
	return &Loader{configDir: configDir}
}

// Load reads configPath, or config.yaml in the config directory when empty.
// A missing file yields the defaults. A .env file in the working directory
// or the config directory is loaded first; variables already set in the
// process environment win. Environment overrides are applied last.
func (l *Loader) Load(configPath string) (*Config, error) {
	if err := l.loadDotEnv(); err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = l.DefaultConfigPath()
	}

	cfg := NewDefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file path.
// Returns an error if the file doesn't exist.
func (l *Loader) LoadFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	return l.Load(configPath)
}

func (l *Loader) loadDotEnv() error {
	for _, p := range []string{".env", filepath.Join(l.configDir, ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Remote.URL, EnvRemoteURL)
	set(&cfg.Remote.APIKey, EnvRemoteAPIKey)
	set(&cfg.Logging.Level, EnvLogLevel)
	set(&cfg.Agent.ID, EnvAgentID)
	if v := os.Getenv(EnvSpoolPath); v != "" {
		cfg.Telephony.SpoolPath = v
		cfg.Telephony.Enabled = true
	}
}

// Save writes cfg to configPath, or the default location when empty. The
// API key is never written; it belongs in the environment or .env.
func (l *Loader) Save(cfg *Config, configPath string) error {
	if configPath == "" {
		configPath = l.DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *cfg
	out.Remote.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# leadline configuration\n# Credentials: set " + EnvRemoteAPIKey + " in the environment or .env\n#\n"
	if err := os.WriteFile(configPath, []byte(header+string(data)), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigDir returns the configuration directory path.
func (l *Loader) ConfigDir() string {
	return l.configDir
}

// DefaultConfigPath returns the default configuration file path.
func (l *Loader) DefaultConfigPath() string {
	return filepath.Join(l.configDir, "config.yaml")
}
