// Package config provides configuration structs and utilities for leadline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config represents the root configuration.
type Config struct {
	Remote        RemoteConfig        `yaml:"remote"`
	Storage       StorageConfig       `yaml:"storage"`
	Sync          SyncConfig          `yaml:"sync"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	Duplicate     DuplicateConfig     `yaml:"duplicate"`
	Session       SessionConfig       `yaml:"session"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Agent         AgentConfig         `yaml:"agent"`
}

// RemoteConfig locates the hosted record store. An empty URL runs in demo
// mode against an in-memory store.
type RemoteConfig struct {
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
	Realtime bool          `yaml:"realtime"` // subscribe to change notifications
}

// Demo reports whether no remote is configured.
func (r RemoteConfig) Demo() bool {
	return r.URL == ""
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	Path         string `yaml:"path"`          // SQLite database; default under XDG data home
	CacheBackend string `yaml:"cache_backend"` // sqlite, badger
	BadgerDir    string `yaml:"badger_dir"`
}

// SyncConfig controls the drain loop.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ConnectivityConfig controls the reachability probe.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

// TelephonyConfig selects the call event source.
type TelephonyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SpoolPath string `yaml:"spool_path"`
}

// DuplicateConfig controls duplicate detection.
type DuplicateConfig struct {
	QuietPeriod time.Duration `yaml:"quiet_period"`
}

// SessionConfig controls the call session coordinator.
type SessionConfig struct {
	AutoQualify bool `yaml:"auto_qualify"` // open the form when the tracked call ends
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // listen address of /metrics
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// AgentConfig identifies the agent using this install.
type AgentConfig struct {
	ID string `yaml:"id"` // default assignee of new leads
}

// Default configuration values.
const (
	DefaultRemoteTimeout  = 10 * time.Second
	DefaultCacheBackend   = "sqlite"
	DefaultSyncInterval   = 30 * time.Second
	DefaultProbeInterval  = 10 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
	DefaultQuietPeriod    = 400 * time.Millisecond
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
	DefaultMetricsAddr    = "127.0.0.1:9464"
	DefaultTracingType    = "none"
	DefaultTracingRate    = 1.0
	DefaultTracingService = "leadline"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validCacheBackends = map[string]bool{
	"sqlite": true,
	"badger": true,
}

var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Timeout:  DefaultRemoteTimeout,
			Realtime: true,
		},
		Storage: StorageConfig{
			CacheBackend: DefaultCacheBackend,
		},
		Sync: SyncConfig{
			Interval: DefaultSyncInterval,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: DefaultProbeInterval,
			ProbeTimeout:  DefaultProbeTimeout,
		},
		Duplicate: DuplicateConfig{
			QuietPeriod: DefaultQuietPeriod,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Addr: DefaultMetricsAddr,
			},
			Tracing: TracingConfig{
				ExporterType: DefaultTracingType,
				SampleRate:   DefaultTracingRate,
				ServiceName:  DefaultTracingService,
			},
		},
	}
}

// Validate checks the whole configuration and joins every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync: interval must be positive"))
	}
	if c.Connectivity.ProbeInterval <= 0 || c.Connectivity.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("connectivity: probe_interval and probe_timeout must be positive"))
	}
	if c.Telephony.Enabled && c.Telephony.SpoolPath == "" {
		errs = append(errs, errors.New("telephony: spool_path is required when enabled"))
	}
	if c.Duplicate.QuietPeriod <= 0 {
		errs = append(errs, errors.New("duplicate: quiet_period must be positive"))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks if the RemoteConfig is valid.
func (r *RemoteConfig) Validate() error {
	if r.Demo() {
		return nil
	}

	var errs []error
	u, err := url.Parse(r.URL)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid url: %w", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("url scheme must be http or https, got %q", u.Scheme))
	} else if u.Host == "" {
		errs = append(errs, errors.New("url must include a host"))
	}
	if r.APIKey == "" {
		errs = append(errs, errors.New("api_key is required when url is set"))
	}
	if r.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks if the StorageConfig is valid.
func (s *StorageConfig) Validate() error {
	if s.CacheBackend != "" && !validCacheBackends[s.CacheBackend] {
		return fmt.Errorf("invalid cache_backend %q: must be one of sqlite, badger", s.CacheBackend)
	}
	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	return errors.Join(errs...)
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	var errs []error

	if o.Metrics.Enabled && o.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics: addr is required when metrics is enabled"))
	}

	if err := o.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	var errs []error
	if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
		errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
	}
	if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
		errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
	}
	if t.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}
