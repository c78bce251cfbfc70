// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/engine"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/layout"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/storage/s3"
	"github.com/callflow/callflow/pkg/telemetry"
)

// Result store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all callflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Experiment ExperimentConfig `yaml:"experiment"`
	Engine     engine.Config    `yaml:"engine"`
	Animation  AnimationConfig  `yaml:"animation"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Results    ResultsConfig    `yaml:"results"`
	Archive    s3.Config        `yaml:"archive"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ExperimentConfig is an experiment plus how many times to replicate it.
type ExperimentConfig struct {
	replication.Experiment `yaml:",inline"`
	Replications           int `yaml:"replications"`
}

// AnimationConfig controls event-log construction and the renderer bundle.
type AnimationConfig struct {
	Pathway   string               `yaml:"pathway"`
	NodeNames []string             `yaml:"node_names"`
	Layout    []layout.Position    `yaml:"layout"`
	Render    layout.RenderOptions `yaml:"render"`
}

// ServerConfig for the HTTP API.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// StorageConfig for the run history.
type StorageConfig struct {
	// Database is the DuckDB history file. Empty disables history.
	Database string `yaml:"database"`
}

// ResultsConfig selects where completed runs are kept for the API.
type ResultsConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddress  string        `yaml:"redis_address"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

// TelemetryConfig for optional OTLP tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	ServiceName   string  `yaml:"service_name"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// OTLP converts the section to an exporter configuration.
func (t TelemetryConfig) OTLP() telemetry.OTLPConfig {
	cfg := telemetry.DefaultOTLPConfig(t.ServiceName)
	if t.Endpoint != "" {
		cfg.Endpoint = t.Endpoint
	}
	if t.SamplingRatio > 0 {
		cfg.SamplingRatio = t.SamplingRatio
	}
	return cfg
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	callflowDir := filepath.Join(homeDir, ".callflow")

	exp := replication.DefaultExperiment()
	return &Config{
		Version: 1,
		Experiment: ExperimentConfig{
			Experiment:   exp,
			Replications: 10,
		},
		Engine: engine.DefaultConfig(),
		Animation: AnimationConfig{
			Pathway:   model.DefaultPathway,
			NodeNames: []string{"operator", "nurse"},
			Layout:    layout.Default(),
			Render:    layout.DefaultRenderOptions(exp.ResultsCollectionPeriod),
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Database: filepath.Join(callflowDir, "history.duckdb"),
		},
		Results: ResultsConfig{
			Backend:      BackendMemory,
			RedisAddress: "localhost:6379",
			KeyPrefix:    "callflow:run:",
			TTL:          24 * time.Hour,
		},
		Archive: s3.DefaultConfig("", "us-east-1"),
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			ServiceName:   "callflow",
			SamplingRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the sections a run depends on.
func (c *Config) Validate() error {
	if err := c.Experiment.Validate(); err != nil {
		return err
	}
	if err := replication.ValidateReplications(c.Experiment.Replications); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	switch c.Results.Backend {
	case BackendMemory, BackendRedis:
	default:
		return errors.InvalidConfig("results.backend", c.Results.Backend, "must be memory or redis")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.InvalidConfig("server.port", c.Server.Port, "out of range")
	}
	return layout.Validate(c.Animation.Layout, layout.Scenario{
		Operators: c.Experiment.Operators,
		Nurses:    c.Experiment.Nurses,
	})
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string
	paths  []string // Paths that were loaded
	getenv func(string) string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSearchPaths replaces the system/user/project search list.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) {
		m.search = paths
	}
}

// WithEnv replaces os.Getenv for environment overrides.
func WithEnv(getenv func(string) string) Option {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new configuration manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		config: Default(),
		search: defaultSearchPaths(),
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	return m.loadEnv()
}

// LoadFile merges one explicit file on top of the current configuration,
// e.g. from a --config flag. A missing file is an error here.
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadFile(path); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("config file", path)
		}
		return err
	}
	m.paths = append(m.paths, path)
	return m.loadEnv()
}

func defaultSearchPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/callflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".callflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".callflow.yaml"))
	}
	return paths
}

// loadFile decodes path over the current configuration, so keys absent from
// the file keep their earlier value.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config file").
			WithContext("path", path)
	}
	return nil
}

func (m *Manager) loadEnv() error {
	if v := m.getenv("CALLFLOW_ENGINE"); v != "" {
		m.config.Engine.Kind = v
	}
	if v := m.getenv("CALLFLOW_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.InvalidConfig("CALLFLOW_PORT", v, "not an integer")
		}
		m.config.Server.Port = port
	}
	if v := m.getenv("CALLFLOW_DATABASE"); v != "" {
		m.config.Storage.Database = v
	}
	if v := m.getenv("CALLFLOW_REDIS"); v != "" {
		m.config.Results.Backend = BackendRedis
		m.config.Results.RedisAddress = v
	}
	if v := m.getenv("CALLFLOW_LOG_LEVEL"); v != "" {
		m.config.Logging.Level = v
	}
	if v := m.getenv("CALLFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// EnsureDirs creates the directory holding the history database.
func (m *Manager) EnsureDirs() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config.Storage.Database == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Storage.Database), 0755); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to create storage directory")
	}
	return nil
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to create config directory")
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode config")
	}
	return os.WriteFile(path, data, 0644)
}
