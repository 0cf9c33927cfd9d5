package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SourceFile     = "file"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceKafka    = "kafka"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	API       APIConfig       `json:"api" yaml:"api"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type ArtifactsConfig struct {
	Source       string      `json:"source" yaml:"source"`
	ModelPath    string      `json:"model_path" yaml:"model_path"`
	FeaturesPath string      `json:"features_path" yaml:"features_path"`
	DSN          string      `json:"dsn" yaml:"dsn"`
	Kafka        KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string      `json:"brokers" yaml:"brokers"`
	Topic   string        `json:"topic" yaml:"topic"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type DetectionConfig struct {
	VolumeThreshold int64   `json:"volume_threshold" yaml:"volume_threshold"`
	RuleConfidence  float64 `json:"rule_confidence" yaml:"rule_confidence"`
}

type SessionConfig struct {
	StoreLimit int    `json:"store_limit" yaml:"store_limit"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Artifacts: ArtifactsConfig{
			Source:       SourceFile,
			ModelPath:    "waf_rf_classifier.json",
			FeaturesPath: "model_feature_columns.json",
			Kafka:        KafkaConfig{Timeout: 10 * time.Second},
		},
		Detection: DetectionConfig{
			VolumeThreshold: 10000,
			RuleConfidence:  0.99,
		},
		Session: SessionConfig{
			StoreLimit: 1000,
			CookieName: "wafshield_session",
		},
		API:     APIConfig{Enabled: true, Addr: ":8501"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as JSON or YAML depending on the file extension. An existing
// file is only replaced when overwrite is set.
func Save(path string, cfg *Config, overwrite bool) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Artifacts.Source == "" {
		cfg.Artifacts.Source = SourceFile
	}
	cfg.Artifacts.Source = strings.ToLower(cfg.Artifacts.Source)
	if cfg.Artifacts.Source == "postgresql" {
		cfg.Artifacts.Source = SourcePostgres
	}
	if cfg.Artifacts.ModelPath == "" {
		cfg.Artifacts.ModelPath = def.Artifacts.ModelPath
	}
	if cfg.Artifacts.FeaturesPath == "" {
		cfg.Artifacts.FeaturesPath = def.Artifacts.FeaturesPath
	}
	if cfg.Artifacts.Kafka.Timeout <= 0 {
		cfg.Artifacts.Kafka.Timeout = def.Artifacts.Kafka.Timeout
	}
	if cfg.Detection.VolumeThreshold <= 0 {
		cfg.Detection.VolumeThreshold = def.Detection.VolumeThreshold
	}
	if cfg.Detection.RuleConfidence <= 0 {
		cfg.Detection.RuleConfidence = def.Detection.RuleConfidence
	}
	if cfg.Session.StoreLimit <= 0 {
		cfg.Session.StoreLimit = def.Session.StoreLimit
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = def.Session.CookieName
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
}

func Validate(cfg *Config) error {
	switch cfg.Artifacts.Source {
	case SourceFile:
		if cfg.Artifacts.ModelPath == "" || cfg.Artifacts.FeaturesPath == "" {
			return errors.New("artifacts.model_path and artifacts.features_path required for file source")
		}
	case SourceSQLite, SourcePostgres:
	case SourceKafka:
		if len(cfg.Artifacts.Kafka.Brokers) == 0 || cfg.Artifacts.Kafka.Topic == "" {
			return errors.New("artifacts.kafka requires brokers and topic")
		}
	default:
		return fmt.Errorf("unsupported artifacts.source: %q", cfg.Artifacts.Source)
	}
	if cfg.Detection.RuleConfidence > 1 {
		return errors.New("detection.rule_confidence must be <= 1")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

// Transform adjusts and checks a freshly loaded config before it is published.
type Transform func(*Config) error

type Manager struct {
	path      string
	cfg       atomic.Value
	modTime   time.Time
	transform Transform
}

// NewManager loads path and runs transform, if any, on every load and reload.
// A config the transform rejects never becomes live.
func NewManager(path string, transform Transform) (*Manager, error) {
	m := &Manager{path: path, transform: transform}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps a config that has no backing file.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	if m.transform != nil {
		if err := m.transform(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", m.path, err)
		}
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if m.path == "" {
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
