package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store   StoreConfig    `json:"store" yaml:"store"`
	Cache   CacheConfig    `json:"cache" yaml:"cache"`
	Server  ServerConfig   `json:"server" yaml:"server"`
	Backend BackendConfig  `json:"backend" yaml:"backend"`
	Logging LoggingConfig  `json:"logging" yaml:"logging"`
	Turns   TurnsConfig    `json:"turns" yaml:"turns"`
	Domain  tracker.Domain `json:"domain" yaml:"domain"`
	mu      sync.RWMutex
}

// StoreConfig points the engine at the remote session store.
type StoreConfig struct {
	URL              string `json:"url" yaml:"url" env:"TRACKERSYNC_STORE_URL"`
	ProjectID        string `json:"project_id" yaml:"project_id" env:"TRACKERSYNC_STORE_PROJECT_ID"`
	RequestTimeoutMS int    `json:"request_timeout_ms" yaml:"request_timeout_ms" env:"TRACKERSYNC_STORE_REQUEST_TIMEOUT_MS"`
}

type CacheConfig struct {
	RetentionSeconds     int `json:"retention_seconds" yaml:"retention_seconds" env:"TRACKERSYNC_CACHE_RETENTION_SECONDS"`
	MaxEvents            int `json:"max_events" yaml:"max_events" env:"TRACKERSYNC_CACHE_MAX_EVENTS"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds" env:"TRACKERSYNC_CACHE_SWEEP_INTERVAL_SECONDS"`
}

// ServerConfig is the status API exposed by "trackersync serve".
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"TRACKERSYNC_SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"TRACKERSYNC_SERVER_PORT"`
}

// BackendConfig is the reference store run by "trackersync backend".
type BackendConfig struct {
	Addr   string `json:"addr" yaml:"addr" env:"TRACKERSYNC_BACKEND_ADDR"`
	DBPath string `json:"db_path" yaml:"db_path" env:"TRACKERSYNC_BACKEND_DB_PATH"`
}

// TurnsConfig controls reporting of completed conversation turns.
type TurnsConfig struct {
	Log              bool              `json:"log" yaml:"log" env:"TRACKERSYNC_TURNS_LOG"`
	ListenAction     string            `json:"listen_action" yaml:"listen_action" env:"TRACKERSYNC_TURNS_LISTEN_ACTION"`
	ResponseSlot     string            `json:"response_slot" yaml:"response_slot" env:"TRACKERSYNC_TURNS_RESPONSE_SLOT"`
	SpecialResponses map[string]string `json:"special_responses" yaml:"special_responses" env:"TRACKERSYNC_TURNS_SPECIAL_RESPONSES"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"TRACKERSYNC_LOGGING_LEVEL"`
	Format string `json:"format" yaml:"format" env:"TRACKERSYNC_LOGGING_FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			URL:              "http://127.0.0.1:18800",
			ProjectID:        "default",
			RequestTimeoutMS: 1000,
		},
		Cache: CacheConfig{
			RetentionSeconds:     3600,
			MaxEvents:            100,
			SweepIntervalSeconds: 30,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Backend: BackendConfig{
			Addr:   "127.0.0.1:18800",
			DBPath: "~/.trackersync/backend.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Turns: TurnsConfig{
			ListenAction: "action_listen",
			ResponseSlot: "latest_response_name",
		},
	}
}

// LoadConfig reads path over the defaults and then applies TRACKERSYNC_*
// environment overrides. A missing file is not an error. Files ending in
// .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if strings.TrimSpace(c.Store.URL) != "" {
		u, err := url.Parse(c.Store.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("store.url %q is not an absolute URL", c.Store.URL))
		}
	}
	if strings.TrimSpace(c.Store.ProjectID) == "" {
		errs = append(errs, errors.New("store.project_id is required"))
	}
	if c.Store.RequestTimeoutMS < 0 {
		errs = append(errs, errors.New("store.request_timeout_ms must not be negative"))
	}
	if c.Cache.MaxEvents < 0 {
		errs = append(errs, errors.New("cache.max_events must not be negative"))
	}
	if c.Cache.RetentionSeconds < 0 {
		errs = append(errs, errors.New("cache.retention_seconds must not be negative"))
	}
	if c.Cache.SweepIntervalSeconds < 0 {
		errs = append(errs, errors.New("cache.sweep_interval_seconds must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Turns.Log && strings.TrimSpace(c.Turns.ListenAction) == "" {
		errs = append(errs, errors.New("turns.listen_action is required when turns.log is set"))
	}
	for i, slot := range c.Domain.Slots {
		if strings.TrimSpace(slot.Name) == "" {
			errs = append(errs, fmt.Errorf("domain.slots[%d] has no name", i))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) RequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Store.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) Retention() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Cache.RetentionSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Cache.SweepIntervalSeconds) * time.Second
}

func (c *Config) ServerAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) BackendDBPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Backend.DBPath)
}

// DomainOrNil returns the configured domain, or nil when it declares no slots.
func (c *Config) DomainOrNil() *tracker.Domain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Domain.Slots) == 0 {
		return nil
	}
	d := tracker.Domain{Slots: append([]tracker.SlotSpec(nil), c.Domain.Slots...)}
	return &d
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
