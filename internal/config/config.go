// Package config loads named connection profiles from YAML, with
// environment-variable substitution and optional hot reload.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jeelkantaria/pgwire"
	"github.com/jeelkantaria/pgwire/wire"
)

// Config is the top-level configuration: shared defaults plus any number
// of named connection profiles.
type Config struct {
	Defaults ProfileDefaults          `yaml:"defaults"`
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

// ProfileDefaults holds values applied when a profile doesn't override them.
type ProfileDefaults struct {
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

// ProfileConfig describes one named connection target.
type ProfileConfig struct {
	Host            string         `yaml:"host"`
	Port            int            `yaml:"port,omitempty"`
	Database        string         `yaml:"database"`
	Username        string         `yaml:"username"`
	Password        string         `yaml:"password"`
	ApplicationName string         `yaml:"application_name,omitempty"`
	ConnectTimeout  *time.Duration `yaml:"connect_timeout,omitempty"`
	QueryTimeout    *time.Duration `yaml:"query_timeout,omitempty"`
}

// EffectivePort returns the profile's port, or the shared default.
func (p ProfileConfig) EffectivePort(defaults ProfileDefaults) int {
	if p.Port != 0 {
		return p.Port
	}
	return defaults.Port
}

// EffectiveConnectTimeout returns the profile's connect timeout, or the
// shared default.
func (p ProfileConfig) EffectiveConnectTimeout(defaults ProfileDefaults) time.Duration {
	if p.ConnectTimeout != nil {
		return *p.ConnectTimeout
	}
	return defaults.ConnectTimeout
}

// EffectiveQueryTimeout returns the profile's query timeout, or the shared
// default.
func (p ProfileConfig) EffectiveQueryTimeout(defaults ProfileDefaults) time.Duration {
	if p.QueryTimeout != nil {
		return *p.QueryTimeout
	}
	return defaults.QueryTimeout
}

// Redacted returns a copy of p with Password masked, safe to log.
func (p ProfileConfig) Redacted() ProfileConfig {
	c := p
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

// ConnConfig converts p into the pgwire.Config Open expects.
func (p ProfileConfig) ConnConfig(defaults ProfileDefaults) pgwire.Config {
	var params []wire.Param
	if p.ApplicationName != "" {
		params = append(params, wire.Param{Key: "application_name", Value: p.ApplicationName})
	}
	return pgwire.Config{
		Host:           p.Host,
		Port:           p.EffectivePort(defaults),
		User:           p.Username,
		Password:       p.Password,
		Database:       p.Database,
		Params:         params,
		ConnectTimeout: p.EffectiveConnectTimeout(defaults),
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, leaving the pattern untouched when the variable is unset.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, substituting ${VAR} references
// against the process environment before unmarshaling.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Defaults.Port == 0 {
		cfg.Defaults.Port = 5432
	}
	if cfg.Defaults.ConnectTimeout == 0 {
		cfg.Defaults.ConnectTimeout = 10 * time.Second
	}
	if cfg.Defaults.QueryTimeout == 0 {
		cfg.Defaults.QueryTimeout = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	for name, p := range cfg.Profiles {
		if p.Host == "" {
			return fmt.Errorf("profile %q: host is required", name)
		}
		if p.Username == "" {
			return fmt.Errorf("profile %q: username is required", name)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls back with the
// reloaded Config, debounced so a burst of writes triggers one reload.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path and invoking callback on every change.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		slog.Error("config hot-reload failed", "path", cw.path, "error", err)
		return
	}

	slog.Info("config reloaded", "path", cw.path)
	cw.callback(cfg)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
