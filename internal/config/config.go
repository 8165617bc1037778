package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInterval     = time.Second
	DefaultCommand      = "/usr/local/bin/provisioner"
	DefaultReadyMessage = "DBs are available"
	DefaultMode         = "exec"

	// EnvConfigPath names the config file when --config is not given.
	EnvConfigPath = "READYGATE_CONFIG"
)

// DefaultTargets are the provisioner's dependencies in evaluation order.
func DefaultTargets() []Target {
	return []Target{
		{Name: "PG", Network: "tcp", Address: "postgres:5432"},
		{Name: "mongoDB", Network: "tcp", Address: "mongodb:27017"},
	}
}

// Target is one dependency endpoint as written in config.
type Target struct {
	Name    string `yaml:"name" toml:"name"`
	Network string `yaml:"network" toml:"network"`
	Address string `yaml:"address" toml:"address"`
}

func (t Target) String() string {
	if t.Network == "" || t.Network == "tcp" {
		return t.Name + "=" + t.Address
	}
	return t.Name + "=" + t.Network + ":" + t.Address
}

// Settings are the scalar options. Each can be overridden from the
// environment.
type Settings struct {
	TargetList   string        `yaml:"-" toml:"-" env:"READYGATE_TARGETS"`
	Interval     time.Duration `yaml:"interval" toml:"interval" env:"READYGATE_INTERVAL"`
	DialTimeout  time.Duration `yaml:"dial_timeout" toml:"dial_timeout" env:"READYGATE_DIAL_TIMEOUT"`
	Timeout      time.Duration `yaml:"timeout" toml:"timeout" env:"READYGATE_TIMEOUT"`
	Parallel     bool          `yaml:"parallel" toml:"parallel" env:"READYGATE_PARALLEL"`
	ReadyMessage string        `yaml:"ready_message" toml:"ready_message" env:"READYGATE_READY_MESSAGE"`
	Command      string        `yaml:"command" toml:"command" env:"READYGATE_COMMAND"`
	Mode         string        `yaml:"mode" toml:"mode" env:"READYGATE_MODE"`
	Journal      string        `yaml:"journal" toml:"journal" env:"READYGATE_JOURNAL"`
	StatusAddr   string        `yaml:"status_addr" toml:"status_addr" env:"READYGATE_STATUS_ADDR"`
	LogLevel     string        `yaml:"log_level" toml:"log_level" env:"READYGATE_LOG_LEVEL"`
}

// Config is the full gate configuration.
type Config struct {
	Targets  []Target `yaml:"targets" toml:"targets"`
	Settings `yaml:",inline"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads YAML or TOML configuration from a path and applies
// READYGATE_* environment overrides. If path is empty, it uses
// $READYGATE_CONFIG, then $XDG_CONFIG_HOME/readygate/config.yaml or
// ~/.config/readygate/config.yaml. Only an explicitly named file must exist.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	explicit := true
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		explicit = false
		path = defaultPath()
	}

	if err := decodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg.Settings); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.TargetList != "" {
		targets, err := ParseTargets(cfg.TargetList)
		if err != nil {
			return cfg, fmt.Errorf("parse READYGATE_TARGETS: %w", err)
		}
		cfg.Targets = targets
	}

	cfg.applyDefaults()
	return cfg, nil
}

func defaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "readygate", "config.yaml")
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(content), cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Targets) == 0 {
		c.Targets = DefaultTargets()
	}
	for i := range c.Targets {
		if c.Targets[i].Network == "" {
			c.Targets[i].Network = "tcp"
		}
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.ReadyMessage == "" {
		c.ReadyMessage = DefaultReadyMessage
	}
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// ParseTargets parses a comma-separated list of targets.
func ParseTargets(s string) ([]Target, error) {
	var out []Target
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := ParseTarget(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no targets in %q", s)
	}
	return out, nil
}

// ParseTarget parses "name=host:port" or "name=unix:/path". Without a name
// the address doubles as the name.
func ParseTarget(s string) (Target, error) {
	name, addr, found := strings.Cut(strings.TrimSpace(s), "=")
	if !found {
		addr = name
	}
	name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
	if addr == "" {
		return Target{}, fmt.Errorf("invalid target %q: address required", s)
	}
	if name == "" {
		name = addr
	}
	t := Target{Name: name, Network: "tcp", Address: addr}
	if rest, ok := strings.CutPrefix(addr, "unix:"); ok {
		t.Network = "unix"
		t.Address = rest
	}
	return t, nil
}
