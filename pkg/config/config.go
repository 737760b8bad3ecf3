package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can use human-readable
// values like "15s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds worker configuration
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Barrier      BarrierConfig      `yaml:"barrier"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Management   ManagementConfig   `yaml:"management"`
	Target       TargetConfig       `yaml:"target"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Log          LogConfig          `yaml:"log"`
}

// StoreConfig configures the shared store connection
type StoreConfig struct {
	Path string `yaml:"path"`
}

// BarrierConfig holds the cluster barrier timing parameters. The begin
// values apply only to the parent's initial cluster-begin barrier; all
// other barriers use the total/poll pair.
type BarrierConfig struct {
	Total      Duration `yaml:"total"`
	Poll       Duration `yaml:"poll"`
	BeginTotal Duration `yaml:"begin_total"`
	BeginPoll  Duration `yaml:"begin_poll"`
}

// HeartbeatConfig controls the liveness heartbeat loop
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval"`
}

// ManagementConfig locates the platform management daemon
type ManagementConfig struct {
	Addr    string   `yaml:"addr"`
	Timeout Duration `yaml:"timeout"`
}

// TargetConfig configures guest-level access to the target machine
type TargetConfig struct {
	User    string   `yaml:"user"`
	KeyPath string   `yaml:"key_path"`
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
}

// ProvisioningConfig selects and configures the provisioning backend
type ProvisioningConfig struct {
	Driver string `yaml:"driver"` // "hcloud" or "virsh"
	Token  string `yaml:"token"`  // hcloud API token
}

// LogConfig configures logging output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a config populated with the stock timing parameters:
// 300s/15s for general barriers, 60s/3s for the initial cluster-begin
// barrier, 30s heartbeat interval.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "/var/lib/paddock/paddock.db",
		},
		Barrier: BarrierConfig{
			Total:      Duration(300 * time.Second),
			Poll:       Duration(15 * time.Second),
			BeginTotal: Duration(60 * time.Second),
			BeginPoll:  Duration(3 * time.Second),
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration(30 * time.Second),
		},
		Management: ManagementConfig{
			Addr:    "localhost:7710",
			Timeout: Duration(10 * time.Second),
		},
		Target: TargetConfig{
			User:    "root",
			Port:    22,
			Timeout: Duration(10 * time.Second),
		},
		Provisioning: ProvisioningConfig{
			Driver: "virsh",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load reads a YAML config file, applying defaults for anything the file
// leaves unset. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config for values the controller cannot run with.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Barrier.Poll <= 0 || c.Barrier.BeginPoll <= 0 {
		return fmt.Errorf("barrier poll intervals must be positive")
	}
	if c.Barrier.Total <= 0 || c.Barrier.BeginTotal <= 0 {
		return fmt.Errorf("barrier total budgets must be positive")
	}
	switch c.Provisioning.Driver {
	case "hcloud", "virsh":
	default:
		return fmt.Errorf("unknown provisioning driver %q", c.Provisioning.Driver)
	}
	return nil
}
