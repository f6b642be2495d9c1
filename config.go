package iedserver

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// DefaultSboTimeout applies to SBO objects the engine has no sboTimeout for.
const DefaultSboTimeout = 30 * time.Second

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Control ControlConfig `yaml:"control"`
	// WriteAccessPolicies maps a functional constraint name ("SP", "DC", ...)
	// to "allow" or "deny". Unlisted FCs keep their default.
	WriteAccessPolicies map[string]string `yaml:"write_access_policies"`
	Logging             LoggingConfig     `yaml:"logging"`
	Metrics             MetricsConfig     `yaml:"metrics"`
}

type ServerConfig struct {
	LocalIP        string `yaml:"local_ip"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	Vendor         string `yaml:"vendor"`
	Model          string `yaml:"model"`
	Revision       string `yaml:"revision"`
	MaxConnections int    `yaml:"max_connections" validate:"min=0"`
}

type ControlConfig struct {
	DefaultSboTimeout Duration `yaml:"default_sbo_timeout"`
	TickInterval      Duration `yaml:"tick_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"regexp=^(|debug|info|warn|warning|error)$"`
	Format string `yaml:"format" validate:"regexp=^(|json|text)$"`
	Output string `yaml:"output" validate:"regexp=^(|stdout|stderr)$"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace" validate:"nonzero"`
}

// DefaultConfig returns the defaults: port 102, select timeout
// 30s, and the write policies SP, SV and SE allowed, DC and CF denied.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           102,
			MaxConnections: 5,
		},
		Control: ControlConfig{
			DefaultSboTimeout: Duration{DefaultSboTimeout},
			TickInterval:      Duration{100 * time.Millisecond},
		},
		WriteAccessPolicies: map[string]string{
			"SP": "allow",
			"SV": "allow",
			"SE": "allow",
			"DC": "deny",
			"CF": "deny",
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Namespace: "iedserver"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and the write policy table.
func (c Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Control.DefaultSboTimeout.Duration <= 0 {
		return fmt.Errorf("validate config: control.default_sbo_timeout must be positive")
	}
	if c.Control.TickInterval.Duration <= 0 {
		return fmt.Errorf("validate config: control.tick_interval must be positive")
	}
	if _, err := c.writePolicies(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func (c Config) writePolicies() (map[FC]AccessPolicy, error) {
	out := make(map[FC]AccessPolicy, len(c.WriteAccessPolicies))
	for name, policy := range c.WriteAccessPolicies {
		fc := FunctionalConstraintFromString(name)
		if fc == NONE || fc == ALL {
			return nil, fmt.Errorf("write_access_policies: unknown functional constraint %q", name)
		}
		switch strings.ToLower(policy) {
		case "allow":
			out[fc] = ACCESS_POLICY_ALLOW
		case "deny":
			out[fc] = ACCESS_POLICY_DENY
		default:
			return nil, fmt.Errorf("write_access_policies: %s: policy must be allow or deny, got %q", name, policy)
		}
	}
	return out, nil
}
