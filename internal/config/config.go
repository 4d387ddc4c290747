// Package config loads the YAML configuration of the daemon.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/nexad/internal/accessory"
)

// Limits and fallbacks for the transmitter identifiers.
const (
	MinTransmitterPin     = 0
	MaxTransmitterPin     = 16
	DefaultTransmitterPin = 0

	MinEmitterID     = 1
	MaxEmitterID     = 67108862
	DefaultEmitterID = 1
)

// Config represents the application configuration
type Config struct {
	Transmitter     TransmitterConfig `yaml:"transmitter"`
	Debounce        DebounceConfig    `yaml:"debounce"`
	Accessories     []accessory.Spec  `yaml:"accessories"`
	Database        DatabaseConfig    `yaml:"database"`
	State           StateConfig       `yaml:"state"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Log             LogConfig         `yaml:"log"`
	Control         ControlConfig     `yaml:"control"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	WatchConfig     bool              `yaml:"watch_config"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// TransmitterConfig contains the sender script and the identifiers passed to it
type TransmitterConfig struct {
	Script       string   `yaml:"script"`
	Pin          int      `yaml:"pin"`           // GPIO pin of the 433 MHz sender (0-16)
	EmitterID    int      `yaml:"emitter_id"`    // HomeEasy emitter id (1-67108862)
	BroadcastArg string   `yaml:"broadcast_arg"` // Address argument meaning "all targets" (default: 16)
	MinInterval  Duration `yaml:"min_interval"`  // Minimum spacing between bursts (0 = none)
	DryRun       bool     `yaml:"dry_run"`       // Log bursts instead of running the script
}

// DebounceConfig contains batching settings
type DebounceConfig struct {
	Window Duration `yaml:"window"` // Quiet period before a batch closes (default: 1s)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StateConfig controls persistence of the state vector
type StateConfig struct {
	Persist bool `yaml:"persist"` // Restore last known states on startup (default: false)
}

// LedgerConfig contains transmission ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	UseJSON    bool   `yaml:"json"`
	Colors     bool   `yaml:"colors"`
	File       string `yaml:"file"`         // Optional log file, rotated
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotate after this size (default: 10)
	MaxBackups int    `yaml:"max_backups"`  // Rotated files to keep (default: 3)
	MaxAgeDays int    `yaml:"max_age_days"` // Days to keep rotated files (default: 28)
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// ControlConfig contains the HTTP control API settings
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// GetHost returns the health check host with default
func (c *HealthcheckConfig) GetHost() string {
	if c.Host == "" {
		return "0.0.0.0"
	}
	return c.Host
}

// GetPort returns the health check port with default
func (c *HealthcheckConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, applying env expansion, defaults and
// validation fallbacks.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.Validate()

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./nexad.sqlite"
	}

	// Transmitter defaults
	if cfg.Transmitter.Script == "" {
		cfg.Transmitter.Script = "./utility/piHomeEasyExtended.sh"
	}
	if cfg.Transmitter.BroadcastArg == "" {
		cfg.Transmitter.BroadcastArg = "16"
	}

	// Debounce defaults
	if cfg.Debounce.Window == 0 {
		cfg.Debounce.Window = Duration(1000 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Control API defaults
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 51927
	}
	if cfg.Control.Host == "" {
		cfg.Control.Host = "0.0.0.0"
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate replaces out-of-range transmitter identifiers and non-positive
// intervals with their fallback values and returns the names of the
// properties it reset.
func (cfg *Config) Validate() []string {
	var reset []string

	if cfg.Transmitter.Pin < MinTransmitterPin || cfg.Transmitter.Pin > MaxTransmitterPin {
		log.Warn().
			Int("value", cfg.Transmitter.Pin).
			Int("default", DefaultTransmitterPin).
			Msg("Could not read property 'transmitter.pin'. Assigning default value")
		cfg.Transmitter.Pin = DefaultTransmitterPin
		reset = append(reset, "transmitter.pin")
	}
	if cfg.Transmitter.EmitterID < MinEmitterID || cfg.Transmitter.EmitterID > MaxEmitterID {
		log.Warn().
			Int("value", cfg.Transmitter.EmitterID).
			Int("default", DefaultEmitterID).
			Msg("Could not read property 'transmitter.emitter_id'. Assigning default value")
		cfg.Transmitter.EmitterID = DefaultEmitterID
		reset = append(reset, "transmitter.emitter_id")
	}
	if cfg.Debounce.Window <= 0 {
		log.Warn().
			Dur("value", cfg.Debounce.Window.Duration()).
			Msg("Property 'debounce.window' must be positive. Assigning default value 1s")
		cfg.Debounce.Window = Duration(1000 * time.Millisecond)
		reset = append(reset, "debounce.window")
	}
	if cfg.Ledger.CleanupInterval <= 0 {
		log.Warn().
			Dur("value", cfg.Ledger.CleanupInterval.Duration()).
			Msg("Property 'ledger.cleanup_interval' must be positive. Assigning default value 24h")
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
		reset = append(reset, "ledger.cleanup_interval")
	}
	if cfg.Ledger.RetentionDays <= 0 {
		log.Warn().
			Int("value", cfg.Ledger.RetentionDays).
			Msg("Property 'ledger.retention_days' must be positive. Assigning default value 30")
		cfg.Ledger.RetentionDays = 30
		reset = append(reset, "ledger.retention_days")
	}
	if cfg.ShutdownTimeout <= 0 {
		log.Warn().
			Dur("value", cfg.ShutdownTimeout.Duration()).
			Msg("Property 'shutdown_timeout' must be positive. Assigning default value 5s")
		cfg.ShutdownTimeout = Duration(5 * time.Second)
		reset = append(reset, "shutdown_timeout")
	}

	return reset
}

// BuildAccessories validates the accessory list and assigns addresses.
func (cfg *Config) BuildAccessories() ([]accessory.Accessory, error) {
	return accessory.Build(cfg.Accessories)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
