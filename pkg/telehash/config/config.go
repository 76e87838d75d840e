// Package config loads a Switch's configuration from a YAML file, with
// defaults for every field spec.md §6 leaves "implementation-defined"
// (UDP port, open/idle timeouts, write-queue capacity, metrics toggle).
//
// Grounded on the teacher's pkg/node/config_loader.go (DefaultNodeConfig +
// validate-after-parse shape), re-targeted at gopkg.in/yaml.v2 instead of
// the teacher's hand-rolled TOML-like parser.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so YAML may express timeouts as strings
// ("10s") rather than raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("10s") or a bare integer
// number of nanoseconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	// The integer form is tried first: yaml.v2 would also decode an integer
	// into a string, which ParseDuration then rejects for lack of a unit.
	var n int64
	if err := unmarshal(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("config: duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// SwitchConfig is the full configuration for a Telehash switch.
type SwitchConfig struct {
	// IdentityName is the base filename (without extension) the identity
	// store uses for this switch's keypair.
	IdentityName string `yaml:"identity_name"`
	// IdentityDir is the directory identity.FileStore reads/writes under.
	IdentityDir string `yaml:"identity_dir"`
	// Passphrase optionally encrypts the identity's private key at rest.
	Passphrase string `yaml:"passphrase"`

	// UDPPort is the local port the reactor binds to.
	UDPPort int `yaml:"udp_port"`

	// OpenTimeout bounds how long a PendingOpen waits for a reply
	// (spec.md §4.5: "default 10 s").
	OpenTimeout Duration `yaml:"open_timeout"`
	// IdleTimeout tears down a Line with no traffic for this long
	// (spec.md §4.4: "default 60 s").
	IdleTimeout Duration `yaml:"idle_timeout"`

	// WriteQueueCapacity bounds the reactor's outbound FIFO (spec.md §5:
	// "must be a bounded FIFO").
	WriteQueueCapacity int `yaml:"write_queue_capacity"`

	// ReplayLedgerPath, if set, backs the replay guard with a LevelDB
	// store at this path instead of the in-memory default.
	ReplayLedgerPath string `yaml:"replay_ledger_path"`

	// MetricsEnabled toggles whether the switch registers a metrics.Set.
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Default returns a SwitchConfig with spec-mandated defaults.
func Default() *SwitchConfig {
	return &SwitchConfig{
		IdentityName:       "switch",
		IdentityDir:        ".telehash",
		UDPPort:            42424,
		OpenTimeout:        Duration(10 * time.Second),
		IdleTimeout:        Duration(60 * time.Second),
		WriteQueueCapacity: 256,
		MetricsEnabled:     false,
	}
}

// Load reads path as YAML, merging it onto Default(). A missing file is not
// an error; it simply yields the defaults.
func Load(path string) (*SwitchConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for internally-consistent values.
func (c *SwitchConfig) Validate() error {
	if c.UDPPort < 0 || c.UDPPort > 65535 {
		return fmt.Errorf("config: invalid udp_port: %d", c.UDPPort)
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("config: open_timeout must be positive, got %s", c.OpenTimeout.Duration())
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle_timeout must be positive, got %s", c.IdleTimeout.Duration())
	}
	if c.WriteQueueCapacity <= 0 {
		return fmt.Errorf("config: write_queue_capacity must be positive, got %d", c.WriteQueueCapacity)
	}
	if c.IdentityName == "" {
		return fmt.Errorf("config: identity_name must not be empty")
	}
	return nil
}
