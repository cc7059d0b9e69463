// Package config loads the keyledger server configuration from an optional
// YAML file and KEYLEDGER_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v2"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

// Ledger backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	Backend string `yaml:"backend"`

	// Genesis parameters, applied only when the ledger is empty.
	Owner              string `yaml:"owner"`
	BaseFee            uint64 `yaml:"base_fee"`
	BytesFeeMultiplier uint64 `yaml:"bytes_fee_multiplier"`
	GrantFee           uint64 `yaml:"grant_fee"`

	MaxBody   datasize.ByteSize `yaml:"max_body"`
	RateLimit RateLimit         `yaml:"rate_limit"`
	// TrustProxy keys rate limiting on X-Forwarded-For. Enable only behind
	// a reverse proxy that overwrites the header.
	TrustProxy    bool          `yaml:"trust_proxy"`
	StatsInterval time.Duration `yaml:"stats_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Listen:        ":8080",
		DataDir:       "data",
		Backend:       BackendSQLite,
		MaxBody:       32 * datasize.MB,
		RateLimit:     RateLimit{Requests: 60, Window: time.Minute},
		StatsInterval: 5 * time.Minute,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Listen = ":" + v
	}
	if v, ok := lookup("KEYLEDGER_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := lookup("KEYLEDGER_DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup("KEYLEDGER_BACKEND"); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup("KEYLEDGER_OWNER"); ok && v != "" {
		c.Owner = v
	}
	if v, ok := lookup("KEYLEDGER_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("KEYLEDGER_TRUST_PROXY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KEYLEDGER_TRUST_PROXY: %w", err)
		}
		c.TrustProxy = b
	}
	if v, ok := lookup("KEYLEDGER_MAX_BODY"); ok && v != "" {
		if err := c.MaxBody.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("KEYLEDGER_MAX_BODY: %w", err)
		}
	}
	for name, dst := range map[string]*uint64{
		"KEYLEDGER_BASE_FEE":             &c.BaseFee,
		"KEYLEDGER_BYTES_FEE_MULTIPLIER": &c.BytesFeeMultiplier,
		"KEYLEDGER_GRANT_FEE":            &c.GrantFee,
	} {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for backend %q", c.Backend)
	}
	if c.Owner != "" {
		if err := registry.Identity(c.Owner).Validate(); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
	}
	if c.MaxBody == 0 {
		return fmt.Errorf("max_body must be positive")
	}
	if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit requires positive requests and window")
	}
	return nil
}

// Genesis returns the admin config used to initialize an empty ledger.
func (c Config) Genesis() registry.AdminConfig {
	return registry.AdminConfig{
		Owner:              registry.Identity(c.Owner),
		BaseFee:            c.BaseFee,
		BytesFeeMultiplier: c.BytesFeeMultiplier,
		GrantFee:           c.GrantFee,
	}
}
