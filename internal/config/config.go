package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

var facilityRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Duration is a time.Duration that round-trips through TOML as a string
// like "5m" or "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents ~/.medisync/config.toml.
type Config struct {
	FacilityID string `toml:"facility_id"`
	DataDir    string `toml:"data_dir"`

	Remote  Remote  `toml:"remote"`
	Sync    Sync    `toml:"sync"`
	Cache   Cache   `toml:"cache"`
	Metrics Metrics `toml:"metrics"`
}

// Remote configures the upstream facility server connection. An empty DSN
// leaves the agent fully local: mutations queue until a DSN is configured.
type Remote struct {
	DSN string `toml:"dsn"`
}

type Sync struct {
	Interval    Duration `toml:"interval"`
	CallTimeout Duration `toml:"call_timeout"`
	BatchSize   int      `toml:"batch_size"`
	Strategy    string   `toml:"strategy"`
}

type Cache struct {
	MaxPatients          int `toml:"max_patients"`
	MaxRecordsPerPatient int `toml:"max_records_per_patient"`
	ExpiryDays           int `toml:"expiry_days"`
}

type Metrics struct {
	Addr string `toml:"addr"` // empty disables the HTTP listener
}

// Default returns the config the agent runs with when no file exists.
func Default() *Config {
	return &Config{
		DataDir: baseDir(),
		Sync: Sync{
			Interval:    Duration{5 * time.Minute},
			CallTimeout: Duration{15 * time.Second},
			BatchSize:   10,
			Strategy:    "MERGE",
		},
		Cache: Cache{
			MaxPatients:          100,
			MaxRecordsPerPatient: 50,
			ExpiryDays:           7,
		},
	}
}

// Load reads config from the given path, layering it over Default. A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks field values that would otherwise fail deep inside the
// agent at runtime.
func (c *Config) Validate() error {
	if c.FacilityID != "" && !facilityRegexp.MatchString(c.FacilityID) {
		return fmt.Errorf("invalid facility_id %q: must match ^[a-z0-9_-]{1,64}$", c.FacilityID)
	}
	switch c.Sync.Strategy {
	case "", "CLIENT_WINS", "SERVER_WINS", "MERGE", "MANUAL":
	default:
		return fmt.Errorf("invalid sync.strategy %q", c.Sync.Strategy)
	}
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("sync.batch_size must not be negative")
	}
	if c.Cache.MaxPatients < 0 || c.Cache.MaxRecordsPerPatient < 0 || c.Cache.ExpiryDays < 0 {
		return fmt.Errorf("cache limits must not be negative")
	}
	return nil
}

// CacheExpiry returns the cache retention window as a duration.
func (c *Config) CacheExpiry() time.Duration {
	return time.Duration(c.Cache.ExpiryDays) * 24 * time.Hour
}
