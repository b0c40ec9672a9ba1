// Package config loads the reader's configuration via viper, honouring
// environment variables prefixed PGCDC_ and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything needed to construct a Reader: the replication
// connection/slot/publication, the Catalog Probe's connection string, and
// the Facade's tuning knobs.
type Config struct {
	DBName      string `mapstructure:"dbName"`
	DSN         string `mapstructure:"dsn"`
	CatalogDSN  string `mapstructure:"catalogDSN"` // defaults to DSN if empty
	Publication string `mapstructure:"publication"`
	Slot        string `mapstructure:"slot"`

	PollTimeout           time.Duration `mapstructure:"pollTimeout"`
	HeartbeatEvery        int           `mapstructure:"heartbeatEvery"`
	StandbyUpdateInterval time.Duration `mapstructure:"standbyUpdateInterval"`
	BufferSize            int           `mapstructure:"bufferSize"`

	MetricsListenAddr string `mapstructure:"metricsListenAddr"`
}

// DefaultConfig returns the tuning defaults matching the Facade's own
// fallbacks, so a zero-value Config loaded from a minimal file or
// environment still behaves sensibly.
func DefaultConfig() Config {
	return Config{
		PollTimeout:           500 * time.Millisecond,
		HeartbeatEvery:        50,
		StandbyUpdateInterval: 10 * time.Second,
		BufferSize:            1,
		MetricsListenAddr:     ":9090",
	}
}

// Validate checks that the required fields are present.
func (c Config) Validate() error {
	if c.DBName == "" {
		return fmt.Errorf("config: dbName is required")
	}
	if c.DSN == "" {
		return fmt.Errorf("config: dsn is required")
	}
	if c.Publication == "" {
		return fmt.Errorf("config: publication is required")
	}
	if c.Slot == "" {
		return fmt.Errorf("config: slot is required")
	}
	return nil
}

// Load reads configuration from cfgFile if given, otherwise searches the
// working directory and $HOME/.config for pgcdc.yaml, then overlays
// environment variables prefixed PGCDC_ (e.g. PGCDC_DSN, PGCDC_SLOT).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgcdc")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("PGCDC")
	for _, key := range []string{
		"dbName", "dsn", "catalogDSN", "publication", "slot",
		"pollTimeout", "heartbeatEvery", "standbyUpdateInterval", "bufferSize",
		"metricsListenAddr",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode config: %w", err)
	}

	if cfg.CatalogDSN == "" {
		cfg.CatalogDSN = cfg.DSN
	}

	return &cfg, nil
}
