// Package config loads origin-guard settings from an optional YAML file and
// ORIGIN_GUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ORIGIN_GUARD"

// Config holds every tunable of the pipeline and the monitor.
type Config struct {
	DataDir     string `mapstructure:"data_dir"`
	RedisURL    string `mapstructure:"redis_url"`
	DatabaseURL string `mapstructure:"database_url"`
	ASNData     string `mapstructure:"asn_data"`
	DebugLevel  string `mapstructure:"debuglevel"`
	LogDir      string `mapstructure:"log_dir"`

	Threshold     float64 `mapstructure:"threshold"`
	MultiOrigin   bool    `mapstructure:"multi_origin"`
	Simulations   int     `mapstructure:"simulations"`
	Bootstraps    int     `mapstructure:"bootstraps"`
	Seed          uint64  `mapstructure:"seed"`
	Workers       int     `mapstructure:"workers"`
	LiveTableOnly bool    `mapstructure:"live_table_only"`

	Collectors  []string      `mapstructure:"collectors"`
	Listen      string        `mapstructure:"listen"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	AlertTTL    time.Duration `mapstructure:"alert_ttl"`
}

var defaults = map[string]interface{}{
	"data_dir":        "./data",
	"redis_url":       "",
	"database_url":    "",
	"asn_data":        "",
	"debuglevel":      "info",
	"log_dir":         "",
	"threshold":       0.6,
	"multi_origin":    false,
	"simulations":     200,
	"bootstraps":      200,
	"seed":            0,
	"workers":         1,
	"live_table_only": true,
	"collectors":      []string{"rrc00"},
	"listen":          ":8080",
	"dedup_window":    5 * time.Second,
	"alert_ttl":       5 * time.Minute,
}

// Load reads the configuration.  With an empty path, origin-guard.yaml is
// looked up in the working directory and /etc/origin-guard and is optional;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("origin-guard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/origin-guard")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Collectors = splitCollectors(cfg.Collectors)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{
		DataDir:       defaults["data_dir"].(string),
		DebugLevel:    defaults["debuglevel"].(string),
		Threshold:     defaults["threshold"].(float64),
		Simulations:   defaults["simulations"].(int),
		Bootstraps:    defaults["bootstraps"].(int),
		Workers:       defaults["workers"].(int),
		LiveTableOnly: true,
		Collectors:    []string{"rrc00"},
		Listen:        defaults["listen"].(string),
		DedupWindow:   defaults["dedup_window"].(time.Duration),
		AlertTTL:      defaults["alert_ttl"].(time.Duration),
	}
	return cfg
}

// splitCollectors accepts both a list and comma separated entries.
func splitCollectors(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, c := range strings.Split(entry, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// Validate reports the first setting that is out of range.
func (c *Config) Validate() error {
	switch {
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("threshold %v is outside [0, 1]", c.Threshold)
	case c.Simulations < 1:
		return fmt.Errorf("simulations must be positive, got %d", c.Simulations)
	case c.Bootstraps < 1:
		return fmt.Errorf("bootstraps must be positive, got %d", c.Bootstraps)
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.DedupWindow <= 0:
		return fmt.Errorf("dedup window must be positive, got %v", c.DedupWindow)
	case c.AlertTTL < 0:
		return fmt.Errorf("alert TTL must not be negative, got %v", c.AlertTTL)
	}
	return nil
}
