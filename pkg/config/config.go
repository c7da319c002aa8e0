package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Endpoint identifies one InfluxDB instance.
type Endpoint struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
	Org   string `mapstructure:"org"`
}

// Config is the immutable configuration for one mirror process, loaded once
// at startup from settings.yaml.
type Config struct {
	Remote       Endpoint
	Local        Endpoint
	RefreshRate  time.Duration
	RecoverSince time.Time
	Buckets      []string
	StatePath    string
}

// rawConfig is the on-disk shape, before the clock-style refresh rate and the
// RFC3339 recovery timestamp are parsed.
type rawConfig struct {
	Remote       Endpoint `mapstructure:"remote"`
	Local        Endpoint `mapstructure:"local"`
	RefreshRate  string   `mapstructure:"refresh_rate"`
	RecoverSince string   `mapstructure:"recover_since"`
	Buckets      []string `mapstructure:"buckets"`
	StatePath    string   `mapstructure:"state_path"`
}

// Load reads the settings file. When path is empty it searches for
// settings.yaml in the working directory and /etc/influx-mirror/.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("settings")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/influx-mirror/")
	}

	v.SetDefault("refresh_rate", "00:05:00")
	v.SetDefault("state_path", "./state")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return raw.parse()
}

func (raw rawConfig) parse() (*Config, error) {
	if err := raw.validate(); err != nil {
		return nil, err
	}

	refresh, err := ParseRefreshRate(raw.RefreshRate)
	if err != nil {
		return nil, err
	}

	since, err := time.Parse(time.RFC3339, raw.RecoverSince)
	if err != nil {
		return nil, fmt.Errorf("recover_since must be an RFC3339 timestamp: %w", err)
	}

	return &Config{
		Remote:       raw.Remote,
		Local:        raw.Local,
		RefreshRate:  refresh,
		RecoverSince: since.UTC(),
		Buckets:      raw.Buckets,
		StatePath:    raw.StatePath,
	}, nil
}

func (raw rawConfig) validate() error {
	endpoints := []struct {
		name string
		ep   Endpoint
	}{
		{"remote", raw.Remote},
		{"local", raw.Local},
	}
	for _, e := range endpoints {
		if e.ep.URL == "" {
			return fmt.Errorf("%s.url is required", e.name)
		}
		if e.ep.Token == "" {
			return fmt.Errorf("%s.token is required", e.name)
		}
		if e.ep.Org == "" {
			return fmt.Errorf("%s.org is required", e.name)
		}
	}
	if len(raw.Buckets) == 0 {
		return fmt.Errorf("at least one bucket is required")
	}
	if raw.RecoverSince == "" {
		return fmt.Errorf("recover_since is required")
	}
	return nil
}

// ParseRefreshRate parses a clock-style HH:MM:SS interval into a duration.
func ParseRefreshRate(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("refresh_rate must be HH:MM:SS, got %q", s)
	}

	var fields [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("refresh_rate must be HH:MM:SS, got %q", s)
		}
		fields[i] = n
	}

	d := time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second
	if d <= 0 {
		return 0, fmt.Errorf("refresh_rate must be positive, got %q", s)
	}
	return d, nil
}
