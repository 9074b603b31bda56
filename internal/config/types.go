package config

import "time"

// Config holds all configuration for subchandial/subchantop.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Subchannels []SubchannelConfig `yaml:"subchannels"`
	Transport   TransportConfig   `yaml:"transport"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// SubchannelConfig is one statically configured backend target: a ranked
// address list the transport's connector walks round-robin.
type SubchannelConfig struct {
	ID        string   `yaml:"id"`
	Addresses []string `yaml:"addresses"`
}

// TransportConfig tunes every Transport constructed from this process.
type TransportConfig struct {
	ProbeInterval     time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	MaxInitialBytes   int           `yaml:"max_initial_bytes" mapstructure:"max_initial_bytes"`
	ConnectRatePerSec float64       `yaml:"connect_rate_per_sec" mapstructure:"connect_rate_per_sec"`
	ConnectRateBurst  int           `yaml:"connect_rate_burst" mapstructure:"connect_rate_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats bool `yaml:"show_nerdstats" mapstructure:"show_nerdstats"`
}
