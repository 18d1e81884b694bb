package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/arloliu/go-spilink/spilink"
)

// duration wraps time.Duration so TOML values like "500ms" parse directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))

	return err
}

// Config is the TOML configuration for spilinkctl.
type Config struct {
	Link     LinkSettings     `toml:"link"`
	Exchange ExchangeSettings `toml:"exchange"`
}

// LinkSettings maps onto spilink.LinkConfig options.
type LinkSettings struct {
	AttemptTimeout     duration `toml:"attempt_timeout"`
	ArmTimeout         duration `toml:"arm_timeout"`
	MaxAttempts        int      `toml:"max_attempts"`
	RetryBackoff       duration `toml:"retry_backoff"`
	ExponentialBackoff bool     `toml:"exponential_backoff"`
}

// ExchangeSettings drives the simulated exchange run.
type ExchangeSettings struct {
	Sessions      int      `toml:"sessions"`
	CorruptRate   float64  `toml:"corrupt_rate"`
	Seed          int64    `toml:"seed"`
	TransferDelay duration `toml:"transfer_delay"`
}

func defaultConfig() *Config {
	return &Config{
		Link: LinkSettings{
			AttemptTimeout: duration{spilink.DefaultAttemptTimeout},
			ArmTimeout:     duration{spilink.DefaultArmTimeout},
			MaxAttempts:    spilink.DefaultMaxAttempts,
			RetryBackoff:   duration{spilink.DefaultRetryBackoff},
		},
		Exchange: ExchangeSettings{
			Sessions:    10,
			CorruptRate: 0,
			Seed:        1,
		},
	}
}

// loadConfig reads path over the defaults; an empty path returns defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	return cfg, nil
}

// linkOptions converts the TOML settings into functional options.
func (c *Config) linkOptions() []spilink.LinkOption {
	return []spilink.LinkOption{
		spilink.WithAttemptTimeout(c.Link.AttemptTimeout.Duration),
		spilink.WithArmTimeout(c.Link.ArmTimeout.Duration),
		spilink.WithMaxAttempts(c.Link.MaxAttempts),
		spilink.WithRetryBackoff(c.Link.RetryBackoff.Duration, c.Link.ExponentialBackoff),
	}
}
