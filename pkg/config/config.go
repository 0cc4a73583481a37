// Package config contains the user configuration of the tunnel: the profile
// with every recognised option, a line-based profile-file parser, and the
// [Config] object that the engine and the services receive.
package config

import (
	"github.com/minisstp/minisstp/internal/model"
)

// Config is the immutable configuration shared by every service. The zero
// value is invalid; construct with [NewConfig].
type Config struct {
	logger  model.Logger
	profile *Profile
}

// Option mutates a [Config] during construction.
type Option func(*Config)

// NewConfig builds a [Config] with the given options.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		logger:  model.NewDefaultLogger(),
		profile: NewProfile(),
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// WithLogger sets the logger.
func WithLogger(logger model.Logger) Option {
	return func(cfg *Config) {
		cfg.logger = logger
	}
}

// WithProfile sets the connection profile.
func WithProfile(profile *Profile) Option {
	return func(cfg *Config) {
		cfg.profile = profile
	}
}

// Logger returns the configured logger.
func (cfg *Config) Logger() model.Logger {
	return cfg.logger
}

// Profile returns the connection profile.
func (cfg *Config) Profile() *Profile {
	return cfg.profile
}
