// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/database"
)

const DriverMemory = "memory"

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8431"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	StoreDSN    string `env:"STORE_DSN"    envDefault:"storefront.db"`

	RemoteIdentityURL string        `env:"REMOTE_IDENTITY_URL" envDefault:"https://dummyjson.com"`
	RemoteHTTPTimeout time.Duration `env:"REMOTE_HTTP_TIMEOUT" envDefault:"10s"`
	// skips the remote strategy entirely
	RemoteDisabled bool `env:"REMOTE_IDENTITY_DISABLED"`

	LoginTimeout   time.Duration `env:"LOGIN_TIMEOUT"   envDefault:"5s"`
	RestoreTimeout time.Duration `env:"RESTORE_TIMEOUT" envDefault:"3s"`

	LocalTokenSecret string `env:"LOCAL_TOKEN_SECRET"`
	BcryptCost       int    `env:"BCRYPT_COST" envDefault:"12"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case database.DriverSQLite, database.DriverPostgres:
		if c.StoreDSN == "" {
			return errors.New("STORE_DSN required for " + c.StoreDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.LoginTimeout <= 0 || c.RestoreTimeout <= 0 {
		return errors.New("LOGIN_TIMEOUT and RESTORE_TIMEOUT must be positive")
	}
	if c.RestoreTimeout > c.LoginTimeout {
		return fmt.Errorf("RESTORE_TIMEOUT (%s) must not exceed LOGIN_TIMEOUT (%s)", c.RestoreTimeout, c.LoginTimeout)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST %d out of range", c.BcryptCost)
	}
	return nil
}
