// Package config loads the casecore runtime configuration from CASECORE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"slices"

	"casecore/internal/blob"
	"casecore/internal/infra/fieldcrypt"
)

var storageDrivers = []string{"memory", "sqlite", "postgres"}

// Config is the process configuration shared by the casecore commands.
type Config struct {
	StorageDriver  string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"./casecore.db"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	EncryptionKey  string `env:"ENCRYPTION_KEY"`
	AllowPlaintext bool   `env:"ALLOW_PLAINTEXT"`

	Blob blob.Config `envPrefix:"BLOB_"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	BackfillMonths      int `env:"BACKFILL_MONTHS" envDefault:"6"`
	BackfillConcurrency int `env:"BACKFILL_CONCURRENCY" envDefault:"4"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg, EnvPrefix); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Durable reports whether the configured driver keeps data at rest.
func (c Config) Durable() bool {
	return c.StorageDriver != "memory"
}

// Validate checks driver names, required connection settings and the
// encryption key rule: durable drivers need a key unless plaintext is
// explicitly allowed.
func (c Config) Validate() error {
	var errs []error
	if !slices.Contains(storageDrivers, c.StorageDriver) {
		errs = append(errs, fmt.Errorf("%sSTORAGE_DRIVER: unknown driver %q", EnvPrefix, c.StorageDriver))
	}
	if c.StorageDriver == "postgres" && c.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("%sPOSTGRES_DSN is required for the postgres driver", EnvPrefix))
	}
	if c.EncryptionKey != "" {
		if _, err := fieldcrypt.ParseKey(c.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("%sENCRYPTION_KEY: %w", EnvPrefix, err))
		}
	} else if c.Durable() && !c.AllowPlaintext {
		errs = append(errs, fmt.Errorf("%sENCRYPTION_KEY is required for durable storage unless %sALLOW_PLAINTEXT=true", EnvPrefix, EnvPrefix))
	}
	if c.BackfillMonths < 1 {
		errs = append(errs, fmt.Errorf("%sBACKFILL_MONTHS must be positive", EnvPrefix))
	}
	if c.BackfillConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%sBACKFILL_CONCURRENCY must be positive", EnvPrefix))
	}
	return errors.Join(errs...)
}

// Cipher builds the at-rest cipher; without a key it is plaintext.
func (c Config) Cipher() (fieldcrypt.Cipher, error) {
	if c.EncryptionKey == "" {
		return fieldcrypt.Plaintext{}, nil
	}
	key, err := fieldcrypt.ParseKey(c.EncryptionKey)
	if err != nil {
		return nil, err
	}
	box, err := fieldcrypt.NewSecretBox(key)
	if err != nil {
		return nil, err
	}
	return box, nil
}
