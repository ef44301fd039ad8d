package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/bryan-buckman/rssreader/internal/database"
)

type Config struct {
	ListenAddr string     `env:"LISTEN_ADDR"  envDefault:":8080"`
	LogLevel   slog.Level `env:"LOG_LEVEL"    envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH"      envDefault:"rssreader.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	DataDir     string `env:"DATA_DIR"     envDefault:"data"`

	FetchTimeout        time.Duration `env:"FETCH_TIMEOUT"         envDefault:"20s"`
	FetchConcurrency    int           `env:"FETCH_CONCURRENCY"     envDefault:"1"`
	FetchMaxBodyBytes   int64         `env:"FETCH_MAX_BODY_BYTES"  envDefault:"10485760"`
	HostRequestInterval time.Duration `env:"HOST_REQUEST_INTERVAL" envDefault:"500ms"`
	UserAgent           string        `env:"USER_AGENT"            envDefault:"rssreader/1.0"`

	RefreshDebounce time.Duration `env:"REFRESH_DEBOUNCE" envDefault:"500ms"`
	RefreshSchedule string        `env:"REFRESH_SCHEDULE" envDefault:"@every 30m"`

	ExportDir string `env:"EXPORT_DIR"`
}

// Parse reads the configuration from environ, or from the process
// environment when environ is nil, and validates it.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case database.DriverSQLite, database.DriverJSON:
	case database.DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	if c.FetchMaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_BODY_BYTES must be positive, got %d", c.FetchMaxBodyBytes))
	}

	return errors.Join(errs...)
}

// StoreOptions maps the storage settings onto database.Options.
func (c Config) StoreOptions() database.Options {
	return database.Options{
		Driver:      c.StoreDriver,
		SQLitePath:  c.DBPath,
		PostgresURL: c.DatabaseURL,
		DataDir:     c.DataDir,
	}
}
