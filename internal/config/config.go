package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Prefix is prepended to every variable name below.
const Prefix = "ORDERBOTS_"

type Config struct {
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	APIAddr         string        `env:"API_ADDR" envDefault:":8080"`
	ProcessDuration time.Duration `env:"PROCESS_DURATION" envDefault:"10s"`
	SettleTimeout   time.Duration `env:"SETTLE_TIMEOUT" envDefault:"60s"`
	InitialWorkers  int           `env:"INITIAL_WORKERS" envDefault:"0"`
	EventBuffer     int           `env:"EVENT_BUFFER" envDefault:"256"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`

	// Optional sinks; empty disables them.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisEventCap int64  `env:"REDIS_EVENT_CAP" envDefault:"1000"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
}

// Parse reads the configuration from environ, or from the process
// environment when environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var c Config
	opts := env.Options{Prefix: Prefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.ProcessDuration <= 0 {
		return errors.Errorf("%sPROCESS_DURATION must be positive, got %s", Prefix, c.ProcessDuration)
	}
	if c.SettleTimeout <= 0 {
		return errors.Errorf("%sSETTLE_TIMEOUT must be positive, got %s", Prefix, c.SettleTimeout)
	}
	if c.InitialWorkers < 0 {
		return errors.Errorf("%sINITIAL_WORKERS must not be negative, got %d", Prefix, c.InitialWorkers)
	}
	if c.RedisEventCap <= 0 {
		return errors.Errorf("%sREDIS_EVENT_CAP must be positive, got %d", Prefix, c.RedisEventCap)
	}
	return nil
}

func (c Config) RedisEnabled() bool    { return c.RedisAddr != "" }
func (c Config) PostgresEnabled() bool { return c.PostgresDSN != "" }

func Load() Config {
	c, err := Parse(nil)
	if err != nil {
		log.Fatal(err)
	}
	return c
}
