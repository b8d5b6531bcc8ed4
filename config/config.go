// Package config loads server settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// App is the full server configuration. Every field maps to a CARPOOL_*
// environment variable, e.g. CARPOOL_HTTP_ADDR.
type App struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`

	// Driver is "sqlite" or "postgres".
	Driver      string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"carpool.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"20"`

	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
	RabbitMQExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"carpool.events"`
	EventBuffer      int    `envconfig:"EVENT_BUFFER" default:"256"`

	InitialCredits int64         `envconfig:"INITIAL_CREDITS" default:"20"`
	AuditInterval  time.Duration `envconfig:"AUDIT_INTERVAL" default:"0s"`

	// EnableScenarios exposes /api/scenarios, which can wipe the database.
	EnableScenarios bool `envconfig:"ENABLE_SCENARIOS" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

const prefix = "CARPOOL"

// Load reads envFile (if it exists) into the environment, then processes the
// CARPOOL_* variables. Variables already set win over the file.
func Load(envFiles ...string) (App, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return App{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var c App
	if err := envconfig.Process(prefix, &c); err != nil {
		return App{}, err
	}
	return c, c.Validate()
}

func (c App) Validate() error {
	switch c.Driver {
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("CARPOOL_SQLITE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("CARPOOL_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown CARPOOL_DB_DRIVER %q", c.Driver)
	}
	if c.InitialCredits < 0 {
		return errors.New("CARPOOL_INITIAL_CREDITS must not be negative")
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c App) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
