/*
Package config loads server configuration from the environment.

PURPOSE:
  One Config struct for the whole binary, loaded once at startup. A
  .env file is read when present (development convenience); real
  environments set variables directly. All variables carry the STUDIO_
  prefix and every field has a usable default, so a bare `go run` works.

VARIABLES:
  STUDIO_ENV                  dev | production          (default dev)
  STUDIO_PORT                 HTTP listen port          (default 8080)
  STUDIO_DB_PATH              SQLite path, "" = in-memory store
  STUDIO_CANCEL_WINDOW_HOURS  cancellation window       (default 24)
  STUDIO_SWEEP_CRON           grant-expiry sweep spec   (default hourly)
  STUDIO_AMQP_URL             notification broker, "" = log-only
  STUDIO_CORS_ORIGINS         comma-separated origins   (default *)
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the server's runtime configuration.
type Config struct {
	Env  string
	Port int

	// DBPath is the SQLite database file; empty selects the in-memory
	// store (state lost on restart, fine for dev and tests).
	DBPath string

	CancelWindow time.Duration
	SweepCron    string

	AMQPURL     string
	CORSOrigins []string
}

// Load reads configuration from the environment, with .env as a
// development fallback.
func Load() (*Config, error) {
	// Missing .env is not an error; production sets real env vars.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("STUDIO")
	v.AutomaticEnv()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_PATH", "")
	v.SetDefault("CANCEL_WINDOW_HOURS", 24)
	v.SetDefault("SWEEP_CRON", "0 * * * *")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("CORS_ORIGINS", "*")

	windowHours := v.GetInt("CANCEL_WINDOW_HOURS")
	if windowHours <= 0 {
		return nil, fmt.Errorf("STUDIO_CANCEL_WINDOW_HOURS must be positive, got %d", windowHours)
	}

	port := v.GetInt("PORT")
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("STUDIO_PORT out of range: %d", port)
	}

	cfg := &Config{
		Env:          v.GetString("ENV"),
		Port:         port,
		DBPath:       v.GetString("DB_PATH"),
		CancelWindow: time.Duration(windowHours) * time.Hour,
		SweepCron:    v.GetString("SWEEP_CRON"),
		AMQPURL:      v.GetString("AMQP_URL"),
		CORSOrigins:  splitOrigins(v.GetString("CORS_ORIGINS")),
	}
	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}
