package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime settings for the ceremony server. Every field is
// read from the environment; the defaults give a working single-node setup.
type Config struct {
	ListenAddr string `env:"KEYWARD_LISTEN_ADDR" envDefault:":9000"`

	// Empty RedisURL selects the in-memory challenge store and the
	// in-process event bus, which is fine for a single instance.
	RedisURL string `env:"KEYWARD_REDIS_URL"`

	DatabasePath string `env:"KEYWARD_DB_PATH" envDefault:"keyward.db"`

	RPDisplayName string   `env:"KEYWARD_RP_DISPLAY_NAME" envDefault:"Keyward"`
	RPID          string   `env:"KEYWARD_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"KEYWARD_RP_ORIGINS"      envSeparator:"," envDefault:"http://localhost:9000"`

	SessionTTL time.Duration `env:"KEYWARD_SESSION_TTL" envDefault:"720h"`
}

// Load parses the configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
