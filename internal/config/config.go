package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	APIBaseURL string
	APIToken   string
	PlayerID   string
	MatchID    string
	DBPath     string
	BridgePort string
	LogLevel   string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		APIBaseURL: getEnv("BATTLE_API_BASE_URL", ""),
		APIToken:   getEnv("BATTLE_API_TOKEN", ""),
		PlayerID:   getEnv("PLAYER_ID", ""),
		MatchID:    getEnv("MATCH_ID", ""),
		DBPath:     getEnv("DB_PATH", "battlesync.db"),
		BridgePort: getEnv("BRIDGE_PORT", "8090"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("player_id", cfg.PlayerID).
		Str("match_id", cfg.MatchID).
		Str("db_path", cfg.DBPath).
		Str("bridge_port", cfg.BridgePort).
		Str("log_level", cfg.LogLevel).
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("BATTLE_API_BASE_URL is required")
	}
	if c.PlayerID == "" {
		return fmt.Errorf("PLAYER_ID is required")
	}
	if c.MatchID == "" {
		return fmt.Errorf("MATCH_ID is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
