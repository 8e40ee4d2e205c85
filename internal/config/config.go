package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot and the companion web
// service.
type Config struct {
	// Discord
	DiscordToken string

	// DeveloperIDs are the override identities that bypass every
	// permission and cooldown check.
	DeveloperIDs []string

	// Database (SQLite path or postgres:// DSN)
	DatabaseURL string

	// Web service
	WebAddr   string
	PublicURL string
	JWTSecret string

	// Roblox OAuth (account linking)
	RobloxClientID     string
	RobloxClientSecret string
	OAuthRedirectURL   string

	// Background jobs
	RankSweepMinutes int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:       os.Getenv("DISCORD_BOT_TOKEN"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "./data/amethyst.db"),
		WebAddr:            getEnvOrDefault("WEB_ADDR", ":8420"),
		PublicURL:          getEnvOrDefault("PUBLIC_URL", "http://localhost:8420"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		RobloxClientID:     os.Getenv("ROBLOX_CLIENT_ID"),
		RobloxClientSecret: os.Getenv("ROBLOX_CLIENT_SECRET"),
		OAuthRedirectURL:   getEnvOrDefault("OAUTH_REDIRECT_URL", "http://localhost:8420/auth/roblox/callback"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if devs := os.Getenv("DEVELOPER_IDS"); devs != "" {
		for _, id := range strings.Split(devs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.DeveloperIDs = append(cfg.DeveloperIDs, id)
			}
		}
	}

	sweepStr := getEnvOrDefault("RANK_SWEEP_MINUTES", "15")
	sweep, err := strconv.Atoi(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid RANK_SWEEP_MINUTES: %w", err)
	}
	if sweep <= 0 {
		return nil, fmt.Errorf("RANK_SWEEP_MINUTES must be positive, got %d", sweep)
	}
	cfg.RankSweepMinutes = sweep

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
