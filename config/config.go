// Package config loads engine configuration from config.json with
// environment variable overrides. Environment takes precedence so deployments
// can keep secrets out of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"market-structure-engine/internal/auth"
	"market-structure-engine/internal/cache"
	"market-structure-engine/internal/circuit"
	"market-structure-engine/internal/database"
	"market-structure-engine/internal/engine"
	"market-structure-engine/internal/execution"
	"market-structure-engine/internal/logging"
	"market-structure-engine/internal/quality"
	"market-structure-engine/internal/regime"
	"market-structure-engine/internal/retrain"
	"market-structure-engine/internal/risk"
	"market-structure-engine/internal/structure"
	"market-structure-engine/internal/timeutil"
	"market-structure-engine/internal/vault"
)

// Config is the full engine configuration
type Config struct {
	Logging   logging.Config   `json:"logging"`
	Server    ServerConfig     `json:"server"`
	Auth      AuthConfig       `json:"auth"`
	Database  DatabaseConfig   `json:"database"`
	Redis     cache.Config     `json:"redis"`
	Vault     vault.Config     `json:"vault"`
	Engine    engine.Config    `json:"engine"`
	Quality   quality.Config   `json:"quality"`
	Structure structure.Config `json:"structure"`
	Memory    MemoryConfig     `json:"memory"`
	Regime    regime.Config    `json:"regime"`
	Execution ExecutionConfig  `json:"execution"`
	Circuit   circuit.Config   `json:"circuit_breaker"`
	Risk      risk.Config      `json:"risk"`
	Retrain   RetrainConfig    `json:"retrain"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	Enabled            bool            `json:"enabled"`
	JWTSecret          string          `json:"jwt_secret"`
	AccessTokenMinutes int             `json:"access_token_minutes"`
	RefreshTokenHours  int             `json:"refresh_token_hours"`
	BcryptCost         int             `json:"bcrypt_cost"`
	Operators          []auth.Operator `json:"operators"`
}

// DatabaseConfig wraps the connection settings with an enable flag. With the
// database disabled, records live in memory only.
type DatabaseConfig struct {
	Enabled bool `json:"enabled"`
	database.Config
}

// MemoryConfig holds instrument memory settings
type MemoryConfig struct {
	Capacity      int               `json:"capacity"`  // Events retained per instrument
	SweepAge      timeutil.Duration `json:"sweep_age"` // Entries idle longer than this are dropped
	SweepInterval timeutil.Duration `json:"sweep_interval"`
}

// ExecutionConfig holds guard limits with optional per-symbol overrides
type ExecutionConfig struct {
	Defaults  execution.Limits            `json:"defaults"`
	PerSymbol map[string]execution.Limits `json:"per_symbol"`
}

// RetrainConfig wraps trainer settings with scheduling
type RetrainConfig struct {
	Enabled  bool              `json:"enabled"`
	Interval timeutil.Duration `json:"interval"`
	retrain.Config
}

// Load reads config.json (when present) and applies environment overrides
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile reads a specific config file and applies environment overrides.
// A missing file is not an error; defaults plus environment apply.
func LoadFile(filename string) (*Config, error) {
	cfg := &Config{}

	if data, err := os.ReadFile(filename); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Auth.AccessTokenMinutes <= 0 {
		cfg.Auth.AccessTokenMinutes = 15
	}
	if cfg.Auth.RefreshTokenHours <= 0 {
		cfg.Auth.RefreshTokenHours = 168
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Memory.SweepAge <= 0 {
		cfg.Memory.SweepAge = timeutil.Duration(7 * 24 * time.Hour)
	}
	if cfg.Memory.SweepInterval <= 0 {
		cfg.Memory.SweepInterval = timeutil.Duration(time.Hour)
	}
	if cfg.Retrain.Interval <= 0 {
		cfg.Retrain.Interval = timeutil.Duration(24 * time.Hour)
	}
}

// applyEnvOverrides applies environment variable overrides. Secrets
// (database password, JWT secret, Redis password) are expected here or in
// Vault, never in config.json for production.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Host = getEnvOrDefault("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvIntOrDefault("PORT", cfg.Server.Port)
	if v := os.Getenv("PRODUCTION"); v != "" {
		cfg.Server.ProductionMode = v == "true"
	}

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.Logging.Pretty = v == "true"
	}

	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = v == "true"
	}
	cfg.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)

	if v := os.Getenv("DATABASE_ENABLED"); v != "" {
		cfg.Database.Enabled = v == "true"
	}
	cfg.Database.Host = getEnvOrDefault("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DATABASE_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.Database.SSLMode)

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true"
	}
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)

	if v := os.Getenv("VAULT_ENABLED"); v != "" {
		cfg.Vault.Enabled = v == "true"
	}
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)

	if v := os.Getenv("RETRAIN_ENABLED"); v != "" {
		cfg.Retrain.Enabled = v == "true"
	}
	cfg.Retrain.Interval = timeutil.Duration(getEnvDurationOrDefault("RETRAIN_INTERVAL", cfg.Retrain.Interval.Std()))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
