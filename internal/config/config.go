// SPDX-License-Identifier: Apache-2.0

// Package config loads pipeline configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/joho/godotenv"
)

// Config holds everything the pipeline reads from the environment.
type Config struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string

	// NVDAPIKey raises the NVD rate limit when set.
	NVDAPIKey string
	// WebhookURL, when set, receives a summary after alert generation.
	WebhookURL string
}

// Load reads configuration from the environment. When envFile is empty a
// .env file in the working directory is loaded if present; a named file
// must exist.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		DBHost:     getEnvDefault("DB_HOST", "localhost"),
		DBPort:     getEnvDefault("DB_PORT", "5432"),
		DBName:     getEnvDefault("DB_NAME", "vulnpipe"),
		DBUser:     getEnvDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		NVDAPIKey:  os.Getenv("NVD_API_KEY"),
		WebhookURL: os.Getenv("WEBHOOK_URL"),
	}, nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName)
}

func getEnvDefault(key, defVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defVal
}
