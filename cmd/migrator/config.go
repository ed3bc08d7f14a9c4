package main

import (
	"fmt"
	"net/url"
	"os"
)

// Config holds all configuration for the migration tool
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationTable is the name of the table to track migrations
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a string representation of the configuration (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// getEnvOrDefault returns the environment variable value or a default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// maskDatabaseURL masks sensitive information in database URLs for logging
func maskDatabaseURL(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "<unparseable>"
	}

	if parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "***")
		}
	}

	return parsed.String()
}
