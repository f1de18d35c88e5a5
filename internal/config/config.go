// Package config loads server configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port              string `yaml:"port"`
	DBDriver          string `yaml:"dbDriver"`
	DBConn            string `yaml:"dbConn"`
	CookieSecret      string `yaml:"cookieSecret"`
	OwnerPasswordHash string `yaml:"ownerPasswordHash"`
	GeminiAPIKey      string `yaml:"geminiApiKey"`
}

// Load reads the YAML file at path when it exists, then applies env
// overrides and defaults. A missing file is not an error; an unreadable
// or malformed one is.
func Load(path string) (Config, error) {
	cfg := Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	override := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override(&cfg.Port, "PORT")
	override(&cfg.DBDriver, "DB_DRIVER")
	override(&cfg.DBConn, "DB_CONN")
	override(&cfg.CookieSecret, "COOKIE_SECRET")
	override(&cfg.OwnerPasswordHash, "OWNER_PASSWORD_HASH")
	override(&cfg.GeminiAPIKey, "GEMINI_API_KEY")

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = "sqlite3"
	}
	if cfg.DBConn == "" {
		cfg.DBConn = "./readinglog.db"
	}
	return cfg, nil
}
