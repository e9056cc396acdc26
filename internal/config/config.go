// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	DBURL           string `mapstructure:"DB_URL"`
	GithubToken     string `mapstructure:"GITHUB_TOKEN"`
	GithubAPIURL    string `mapstructure:"GITHUB_API_URL"`
	SearchQuery     string `mapstructure:"SEARCH_QUERY"`
	TargetRepoCount int    `mapstructure:"TARGET_REPO_COUNT"`
	StagingDir      string `mapstructure:"STAGING_DIR"`
	SchemaFile      string `mapstructure:"SCHEMA_FILE"`
	ExportFile      string `mapstructure:"EXPORT_FILE"`
	ListenAddr      string `mapstructure:"LISTEN_ADDR"`
}

// LoadConfig reads configuration from file and/or environment variables.
// Credential and database fields are validated separately per command, since
// the crawl phase runs without a database and the load phase without a token.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("GITHUB_API_URL", "https://api.github.com/graphql")
	viper.SetDefault("SEARCH_QUERY", "stars:>1")
	viper.SetDefault("TARGET_REPO_COUNT", 100000)
	viper.SetDefault("STAGING_DIR", "data")
	viper.SetDefault("SCHEMA_FILE", "schema.sql")
	viper.SetDefault("EXPORT_FILE", "github_repos.csv")
	viper.SetDefault("LISTEN_ADDR", ":8080")

	// Register keys without defaults so env-only values are picked up
	viper.SetDefault("DB_URL", "")
	viper.SetDefault("GITHUB_TOKEN", "")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.TargetRepoCount <= 0 {
		return nil, errors.New("TARGET_REPO_COUNT must be a positive integer")
	}

	return &cfg, nil
}

// ValidateCrawler checks the fields the crawl and tokencheck commands need.
func (c *Config) ValidateCrawler() error {
	if c.GithubToken == "" {
		return errors.New("GITHUB_TOKEN is a required configuration field")
	}
	return nil
}

// ValidateStore checks the fields the load and serve commands need.
func (c *Config) ValidateStore() error {
	if c.DBURL == "" {
		return errors.New("DB_URL is a required configuration field")
	}
	return nil
}
