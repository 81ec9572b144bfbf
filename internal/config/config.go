// Package config loads runtime settings from an optional YAML file plus
// ANNOPORT_* environment variables, env taking precedence. Credentials are
// expected from the environment and never written back.
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Source is the source platform connection.
type Source struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Destination is the destination platform connection.
type Destination struct {
	Server      string `mapstructure:"server"`
	Token       string `mapstructure:"token"`
	WorkspaceID int    `mapstructure:"workspace_id"`
}

// Journal is the optional Postgres run journal.
type Journal struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// Describe is the optional local vision model used to catalog uploads.
type Describe struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	Port       int    `mapstructure:"port"`
	Model      string `mapstructure:"model"`
	EmbedModel string `mapstructure:"embed_model"`
}

// Config is the full runtime configuration.
type Config struct {
	Source      Source      `mapstructure:"source"`
	Destination Destination `mapstructure:"destination"`
	Journal     Journal     `mapstructure:"journal"`
	Describe    Describe    `mapstructure:"describe"`

	Workers   int    `mapstructure:"workers"`
	ReportDir string `mapstructure:"report_dir"`
	LogLevel  string `mapstructure:"log_level"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("workers", 4)
	v.SetDefault("report_dir", "reports")
	v.SetDefault("log_level", "info")
	v.SetDefault("journal.port", "5432")
	v.SetDefault("journal.dbname", "annoport")
	v.SetDefault("describe.base_url", "http://localhost")
	v.SetDefault("describe.port", 11434)
	v.SetDefault("describe.model", "llama3.2-vision:11b")
	v.SetDefault("describe.embed_model", "nomic-embed-text")

	v.SetEnvPrefix("ANNOPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %q", path)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	return &config, nil
}
