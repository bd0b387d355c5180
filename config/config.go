package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Challenges ChallengesConfig `mapstructure:"challenges"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Database driver selection
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite3" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	SessionName   string `mapstructure:"session_name"`
	HookToken     string `mapstructure:"hook_token"` // shared with content services calling the hooks
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

type TasksConfig struct {
	PerDay   int    `mapstructure:"per_day"`
	Timezone string `mapstructure:"timezone"`
}

type ChallengesConfig struct {
	Seed           bool `mapstructure:"seed"`
	AutoContribute bool `mapstructure:"auto_contribute"`
}

// Load reads config.yaml (and config.local.yaml on top of it) from the given
// paths, then applies ECOEDU_* environment overrides.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./ecoedu.db")

	v.SetDefault("auth.session_secret", "change-me-in-production")
	v.SetDefault("auth.session_name", "ecoedu-session")
	v.SetDefault("auth.hook_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("tasks.per_day", 3)
	v.SetDefault("tasks.timezone", "UTC")

	v.SetDefault("challenges.seed", true)
	v.SetDefault("challenges.auto_contribute", false)

	// Allow environment variables
	v.SetEnvPrefix("ECOEDU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, use defaults
	} else {
		v.SetConfigName("config.local")
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Tasks.PerDay <= 0 {
		return fmt.Errorf("tasks.per_day must be positive, got %d", c.Tasks.PerDay)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid tasks.timezone %q: %w", c.Tasks.Timezone, err)
	}
	return nil
}

// Location is the timezone that decides where a calendar day starts for daily tasks.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Tasks.Timezone)
}
