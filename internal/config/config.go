package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CreditBoardTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	OperatorUsername      string
	OperatorPassword      string
	LogLevel              string
	LogFormat             string
	SettingsFile          string
}

// Load reads the process configuration. Values come from an optional YAML
// file named by CONFIG_FILE (config.yaml by default); environment variables
// take precedence over the file.
func Load() (Config, error) {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit config file path. A missing file is not
// an error.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("redis_db", 0)
	v.SetDefault("credit_board_ttl_seconds", 30)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("operator_username", "admin")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("settings_file", "settings.json")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                  v.GetString("port"),
		AllowedOrigin:         v.GetString("allowed_origin"),
		DatabaseURL:           strings.TrimSpace(v.GetString("database_url")),
		SQLitePath:            strings.TrimSpace(v.GetString("sqlite_path")),
		RedisAddr:             strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		CreditBoardTTLSeconds: v.GetInt("credit_board_ttl_seconds"),
		AuthSecret:            strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes: v.GetInt("access_token_ttl_minutes"),
		OperatorUsername:      strings.TrimSpace(v.GetString("operator_username")),
		OperatorPassword:      v.GetString("operator_password"),
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
		SettingsFile:          v.GetString("settings_file"),
	}

	if cfg.CreditBoardTTLSeconds < 1 {
		cfg.CreditBoardTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
