package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/diegodamacenoo/banban-core/internal/db"
)

// Config is the full service configuration.
type Config struct {
	DB     db.Config
	Server ServerConfig
	Auth   AuthConfig
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// AuthConfig holds webhook authentication settings.
type AuthConfig struct {
	// WebhookSecret is the shared bearer secret accepted on every flow.
	WebhookSecret string
	// SigningSecret signs scoped API keys.
	SigningSecret string
	Issuer        string
}

// Load reads config.yaml from configPath with environment overrides
// (BANBAN_DATABASE_HOST, BANBAN_SERVER_PORT, ...). A missing file is fine:
// defaults plus env vars apply.
func Load(configPath string) (Config, error) {
	cfg := Config{
		DB: db.DefaultConfig(),
		Server: ServerConfig{
			Port:           8080,
			RequestTimeout: 10 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Auth: AuthConfig{Issuer: "banban-core"},
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("BANBAN")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.port")
	v.BindEnv("server.request_timeout")
	v.BindEnv("auth.webhook_secret")
	v.BindEnv("auth.signing_secret")

	// Config file is optional; env vars and defaults cover the rest.
	_ = v.ReadInConfig()

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.request_timeout") {
		cfg.Server.RequestTimeout = v.GetDuration("server.request_timeout")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("auth.webhook_secret") {
		cfg.Auth.WebhookSecret = v.GetString("auth.webhook_secret")
	}
	if v.IsSet("auth.signing_secret") {
		cfg.Auth.SigningSecret = v.GetString("auth.signing_secret")
	}
	if v.IsSet("auth.issuer") {
		cfg.Auth.Issuer = v.GetString("auth.issuer")
	}

	return cfg, nil
}
