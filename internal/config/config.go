package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MinBcryptCost is the lowest accepted password hashing work factor.
const MinBcryptCost = 10

// Config holds application level configuration aggregated from env/config files.
// It is built once at startup and passed by value afterwards.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	Auth struct {
		AccessSecret  string        `mapstructure:"access_secret"`
		RefreshSecret string        `mapstructure:"refresh_secret"`
		AccessTTL     time.Duration `mapstructure:"access_ttl"`
		RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
		BcryptCost    int           `mapstructure:"bcrypt_cost"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"auth"`
	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"cors"`
	Cookie struct {
		Domain string `mapstructure:"domain"`
	} `mapstructure:"cookie"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Sentry struct {
		DSN         string `mapstructure:"dsn"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"sentry"`
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// legacyEnv maps config keys to the unprefixed variable names deployments
// already use.
var legacyEnv = map[string]string{
	"server.port":          "PORT",
	"database.url":         "DATABASE_URI",
	"auth.access_secret":   "ACCESS_TOKEN_SECRET",
	"auth.refresh_secret":  "REFRESH_TOKEN_SECRET",
	"cors.allowed_origins": "ALLOWED_ORIGINS",
	"sentry.dsn":           "SENTRY_DSN",
	"sentry.environment":   "SENTRY_ENVIRONMENT",
}

// Load reads configuration from environment variables, an optional .env file
// and an optional config file in the working directory.
func Load() (Config, error) {
	_ = godotenv.Load() // optional file, never overrides the real environment

	v := viper.New()
	v.SetEnvPrefix("AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "AUTH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitOrigins(cfg.CORS.AllowedOrigins)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "3000")
	v.SetDefault("database.url", "data/auth.db")
	v.SetDefault("auth.access_secret", "")
	v.SetDefault("auth.refresh_secret", "")
	v.SetDefault("auth.access_ttl", 30*time.Minute)
	v.SetDefault("auth.refresh_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", MinBcryptCost)
	v.SetDefault("auth.sweep_interval", time.Hour)
	v.SetDefault("cors.allowed_origins", []string{})
	v.SetDefault("cookie.domain", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}

// Validate reports configuration that must stop the process from starting.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.AccessSecret) == "" {
		errs = append(errs, errors.New("auth access token secret is required"))
	}
	if strings.TrimSpace(c.Auth.RefreshSecret) == "" {
		errs = append(errs, errors.New("auth refresh token secret is required"))
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		errs = append(errs, errors.New("auth access and refresh secrets must differ"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth token lifetimes must be positive"))
	}
	if c.Auth.BcryptCost < MinBcryptCost {
		errs = append(errs, fmt.Errorf("auth bcrypt cost must be at least %d", MinBcryptCost))
	}
	if c.Auth.SweepInterval < 0 {
		errs = append(errs, errors.New("auth sweep interval must not be negative"))
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		errs = append(errs, errors.New("database url is required"))
	}
	return errors.Join(errs...)
}

// splitOrigins flattens comma separated entries that come from a single env var.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, origin := range strings.Split(entry, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				out = append(out, origin)
			}
		}
	}
	return out
}
