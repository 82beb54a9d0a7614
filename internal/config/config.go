package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	Server      struct {
		Port                int    `mapstructure:"port"`
		EventsToken         string `mapstructure:"events_token"`
		GmailWebhookSecret  string `mapstructure:"gmail_webhook_secret"`
		PasswordResetSecret string `mapstructure:"password_reset_secret"`
		PasswordResetURL    string `mapstructure:"password_reset_url"`
		HealthSkipDB        bool   `mapstructure:"health_skip_db"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		Mode           string        `mapstructure:"mode"` // "introspect" or "jwt"
		CoreURL        string        `mapstructure:"core_url"`
		IntrospectPath string        `mapstructure:"introspect_path"`
		JWTSecret      string        `mapstructure:"jwt_secret"`
		AllowAnon      bool          `mapstructure:"allow_anon"`
		CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"auth"`
	Scheduler struct {
		Enabled       bool          `mapstructure:"enabled"`
		Cron          string        `mapstructure:"cron"`
		BatchSize     int           `mapstructure:"batch_size"`
		TickTimeout   time.Duration `mapstructure:"tick_timeout"`
		StaleAfter    time.Duration `mapstructure:"stale_after"` // 0 disables the stale-run reaper
		MaxAttempts   int           `mapstructure:"max_attempts"`
		RetryInterval time.Duration `mapstructure:"retry_interval"`
	} `mapstructure:"scheduler"`
	Channels struct {
		SMTP struct {
			Host     string `mapstructure:"host"`
			Port     int    `mapstructure:"port"`
			User     string `mapstructure:"user"`
			Password string `mapstructure:"password"`
			From     string `mapstructure:"from"`
		} `mapstructure:"smtp"`
		Slack struct {
			WebhookURL string `mapstructure:"webhook_url"` // process-wide fallback when no org webhook is connected
		} `mapstructure:"slack"`
		WhatsApp struct {
			AccountSID string `mapstructure:"account_sid"`
			AuthToken  string `mapstructure:"auth_token"`
			From       string `mapstructure:"from"`
		} `mapstructure:"whatsapp"`
	} `mapstructure:"channels"`
	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log"`
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "dev")
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.SetEnvPrefix("VEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus environment carry a dev setup.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "dev")
	viper.SetDefault("server.port", 8082)
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.user", "postgres")
	viper.SetDefault("db.name", "vexflows")
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("auth.mode", "introspect")
	viper.SetDefault("auth.introspect_path", "/api/auth/introspect")
	viper.SetDefault("auth.cache_ttl", time.Minute)
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.cron", "* * * * *")
	viper.SetDefault("scheduler.batch_size", 5)
	viper.SetDefault("scheduler.tick_timeout", 55*time.Second)
	viper.SetDefault("scheduler.stale_after", time.Duration(0))
	viper.SetDefault("scheduler.max_attempts", 1)
	viper.SetDefault("scheduler.retry_interval", 2*time.Second)
	viper.SetDefault("channels.smtp.port", 587)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
}
