package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	goOTP "github.com/MrEthical07/goOTP"
)

type serverConfig struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	AppEnv      string `mapstructure:"APP_ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"DB_AUTO_MIGRATE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	SessionSigningMethod string `mapstructure:"SESSION_SIGNING_METHOD"`
	SessionPrivateKey    string `mapstructure:"SESSION_PRIVATE_KEY"`
	SessionIssuer        string `mapstructure:"SESSION_ISSUER"`
	SessionAudience      string `mapstructure:"SESSION_AUDIENCE"`
	CodePepper           string `mapstructure:"CODE_PEPPER"`

	PrimaryDeadline   time.Duration `mapstructure:"DELIVERY_PRIMARY_DEADLINE"`
	RequireOwnedEmail bool          `mapstructure:"RESEND_REQUIRE_OWNED_EMAIL"`

	SevenAPIKey string `mapstructure:"SEVEN_API_KEY"`
	SMSFrom     string `mapstructure:"SMS_FROM"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPFromName string `mapstructure:"SMTP_FROM_NAME"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
}

// loadConfig reads .env when present, then the environment. Environment
// variables win over .env entries.
func loadConfig() (*serverConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "otp")
	v.SetDefault("SESSION_SIGNING_METHOD", "ed25519")
	v.SetDefault("SESSION_PRIVATE_KEY", "")
	v.SetDefault("SESSION_ISSUER", "goOTP")
	v.SetDefault("SESSION_AUDIENCE", "")
	v.SetDefault("CODE_PEPPER", "")
	v.SetDefault("DELIVERY_PRIMARY_DEADLINE", "15s")
	v.SetDefault("RESEND_REQUIRE_OWNED_EMAIL", false)
	v.SetDefault("SEVEN_API_KEY", "")
	v.SetDefault("SMS_FROM", "")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_FROM_NAME", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("AUDIT_ENABLED", false)

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.SessionPrivateKey == "" {
		return nil, errors.New("config: SESSION_PRIVATE_KEY must be set")
	}
	if cfg.SevenAPIKey == "" && cfg.AppEnv == "production" {
		return nil, errors.New("config: SEVEN_API_KEY must be set when APP_ENV=production")
	}

	return &cfg, nil
}

// engineConfig maps the server settings onto the engine defaults.
func (c *serverConfig) engineConfig() (goOTP.Config, error) {
	cfg := goOTP.DefaultConfig()

	key, err := base64.StdEncoding.DecodeString(c.SessionPrivateKey)
	if err != nil {
		return cfg, fmt.Errorf("config: SESSION_PRIVATE_KEY is not base64: %w", err)
	}
	cfg.Session.PrivateKey = key
	cfg.Session.SigningMethod = c.SessionSigningMethod
	cfg.Session.Issuer = c.SessionIssuer
	cfg.Session.Audience = c.SessionAudience

	if c.CodePepper != "" {
		cfg.CodeHash.Pepper = []byte(c.CodePepper)
	}
	if c.PrimaryDeadline > 0 {
		cfg.Delivery.PrimaryDeadline = c.PrimaryDeadline
	}
	cfg.Delivery.RequireEmailOwnershipForResend = c.RequireOwnedEmail
	cfg.Redis.Prefix = c.RedisPrefix
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Audit.Enabled = c.AuditEnabled

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
