package config

import (
	"log"
	"strings"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Domains    []DomainConfig   `mapstructure:"domains"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	LogLevel   string           `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// AdminConfig is one authenticated operator of the compliance console.
type AdminConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	APIKey string `mapstructure:"api_key"`
}

type AuthConfig struct {
	Admins []AdminConfig `mapstructure:"admins"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	JobTTLSeconds int    `mapstructure:"job_ttl_seconds"`
}

// ComplianceConfig carries the legally significant knobs. The 30-day SLA
// and 7-year audit retention defaults follow GDPR practice; they are global
// configuration, not per-tenant.
type ComplianceConfig struct {
	SLADays              int                   `mapstructure:"sla_days"`
	WarningDays          int                   `mapstructure:"warning_days"`
	AuditRetentionYears  int                   `mapstructure:"audit_retention_years"`
	AuditArchiveDir      string                `mapstructure:"audit_archive_dir"`
	SweepIntervalMinutes int                   `mapstructure:"sweep_interval_minutes"`
	ExportDir            string                `mapstructure:"export_dir"`
	ExportTTLHours       int                   `mapstructure:"export_ttl_hours"`
	DomainRetryAttempts  int                   `mapstructure:"domain_retry_attempts"`
	DomainRetryBackoffMs int                   `mapstructure:"domain_retry_backoff_ms"`
	RetentionRules       []model.RetentionRule `mapstructure:"retention_rules"`
}

// DomainConfig registers one external data domain reachable over HTTP.
type DomainConfig struct {
	Key     string `mapstructure:"key"`
	Label   string `mapstructure:"label"`
	Icon    string `mapstructure:"icon"`
	BaseURL string `mapstructure:"base_url"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type RateLimitConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

func (c ComplianceConfig) SLAWindow() time.Duration {
	return time.Duration(c.SLADays) * 24 * time.Hour
}

func (c ComplianceConfig) WarningWindow() time.Duration {
	return time.Duration(c.WarningDays) * 24 * time.Hour
}

func (c ComplianceConfig) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionYears) * 365 * 24 * time.Hour
}

func (c ComplianceConfig) DomainRetryBackoff() time.Duration {
	return time.Duration(c.DomainRetryBackoffMs) * time.Millisecond
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. COMPLYGATE_DATABASE_DSN
	viper.SetEnvPrefix("complygate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("rate_limit.qps", 25)
	viper.SetDefault("rate_limit.burst", 50)
	viper.SetDefault("redis.job_ttl_seconds", 604800)
	viper.SetDefault("compliance.sla_days", 30)
	viper.SetDefault("compliance.warning_days", 5)
	viper.SetDefault("compliance.audit_retention_years", 7)
	viper.SetDefault("compliance.audit_archive_dir", "./archive")
	viper.SetDefault("compliance.sweep_interval_minutes", 60)
	viper.SetDefault("compliance.export_dir", "./exports")
	viper.SetDefault("compliance.export_ttl_hours", 72)
	viper.SetDefault("compliance.domain_retry_attempts", 3)
	viper.SetDefault("compliance.domain_retry_backoff_ms", 250)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
