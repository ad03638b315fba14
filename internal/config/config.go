package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Workflow WorkflowConfig `json:"workflow"`
	Provider ProviderConfig `json:"provider"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type WorkflowConfig struct {
	// ConflictRetries bounds transparent retries after a version conflict.
	ConflictRetries int `json:"conflict_retries"`
	// ReminderLimit caps per-signer resend reminders; 0 means unlimited.
	ReminderLimit int `json:"reminder_limit"`
	// ExpirySweepInterval is how often overdue requests are expired.
	ExpirySweepInterval time.Duration `json:"expiry_sweep_interval"`
	// DefaultExpiryDays is applied when a request is created without an
	// explicit expiration; 0 disables the default.
	DefaultExpiryDays int `json:"default_expiry_days"`
}

type ProviderConfig struct {
	Mode          string `json:"mode"` // "internal" or "external"
	WebhookSecret string `json:"webhook_secret"`
}

func LoadConfig(filePath string) (*Configuration, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := InitializeDefaultConfig()
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func InitializeDefaultConfig() *Configuration {
	cfg := &Configuration{
		Server: ServerConfig{
			Port:         "8000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "signing_workflow",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Workflow: WorkflowConfig{
			ConflictRetries:     3,
			ReminderLimit:       10,
			ExpirySweepInterval: 5 * time.Minute,
			DefaultExpiryDays:   30,
		},
		Provider: ProviderConfig{
			Mode: "internal",
		},
	}
	return cfg
}

func applyDefaults(cfg *Configuration) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Workflow.ConflictRetries == 0 {
		cfg.Workflow.ConflictRetries = 3
	}
	if cfg.Workflow.ExpirySweepInterval == 0 {
		cfg.Workflow.ExpirySweepInterval = 5 * time.Minute
	}
	if cfg.Provider.Mode == "" {
		cfg.Provider.Mode = "internal"
	}
}

func LogConfig(cfg *Configuration, logger *zap.Logger) {
	logger.Info("Application configuration",
		zap.String("port", cfg.Server.Port),
		zap.Duration("read_timeout", cfg.Server.ReadTimeout),
		zap.Duration("write_timeout", cfg.Server.WriteTimeout),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Name),
		zap.Int("conflict_retries", cfg.Workflow.ConflictRetries),
		zap.Int("reminder_limit", cfg.Workflow.ReminderLimit),
		zap.Duration("expiry_sweep_interval", cfg.Workflow.ExpirySweepInterval),
		zap.String("provider_mode", cfg.Provider.Mode),
	)
}
