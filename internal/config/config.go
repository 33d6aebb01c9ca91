package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultFromAddress = "noreply@yourdomain.com"

// Config holds all configuration for the service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Storage   StorageConfig   `yaml:"storage"`
	Directory DirectoryConfig `yaml:"directory"`
	Mail      MailConfig      `yaml:"mail"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

func (c DatabaseConfig) Lifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Second
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

func (c RedisConfig) Enabled() bool { return c.URL != "" }

// QueueConfig selects where asynchronously requested broadcasts are queued.
type QueueConfig struct {
	Driver string `yaml:"driver"` // "memory" or "amqp"
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
}

// StorageConfig selects the delivery log backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
}

// DirectoryConfig selects the recipient directory backend.
type DirectoryConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	Seed   bool   `yaml:"seed"`
}

type MailConfig struct {
	Provider string     `yaml:"provider"` // "ses", "smtp" or "log"
	From     string     `yaml:"from"`
	SES      SESConfig  `yaml:"ses"`
	SMTP     SMTPConfig `yaml:"smtp"`
}

type SESConfig struct {
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DispatchConfig struct {
	PacingMillis   int `yaml:"pacing_ms"`
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// Pacing is the minimum spacing between two consecutive send attempts.
func (c DispatchConfig) Pacing() time.Duration {
	return time.Duration(c.PacingMillis) * time.Millisecond
}

// LockTTL bounds how long a crashed broadcast can hold the Redis lock.
func (c DispatchConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 300
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "memory"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "broadcast_sends"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Directory.Driver == "" {
		cfg.Directory.Driver = "memory"
	}
	if cfg.Mail.Provider == "" {
		cfg.Mail.Provider = "log"
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = DefaultFromAddress
	}
	if cfg.Mail.SES.Region == "" {
		cfg.Mail.SES.Region = "us-east-1"
	}
	if cfg.Mail.SES.TimeoutSeconds == 0 {
		cfg.Mail.SES.TimeoutSeconds = 30
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Dispatch.PacingMillis == 0 {
		cfg.Dispatch.PacingMillis = 100
	}
	if cfg.Dispatch.LockTTLSeconds == 0 {
		cfg.Dispatch.LockTTLSeconds = 3600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file is loaded first when present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.Queue.URL = v
	}
	if v := os.Getenv("QUEUE_DRIVER"); v != "" {
		cfg.Queue.Driver = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DIRECTORY_DRIVER"); v != "" {
		cfg.Directory.Driver = v
	}
	if v := os.Getenv("MAIL_PROVIDER"); v != "" {
		cfg.Mail.Provider = v
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mail.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mail.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mail.SES.Region = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mail.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Mail.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Mail.SMTP.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
