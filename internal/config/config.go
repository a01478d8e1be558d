package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the notification platform.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Email        EmailConfig        `yaml:"email"`
	SMS          SMSConfig          `yaml:"sms"`
	Push         PushConfig         `yaml:"push"`
	Browser      BrowserConfig      `yaml:"browser"`
	InApp        InAppConfig        `yaml:"in_app"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
	Intelligence IntelligenceConfig `yaml:"intelligence"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Reports      ReportsConfig      `yaml:"reports"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection for the analytics store,
// user directory, and in-app fallback inbox.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection for realtime counters and the
// send schedule.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EmailConfig holds AWS SES settings for the email transport.
type EmailConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	FromName       string `yaml:"from_name"`
	FromEmail      string `yaml:"from_email"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SMSConfig holds the SMS provider API settings.
type SMSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	FromNumber     string `yaml:"from_number"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c SMSConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PushConfig holds the mobile push provider API settings.
type PushConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c PushConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BrowserConfig holds the browser push provider API settings.
type BrowserConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c BrowserConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// InAppConfig holds in-app delivery settings.
type InAppConfig struct {
	Enabled         bool `yaml:"enabled"`
	FallbackToInbox bool `yaml:"fallback_to_inbox"`
}

// DeliveryConfig holds cross-transport delivery settings.
type DeliveryConfig struct {
	RetryTransient  bool `yaml:"retry_transient"`
	RetryBackoffMS  int  `yaml:"retry_backoff_ms"`
	ProviderTimeout int  `yaml:"provider_timeout_seconds"`

	// TrackingBaseURL is the public URL of the ingest service. When set,
	// transports route opens and clicks through its tracking endpoints;
	// empty disables engagement tracking on outbound content.
	TrackingBaseURL string `yaml:"tracking_base_url"`
}

// Timeout returns the per-provider-call timeout as a duration.
func (c DeliveryConfig) Timeout() time.Duration {
	return time.Duration(c.ProviderTimeout) * time.Second
}

// Backoff returns the retry backoff as a duration.
func (c DeliveryConfig) Backoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// IntelligenceConfig holds the online-learning parameters for the
// engagement predictor.
type IntelligenceConfig struct {
	LearningRate  float64 `yaml:"learning_rate"`
	MinExamples   int     `yaml:"min_examples"`
	BufferSize    int     `yaml:"buffer_size"`
	WeightClip    float64 `yaml:"weight_clip"`
	MinDataPoints int     `yaml:"min_data_points"` // per-channel floor for timing model updates
}

// IngestConfig holds the SQS engagement-event pipeline settings.
type IngestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// SchedulerConfig holds the dispatch worker settings.
type SchedulerConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	QueueKey            string `yaml:"queue_key"`
}

// PollInterval returns the dispatch poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ReportsConfig holds report archival settings.
type ReportsConfig struct {
	StorageType string `yaml:"storage_type"` // "local" or "s3"
	LocalPath   string `yaml:"local_path"`
	S3Bucket    string `yaml:"s3_bucket"`
	AWSRegion   string `yaml:"aws_region"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Email.Region == "" {
		cfg.Email.Region = "us-east-1"
	}
	if cfg.Email.TimeoutSeconds == 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	if cfg.SMS.TimeoutSeconds == 0 {
		cfg.SMS.TimeoutSeconds = 15
	}
	if cfg.Push.TimeoutSeconds == 0 {
		cfg.Push.TimeoutSeconds = 15
	}
	if cfg.Browser.TimeoutSeconds == 0 {
		cfg.Browser.TimeoutSeconds = 15
	}
	if cfg.Delivery.ProviderTimeout == 0 {
		cfg.Delivery.ProviderTimeout = 30
	}
	if cfg.Delivery.RetryBackoffMS == 0 {
		cfg.Delivery.RetryBackoffMS = 250
	}
	if cfg.Intelligence.LearningRate == 0 {
		cfg.Intelligence.LearningRate = 0.01
	}
	if cfg.Intelligence.MinExamples == 0 {
		cfg.Intelligence.MinExamples = 10
	}
	if cfg.Intelligence.BufferSize == 0 {
		cfg.Intelligence.BufferSize = 100
	}
	if cfg.Intelligence.WeightClip == 0 {
		cfg.Intelligence.WeightClip = 10.0
	}
	if cfg.Intelligence.MinDataPoints == 0 {
		cfg.Intelligence.MinDataPoints = 5
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 5
	}
	if cfg.Scheduler.QueueKey == "" {
		cfg.Scheduler.QueueKey = "notify:schedule"
	}
	if cfg.Reports.StorageType == "" {
		cfg.Reports.StorageType = "local"
	}
	if cfg.Reports.LocalPath == "" {
		cfg.Reports.LocalPath = "./data/reports"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.Region = v
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.SMS.APIKey = v
	}
	if v := os.Getenv("SMS_BASE_URL"); v != "" {
		cfg.SMS.BaseURL = v
	}
	if v := os.Getenv("PUSH_API_KEY"); v != "" {
		cfg.Push.APIKey = v
	}
	if v := os.Getenv("PUSH_BASE_URL"); v != "" {
		cfg.Push.BaseURL = v
	}
	if v := os.Getenv("BROWSER_PUSH_API_KEY"); v != "" {
		cfg.Browser.APIKey = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Delivery.TrackingBaseURL = v
	}
	if v := os.Getenv("SQS_ENGAGEMENT_QUEUE_URL"); v != "" {
		cfg.Ingest.QueueURL = v
		cfg.Ingest.Enabled = true
	}
	if v := os.Getenv("REPORTS_S3_BUCKET"); v != "" {
		cfg.Reports.S3Bucket = v
		cfg.Reports.StorageType = "s3"
	}

	return cfg, nil
}
