package config

import "github.com/kelseyhightower/envconfig"

// Config holds every environment variable this service reads, per spec §6.
type Config struct {
	// ----------------------------
	// HTTP / server
	// ----------------------------
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	ServerURL  string `envconfig:"SERVER_URL" required:"true"`
	APIKey     string `envconfig:"API_KEY" required:"true"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// AWS SES gateway
	// ----------------------------
	AWSRegion       string `envconfig:"AWS_REGION" default:"ap-northeast-2"`
	AWSSESFromEmail string `envconfig:"AWS_SES_FROM_EMAIL" required:"true"`

	// ----------------------------
	// Dispatcher pacing
	// ----------------------------
	MaxSendPerSecond int `envconfig:"MAX_SEND_PER_SECOND" default:"24"`

	// ----------------------------
	// Database pool
	// ----------------------------
	DBDSN                string `envconfig:"DB_DSN" required:"true"`
	DBMaxConnections     int32  `envconfig:"DB_MAX_CONNECTIONS" default:"20"`
	DBMinConnections     int32  `envconfig:"DB_MIN_CONNECTIONS" default:"5"`
	DBAcquireTimeoutSecs int    `envconfig:"DB_ACQUIRE_TIMEOUT_SECS" default:"30"`
	DBIdleTimeoutSecs    int    `envconfig:"DB_IDLE_TIMEOUT_SECS" default:"300"`

	// ----------------------------
	// Channels
	// ----------------------------
	SendChannelBuffer     int `envconfig:"SEND_CHANNEL_BUFFER" default:"10000"`
	PostSendChannelBuffer int `envconfig:"POST_SEND_CHANNEL_BUFFER" default:"1000"`

	// ----------------------------
	// Observability
	// ----------------------------
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the process environment, failing fast
// if a required variable is missing.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
