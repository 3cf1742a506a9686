package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Logging   LoggingConfig   `yaml:"logging"`
	LockerBox LockerBoxConfig `yaml:"lockerbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                          string `yaml:"host"`
	Port                          int    `yaml:"port"`
	StatusChangedTopicName        string `yaml:"status_changed_topic_name"`
	PackageDetectedTopicName      string `yaml:"package_detected_topic_name"`
	NotificationReceivedTopicName string `yaml:"notification_received_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

type LockerBoxConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	// "postgres" (default) or "memory" for local runs without a database.
	StorageDriver string   `yaml:"storage_driver"`
	SeedBoxes     []string `yaml:"seed_boxes"`

	NotificationAllowedApps []string `yaml:"notification_allowed_apps"`

	WorkerHTTPAddr              string `yaml:"worker_http_addr"`
	WorkerIntervalSeconds       int    `yaml:"worker_interval_seconds"`
	WorkerJitterSeconds         int    `yaml:"worker_jitter_seconds"`
	WorkerConcurrency           int    `yaml:"worker_concurrency"`
	WorkerStaleAfterSeconds     int    `yaml:"worker_stale_after_seconds"`
	WorkerTrackerTimeoutSeconds int    `yaml:"worker_tracker_timeout_seconds"`
	WorkerRateLimitPerMinute    int    `yaml:"worker_rate_limit_per_minute"`
	WorkerBackoff1Seconds       int    `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds       int    `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds       int    `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds       int    `yaml:"worker_backoff_4_seconds"`

	TrackerBaseURL string `yaml:"tracker_base_url"`
	TrackerMode    string `yaml:"tracker_mode"` // "http" | "fake"
	TrackerAPIKey  string `yaml:"tracker_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	return &config, nil
}

func (c *Config) PostgresConnString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
