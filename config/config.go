package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Transport TransportConfig `yaml:"transport"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Rides     RidesConfig     `yaml:"rides"`
	Booking   BookingConfig   `yaml:"booking"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Address         string `yaml:"address"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

// StorageConfig selects the durable store: "postgres" or "memory".
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig leaves the cache unconfigured when Addr is empty.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	RideTTLSecs int    `yaml:"ride_ttl_seconds"`
}

// TransportConfig picks the envelope transport once, at wiring time:
// "kafka", "rabbitmq" or "none".
type TransportConfig struct {
	Driver         string `yaml:"driver"`
	Concurrency    int    `yaml:"concurrency"`
	DedupeTTLHours int    `yaml:"dedupe_ttl_hours"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

type RidesConfig struct {
	MinAdvanceMinutes   int     `yaml:"min_advance_minutes"`
	MaxAdvanceDays      int     `yaml:"max_advance_days"`
	MinPrice            float64 `yaml:"min_price"`
	MaxPrice            float64 `yaml:"max_price"`
	OverlapMinutes      int     `yaml:"overlap_minutes"`
	MaxRecurringRides   int     `yaml:"max_recurring_rides"`
	DefaultRecurWeeks   int     `yaml:"default_recurrence_weeks"`
	MaxPickupPoints     int     `yaml:"max_pickup_points"`
	UpdateRetryAttempts int     `yaml:"update_retry_attempts"`
}

type BookingConfig struct {
	AutoConfirm         bool `yaml:"auto_confirm"`
	LockTTLSeconds      int  `yaml:"lock_ttl_seconds"`
	LockWaitMillis      int  `yaml:"lock_wait_millis"`
	CodeValidAfterHours int  `yaml:"code_valid_after_departure_hours"`
}

type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	ClaimSeconds        int `yaml:"claim_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns a configuration that runs entirely in memory with the
// transport unconfigured.
func Defaults() Config {
	return Config{
		HTTP:      HTTPConfig{Address: ":8080", ShutdownSeconds: 5},
		Storage:   StorageConfig{Driver: "memory"},
		Redis:     RedisConfig{RideTTLSecs: 300},
		Transport: TransportConfig{Driver: "none", Concurrency: 8, DedupeTTLHours: 24},
		Kafka:     KafkaConfig{NotificationsTopic: "notifications", GroupID: "carpool-notifier"},
		RabbitMQ:  RabbitMQConfig{Exchange: "carpool.notifications", Queue: "notifications"},
		Rides: RidesConfig{
			MinAdvanceMinutes:   30,
			MaxAdvanceDays:      7,
			MinPrice:            1,
			MaxPrice:            500,
			OverlapMinutes:      30,
			MaxRecurringRides:   50,
			DefaultRecurWeeks:   8,
			MaxPickupPoints:     5,
			UpdateRetryAttempts: 3,
		},
		Booking: BookingConfig{LockTTLSeconds: 10, LockWaitMillis: 2000, CodeValidAfterHours: 2},
		Worker:  WorkerConfig{PollIntervalSeconds: 2, BatchSize: 100, ClaimSeconds: 60},
		Log:     LogConfig{Level: "info", Format: "console", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Transport.Driver {
	case "none", "":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka transport requires brokers")
		}
	case "rabbitmq":
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("rabbitmq transport requires url")
		}
	default:
		return fmt.Errorf("unknown transport driver %q", c.Transport.Driver)
	}
	if c.Rides.MinPrice > c.Rides.MaxPrice {
		return fmt.Errorf("rides.min_price %.2f exceeds rides.max_price %.2f", c.Rides.MinPrice, c.Rides.MaxPrice)
	}
	return nil
}

func (c RidesConfig) MinAdvance() time.Duration { return time.Duration(c.MinAdvanceMinutes) * time.Minute }
func (c RidesConfig) MaxAdvance() time.Duration { return time.Duration(c.MaxAdvanceDays) * 24 * time.Hour }
func (c RidesConfig) Overlap() time.Duration    { return time.Duration(c.OverlapMinutes) * time.Minute }

func (c BookingConfig) LockTTL() time.Duration  { return time.Duration(c.LockTTLSeconds) * time.Second }
func (c BookingConfig) LockWait() time.Duration { return time.Duration(c.LockWaitMillis) * time.Millisecond }
