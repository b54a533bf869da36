package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Supported store backends
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	IndexStore = "store"
	IndexRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Kafka        KafkaConfig        `yaml:"kafka"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Processor    ProcessorConfig    `yaml:"processor"`
	Database     DatabaseConfig     `yaml:"database"`
	ReadingIndex ReadingIndexConfig `yaml:"reading_index"`
	Redis        RedisConfig        `yaml:"redis"`
	HTTP         HTTPConfig         `yaml:"http"`
	Provider     ProviderConfig     `yaml:"provider"`
	Logging      LoggingConfig      `yaml:"logging"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
}

// KafkaConfig holds Kafka-related configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	ConsumerCount int           `yaml:"consumer_count"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	Org          string        `yaml:"org"`
	Token        string        `yaml:"token"`
	Bucket       string        `yaml:"bucket"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// ProcessorConfig holds processor-related configuration
type ProcessorConfig struct {
	WorkerCount        int           `yaml:"worker_count"`
	QueueSize          int           `yaml:"queue_size"`
	EnableAggregations bool          `yaml:"enable_aggregations"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
}

// DatabaseConfig selects the summary store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReadingIndexConfig selects where the latest reading per account is kept
type ReadingIndexConfig struct {
	Backend string `yaml:"backend"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// HTTPConfig holds query API server settings
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProviderConfig holds the on-demand fetch client settings
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SimulatorConfig holds meter simulator settings
type SimulatorConfig struct {
	Accounts     int           `yaml:"accounts"`
	Providers    []string      `yaml:"providers"`
	Interval     time.Duration `yaml:"interval"`
	MinIncrement float64       `yaml:"min_increment"`
	MaxIncrement float64       `yaml:"max_increment"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Enabled:       true,
			Brokers:       []string{"localhost:9092"},
			Topic:         "smart-grid-readings",
			GroupID:       "smart-grid-consumption",
			ConsumerCount: 1,
			BatchSize:     500,
			BatchTimeout:  1 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			URL:          "http://localhost:8086",
			Org:          "smart-grid",
			Bucket:       "smart-grid-consumption",
			BatchSize:    5000,
			BatchTimeout: 500 * time.Millisecond,
		},
		Processor: ProcessorConfig{
			WorkerCount:        4,
			QueueSize:          1000,
			EnableAggregations: true,
			FlushInterval:      15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "smartgrid.db",
		},
		ReadingIndex: ReadingIndexConfig{
			Backend: IndexStore,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "smartgrid:reading:",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Simulator: SimulatorConfig{
			Accounts:     100,
			Providers:    []string{"P1", "P2", "P3"},
			Interval:     1 * time.Second,
			MinIncrement: 0.01,
			MaxIncrement: 0.3,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE and environment variables, in that order. A .env file in the
// working directory is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = getEnvStringSlice("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.ConsumerCount = getEnvInt("KAFKA_CONSUMER_COUNT", cfg.Kafka.ConsumerCount)
	cfg.Kafka.BatchSize = getEnvInt("KAFKA_BATCH_SIZE", cfg.Kafka.BatchSize)
	cfg.Kafka.BatchTimeout = getEnvDuration("KAFKA_BATCH_TIMEOUT", cfg.Kafka.BatchTimeout)

	cfg.InfluxDB.Enabled = getEnvBool("INFLUXDB_ENABLED", cfg.InfluxDB.Enabled)
	cfg.InfluxDB.URL = getEnv("INFLUXDB_URL", cfg.InfluxDB.URL)
	cfg.InfluxDB.Org = getEnv("INFLUXDB_ORG", cfg.InfluxDB.Org)
	cfg.InfluxDB.Token = getEnv("INFLUX_TOKEN", cfg.InfluxDB.Token)
	cfg.InfluxDB.Bucket = getEnv("INFLUXDB_BUCKET", cfg.InfluxDB.Bucket)
	cfg.InfluxDB.BatchSize = getEnvInt("INFLUXDB_BATCH_SIZE", cfg.InfluxDB.BatchSize)
	cfg.InfluxDB.BatchTimeout = getEnvDuration("INFLUXDB_BATCH_TIMEOUT", cfg.InfluxDB.BatchTimeout)

	cfg.Processor.WorkerCount = getEnvInt("PROCESSOR_WORKER_COUNT", cfg.Processor.WorkerCount)
	cfg.Processor.QueueSize = getEnvInt("PROCESSOR_QUEUE_SIZE", cfg.Processor.QueueSize)
	cfg.Processor.EnableAggregations = getEnvBool("PROCESSOR_ENABLE_AGGREGATIONS", cfg.Processor.EnableAggregations)
	cfg.Processor.FlushInterval = getEnvDuration("PROCESSOR_FLUSH_INTERVAL", cfg.Processor.FlushInterval)

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DATABASE_DSN", cfg.Database.DSN)
	cfg.ReadingIndex.Backend = getEnv("READING_INDEX_BACKEND", cfg.ReadingIndex.Backend)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", cfg.HTTP.WriteTimeout)
	cfg.HTTP.RequestTimeout = getEnvDuration("HTTP_REQUEST_TIMEOUT", cfg.HTTP.RequestTimeout)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)

	cfg.Provider.BaseURL = getEnv("PROVIDER_BASE_URL", cfg.Provider.BaseURL)
	cfg.Provider.Timeout = getEnvDuration("PROVIDER_TIMEOUT", cfg.Provider.Timeout)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Simulator.Accounts = getEnvInt("SIMULATOR_ACCOUNTS", cfg.Simulator.Accounts)
	cfg.Simulator.Providers = getEnvStringSlice("SIMULATOR_PROVIDERS", cfg.Simulator.Providers)
	cfg.Simulator.Interval = getEnvDuration("SIMULATOR_INTERVAL", cfg.Simulator.Interval)
	cfg.Simulator.MinIncrement = getEnvFloat("SIMULATOR_MIN_INCREMENT", cfg.Simulator.MinIncrement)
	cfg.Simulator.MaxIncrement = getEnvFloat("SIMULATOR_MAX_INCREMENT", cfg.Simulator.MaxIncrement)
}

// Validate rejects unknown backends and non-positive sizes
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres; got %q", c.Database.Driver)
	}

	switch c.ReadingIndex.Backend {
	case IndexStore:
	case IndexRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis reading index")
		}
	default:
		return fmt.Errorf("reading_index.backend must be store or redis; got %q", c.ReadingIndex.Backend)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required")
		}
		if c.Kafka.ConsumerCount < 1 || c.Kafka.BatchSize < 1 || c.Kafka.BatchTimeout <= 0 {
			return fmt.Errorf("kafka consumer_count, batch_size and batch_timeout must be positive")
		}
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("influxdb.url and influxdb.bucket are required")
	}
	if c.Processor.WorkerCount < 1 {
		return fmt.Errorf("processor.worker_count must be positive, got %d", c.Processor.WorkerCount)
	}
	if c.Processor.QueueSize < 0 {
		return fmt.Errorf("processor.queue_size must not be negative, got %d", c.Processor.QueueSize)
	}
	if c.Simulator.MinIncrement <= 0 || c.Simulator.MaxIncrement < c.Simulator.MinIncrement {
		return fmt.Errorf("simulator increments must satisfy 0 < min <= max")
	}
	if c.Simulator.Interval <= 0 {
		return fmt.Errorf("simulator.interval must be positive, got %s", c.Simulator.Interval)
	}
	return nil
}

// Helper functions to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.Split(value, ",")
	}
	return defaultValue
}
