package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Kafka.BatchTimeout != time.Second {
		t.Errorf("Kafka.BatchTimeout = %v, want 1s", cfg.Kafka.BatchTimeout)
	}
	if cfg.Simulator.MinIncrement != 0.01 || cfg.Simulator.MaxIncrement != 0.3 {
		t.Errorf("Simulator increments = %v..%v", cfg.Simulator.MinIncrement, cfg.Simulator.MaxIncrement)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
kafka:
  topic: meter-readings
  batch_timeout: 250ms
database:
  driver: postgres
  dsn: ${TEST_PG_DSN}
processor:
  worker_count: 8
http:
  addr: ":9090"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_PG_DSN", "postgres://localhost/smartgrid")
	t.Setenv("PROCESSOR_WORKER_COUNT", "16")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Kafka.Topic != "meter-readings" {
		t.Errorf("Kafka.Topic = %q, want from file", cfg.Kafka.Topic)
	}
	if cfg.Kafka.BatchTimeout != 250*time.Millisecond {
		t.Errorf("Kafka.BatchTimeout = %v, want 250ms", cfg.Kafka.BatchTimeout)
	}
	if cfg.Database.DSN != "postgres://localhost/smartgrid" {
		t.Errorf("Database.DSN = %q, want expanded env", cfg.Database.DSN)
	}
	if cfg.Processor.WorkerCount != 16 {
		t.Errorf("Processor.WorkerCount = %d, env must override file", cfg.Processor.WorkerCount)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, default must survive a partial file", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("Load with a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"memory without dsn", func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database = DatabaseConfig{Driver: DriverPostgres} }, "database.dsn"},
		{"unknown index", func(c *Config) { c.ReadingIndex.Backend = "etcd" }, "reading_index.backend"},
		{"redis without addr", func(c *Config) { c.ReadingIndex.Backend = IndexRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"zero workers", func(c *Config) { c.Processor.WorkerCount = 0 }, "worker_count"},
		{"zero batch size", func(c *Config) { c.Kafka.BatchSize = 0 }, "batch_size"},
		{"kafka disabled ignores batch size", func(c *Config) { c.Kafka.Enabled = false; c.Kafka.BatchSize = 0 }, ""},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "" }, "influxdb.url"},
		{"inverted increments", func(c *Config) { c.Simulator.MinIncrement = 1; c.Simulator.MaxIncrement = 0.5 }, "increments"},
		{"zero simulator interval", func(c *Config) { c.Simulator.Interval = 0 }, "interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
