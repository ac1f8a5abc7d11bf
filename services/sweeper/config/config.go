package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the sweeper service.
type Config struct {
	LogLevel        string
	RedisAddr       string
	PostgresDSN     string
	SweepInterval   time.Duration
	SweepSchedule   string // cron expression; empty = fixed interval
	PendingDeadline time.Duration
	BatchSize       int
	MetricsAddr     string
	OTelEndpoint    string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		RedisAddr:       v.GetString("redis_addr"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		SweepInterval:   v.GetDuration("sweep_interval"),
		SweepSchedule:   v.GetString("sweep_schedule"),
		PendingDeadline: v.GetDuration("pending_deadline"),
		BatchSize:       v.GetInt("batch_size"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
	}
}
