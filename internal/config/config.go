package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	DSN              string
	MigrationsDir    string
	HTTPPort         string
	Username         string
	Password         string
	AuditFilter      string
	KafkaBrokers     []string
	KafkaGroupID     string
	KafkaTopic       string
	SweepInterval    time.Duration
	CooldownInterval time.Duration
	RelayInterval    time.Duration
	CacheInterval    time.Duration
}

func LoadConfig() *Config {
	brokersStr := getEnv("KAFKA_BROKERS", "localhost:9092")
	return &Config{
		DSN:              getEnv("APP_DSN", "host=localhost user=postgres password=postgres dbname=bloodlink sslmode=disable"),
		MigrationsDir:    getEnv("APP_MIGRATIONS", "migrations"),
		HTTPPort:         getEnv("APP_PORT", "9000"),
		Username:         getEnv("APP_USER", "admin"),
		Password:         getEnv("APP_PASS", "secret"),
		AuditFilter:      getEnv("APP_AUDIT_FILTER", ""),
		KafkaBrokers:     strings.Split(brokersStr, ","),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "notification-feed"),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "donor-notifications"),
		SweepInterval:    getDuration("SWEEP_INTERVAL", time.Hour),
		CooldownInterval: getDuration("COOLDOWN_INTERVAL", 6*time.Hour),
		RelayInterval:    getDuration("RELAY_INTERVAL", 5*time.Second),
		CacheInterval:    getDuration("CACHE_INTERVAL", time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.HTTPPort)
}
