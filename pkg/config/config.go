// Package config loads process configuration from the environment with sane
// local-development defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel string

	HTTPPort        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Local storage.
	SQLitePath string

	// Remote storage.
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	MigrationsDir    string

	// Cache.
	RedisAddr string

	// Checkout events.
	KafkaBrokers      []string
	CheckoutTopic     string
	CheckoutDoneTopic string

	// Discount service.
	DiscountServiceURL string
}

func Load() Config {
	return Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		SQLitePath: getEnv("SQLITE_PATH", "storefront.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvInt("POSTGRES_PORT", 5432),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getEnv("POSTGRES_DB", "storefront"),
		MigrationsDir:    getEnv("MIGRATIONS_DIR", "internal/remotestore/migrations"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		KafkaBrokers:      []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		CheckoutTopic:     getEnv("CHECKOUT_TOPIC", "checkout-requested"),
		CheckoutDoneTopic: getEnv("CHECKOUT_DONE_TOPIC", "checkout-completed"),

		DiscountServiceURL: getEnv("DISCOUNT_SERVICE_URL", "http://localhost:8090"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
