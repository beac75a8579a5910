package app

import (
	"fmt"
	"os"
	"time"
)

// Config описывает настройки запуска приложения.
type Config struct {
	// HTTPAddr — адрес публичного HTTP API.
	HTTPAddr string
	// MetricsAddr — адрес сервера метрик и health-проверок.
	MetricsAddr string
	// PostgresDSN включает PostgreSQL-хранилище; пустое значение
	// оставляет in-memory реализацию.
	PostgresDSN string
	// KafkaBrokers — список брокеров через запятую; пустое значение
	// отключает публикацию событий.
	KafkaBrokers string
	// Timezone задаёт часовой пояс границы календарного дня нумерации.
	Timezone string
}

// DefaultConfig возвращает базовые адреса сервиса.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		Timezone:    "UTC",
	}
}

// ConfigFromEnv собирает конфигурацию из переменных окружения,
// начиная с DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("FOODALLEY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FOODALLEY_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("FOODALLEY_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("FOODALLEY_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("FOODALLEY_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}

	return cfg
}

// Location загружает часовой пояс конфигурации.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
