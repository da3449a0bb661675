package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port              int
	CaptureAddr       string
	DataDir           string
	NatsURL           string
	DatabaseURL       string
	LogLevel          string
	SlackBotToken     string
	SlackAlertChannel string
}

func Load() Config {
	return Config{
		Port:              envInt("BEACON_PORT", 8450),
		CaptureAddr:       envStr("BEACON_CAPTURE_ADDR", ":7311"),
		DataDir:           envStr("BEACON_DATA_DIR", "/var/lib/beacon"),
		NatsURL:           envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
