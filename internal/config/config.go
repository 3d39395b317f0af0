// Package config reads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	JWTSecret   string

	SlotLockTTLSeconds int
	SnapshotInterval   time.Duration
	DayLockTimeout     time.Duration

	RateLimit    int
	RateInterval time.Duration

	Rooms        []string
	OpenTime     string
	CloseTime    string
	SlotInterval time.Duration

	OTLPEndpoint string
	ServiceName  string
}

func Load() Config {
	return Config{
		Port:        readString("PORT", "8080"),
		DatabaseURL: readString("DATABASE_URL", ""),
		RedisAddr:   readString("REDIS_ADDR", ""),
		JWTSecret:   readString("JWT_SECRET", "dev-secret"),

		SlotLockTTLSeconds: readInt("SLOT_LOCK_TTL_SECONDS", 300),
		SnapshotInterval:   readDurationSeconds("SNAPSHOT_INTERVAL_SECONDS", 3),
		DayLockTimeout:     readDurationSeconds("DAY_LOCK_TIMEOUT_SECONDS", 1),

		RateLimit:    readInt("RATE_LIMIT", 120),
		RateInterval: readDurationSeconds("RATE_INTERVAL_SECONDS", 60),

		Rooms:        readList("ROOMS", "room-1,room-2"),
		OpenTime:     readString("CLINIC_OPEN", "09:00"),
		CloseTime:    readString("CLINIC_CLOSE", "17:00"),
		SlotInterval: readDurationSeconds("SLOT_INTERVAL_SECONDS", 1800),

		OTLPEndpoint: readString("OTLP_ENDPOINT", ""),
		ServiceName:  readString("SERVICE_NAME", "clinicd"),
	}
}

func (c Config) SlotLockTTL() time.Duration {
	return time.Duration(c.SlotLockTTLSeconds) * time.Second
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	return time.Duration(readInt(key, fallback)) * time.Second
}

func readList(key, fallback string) []string {
	raw := readString(key, fallback)
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
