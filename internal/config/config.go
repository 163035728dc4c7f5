// Package config loads process configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting for trafficsim.
type Config struct {
	Port   int
	DBPath string // empty disables persistence

	Tick            time.Duration
	PerceptionEvery time.Duration
	NearbyRadiusKm  float64
	Workers         int
	Seed            int64

	RouteTimeout   time.Duration
	RouteCacheSize int
	RouteBucket    time.Duration

	AdminKey      string
	NATSURL       string
	NATSSubject   string
	MapsAPIKey    string
	CORSOrigins   []string
	LogLevel      slog.Level
	SummaryEvery  uint64
	BroadcastSize int
}

// Load reads .env (if present) and then the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	return Config{
		Port:   envIntOrDefault("TRAFFICSIM_PORT", 8000),
		DBPath: envSetOrDefault("TRAFFICSIM_DB", "data/traffic.db"),

		Tick:            envMillisOrDefault("TRAFFICSIM_TICK_MS", 100*time.Millisecond),
		PerceptionEvery: envMillisOrDefault("TRAFFICSIM_PERCEPTION_MS", time.Second),
		NearbyRadiusKm:  envFloatOrDefault("TRAFFICSIM_NEARBY_KM", 0.5),
		Workers:         envIntOrDefault("TRAFFICSIM_WORKERS", 0),
		Seed:            int64(envIntOrDefault("TRAFFICSIM_SEED", 0)),

		RouteTimeout:   envMillisOrDefault("TRAFFICSIM_ROUTE_TIMEOUT_MS", 5*time.Second),
		RouteCacheSize: envIntOrDefault("TRAFFICSIM_ROUTE_CACHE", 1024),
		RouteBucket:    time.Duration(envIntOrDefault("TRAFFICSIM_ROUTE_BUCKET_MIN", 5)) * time.Minute,

		AdminKey:      os.Getenv("TRAFFICSIM_ADMIN_KEY"),
		NATSURL:       os.Getenv("NATS_URL"),
		NATSSubject:   envOrDefault("TRAFFICSIM_NATS_SUBJECT", "traffic_state"),
		MapsAPIKey:    os.Getenv("GOOGLE_MAPS_API_KEY"),
		CORSOrigins:   splitList(os.Getenv("CORS_ORIGINS")),
		LogLevel:      parseLevel(os.Getenv("LOG_LEVEL")),
		SummaryEvery:  uint64(envIntOrDefault("TRAFFICSIM_SUMMARY_TICKS", 50)),
		BroadcastSize: envIntOrDefault("TRAFFICSIM_BROADCAST_BUFFER", 8),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envSetOrDefault returns the variable's value whenever it is set, including
// the empty string.
func envSetOrDefault(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("ignoring malformed integer", "var", key, "value", v)
	}
	return defaultVal
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring malformed number", "var", key, "value", v)
	}
	return defaultVal
}

func envMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("ignoring malformed duration", "var", key, "value", v)
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
