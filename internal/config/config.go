package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
// Everything admins can change at runtime (window times, toggles, Telegram
// credentials) lives in the settings collection instead.
type App struct {
	Env              string
	HTTPPort         string
	DataDir          string
	JWTIssuer        string
	JWTSigningKey    string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	QueueBackend     string
	QueueKey         string
	RedisAddr        string
	RateLimitPerMin  int
	LoginLimitPerMin int
}

// Load returns application config populated from the environment (and an
// optional .env file) with sensible defaults.
func Load() App {
	_ = godotenv.Load()

	return App{
		Env:              getEnv("APP_ENV", "dev"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		DataDir:          getEnv("DATA_DIR", "data"),
		JWTIssuer:        getEnv("JWT_ISSUER", "absensi"),
		JWTSigningKey:    getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:        durationEnv("ACCESS_TTL", 15*time.Minute),
		RefreshTTL:       durationEnv("REFRESH_TTL", 24*time.Hour),
		QueueBackend:     getEnv("QUEUE_BACKEND", "memory"),
		QueueKey:         getEnv("QUEUE_KEY", "absensi:notifications"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MIN", 120),
		LoginLimitPerMin: intEnv("LOGIN_LIMIT_PER_MIN", 5),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
