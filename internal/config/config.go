// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/tablesync/internal/cache"
	"github.com/jason-s-yu/tablesync/internal/database"
	"github.com/jason-s-yu/tablesync/internal/historian"
	"github.com/jason-s-yu/tablesync/internal/server"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"github.com/sirupsen/logrus"
)

// Config is everything the binaries read from the environment.
type Config struct {
	Port     string
	LogLevel logrus.Level
	// AllowedOrigins lists extra websocket origin patterns. Empty allows
	// same-origin pages only.
	AllowedOrigins []string
	// MaxMessageBytes caps one inbound websocket frame.
	MaxMessageBytes int64
	// InboundRate and InboundBurst throttle each connection's read pump.
	InboundRate  float64
	InboundBurst int

	Server    server.Config
	Transport transport.Config
	Historian historian.Config

	// RedisAddr empty disables the audit publisher.
	RedisAddr string
	RedisDB   int

	TokenExpire        time.Duration
	AuthPrivateKeyPath string
	AuthPublicKeyPath  string

	Postgres database.Params
	// MigrateSchema makes the historian create its tables on start.
	MigrateSchema bool
}

// Load reads the environment, falling back to defaults for anything unset or
// unparseable.
func Load() Config {
	srv := server.DefaultConfig()
	srv.TickRate = getEnvDuration("TICK_RATE", srv.TickRate)
	srv.ParticipantTimeout = getEnvDuration("PARTICIPANT_TIMEOUT", srv.ParticipantTimeout)
	srv.TurnTimeout = getEnvDuration("TURN_TIMEOUT", srv.TurnTimeout)
	srv.LobbyIdleTimeout = getEnvDuration("LOBBY_IDLE_TIMEOUT", srv.LobbyIdleTimeout)
	srv.StartCountdown = getEnvDuration("START_COUNTDOWN", srv.StartCountdown)
	srv.InboxSize = getEnvInt("SERVER_INBOX_SIZE", srv.InboxSize)

	tr := transport.DefaultConfig()
	tr.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", tr.HeartbeatInterval)
	tr.PongTimeout = getEnvDuration("PONG_TIMEOUT", tr.PongTimeout)
	tr.MaxMissedPongs = getEnvInt("MAX_MISSED_PONGS", tr.MaxMissedPongs)
	tr.BufferThreshold = getEnvInt("BUFFER_THRESHOLD", tr.BufferThreshold)
	tr.QueueCapacity = getEnvInt("SEND_QUEUE_CAPACITY", tr.QueueCapacity)
	tr.FlushInterval = getEnvDuration("FLUSH_INTERVAL", tr.FlushInterval)
	tr.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", tr.WriteTimeout)

	hist := historian.DefaultConfig()
	hist.QueueName = getEnv("HISTORIAN_QUEUE_NAME", cache.DefaultQueueName)
	hist.BatchSize = getEnvInt("HISTORIAN_BATCH_SIZE", hist.BatchSize)
	hist.FlushDelay = getEnvUnits("HISTORIAN_FLUSH_MS", time.Millisecond, hist.FlushDelay)
	hist.Inactivity = getEnvUnits("GAME_INACTIVITY_TIMEOUT_SEC", time.Second, hist.Inactivity)

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        level,
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", nil),
		MaxMessageBytes: int64(getEnvInt("MAX_MESSAGE_BYTES", 64<<10)),
		InboundRate:     getEnvFloat("INBOUND_RATE", 20),
		InboundBurst:    getEnvInt("INBOUND_BURST", 40),

		Server:    srv,
		Transport: tr,
		Historian: hist,

		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		TokenExpire:        getEnvTTL("TOKEN_EXPIRE_TIME", 0),
		AuthPrivateKeyPath: os.Getenv("AUTH_PRIVATE_KEY_PATH"),
		AuthPublicKeyPath:  os.Getenv("AUTH_PUBLIC_KEY_PATH"),

		Postgres: database.Params{
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Database: getEnv("PG_DATABASE", "tablesync"),
		},
		MigrateSchema: getEnvBool("HISTORIAN_MIGRATE", true),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses a Go duration ("30s", "5m"). Every timer and ticker
// it feeds needs a positive value, so zero and negatives fall back to def.
func getEnvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// getEnvUnits reads a positive integer count of unit.
func getEnvUnits(key string, unit, def time.Duration) time.Duration {
	n := getEnvInt(key, 0)
	if n <= 0 {
		return def
	}
	return time.Duration(n) * unit
}

// getEnvTTL is getEnvDuration for lifetimes, where "never" or "0" means zero
// (no expiry).
func getEnvTTL(key string, def time.Duration) time.Duration {
	switch s := os.Getenv(key); s {
	case "never", "0":
		return 0
	}
	return getEnvDuration(key, def)
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, def []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
