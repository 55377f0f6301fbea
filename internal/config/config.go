package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	AllowedOrigins   []string
	AllowCredentials bool
	Environment      string
	LogLevel         string

	JWTSecret string

	StoreBackend string // memory, sqlite or postgres
	DatabaseURL  string
	SQLitePath   string

	PresenceBackend string // memory or redis
	PresenceScope   string // global or contacts
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisChannel    string

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaInboundTopics []string
	KafkaOutboundTopic string

	SupportWindow time.Duration
	SeedDemoUsers bool
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8082"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AllowCredentials:   getEnv("ALLOW_CREDENTIALS", "false") == "true",
		Environment:        getEnv("ENVIRONMENT", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		StoreBackend:       getEnv("STORE_BACKEND", "sqlite"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/eventhub.db"),
		PresenceBackend:    getEnv("PRESENCE_BACKEND", "memory"),
		PresenceScope:      getEnv("PRESENCE_SCOPE", "global"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisChannel:       getEnv("REDIS_CHANNEL", "eventhub:broadcast"),
		KafkaEnabled:       getEnv("KAFKA_ENABLED", "false") == "true",
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "eventhub-realtime"),
		KafkaInboundTopics: splitList(getEnv("KAFKA_INBOUND_TOPICS", "booking-events,event-updates,admin-messages")),
		KafkaOutboundTopic: getEnv("KAFKA_OUTBOUND_TOPIC", "chat-events"),
		SupportWindow:      getDuration("SUPPORT_WINDOW", 24*time.Hour),
		SeedDemoUsers:      getEnv("SEED_DEMO_USERS", "false") == "true",
	}

	if cfg.IsProduction() {
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
		if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required for the postgres store")
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret"
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GetCORSOrigins returns CORS origins as a comma-separated string
func (c *Config) GetCORSOrigins() string {
	if c.Environment == "production" && len(c.AllowedOrigins) > 0 && c.AllowedOrigins[0] != "*" {
		return strings.Join(c.AllowedOrigins, ",")
	}
	return "*"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedisAddr joins host and port the way go-redis expects.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
