// Package config provides application configuration management.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerPort string
	APIToken   string

	// LLM gateway configuration
	GatewayBaseURL    string
	GatewayAPIKey     string
	ChatModel         string
	ExtractionModel   string
	StreamTimeout     time.Duration
	CompletionTimeout time.Duration

	// Persistence configuration
	DataStoreDriver string
	DataStoreDSN    string
	StatePath       string

	// Redis / events configuration
	RedisAddr             string
	RedisUsername         string
	RedisPassword         string
	RedisDB               int
	RedisTLSEnabled       bool
	RedisTLSInsecure      bool
	EventsChannel         string
	ConversationLogStream string
	ConversationLogGroup  string

	// Rate limiting
	RateLimit      int
	RateWindow     time.Duration
	RateMaxEntries int

	// Moderation service
	ModerationURL        string
	ModerationTimeout    time.Duration
	ConversationFailOpen bool
	EventFailOpen        bool

	// Speech-to-text provider
	SpeechAPIURL  string
	SpeechAPIKey  string
	SpeechModel   string
	MaxAudioBytes int64

	// URL extraction
	MaxURLLength  int
	FetchMaxBytes int64
	FetchTimeout  time.Duration

	// Event search
	SearchRadiusKM float64

	// Tool catalog
	ToolCatalogPath string
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	statePath := getEnv("STATE_PATH", "/app/state")
	dataStoreDriver := getEnv("DATASTORE_DRIVER", "sqlite")
	dataStoreDSN := getEnv("DATASTORE_DSN", "")
	if dataStoreDSN == "" {
		if dataStoreDriver == "postgres" {
			dataStoreDSN = os.Getenv("POSTGRES_DSN")
		} else {
			dataStoreDSN = filepath.Join(statePath, "laiive.db")
		}
	}
	return &Config{
		ServerPort:            getEnv("SERVER_PORT", "8080"),
		APIToken:              os.Getenv("LAIIVE_API_TOKEN"),
		GatewayBaseURL:        getEnv("LLM_GATEWAY_URL", "https://api.openai.com/v1"),
		GatewayAPIKey:         os.Getenv("LLM_GATEWAY_API_KEY"),
		ChatModel:             getEnv("LLM_CHAT_MODEL", "gpt-4o-mini"),
		ExtractionModel:       getEnv("LLM_EXTRACTION_MODEL", "gpt-4o-mini"),
		StreamTimeout:         getEnvDuration("LLM_STREAM_TIMEOUT", 120*time.Second),
		CompletionTimeout:     getEnvDuration("LLM_COMPLETION_TIMEOUT", 45*time.Second),
		DataStoreDriver:       dataStoreDriver,
		DataStoreDSN:          dataStoreDSN,
		StatePath:             statePath,
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisUsername:         getEnv("REDIS_USERNAME", ""),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:       getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure:      getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:         getEnv("EVENTS_CHANNEL", "laiive-events"),
		ConversationLogStream: getEnv("CONVERSATION_LOG_STREAM", "laiive:conversation-log"),
		ConversationLogGroup:  getEnv("CONVERSATION_LOG_GROUP", "conversation-loggers"),
		RateLimit:             getEnvInt("RATE_LIMIT", 10),
		RateWindow:            getEnvDuration("RATE_WINDOW", time.Minute),
		RateMaxEntries:        getEnvInt("RATE_MAX_ENTRIES", 10000),
		ModerationURL:         getEnv("MODERATION_URL", ""),
		ModerationTimeout:     getEnvDuration("MODERATION_TIMEOUT", 10*time.Second),
		ConversationFailOpen:  getEnvBool("MODERATION_CONVERSATION_FAIL_OPEN", false),
		EventFailOpen:         getEnvBool("MODERATION_EVENT_FAIL_OPEN", false),
		SpeechAPIURL:          getEnv("SPEECH_API_URL", "https://api.openai.com/v1/audio/transcriptions"),
		SpeechAPIKey:          os.Getenv("SPEECH_API_KEY"),
		SpeechModel:           getEnv("SPEECH_MODEL", "whisper-1"),
		MaxAudioBytes:         getEnvInt64("MAX_AUDIO_BYTES", 10*1024*1024),
		MaxURLLength:          getEnvInt("MAX_URL_LENGTH", 2048),
		FetchMaxBytes:         getEnvInt64("FETCH_MAX_BYTES", 512*1024),
		FetchTimeout:          getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
		SearchRadiusKM:        getEnvFloat("SEARCH_RADIUS_KM", 10),
		ToolCatalogPath:       getEnv("TOOL_CATALOG_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Invalid float for %s: %s, using default %f", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
