package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPAddr     string
	LogLevel     string
	Locale       string

	StorageBackend    string // "sqlite" or "memory"
	StorageKey        string
	StorageQuotaBytes int

	ChatModel       string
	SpeechModel     string
	SpeechVoice     string
	TranscribeModel string
	ThinkingBudget  int
}

var AppConfig Config

var ErrMissingAPIKey = errors.New("GEMINI_API_KEY environment variable is required")

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Debug("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "omar_ai.db"),
		HTTPAddr:     getEnv("HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Locale:       getEnv("LOCALE", "ar"),

		StorageBackend:    getEnv("STORAGE_BACKEND", "sqlite"),
		StorageKey:        getEnv("STORAGE_KEY", "omar_ai_sessions"),
		StorageQuotaBytes: getEnvAsInt("STORAGE_QUOTA_BYTES", 5*1024*1024),

		ChatModel:       getEnv("CHAT_MODEL", "gemini-3-pro-preview"),
		SpeechModel:     getEnv("SPEECH_MODEL", "gemini-2.5-flash-preview-tts"),
		SpeechVoice:     getEnv("SPEECH_VOICE", "Kore"),
		TranscribeModel: getEnv("TRANSCRIBE_MODEL", "gemini-3-flash-preview"),
		ThinkingBudget:  getEnvAsInt("THINKING_BUDGET", 32768),
	}
}

// RequireGeminiKey is checked only by commands that talk to the model.
func RequireGeminiKey() error {
	if AppConfig.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
