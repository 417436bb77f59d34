package config

import (
	"os"
	"strconv"
)

type Config struct {
	OpenAIApiKey    string
	GoogleApiKey    string
	TavilyApiKey    string
	DatabaseURL     string
	MongoURI        string
	Port            string
	AgentModel      string
	EnhanceModel    string
	EmbeddingModel  string
	ExtractBatch    int
	DedupeThreshold float64
	Workers         int
}

func Load() *Config {
	return &Config{
		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		GoogleApiKey:    getEnv("GOOGLE_API_KEY", ""),
		TavilyApiKey:    getEnv("TAVILY_API_KEY", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		MongoURI:        getEnv("MONGODB_URI", ""),
		Port:            getEnv("PORT", "8080"),
		AgentModel:      getEnv("AGENT_MODEL", "gpt-4.1-mini-2025-04-14"),
		EnhanceModel:    getEnv("ENHANCE_MODEL", "gpt-4.1-2025-04-14"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		ExtractBatch:    getEnvAsInt("EXTRACT_BATCH_SIZE", 20),
		DedupeThreshold: getEnvAsFloat("DEDUPE_THRESHOLD", 0.8),
		Workers:         getEnvAsInt("PIPELINE_WORKERS", 4),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
