// Package config handles platform configuration
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr   string
	DataRoot   string
	DBPath     string
	FFmpegPath string

	// External AI services (OpenAI-compatible endpoints)
	APIKey       string
	APIBaseURL   string
	ChatModel    string
	WhisperModel string
	EmbedModel   string
	CallTimeout  time.Duration

	// Pipeline tuning
	FrameFPS            float64 // sampled frames per second
	PauseThresholdMS    int64   // silence gap that closes a paragraph
	ParagraphMaxChars   int     // character budget per paragraph
	SimilarityThreshold float64 // cosine cutoff above which frames are duplicates
	PrefilterDistance   int     // pHash Hamming distance treated as identical (-1 disables)
	EmbedConcurrency    int     // concurrent embedding fetches per task
	Workers             int     // tasks processed simultaneously
}

func Load() *Config {
	return &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8000"),
		DataRoot:   getEnv("DATA_ROOT", "./data"),
		DBPath:     getEnv("DB_PATH", "./data/tasks.db"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		APIKey:       getEnv("OPENAI_API_KEY", ""),
		APIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		ChatModel:    getEnv("CHAT_MODEL", "gpt-4o-mini"),
		WhisperModel: getEnv("WHISPER_MODEL", "whisper-1"),
		EmbedModel:   getEnv("EMBED_MODEL", "jina-clip-v2"),
		CallTimeout:  time.Duration(getEnvFloat("CALL_TIMEOUT_SEC", 120)) * time.Second,

		FrameFPS:            getEnvFloat("FRAME_FPS", 0.5),
		PauseThresholdMS:    int64(getEnvInt("PAUSE_THRESHOLD_MS", 2000)),
		ParagraphMaxChars:   getEnvInt("PARAGRAPH_MAX_CHARS", 1200),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.9),
		PrefilterDistance:   getEnvInt("PREFILTER_HASH_DISTANCE", 2),
		EmbedConcurrency:    getEnvInt("EMBED_CONCURRENCY", 4),
		Workers:             getEnvInt("WORKERS", 2),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
