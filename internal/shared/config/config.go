package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"callqa-backend/internal/shared/telemetry"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	DatabaseURL     string
	AWSRegion       string
	SQSQueueURL     string
	Worker          WorkerConfig
	Providers       ProviderConfig
	Audio           AudioConfig
	HTTP            HTTPConfig
	ProcessingLease time.Duration
}

// HTTPConfig controls the API surface.
type HTTPConfig struct {
	CORSAllowOrigins []string
	EnqueueRate      float64
	EnqueueBurst     int
	PollRate         float64
	PollBurst        int
}

// WorkerConfig controls the queue consumer and its retry policy.
type WorkerConfig struct {
	Concurrency       int
	VisibilitySeconds int
	ShutdownTimeout   time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	MetricsAddr       string
}

// ProviderConfig holds speech and language model credentials and model names.
type ProviderConfig struct {
	OpenAIAPIKey            string
	OpenAIBaseURL           string
	GroqAPIKey              string
	GroqBaseURL             string
	LLMModel                string
	TranscribeModel         string
	FallbackTranscribeModel string
	Timeout                 time.Duration
}

// AudioConfig controls acquisition and segmentation.
type AudioConfig struct {
	MaxBytes         int64
	SegmentSeconds   int
	FetchTimeout     time.Duration
	FFmpegPath       string
	ContextTailChars int
	TempDir          string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		telemetry.Warn("config.database_url_missing", map[string]any{"env": env})
	}

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     dbURL,
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		SQSQueueURL:     strings.TrimSpace(os.Getenv("RA_SQS_QUEUE_URL")),
		ProcessingLease: seconds("PROCESSING_LEASE_SECONDS", 1200),
		Worker: WorkerConfig{
			Concurrency:       getEnvInt("WORKER_CONCURRENCY", 4),
			VisibilitySeconds: getEnvInt("RA_SQS_VISIBILITY_TIMEOUT_SECONDS", 1200),
			ShutdownTimeout:   seconds("RA_SHUTDOWN_TIMEOUT_SECONDS", 30),
			MaxAttempts:       getEnvInt("JOB_MAX_ATTEMPTS", 4),
			RetryDelay:        seconds("JOB_RETRY_DELAY_SECONDS", 60),
			MetricsAddr:       getEnv("WORKER_METRICS_ADDR", ""),
		},
		Providers: ProviderConfig{
			OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			GroqAPIKey:              os.Getenv("GROQ_API_KEY"),
			GroqBaseURL:             getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			LLMModel:                getEnv("LLM_MODEL", "gpt-4o-mini"),
			TranscribeModel:         getEnv("TRANSCRIBE_MODEL", "whisper-large-v3"),
			FallbackTranscribeModel: getEnv("FALLBACK_TRANSCRIBE_MODEL", "whisper-1"),
			Timeout:                 seconds("OPENAI_TIMEOUT_SECONDS", 120),
		},
		HTTP: HTTPConfig{
			CORSAllowOrigins: splitList(os.Getenv("CORS_ALLOW_ORIGIN")),
			EnqueueRate:      getEnvFloat("RATE_LIMIT_ENQUEUE_PER_SEC", 2),
			EnqueueBurst:     getEnvInt("RATE_LIMIT_ENQUEUE_BURST", 10),
			PollRate:         getEnvFloat("RATE_LIMIT_POLL_PER_SEC", 10),
			PollBurst:        getEnvInt("RATE_LIMIT_POLL_BURST", 30),
		},
		Audio: AudioConfig{
			MaxBytes:         int64(getEnvInt("MAX_AUDIO_BYTES", 24*1024*1024)),
			SegmentSeconds:   getEnvInt("SEGMENT_SECONDS", 300),
			FetchTimeout:     seconds("FETCH_TIMEOUT_SECONDS", 120),
			FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
			ContextTailChars: getEnvInt("CONTEXT_TAIL_CHARS", 200),
			TempDir:          os.Getenv("AUDIO_TEMP_DIR"),
		},
	}
	clampLease(&cfg)
	return cfg
}

// clampLease keeps the processing lease within the queue visibility timeout,
// so a delivery that reappears after a worker died finds the lease expired.
func clampLease(cfg *Config) {
	visibility := time.Duration(cfg.Worker.VisibilitySeconds) * time.Second
	if visibility <= 0 || cfg.ProcessingLease <= visibility {
		return
	}
	telemetry.Warn("config.lease_clamped", map[string]any{
		"lease_seconds":      int(cfg.ProcessingLease / time.Second),
		"visibility_seconds": cfg.Worker.VisibilitySeconds,
	})
	cfg.ProcessingLease = visibility
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid_int", map[string]any{"key": key, "value": raw, "default": def})
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 {
		telemetry.Warn("config.invalid_float", map[string]any{"key": key, "value": raw, "default": def})
		return def
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func seconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}
