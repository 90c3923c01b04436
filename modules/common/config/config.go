package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port      string
	LogLevel  string
	LogPretty bool

	// Store: "supabase" (postgrest) 또는 "postgres" (gorm)
	StoreDriver string
	DatabaseURL string

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	// Gemini API
	GeminiAPIKeys    []string
	GeminiImageModel string
	GeminiTextModel  string
	GeminiTimeout    time.Duration

	// Vertex AI (설정 시 Gemini API 대신 사용)
	VertexAIProject         string
	VertexAILocation        string
	VertexAICredentialsJSON string

	// Redis (선택)
	RedisHost       string
	RedisPort       string
	RedisUsername   string
	RedisPassword   string
	RedisUseTLS     bool
	PricingCacheTTL time.Duration

	// Auth
	JWTSecret string

	// Credit
	PriceGeneration int
	PricePerEdit    int

	// Tracing
	OTELEnabled     bool
	OTELEndpoint    string
	OTELInsecure    bool
	OTELSampleRatio float64
	ServiceName     string

	// Orphan reaper (0 = 비활성)
	OrphanTimeout time.Duration
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "supabase")),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "fitting"),

		GeminiAPIKeys:    parseKeys(getEnv("GEMINI_API_KEYS", getEnv("GEMINI_API_KEY", ""))),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiTimeout:    getEnvDuration("GEMINI_TIMEOUT", 120*time.Second),

		VertexAIProject:         getEnv("VERTEXAI_PROJECT", ""),
		VertexAILocation:        getEnv("VERTEXAI_LOCATION", "us-central1"),
		VertexAICredentialsJSON: getEnv("VERTEXAI_CREDENTIALS_JSON", ""),

		RedisHost:       getEnv("REDIS_HOST", ""),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisUsername:   getEnv("REDIS_USERNAME", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:     getEnvBool("REDIS_USE_TLS", true),
		PricingCacheTTL: getEnvDuration("PRICING_CACHE_TTL", 5*time.Minute),

		JWTSecret: getEnv("JWT_SECRET", ""),

		PriceGeneration: getEnvInt("PRICE_GENERATION", 2),
		PricePerEdit:    getEnvInt("PRICE_PER_EDIT", 1),

		OTELEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:    getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTELInsecure:    getEnvBool("OTEL_INSECURE", true),
		OTELSampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1.0),
		ServiceName:     getEnv("SERVICE_NAME", "quel-fitting-server"),

		OrphanTimeout: getEnvDuration("ORPHAN_TIMEOUT", 15*time.Minute),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	log.Info().Msg("✅ Configuration loaded successfully")
	log.Info().Str("driver", cfg.StoreDriver).Str("supabase", cfg.SupabaseURL).Msg("   Store")
	log.Info().Str("image_model", cfg.GeminiImageModel).Str("text_model", cfg.GeminiTextModel).
		Int("api_keys", len(cfg.GeminiAPIKeys)).Bool("vertex", cfg.UseVertexAI()).Msg("   Gemini")
	log.Info().Bool("enabled", cfg.RedisEnabled()).Str("addr", cfg.GetRedisAddr()).Msg("   Redis")
	log.Info().Int("generation", cfg.PriceGeneration).Int("per_edit", cfg.PricePerEdit).Msg("   Credit")

	return cfg, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal().Msg("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	switch c.StoreDriver {
	case "supabase":
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be supabase or postgres, got %q", c.StoreDriver)
	}
	// Storage는 드라이버와 무관하게 Supabase 사용
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if len(c.GeminiAPIKeys) == 0 && !c.UseVertexAI() {
		return fmt.Errorf("GEMINI_API_KEY or VERTEXAI_PROJECT is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.PriceGeneration < 0 || c.PricePerEdit < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0,1]")
	}
	return nil
}

// UseVertexAI - Vertex AI backend 사용 여부
func (c *Config) UseVertexAI() bool {
	return c.VertexAIProject != ""
}

// RedisEnabled - Redis 설정 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("⚠️  invalid int, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", value).Msg("⚠️  invalid duration, using default")
	}
	return defaultValue
}

// parseKeys - 콤마로 구분된 API 키 목록
func parseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
