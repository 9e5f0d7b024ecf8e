package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	GinMode     string `mapstructure:"GIN_MODE"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	EnableDB    bool   `mapstructure:"ENABLE_DB"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	OpenAIAPIKey  string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `mapstructure:"OPENAI_BASE_URL"`
	OpenAIModel   string        `mapstructure:"OPENAI_MODEL"`
	LLMTimeout    time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMRPS        float64       `mapstructure:"LLM_RPS"`
	TriageMockLLM bool          `mapstructure:"TRIAGE_MOCK_LLM"`

	PredictorURL     string        `mapstructure:"PREDICTOR_URL"`
	PredictorTimeout time.Duration `mapstructure:"PREDICTOR_TIMEOUT"`

	AuthJWTSecret string   `mapstructure:"AUTH_JWT_SECRET"`
	DisableAuth   bool     `mapstructure:"DISABLE_AUTH"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	MaxUploadBytes int64   `mapstructure:"MAX_UPLOAD_BYTES"`
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	ValidateAge  bool   `mapstructure:"HEALTHLENS_VALIDATE_AGE"`
	PdftotextBin string `mapstructure:"PDFTOTEXT_BIN"`
	// OCR of scanned reports runs only when TESSERACT_BIN is set.
	TesseractBin string `mapstructure:"TESSERACT_BIN"`
	PdftoppmBin  string `mapstructure:"PDFTOPPM_BIN"`
	OCRDPI       int    `mapstructure:"OCR_DPI"`
}

var keys = []string{
	"PORT", "GIN_MODE", "LOG_LEVEL", "LOG_FORMAT",
	"ENABLE_DB", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SESSION_TTL",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "LLM_TIMEOUT", "LLM_RPS", "TRIAGE_MOCK_LLM",
	"PREDICTOR_URL", "PREDICTOR_TIMEOUT",
	"AUTH_JWT_SECRET", "DISABLE_AUTH", "CORS_ORIGINS",
	"MAX_UPLOAD_BYTES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"HEALTHLENS_VALIDATE_AGE", "PDFTOTEXT_BIN",
	"TESSERACT_BIN", "PDFTOPPM_BIN", "OCR_DPI",
}

// Load reads .env (if present) and the environment. Environment variables
// win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ENABLE_DB", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_TIMEOUT", "30s")
	v.SetDefault("PREDICTOR_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("PDFTOTEXT_BIN", "pdftotext")
	v.SetDefault("PDFTOPPM_BIN", "pdftoppm")
	v.SetDefault("OCR_DPI", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.EnableDB && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when ENABLE_DB=true")
	}
	if !c.DisableAuth && c.AuthJWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required unless DISABLE_AUTH=true")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.TesseractBin != "" && c.OCRDPI <= 0 {
		return fmt.Errorf("OCR_DPI must be positive, got %d", c.OCRDPI)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// LLMEnabled reports whether a model provider is configured.
func (c *Config) LLMEnabled() bool { return c.OpenAIAPIKey != "" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
