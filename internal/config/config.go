package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey  string `env:"GEMINI_API_KEY,required,notEmpty"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"neura_local.db"`
	HTTPPort      string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"INFO"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`

	// Simulated latency of the mock auth flow
	LoginDelay  time.Duration `env:"AUTH_LOGIN_DELAY" envDefault:"800ms"`
	SignupDelay time.Duration `env:"AUTH_SIGNUP_DELAY" envDefault:"1s"`

	DefaultModel       string `env:"DEFAULT_MODEL" envDefault:"gemini-2.5-flash"`
	UseSearch          bool   `env:"USE_SEARCH" envDefault:"false"`
	MaxAttachmentBytes int64  `env:"MAX_ATTACHMENT_BYTES" envDefault:"20971520"`
}

var AppConfig Config

// LoadConfig populates AppConfig from the environment (and .env, if present).
func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	AppConfig = cfg
}

func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxAttachmentBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive, got %d", cfg.MaxAttachmentBytes)
	}
	return cfg, nil
}
