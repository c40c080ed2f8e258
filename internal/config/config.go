// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway
	RazorpayKeyID         string
	RazorpayKeySecret     string // Signs checkout verification payloads
	RazorpayWebhookSecret string // Signs inbound webhook bodies

	// Credit economy
	LeadUnlockPrice  int64 // Credits charged per lead unlock (leads may carry their own cost)
	MinLeadsPurchase int64 // Minimum credits per checkout order
	GSTRatePercent   int64 // Applied on checkout order amounts
	OnboardingBonus  int64 // Credits granted on dealer registration

	// Admin auth
	AdminEmail        string
	AdminPasswordHash string // bcrypt hash of the admin password

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled if empty

	// Security
	RateLimitRPM int
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLeadUnlockPrice  = 1
	DefaultMinLeadsPurchase = 100
	DefaultGSTRatePercent   = 18
	DefaultRateLimit        = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		LeadUnlockPrice:       getEnvInt64("LEAD_UNLOCK_PRICE", DefaultLeadUnlockPrice),
		MinLeadsPurchase:      getEnvInt64("MIN_LEADS_PURCHASE", DefaultMinLeadsPurchase),
		GSTRatePercent:        getEnvInt64("GST_RATE_PERCENT", DefaultGSTRatePercent),
		OnboardingBonus:       getEnvInt64("ONBOARDING_BONUS", 0),
		AdminEmail:            os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash:     os.Getenv("ADMIN_PASSWORD_HASH"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:          int(getEnvInt64("RATE_LIMIT_RPM", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RazorpayWebhookSecret == "" {
		return fmt.Errorf("RAZORPAY_WEBHOOK_SECRET is required")
	}

	if c.LeadUnlockPrice <= 0 {
		return fmt.Errorf("LEAD_UNLOCK_PRICE must be a positive integer")
	}

	if c.MinLeadsPurchase <= 0 {
		return fmt.Errorf("MIN_LEADS_PURCHASE must be a positive integer")
	}

	if c.IsProduction() && (c.AdminEmail == "" || c.AdminPasswordHash == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD_HASH are required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
