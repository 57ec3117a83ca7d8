// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (rate limiting). Optional: the in-memory store is used when unset.
	RedisAddr string `koanf:"redis_addr"`

	// JWT Authentication. The previous secret is set only during rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTPreviousSecret string `koanf:"jwt_previous_secret"`

	// Embedding provider
	EmbeddingHost      string        `koanf:"embedding_host"`
	EmbeddingModel     string        `koanf:"embedding_model"`
	EmbeddingDimension int           `koanf:"embedding_dimension"`
	EmbeddingTimeout   time.Duration `koanf:"embedding_timeout"`

	// Explanation refiner (LLM). Optional: the template fallback is used
	// when unset.
	RefinerHost    string        `koanf:"refiner_host"`
	RefinerModel   string        `koanf:"refiner_model"`
	RefinerTimeout time.Duration `koanf:"refiner_timeout"`

	// Ranking calibration table. Optional: the built-in table applies.
	CalibrationPath string `koanf:"calibration_path"`

	// Retrieval tiers
	RetrievalCandidateLimit int `koanf:"retrieval_candidate_limit"`
	RetrievalChildLimit     int `koanf:"retrieval_child_limit"`
	RetrievalMinPersons     int `koanf:"retrieval_min_persons"`

	// Credit economy
	CostPerCard         int64 `koanf:"cost_per_card"`
	LoadMoreCostPerCard int64 `koanf:"load_more_cost_per_card"`
	DefaultCards        int   `koanf:"default_cards"`

	// Search snapshot expiry. Zero disables expiry.
	SearchExpiry time.Duration `koanf:"search_expiry"`

	// LexicalTimeout bounds the full-text gateway; a slow lexical pass
	// degrades the search rather than stalling it.
	LexicalTimeout time.Duration `koanf:"lexical_timeout"`

	// Explanation outbox worker
	WorkerInterval time.Duration `koanf:"worker_interval"`

	// Stripe (credit top-ups). Optional as a group: when the API key is
	// unset, top-ups and the webhook endpoint are disabled.
	StripeAPIKey        string `koanf:"stripe_api_key"`
	StripeWebhookSecret string `koanf:"stripe_webhook_secret"`
	StripeSuccessURL    string `koanf:"stripe_success_url"`
	StripeCancelURL     string `koanf:"stripe_cancel_url"`
	// StripeCreditPacks lists purchasable packs as "price_id=credits" pairs
	// separated by commas, e.g. "price_small=100,price_large=550".
	StripeCreditPacks string `koanf:"stripe_credit_packs"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL        = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret          = errors.New("JWT_SECRET is required")
	ErrInvalidEmbeddingDimension = errors.New("EMBEDDING_DIMENSION must be > 0")
	ErrMissingStripeWebhook      = errors.New("STRIPE_WEBHOOK_SECRET is required when Stripe is configured")
	ErrMissingStripeURLs         = errors.New("STRIPE_SUCCESS_URL and STRIPE_CANCEL_URL are required when Stripe is configured")
	ErrInvalidCostPerCard        = errors.New("COST_PER_CARD must be >= 0")
	ErrInvalidPort               = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultEmbeddingModel     = "nomic-embed-text"
	DefaultEmbeddingDimension = 768
	DefaultEmbeddingTimeout   = 10 * time.Second
	DefaultRefinerTimeout     = 20 * time.Second
	DefaultCandidateLimit     = 200
	DefaultChildLimit         = 50
	DefaultMinPersons         = 3
	DefaultCostPerCard        = 1
	DefaultLoadMoreCost       = 1
	DefaultCardCount          = 6
	DefaultSearchExpiry       = 24 * time.Hour
	DefaultWorkerInterval     = 5 * time.Second
	DefaultLexicalTimeout     = 2 * time.Second
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try SCOUTLY_PORT first, then PORT.
	port, portErr := getEnvIntOrDefaultMulti([]string{"SCOUTLY_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	dimension, dimErr := getEnvIntOrDefault("EMBEDDING_DIMENSION", k.Int("embedding_dimension"), DefaultEmbeddingDimension)
	if dimErr != nil {
		loadErrs = append(loadErrs, dimErr)
	}
	candidateLimit, candErr := getEnvIntOrDefault("RETRIEVAL_CANDIDATE_LIMIT", k.Int("retrieval_candidate_limit"), DefaultCandidateLimit)
	if candErr != nil {
		loadErrs = append(loadErrs, candErr)
	}
	childLimit, childErr := getEnvIntOrDefault("RETRIEVAL_CHILD_LIMIT", k.Int("retrieval_child_limit"), DefaultChildLimit)
	if childErr != nil {
		loadErrs = append(loadErrs, childErr)
	}
	minPersons, minErr := getEnvIntOrDefault("RETRIEVAL_MIN_PERSONS", k.Int("retrieval_min_persons"), DefaultMinPersons)
	if minErr != nil {
		loadErrs = append(loadErrs, minErr)
	}
	costPerCard, costErr := getEnvIntOrDefault("COST_PER_CARD", k.Int("cost_per_card"), DefaultCostPerCard)
	if costErr != nil {
		loadErrs = append(loadErrs, costErr)
	}
	loadMoreCost, lmErr := getEnvIntOrDefault("LOAD_MORE_COST_PER_CARD", k.Int("load_more_cost_per_card"), DefaultLoadMoreCost)
	if lmErr != nil {
		loadErrs = append(loadErrs, lmErr)
	}
	defaultCards, cardsErr := getEnvIntOrDefault("DEFAULT_CARDS", k.Int("default_cards"), DefaultCardCount)
	if cardsErr != nil {
		loadErrs = append(loadErrs, cardsErr)
	}

	embedTimeout, etErr := getEnvDurationOrDefault("EMBEDDING_TIMEOUT", k.Duration("embedding_timeout"), DefaultEmbeddingTimeout)
	if etErr != nil {
		loadErrs = append(loadErrs, etErr)
	}
	refinerTimeout, rtErr := getEnvDurationOrDefault("REFINER_TIMEOUT", k.Duration("refiner_timeout"), DefaultRefinerTimeout)
	if rtErr != nil {
		loadErrs = append(loadErrs, rtErr)
	}
	searchExpiry, seErr := getEnvDurationOrDefault("SEARCH_EXPIRY", k.Duration("search_expiry"), DefaultSearchExpiry)
	if seErr != nil {
		loadErrs = append(loadErrs, seErr)
	}
	workerInterval, wiErr := getEnvDurationOrDefault("WORKER_INTERVAL", k.Duration("worker_interval"), DefaultWorkerInterval)
	if wiErr != nil {
		loadErrs = append(loadErrs, wiErr)
	}
	lexicalTimeout, ltErr := getEnvDurationOrDefault("LEXICAL_TIMEOUT", k.Duration("lexical_timeout"), DefaultLexicalTimeout)
	if ltErr != nil {
		loadErrs = append(loadErrs, ltErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"SCOUTLY_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:          getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		JWTSecret:          getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTPreviousSecret:  getEnvOrKoanf("JWT_PREVIOUS_SECRET", k, "jwt_previous_secret"),
		EmbeddingHost:      getEnvOrKoanf("EMBEDDING_HOST", k, "embedding_host"),
		EmbeddingModel:     getEnvOrDefault("EMBEDDING_MODEL", k.String("embedding_model"), DefaultEmbeddingModel),
		EmbeddingDimension: dimension,
		EmbeddingTimeout:   embedTimeout,
		RefinerHost:        getEnvOrKoanf("REFINER_HOST", k, "refiner_host"),
		RefinerModel:       getEnvOrKoanf("REFINER_MODEL", k, "refiner_model"),
		RefinerTimeout:     refinerTimeout,
		CalibrationPath:    getEnvOrKoanf("CALIBRATION_PATH", k, "calibration_path"),

		RetrievalCandidateLimit: candidateLimit,
		RetrievalChildLimit:     childLimit,
		RetrievalMinPersons:     minPersons,

		CostPerCard:         int64(costPerCard),
		LoadMoreCostPerCard: int64(loadMoreCost),
		DefaultCards:        defaultCards,
		SearchExpiry:        searchExpiry,
		LexicalTimeout:      lexicalTimeout,
		WorkerInterval:      workerInterval,

		StripeAPIKey:        getEnvOrKoanf("STRIPE_API_KEY", k, "stripe_api_key"),
		StripeCreditPacks:   getEnvOrKoanf("STRIPE_CREDIT_PACKS", k, "stripe_credit_packs"),
		StripeWebhookSecret: getEnvOrKoanf("STRIPE_WEBHOOK_SECRET", k, "stripe_webhook_secret"),
		StripeSuccessURL:    getEnvOrKoanf("STRIPE_SUCCESS_URL", k, "stripe_success_url"),
		StripeCancelURL:     getEnvOrKoanf("STRIPE_CANCEL_URL", k, "stripe_cancel_url"),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if
// set, otherwise the koanf value, or default. Durations use Go syntax
// ("10s", "24h").
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.EmbeddingDimension <= 0 {
		errs = append(errs, ErrInvalidEmbeddingDimension)
	}
	if c.CostPerCard < 0 || c.LoadMoreCostPerCard < 0 {
		errs = append(errs, ErrInvalidCostPerCard)
	}

	// Stripe is optional as a group: configuring the API key pulls in the
	// webhook secret and redirect URLs.
	if c.StripeAPIKey != "" {
		if c.StripeWebhookSecret == "" {
			errs = append(errs, ErrMissingStripeWebhook)
		}
		if c.StripeSuccessURL == "" || c.StripeCancelURL == "" {
			errs = append(errs, ErrMissingStripeURLs)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_addr":            c.RedisAddr,
		"jwt_secret":            maskSecret(c.JWTSecret),
		"embedding_host":        c.EmbeddingHost,
		"embedding_model":       c.EmbeddingModel,
		"embedding_dimension":   fmt.Sprintf("%d", c.EmbeddingDimension),
		"refiner_host":          c.RefinerHost,
		"refiner_model":         c.RefinerModel,
		"calibration_path":      c.CalibrationPath,
		"cost_per_card":         fmt.Sprintf("%d", c.CostPerCard),
		"default_cards":         fmt.Sprintf("%d", c.DefaultCards),
		"search_expiry":         c.SearchExpiry.String(),
		"stripe_api_key":        maskStripeKey(c.StripeAPIKey),
		"stripe_webhook_secret": maskSecret(c.StripeWebhookSecret),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskStripeKey masks a Stripe API key, preserving the prefix (sk_live_, sk_test_, etc.)
func maskStripeKey(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Stripe keys have format like sk_live_..., sk_test_..., pk_live_..., etc.
	parts := strings.SplitN(s, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + parts[1] + "_****"
	}

	// Fallback to generic masking
	return maskSecret(s)
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
