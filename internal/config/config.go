// Package config loads the governor's runtime configuration from environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// BackendSpec declares one dispatchable backend, cheapest first.
type BackendSpec struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	CostPerCall float64 `json:"costPerCall"`
}

type Config struct {
	Addr string

	JWTSecret  string
	AllowAnon  bool
	DebugToken string

	// Ledger persistence: Postgres when DatabaseURL is set, JSONL file
	// otherwise.
	DatabaseURL string
	LedgerPath  string

	SignerKeyB64 string
	SignerID     string

	BudgetLimitUSD      float64
	BudgetPeriod        time.Duration
	BudgetSoftThreshold float64

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerResetTimeout     time.Duration

	CacheSecret string
	CacheTTL    time.Duration

	GateThresholds map[string]float64

	ShadowSamples  int
	CanarySamples  int
	CanaryFraction float64

	KafkaBrokers []string
	KafkaTopic   string

	S3Bucket string
	S3Prefix string
	S3Region string

	Backends []BackendSpec
}

const (
	defaultAddr          = ":8070"
	defaultLedgerPath    = "governance-ledger.jsonl"
	defaultSignerID      = "governor-dev"
	defaultBudgetLimit   = 100.0
	defaultSoftThreshold = 0.95
	defaultKafkaTopic    = "governance-events"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:       getEnv("GOV_ADDR", defaultAddr),
		JWTSecret:  os.Getenv("GOV_JWT_SECRET"),
		AllowAnon:  getBool("GOV_ALLOW_ANON", false),
		DebugToken: os.Getenv("GOV_DEBUG_TOKEN"),

		DatabaseURL: firstNonEmpty(os.Getenv("GOV_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		LedgerPath:  getEnv("GOV_LEDGER_PATH", defaultLedgerPath),

		SignerKeyB64: os.Getenv("GOV_SIGNER_KEY_B64"),
		SignerID:     getEnv("GOV_SIGNER_ID", defaultSignerID),

		BudgetLimitUSD:      getFloat("GOV_BUDGET_LIMIT_USD", defaultBudgetLimit),
		BudgetPeriod:        getDuration("GOV_BUDGET_PERIOD", 24*time.Hour),
		BudgetSoftThreshold: getFloat("GOV_BUDGET_SOFT_THRESHOLD", defaultSoftThreshold),

		BreakerFailureThreshold: getInt("GOV_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerSuccessThreshold: getInt("GOV_BREAKER_SUCCESS_THRESHOLD", 2),
		BreakerResetTimeout:     getDuration("GOV_BREAKER_RESET_TIMEOUT", 60*time.Second),

		CacheSecret: os.Getenv("GOV_CACHE_SECRET"),
		CacheTTL:    getDuration("GOV_CACHE_TTL", 5*time.Minute),

		ShadowSamples:  getInt("GOV_SHADOW_SAMPLES", 10),
		CanarySamples:  getInt("GOV_CANARY_SAMPLES", 10),
		CanaryFraction: getFloat("GOV_CANARY_FRACTION", 0.05),

		KafkaTopic: getEnv("GOV_KAFKA_TOPIC", defaultKafkaTopic),

		S3Bucket: os.Getenv("GOV_S3_BUCKET"),
		S3Prefix: getEnv("GOV_S3_PREFIX", "governor"),
		S3Region: os.Getenv("GOV_S3_REGION"),
	}

	if v := os.Getenv("GOV_KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if v := os.Getenv("GOV_GATE_THRESHOLDS"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.GateThresholds); err != nil {
			return Config{}, fmt.Errorf("GOV_GATE_THRESHOLDS must be a JSON object of criterion to minimum: %w", err)
		}
	}
	if len(cfg.GateThresholds) == 0 {
		cfg.GateThresholds = map[string]float64{"reliability": 0.9}
	}

	if v := os.Getenv("GOV_BACKENDS"); v != "" {
		if err := json.Unmarshal([]byte(v), &cfg.Backends); err != nil {
			return Config{}, fmt.Errorf("GOV_BACKENDS must be a JSON array of backend specs: %w", err)
		}
		for i, b := range cfg.Backends {
			if b.ID == "" || b.URL == "" {
				return Config{}, fmt.Errorf("GOV_BACKENDS[%d]: id and url required", i)
			}
		}
	}

	if cfg.BudgetLimitUSD <= 0 {
		return Config{}, fmt.Errorf("GOV_BUDGET_LIMIT_USD must be positive")
	}
	if cfg.BudgetSoftThreshold <= 0 || cfg.BudgetSoftThreshold > 1 {
		return Config{}, fmt.Errorf("GOV_BUDGET_SOFT_THRESHOLD must be in (0, 1]")
	}
	if cfg.JWTSecret == "" && !cfg.AllowAnon {
		return Config{}, fmt.Errorf("GOV_JWT_SECRET required unless GOV_ALLOW_ANON=true")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
