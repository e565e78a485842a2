package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	ChainRPCURL        string
	ChainConfirmations int
	ChainStartBlock    int
	ChainPollSeconds   int
	IndexBatchBlocks   int

	Validators        []string
	AggThreshold      float64
	AggMinFraction    float64
	AggTimeoutSeconds int
	TaskPollSeconds   int

	RetryMaxAttempts int
	RetryBaseMillis  int
	RetryMaxSeconds  int

	EvidenceDir             string
	EvidenceCacheTTLSeconds int

	RubricPath    string
	CredIssuerURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRequests      int
	RateLimitWindowSeconds int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		ChainRPCURL:             os.Getenv("CHAIN_RPC_URL"),
		ChainConfirmations:      envIntDefault("CHAIN_CONFIRMATIONS", 6),
		ChainStartBlock:         envIntDefault("CHAIN_START_BLOCK", 0),
		ChainPollSeconds:        envIntDefault("CHAIN_POLL_SECONDS", 2),
		IndexBatchBlocks:        envIntDefault("INDEX_BATCH_BLOCKS", 64),
		Validators:              envListDefault("VALIDATORS", nil),
		AggThreshold:            envFloatDefault("AGG_THRESHOLD", 80),
		AggMinFraction:          envFloatDefault("AGG_MIN_FRACTION", 0.5),
		AggTimeoutSeconds:       envIntDefault("AGG_TIMEOUT_SECONDS", 600),
		TaskPollSeconds:         envIntDefault("TASK_POLL_SECONDS", 1),
		RetryMaxAttempts:        envIntDefault("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseMillis:         envIntDefault("RETRY_BASE_MILLIS", 200),
		RetryMaxSeconds:         envIntDefault("RETRY_MAX_SECONDS", 10),
		EvidenceDir:             envDefault("EVIDENCE_DIR", "/var/lib/agentsync/evidence"),
		EvidenceCacheTTLSeconds: envIntDefault("EVIDENCE_CACHE_TTL_SECONDS", 3600),
		RubricPath:              os.Getenv("RUBRIC_PATH"),
		CredIssuerURL:           os.Getenv("CRED_ISSUER_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envFloatDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envListDefault(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (c Config) ChainPollInterval() time.Duration {
	return time.Duration(c.ChainPollSeconds) * time.Second
}

func (c Config) TaskPollInterval() time.Duration {
	return time.Duration(c.TaskPollSeconds) * time.Second
}

func (c Config) AggTimeout() time.Duration {
	return time.Duration(c.AggTimeoutSeconds) * time.Second
}

func (c Config) EvidenceCacheTTL() time.Duration {
	return time.Duration(c.EvidenceCacheTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
