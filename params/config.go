package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Addr    string
	LogFile string // empty: console only
}

type Engine struct {
	DataDir string
	// SettleTimeout bounds each chain-write call; a timed-out settlement is
	// failed and retryable under the same idempotency key.
	SettleTimeout time.Duration
	// AMMFeeBps is the default pool fee applied when a market does not set
	// its own.
	AMMFeeBps int64
	// MinBookLevels routes market flow AMM-only when the opposing book is
	// thinner than this. 0 disables the fallback.
	MinBookLevels int
}

type Config struct {
	API    API
	Engine Engine
}

func Default() Config {
	return Config{
		API: API{
			Addr: ":8080",
		},
		Engine: Engine{
			DataDir:       "data/engine",
			SettleTimeout: 5 * time.Second,
			AMMFeeBps:     30,
			MinBookLevels: 0,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment
// variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.LogFile = getEnv("LOG_FILE", cfg.API.LogFile)
	cfg.Engine.DataDir = getEnv("DATA_DIR", cfg.Engine.DataDir)

	if v := os.Getenv("SETTLE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Engine.SettleTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("AMM_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil && bps >= 0 && bps < 10000 {
			cfg.Engine.AMMFeeBps = bps
		}
	}
	if v := os.Getenv("ROUTER_MIN_BOOK_LEVELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.MinBookLevels = n
		}
	}

	return cfg
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
