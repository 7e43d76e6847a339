package config

import (
	"time"

	"github.com/spf13/viper"
)

// MarketDataConfig controls the feed provider.
type MarketDataConfig struct {
	Mode                 string        // "demo" or "live"
	FeedURL              string        // websocket endpoint for live mode
	PollInterval         time.Duration // polling fallback tick
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MaxReconnectAttempts int
	DemoSeed             int64
}

// Config holds the full process configuration.
type Config struct {
	Env      string
	LogLevel string
	HTTPAddr string

	DBDriver string // "sqlite" or "postgres"
	DBDSN    string

	RedisAddr string // empty disables the price publisher

	Market MarketDataConfig

	Timezone       string // market calendar location
	OpeningBalance int64  // coins granted to a new account
}

// Load reads configuration from the environment (and an optional .env file
// already loaded by the caller) with sensible defaults for local runs.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "tradecore.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("MARKET_MODE", "demo")
	v.SetDefault("MARKET_FEED_URL", "")
	v.SetDefault("MARKET_POLL_INTERVAL", "2s")
	v.SetDefault("MARKET_BACKOFF_BASE", "1s")
	v.SetDefault("MARKET_BACKOFF_CAP", "16s")
	v.SetDefault("MARKET_MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("MARKET_DEMO_SEED", 0)
	v.SetDefault("MARKET_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("LEDGER_OPENING_BALANCE", 100000)

	cfg := &Config{
		Env:       v.GetString("ENV"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		HTTPAddr:  v.GetString("HTTP_ADDR"),
		DBDriver:  v.GetString("DB_DRIVER"),
		DBDSN:     v.GetString("DB_DSN"),
		RedisAddr: v.GetString("REDIS_ADDR"),
		Market: MarketDataConfig{
			Mode:                 v.GetString("MARKET_MODE"),
			FeedURL:              v.GetString("MARKET_FEED_URL"),
			PollInterval:         v.GetDuration("MARKET_POLL_INTERVAL"),
			BackoffBase:          v.GetDuration("MARKET_BACKOFF_BASE"),
			BackoffCap:           v.GetDuration("MARKET_BACKOFF_CAP"),
			MaxReconnectAttempts: v.GetInt("MARKET_MAX_RECONNECT_ATTEMPTS"),
			DemoSeed:             v.GetInt64("MARKET_DEMO_SEED"),
		},
		Timezone:       v.GetString("MARKET_TIMEZONE"),
		OpeningBalance: v.GetInt64("LEDGER_OPENING_BALANCE"),
	}

	return cfg, nil
}
