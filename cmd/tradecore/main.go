package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/marketsim/tradecore/internal/api"
	"github.com/marketsim/tradecore/internal/bookkeeper"
	"github.com/marketsim/tradecore/internal/calendar"
	"github.com/marketsim/tradecore/internal/config"
	"github.com/marketsim/tradecore/internal/marketdata"
	"github.com/marketsim/tradecore/internal/trading"
	"github.com/marketsim/tradecore/pkg/logger"
	"github.com/marketsim/tradecore/pkg/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zlog.Sync()

	db, err := openDatabase(cfg)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	if err := db.AutoMigrate(&models.CoinBalance{}, &models.CoinTransaction{}, &models.Trade{}); err != nil {
		zlog.Fatal("failed to migrate database", zap.Error(err))
	}

	var publisher marketdata.Publisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		publisher = marketdata.NewRedisPublisher(rdb)
		zlog.Info("price publisher enabled", zap.String("redis_addr", cfg.RedisAddr))
	}

	registry := prometheus.NewRegistry()
	metrics := marketdata.NewMetrics(registry)

	var quoter marketdata.Quoter
	if cfg.Market.Mode == string(marketdata.ModeLive) && cfg.Market.FeedURL != "" {
		quoter = marketdata.NewHTTPQuoter(restBaseFromFeed(cfg.Market.FeedURL))
	}
	provider := marketdata.NewProvider(zlog, marketdata.ProviderConfig{
		Mode:    marketdata.Mode(cfg.Market.Mode),
		FeedURL: cfg.Market.FeedURL,
		Backoff: marketdata.Backoff{
			Base:        cfg.Market.BackoffBase,
			Cap:         cfg.Market.BackoffCap,
			MaxAttempts: cfg.Market.MaxReconnectAttempts,
		},
		Poll: marketdata.PollerConfig{
			Interval: cfg.Market.PollInterval,
			Seed:     cfg.Market.DemoSeed,
			Quoter:   quoter,
		},
	}, metrics, publisher)
	defer provider.Stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		zlog.Fatal("invalid market timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}
	cal := calendar.New(loc)

	ledger, err := bookkeeper.NewService(zlog, db)
	if err != nil {
		zlog.Fatal("failed to create ledger", zap.Error(err))
	}
	trades := trading.NewTradeStore(db)
	validator := trading.NewValidator(cal)
	coordinator := trading.NewCoordinator(zlog, ledger, trades, validator, provider.Cache())

	server := api.NewServer(zlog, provider, cal, validator, coordinator, ledger, trades, registry, cfg.OpeningBalance)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(cfg.HTTPAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		zlog.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		zlog.Error("http server stopped", zap.Error(err))
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DBDSN), &gorm.Config{})
	}
}

// restBaseFromFeed derives the REST base for degraded re-fetch from the
// websocket feed URL (ws[s]:// -> http[s]://).
func restBaseFromFeed(feedURL string) string {
	switch {
	case len(feedURL) > 6 && feedURL[:6] == "wss://":
		return "https://" + feedURL[6:]
	case len(feedURL) > 5 && feedURL[:5] == "ws://":
		return "http://" + feedURL[5:]
	default:
		return feedURL
	}
}
