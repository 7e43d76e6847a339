// Package api exposes the trading core over HTTP. Every handler is thin
// glue: parse, delegate to a core component, encode.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marketsim/tradecore/internal/bookkeeper"
	"github.com/marketsim/tradecore/internal/calendar"
	"github.com/marketsim/tradecore/internal/marketdata"
	"github.com/marketsim/tradecore/internal/trading"
)

// Server hosts the REST surface over the trading core.
type Server struct {
	log            *zap.Logger
	engine         *gin.Engine
	provider       *marketdata.Provider
	calendar       *calendar.Calendar
	validator      *trading.Validator
	coordinator    *trading.Coordinator
	ledger         *bookkeeper.Service
	trades         *trading.TradeStore
	openingBalance int64
}

// NewServer builds the router. The prometheus gatherer may be nil to disable
// /metrics. openingBalance is the coin grant booked when a new account is
// opened.
func NewServer(
	log *zap.Logger,
	provider *marketdata.Provider,
	cal *calendar.Calendar,
	validator *trading.Validator,
	coordinator *trading.Coordinator,
	ledger *bookkeeper.Service,
	trades *trading.TradeStore,
	gatherer prometheus.Gatherer,
	openingBalance int64,
) *Server {
	s := &Server{
		log:            log,
		provider:       provider,
		calendar:       cal,
		validator:      validator,
		coordinator:    coordinator,
		ledger:         ledger,
		trades:         trades,
		openingBalance: openingBalance,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(ginzap.Ginzap(log, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(log, true))
	engine.Use(cors.Default())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/prices", s.getPrices)
		v1.GET("/prices/:symbol", s.getPrice)
		v1.GET("/options/:underlying", s.getOptionChain)
		v1.GET("/market/status", s.getMarketStatus)
		v1.GET("/feed/status", s.getFeedStatus)

		v1.POST("/orders/validate", s.validateOrder)
		v1.POST("/orders/execute", s.executeOrder)

		v1.POST("/wallet/:userId/account", s.createAccount)
		v1.GET("/wallet/:userId/balance", s.getBalance)
		v1.GET("/wallet/:userId/transactions", s.getTransactions)
		v1.POST("/wallet/:userId/purchase", s.purchaseCoins)

		v1.GET("/portfolio/:userId", s.getPortfolio)
		v1.GET("/portfolio/:userId/trades", s.getTrades)
	}

	s.engine = engine
	return s
}

// Handler returns the underlying http handler, used by tests and by Run.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("http server listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}
