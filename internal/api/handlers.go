package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marketsim/tradecore/internal/bookkeeper"
	"github.com/marketsim/tradecore/internal/trading"
	"github.com/marketsim/tradecore/pkg/models"
)

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Cache().Snapshot())
}

func (s *Server) getPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	u, ok := s.provider.Cache().Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price for symbol " + symbol})
		return
	}
	c.JSON(http.StatusOK, u)
}

func (s *Server) getOptionChain(c *gin.Context) {
	underlying := c.Param("underlying")
	snap, ok := s.provider.Cache().GetChain(underlying)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no option chain for " + underlying})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getMarketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.calendar.Status(time.Now()))
}

func (s *Server) getFeedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.Status())
}

type validateOrderRequest struct {
	Order models.Order `json:"order"`
}

func (s *Server) validateOrder(c *gin.Context) {
	var req validateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Order.UserID == "" || req.Order.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and symbol are required"})
		return
	}

	positions, err := s.trades.Positions(c.Request.Context(), req.Order.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load positions"})
		return
	}
	var balance int64
	if bal, err := s.ledger.Balance(c.Request.Context(), req.Order.UserID); err == nil {
		balance = bal.Balance
	} else if !errors.Is(err, bookkeeper.ErrUserNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}

	result := s.validator.Validate(req.Order, trading.Snapshot{
		Quotes:    s.provider.Cache(),
		Balance:   balance,
		Positions: positions,
	})
	c.JSON(http.StatusOK, result)
}

type executeOrderRequest struct {
	Order models.Order `json:"order"`
}

func (s *Server) executeOrder(c *gin.Context) {
	var req executeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Order.UserID == "" || req.Order.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId and symbol are required"})
		return
	}

	result := s.coordinator.Execute(c.Request.Context(), req.Order)
	// Failed trades are a domain outcome, not a transport error.
	c.JSON(http.StatusOK, result)
}

func (s *Server) createAccount(c *gin.Context) {
	bal, err := s.ledger.CreateAccount(c.Request.Context(), c.Param("userId"), s.openingBalance)
	if err != nil {
		if errors.Is(err, bookkeeper.ErrAccountExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}
	c.JSON(http.StatusCreated, bal)
}

func (s *Server) getBalance(c *gin.Context) {
	bal, err := s.ledger.Balance(c.Request.Context(), c.Param("userId"))
	if err != nil {
		if errors.Is(err, bookkeeper.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (s *Server) getTransactions(c *gin.Context) {
	limit, offset := pageParams(c)
	txns, total, err := s.ledger.Transactions(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "total": total})
}

type purchaseRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) purchaseCoins(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "coin purchase"
	}
	txn, err := s.ledger.Purchase(c.Request.Context(), c.Param("userId"), req.Amount, reason)
	if err != nil {
		if errors.Is(err, bookkeeper.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purchase failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn, "newBalance": txn.BalanceAfter})
}

func (s *Server) getPortfolio(c *gin.Context) {
	positions, err := s.trades.Portfolio(c.Request.Context(), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load portfolio"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getTrades(c *gin.Context) {
	limit, offset := pageParams(c)
	trades, total, err := s.trades.Trades(c.Request.Context(), c.Param("userId"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total})
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
