package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cyphertrade/internal/auth"
	"cyphertrade/internal/botmgr"
	"cyphertrade/internal/position"
)

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, err := s.authService.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, token)
}

type startBotRequest struct {
	Strategy    string  `json:"strategy" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	Amount      float64 `json:"amount" binding:"required,gt=0"`
	Timeframe   string  `json:"timeframe" binding:"required"`
	TradingMode string  `json:"trading_mode" binding:"required"`
}

func (s *Server) handleStartBot(c *gin.Context) {
	var req startBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot, err := s.bots.StartBot(c.Request.Context(), botmgr.StartRequest{
		Strategy:    req.Strategy,
		Symbol:      req.Symbol,
		Amount:      req.Amount,
		Timeframe:   req.Timeframe,
		TradingMode: position.TradingMode(req.TradingMode),
		StartedBy:   "",
		Autonomous:  false,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bot_id": bot.Config.BotID})
}

func (s *Server) handleStopBot(c *gin.Context) {
	botID := c.Param("id")
	if err := s.bots.StopBot(c.Request.Context(), botID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) handleGetBot(c *gin.Context) {
	botID := c.Param("id")
	bot, ok := s.bots.GetBot(botID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bot_id":     bot.Config.BotID,
		"symbol":     bot.Config.Symbol,
		"strategy":   bot.Config.Strategy,
		"amount":     bot.Config.Amount,
		"running":    bot.IsRunning(),
		"position":   bot.Position(),
		"started_at": bot.Config.StartedAt,
		"autonomous": bot.Config.Autonomous,
	})
}

func (s *Server) handleListBots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": s.bots.StatusAll()})
}

type manualTradeRequest struct {
	Side     string  `json:"side" binding:"required,oneof=BUY SELL"`
	Quantity float64 `json:"quantity"`
}

func (s *Server) handleManualTrade(c *gin.Context) {
	botID := c.Param("id")
	var req manualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.bots.ExecuteManualTrade(c.Request.Context(), botID, req.Side, req.Quantity); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": true})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.trades.TradeHistory(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}
