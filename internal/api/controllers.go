package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-bridge/pkg/config"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{
		"version":          s.Meta.Version,
		"gateway_addr":     s.Meta.ListenAddr,
		"started_at":       s.Meta.StartedAt,
		"uptime":           time.Since(s.Meta.StartedAt).String(),
		"platform_clients": s.Gateway.ConnectionCount(),
		"platform_online":  s.Gateway.IsConnected(),
		"auto_trading":     s.Settings.Get().AutoTradingEnabled,
		"active_trades":    len(s.Coordinator.ActiveTrades()),
	}
	if s.Metrics != nil {
		snap := s.Metrics.Snapshot()
		status["ticks_processed"] = snap.TicksProcessed
		status["predictions_made"] = snap.PredictionsMade
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) getSystemMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "METRICS_UNAVAILABLE",
			"error": "metrics collector not running",
		})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.Snapshot())
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Store.Positions()})
}

func (s *Server) getTrades(c *gin.Context) {
	trades, err := s.DB.RecentTrades(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "DB_ERROR",
			"error": "could not load trades",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getActiveTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": s.Coordinator.ActiveTrades()})
}

func (s *Server) getRiskStatus(c *gin.Context) {
	snap := s.RiskState.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"daily_pnl":            snap.DailyPnL,
		"daily_trades":         snap.DailyTrades,
		"consecutive_losses":   snap.ConsecutiveLosses,
		"lifetime_trades":      snap.LifetimeTrades,
		"drawdown":             snap.Drawdown,
		"confidence_threshold": snap.ConfidenceThreshold,
		"limits":               snap.Limits,
	})
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.Settings.Get())
}

func (s *Server) updateSettings(c *gin.Context) {
	var req struct {
		ConfidenceThreshold *float64           `json:"confidenceThreshold"`
		AutoTradingEnabled  *bool              `json:"autoTradingEnabled"`
		EnsembleWeights     map[string]float64 `json:"ensembleWeights"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	updated, err := s.Settings.Update(func(cur config.Settings) config.Settings {
		if req.ConfidenceThreshold != nil {
			cur.ConfidenceThreshold = *req.ConfidenceThreshold
		}
		if req.AutoTradingEnabled != nil {
			cur.AutoTradingEnabled = *req.AutoTradingEnabled
		}
		if req.EnsembleWeights != nil {
			cur.EnsembleWeights = req.EnsembleWeights
		}
		return cur
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SETTINGS",
			"error": err.Error(),
		})
		return
	}

	s.Coordinator.ApplySettings(updated)
	c.JSON(http.StatusOK, updated)
}

func (s *Server) requestPrediction(c *gin.Context) {
	instrument := c.Param("instrument")
	pred, err := s.Coordinator.RequestPrediction(instrument)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NO_MARKET_DATA",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (s *Server) submitManualTrade(c *gin.Context) {
	var req struct {
		Instrument string `json:"instrument"`
		Direction  string `json:"direction"`
		Quantity   int    `json:"quantity"`
		Reason     string `json:"reason"`
	}
	if err := c.BindJSON(&req); err != nil || req.Instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	if err := s.Coordinator.SubmitManualTrade(req.Instrument, req.Direction, req.Quantity, req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"code":  "TRADE_REJECTED",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted"})
}

func (s *Server) resetPosition(c *gin.Context) {
	instrument := c.Param("instrument")
	if err := s.Coordinator.ResetPosition(c.Request.Context(), instrument); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "RESET_FAILED",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
