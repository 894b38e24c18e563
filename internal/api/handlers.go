package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"market-structure-engine/internal/candle"
	"market-structure-engine/internal/engine"
	"market-structure-engine/internal/execution"
	"market-structure-engine/internal/retrain"
	"market-structure-engine/internal/signal"
)

// handleHealth reports process health and uptime
func (s *Server) handleHealth(c *gin.Context) {
	status := gin.H{
		"status":     "ok",
		"uptime_sec": int(time.Since(s.startedAt).Seconds()),
		"ws_clients": s.hub.ClientCount(),
	}
	if s.cacheSvc != nil {
		status["cache_healthy"] = s.cacheSvc.IsHealthy()
	}
	c.JSON(http.StatusOK, status)
}

type evaluateRequest struct {
	Symbol             string              `json:"symbol" binding:"required"`
	Timeframe          string              `json:"timeframe" binding:"required"`
	Candles            []candle.Candle     `json:"candles" binding:"required"`
	PriorTail          []candle.Candle     `json:"prior_tail"`
	OrderflowImbalance *float64            `json:"orderflow_imbalance"`
	ExternalAdjustment float64             `json:"external_adjustment"`
	FundingRate        float64             `json:"funding_rate"`
	Market             *execution.Snapshot `json:"market"`
}

// handleEvaluate runs the pipeline on a submitted candle batch
func (s *Server) handleEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	rec, err := s.engine.Evaluate(c.Request.Context(), engine.Input{
		Batch: candle.Batch{
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Candles:   req.Candles,
		},
		PriorTail:          req.PriorTail,
		OrderflowImbalance: req.OrderflowImbalance,
		ExternalAdjustment: req.ExternalAdjustment,
		FundingRate:        req.FundingRate,
		Market:             req.Market,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("Evaluation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "EVALUATION_FAILED"})
		return
	}

	if s.cacheSvc != nil && rec.Emitted {
		if err := s.cacheSvc.SetLastSignal(c.Request.Context(), rec, time.Hour); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to cache last signal")
		}
	}

	c.JSON(http.StatusOK, rec)
}

type outcomeRequest struct {
	Outcome        signal.Outcome `json:"outcome" binding:"required"`
	RealizedReturn float64        `json:"realized_return"`
}

// handleOutcome resolves a signal's outcome
func (s *Server) handleOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	switch req.Outcome {
	case signal.OutcomeWin, signal.OutcomeLoss, signal.OutcomeBreakeven:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_OUTCOME"})
		return
	}

	id := c.Param("id")
	err := s.engine.UpdateOutcome(c.Request.Context(), id, req.Outcome, req.RealizedReturn)
	if err != nil {
		var nf *signal.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": "SIGNAL_NOT_FOUND", "id": id})
			return
		}
		s.logger.Error().Err(err).Str("id", id).Msg("Outcome update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "OUTCOME_UPDATE_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "outcome": req.Outcome})
}

// handleListSignals returns recent records, newest first
func (s *Server) handleListSignals(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, ok := parsePositiveInt(v); ok {
			limit = parsed
		}
	}

	records, err := s.records.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Listing signals failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "LIST_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": records, "count": len(records)})
}

// handleGetSignal fetches one record by id
func (s *Server) handleGetSignal(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.records.Get(c.Request.Context(), id)
	if err != nil {
		var nf *signal.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": "SIGNAL_NOT_FOUND", "id": id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "GET_FAILED"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleLastSignal returns the most recent emitted signal for an instrument
// from the cache
func (s *Server) handleLastSignal(c *gin.Context) {
	if s.cacheSvc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "CACHE_DISABLED"})
		return
	}
	rec, err := s.cacheSvc.GetLastSignal(c.Request.Context(), c.Param("symbol"), c.Param("timeframe"))
	if err != nil || rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "NO_RECENT_SIGNAL"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleBreakers returns per-symbol breaker snapshots
func (s *Server) handleBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.breakers.Snapshots()})
}

// handleBreakerReset force-closes one symbol's breaker
func (s *Server) handleBreakerReset(c *gin.Context) {
	symbol := c.Param("symbol")
	s.breakers.ForSymbol(symbol).ForceReset()
	s.logger.Info().Str("symbol", symbol).Msg("Breaker force reset")
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "state": "closed"})
}

// handleWeights returns the active weight table
func (s *Server) handleWeights(c *gin.Context) {
	c.JSON(http.StatusOK, s.holder.Active())
}

// handleRetrain runs a training pass synchronously
func (s *Server) handleRetrain(c *gin.Context) {
	if s.trainer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "RETRAIN_DISABLED"})
		return
	}

	table, err := s.trainer.Retrain(c.Request.Context(), c.Query("symbol"), c.Query("timeframe"))
	if err != nil {
		var rejected *retrain.RejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusConflict, gin.H{
				"error":    "RETRAIN_REJECTED",
				"reason":   rejected.Reason,
				"samples":  rejected.Samples,
				"accuracy": rejected.Accuracy,
			})
			return
		}
		s.logger.Error().Err(err).Msg("Retrain failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "RETRAIN_FAILED"})
		return
	}
	c.JSON(http.StatusOK, table)
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 1000, true
		}
	}
	return n, n > 0
}
