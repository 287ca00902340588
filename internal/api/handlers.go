package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/solmev/internal/breaker"
	"github.com/ajitpratap0/solmev/internal/config"
	"github.com/ajitpratap0/solmev/internal/tipoptimizer"
)

// handleRoot reports basic service identity.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "mevpipe",
		"version": config.GetVersion(),
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth is a liveness probe: it never depends on downstream state.
func (s *Server) handleGetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(startTime).Seconds(),
	})
}

// handleGetStatus reports a fuller operational snapshot: breaker state,
// dispatcher high-water mark, and process-level stats.
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).Seconds(),
		"version":   config.GetVersion(),
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory_mb":  toMB(memStats.Alloc),
			"go_version": runtime.Version(),
		},
	}

	if s.advisorBrk != nil {
		status["advisor_breaker"] = s.advisorBrk.State().String()
	}
	if s.dispatcher != nil {
		status["dispatcher_high_water_mark"] = s.dispatcher.HighWaterMark()
	}

	c.JSON(http.StatusOK, status)
}

func toMB(bytes uint64) float64 {
	return float64(bytes) / 1024 / 1024
}

// handleGetMetrics returns the 1s-window counter/latency snapshot from the
// metrics hub (spec §6 "Observability (outbound)").
func (s *Server) handleGetMetrics(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics hub not configured"})
		return
	}
	c.JSON(http.StatusOK, s.hub.Read())
}

// handleGetWindowedMetrics returns the full 1s/10s/1m latency breakdown per
// stage.
func (s *Server) handleGetWindowedMetrics(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics hub not configured"})
		return
	}
	c.JSON(http.StatusOK, s.hub.WindowedSnapshot())
}

// handleGetBreakerState reports the advisor breaker's current state.
func (s *Server) handleGetBreakerState(c *gin.Context) {
	if s.advisorBrk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.advisorBrk.State().String()})
}

// handleForceOpenBreaker pins the advisor breaker Open (spec §6).
func (s *Server) handleForceOpenBreaker(c *gin.Context) {
	if !s.requireBreaker(c) {
		return
	}
	s.advisorBrk.ForceOpen()
	c.JSON(http.StatusOK, gin.H{"state": breaker.Open.String()})
}

// handleForceCloseBreaker pins the advisor breaker Closed.
func (s *Server) handleForceCloseBreaker(c *gin.Context) {
	if !s.requireBreaker(c) {
		return
	}
	s.advisorBrk.ForceClose()
	c.JSON(http.StatusOK, gin.H{"state": breaker.Closed.String()})
}

// handleClearBreaker removes any force override, resuming natural transitions.
func (s *Server) handleClearBreaker(c *gin.Context) {
	if !s.requireBreaker(c) {
		return
	}
	s.advisorBrk.ForceClear()
	c.JSON(http.StatusOK, gin.H{"state": s.advisorBrk.State().String()})
}

func (s *Server) requireBreaker(c *gin.Context) bool {
	if s.advisorBrk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "breaker not configured"})
		return false
	}
	return true
}

// handlePauseDispatcher stops new opportunity admission (spec §6 "dispatcher
// pause/resume"); in-flight handlers run to completion.
func (s *Server) handlePauseDispatcher(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	s.dispatcher.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// handleResumeDispatcher re-enables admission.
func (s *Server) handleResumeDispatcher(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	s.dispatcher.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// handleGetHighWaterMark reports the largest observed concurrent in-flight
// handler count, useful for sizing MaxInFlight.
func (s *Server) handleGetHighWaterMark(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"high_water_mark": s.dispatcher.HighWaterMark()})
}

func (s *Server) requireDispatcher(c *gin.Context) bool {
	if s.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher not configured"})
		return false
	}
	return true
}

// handleListTierOverrides returns the current origin-selector -> BidTier map.
func (s *Server) handleListTierOverrides(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	c.JSON(http.StatusOK, s.dispatcher.TierOverrides())
}

type setTierOverrideRequest struct {
	Tier string `json:"tier" binding:"required"`
}

// handleSetTierOverride pins every opportunity matching :selector (an
// opportunity Kind, e.g. "arbitrage") to the requested BidTier.
func (s *Server) handleSetTierOverride(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	selector := c.Param("selector")

	var req setTierOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tier := tipoptimizer.Tier(req.Tier)
	switch tier {
	case tipoptimizer.TierLow, tipoptimizer.TierNormal, tipoptimizer.TierHigh, tipoptimizer.TierCritical, tipoptimizer.TierMEV:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier: " + req.Tier})
		return
	}

	s.dispatcher.SetTierOverride(selector, tier)
	c.JSON(http.StatusOK, gin.H{"selector": selector, "tier": string(tier)})
}

// handleClearTierOverride removes the override for :selector.
func (s *Server) handleClearTierOverride(c *gin.Context) {
	if !s.requireDispatcher(c) {
		return
	}
	selector := c.Param("selector")
	s.dispatcher.ClearTierOverride(selector)
	c.JSON(http.StatusOK, gin.H{"selector": selector, "cleared": true})
}
