package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/celebrum-research/internal/cache"
)

// CacheHandler exposes analysis cache statistics and invalidation.
type CacheHandler struct {
	cache cache.AnalysisCache
}

func NewCacheHandler(analysisCache cache.AnalysisCache) *CacheHandler {
	return &CacheHandler{cache: analysisCache}
}

// Stats handles GET /api/v1/cache/stats.
func (h *CacheHandler) Stats(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	stats := h.cache.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"enabled":  true,
		"stats":    stats,
		"hit_rate": stats.HitRate(),
	})
}

// Clear handles DELETE /api/v1/cache.
func (h *CacheHandler) Clear(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": false})
		return
	}
	if err := h.cache.Clear(c.Request.Context()); err != nil {
		respondError(c, err, "Failed to clear cache")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
