package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/metrics"
)

func NewHandler(runner RunnerInterface, registry *feed.Registry, m *metrics.Metrics, version string) *Handler {
	return &Handler{
		runner:   runner,
		registry: registry,
		metrics:  m,
		version:  version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
		"feeds":     h.registry.Len(),
		"runs":      h.runner.Runs(),
	}

	if summary, ok := h.runner.LastRun(); ok {
		health["last_run_at"] = summary.StartedAt.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	summary, ok := h.runner.LastRun()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"runs": 0})
		return
	}

	stats := gin.H{
		"runs":     h.runner.Runs(),
		"last_run": summary,
		"duration": summary.Duration.String(),
	}
	if err := h.runner.LastError(); err != nil {
		stats["error"] = err.Error()
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	sources := h.registry.Sources()

	feeds := make([]gin.H, 0, len(sources))
	for _, src := range sources {
		name := src.Name
		if name == "" {
			name = feed.DisplayName(src.URL)
		}
		feeds = append(feeds, gin.H{
			"url":     src.URL,
			"name":    name,
			"filters": len(src.Filters),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APITriggerRun(c *gin.Context) {
	if !h.runner.Trigger() {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Run already queued",
			"message": "A run is already waiting to start",
		})
		return
	}

	slog.Info("Run requested via API", "client_ip", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Run queued",
	})
}
