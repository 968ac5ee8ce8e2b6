package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/trackerstore"
	"github.com/gin-gonic/gin"
)

// statusAPI is the read-only HTTP surface of "trackersync serve".
type statusAPI struct {
	store *trackerstore.Store
}

func newStatusAPI(store *trackerstore.Store) *statusAPI {
	return &statusAPI{store: store}
}

func (a *statusAPI) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugCF("serve", "HTTP request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
	engine.GET("/health", a.handleHealth)
	engine.GET("/stats", a.handleStats)
	engine.GET("/sessions/:id", a.handleSession)
	return engine
}

func (a *statusAPI) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *statusAPI) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.Stats())
}

func (a *statusAPI) handleSession(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	tr, ok := a.store.Retrieve(c.Request.Context(), id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "session not found"})
		return
	}
	c.JSON(http.StatusOK, tr)
}
