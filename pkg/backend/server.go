package backend

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dotsetgreg/trackersync/pkg/logger"
	"github.com/dotsetgreg/trackersync/pkg/tracker"
	"github.com/gin-gonic/gin"
)

// Server exposes a SQLiteStore over the conversation HTTP contract the
// remote client speaks.
type Server struct {
	store *SQLiteStore
}

func NewServer(store *SQLiteStore) *Server {
	return &Server{store: store}
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger("backend"))
	engine.GET("/health", s.handleHealth)
	engine.GET("/stats", s.handleStats)
	engine.GET("/project/:project/conversations/:sender/:after", s.handleFetch)
	engine.POST("/project/:project/conversations/:sender/insert", s.handleInsert)
	engine.POST("/project/:project/conversations/:sender/update", s.handleUpdate)
	return engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleFetch(c *gin.Context) {
	after, err := strconv.ParseInt(c.Param("after"), 10, 64)
	if err != nil {
		badRequest(c, "after must be an integer event index")
		return
	}

	maxEvents := 0
	if raw := c.Query("maxEvents"); raw != "" {
		maxEvents, err = strconv.Atoi(raw)
		if err != nil || maxEvents < 0 {
			badRequest(c, "maxEvents must be a non-negative integer")
			return
		}
	}

	env, err := s.store.FetchAfter(c.Request.Context(), c.Param("project"), c.Param("sender"), after, maxEvents)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, env)
}

func (s *Server) handleInsert(c *gin.Context) {
	s.handleWrite(c, s.store.Insert)
}

func (s *Server) handleUpdate(c *gin.Context) {
	s.handleWrite(c, s.store.Update)
}

type writeFunc func(ctx context.Context, projectID string, snap tracker.Snapshot) (tracker.SyncMetadata, error)

func (s *Server) handleWrite(c *gin.Context, write writeFunc) {
	var snap tracker.Snapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		badRequest(c, "tracker body is not valid json")
		return
	}

	sender := c.Param("sender")
	if snap.SenderID == "" {
		snap.SenderID = sender
	}
	if snap.SenderID != sender {
		badRequest(c, "sender_id does not match the conversation path")
		return
	}

	meta, err := write(c.Request.Context(), c.Param("project"), snap)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracker": nil, "lastIndex": meta.LastIndex, "lastTimestamp": meta.LastTimestamp})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidRequest) {
		badRequest(c, err.Error())
		return
	}
	logger.ErrorCF("backend", "Store operation failed", map[string]interface{}{
		"path":  c.FullPath(),
		"error": err.Error(),
	})
	c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"message": msg})
}

// requestLogger logs each request at debug through the component logger.
func requestLogger(component string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.DebugCF(component, "HTTP request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
