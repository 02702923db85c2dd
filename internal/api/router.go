// Package api implements the HTTP surface (component C8): gin router
// setup and REST handlers for session management, grounded on the
// teacher's src/api/router.go middleware chain (Recovery, CORS,
// no-cache headers, logrus request logging) and src/handler/base.go's
// response-envelope conventions.
package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/vtserver/internal/auth"
	"github.com/vibetunnel/vtserver/internal/hq"
	"github.com/vibetunnel/vtserver/internal/session"
	"github.com/vibetunnel/vtserver/internal/wsbuffer"
)

// Options configures the router.
type Options struct {
	Sessions      *session.Manager
	Hub           *wsbuffer.Hub
	Registry      *hq.Registry
	Forwarder     *hq.Forwarder
	Auth          auth.Config
	DisableRequestLogging bool
	EnableProcessingTime  bool
	ServeTerminalPage     bool
}

// NewRouter builds the gin engine for the server.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	if opts.EnableProcessingTime {
		r.Use(processingTimeMiddleware())
	}
	if !opts.DisableRequestLogging {
		r.Use(logrusMiddleware())
	}

	h := &Handler{sessions: opts.Sessions, hub: opts.Hub, registry: opts.Registry, forwarder: opts.Forwarder}

	r.GET("/api/health", h.Health)

	authed := r.Group("/api")
	authed.Use(auth.Middleware(opts.Auth))
	{
		authed.GET("/sessions", h.ListSessions)
		authed.GET("/sessions/activity", h.ListActivity)
		authed.POST("/sessions", h.CreateSession)
		authed.GET("/sessions/:id", h.GetSession)
		authed.DELETE("/sessions/:id", h.KillSession)
		authed.POST("/sessions/:id/input", h.SendInput)
		authed.POST("/sessions/:id/resize", h.Resize)
		authed.GET("/sessions/:id/text", h.GetText)
		authed.GET("/sessions/:id/buffer", h.GetBuffer)
		authed.GET("/sessions/:id/stream", h.Stream)
		authed.GET("/sessions/:id/activity", h.GetActivity)
		authed.POST("/sessions/:id/activity", h.RecordActivity)

		authed.GET("/remotes", h.ListRemotes)
		authed.POST("/remotes", h.RegisterRemote)
		authed.DELETE("/remotes/:id", h.UnregisterRemote)
	}

	r.GET("/buffers", auth.Middleware(opts.Auth), func(c *gin.Context) { h.hub.ServeWS(c.Writer, c.Request) })

	if opts.ServeTerminalPage {
		r.GET("/terminal", h.TerminalPage)
	}

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func processingTimeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ms := math.Ceil(float64(time.Since(start).Nanoseconds())/1e6*1000) / 1000
		c.Writer.Header().Set("Server-Timing", "total;dur="+strconv.FormatFloat(ms, 'f', -1, 64))
	}
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logrus.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": latency,
			"client":  c.ClientIP(),
		}).Info("request")
	}
}
