// Package httpapi exposes the attendance service over HTTP: JSON endpoints
// for session control and scan verification, and a websocket stream of
// rotated credentials for display clients.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rollcall-io/rollcall/internal/logger"
	"github.com/rollcall-io/rollcall/internal/server"
)

// Handler bundles the HTTP surface around the attendance service.
type Handler struct {
	svc *server.AttendanceService
	log zerolog.Logger
}

// NewRouter builds the gin engine with all routes attached.
func NewRouter(svc *server.AttendanceService, gatherer prometheus.Gatherer, log zerolog.Logger) *gin.Engine {
	h := &Handler{svc: svc, log: log}

	router := gin.New()
	router.Use(gin.Recovery(), logger.RequestLogger(log))

	api := router.Group("/api")
	{
		api.POST("/sessions", h.startSession)
		api.DELETE("/sessions/:id", h.stopSession)
		api.GET("/sessions/:id/attendance", h.sessionAttendance)
		api.POST("/scans", h.verifyScan)
		api.GET("/subjects", h.listSubjects)
		api.GET("/subjects/:code/session", h.activeSession)
	}

	router.GET("/ws/subjects/:code/credentials", h.streamCredentials)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return router
}
