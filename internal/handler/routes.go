package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"unimap-shuttle/internal/middleware"
)

// Register mounts every API route on g, normally the /api/v1 group.
func (h *Handler) Register(g gin.IRouter) {
	admin := g.Group("/admin")
	{
		admin.POST("/assignments", h.CreateAssignment)
		admin.GET("/assignments", h.ListAssignments)
		admin.DELETE("/assignments/:date/:key", h.DeleteAssignment)
		admin.POST("/assignments/:date/:key/cancel", h.CancelAssignment)
		admin.GET("/buses", h.AvailableBuses)
		admin.GET("/slots", h.AvailableSlots)
		admin.POST("/sweep", h.Sweep)
		admin.GET("/drivers", h.ListDrivers)
		admin.GET("/students", h.ListStudents)
	}

	g.GET("/drivers/:driverId/assignments", h.DriverSchedule)
	g.GET("/drivers/:driverId/history", h.DriverHistory)
	g.POST("/assignments/:date/:key/start", h.StartAssignment)
	g.POST("/assignments/:date/:key/complete", h.CompleteAssignment)
	g.POST("/assignments/:date/:key/position", h.ReportPosition)

	g.GET("/routes", h.ListRoutes)
	g.GET("/routes/:route/stops", h.RouteStops)
	g.GET("/routes/:route/live", h.RouteLive)
	g.POST("/routes/:route/live", h.PushLive)
}

// NewEngine builds the gin engine: recovery, request logging, optional
// metrics, the request timeout, /health and the v1 API.
func NewEngine(h *Handler, log *slog.Logger, rec middleware.Recorder, timeout time.Duration) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog(log))
	if rec != nil {
		router.Use(middleware.Metrics(rec))
	}
	if timeout > 0 {
		router.Use(middleware.Timeout(timeout))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(router.Group("/api/v1"))
	return router
}
