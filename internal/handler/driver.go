package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unimap-shuttle/internal/shuttle"
)

// DriverSchedule handles GET /api/v1/drivers/:driverId/assignments
func (h *Handler) DriverSchedule(c *gin.Context) {
	sched, err := h.lc.DriverSchedule(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]assignmentView, 0, len(sched))
	for _, s := range sched {
		v := view(s.Assignment)
		v.Phase = s.Phase.String()
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"assignments": out})
}

// DriverHistory handles GET /api/v1/drivers/:driverId/history
func (h *Handler) DriverHistory(c *gin.Context) {
	as, err := h.lc.DriverHistory(c.Request.Context(), c.Param("driverId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": views(as)})
}

// StartAssignment handles POST /api/v1/assignments/:date/:key/start
func (h *Handler) StartAssignment(c *gin.Context) {
	date, ok := h.dateParam(c, "date", true)
	if !ok {
		return
	}
	a, err := h.lc.Start(c.Request.Context(), date, c.Param("key"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view(a))
}

// CompleteAssignment handles POST /api/v1/assignments/:date/:key/complete
func (h *Handler) CompleteAssignment(c *gin.Context) {
	date, ok := h.dateParam(c, "date", true)
	if !ok {
		return
	}
	key := c.Param("key")
	a, err := h.lc.Complete(c.Request.Context(), date, key)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.tracker.Forget(date, key)
	c.JSON(http.StatusOK, view(a))
}

type positionRequest struct {
	Latitude       *float64 `json:"latitude" binding:"required"`
	Longitude      *float64 `json:"longitude" binding:"required"`
	Speed          float64  `json:"speed"`
	PassengerCount int      `json:"passengerCount"`
}

// bindPosition decodes and range-checks a position body.
func (h *Handler) bindPosition(c *gin.Context) (shuttle.LivePosition, bool) {
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return shuttle.LivePosition{}, false
	}
	lat, lon := *req.Latitude, *req.Longitude
	switch {
	case lat < -90 || lat > 90:
		badRequest(c, "latitude", "latitude must be between -90 and 90")
		return shuttle.LivePosition{}, false
	case lon < -180 || lon > 180:
		badRequest(c, "longitude", "longitude must be between -180 and 180")
		return shuttle.LivePosition{}, false
	case req.Speed < 0 || req.PassengerCount < 0:
		badRequest(c, "body", "speed and passengerCount cannot be negative")
		return shuttle.LivePosition{}, false
	}
	return shuttle.LivePosition{
		Latitude:       lat,
		Longitude:      lon,
		SpeedKmh:       req.Speed,
		PassengerCount: req.PassengerCount,
		UpdatedAt:      h.lc.Now(),
	}, true
}

// ReportPosition handles POST /api/v1/assignments/:date/:key/position
//
// The sample is stored as the route's live position and advances the
// stop-by-stop progress of the run, which starts and completes the
// assignment as the bus reaches the first and last stops.
func (h *Handler) ReportPosition(c *gin.Context) {
	date, ok := h.dateParam(c, "date", true)
	if !ok {
		return
	}
	pos, ok := h.bindPosition(c)
	if !ok {
		return
	}
	rep, err := h.tracker.Report(c.Request.Context(), date, c.Param("key"), pos)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.counter != nil {
		h.counter.PositionReported(rep.Route)
	}
	c.JSON(http.StatusOK, rep)
}
