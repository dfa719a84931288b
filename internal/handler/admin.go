package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"unimap-shuttle/internal/lifecycle"
)

// CreateAssignment handles POST /api/v1/admin/assignments
func (h *Handler) CreateAssignment(c *gin.Context) {
	var d lifecycle.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	a, err := h.lc.Create(c.Request.Context(), d)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view(a))
}

// ListAssignments handles GET /api/v1/admin/assignments?date=
func (h *Handler) ListAssignments(c *gin.Context) {
	date, ok := h.dateParam(c, "date", false)
	if !ok {
		return
	}
	as, err := h.lc.ListForDate(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "assignments": views(as)})
}

// DeleteAssignment handles DELETE /api/v1/admin/assignments/:date/:key
func (h *Handler) DeleteAssignment(c *gin.Context) {
	date, ok := h.dateParam(c, "date", true)
	if !ok {
		return
	}
	key := c.Param("key")
	if err := h.lc.Delete(c.Request.Context(), date, key); err != nil {
		h.writeError(c, err)
		return
	}
	h.tracker.Forget(date, key)
	c.Status(http.StatusNoContent)
}

// CancelAssignment handles POST /api/v1/admin/assignments/:date/:key/cancel
func (h *Handler) CancelAssignment(c *gin.Context) {
	date, ok := h.dateParam(c, "date", true)
	if !ok {
		return
	}
	key := c.Param("key")
	a, err := h.lc.Cancel(c.Request.Context(), date, key)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.tracker.Forget(date, key)
	c.JSON(http.StatusOK, view(a))
}

// AvailableBuses handles GET /api/v1/admin/buses?date=&time=
func (h *Handler) AvailableBuses(c *gin.Context) {
	date, ok := h.dateParam(c, "date", false)
	if !ok {
		return
	}
	slot := c.Query("time")
	if slot == "" {
		badRequest(c, "time", "time is required")
		return
	}
	buses, err := h.lc.AvailableBusNumbers(c.Request.Context(), date, slot)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "time": slot, "buses": buses})
}

// AvailableSlots handles GET /api/v1/admin/slots?date=
func (h *Handler) AvailableSlots(c *gin.Context) {
	date, ok := h.dateParam(c, "date", false)
	if !ok {
		return
	}
	slots, err := h.lc.AvailableTimeSlots(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if slots == nil {
		slots = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "slots": slots})
}

// Sweep handles POST /api/v1/admin/sweep
func (h *Handler) Sweep(c *gin.Context) {
	rep, err := h.lc.ExpirySweep(c.Request.Context(), h.lc.Now())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ListDrivers handles GET /api/v1/admin/drivers
func (h *Handler) ListDrivers(c *gin.Context) {
	if h.dir == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "driver directory is not configured"})
		return
	}
	drivers, err := h.dir.ListDrivers(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers})
}

// ListStudents handles GET /api/v1/admin/students
func (h *Handler) ListStudents(c *gin.Context) {
	if h.dir == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "student directory is not configured"})
		return
	}
	students, err := h.dir.ListStudents(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}
