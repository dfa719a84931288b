package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"unimap-shuttle/internal/correlator"
	"unimap-shuttle/internal/geo"
	"unimap-shuttle/internal/routes"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
)

type routeSummary struct {
	Name  shuttle.Route `json:"name"`
	Token string        `json:"token"`
	Stops int           `json:"stops"`
}

// ListRoutes handles GET /api/v1/routes
func (h *Handler) ListRoutes(c *gin.Context) {
	out := make([]routeSummary, 0, len(shuttle.Routes))
	for _, r := range shuttle.Routes {
		stops, err := routes.Stops(r)
		if err != nil {
			h.writeError(c, err)
			return
		}
		out = append(out, routeSummary{Name: r, Token: r.Token(), Stops: len(stops)})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

// RouteStops handles GET /api/v1/routes/:route/stops
func (h *Handler) RouteStops(c *gin.Context) {
	r, ok := routeParam(c)
	if !ok {
		return
	}
	stops, err := routes.Stops(r)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": r, "stops": stops})
}

// RouteLive handles GET /api/v1/routes/:route/live
//
// The correlated display update is preferred. Without one (no correlator, or
// nothing received since it started) the raw stored position is returned.
func (h *Handler) RouteLive(c *gin.Context) {
	r, ok := routeParam(c)
	if !ok {
		return
	}
	if h.display != nil {
		if u, found := h.display.Display(r); found {
			c.JSON(http.StatusOK, u)
			return
		}
	}
	pos, err := h.positions.GetPosition(c.Request.Context(), r)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no live position for " + string(r)})
			return
		}
		h.writeError(c, err)
		return
	}
	stops, _ := routes.Stops(r)
	today, err := h.lc.ListForDate(c.Request.Context(), h.lc.Today())
	if err != nil {
		h.log.Warn("live view without assignments", "route", r, "err", err)
	}
	c.JSON(http.StatusOK, correlator.Build(r, pos, stops, today))
}

// PushLive handles POST /api/v1/routes/:route/live, the feed from the
// on-bus tracker.
func (h *Handler) PushLive(c *gin.Context) {
	r, ok := routeParam(c)
	if !ok {
		return
	}
	pos, ok := h.bindPosition(c)
	if !ok {
		return
	}
	if err := h.positions.PutPosition(c.Request.Context(), r, pos); err != nil {
		h.writeError(c, err)
		return
	}
	if h.counter != nil {
		h.counter.PositionReported(r)
	}
	c.JSON(http.StatusAccepted, gin.H{
		"route":   r,
		"geohash": geo.Cell(geo.Point{Lat: pos.Latitude, Lon: pos.Longitude}),
	})
}
