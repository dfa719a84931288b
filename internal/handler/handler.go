// Package handler exposes the assignment lifecycle and live tracking over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"unimap-shuttle/internal/conflict"
	"unimap-shuttle/internal/correlator"
	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/store"
	"unimap-shuttle/internal/tracking"
)

// Directory lists registered people. db.Directory satisfies it.
type Directory interface {
	ListDrivers(ctx context.Context) ([]shuttle.Driver, error)
	ListStudents(ctx context.Context) ([]shuttle.Student, error)
}

// Display returns the latest correlated update for a route.
type Display interface {
	Display(route shuttle.Route) (correlator.DisplayUpdate, bool)
}

// PositionCounter is told about every accepted position sample.
type PositionCounter interface {
	PositionReported(route shuttle.Route)
}

// Deps are the collaborators of a Handler. Display, Directory and Counter
// may be nil.
type Deps struct {
	Lifecycle *lifecycle.Manager
	Tracker   *tracking.Registry
	Positions store.Positions
	Display   Display
	Directory Directory
	Counter   PositionCounter
	Log       *slog.Logger
}

// Handler holds the domain dependencies for all HTTP handlers.
type Handler struct {
	lc        *lifecycle.Manager
	tracker   *tracking.Registry
	positions store.Positions
	display   Display
	dir       Directory
	counter   PositionCounter
	log       *slog.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		lc:        d.Lifecycle,
		tracker:   d.Tracker,
		positions: d.Positions,
		display:   d.Display,
		dir:       d.Directory,
		counter:   d.Counter,
		log:       log.With("component", "http"),
	}
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validationErrors flattens a joined error into its ValidationErrors.
func validationErrors(err error) []fieldError {
	var out []fieldError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ve *lifecycle.ValidationError
		if errors.As(e, &ve) {
			out = append(out, fieldError{Field: ve.Field, Message: ve.Message})
		}
	}
	walk(err)
	return out
}

// writeError maps domain errors to status codes. The message is passed
// through unchanged since it is written for the end user.
func (h *Handler) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	if fields := validationErrors(err); len(fields) > 0 {
		body := gin.H{"error": err.Error(), "fields": fields}
		if len(fields) == 1 {
			body["error"] = fields[0].Message
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	var ce *conflict.ConflictError
	if errors.As(err, &ce) {
		c.JSON(http.StatusConflict, gin.H{"error": ce.Error(), "reason": ce.Reason, "existing": ce.Existing})
		return
	}

	var se *store.Error
	switch {
	case errors.Is(err, lifecycle.ErrNotInWindow),
		errors.Is(err, lifecycle.ErrTerminal),
		errors.Is(err, store.ErrStatusChanged),
		errors.Is(err, store.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &se):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request timed out"})
	default:
		h.log.Error("unhandled error", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, field, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "fields": []fieldError{{Field: field, Message: msg}}})
}

// dateParam parses a date from the named path or query parameter. An empty
// query value means today.
func (h *Handler) dateParam(c *gin.Context, name string, fromPath bool) (shuttle.Date, bool) {
	raw := c.Query(name)
	if fromPath {
		raw = c.Param(name)
	}
	if raw == "" && !fromPath {
		return h.lc.Today(), true
	}
	d, err := shuttle.ParseDate(raw)
	if err != nil {
		badRequest(c, "date", err.Error())
		return shuttle.Date{}, false
	}
	return d, true
}

func routeParam(c *gin.Context) (shuttle.Route, bool) {
	r, err := shuttle.ParseRoute(c.Param("route"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return "", false
	}
	return r, true
}

// assignmentView adds the store key, which the stored document omits.
type assignmentView struct {
	shuttle.Assignment
	Key   string `json:"key"`
	Phase string `json:"phase,omitempty"`
}

func view(a shuttle.Assignment) assignmentView {
	return assignmentView{Assignment: a, Key: a.Key}
}

func views(as []shuttle.Assignment) []assignmentView {
	out := make([]assignmentView, 0, len(as))
	for _, a := range as {
		out = append(out, view(a))
	}
	return out
}
