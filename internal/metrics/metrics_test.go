package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorStaticGauges(t *testing.T) {
	c := NewCollector(20*time.Minute, 5*time.Minute, 0)
	assert.Equal(t, 20.0, testutil.ToFloat64(c.StartLeadMinutes))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.StartGraceMinutes))
	assert.Zero(t, testutil.ToFloat64(c.SweepInterval))
}

func TestHandlerExposesCounters(t *testing.T) {
	c := NewCollector(20*time.Minute, 5*time.Minute, time.Minute)
	c.Transitions.WithLabelValues("pending").Inc()
	c.Rejections.WithLabelValues("driver_busy").Add(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `shuttle_assignment_transitions_total{status="pending"} 1`))
	assert.True(t, strings.Contains(body, `shuttle_assignment_rejections_total{reason="driver_busy"} 2`))
	assert.True(t, strings.Contains(body, "shuttle_sweep_interval_seconds 60"))
}
