package publisher

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unimap-shuttle/internal/correlator"
	"unimap-shuttle/internal/shuttle"
	"unimap-shuttle/internal/testutil"
)

type countingMetrics struct {
	mu        sync.Mutex
	published int
	errs      int
	connected bool
}

func (c *countingMetrics) NATSPublishedInc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
}

func (c *countingMetrics) NATSPublishErrInc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs++
}

func (c *countingMetrics) PublishObserve(time.Duration) {}

func (c *countingMetrics) NATSSetConnected(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = b
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "shuttle.display.RouteA", DisplaySubject(shuttle.RouteA))
	assert.Equal(t, "shuttle.assignment.in_progress.RouteB-0730PM-12", TransitionSubject(shuttle.StatusInProgress, "RouteB-0730PM-12"))
	assert.Equal(t, "a_b_c", subjectToken(" a.b*c "))
	assert.Equal(t, "_", subjectToken(""))
}

func TestPublishTransitionAndDisplay(t *testing.T) {
	ns, _ := testutil.StartEmbeddedNATS(t)
	m := &countingMetrics{}
	nc, err := Connect(ns.ClientURL(), "publisher-test", m, nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	m.mu.Lock()
	assert.True(t, m.connected)
	m.mu.Unlock()

	msgs := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("shuttle.>", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, true, m, nil)
	a := shuttle.Assignment{
		Date: shuttle.Date{Year: 2025, Month: time.January, Day: 1}, Route: shuttle.RouteA, Time: "08:00 AM",
		DriverID: "D1", DriverName: "Ahmad", BusNumber: 5, Status: shuttle.StatusCompleted,
	}
	require.NoError(t, p.PublishTransition(a))

	bus := 5
	require.NoError(t, p.PublishDisplay(correlator.DisplayUpdate{Route: shuttle.RouteA, BusNumber: &bus, CurrentStop: "FKTM"}))
	p.Close()

	select {
	case msg := <-msgs:
		assert.Equal(t, "shuttle.assignment.completed.RouteA-0800AM-5", msg.Subject)
		var tm TransitionMessage
		require.NoError(t, json.Unmarshal(msg.Data, &tm))
		assert.Equal(t, "01/01/2025", tm.Date)
		assert.Equal(t, "RouteA-0800AM-5", tm.Key)
		assert.Equal(t, shuttle.StatusCompleted, tm.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition message")
	}

	select {
	case msg := <-msgs:
		assert.Equal(t, "shuttle.display.RouteA", msg.Subject)
		var u correlator.DisplayUpdate
		require.NoError(t, json.Unmarshal(msg.Data, &u))
		require.NotNil(t, u.BusNumber)
		assert.Equal(t, 5, *u.BusNumber)
		assert.Equal(t, "FKTM", u.CurrentStop)
	case <-time.After(2 * time.Second):
		t.Fatal("no display message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 2, m.published)
	assert.Zero(t, m.errs)
}
