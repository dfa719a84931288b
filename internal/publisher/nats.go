package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"unimap-shuttle/internal/correlator"
	"unimap-shuttle/internal/shuttle"
)

const (
	DisplaySubjectPrefix    = "shuttle.display"
	TransitionSubjectPrefix = "shuttle.assignment"
)

type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
	log         *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS and keeps m informed of the connection state.
func Connect(url, name string, m PublisherMetrics, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

func NewNATSPublisher(nc *nats.Conn, logSubjects bool, m PublisherMetrics, log *slog.Logger) *NATSPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m, log: log.With("component", "publisher")}
}

// Close flushes pending messages. The connection belongs to the caller.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Flush()
	}
}

// TransitionMessage is published whenever an assignment changes status.
type TransitionMessage struct {
	Date       string         `json:"date"`
	Key        string         `json:"key"`
	Route      shuttle.Route  `json:"route"`
	Time       string         `json:"time"`
	DriverID   string         `json:"driverId"`
	DriverName string         `json:"driverName"`
	BusNumber  int            `json:"busNumber"`
	Status     shuttle.Status `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

func DisplaySubject(route shuttle.Route) string {
	return fmt.Sprintf("%s.%s", DisplaySubjectPrefix, subjectToken(route.Token()))
}

func TransitionSubject(status shuttle.Status, key string) string {
	return fmt.Sprintf("%s.%s.%s", TransitionSubjectPrefix, subjectToken(string(status)), subjectToken(key))
}

func (p *NATSPublisher) PublishDisplay(u correlator.DisplayUpdate) error {
	return p.publish(DisplaySubject(u.Route), u)
}

func (p *NATSPublisher) PublishTransition(a shuttle.Assignment) error {
	key := a.Key
	if key == "" {
		key = a.ID()
	}
	return p.publish(TransitionSubject(a.Status, key), TransitionMessage{
		Date:       a.Date.String(),
		Key:        key,
		Route:      a.Route,
		Time:       a.Time,
		DriverID:   a.DriverID,
		DriverName: a.DriverName,
		BusNumber:  a.BusNumber,
		Status:     a.Status,
		Timestamp:  time.Now().UTC(),
	})
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug("nats publish", "subject", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
