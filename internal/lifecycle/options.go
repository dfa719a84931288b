package lifecycle

import (
	"log/slog"
	"time"

	"unimap-shuttle/internal/window"
)

type Option func(*Manager)

// WithDirectory resolves driver names for drafts that omit them.
func WithDirectory(d Directory) Option { return func(m *Manager) { m.dir = d } }

func WithPolicy(p window.Policy) Option { return func(m *Manager) { m.policy = p } }

// WithLocation sets the zone assignment dates and slots are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithMetrics(mt Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}
