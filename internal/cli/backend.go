package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"unimap-shuttle/internal/config"
	"unimap-shuttle/internal/conflict"
	"unimap-shuttle/internal/db"
	"unimap-shuttle/internal/lifecycle"
	"unimap-shuttle/internal/logging"
	"unimap-shuttle/internal/publisher"
	"unimap-shuttle/internal/store"
	"unimap-shuttle/internal/window"
)

// Backend is everything a command needs to reach the shuttle data.
type Backend struct {
	Store     store.Store
	Directory lifecycle.Directory // may be nil
	Notifier  lifecycle.Notifier  // may be nil
	Location  *time.Location
	Policy    window.Policy

	closers []func()
}

func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// openBackend connects per the environment unless opts already carries one.
func openBackend(ctx context.Context, opts *RootOptions, log *slog.Logger) (*Backend, error) {
	if opts.Backend != nil {
		return opts.Backend, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "config", err)
	}
	b := &Backend{
		Location: cfg.Location,
		Policy:   window.Policy{Lead: cfg.StartLead, Grace: cfg.StartGrace},
	}

	switch cfg.Store {
	case config.StoreMemory:
		// Only useful for trying commands out; nothing outlives the process.
		mem := store.NewMemory()
		b.Store = mem
		b.closers = append(b.closers, func() { _ = mem.Close() })
	default:
		nc, err := publisher.Connect(cfg.NATSURL, "shuttlectl", nil, log)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "connect to NATS", err)
		}
		b.closers = append(b.closers, nc.Close)
		kv, err := store.OpenKV(ctx, nc, cfg.KVBucket, log)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "open store", err)
		}
		b.Store = kv
		pub := publisher.NewNATSPublisher(nc, cfg.LogNATSSubjects, nil, log)
		b.Notifier = pub
		b.closers = append(b.closers, pub.Close)
	}

	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "open directory", err)
		}
		b.closers = append(b.closers, func() { _ = sqlDB.Close() })
		b.Directory = db.NewDirectory(sqlDB)
	}
	return b, nil
}

// session bundles the per-invocation pieces every command builds.
type session struct {
	out     *OutputFormatter
	log     *slog.Logger
	backend *Backend
	lc      *lifecycle.Manager
}

func (s *session) close() {
	if s.backend != nil {
		s.backend.Close()
	}
}

func newSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := logging.New(cmd.ErrOrStderr(), level)

	b, err := openBackend(cmd.Context(), opts, log)
	if err != nil {
		return nil, fail(out, err)
	}
	lopts := []lifecycle.Option{
		lifecycle.WithLocation(b.Location),
		lifecycle.WithLogger(log),
	}
	if b.Policy != (window.Policy{}) {
		lopts = append(lopts, lifecycle.WithPolicy(b.Policy))
	}
	if opts.Now != nil {
		lopts = append(lopts, lifecycle.WithClock(opts.Now))
	}
	if b.Directory != nil {
		lopts = append(lopts, lifecycle.WithDirectory(b.Directory))
	}
	if b.Notifier != nil {
		lopts = append(lopts, lifecycle.WithNotifier(b.Notifier))
	}
	return &session{out: out, log: log, backend: b, lc: lifecycle.New(b.Store, lopts...)}, nil
}

// fail reports err through the formatter and returns it with an exit code.
func fail(out *OutputFormatter, err error) error {
	code, exit := classify(err)
	var ee *ExitError
	if errors.As(err, &ee) {
		exit = ee.Code
	}
	_ = out.Error(code, err.Error(), validationDetails(err))
	return &ExitError{Code: exit, Message: code, Err: err, reported: true}
}

func classify(err error) (string, int) {
	var ve *lifecycle.ValidationError
	var ce *conflict.ConflictError
	var se *store.Error
	switch {
	case errors.As(err, &ve):
		return "invalid", ExitFailure
	case errors.As(err, &ce):
		return string(ce.Reason), ExitFailure
	case errors.Is(err, lifecycle.ErrNotInWindow):
		return "not_in_window", ExitFailure
	case errors.Is(err, lifecycle.ErrTerminal):
		return "terminal", ExitFailure
	case errors.Is(err, store.ErrStatusChanged):
		return "status_changed", ExitFailure
	case errors.Is(err, store.ErrNotFound):
		return "not_found", ExitFailure
	case errors.As(err, &se):
		return "store", ExitCommandError
	}
	return "error", ExitCommandError
}

func validationDetails(err error) any {
	var fields []map[string]string
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
			fields = append(fields, map[string]string{"field": ve.Field, "message": ve.Message})
		}
	}
	walk(err)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func usageError(format string, args ...any) error {
	return NewExitError(ExitCommandError, fmt.Sprintf(format, args...))
}
