package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"unimap-shuttle/internal/shuttle"
)

const (
	DefaultBucket = "shuttle"

	assignmentsPrefix = "assignments"
	positionsPrefix   = "routeLiveLocations"

	// Revision conflicts on a status update are re-read and re-applied at
	// most this many times.
	maxCASAttempts = 5
)

// KV stores documents in a NATS JetStream key/value bucket. Assignment keys
// are "assignments.{yyyy}.{MM}.{dd}.{key}" and live positions are
// "routeLiveLocations.{RouteToken}".
type KV struct {
	kv  jetstream.KeyValue
	log *slog.Logger
}

// OpenKV creates or opens the bucket.
func OpenKV(ctx context.Context, nc *nats.Conn, bucket string, log *slog.Logger) (*KV, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if log == nil {
		log = slog.Default()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, storeErr("open", err)
	}
	kv, err := ensureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "shuttle assignments and live positions",
		History:     5,
	}, 3)
	if err != nil {
		return nil, storeErr("open", err)
	}
	return &KV{kv: kv, log: log.With("component", "store", "bucket", bucket)}, nil
}

// NewKV wraps an already opened bucket.
func NewKV(kv jetstream.KeyValue, log *slog.Logger) *KV {
	if log == nil {
		log = slog.Default()
	}
	return &KV{kv: kv, log: log.With("component", "store")}
}

// ensureBucket handles concurrent creators racing on the same bucket.
func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("create/open KV bucket %s after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}

func (s *KV) Close() error { return nil }

func assignmentKey(d shuttle.Date, key string) string {
	y, m, dd := d.Partition()
	return strings.Join([]string{assignmentsPrefix, y, m, dd, key}, ".")
}

func datePattern(d shuttle.Date) string {
	y, m, dd := d.Partition()
	return strings.Join([]string{assignmentsPrefix, y, m, dd, "*"}, ".")
}

func scopePattern(sc Scope) string {
	if sc.Date.IsZero() {
		return assignmentsPrefix + ".>"
	}
	return datePattern(sc.Date)
}

func positionKey(r shuttle.Route) string { return positionsPrefix + "." + r.Token() }

// splitAssignmentKey recovers the date and document key from a bucket key.
func splitAssignmentKey(k string) (shuttle.Date, string, bool) {
	parts := strings.Split(k, ".")
	if len(parts) != 5 || parts[0] != assignmentsPrefix {
		return shuttle.Date{}, "", false
	}
	d, err := shuttle.ParseDate(parts[1] + "-" + parts[2] + "-" + parts[3])
	if err != nil {
		return shuttle.Date{}, "", false
	}
	return d, parts[4], true
}

func decodeAssignment(e jetstream.KeyValueEntry) (shuttle.Assignment, error) {
	var a shuttle.Assignment
	if err := json.Unmarshal(e.Value(), &a); err != nil {
		return a, fmt.Errorf("decode %s: %w", e.Key(), err)
	}
	if d, key, ok := splitAssignmentKey(e.Key()); ok {
		a.Date = d
		a.Key = key
	}
	return a, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// isWrongRevision matches the server's wrong-last-sequence rejection, which
// the client reports as ErrKeyExists.
func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *KV) Put(ctx context.Context, a shuttle.Assignment) error {
	a.Key = a.ID()
	if a.Status == "" {
		a.Status = shuttle.StatusPending
	}
	data, err := json.Marshal(a)
	if err != nil {
		return storeErr("put", err)
	}
	if _, err := s.kv.Create(ctx, assignmentKey(a.Date, a.Key), data); err != nil {
		if isWrongRevision(err) {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyExists, a.Key, a.Date)
		}
		return storeErr("put", err)
	}
	return nil
}

func (s *KV) get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, uint64, error) {
	e, err := s.kv.Get(ctx, assignmentKey(date, key))
	if err != nil {
		if isNotFound(err) {
			return shuttle.Assignment{}, 0, fmt.Errorf("%w: %s on %s", ErrNotFound, key, date)
		}
		return shuttle.Assignment{}, 0, storeErr("get", err)
	}
	a, err := decodeAssignment(e)
	if err != nil {
		return a, 0, storeErr("get", err)
	}
	return a, e.Revision(), nil
}

func (s *KV) Get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error) {
	a, _, err := s.get(ctx, date, key)
	return a, err
}

// collect reads the current value of every key under pattern. The watcher
// signals the end of the initial values with a nil entry.
func (s *KV) collect(ctx context.Context, pattern string) ([]shuttle.Assignment, error) {
	w, err := s.kv.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, err
	}
	defer func() { _ = w.Stop() }()

	var out []shuttle.Assignment
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case e, ok := <-w.Updates():
			if !ok {
				return nil, errors.New("watcher closed")
			}
			if e == nil {
				shuttle.SortBySchedule(out)
				return out, nil
			}
			a, err := decodeAssignment(e)
			if err != nil {
				s.log.Warn("skipping undecodable assignment", "key", e.Key(), "error", err)
				continue
			}
			out = append(out, a)
		}
	}
}

func (s *KV) ListForDate(ctx context.Context, date shuttle.Date) ([]shuttle.Assignment, error) {
	out, err := s.collect(ctx, datePattern(date))
	if err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

func (s *KV) ListAll(ctx context.Context) ([]shuttle.Assignment, error) {
	out, err := s.collect(ctx, assignmentsPrefix+".>")
	if err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

func (s *KV) UpdateStatus(ctx context.Context, date shuttle.Date, key string, to shuttle.Status, from ...shuttle.Status) (shuttle.Assignment, error) {
	k := assignmentKey(date, key)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		e, err := s.kv.Get(ctx, k)
		if err != nil {
			if isNotFound(err) {
				return shuttle.Assignment{}, fmt.Errorf("%w: %s on %s", ErrNotFound, key, date)
			}
			return shuttle.Assignment{}, storeErr("update", err)
		}
		a, err := decodeAssignment(e)
		if err != nil {
			return a, storeErr("update", err)
		}
		if err := checkFrom(a.Status, from); err != nil {
			return a, err
		}

		// Patch the raw document so fields this version does not know about
		// survive the write.
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(e.Value(), &doc); err != nil {
			return a, storeErr("update", err)
		}
		doc["status"], _ = json.Marshal(to)
		data, err := json.Marshal(doc)
		if err != nil {
			return a, storeErr("update", err)
		}

		if _, err := s.kv.Update(ctx, k, data, e.Revision()); err != nil {
			if isWrongRevision(err) {
				s.log.Debug("status update lost revision race, retrying", "key", k, "attempt", attempt+1)
				continue
			}
			return a, storeErr("update", err)
		}
		a.Status = to
		return a, nil
	}
	return shuttle.Assignment{}, storeErr("update", fmt.Errorf("%s: revision changed %d times", k, maxCASAttempts))
}

func (s *KV) Delete(ctx context.Context, date shuttle.Date, key string) error {
	_, rev, err := s.get(ctx, date, key)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, assignmentKey(date, key), jetstream.LastRevision(rev)); err != nil {
		if isWrongRevision(err) {
			return fmt.Errorf("%w: %s on %s", ErrStatusChanged, key, date)
		}
		return storeErr("delete", err)
	}
	return nil
}

type kvSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *kvSubscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Subscribe watches the scope and hands fn the whole snapshot on start and
// after each change. fn runs on the subscription goroutine.
func (s *KV) Subscribe(ctx context.Context, scope Scope, fn SnapshotFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.kv.Watch(ctx, scopePattern(scope))
	if err != nil {
		cancel()
		return nil, storeErr("subscribe", err)
	}
	sub := &kvSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer func() { _ = w.Stop() }()

		current := make(map[string]shuttle.Assignment)
		synced := false
		emit := func() {
			snap := make([]shuttle.Assignment, 0, len(current))
			for _, a := range current {
				snap = append(snap, a)
			}
			shuttle.SortBySchedule(snap)
			fn(snap)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				if e == nil {
					synced = true
					emit()
					continue
				}
				switch e.Operation() {
				case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
					delete(current, e.Key())
				default:
					a, err := decodeAssignment(e)
					if err != nil {
						s.log.Warn("skipping undecodable assignment", "key", e.Key(), "error", err)
						continue
					}
					current[e.Key()] = a
				}
				if synced {
					emit()
				}
			}
		}
	}()
	return sub, nil
}

func (s *KV) PutPosition(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return storeErr("put position", err)
	}
	if _, err := s.kv.Put(ctx, positionKey(route), data); err != nil {
		return storeErr("put position", err)
	}
	return nil
}

func (s *KV) GetPosition(ctx context.Context, route shuttle.Route) (shuttle.LivePosition, error) {
	var p shuttle.LivePosition
	e, err := s.kv.Get(ctx, positionKey(route))
	if err != nil {
		if isNotFound(err) {
			return p, fmt.Errorf("%w: no live position for %s", ErrNotFound, route)
		}
		return p, storeErr("get position", err)
	}
	if err := json.Unmarshal(e.Value(), &p); err != nil {
		return p, storeErr("get position", err)
	}
	return p, nil
}

// WatchPositions delivers the last known position of every route, then each
// new write.
func (s *KV) WatchPositions(ctx context.Context, fn PositionFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.kv.Watch(ctx, positionsPrefix+".*", jetstream.IgnoreDeletes())
	if err != nil {
		cancel()
		return nil, storeErr("watch positions", err)
	}
	sub := &kvSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer func() { _ = w.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Updates():
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				route, err := shuttle.ParseRoute(strings.TrimPrefix(e.Key(), positionsPrefix+"."))
				if err != nil {
					s.log.Warn("position for unknown route", "key", e.Key())
					continue
				}
				var p shuttle.LivePosition
				if err := json.Unmarshal(e.Value(), &p); err != nil {
					s.log.Warn("skipping undecodable position", "key", e.Key(), "error", err)
					continue
				}
				fn(route, p)
			}
		}
	}()
	return sub, nil
}
