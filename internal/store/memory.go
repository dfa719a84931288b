package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unimap-shuttle/internal/shuttle"
)

type memKey struct {
	date shuttle.Date
	key  string
}

// Memory is an in-process Store. Subscribers are notified asynchronously and
// always see the latest snapshot; intermediate states may be coalesced.
type Memory struct {
	mu          sync.RWMutex
	assignments map[memKey]shuttle.Assignment
	positions   map[shuttle.Route]shuttle.LivePosition
	subs        map[*memSub]struct{}
	posSubs     map[*memPosSub]struct{}
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		assignments: make(map[memKey]shuttle.Assignment),
		positions:   make(map[shuttle.Route]shuttle.LivePosition),
		subs:        make(map[*memSub]struct{}),
		posSubs:     make(map[*memPosSub]struct{}),
		now:         time.Now,
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	subs := make([]*memSub, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	psubs := make([]*memPosSub, 0, len(m.posSubs))
	for s := range m.posSubs {
		psubs = append(psubs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.Stop()
	}
	for _, s := range psubs {
		s.Stop()
	}
	return nil
}

func (m *Memory) Put(ctx context.Context, a shuttle.Assignment) error {
	if err := ctx.Err(); err != nil {
		return storeErr("put", err)
	}
	a.Key = a.ID()
	if a.Status == "" {
		a.Status = shuttle.StatusPending
	}
	k := memKey{a.Date, a.Key}
	m.mu.Lock()
	if _, ok := m.assignments[k]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrAlreadyExists, a.Key, a.Date)
	}
	m.assignments[k] = a
	m.mu.Unlock()
	m.notify(a.Date)
	return nil
}

func (m *Memory) Get(ctx context.Context, date shuttle.Date, key string) (shuttle.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return shuttle.Assignment{}, storeErr("get", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[memKey{date, key}]
	if !ok {
		return shuttle.Assignment{}, fmt.Errorf("%w: %s on %s", ErrNotFound, key, date)
	}
	return a, nil
}

func (m *Memory) snapshot(scope Scope) []shuttle.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []shuttle.Assignment
	for k, a := range m.assignments {
		if scope.matches(k.date) {
			out = append(out, a)
		}
	}
	shuttle.SortBySchedule(out)
	return out
}

func (m *Memory) ListForDate(ctx context.Context, date shuttle.Date) ([]shuttle.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return m.snapshot(ForDate(date)), nil
}

func (m *Memory) ListAll(ctx context.Context) ([]shuttle.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return m.snapshot(All), nil
}

func (m *Memory) UpdateStatus(ctx context.Context, date shuttle.Date, key string, to shuttle.Status, from ...shuttle.Status) (shuttle.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return shuttle.Assignment{}, storeErr("update", err)
	}
	k := memKey{date, key}
	m.mu.Lock()
	a, ok := m.assignments[k]
	if !ok {
		m.mu.Unlock()
		return shuttle.Assignment{}, fmt.Errorf("%w: %s on %s", ErrNotFound, key, date)
	}
	if err := checkFrom(a.Status, from); err != nil {
		m.mu.Unlock()
		return a, err
	}
	a.Status = to
	m.assignments[k] = a
	m.mu.Unlock()
	m.notify(date)
	return a, nil
}

func (m *Memory) Delete(ctx context.Context, date shuttle.Date, key string) error {
	if err := ctx.Err(); err != nil {
		return storeErr("delete", err)
	}
	k := memKey{date, key}
	m.mu.Lock()
	if _, ok := m.assignments[k]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s on %s", ErrNotFound, key, date)
	}
	delete(m.assignments, k)
	m.mu.Unlock()
	m.notify(date)
	return nil
}

type memSub struct {
	m      *Memory
	scope  Scope
	kick   chan struct{}
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *memSub) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.m.mu.Lock()
		delete(s.m.subs, s)
		s.m.mu.Unlock()
	})
}

func (m *Memory) notify(d shuttle.Date) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for s := range m.subs {
		if !s.scope.matches(d) {
			continue
		}
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) Subscribe(ctx context.Context, scope Scope, fn SnapshotFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &memSub{m: m, scope: scope, kick: make(chan struct{}, 1), cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	s.kick <- struct{}{}
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.kick:
				fn(m.snapshot(scope))
			}
		}
	}()
	return s, nil
}

func (m *Memory) PutPosition(ctx context.Context, route shuttle.Route, p shuttle.LivePosition) error {
	if err := ctx.Err(); err != nil {
		return storeErr("put position", err)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = m.now().UTC()
	}
	m.mu.Lock()
	m.positions[route] = p
	subs := make([]*memPosSub, 0, len(m.posSubs))
	for s := range m.posSubs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.send(route, p)
	}
	return nil
}

func (m *Memory) GetPosition(ctx context.Context, route shuttle.Route) (shuttle.LivePosition, error) {
	if err := ctx.Err(); err != nil {
		return shuttle.LivePosition{}, storeErr("get position", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[route]
	if !ok {
		return p, fmt.Errorf("%w: no live position for %s", ErrNotFound, route)
	}
	return p, nil
}

type posEvent struct {
	route shuttle.Route
	pos   shuttle.LivePosition
}

type memPosSub struct {
	m      *Memory
	ch     chan posEvent
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *memPosSub) send(r shuttle.Route, p shuttle.LivePosition) {
	select {
	case s.ch <- posEvent{r, p}:
	case <-s.ctx.Done():
	}
}

func (s *memPosSub) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.m.mu.Lock()
		delete(s.m.posSubs, s)
		s.m.mu.Unlock()
	})
}

func (m *Memory) WatchPositions(ctx context.Context, fn PositionFunc) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &memPosSub{m: m, ch: make(chan posEvent, 64), ctx: ctx, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	for _, r := range shuttle.Routes {
		if p, ok := m.positions[r]; ok {
			s.ch <- posEvent{r, p}
		}
	}
	m.posSubs[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				fn(ev.route, ev.pos)
			}
		}
	}()
	return s, nil
}
