// Package session drives the core from projection intents and reports row
// changes back as events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"steamroutetool/internal/addrutil"
	"steamroutetool/internal/policy"
	"steamroutetool/internal/probe"
	"steamroutetool/internal/route"
)

// ErrUnknownRow is returned for a row index outside the registry.
var ErrUnknownRow = errors.New("unknown row")

var errNoProber = errors.New("session has no prober")

type Options struct {
	Registry        *route.Registry
	Prober          *probe.Prober
	Store           policy.Store
	Namespace       string
	LegacyNamespace string
	// Ports is the remote port range of TCP and UDP rules.
	Ports      string
	Thresholds probe.Thresholds
	// Events receives row events. Sends block; nil discards them.
	Events chan<- RowEvent
}

// Session owns one registry and applies user intents to it.
type Session struct {
	reg        *route.Registry
	prober     *probe.Prober
	syncer     *policy.Synchronizer
	writer     *policy.Writer
	namespace  string
	legacy     string
	thresholds probe.Thresholds
	events     chan<- RowEvent

	// Route intents hold the read side plus the route lock; column and
	// clear intents take the write side.
	mu     sync.RWMutex
	routes sync.Map // route name -> *sync.Mutex
	column bool
}

func New(opts Options) *Session {
	reg := opts.Registry
	if reg == nil {
		reg = &route.Registry{}
	}
	th := opts.Thresholds
	if th.GoodMs == 0 && th.WarnMs == 0 {
		th = probe.DefaultThresholds
	}
	w := policy.NewWriter(opts.Store, opts.Namespace)
	if opts.Ports != "" {
		w.Ports = opts.Ports
	}
	return &Session{
		reg:        reg,
		prober:     opts.Prober,
		syncer:     &policy.Synchronizer{Store: opts.Store, Namespace: opts.Namespace},
		writer:     w,
		namespace:  opts.Namespace,
		legacy:     opts.LegacyNamespace,
		thresholds: th,
		events:     opts.Events,
	}
}

func (s *Session) Registry() *route.Registry { return s.reg }

// Start sweeps the legacy namespace, then reconciles and probes
// concurrently. Only a reconcile failure is returned.
func (s *Session) Start(ctx context.Context) error {
	if s.legacy != "" {
		if _, err := s.writer.ClearNamespace(ctx, s.legacy); err != nil {
			log.Warn("legacy rule sweep failed", "namespace", s.legacy, "err", err)
		}
	}

	var (
		g         errgroup.Group
		reconcile error
	)
	g.Go(func() error {
		_, reconcile = s.Reconcile(ctx)
		return nil
	})
	if s.prober != nil {
		g.Go(func() error {
			s.ProbeAll(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return reconcile
}

// Reconcile rebuilds blocked and extended state from the store.
func (s *Session) Reconcile(ctx context.Context) (policy.Report, error) {
	s.mu.Lock()
	rep, err := s.syncer.Reconcile(ctx, s.reg)
	s.mu.Unlock()
	if err != nil {
		return rep, err
	}
	s.emitRows(ctx, s.reg.Rows())
	return rep, nil
}

// ProbeAll probes every route.
func (s *Session) ProbeAll(ctx context.Context) {
	if s.prober == nil {
		return
	}
	s.prober.ProbeAll(ctx, s.reg.Routes(), s.observer(ctx))
}

// ProbeRoute probes one route's endpoints in order.
func (s *Session) ProbeRoute(ctx context.Context, name string) error {
	r, ok := s.reg.Route(name)
	if !ok {
		return fmt.Errorf("%w: %s", policy.ErrNoRoute, name)
	}
	if s.prober == nil {
		return errNoProber
	}
	s.prober.ProbeRoute(ctx, r, s.observer(ctx))
	return nil
}

// ProbeRow re-probes a single row.
func (s *Session) ProbeRow(ctx context.Context, index int) error {
	row, ok := s.reg.Row(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRow, index)
	}
	if s.prober == nil {
		return errNoProber
	}
	s.prober.ProbeRow(ctx, row, s.observer(ctx))
	return nil
}

// ToggleRepresentative expands or collapses a route. Expanding a route whose
// representative stands for the whole route copies its blocked flag to the
// other rows first. No rules change.
func (s *Session) ToggleRepresentative(ctx context.Context, name string) error {
	r, ok := s.reg.Route(name)
	if !ok {
		return fmt.Errorf("%w: %s", policy.ErrNoRoute, name)
	}
	unlock := s.lockRoute(name)
	if r.AllCheck() && !r.Extended() {
		blocked := r.Representative().Blocked()
		for _, row := range r.Rows()[1:] {
			row.SetBlocked(blocked)
		}
	}
	r.SetExtended(!r.Extended())
	r.SetAllCheck(!r.AllCheck())
	unlock()

	s.emitRows(ctx, r.Rows())
	return nil
}

// ToggleRow flips a row's blocked flag and rewrites the route's rules. On a
// collapsed route the representative toggles every row with it.
func (s *Session) ToggleRow(ctx context.Context, index int) error {
	row, ok := s.reg.Row(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRow, index)
	}
	r := row.Route
	unlock := s.lockRoute(r.Name)
	blocked := !row.Blocked()
	row.SetBlocked(blocked)
	collapsed := !r.Extended()
	r.SetAllCheck(collapsed)
	if collapsed && row.Representative() {
		for _, other := range r.Rows() {
			other.SetBlocked(blocked)
		}
	}
	err := s.writer.SetRule(ctx, r, r.Checked())
	unlock()

	if err != nil {
		log.Error("set rule failed", "route", r.Name, "err", err)
	}
	s.emitRows(ctx, r.Rows())
	return err
}

// SetRoute blocks or unblocks a route by address. With no addresses the
// whole route is targeted.
func (s *Session) SetRoute(ctx context.Context, name string, addrs []string, block bool) error {
	r, ok := s.reg.Route(name)
	if !ok {
		return fmt.Errorf("%w: %s", policy.ErrNoRoute, name)
	}
	rows := r.Rows()
	if len(addrs) > 0 {
		byAddr := make(map[string]*route.Row, len(rows))
		for i, ep := range r.Endpoints {
			byAddr[ep.Addr] = rows[i]
		}
		rows = rows[:0:0]
		for _, a := range addrs {
			row, ok := byAddr[addrutil.StripMask(a)]
			if !ok {
				return fmt.Errorf("route %s has no endpoint %s", name, a)
			}
			rows = append(rows, row)
		}
	}

	unlock := s.lockRoute(name)
	for _, row := range rows {
		row.SetBlocked(block)
	}
	r.SetAllCheck(len(addrs) == 0 && block)
	err := s.writer.SetRule(ctx, r, r.Checked())
	unlock()

	s.emitRows(ctx, r.Rows())
	return err
}

// ToggleColumnAll checks or unchecks every row and applies it to all routes.
func (s *Session) ToggleColumnAll(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.column = on
	for _, row := range s.reg.Rows() {
		row.SetBlocked(on)
	}
	err := s.writer.SetAll(ctx, s.reg.Routes(), on)
	s.mu.Unlock()

	if err != nil {
		log.Error("bulk rule update failed", "on", on, "err", err)
	}
	s.emitRows(ctx, s.reg.Rows())
	return err
}

// Column reports the last ToggleColumnAll value.
func (s *Session) Column() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.column
}

// ClearNamespace removes every rule the tool owns. Row flags are cleared
// only when every removal succeeded.
func (s *Session) ClearNamespace(ctx context.Context) (int, error) {
	s.mu.Lock()
	n, err := s.writer.ClearNamespace(ctx, s.namespace)
	if err == nil {
		for _, row := range s.reg.Rows() {
			row.SetBlocked(false)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return n, fmt.Errorf("clear %s rules: %w", s.namespace, err)
	}
	s.emitRows(ctx, s.reg.Rows())
	return n, nil
}

// Snapshot returns the projection of every row.
func (s *Session) Snapshot() []RowEvent {
	rows := s.reg.Rows()
	out := make([]RowEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowEvent(row, s.thresholds))
	}
	return out
}

// Row returns the projection of one row.
func (s *Session) Row(index int) (RowEvent, error) {
	row, ok := s.reg.Row(index)
	if !ok {
		return RowEvent{}, fmt.Errorf("%w: %d", ErrUnknownRow, index)
	}
	return rowEvent(row, s.thresholds), nil
}

func (s *Session) lockRoute(name string) func() {
	s.mu.RLock()
	v, _ := s.routes.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return func() {
		mu.Unlock()
		s.mu.RUnlock()
	}
}

func (s *Session) observer(ctx context.Context) probe.Observer {
	return func(e probe.Event) {
		if row, ok := s.reg.Row(e.Row); ok {
			s.emit(ctx, rowEvent(row, s.thresholds))
		}
	}
}

func (s *Session) emitRows(ctx context.Context, rows []*route.Row) {
	for _, row := range rows {
		s.emit(ctx, rowEvent(row, s.thresholds))
	}
}

func (s *Session) emit(ctx context.Context, ev RowEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
