// Package probe measures endpoint reachability with single ICMP echoes.
package probe

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"steamroutetool/internal/route"
)

// DefaultTimeout bounds a single echo.
const DefaultTimeout = 1000 * time.Millisecond

// Event reports a row transition. Pending events precede each probe; the
// result event follows it with Pending false.
type Event struct {
	Row     int
	Pending bool
	Latency route.Latency
}

// Observer receives probe events. It may be called from many goroutines.
type Observer func(Event)

// Prober probes endpoints and records results on their rows.
type Prober struct {
	Pinger  Pinger
	Timeout time.Duration
	// Workers caps concurrent route probes in ProbeAll. Zero means unbounded.
	Workers int
}

// New returns a prober with the default timeout.
func New(p Pinger) *Prober {
	return &Prober{Pinger: p, Timeout: DefaultTimeout}
}

// Probe sends one echo. Any failure, or a non-positive round trip, is
// Unreachable; errors never escape.
func (p *Prober) Probe(ctx context.Context, addr string) route.Latency {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rtt, err := p.Pinger.Ping(ctx, addr, timeout)
	if err != nil {
		log.Debug("probe failed", "addr", addr, "err", err)
		return route.Unreachable
	}
	if rtt <= 0 {
		return route.Unreachable
	}
	return route.Latency(rtt.Milliseconds())
}

// ProbeRoute probes the endpoints of one route strictly in order.
func (p *Prober) ProbeRoute(ctx context.Context, r *route.Route, observe Observer) {
	for _, row := range r.Rows() {
		p.probeRow(ctx, row, observe)
	}
}

// ProbeRow re-probes a single row.
func (p *Prober) ProbeRow(ctx context.Context, row *route.Row, observe Observer) {
	p.probeRow(ctx, row, observe)
}

// ProbeAll runs ProbeRoute for every route concurrently and waits for all.
func (p *Prober) ProbeAll(ctx context.Context, routes []*route.Route, observe Observer) {
	var g errgroup.Group
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	start := time.Now()
	for _, r := range routes {
		g.Go(func() error {
			p.ProbeRoute(ctx, r, observe)
			return nil
		})
	}
	_ = g.Wait()
	log.Debug("probe pass done", "routes", len(routes), "took", time.Since(start).Round(time.Millisecond))
}

func (p *Prober) probeRow(ctx context.Context, row *route.Row, observe Observer) {
	row.SetPending(true)
	if observe != nil {
		observe(Event{Row: row.Index, Pending: true, Latency: row.Latency()})
	}

	l := p.Probe(ctx, row.Endpoint().Addr)
	row.SetLatency(l)
	if observe != nil {
		observe(Event{Row: row.Index, Latency: l})
	}
}
