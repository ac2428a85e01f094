// Package route holds the relay route registry: routes, their endpoints and
// the per-row state written by the prober and the policy synchronizer.
package route

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Latency is a probe result in milliseconds, or one of the sentinels below.
type Latency int64

const (
	NotProbed   Latency = -2
	Unreachable Latency = -1
)

// Reachable reports whether l is a measured round trip.
func (l Latency) Reachable() bool { return l >= 0 }

func (l Latency) String() string {
	switch {
	case l == Unreachable:
		return "BLK"
	case l < 0:
		return ""
	default:
		return strconv.FormatInt(int64(l), 10)
	}
}

// Endpoint is one relay address of a route.
type Endpoint struct {
	Addr      string `json:"addr"`
	PortRange string `json:"port_range,omitempty"`
	Row       int    `json:"row"`
}

// Route is a named group of endpoints. Endpoint 0 is the representative.
type Route struct {
	Name      string
	Desc      string
	HasDesc   bool
	PW        bool
	Endpoints []Endpoint

	mu       sync.Mutex
	extended bool
	allCheck bool
	rows     []*Row
}

// Label returns the description when the route has one, else its name.
func (r *Route) Label() string {
	if r.HasDesc {
		return r.Desc
	}
	return r.Name
}

// Extended reports whether every row of the route is shown.
func (r *Route) Extended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.extended
}

func (r *Route) SetExtended(v bool) {
	r.mu.Lock()
	r.extended = v
	r.mu.Unlock()
}

// AllCheck reports whether the representative row stands for the whole route.
func (r *Route) AllCheck() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allCheck
}

func (r *Route) SetAllCheck(v bool) {
	r.mu.Lock()
	r.allCheck = v
	r.mu.Unlock()
}

// Rows returns the route's rows in endpoint order.
func (r *Route) Rows() []*Row { return r.rows }

// Representative returns the row of endpoint 0.
func (r *Route) Representative() *Row { return r.rows[0] }

// Addresses lists endpoint addresses in order.
func (r *Route) Addresses() []string {
	out := make([]string, len(r.Endpoints))
	for i, ep := range r.Endpoints {
		out[i] = ep.Addr
	}
	return out
}

// Checked returns the blocked flag of every row, in endpoint order.
func (r *Route) Checked() []bool {
	out := make([]bool, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Blocked()
	}
	return out
}

// Row is the mutable state of one endpoint. Latency and blocked are
// independent atomics so a probe and a reconcile may write the same row.
type Row struct {
	Index int
	Pos   int
	Route *Route

	latency atomic.Int64
	pending atomic.Bool
	blocked atomic.Bool
}

func newRow(index, pos int, r *Route) *Row {
	row := &Row{Index: index, Pos: pos, Route: r}
	row.latency.Store(int64(NotProbed))
	return row
}

// Endpoint returns the endpoint this row displays.
func (r *Row) Endpoint() Endpoint { return r.Route.Endpoints[r.Pos] }

// Representative reports whether this is endpoint 0 of its route.
func (r *Row) Representative() bool { return r.Pos == 0 }

func (r *Row) Latency() Latency { return Latency(r.latency.Load()) }

// SetLatency records a probe result and clears the pending marker.
func (r *Row) SetLatency(l Latency) {
	r.latency.Store(int64(l))
	r.pending.Store(false)
}

// Pending reports whether a probe of this row is in flight.
func (r *Row) Pending() bool { return r.pending.Load() }

func (r *Row) SetPending(v bool) { r.pending.Store(v) }

// Blocked reports whether this row's address is in an enforced block rule.
func (r *Row) Blocked() bool { return r.blocked.Load() }

func (r *Row) SetBlocked(v bool) { r.blocked.Store(v) }
