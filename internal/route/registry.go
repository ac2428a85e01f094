package route

import (
	"github.com/charmbracelet/log"

	"steamroutetool/internal/addrutil"
	"steamroutetool/internal/sdr"
)

// Registry is the ordered set of routes built from one config document.
// It is rebuilt, not mutated, when the document is reloaded.
type Registry struct {
	routes []*Route
	byName map[string]*Route
	rows   []*Row
}

// Build creates a registry from a parsed document. Pops without relays,
// excluded pops and relays without a usable IPv4 address are skipped.
// Row indices are assigned in document order from a single counter.
func Build(doc sdr.Document) *Registry {
	reg := &Registry{byName: make(map[string]*Route)}

	for _, pop := range doc.Pops {
		if !pop.HasRelays || pop.Excluded() {
			continue
		}
		if _, dup := reg.byName[pop.ID]; dup {
			log.Warn("duplicate route skipped", "route", pop.ID)
			continue
		}

		r := &Route{
			Name:    pop.ID,
			Desc:    pop.Desc,
			HasDesc: pop.HasDesc,
			PW:      pop.Partner(),
		}
		seen := make(map[string]bool)
		for _, relay := range pop.Relays {
			addr, ok := addrutil.ParseIPv4(relay.IPv4)
			if !ok || seen[addr] {
				continue
			}
			seen[addr] = true
			r.Endpoints = append(r.Endpoints, Endpoint{Addr: addr, PortRange: relay.PortRange})
		}
		if len(r.Endpoints) == 0 {
			continue
		}

		for i := range r.Endpoints {
			row := newRow(len(reg.rows), i, r)
			r.Endpoints[i].Row = row.Index
			r.rows = append(r.rows, row)
			reg.rows = append(reg.rows, row)
		}
		reg.routes = append(reg.routes, r)
		reg.byName[r.Name] = r
	}
	return reg
}

// Routes returns routes in document order.
func (g *Registry) Routes() []*Route { return g.routes }

// Route looks a route up by name.
func (g *Registry) Route(name string) (*Route, bool) {
	r, ok := g.byName[name]
	return r, ok
}

// Row returns the row with the given index.
func (g *Registry) Row(index int) (*Row, bool) {
	if index < 0 || index >= len(g.rows) {
		return nil, false
	}
	return g.rows[index], true
}

// RouteForRow returns the route owning a row index.
func (g *Registry) RouteForRow(index int) (*Route, bool) {
	row, ok := g.Row(index)
	if !ok {
		return nil, false
	}
	return row.Route, true
}

// Rows returns every row in index order.
func (g *Registry) Rows() []*Row { return g.rows }

func (g *Registry) RowCount() int { return len(g.rows) }
