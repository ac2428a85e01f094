package policy

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"steamroutetool/internal/addrutil"
	"steamroutetool/internal/route"
)

// Report summarises a reconcile pass.
type Report struct {
	Rules       int
	Routes      int
	BlockedRows int
	// Orphans are namespaced rule names whose route is not in the registry.
	Orphans []string
}

// Synchronizer rebuilds row blocked flags and route collapse state from the
// rules already enforced in the store.
type Synchronizer struct {
	Store     Store
	Namespace string
}

// Reconcile reads the store and updates the registry in place. Only routes
// with at least one namespaced rule are touched. Running it twice without a
// store change yields the same state.
func (s *Synchronizer) Reconcile(ctx context.Context, reg *route.Registry) (Report, error) {
	rules, err := s.Store.List(ctx)
	if err != nil {
		log.Warn("reconcile: list rules failed", "err", err)
		return Report{}, fmt.Errorf("list rules: %w", err)
	}

	var rep Report
	blocked := make(map[string]map[string]bool)
	var order []string
	for _, rule := range rules {
		_, name, ok := ParseRuleName(s.Namespace, rule.Name)
		if !ok {
			continue
		}
		rep.Rules++
		if _, known := reg.Route(name); !known {
			rep.Orphans = append(rep.Orphans, rule.Name)
			continue
		}
		set, seen := blocked[name]
		if !seen {
			set = make(map[string]bool)
			blocked[name] = set
			order = append(order, name)
		}
		for _, a := range rule.RemoteAddresses {
			if a = addrutil.StripMask(a); a != "" {
				set[a] = true
			}
		}
	}

	for _, name := range order {
		r, _ := reg.Route(name)
		set := blocked[name]
		for i, row := range r.Rows() {
			on := set[r.Endpoints[i].Addr]
			row.SetBlocked(on)
			if on {
				rep.BlockedRows++
			}
		}
		r.SetExtended(needsExtension(r))
		rep.Routes++
	}

	log.Debug("reconciled", "rules", rep.Rules, "routes", rep.Routes, "blocked_rows", rep.BlockedRows)
	return rep, nil
}

// needsExtension reports whether a route must show every row. A route may
// stay collapsed only when it is fully blocked; a single-endpoint route
// never needs extension.
func needsExtension(r *route.Route) bool {
	rows := r.Rows()
	if len(rows) <= 1 {
		return false
	}
	for _, row := range rows {
		if !row.Blocked() {
			return true
		}
	}
	return false
}
