package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"steamroutetool/internal/route"
)

// DefaultPorts is the remote port range of the TCP and UDP rules.
const DefaultPorts = "27015-27202"

// Writer installs block rules for routes. At most one SetRule runs per
// route at a time.
type Writer struct {
	Store     Store
	Namespace string
	Ports     string

	locks sync.Map // route name -> *sync.Mutex
}

func NewWriter(store Store, namespace string) *Writer {
	return &Writer{Store: store, Namespace: namespace, Ports: DefaultPorts}
}

func (w *Writer) lock(name string) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// SetRule replaces the route's rules with ones matching checked, which holds
// the blocked checkbox of every row in endpoint order. With the
// representative checked and all_check set, the whole route is blocked.
func (w *Writer) SetRule(ctx context.Context, r *route.Route, checked []bool) error {
	return w.apply(ctx, r, checked, r.AllCheck())
}

func (w *Writer) apply(ctx context.Context, r *route.Route, checked []bool, allCheck bool) error {
	mu := w.lock(r.Name)
	mu.Lock()
	defer mu.Unlock()

	w.remove(ctx, r.Name)

	targets := targetAddresses(r, checked, allCheck)
	if len(targets) == 0 {
		log.Debug("route unblocked", "route", r.Name)
		return nil
	}

	ports := w.Ports
	if ports == "" {
		ports = DefaultPorts
	}
	for _, p := range Protocols {
		rule := Rule{
			Name:            RuleName(w.Namespace, p, r.Name),
			Protocol:        p,
			RemoteAddresses: targets,
			Direction:       Outbound,
			Action:          Block,
			Enabled:         true,
		}
		if p != ICMP {
			rule.RemotePorts = ports
		}
		if err := w.Store.Add(ctx, rule); err != nil {
			return fmt.Errorf("add %s: %w", rule.Name, err)
		}
	}
	log.Info("route blocked", "route", r.Name, "addresses", len(targets))
	return nil
}

// remove drops the route's three rules. Failures are logged and the
// remaining names are still attempted.
func (w *Writer) remove(ctx context.Context, name string) error {
	var errs []error
	for _, rn := range RuleNames(w.Namespace, name) {
		if err := w.Store.Remove(ctx, rn); err != nil {
			log.Warn("remove rule failed", "rule", rn, "err", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", rn, err))
		}
	}
	return errors.Join(errs...)
}

func targetAddresses(r *route.Route, checked []bool, allCheck bool) []string {
	var out []string
	for i, ep := range r.Endpoints {
		if i >= len(checked) || !checked[i] {
			continue
		}
		if i == 0 && allCheck {
			return r.Addresses()
		}
		out = append(out, ep.Addr)
	}
	return out
}

// SetAll blocks (on) or unblocks (off) every route concurrently. Turning
// on installs whole-route rules; turning off removes the three rules of
// each route without re-evaluating row state.
func (w *Writer) SetAll(ctx context.Context, routes []*route.Route, on bool) error {
	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	for _, r := range routes {
		g.Go(func() error {
			var err error
			if on {
				all := make([]bool, len(r.Endpoints))
				for i := range all {
					all[i] = true
				}
				err = w.apply(ctx, r, all, true)
			} else {
				lk := w.lock(r.Name)
				lk.Lock()
				err = w.remove(ctx, r.Name)
				lk.Unlock()
			}
			if err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ClearNamespace removes every rule whose name carries "<ns>-", regardless
// of route, and returns how many distinct names were removed.
func (w *Writer) ClearNamespace(ctx context.Context, ns string) (int, error) {
	rules, err := w.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rules: %w", err)
	}

	seen := make(map[string]bool)
	var errs []error
	removed := 0
	for _, r := range rules {
		if !InNamespace(ns, r.Name) || seen[r.Name] {
			continue
		}
		seen[r.Name] = true
		if err := w.Store.Remove(ctx, r.Name); err != nil {
			log.Warn("clear: remove failed", "rule", r.Name, "err", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", r.Name, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info("cleared rules", "namespace", ns, "removed", removed)
	}
	return removed, errors.Join(errs...)
}
