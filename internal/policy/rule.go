// Package policy keeps outbound block rules in a packet filter in step with
// the route registry: Synchronizer reads enforced rules back into row state,
// Writer turns row state into rules.
package policy

import (
	"context"
	"errors"
	"strings"
)

// ErrNoRoute is returned when an operation names a route the registry lacks.
var ErrNoRoute = errors.New("unknown route")

type Protocol string

const (
	TCP  Protocol = "TCP"
	UDP  Protocol = "UDP"
	ICMP Protocol = "ICMP"
)

// Protocols lists the three rule kinds installed per route, in install order.
var Protocols = []Protocol{UDP, TCP, ICMP}

type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

type Action string

const (
	Block Action = "block"
	Allow Action = "allow"
)

// Rule is a packet filter rule as the store reports and accepts it.
type Rule struct {
	Name            string
	Protocol        Protocol
	RemoteAddresses []string
	// RemotePorts is "lo-hi" or empty for any port.
	RemotePorts string
	Direction   Direction
	Action      Action
	Enabled     bool
}

// Store is a packet filter rule database. Remove of a missing name is not
// an error; Remove deletes every rule carrying the name.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	Add(ctx context.Context, r Rule) error
	Remove(ctx context.Context, name string) error
}

// RuleName builds "<ns>-<PROTO>-<route>".
func RuleName(ns string, p Protocol, route string) string {
	return ns + "-" + string(p) + "-" + route
}

// RuleNames returns the three identifiers owned by a route.
func RuleNames(ns, route string) []string {
	out := make([]string, 0, len(Protocols))
	for _, p := range Protocols {
		out = append(out, RuleName(ns, p, route))
	}
	return out
}

// InNamespace reports whether a rule name carries "<ns>-" anywhere.
func InNamespace(ns, name string) bool {
	return strings.Contains(name, ns+"-")
}

// ParseRuleName extracts the protocol tag and route name from a namespaced
// rule name. The route is everything after the protocol tag, so route names
// may themselves contain dashes.
func ParseRuleName(ns, name string) (tag, route string, ok bool) {
	i := strings.Index(name, ns+"-")
	if i < 0 {
		return "", "", false
	}
	rest := name[i+len(ns)+1:]
	tag, route, ok = strings.Cut(rest, "-")
	if !ok || tag == "" || route == "" {
		return "", "", false
	}
	return tag, route, true
}
