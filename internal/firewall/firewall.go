// Package firewall implements policy.Store on top of the host packet filter.
package firewall

import (
	"fmt"
	"runtime"
	"strings"

	"steamroutetool/internal/execx"
	"steamroutetool/internal/policy"
)

// Open returns the store for a backend name: auto, iptables, netsh or memory.
// auto picks netsh on Windows and iptables elsewhere.
func Open(kind string, r execx.Runner, chain string) (policy.Store, error) {
	switch strings.ToLower(kind) {
	case "", "auto":
		if runtime.GOOS == "windows" {
			return NewNetsh(r), nil
		}
		return NewIPTables(r, chain), nil
	case "iptables":
		return NewIPTables(r, chain), nil
	case "netsh":
		return NewNetsh(r), nil
	case "memory":
		return policy.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", kind)
	}
}

// fields splits a command line into words, honouring double quotes.
func fields(line string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote bool
		word  bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && quote && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			quote = !quote
			word = true
		case (c == ' ' || c == '\t') && !quote:
			if word {
				out = append(out, cur.String())
				cur.Reset()
				word = false
			}
		default:
			cur.WriteByte(c)
			word = true
		}
	}
	if word {
		out = append(out, cur.String())
	}
	return out
}
