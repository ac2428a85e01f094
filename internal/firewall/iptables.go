package firewall

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"steamroutetool/internal/addrutil"
	"steamroutetool/internal/execx"
	"steamroutetool/internal/policy"
)

// DefaultChain holds every rule the tool installs; OUTPUT jumps to it.
const DefaultChain = "STEAMROUTETOOL"

// IPTables stores rules in a dedicated iptables chain. The rule name rides
// in a comment match, and a rule with several addresses becomes one
// iptables entry per address.
type IPTables struct {
	r     execx.Runner
	chain string

	mu    sync.Mutex
	ready bool
}

func NewIPTables(r execx.Runner, chain string) *IPTables {
	if r == nil {
		r = execx.NewOSRunner(os.Stderr)
	}
	if chain == "" {
		chain = DefaultChain
	}
	return &IPTables{r: r, chain: chain}
}

func (t *IPTables) Chain() string { return t.chain }

// List returns the chain's rules grouped back by name, in chain order.
func (t *IPTables) List(ctx context.Context) ([]policy.Rule, error) {
	out, err := t.r.Output(ctx, "iptables", "-S", t.chain)
	if err != nil {
		if missingChain(err) {
			return nil, nil
		}
		return nil, err
	}

	var rules []policy.Rule
	index := make(map[string]int)
	for _, line := range strings.Split(out, "\n") {
		rule, ok := parseIPTablesRule(t.chain, line)
		if !ok {
			continue
		}
		if i, seen := index[rule.Name]; seen && sameShape(rules[i], rule) {
			rules[i].RemoteAddresses = append(rules[i].RemoteAddresses, rule.RemoteAddresses...)
			continue
		}
		index[rule.Name] = len(rules)
		rules = append(rules, rule)
	}
	return rules, nil
}

func (t *IPTables) Add(ctx context.Context, r policy.Rule) error {
	if r.Direction != "" && r.Direction != policy.Outbound {
		return fmt.Errorf("iptables: %s: only outbound rules are supported", r.Name)
	}
	if !r.Enabled {
		log.Debug("iptables: skipping disabled rule", "rule", r.Name)
		return nil
	}
	if len(r.RemoteAddresses) == 0 {
		return fmt.Errorf("iptables: %s: no remote addresses", r.Name)
	}
	if err := t.ensureChain(ctx); err != nil {
		return err
	}
	for _, addr := range r.RemoteAddresses {
		args, err := ruleArgs(t.chain, r, addr)
		if err != nil {
			return err
		}
		if err := t.r.Run(ctx, "iptables", args...); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes every chain entry carrying the name.
func (t *IPTables) Remove(ctx context.Context, name string) error {
	out, err := t.r.Output(ctx, "iptables", "-S", t.chain)
	if err != nil {
		if missingChain(err) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		args := fields(strings.TrimSpace(line))
		if len(args) < 2 || args[0] != "-A" || args[1] != t.chain || commentOf(args) != name {
			continue
		}
		args[0] = "-D"
		if err := t.r.Run(ctx, "iptables", args...); err != nil {
			return err
		}
	}
	return nil
}

func (t *IPTables) ensureChain(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ready {
		return nil
	}
	if err := t.r.Run(ctx, "iptables", "-N", t.chain); err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	if err := t.r.Run(ctx, "iptables", "-C", "OUTPUT", "-j", t.chain); err != nil {
		if err := t.r.Run(ctx, "iptables", "-I", "OUTPUT", "-j", t.chain); err != nil {
			return err
		}
	}
	t.ready = true
	return nil
}

func ruleArgs(chain string, r policy.Rule, addr string) ([]string, error) {
	ip, ok := addrutil.ParseIPv4(addrutil.StripMask(addr))
	if !ok {
		return nil, fmt.Errorf("iptables: %s: invalid address %q", r.Name, addr)
	}
	args := []string{"-A", chain, "-d", ip + "/32"}
	switch r.Protocol {
	case policy.TCP, policy.UDP:
		proto := strings.ToLower(string(r.Protocol))
		args = append(args, "-p", proto)
		if r.RemotePorts != "" {
			args = append(args, "-m", proto, "--dport", strings.Replace(r.RemotePorts, "-", ":", 1))
		}
	case policy.ICMP:
		args = append(args, "-p", "icmp")
	default:
		return nil, fmt.Errorf("iptables: %s: unsupported protocol %q", r.Name, r.Protocol)
	}
	target := "DROP"
	if r.Action == policy.Allow {
		target = "ACCEPT"
	}
	return append(args, "-m", "comment", "--comment", r.Name, "-j", target), nil
}

// parseIPTablesRule reads one "iptables -S" line of the chain.
func parseIPTablesRule(chain, line string) (policy.Rule, bool) {
	args := fields(strings.TrimSpace(line))
	if len(args) < 2 || args[0] != "-A" || args[1] != chain {
		return policy.Rule{}, false
	}
	rule := policy.Rule{Direction: policy.Outbound, Enabled: true}
	for i := 2; i < len(args); i++ {
		next := ""
		if i+1 < len(args) {
			next = args[i+1]
		}
		switch args[i] {
		case "-d":
			rule.RemoteAddresses = append(rule.RemoteAddresses, addrutil.StripMask(next))
			i++
		case "-p":
			rule.Protocol = policy.Protocol(strings.ToUpper(next))
			i++
		case "--dport":
			rule.RemotePorts = strings.Replace(next, ":", "-", 1)
			i++
		case "--comment":
			rule.Name = next
			i++
		case "-j":
			rule.Action = policy.Block
			if next == "ACCEPT" {
				rule.Action = policy.Allow
			}
			i++
		}
	}
	if rule.Name == "" {
		return policy.Rule{}, false
	}
	return rule, true
}

func commentOf(args []string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "--comment" {
			return args[i+1]
		}
	}
	return ""
}

func sameShape(a, b policy.Rule) bool {
	return a.Protocol == b.Protocol && a.RemotePorts == b.RemotePorts && a.Action == b.Action
}

func missingChain(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No chain/target/match") || strings.Contains(msg, "does not exist")
}
