package firewall

import (
	"context"
	"fmt"
	"os"
	"strings"

	"steamroutetool/internal/addrutil"
	"steamroutetool/internal/execx"
	"steamroutetool/internal/policy"
)

const noRulesMatch = "No rules match"

// Netsh stores rules in Windows Firewall through "netsh advfirewall".
// The show output is parsed in its English form.
type Netsh struct {
	r execx.Runner
}

func NewNetsh(r execx.Runner) *Netsh {
	if r == nil {
		r = execx.NewOSRunner(os.Stderr)
	}
	return &Netsh{r: r}
}

func (n *Netsh) List(ctx context.Context) ([]policy.Rule, error) {
	out, err := n.r.Output(ctx, "netsh", "advfirewall", "firewall", "show", "rule", "name=all")
	if err != nil {
		if strings.Contains(out, noRulesMatch) {
			return nil, nil
		}
		return nil, err
	}
	return parseNetshRules(out), nil
}

func (n *Netsh) Add(ctx context.Context, r policy.Rule) error {
	if len(r.RemoteAddresses) == 0 {
		return fmt.Errorf("netsh: %s: no remote addresses", r.Name)
	}
	dir := "out"
	if r.Direction == policy.Inbound {
		dir = "in"
	}
	action := "block"
	if r.Action == policy.Allow {
		action = "allow"
	}
	enable := "yes"
	if !r.Enabled {
		enable = "no"
	}

	args := []string{"advfirewall", "firewall", "add", "rule",
		"name=" + r.Name,
		"dir=" + dir,
		"action=" + action,
		"enable=" + enable,
		"remoteip=" + strings.Join(r.RemoteAddresses, ","),
	}
	switch r.Protocol {
	case policy.TCP, policy.UDP:
		args = append(args, "protocol="+string(r.Protocol))
		if r.RemotePorts != "" {
			args = append(args, "remoteport="+r.RemotePorts)
		}
	case policy.ICMP:
		args = append(args, "protocol=icmpv4")
	default:
		return fmt.Errorf("netsh: %s: unsupported protocol %q", r.Name, r.Protocol)
	}
	return n.r.Run(ctx, "netsh", args...)
}

// Remove deletes every rule with the name. A missing rule is not an error.
func (n *Netsh) Remove(ctx context.Context, name string) error {
	out, err := n.r.Output(ctx, "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	if err != nil && !strings.Contains(out, noRulesMatch) {
		return err
	}
	return nil
}

// parseNetshRules reads "show rule" blocks. Each block starts with a
// "Rule Name:" line followed by "Key: value" lines.
func parseNetshRules(out string) []policy.Rule {
	var (
		rules []policy.Rule
		cur   *policy.Rule
	)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if key == "Rule Name" {
			rules = append(rules, policy.Rule{Name: value})
			cur = &rules[len(rules)-1]
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "Enabled":
			cur.Enabled = strings.EqualFold(value, "yes")
		case "Direction":
			cur.Direction = policy.Outbound
			if strings.EqualFold(value, "in") {
				cur.Direction = policy.Inbound
			}
		case "RemoteIP":
			cur.RemoteAddresses = addrutil.SplitList(value)
		case "Protocol":
			switch up := strings.ToUpper(value); {
			case strings.HasPrefix(up, "ICMP"):
				cur.Protocol = policy.ICMP
			default:
				cur.Protocol = policy.Protocol(up)
			}
		case "RemotePort":
			if !strings.EqualFold(value, "any") {
				cur.RemotePorts = value
			}
		case "Action":
			cur.Action = policy.Block
			if strings.EqualFold(value, "allow") {
				cur.Action = policy.Allow
			}
		}
	}
	return rules
}
